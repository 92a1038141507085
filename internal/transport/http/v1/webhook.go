package v1

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/protocol"
)

const maxWebhookBody = 5 << 20

type webhookPayload struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Issue *struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
	} `json:"issue"`
	PullRequest *struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`
}

// verifySignature checks an X-Hub-Signature-256 header against the body.
func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// triggerFor maps a host event to the run it should start.
func triggerFor(event string, p *webhookPayload) (domain.Mode, int, bool) {
	switch event {
	case "issues":
		if p.Action == "opened" && p.Issue != nil {
			return domain.ModeIssue, p.Issue.Number, true
		}
	case "pull_request":
		if (p.Action == "opened" || p.Action == "synchronize") && p.PullRequest != nil {
			return domain.ModePR, p.PullRequest.Number, true
		}
	case "pull_request_review":
		if p.Action == "submitted" && p.PullRequest != nil {
			return domain.ModeConflict, p.PullRequest.Number, true
		}
	case "pull_request_review_comment":
		if p.Action == "created" && p.PullRequest != nil {
			return domain.ModeConflict, p.PullRequest.Number, true
		}
	}
	return "", 0, false
}

// Webhook receives source-control host events and starts matching runs.
// Redelivered events (same X-GitHub-Delivery) are acknowledged without
// starting another run.
// POST /webhook
func (h *Handler) Webhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}
	if h.webhookSecret != "" && !verifySignature(h.webhookSecret, body, c.Request().Header.Get("X-Hub-Signature-256")) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
	}

	event := c.Request().Header.Get("X-GitHub-Event")
	delivery := c.Request().Header.Get("X-GitHub-Delivery")
	deliveryKey := "webhook_delivery:" + delivery

	if delivery != "" {
		if runID, seen, err := h.store.GetSyncState(ctx, deliveryKey); err != nil {
			log.Printf("WARN: delivery lookup for %s failed: %v", delivery, err)
		} else if seen {
			return c.JSON(http.StatusOK, map[string]string{"status": "duplicate", "run_id": runID})
		}
	}

	notice := protocol.ActivityMessage{
		BaseMessage: protocol.NewBase(protocol.TypeWebhookEvent, ""),
		Event:       event,
		Action:      payload.Action,
		Repo:        payload.Repository.FullName,
	}
	switch {
	case event == "issues" && payload.Issue != nil:
		notice.Number = payload.Issue.Number
		notice.Title = payload.Issue.Title
	case payload.PullRequest != nil:
		notice.Number = payload.PullRequest.Number
		notice.Title = payload.PullRequest.Title
		notice.Username = payload.PullRequest.User.Login
	}
	if err := h.hub.BroadcastJSON(notice); err != nil {
		log.Printf("WARN: failed to broadcast webhook event: %v", err)
	}

	mode, number, ok := triggerFor(event, &payload)
	if !ok || number <= 0 {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	run, err := h.controller.Trigger(mode, number)
	if err != nil {
		log.Printf("ERROR: webhook %s/%s failed to start run: %v", event, payload.Action, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start run"})
	}
	log.Printf("INFO: webhook %s/%s started %s run %s for #%d", event, payload.Action, mode, run.RunID, number)

	if delivery != "" {
		if err := h.store.SetSyncState(ctx, deliveryKey, run.RunID); err != nil {
			log.Printf("WARN: failed to record delivery %s: %v", delivery, err)
		}
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "ok", "run_id": run.RunID})
}
