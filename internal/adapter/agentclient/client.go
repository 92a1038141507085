// Package agentclient provides an HTTP client for the natural-language agent service.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Agent answers prompts on behalf of a named agent.
type Agent interface {
	Converse(ctx context.Context, agentID, prompt string) (string, error)
}

// ConverseRequest is the body posted to the agent endpoint.
type ConverseRequest struct {
	Input   string `json:"input"`
	AgentID string `json:"agent_id,omitempty"`
}

// Client is an HTTP client for the agent converse endpoint.
type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
}

// Ensure Client implements Agent interface.
var _ Agent = (*Client)(nil)

// NewClient creates a new agent client.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		apiKey:     apiKey,
	}
}

// Converse posts a prompt and returns the agent's message.
func (c *Client) Converse(ctx context.Context, agentID, prompt string) (string, error) {
	body, err := json.Marshal(ConverseRequest{Input: prompt, AgentID: agentID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("kbn-xsrf", "true")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "ApiKey "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call agent: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("agent returned status %d: %s", resp.StatusCode, truncateBody(respBody, 500))
	}

	return ExtractMessage(respBody)
}

// ExtractMessage pulls the answer out of a converse response. The message
// lives at response.message, or response when it is a plain string, or at
// the top-level message field.
func ExtractMessage(body []byte) (string, error) {
	var envelope struct {
		Response json.RawMessage `json:"response"`
		Message  *string         `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("failed to decode agent response: %w", err)
	}

	if len(envelope.Response) > 0 && string(envelope.Response) != "null" {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Response, &nested); err == nil {
			return nested.Message, nil
		}
		var text string
		if err := json.Unmarshal(envelope.Response, &text); err == nil {
			return text, nil
		}
	}
	if envelope.Message != nil {
		return *envelope.Message, nil
	}
	return string(body), nil
}

func truncateBody(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
