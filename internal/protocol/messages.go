// Package protocol defines the WebSocket message protocol between observers
// and the pipeline server.
package protocol

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// Message types from server to observer. Run events are sent as-is and
// carry their own event type.
const (
	TypeRunID    = "run_id"
	TypeRunError = "run_error"
	TypeError    = "error"
)

// Activity feed message types.
const (
	TypeWebhookEvent     = "webhook_event"
	TypePipelineStart    = "pipeline_start"
	TypePipelineComplete = "pipeline_complete"
	TypePipelineError    = "pipeline_error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	RunID string `json:"run_id,omitempty"`
}

// NewBase stamps a message header with the current time.
func NewBase(msgType, runID string) BaseMessage {
	return BaseMessage{Type: msgType, Ts: time.Now().UnixMilli(), RunID: runID}
}

// PipelineRequest is the first frame an observer sends. Either mode and
// number start a new run, or run_id resumes an existing one. After is the
// first event sequence the observer still needs.
type PipelineRequest struct {
	Mode   string `json:"mode" validate:"omitempty,oneof=issue pr conflict"`
	Number int    `json:"number" validate:"gte=0"`
	RunID  string `json:"run_id,omitempty" validate:"omitempty,max=64"`
	After  int    `json:"after,omitempty" validate:"gte=0"`
}

// ErrMissingTarget is returned for a request naming neither a run nor a
// mode and number.
var ErrMissingTarget = errors.New("either run_id or mode and number are required")

var validate = validator.New()

// Validate checks the request fields.
func (r *PipelineRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.RunID == "" && (r.Mode == "" || r.Number == 0) {
		return ErrMissingTarget
	}
	return nil
}

// RunAck acknowledges an observer request with the resolved run.
type RunAck struct {
	BaseMessage
	Status domain.RunStatus `json:"status"`
	Mode   domain.Mode      `json:"mode,omitempty"`
	Number int              `json:"number,omitempty"`
}

// NewRunAck builds the acknowledgement for a resolved run.
func NewRunAck(run domain.Run) RunAck {
	return RunAck{
		BaseMessage: NewBase(TypeRunID, run.RunID),
		Status:      run.Status,
		Mode:        run.Mode,
		Number:      run.Number,
	}
}

// NewNotFoundAck builds the acknowledgement for an unknown run id.
func NewNotFoundAck(runID string) RunAck {
	return RunAck{
		BaseMessage: NewBase(TypeRunID, runID),
		Status:      domain.RunStatusNotFound,
	}
}

// RunErrorMessage is the last frame of a run that ended in error.
type RunErrorMessage struct {
	BaseMessage
	Error string `json:"error"`
}

// ErrorMessage is sent when an observer request cannot be served.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInternalError  = "internal_error"
)

// ActivityMessage is broadcast to every activity feed subscriber.
type ActivityMessage struct {
	BaseMessage
	Event    string           `json:"event,omitempty"`
	Action   string           `json:"action,omitempty"`
	Repo     string           `json:"repo,omitempty"`
	Title    string           `json:"title,omitempty"`
	Username string           `json:"username,omitempty"`
	Mode     domain.Mode      `json:"mode,omitempty"`
	Number   int              `json:"number,omitempty"`
	Status   domain.RunStatus `json:"status,omitempty"`
	Success  *bool            `json:"success,omitempty"`
	Error    string           `json:"error,omitempty"`
}
