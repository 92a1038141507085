package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

func TestPipelineRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     PipelineRequest
		wantErr bool
	}{
		{"new run", PipelineRequest{Mode: "pr", Number: 95103}, false},
		{"resume", PipelineRequest{RunID: "abc"}, false},
		{"resume with cursor", PipelineRequest{RunID: "abc", After: 12}, false},
		{"empty", PipelineRequest{}, true},
		{"mode without number", PipelineRequest{Mode: "issue"}, true},
		{"unknown mode", PipelineRequest{Mode: "deploy", Number: 1}, true},
		{"negative number", PipelineRequest{Mode: "pr", Number: -1}, true},
		{"negative cursor", PipelineRequest{RunID: "abc", After: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunAckWireShape(t *testing.T) {
	data, err := json.Marshal(NewRunAck(domain.Run{
		RunID:  "r1",
		Mode:   domain.ModeIssue,
		Number: 500,
		Status: domain.RunStatusPending,
	}))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run_id", got["type"])
	assert.Equal(t, "r1", got["run_id"])
	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, "issue", got["mode"])
	assert.EqualValues(t, 500, got["number"])
}

func TestNotFoundAck(t *testing.T) {
	ack := NewNotFoundAck("gone")
	assert.Equal(t, TypeRunID, ack.Type)
	assert.Equal(t, "gone", ack.RunID)
	assert.Equal(t, domain.RunStatusNotFound, ack.Status)
}
