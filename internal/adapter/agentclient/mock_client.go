package agentclient

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a canned Agent for demos and tests.
type MockClient struct {
	delay time.Duration
}

// NewMockClient creates a mock agent that answers after delay.
func NewMockClient(delay time.Duration) *MockClient {
	return &MockClient{delay: delay}
}

// Ensure MockClient implements Agent interface.
var _ Agent = (*MockClient)(nil)

// Converse returns a deterministic answer derived from the prompt.
func (m *MockClient) Converse(ctx context.Context, agentID, prompt string) (string, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}

	headline := firstLine(prompt)
	switch agentID {
	case AgentContextRetriever:
		return fmt.Sprintf("### Triage summary\n\n%s\n\n- No duplicates found.\n- Related: none above threshold.\n- Owners: unresolved (mock).", headline), nil
	case AgentArchitectureCritic:
		return fmt.Sprintf("### Architecture review\n\n%s\n\n- No anti-patterns detected (mock).", headline), nil
	case AgentImpactQuantifier:
		return fmt.Sprintf("### Impact assessment\n\n%s\n\n- Risk: LOW (mock).", headline), nil
	case AgentConflictResolver:
		return fmt.Sprintf("### Conflict resolution\n\n%s\n\n| Conflict | Recommended Approach | Confidence |\n|---|---|---|\n| mock | follow precedent | low |", headline), nil
	}
	return fmt.Sprintf("[mock %s] %s", agentID, headline), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
