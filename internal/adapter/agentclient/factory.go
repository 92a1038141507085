package agentclient

import (
	"log"
	"strings"
	"time"
)

// ModeMock selects the mock agent (COPILOT_MODE=MOCK).
const ModeMock = "MOCK"

// Agent ids understood by the agent service.
const (
	AgentContextRetriever   = "context_retriever"
	AgentArchitectureCritic = "architecture_critic"
	AgentImpactQuantifier   = "impact_quantifier"
	AgentConflictResolver   = "conflict_resolver"
)

// NewAgent creates an Agent for the configured mode.
// If mode is MOCK (any case), returns a MockClient; otherwise returns a real Client.
func NewAgent(mode, url, apiKey string, timeout time.Duration) Agent {
	if strings.EqualFold(mode, ModeMock) {
		log.Println("COPILOT_MODE=MOCK detected, using mock agent client")
		return NewMockClient(300 * time.Millisecond)
	}
	return NewClient(url, apiKey, timeout)
}
