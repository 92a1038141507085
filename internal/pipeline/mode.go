package pipeline

import (
	"fmt"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// StepInfo describes a catalogue step independently of how it runs.
type StepInfo struct {
	ID        domain.StepID
	Name      string
	Reasoning string
	Tools     []string
}

// Catalogue lists every analysis step in execution order.
var Catalogue = []StepInfo{
	{
		ID:        domain.StepContextRetrieval,
		Name:      "Context Retriever",
		Reasoning: "Searching indexed issues and PRs to find duplicates, similar discussions and relevant code owners using semantic search.",
		Tools:     []string{"find_similar_issues", "check_for_duplicates", "find_code_owners", "search_repository"},
	},
	{
		ID:        domain.StepArchitectureReview,
		Name:      "Architecture Critic",
		Reasoning: "Reviewing the code diff against coding standards: anti-patterns, error handling, thread safety and API conventions.",
		Tools:     []string{"search_coding_standards", "analyze_diff_patterns", "check_api_conventions"},
	},
	{
		ID:        domain.StepImpactAssessment,
		Name:      "Impact Quantifier",
		Reasoning: "Analyzing performance impact by cross-referencing changed files with benchmark data and historical regressions.",
		Tools:     []string{"query_benchmark_data", "search_performance_history", "analyze_hotpath_impact"},
	},
	{
		ID:        domain.StepConflictResolution,
		Name:      "Conflict Resolver",
		Reasoning: "Checking for reviewer disagreements and applying resolution patterns from past conflicts.",
		Tools:     []string{"find_reviewer_conflicts", "search_resolution_examples", "analyze_review_sentiment"},
	},
}

// SkippedResult is the result text of steps a mode does not run.
const SkippedResult = "Skipped: not applicable for this mode."

func skippedResultFor(skipped bool) string {
	if skipped {
		return SkippedResult
	}
	return ""
}

// StepByID looks up a catalogue entry.
func StepByID(id domain.StepID) (StepInfo, bool) {
	for _, s := range Catalogue {
		if s.ID == id {
			return s, true
		}
	}
	return StepInfo{}, false
}

// Plan is the fixed behavior of one mode: the steps it runs and how its
// final report is composed.
type Plan struct {
	Mode    domain.Mode
	Steps   []domain.StepID
	compose func(number int, outputs map[domain.StepID]string, steps []domain.StepResult) Report
}

// Applies reports whether the plan runs the given step.
func (p Plan) Applies(id domain.StepID) bool {
	for _, s := range p.Steps {
		if s == id {
			return true
		}
	}
	return false
}

// Skipped returns the catalogue steps the plan does not run, in catalogue order.
func (p Plan) Skipped() []StepInfo {
	var out []StepInfo
	for _, s := range Catalogue {
		if !p.Applies(s.ID) {
			out = append(out, s)
		}
	}
	return out
}

var plans = map[domain.Mode]Plan{
	domain.ModeIssue: {
		Mode:    domain.ModeIssue,
		Steps:   []domain.StepID{domain.StepContextRetrieval},
		compose: composeTriageReport,
	},
	domain.ModePR: {
		Mode:    domain.ModePR,
		Steps:   []domain.StepID{domain.StepContextRetrieval, domain.StepArchitectureReview, domain.StepImpactAssessment},
		compose: composeQualityReport,
	},
	domain.ModeConflict: {
		Mode:    domain.ModeConflict,
		Steps:   []domain.StepID{domain.StepContextRetrieval, domain.StepConflictResolution},
		compose: composeConflictReport,
	},
}

// PlanFor returns the plan of a mode.
func PlanFor(mode domain.Mode) (Plan, error) {
	p, ok := plans[mode]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return p, nil
}
