package pipeline

import (
	"fmt"
	"strings"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// NoConflictMessage is the conflict report when reviewers agree.
const NoConflictMessage = "No reviewer conflicts detected in this PR. Consensus maintained."

// Report is the human-facing output of a completed run.
type Report struct {
	Title   string
	Content string
}

func composeTriageReport(number int, outputs map[domain.StepID]string, steps []domain.StepResult) Report {
	var content string
	for _, s := range steps {
		if s.Agent == domain.StepContextRetrieval && s.Success {
			content = s.Summary
		}
	}
	return Report{
		Title:   fmt.Sprintf("Triage Report for Issue #%d", number),
		Content: content,
	}
}

func composeQualityReport(number int, outputs map[domain.StepID]string, _ []domain.StepResult) Report {
	arch := strings.TrimSpace(outputs[domain.StepArchitectureReview])
	impact := strings.TrimSpace(outputs[domain.StepImpactAssessment])
	if arch == "" && impact == "" {
		return Report{Title: fmt.Sprintf("GitHub Comment Preview for PR #%d", number)}
	}
	if arch == "" {
		arch = "_No architecture findings._"
	}
	if impact == "" {
		impact = "_No performance impact detected._"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Contributor Co-pilot Quality Report for PR #%d\n\n", number)
	b.WriteString("### Architecture Review\n\n")
	b.WriteString(arch)
	b.WriteString("\n\n### Performance Impact\n\n")
	b.WriteString(impact)
	b.WriteString("\n\n---\n*Generated automatically by the contributor co-pilot.*\n")

	return Report{
		Title:   fmt.Sprintf("GitHub Comment Preview for PR #%d", number),
		Content: b.String(),
	}
}

func composeConflictReport(number int, outputs map[domain.StepID]string, _ []domain.StepResult) Report {
	content := strings.TrimSpace(outputs[domain.StepConflictResolution])
	if content == "" {
		content = NoConflictMessage
	}
	return Report{
		Title:   fmt.Sprintf("Conflict Resolution Comment Preview for PR #%d", number),
		Content: content,
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
