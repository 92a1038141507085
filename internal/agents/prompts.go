package agents

import (
	"fmt"
	"strings"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/adapter/github"
)

func describeItem(issue *github.Issue, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New GitHub Item #%d\n\n", issue.Number)
	fmt.Fprintf(&b, "Title:\n%s\n\n", issue.Title)
	body := issue.Body
	if body == "" {
		body = "No description provided."
	}
	fmt.Fprintf(&b, "Body:\n%s\n\n", body)
	fmt.Fprintf(&b, "Author: %s\n", issue.User.Login)
	fmt.Fprintf(&b, "State: %s\n", issue.State)

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	if len(labels) == 0 {
		fmt.Fprintf(&b, "Labels: None\n")
	} else {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(labels, ", "))
	}
	fmt.Fprintf(&b, "URL: %s\n", issue.HTMLURL)

	if len(files) > 0 {
		b.WriteString("\nFiles changed:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func triagePrompt(issue *github.Issue, files []string) string {
	return strings.TrimSpace(describeItem(issue, files) + `
Please perform repository triage using these SPECIFIC tools:

1. Use the ` + "`find_similar_issues`" + ` tool to search for semantically similar GitHub issues and PRs related to this item's title and description.
2. Use the ` + "`check_for_duplicates`" + ` tool to check if a duplicate open issue already exists with a similar title.
3. Use the ` + "`find_code_owners`" + ` tool to look up the code owners for the changed file paths listed above.
4. Use the ` + "`search_repository`" + ` tool to search for any related discussions or context.

Return a concise, structured maintainer-ready summary with:
- Overview of the issue/PR
- Duplicate check results (with issue numbers and links)
- Related issues/PRs found (with scores and links)
- Code ownership validation
- Recommended actions
`)
}

func withPrior(prior, guidance string) string {
	if prior == "" {
		return ""
	}
	return "---\nContext from Prior Agent Analysis:\n" + prior + "\n" + guidance + "\n---\n\n"
}

func reviewPrompt(issue *github.Issue, files []string, prior string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Architecture Review for PR #%d\n\n", issue.Number)
	b.WriteString(withPrior(prior, "Use the above context to focus the review on the areas most likely to matter."))
	b.WriteString(describeItem(issue, files))
	b.WriteString(`
Using the coding standards and architecture tools available to you:
1. Check each changed file against the project coding standards
2. Flag architectural violations with file and line references
3. Note missing tests or documentation
4. Return a structured review with severity for each finding
`)
	return strings.TrimSpace(b.String())
}

func impactPrompt(number int, files, modules []string, prior string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Performance Impact Assessment for PR #%d\n\n", number)
	fmt.Fprintf(&b, "Changed Files: %d\n", len(files))
	fmt.Fprintf(&b, "Modules Affected: %d\n\n", len(modules))
	b.WriteString(withPrior(clip(prior, 2000), `Use the above context to enrich your assessment. If architectural violations
were flagged, factor them into the risk level. If similar past issues caused
regressions, highlight the correlation.`))
	for _, m := range modules {
		fmt.Fprintf(&b, "Module: %s\n", m)
	}
	b.WriteString(`
Using the benchmark tools available to you:
1. Query the 30-day baseline for each affected module
2. Identify which metrics are most at risk based on what changed
3. Check for similar past regressions
4. Return a structured impact report with risk level and recommended actions
`)
	return strings.TrimSpace(b.String())
}

func conflictPrompt(number int, conflicts []Conflict, prior string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conflict Resolution Request for PR #%d\n\n", number)
	fmt.Fprintf(&b, "%d conflict(s) detected between reviewers.\n\n", len(conflicts))
	b.WriteString(withPrior(prior, "Use the above context when weighing each viewpoint."))
	for i, c := range conflicts {
		fmt.Fprintf(&b, "---\nConflict %d: %s\n\n", i+1, strings.ToUpper(c.Topic))
		fmt.Fprintf(&b, "Reviewer @%s says:\n%q\nSource: %s\n\n", c.ReviewerA, c.CommentA, c.URLA)
		fmt.Fprintf(&b, "Reviewer @%s says:\n%q\nSource: %s\n\n", c.ReviewerB, c.CommentB, c.URLB)
	}
	b.WriteString(`
For each conflict:
1. Search past resolutions for how this topic was previously decided
2. Find any relevant coding standards that apply
3. Present both viewpoints clearly
4. Cite the historical precedent with PR URL and who decided it
5. Give a concrete recommended resolution

Format each conflict resolution clearly with headers.
End with a summary table: Conflict | Recommended Approach | Confidence
`)
	return strings.TrimSpace(b.String())
}
