package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// Engine is the OPA policy engine deciding whether a finished run's report
// is posted back to the source-control host.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the document the policy evaluates.
type Input struct {
	RunID   string `json:"run_id"`
	Mode    string `json:"mode"`
	Number  int    `json:"number"`
	Status  string `json:"status"`
	Success bool   `json:"success"`
	Report  string `json:"report"`
	Repo    string `json:"repo"`
}

// Decision is the policy outcome.
type Decision struct {
	Post   bool
	Reason string
}

// InputFor builds the policy input for a run.
func InputFor(run domain.Run, repo string) Input {
	return Input{
		RunID:   run.RunID,
		Mode:    string(run.Mode),
		Number:  run.Number,
		Status:  string(run.Status),
		Success: run.Success,
		Report:  run.FinalOutput,
		Repo:    repo,
	}
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.report_policy.decision"),
		rego.Module("report_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the publishing policy.
// The policy must produce an object {"post": bool, "reason": string}; an
// undefined result means do not post.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reason: "undefined"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{Reason: "unexpected return type"}, nil
	}
	post, _ := obj["post"].(bool)
	reason, _ := obj["reason"].(string)
	return Decision{Post: post, Reason: reason}, nil
}

// DefaultPolicy posts reports of completed runs: pr and conflict reports
// only when every executed step succeeded, issue reports whenever they
// carry content.
const DefaultPolicy = `
package report_policy

import rego.v1

decision := {"post": post, "reason": reason}

default post := false

post if {
	input.status == "complete"
	input.report != ""
	input.mode == "issue"
}

post if {
	input.status == "complete"
	input.report != ""
	input.mode in {"pr", "conflict"}
	input.success
}

reason := "run did not complete" if {
	input.status != "complete"
} else := "empty report" if {
	input.report == ""
} else := "pipeline reported failures" if {
	input.mode != "issue"
	not input.success
} else := "eligible" if {
	true
}
`
