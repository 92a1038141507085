// Package agents builds the operations behind each pipeline step from the
// agent service and the source-control host.
package agents

import (
	"context"
	"fmt"
	"sync"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/adapter/agentclient"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/adapter/github"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
)

// NoImpactMessage is the impact result when no benchmarked module changed.
const NoImpactMessage = "No performance-sensitive modules found in this PR. No benchmark impact predicted."

// Host is the part of the source-control host the steps read from.
type Host interface {
	GetIssue(ctx context.Context, number int) (*github.Issue, error)
	ListPRFiles(ctx context.Context, number int) ([]string, error)
	ListReviewComments(ctx context.Context, number int) ([]github.Comment, error)
}

// Toolkit implements pipeline.StepProvider.
type Toolkit struct {
	agent        agentclient.Agent
	host         Host
	shareContext bool
}

var _ pipeline.StepProvider = (*Toolkit)(nil)

// New creates a toolkit. With shareContext set, later steps of a run see
// the outputs of earlier ones in their prompts.
func New(agent agentclient.Agent, host Host, shareContext bool) *Toolkit {
	return &Toolkit{agent: agent, host: host, shareContext: shareContext}
}

// Operations returns fresh operations bound to one run.
func (t *Toolkit) Operations(run domain.Run) map[domain.StepID]pipeline.Operation {
	s := &session{Toolkit: t, mode: run.Mode, outputs: make(map[domain.StepID]string)}
	return map[domain.StepID]pipeline.Operation{
		domain.StepContextRetrieval:   s.record(domain.StepContextRetrieval, s.contextRetrieval),
		domain.StepArchitectureReview: s.record(domain.StepArchitectureReview, s.architectureReview),
		domain.StepImpactAssessment:   s.record(domain.StepImpactAssessment, s.impactAssessment),
		domain.StepConflictResolution: s.record(domain.StepConflictResolution, s.conflictResolution),
	}
}

// session carries per-run state shared by the steps of that run.
type session struct {
	*Toolkit
	mode domain.Mode

	mu      sync.Mutex
	outputs map[domain.StepID]string
	issue   *github.Issue
	files   []string
	fetched bool
}

func (s *session) record(id domain.StepID, op pipeline.Operation) pipeline.Operation {
	return func(ctx context.Context, number int, logf pipeline.LogFunc) (string, error) {
		out, err := op(ctx, number, logf)
		if err == nil {
			s.mu.Lock()
			s.outputs[id] = out
			s.mu.Unlock()
		}
		return out, err
	}
}

// prior returns earlier step outputs when context sharing is enabled, each
// clipped to limit runes.
func (s *session) prior(limit int, ids ...domain.StepID) string {
	if !s.shareContext {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, id := range ids {
		text := s.outputs[id]
		if text == "" {
			continue
		}
		info, _ := pipeline.StepByID(id)
		out += fmt.Sprintf("## %s findings:\n%s\n\n", info.Name, clip(text, limit))
	}
	return out
}

// target fetches the issue and changed files once per run.
func (s *session) target(ctx context.Context, number int, logf pipeline.LogFunc) (*github.Issue, []string, error) {
	s.mu.Lock()
	if s.fetched {
		issue, files := s.issue, s.files
		s.mu.Unlock()
		return issue, files, nil
	}
	s.mu.Unlock()

	logf("Fetching #%d from the repository", number)
	issue, err := s.host.GetIssue(ctx, number)
	if err != nil {
		return nil, nil, err
	}
	var files []string
	if s.mode != domain.ModeIssue {
		files, err = s.host.ListPRFiles(ctx, number)
		if err != nil {
			return nil, nil, err
		}
		logf("Files changed: %d", len(files))
	}

	s.mu.Lock()
	s.issue, s.files, s.fetched = issue, files, true
	s.mu.Unlock()
	return issue, files, nil
}

func (s *session) contextRetrieval(ctx context.Context, number int, logf pipeline.LogFunc) (string, error) {
	issue, files, err := s.target(ctx, number, logf)
	if err != nil {
		return "", err
	}
	logf("Sending #%d to the Context Retriever agent", number)
	return s.agent.Converse(ctx, agentclient.AgentContextRetriever, triagePrompt(issue, files))
}

func (s *session) architectureReview(ctx context.Context, number int, logf pipeline.LogFunc) (string, error) {
	issue, files, err := s.target(ctx, number, logf)
	if err != nil {
		return "", err
	}
	prior := s.prior(2000, domain.StepContextRetrieval)
	logf("Reviewing %d changed files against coding standards", len(files))
	return s.agent.Converse(ctx, agentclient.AgentArchitectureCritic, reviewPrompt(issue, files, prior))
}

func (s *session) impactAssessment(ctx context.Context, number int, logf pipeline.LogFunc) (string, error) {
	_, files, err := s.target(ctx, number, logf)
	if err != nil {
		return "", err
	}
	modules := AffectedModules(files)
	if len(modules) == 0 {
		logf(NoImpactMessage)
		return NoImpactMessage, nil
	}
	for _, m := range modules {
		logf("Module: %s", m)
	}
	prior := s.prior(800, domain.StepContextRetrieval, domain.StepArchitectureReview)
	return s.agent.Converse(ctx, agentclient.AgentImpactQuantifier, impactPrompt(number, files, modules, prior))
}

func (s *session) conflictResolution(ctx context.Context, number int, logf pipeline.LogFunc) (string, error) {
	logf("Fetching reviewer comments for PR #%d", number)
	comments, err := s.host.ListReviewComments(ctx, number)
	if err != nil {
		return "", err
	}
	conflicts := DetectConflicts(comments)
	if len(conflicts) == 0 {
		logf(pipeline.NoConflictMessage)
		return pipeline.NoConflictMessage, nil
	}
	for _, c := range conflicts {
		logf("Conflict on %s: @%s vs @%s", c.Topic, c.ReviewerA, c.ReviewerB)
	}
	prior := s.prior(2000, domain.StepContextRetrieval)
	return s.agent.Converse(ctx, agentclient.AgentConflictResolver, conflictPrompt(number, conflicts, prior))
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
