// Package publish posts final reports of finished runs back to the
// source-control host when the publishing policy allows it.
package publish

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/pipeline"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/policy"
)

// Commenter posts a comment to an issue or pull request.
type Commenter interface {
	PostComment(ctx context.Context, number int, body string) error
}

// Ledger remembers which runs were already published.
type Ledger interface {
	GetSyncState(ctx context.Context, key string) (string, bool, error)
	SetSyncState(ctx context.Context, key, value string) error
}

// Evaluator decides whether a report may be posted.
type Evaluator interface {
	Evaluate(ctx context.Context, input policy.Input) (policy.Decision, error)
}

// Publisher is a pipeline hook. Posting happens on the worker pool so the
// run's controller goroutine is never held up by the host.
type Publisher struct {
	commenter Commenter
	policy    Evaluator
	ledger    Ledger
	pool      *pipeline.WorkerPool
	repo      string

	wg sync.WaitGroup
}

var _ pipeline.Hook = (*Publisher)(nil)

// NewPublisher creates a publisher. ledger may be nil.
func NewPublisher(commenter Commenter, evaluator Evaluator, ledger Ledger, pool *pipeline.WorkerPool, repo string) *Publisher {
	return &Publisher{
		commenter: commenter,
		policy:    evaluator,
		ledger:    ledger,
		pool:      pool,
		repo:      repo,
	}
}

func publishedKey(runID string) string {
	return "published:" + runID
}

// RunFinished implements pipeline.Hook.
func (p *Publisher) RunFinished(ctx context.Context, run domain.Run) {
	decision, err := p.policy.Evaluate(ctx, policy.InputFor(run, p.repo))
	if err != nil {
		log.Printf("ERROR: publish policy for run %s: %v", run.RunID, err)
		return
	}
	if !decision.Post {
		log.Printf("INFO: not publishing run %s: %s", run.RunID, decision.Reason)
		return
	}

	if p.ledger != nil {
		if _, done, err := p.ledger.GetSyncState(ctx, publishedKey(run.RunID)); err != nil {
			log.Printf("WARN: publish ledger lookup for run %s: %v", run.RunID, err)
		} else if done {
			return
		}
	}

	p.wg.Add(1)
	future, err := p.pool.Submit(func() (string, error) {
		return "", p.post(ctx, run)
	})
	if err != nil {
		p.wg.Done()
		log.Printf("ERROR: publish run %s: %v", run.RunID, err)
		return
	}
	go func() {
		defer p.wg.Done()
		<-future.Done()
		if _, err := future.Result(); err != nil {
			log.Printf("ERROR: publish run %s: %v", run.RunID, err)
		}
	}()
}

func (p *Publisher) post(ctx context.Context, run domain.Run) error {
	if err := p.commenter.PostComment(ctx, run.Number, run.FinalOutput); err != nil {
		return fmt.Errorf("post comment on #%d: %w", run.Number, err)
	}
	log.Printf("INFO: published report of run %s to #%d", run.RunID, run.Number)
	if p.ledger != nil {
		if err := p.ledger.SetSyncState(ctx, publishedKey(run.RunID), time.Now().UTC().Format(time.RFC3339)); err != nil {
			log.Printf("WARN: record publication of run %s: %v", run.RunID, err)
		}
	}
	return nil
}

// Wait blocks until every submitted post has finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}
