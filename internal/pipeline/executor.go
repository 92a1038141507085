package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// SummaryLimit is the number of runes of a step output kept in its result.
const SummaryLimit = 1000

// DefaultPollInterval is how often step futures and event logs are polled.
const DefaultPollInterval = 100 * time.Millisecond

// LogFunc records a progress line on the run's event log.
type LogFunc func(format string, args ...any)

// Operation is the blocking work behind a step.
type Operation func(ctx context.Context, number int, logf LogFunc) (string, error)

// Executor runs single steps on the worker pool and records their events.
type Executor struct {
	registry *Registry
	pool     *WorkerPool
	poll     time.Duration
}

// NewExecutor creates an executor polling futures every poll interval.
func NewExecutor(registry *Registry, pool *WorkerPool, poll time.Duration) *Executor {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Executor{registry: registry, pool: pool, poll: poll}
}

// Run executes one step. A failing or panicking operation yields an
// unsuccessful StepResult and a nil error; the returned error is reserved
// for failures of the pipeline itself, such as a rejected dispatch.
func (x *Executor) Run(ctx context.Context, run domain.Run, info StepInfo, op Operation) (domain.StepResult, string, error) {
	x.append(run.RunID, domain.Event{
		Type:      domain.EventTypeAgentStart,
		Agent:     info.ID,
		Name:      info.Name,
		Reasoning: info.Reasoning,
		Tools:     info.Tools,
	})

	logf := func(format string, args ...any) {
		x.append(run.RunID, domain.Event{
			Type:    domain.EventTypeLog,
			Message: fmt.Sprintf(format, args...),
		})
	}

	start := time.Now()
	future, err := x.pool.Submit(func() (string, error) {
		return op(ctx, run.Number, logf)
	})
	if err != nil {
		return domain.StepResult{}, "", fmt.Errorf("dispatch %s: %w", info.Name, err)
	}
	if err := x.await(ctx, future); err != nil {
		return domain.StepResult{}, "", fmt.Errorf("await %s: %w", info.Name, err)
	}

	output, opErr := future.Result()
	if errors.Is(opErr, ErrPoolClosed) {
		return domain.StepResult{}, "", fmt.Errorf("dispatch %s: %w", info.Name, opErr)
	}
	durationMs := time.Since(start).Milliseconds()

	if opErr != nil {
		log.Printf("WARN: run %s step %d (%s) failed: %v", run.RunID, info.ID, info.Name, opErr)
		x.append(run.RunID, domain.Event{
			Type:       domain.EventTypeAgentError,
			Agent:      info.ID,
			Name:       info.Name,
			Error:      opErr.Error(),
			DurationMs: domain.Int64(durationMs),
		})
		return domain.StepResult{
			Agent:      info.ID,
			Name:       info.Name,
			Success:    false,
			DurationMs: durationMs,
			Error:      opErr.Error(),
		}, "", nil
	}

	summary := truncate(output, SummaryLimit)
	x.append(run.RunID, domain.Event{
		Type:       domain.EventTypeAgentDone,
		Agent:      info.ID,
		Name:       info.Name,
		Success:    domain.Bool(true),
		DurationMs: domain.Int64(durationMs),
		Result:     summary,
		Reasoning:  info.Reasoning,
		ToolsUsed:  info.Tools,
	})
	return domain.StepResult{
		Agent:      info.ID,
		Name:       info.Name,
		Success:    true,
		DurationMs: durationMs,
		Summary:    summary,
	}, output, nil
}

// Skip records a step the run's mode does not execute.
func (x *Executor) Skip(run domain.Run, info StepInfo) domain.StepResult {
	x.append(run.RunID, domain.Event{
		Type:       domain.EventTypeAgentDone,
		Agent:      info.ID,
		Name:       info.Name,
		Success:    domain.Bool(true),
		Skipped:    true,
		DurationMs: domain.Int64(0),
		Result:     SkippedResult,
		Reasoning:  info.Reasoning,
		ToolsUsed:  info.Tools,
	})
	return domain.StepResult{
		Agent:   info.ID,
		Name:    info.Name,
		Success: true,
		Summary: SkippedResult,
		Skipped: true,
	}
}

func (x *Executor) await(ctx context.Context, f *Future) error {
	ticker := time.NewTicker(x.poll)
	defer ticker.Stop()
	for !f.Ready() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (x *Executor) append(runID string, e domain.Event) {
	_, err := x.registry.Append(runID, e)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunTerminal):
		// An abandoned operation can still log after its run failed.
		log.Printf("WARN: dropped %s event for finished run %s", e.Type, runID)
	default:
		log.Printf("ERROR: append %s event to run %s: %v", e.Type, runID, err)
	}
}
