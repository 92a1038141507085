package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

// StepProvider supplies the operations behind each step of a run.
type StepProvider interface {
	Operations(run domain.Run) map[domain.StepID]Operation
}

// StepProviderFunc adapts a function to StepProvider.
type StepProviderFunc func(run domain.Run) map[domain.StepID]Operation

// Operations implements StepProvider.
func (f StepProviderFunc) Operations(run domain.Run) map[domain.StepID]Operation {
	return f(run)
}

// RunStore persists completed runs.
type RunStore interface {
	IndexRun(ctx context.Context, rec domain.RunRecord) error
}

// Hook is notified when a run reaches a terminal status.
type Hook interface {
	RunFinished(ctx context.Context, run domain.Run)
}

// StartHook is optionally implemented by hooks that also want to know when
// a run starts executing.
type StartHook interface {
	RunStarted(run domain.Run)
}

// Controller drives runs through pending, running and a terminal status.
type Controller struct {
	registry *Registry
	pool     *WorkerPool
	executor *Executor
	provider StepProvider
	store    RunStore
	hooks    []Hook
	poll     time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

// persistTimeout bounds the write of a completed run to the store.
const persistTimeout = 10 * time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithStore persists completed runs to store.
func WithStore(store RunStore) Option {
	return func(c *Controller) { c.store = store }
}

// WithHooks registers terminal-status hooks.
func WithHooks(hooks ...Hook) Option {
	return func(c *Controller) { c.hooks = append(c.hooks, hooks...) }
}

// WithPollInterval sets how often step futures are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.poll = d }
}

// NewController creates a controller. Runs started through it stop
// awaiting their steps once ctx is cancelled.
func NewController(ctx context.Context, registry *Registry, pool *WorkerPool, provider StepProvider, opts ...Option) *Controller {
	c := &Controller{
		registry: registry,
		pool:     pool,
		provider: provider,
		poll:     DefaultPollInterval,
		ctx:      ctx,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.executor = NewExecutor(registry, pool, c.poll)
	return c
}

// Registry returns the registry the controller drives.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Trigger creates a run and starts it.
func (c *Controller) Trigger(mode domain.Mode, number int) (domain.Run, error) {
	run, err := c.registry.Create(mode, number, "")
	if err != nil {
		return domain.Run{}, err
	}
	c.Start(run.RunID)
	return c.current(run), nil
}

// Attach looks up an existing run and starts it if it is still pending.
func (c *Controller) Attach(runID string) (domain.Run, error) {
	run, ok := c.registry.Get(runID)
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}
	c.Start(runID)
	return c.current(run), nil
}

// Start launches the run's controller goroutine. Only the first call for a
// pending run has any effect.
func (c *Controller) Start(runID string) bool {
	if !c.registry.MarkStarted(runID) {
		return false
	}
	c.wg.Add(1)
	go c.execute(runID)
	return true
}

// Wait blocks until every started run has finished its controller goroutine.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) current(fallback domain.Run) domain.Run {
	if run, ok := c.registry.Get(fallback.RunID); ok {
		return run
	}
	return fallback
}

func (c *Controller) execute(runID string) {
	defer c.wg.Done()

	run, ok := c.registry.Get(runID)
	if !ok {
		log.Printf("ERROR: run %s vanished before execution", runID)
		return
	}
	for _, h := range c.hooks {
		if sh, ok := h.(StartHook); ok {
			sh.RunStarted(run)
		}
	}

	out, err := c.runSteps(run)
	if err != nil {
		c.fail(runID, err)
		return
	}

	finished, err := c.registry.Finish(runID, out)
	if err != nil {
		log.Printf("ERROR: finish run %s: %v", runID, err)
		return
	}
	log.Printf("INFO: run %s (%s #%d) complete: success=%v total_time_ms=%d",
		runID, finished.Mode, finished.Number, finished.Success, finished.TotalTimeMs)

	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), persistTimeout)
		err := c.store.IndexRun(ctx, domain.NewRunRecord(finished))
		cancel()
		if err != nil {
			log.Printf("WARN: failed to persist run %s: %v", runID, err)
		}
	}
	c.notify(finished)
}

// runSteps executes the plan of the run's mode and composes its outcome.
// Panics are converted into errors so they end the run instead of the process.
func (c *Controller) runSteps(run domain.Run) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	plan, err := PlanFor(run.Mode)
	if err != nil {
		return Outcome{}, err
	}
	ops := c.provider.Operations(run)

	c.append(run.RunID, domain.Event{
		Type:   domain.EventTypeStart,
		Mode:   run.Mode,
		Number: run.Number,
	})

	steps := make([]domain.StepResult, 0, len(Catalogue))
	outputs := make(map[domain.StepID]string)
	for _, id := range plan.Steps {
		info, _ := StepByID(id)
		op, ok := ops[id]
		if !ok || op == nil {
			return Outcome{}, fmt.Errorf("no operation registered for step %d (%s)", id, info.Name)
		}
		res, output, err := c.executor.Run(c.ctx, run, info, op)
		if err != nil {
			return Outcome{}, err
		}
		steps = append(steps, res)
		if res.Success {
			outputs[id] = output
		}
	}
	for _, info := range plan.Skipped() {
		steps = append(steps, c.executor.Skip(run, info))
	}

	report := plan.compose(run.Number, outputs, steps)
	if report.Content != "" {
		c.append(run.RunID, domain.Event{
			Type:    domain.EventTypeFinalReport,
			Title:   report.Title,
			Content: report.Content,
		})
	}

	return Outcome{
		Steps:       steps,
		FinalOutput: report.Content,
		Success:     overallSuccess(steps),
		TotalTimeMs: totalTime(steps),
	}, nil
}

func (c *Controller) fail(runID string, cause error) {
	log.Printf("ERROR: run %s failed: %v", runID, cause)
	failed, err := c.registry.Fail(runID, cause)
	if err != nil {
		log.Printf("ERROR: mark run %s failed: %v", runID, err)
		return
	}
	c.notify(failed)
}

// notify runs the terminal hooks. Hooks still run while the controller is
// shutting down, so they get a context detached from its cancellation.
func (c *Controller) notify(run domain.Run) {
	ctx := context.WithoutCancel(c.ctx)
	for _, h := range c.hooks {
		h.RunFinished(ctx, run)
	}
}

func (c *Controller) append(runID string, e domain.Event) {
	if _, err := c.registry.Append(runID, e); err != nil {
		log.Printf("ERROR: append %s event to run %s: %v", e.Type, runID, err)
	}
}

// overallSuccess is the conjunction of every executed step. A run that
// executed nothing is not successful.
func overallSuccess(steps []domain.StepResult) bool {
	executed := 0
	for _, s := range steps {
		if s.Skipped {
			continue
		}
		executed++
		if !s.Success {
			return false
		}
	}
	return executed > 0
}

func totalTime(steps []domain.StepResult) int64 {
	var total int64
	for _, s := range steps {
		total += s.DurationMs
	}
	return total
}
