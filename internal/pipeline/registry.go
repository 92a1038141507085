// Package pipeline implements the run registry, step execution and the run
// controller state machine.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
)

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunTerminal is returned when a terminal run is asked to transition.
	ErrRunTerminal = errors.New("run already terminal")
	// ErrUnknownMode is returned for modes outside issue, pr and conflict.
	ErrUnknownMode = errors.New("unknown mode")
)

// DefaultMaxRuns bounds the runs retained in memory.
const DefaultMaxRuns = 500

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	MaxEvents int
	MaxRuns   int
	Now       func() time.Time
}

type runState struct {
	run     domain.Run
	started bool
	log     *eventLog
}

// Registry is the in-memory table of runs. All reads return copies.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*runState
	maxEvents int
	maxRuns   int
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = DefaultMaxRuns
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		runs:      make(map[string]*runState),
		maxEvents: opts.MaxEvents,
		maxRuns:   opts.MaxRuns,
		now:       opts.Now,
	}
}

// Create returns the run registered under requestedID when it exists;
// otherwise it registers a fresh pending run under a new id.
func (r *Registry) Create(mode domain.Mode, number int, requestedID string) (domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requestedID != "" {
		if st, ok := r.runs[requestedID]; ok {
			return r.snapshotLocked(st), nil
		}
	}
	if _, err := PlanFor(mode); err != nil {
		return domain.Run{}, err
	}

	now := r.now()
	id := uuid.New().String()
	st := &runState{
		run: domain.Run{
			RunID:     id,
			Mode:      mode,
			Number:    number,
			Status:    domain.RunStatusPending,
			StartedAt: now,
			UpdatedAt: now,
		},
		log: newEventLog(r.maxEvents),
	}
	r.runs[id] = st
	r.evictLocked()
	return r.snapshotLocked(st), nil
}

// Get returns a copy of the run.
func (r *Registry) Get(id string) (domain.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return domain.Run{}, false
	}
	return r.snapshotLocked(st), true
}

// Discard removes a run that was created but never started, such as one
// whose creator went away before anyone learned its id. Started runs are
// kept. It reports whether the run was removed.
func (r *Registry) Discard(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok || st.started {
		return false
	}
	delete(r.runs, id)
	return true
}

// Append stamps and stores an event on the run's log. Terminal runs are
// immutable and reject further events.
func (r *Registry) Append(id string, e domain.Event) (domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return domain.Event{}, ErrRunNotFound
	}
	if st.run.Status.IsTerminal() {
		return domain.Event{}, ErrRunTerminal
	}
	return r.appendLocked(st, e), nil
}

// MarkStarted moves a pending run to running. It returns true only for the
// caller that performed the transition.
func (r *Registry) MarkStarted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok || st.started || st.run.Status != domain.RunStatusPending {
		return false
	}
	st.started = true
	st.run.Status = domain.RunStatusRunning
	r.touchLocked(st)
	return true
}

// Outcome is the result a controller reports when a run completes.
type Outcome struct {
	Steps       []domain.StepResult
	FinalOutput string
	Success     bool
	TotalTimeMs int64
}

// Finish appends the complete event and marks the run complete in one step.
func (r *Registry) Finish(id string, out Outcome) (domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}
	if st.run.Status.IsTerminal() {
		return domain.Run{}, ErrRunTerminal
	}

	steps := append([]domain.StepResult(nil), out.Steps...)
	st.run.Steps = steps
	st.run.FinalOutput = out.FinalOutput
	st.run.Success = out.Success
	st.run.TotalTimeMs = out.TotalTimeMs
	r.appendLocked(st, domain.Event{
		Type:        domain.EventTypeComplete,
		Steps:       steps,
		TotalTimeMs: domain.Int64(out.TotalTimeMs),
		Success:     domain.Bool(out.Success),
		FinalOutput: out.FinalOutput,
	})
	st.run.Status = domain.RunStatusComplete
	return r.snapshotLocked(st), nil
}

// Fail records a controller failure: a log event then the error status.
func (r *Registry) Fail(id string, cause error) (domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}
	if st.run.Status.IsTerminal() {
		return domain.Run{}, ErrRunTerminal
	}

	msg := cause.Error()
	r.appendLocked(st, domain.Event{
		Type:    domain.EventTypeLog,
		Message: "Pipeline failed: " + msg,
	})
	st.run.Error = msg
	st.run.Status = domain.RunStatusError
	return r.snapshotLocked(st), nil
}

// EventsSince returns the events at or after cursor together with the next
// cursor and the run status, all read atomically.
func (r *Registry) EventsSince(id string, cursor int) ([]domain.Event, int, domain.RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[id]
	if !ok {
		return nil, cursor, "", ErrRunNotFound
	}
	events, next := st.log.since(cursor)
	return events, next, st.run.Status, nil
}

// List returns copies of the retained runs, newest first.
func (r *Registry) List(limit int) []domain.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Run, 0, len(r.runs))
	for _, st := range r.runs {
		out = append(out, r.snapshotLocked(st))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len reports the number of retained runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Rehydrate rebuilds terminal runs from durable records. Runs already in
// memory are left untouched. It returns the number of runs restored.
func (r *Registry) Rehydrate(records []domain.RunRecord) int {
	sorted := append([]domain.RunRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CompletedAt.Before(sorted[j].CompletedAt)
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range sorted {
		if rec.RunID == "" || !rec.Status.IsTerminal() {
			continue
		}
		if _, exists := r.runs[rec.RunID]; exists {
			continue
		}
		r.runs[rec.RunID] = r.rebuild(rec)
		restored++
	}
	r.evictLocked()
	return restored
}

// rebuild synthesizes a run and its event history from a durable record.
func (r *Registry) rebuild(rec domain.RunRecord) *runState {
	completed := rec.CompletedAt
	if completed.IsZero() {
		completed = rec.CreatedAt
	}
	st := &runState{
		run: domain.Run{
			RunID:       rec.RunID,
			Mode:        rec.Mode,
			Number:      rec.Number,
			Status:      rec.Status,
			StartedAt:   rec.CreatedAt,
			UpdatedAt:   completed,
			FinalOutput: rec.FinalOutput,
			Success:     rec.Success,
			TotalTimeMs: rec.TotalTimeMs,
		},
		started: true,
		log:     newEventLog(r.maxEvents),
	}
	ts := completed.UnixMilli()
	add := func(e domain.Event) {
		e.RunID = rec.RunID
		e.Ts = ts
		st.log.append(e)
	}

	add(domain.Event{Type: domain.EventTypeStart, Mode: rec.Mode, Number: rec.Number})
	steps := make([]domain.StepResult, 0, len(rec.Steps))
	for _, s := range rec.Steps {
		res := domain.StepResult{
			Agent:      s.Agent,
			Name:       s.Name,
			Success:    s.Success,
			DurationMs: s.DurationMs,
			Skipped:    s.Skipped,
		}
		if s.Success {
			add(domain.Event{
				Type:       domain.EventTypeAgentDone,
				Agent:      s.Agent,
				Name:       s.Name,
				Success:    domain.Bool(true),
				Skipped:    s.Skipped,
				Result:     skippedResultFor(s.Skipped),
				DurationMs: domain.Int64(s.DurationMs),
			})
		} else {
			res.Error = "step failed"
			add(domain.Event{
				Type:       domain.EventTypeAgentError,
				Agent:      s.Agent,
				Name:       s.Name,
				Error:      res.Error,
				DurationMs: domain.Int64(s.DurationMs),
			})
		}
		steps = append(steps, res)
	}
	st.run.Steps = steps

	if rec.Status == domain.RunStatusComplete {
		if rec.FinalOutput != "" {
			add(domain.Event{
				Type:    domain.EventTypeFinalReport,
				Title:   reportTitle(rec.Mode, rec.Number),
				Content: rec.FinalOutput,
			})
		}
		add(domain.Event{
			Type:        domain.EventTypeComplete,
			Steps:       steps,
			TotalTimeMs: domain.Int64(rec.TotalTimeMs),
			Success:     domain.Bool(rec.Success),
			FinalOutput: rec.FinalOutput,
		})
	}
	return st
}

func reportTitle(mode domain.Mode, number int) string {
	plan, err := PlanFor(mode)
	if err != nil {
		return fmt.Sprintf("Report for %s #%d", mode, number)
	}
	return plan.compose(number, nil, nil).Title
}

func (r *Registry) appendLocked(st *runState, e domain.Event) domain.Event {
	e.RunID = st.run.RunID
	if e.Ts == 0 {
		e.Ts = r.now().UnixMilli()
	}
	e = st.log.append(e)
	r.touchLocked(st)
	return e
}

func (r *Registry) touchLocked(st *runState) {
	if now := r.now(); now.After(st.run.UpdatedAt) {
		st.run.UpdatedAt = now
	}
}

func (r *Registry) snapshotLocked(st *runState) domain.Run {
	run := st.run
	run.Steps = append([]domain.StepResult(nil), st.run.Steps...)
	run.EventCount = st.log.len()
	return run
}

// evictLocked drops the least recently updated terminal runs while the
// registry is over capacity. Live runs are never evicted.
func (r *Registry) evictLocked() {
	over := len(r.runs) - r.maxRuns
	if over <= 0 {
		return
	}
	var terminal []*runState
	for _, st := range r.runs {
		if st.run.Status.IsTerminal() {
			terminal = append(terminal, st)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].run.UpdatedAt.Before(terminal[j].run.UpdatedAt)
	})
	for i := 0; i < over && i < len(terminal); i++ {
		delete(r.runs, terminal[i].run.RunID)
	}
}
