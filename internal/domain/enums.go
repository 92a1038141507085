// Package domain defines the core domain models for the co-pilot pipeline.
package domain

import "fmt"

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusError    RunStatus = "error"

	// RunStatusNotFound is only ever sent to observers resuming an unknown run.
	RunStatusNotFound RunStatus = "not_found"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusComplete || s == RunStatusError
}

// Mode selects which analysis steps a run executes.
type Mode string

const (
	ModeIssue    Mode = "issue"
	ModePR       Mode = "pr"
	ModeConflict Mode = "conflict"
)

// ParseMode converts a wire value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIssue, ModePR, ModeConflict:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// EventType represents the type of a pipeline event.
type EventType string

const (
	EventTypeStart       EventType = "start"
	EventTypeAgentStart  EventType = "agent_start"
	EventTypeAgentDone   EventType = "agent_done"
	EventTypeAgentError  EventType = "agent_error"
	EventTypeLog         EventType = "log"
	EventTypeFinalReport EventType = "final_report"
	EventTypeComplete    EventType = "complete"
)

// StepID identifies an analysis step in the fixed catalogue.
type StepID int

const (
	StepContextRetrieval   StepID = 1
	StepArchitectureReview StepID = 2
	StepImpactAssessment   StepID = 3
	StepConflictResolution StepID = 4
)
