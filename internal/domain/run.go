package domain

import "time"

// Run is a point-in-time copy of a pipeline run.
type Run struct {
	RunID       string       `json:"run_id"`
	Mode        Mode         `json:"mode"`
	Number      int          `json:"number"`
	Status      RunStatus    `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Steps       []StepResult `json:"steps"`
	FinalOutput string       `json:"final_output,omitempty"`
	Success     bool         `json:"success"`
	Error       string       `json:"error,omitempty"`
	TotalTimeMs int64        `json:"total_time_ms"`
	EventCount  int          `json:"event_count"`
}

// StepResult records the outcome of one step within a run.
type StepResult struct {
	Agent      StepID `json:"agent"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// Event is a single entry of a run's event log.
//
// Seq is the absolute position of the event in its run, so it stays stable
// when older events are truncated. Only the fields relevant to Type are set.
type Event struct {
	Seq   int       `json:"seq"`
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	Ts    int64     `json:"ts"` // Unix milliseconds

	Mode   Mode `json:"mode,omitempty"`
	Number int  `json:"number,omitempty"`

	Agent      StepID   `json:"agent,omitempty"`
	Name       string   `json:"name,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
	DurationMs *int64   `json:"duration_ms,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	Skipped    bool     `json:"skipped,omitempty"`
	Result     string   `json:"result,omitempty"`
	Error      string   `json:"error,omitempty"`
	Message    string   `json:"message,omitempty"`

	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`

	Steps       []StepResult `json:"steps,omitempty"`
	TotalTimeMs *int64       `json:"total_time_ms,omitempty"`
	FinalOutput string       `json:"final_output,omitempty"`
}

// RunRecord is the durable form of a completed run.
type RunRecord struct {
	RunID       string       `json:"run_id"`
	Mode        Mode         `json:"mode"`
	Number      int          `json:"number"`
	Status      RunStatus    `json:"status"`
	Success     bool         `json:"success"`
	TotalTimeMs int64        `json:"total_time_ms"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `json:"completed_at"`
	FinalOutput string       `json:"final_output,omitempty"`
	Steps       []StepRecord `json:"steps"`
}

// StepRecord is the durable form of a StepResult.
type StepRecord struct {
	Agent      StepID `json:"agent"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// NewRunRecord builds the durable record for a terminal run.
func NewRunRecord(run Run) RunRecord {
	steps := make([]StepRecord, 0, len(run.Steps))
	for _, s := range run.Steps {
		steps = append(steps, StepRecord{
			Agent:      s.Agent,
			Name:       s.Name,
			Success:    s.Success,
			DurationMs: s.DurationMs,
			Skipped:    s.Skipped,
		})
	}
	return RunRecord{
		RunID:       run.RunID,
		Mode:        run.Mode,
		Number:      run.Number,
		Status:      run.Status,
		Success:     run.Success,
		TotalTimeMs: run.TotalTimeMs,
		CreatedAt:   run.StartedAt,
		CompletedAt: run.UpdatedAt,
		FinalOutput: run.FinalOutput,
		Steps:       steps,
	}
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
