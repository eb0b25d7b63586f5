package models

import (
	"time"
)

// ==================== Run Types ====================

// RunStatus represents the status of a smoke run
type RunStatus string

const (
	StatusPending  RunStatus = "pending"
	StatusRunning  RunStatus = "running"
	StatusSuccess  RunStatus = "success"
	StatusFailed   RunStatus = "failed"
	StatusCanceled RunStatus = "canceled"
)

// IsTerminal reports whether no further updates are expected for the status
func (s RunStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

// Outcome is the terminal state a run ended in
type Outcome string

const (
	OutcomePassed        Outcome = "passed"         // All steps passed
	OutcomeLoaderMissing Outcome = "loader_missing" // Early exit: loading indicator never appeared
	OutcomeFailed        Outcome = "failed"         // Caught failure in a later step
)

// StepName identifies a step of the smoke run
type StepName string

const (
	StepAcquire        StepName = "acquire_browser"
	StepNavigate       StepName = "navigate"
	StepWaitLoader     StepName = "wait_loader"
	StepPollProgress   StepName = "poll_progress"
	StepWaitLoaderGone StepName = "wait_loader_hidden"
	StepVerifyHeader   StepName = "verify_header"
	StepNavigateLink   StepName = "navigate_link"
	StepRelease        StepName = "release_browser"
)

// StepResult represents the result of a single step
type StepResult struct {
	Sequence     int       `json:"sequence" db:"sequence"`
	Step         StepName  `json:"step" db:"step"`
	Status       RunStatus `json:"status" db:"status"`
	Message      string    `json:"message,omitempty" db:"message"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	Duration     int64     `json:"duration_ms" db:"duration_ms"`
}

// RunResult represents the result of a smoke run
type RunResult struct {
	RunID          string       `json:"run_id" db:"id"`
	URL            string       `json:"url" db:"url"`
	Status         RunStatus    `json:"status" db:"status"`
	Outcome        Outcome      `json:"outcome,omitempty" db:"outcome"`
	LastProgress   int          `json:"last_progress" db:"last_progress"`
	FinalURL       string       `json:"final_url,omitempty" db:"final_url"`
	ScreenshotPath string       `json:"screenshot_path,omitempty" db:"screenshot_path"`
	ErrorMessage   string       `json:"error_message,omitempty" db:"error_message"`
	StartedAt      *time.Time   `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at" db:"completed_at"`
	TotalDuration  int64        `json:"total_duration_ms" db:"duration_ms"`
	Steps          []StepResult `json:"steps,omitempty"`
}

// Step returns the recorded result for a step, if any
func (r *RunResult) Step(name StepName) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// SmokeRun is a stored run row, including its Temporal identifiers
type SmokeRun struct {
	RunResult
	TemporalWorkflowID string    `json:"temporal_workflow_id" db:"temporal_workflow_id"`
	TemporalRunID      string    `json:"temporal_run_id" db:"temporal_run_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// ==================== Run Events ====================

// EventType represents the kind of a run event
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventStepStarted EventType = "step_started"
	EventStepPassed  EventType = "step_passed"
	EventStepFailed  EventType = "step_failed"
	EventProgress    EventType = "progress"
	EventRunFinished EventType = "run_finished"
)

// RunEvent is emitted by the runner as the run advances
type RunEvent struct {
	RunID    string    `json:"run_id"`
	Type     EventType `json:"type"`
	Step     StepName  `json:"step,omitempty"`
	Outcome  Outcome   `json:"outcome,omitempty"`
	Progress int       `json:"progress,omitempty"`
	URL      string    `json:"url,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// ==================== Workflow Types ====================

// SmokeInput represents input for executing a smoke run through Temporal
type SmokeInput struct {
	RunID    string `json:"run_id"`
	URL      string `json:"url"`
	Headless *bool  `json:"headless,omitempty"`
	Timeout  int    `json:"timeout_seconds"`
}

// ==================== API Request/Response Types ====================

// RunRequest represents a request to start a smoke run
type RunRequest struct {
	URL      string `json:"url"`
	Headless *bool  `json:"headless,omitempty"`
	Timeout  int    `json:"timeout_seconds,omitempty"`
}

// ==================== WebSocket Message Types ====================

// WSMessage represents a WebSocket message for real-time updates
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// RunUpdate is the payload of a run_update message
type RunUpdate struct {
	RunID        string    `json:"run_id"`
	Status       RunStatus `json:"status"`
	LastProgress int       `json:"last_progress"`
	Outcome      Outcome   `json:"outcome,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
