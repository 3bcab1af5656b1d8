// Package events defines the event types and payloads emitted during a
// bootstrap run. The bus wraps gookit/event so progress consumers (the CLI
// progress printer today, anything else later) subscribe without coupling
// to the orchestrator.
package events

import "time"

// Run lifecycle events
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// Step lifecycle events
const (
	EventStepStarted   = "step.started"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
)

// RunStartedEvent marks the beginning of the mutation phase, after
// validation has passed and the plan is committed to.
type RunStartedEvent struct {
	RunID     string    `json:"run_id"`
	Mode      string    `json:"mode"`
	Username  string    `json:"username"`
	Steps     int       `json:"steps"`
	Timestamp time.Time `json:"timestamp"`
}

// RunCompletedEvent marks a fully converged host.
type RunCompletedEvent struct {
	RunID     string        `json:"run_id"`
	Mode      string        `json:"mode"`
	Endpoint  string        `json:"endpoint"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// RunFailedEvent marks a run halted mid-sequence. Step names the unit
// that failed; everything before it is converged, nothing after it ran.
type RunFailedEvent struct {
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// StepStartedEvent reports a reconciler beginning its unit.
type StepStartedEvent struct {
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// StepCompletedEvent reports a reconciler converging its unit.
type StepCompletedEvent struct {
	RunID     string        `json:"run_id"`
	Step      string        `json:"step"`
	Index     int           `json:"index"`
	Total     int           `json:"total"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// StepFailedEvent reports a reconciler error. The run halts here.
type StepFailedEvent struct {
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}
