package models

import (
	"maps"
	"time"
)

// EventType identifies what happened in a run.
type EventType string

const (
	EventRunStarted        EventType = "run_started"
	EventRunSuspended      EventType = "run_suspended"
	EventRunResumed        EventType = "run_resumed"
	EventRunCompleted      EventType = "run_completed"
	EventRunFailed         EventType = "run_failed"
	EventRunCancelled      EventType = "run_cancelled"
	EventPhaseEntered      EventType = "phase_entered"
	EventWorkerStarted     EventType = "worker_started"
	EventWorkerCompleted   EventType = "worker_completed"
	EventWorkerFailed      EventType = "worker_failed"
	EventComplianceWarning EventType = "compliance_warning"
	EventProgress          EventType = "progress"
)

// IsTerminal reports whether the event ends a drive of the run.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventRunSuspended, EventRunCompleted, EventRunFailed, EventRunCancelled:
		return true
	default:
		return false
	}
}

// Event is one entry in a run's event stream. Seq is assigned by the
// stream on append and is strictly increasing per run, starting at 1.
type Event struct {
	Seq          int64          `json:"seq"`
	RunID        string         `json:"run_id"`
	Type         EventType      `json:"type"`
	TimestampUTC time.Time      `json:"timestamp_utc"`
	Phase        Phase          `json:"phase,omitempty"`
	WorkerID     WorkerID       `json:"worker_id,omitempty"`
	Message      string         `json:"message,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Clone returns a copy with its own payload map. Payload values are shallow.
func (e Event) Clone() Event {
	e.Payload = maps.Clone(e.Payload)
	return e
}
