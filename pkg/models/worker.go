package models

import "time"

// WorkerID names a worker capability. The set is closed: only the constants
// below are routable, and the registry rejects anything else.
type WorkerID string

const (
	WorkerPayments      WorkerID = "payments-specialist"
	WorkerAuth          WorkerID = "auth-specialist"
	WorkerDatabase      WorkerID = "database-architect"
	WorkerFrontend      WorkerID = "frontend-engineer"
	WorkerBackend       WorkerID = "backend-engineer"
	WorkerDataEngineer  WorkerID = "data-engineer"
	WorkerCompliance    WorkerID = "compliance-officer"
	WorkerPerformance   WorkerID = "performance-engineer"
	WorkerDataAnalyst   WorkerID = "data-analyst"
	WorkerSecurity      WorkerID = "security-auditor"
	WorkerDevOps        WorkerID = "devops-engineer"
	WorkerAPIDesigner   WorkerID = "api-designer"
	WorkerUX            WorkerID = "ux-designer"
	WorkerQA            WorkerID = "qa-engineer"
	WorkerTechWriter    WorkerID = "technical-writer"
	WorkerDebugger      WorkerID = "debugger"
	WorkerStatistician  WorkerID = "statistician"
	WorkerPolicyAnalyst WorkerID = "policy-analyst"
	WorkerFederalResume WorkerID = "federal-resume-specialist"
	WorkerEssayCoach    WorkerID = "essay-coach"
	WorkerGeneralist    WorkerID = "generalist"
)

// AllWorkers lists every known worker id.
var AllWorkers = []WorkerID{
	WorkerPayments,
	WorkerAuth,
	WorkerDatabase,
	WorkerFrontend,
	WorkerBackend,
	WorkerDataEngineer,
	WorkerCompliance,
	WorkerPerformance,
	WorkerDataAnalyst,
	WorkerSecurity,
	WorkerDevOps,
	WorkerAPIDesigner,
	WorkerUX,
	WorkerQA,
	WorkerTechWriter,
	WorkerDebugger,
	WorkerStatistician,
	WorkerPolicyAnalyst,
	WorkerFederalResume,
	WorkerEssayCoach,
	WorkerGeneralist,
}

// Valid returns true if the worker id is a known value.
func (w WorkerID) Valid() bool {
	for _, known := range AllWorkers {
		if w == known {
			return true
		}
	}
	return false
}

// WorkerResult is a successful worker invocation.
type WorkerResult struct {
	// Success is always true for recorded results; kept for the wire format.
	Success bool `json:"success"`
	// Output is the worker's text answer.
	Output string `json:"output"`
	// Metadata carries backend details such as model and token counts.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Duration is how long the invocation took.
	Duration time.Duration `json:"duration"`
}

// WorkerError is a failed or timed-out worker invocation.
type WorkerError struct {
	// Message describes the failure.
	Message string `json:"message"`
	// TimedOut is set when the per-worker deadline expired.
	TimedOut bool `json:"timed_out,omitempty"`
	// Duration is how long the invocation ran before failing.
	Duration time.Duration `json:"duration"`
}
