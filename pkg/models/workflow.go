package models

import (
	"maps"
	"slices"
	"time"
)

// Phase is a node in the orchestration graph.
type Phase string

const (
	PhaseAnalyzeQuery            Phase = "analyzeQuery"
	PhaseRouteToSpecialists      Phase = "routeToSpecialists"
	PhaseEssayInterrupt          Phase = "essayInterrupt"
	PhaseParallelRoleAnalysis    Phase = "parallelRoleAnalysis"
	PhaseSequentialCompliance    Phase = "sequentialCompliance"
	PhaseExecuteParallel         Phase = "executeParallel"
	PhaseExecuteSequential       Phase = "executeSequential"
	PhaseStreamProgress          Phase = "streamProgress"
	PhaseComplianceValidation    Phase = "complianceValidation"
	PhaseConsolidateResults      Phase = "consolidateResults"
	PhaseGenerateRecommendations Phase = "generateRecommendations"
	PhaseDone                    Phase = "done"
	PhaseSuspended               Phase = "suspended"
)

// AllPhases lists every phase in graph order.
var AllPhases = []Phase{
	PhaseAnalyzeQuery,
	PhaseRouteToSpecialists,
	PhaseEssayInterrupt,
	PhaseParallelRoleAnalysis,
	PhaseSequentialCompliance,
	PhaseExecuteParallel,
	PhaseExecuteSequential,
	PhaseStreamProgress,
	PhaseComplianceValidation,
	PhaseConsolidateResults,
	PhaseGenerateRecommendations,
	PhaseDone,
	PhaseSuspended,
}

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	return slices.Contains(AllPhases, p)
}

// IsExecution reports whether the phase invokes workers.
func (p Phase) IsExecution() bool {
	switch p {
	case PhaseParallelRoleAnalysis, PhaseSequentialCompliance,
		PhaseExecuteParallel, PhaseExecuteSequential:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further phase follows without a resume.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseSuspended
}

// RunStatus is the lifecycle state of a whole run.
type RunStatus string

const (
	// RunStatusRunning indicates the engine is driving the run.
	RunStatusRunning RunStatus = "running"
	// RunStatusSuspended indicates the run is waiting for human input.
	RunStatusSuspended RunStatus = "suspended"
	// RunStatusCompleted indicates the run reached done.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates a structural error aborted the run.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates the run was cancelled at a phase boundary.
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuspended, RunStatusCompleted,
		RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsFinal reports whether the run can no longer make progress.
// Suspended runs are not final: a resume moves them forward.
func (s RunStatus) IsFinal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// WorkflowState is the full state of one run. It is owned by a single
// engine goroutine; everyone else sees copies made with Clone.
type WorkflowState struct {
	RunID          string            `json:"run_id"`
	OriginalQuery  string            `json:"original_query"`
	Profile        map[string]string `json:"profile,omitempty"`
	Classification TaskAnalysis      `json:"classification"`
	Status         RunStatus         `json:"status"`

	CurrentPhase    Phase   `json:"current_phase"`
	CompletedPhases []Phase `json:"completed_phases"`

	WorkerResults map[WorkerID]WorkerResult `json:"worker_results"`
	WorkerErrors  map[WorkerID]WorkerError  `json:"worker_errors"`
	// Dispatched lists workers in the order they were selected for invocation.
	Dispatched []WorkerID `json:"dispatched,omitempty"`

	ProgressPercentage int      `json:"progress_percentage"`
	Warnings           []string `json:"warnings,omitempty"`
	NeedsHumanReview   bool     `json:"needs_human_review"`
	InterruptRequested bool     `json:"interrupt_requested"`
	InterruptReason    string   `json:"interrupt_reason,omitempty"`

	HumanInput map[string]string `json:"human_input,omitempty"`

	Events []Event `json:"events,omitempty"`

	ConsolidatedResponse string   `json:"consolidated_response,omitempty"`
	Confidence           float64  `json:"confidence"`
	Recommendations      []string `json:"recommendations,omitempty"`
	NextSteps            []string `json:"next_steps,omitempty"`

	// Error holds the structural error message of a failed run.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState creates the initial state for a run.
func NewWorkflowState(runID, query string, profile map[string]string, now time.Time) *WorkflowState {
	return &WorkflowState{
		RunID:         runID,
		OriginalQuery: query,
		Profile:       maps.Clone(profile),
		Status:        RunStatusRunning,
		CurrentPhase:  PhaseAnalyzeQuery,
		WorkerResults: make(map[WorkerID]WorkerResult),
		WorkerErrors:  make(map[WorkerID]WorkerError),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetProgress raises the progress percentage. Lower values are ignored so the
// percentage never goes backwards.
func (s *WorkflowState) SetProgress(pct int) {
	if pct > 100 {
		pct = 100
	}
	if pct > s.ProgressPercentage {
		s.ProgressPercentage = pct
	}
}

// HasOutcome reports whether a result or an error is already recorded for id.
func (s *WorkflowState) HasOutcome(id WorkerID) bool {
	if _, ok := s.WorkerResults[id]; ok {
		return true
	}
	_, ok := s.WorkerErrors[id]
	return ok
}

// RecordResult stores a successful outcome. It returns false and leaves the
// state untouched if id already has an outcome.
func (s *WorkflowState) RecordResult(id WorkerID, r WorkerResult) bool {
	if s.HasOutcome(id) {
		return false
	}
	if s.WorkerResults == nil {
		s.WorkerResults = make(map[WorkerID]WorkerResult)
	}
	r.Success = true
	s.WorkerResults[id] = r
	return true
}

// RecordError stores a failed outcome. It returns false and leaves the state
// untouched if id already has an outcome.
func (s *WorkflowState) RecordError(id WorkerID, e WorkerError) bool {
	if s.HasOutcome(id) {
		return false
	}
	if s.WorkerErrors == nil {
		s.WorkerErrors = make(map[WorkerID]WorkerError)
	}
	s.WorkerErrors[id] = e
	return true
}

// MarkDispatched appends id to Dispatched unless it is already there.
func (s *WorkflowState) MarkDispatched(id WorkerID) {
	if !slices.Contains(s.Dispatched, id) {
		s.Dispatched = append(s.Dispatched, id)
	}
}

// CompletePhase appends p to the completed phase list.
func (s *WorkflowState) CompletePhase(p Phase) {
	s.CompletedPhases = append(s.CompletedPhases, p)
}

// AddWarning appends a warning.
func (s *WorkflowState) AddWarning(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// MergeHumanInput copies input into HumanInput, overwriting existing keys.
func (s *WorkflowState) MergeHumanInput(input map[string]string) {
	if len(input) == 0 {
		return
	}
	if s.HumanInput == nil {
		s.HumanInput = make(map[string]string, len(input))
	}
	maps.Copy(s.HumanInput, input)
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	c := *s
	c.Profile = maps.Clone(s.Profile)
	c.Classification = s.Classification.Clone()
	c.CompletedPhases = slices.Clone(s.CompletedPhases)
	c.WorkerResults = make(map[WorkerID]WorkerResult, len(s.WorkerResults))
	for id, r := range s.WorkerResults {
		r.Metadata = maps.Clone(r.Metadata)
		c.WorkerResults[id] = r
	}
	c.WorkerErrors = maps.Clone(s.WorkerErrors)
	if c.WorkerErrors == nil {
		c.WorkerErrors = make(map[WorkerID]WorkerError)
	}
	c.Dispatched = slices.Clone(s.Dispatched)
	c.Warnings = slices.Clone(s.Warnings)
	c.HumanInput = maps.Clone(s.HumanInput)
	c.Events = make([]Event, len(s.Events))
	for i, ev := range s.Events {
		c.Events[i] = ev.Clone()
	}
	c.Recommendations = slices.Clone(s.Recommendations)
	c.NextSteps = slices.Clone(s.NextSteps)
	return &c
}

// Clone returns a deep copy of the analysis.
func (a TaskAnalysis) Clone() TaskAnalysis {
	c := a
	c.PrimaryWorkers = slices.Clone(a.PrimaryWorkers)
	c.SecondaryWorkers = slices.Clone(a.SecondaryWorkers)
	c.Specialists = slices.Clone(a.Specialists)
	c.ResearchRequirements = maps.Clone(a.ResearchRequirements)
	c.ResearchPlan = slices.Clone(a.ResearchPlan)
	c.ComplianceRequirements = slices.Clone(a.ComplianceRequirements)
	c.IntegrationPoints = slices.Clone(a.IntegrationPoints)
	c.RiskFactors = slices.Clone(a.RiskFactors)
	return c
}
