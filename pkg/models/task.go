package models

// TaskType is the classification target for an incoming task.
type TaskType string

const (
	// TaskTypePayment covers billing, checkout, and payment-provider work.
	TaskTypePayment TaskType = "payment"
	// TaskTypeAuth covers login, identity, and session management.
	TaskTypeAuth TaskType = "auth"
	// TaskTypeDatabase covers schema, query, and storage work.
	TaskTypeDatabase TaskType = "database"
	// TaskTypeFrontend covers UI components and client-side code.
	TaskTypeFrontend TaskType = "frontend"
	// TaskTypeDataCollection covers scraping, ingestion, and form capture.
	TaskTypeDataCollection TaskType = "data-collection"
	// TaskTypeCompliance covers regulatory, policy, and merit-hiring obligations.
	TaskTypeCompliance TaskType = "compliance"
	// TaskTypePerformance covers latency, throughput, and profiling.
	TaskTypePerformance TaskType = "performance"
	// TaskTypeAnalytics covers reporting, metrics, and statistics.
	TaskTypeAnalytics TaskType = "analytics"
	// TaskTypeSecurity covers vulnerabilities, hardening, and audits.
	TaskTypeSecurity TaskType = "security"
	// TaskTypeInfra covers deployment, CI/CD, and cloud resources.
	TaskTypeInfra TaskType = "infra"
	// TaskTypeAPI is the generic default for service and endpoint work.
	TaskTypeAPI TaskType = "api"
	// TaskTypeUX covers user experience and interaction design.
	TaskTypeUX TaskType = "ux"
	// TaskTypeTesting covers test suites and QA.
	TaskTypeTesting TaskType = "testing"
	// TaskTypeDocs covers documentation.
	TaskTypeDocs TaskType = "docs"
	// TaskTypeBugfix covers defect investigation and repair.
	TaskTypeBugfix TaskType = "bugfix"
)

// AllTaskTypes lists every task type in tie-break order.
var AllTaskTypes = []TaskType{
	TaskTypePayment,
	TaskTypeAuth,
	TaskTypeDatabase,
	TaskTypeFrontend,
	TaskTypeDataCollection,
	TaskTypeCompliance,
	TaskTypePerformance,
	TaskTypeAnalytics,
	TaskTypeSecurity,
	TaskTypeInfra,
	TaskTypeAPI,
	TaskTypeUX,
	TaskTypeTesting,
	TaskTypeDocs,
	TaskTypeBugfix,
}

// Valid returns true if the task type is a known value.
func (t TaskType) Valid() bool {
	for _, known := range AllTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Priority represents how urgently a task should be handled.
type Priority string

const (
	// PriorityCritical is for outages and emergencies.
	PriorityCritical Priority = "critical"
	// PriorityHigh is for important or deadline-bound work.
	PriorityHigh Priority = "high"
	// PriorityMedium is the default.
	PriorityMedium Priority = "medium"
	// PriorityLow is for deferrable work.
	PriorityLow Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank orders priorities so that higher values are more urgent.
// Unknown priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Effort is a coarse bucket for estimated hours.
type Effort string

const (
	// EffortSmall is at most 4 hours.
	EffortSmall Effort = "Small"
	// EffortMedium is at most 16 hours.
	EffortMedium Effort = "Medium"
	// EffortLarge is at most 40 hours.
	EffortLarge Effort = "Large"
	// EffortExtraLarge is anything above 40 hours.
	EffortExtraLarge Effort = "ExtraLarge"
)

// Research requirement flag names. Every TaskAnalysis carries all of them.
const (
	ResearchSecurityReview      = "securityReview"
	ResearchComplianceCheck     = "complianceCheck"
	ResearchPerformanceAnalysis = "performanceAnalysis"
	ResearchHumanReview         = "humanReview"
	ResearchSpecialistReview    = "specialistReview"
)

// TaskAnalysis is the immutable result of classifying one incoming task.
type TaskAnalysis struct {
	// TaskType is the detected category.
	TaskType TaskType `json:"task_type"`
	// Priority is the detected or hinted urgency.
	Priority Priority `json:"priority"`
	// PrimaryWorkers are invoked first and weighted first during consolidation.
	PrimaryWorkers []WorkerID `json:"primary_workers"`
	// SecondaryWorkers support the primaries.
	SecondaryWorkers []WorkerID `json:"secondary_workers,omitempty"`
	// Specialists are the workers added because of specialization keywords.
	// They are also present in PrimaryWorkers.
	Specialists []WorkerID `json:"specialists,omitempty"`
	// ComplexityScore is in [1,10].
	ComplexityScore int `json:"complexity_score"`
	// EstimatedHours is the raw effort estimate.
	EstimatedHours float64 `json:"estimated_hours"`
	// EstimatedEffort buckets EstimatedHours.
	EstimatedEffort Effort `json:"estimated_effort"`
	// ResearchRequirements holds the named research flags.
	ResearchRequirements map[string]bool `json:"research_requirements"`
	// ResearchPlan lists research steps in the order they should happen.
	ResearchPlan []string `json:"research_plan,omitempty"`
	// ComplianceRequirements are regulatory tags detected in the text.
	ComplianceRequirements []string `json:"compliance_requirements,omitempty"`
	// IntegrationPoints are external systems mentioned in the text.
	IntegrationPoints []string `json:"integration_points,omitempty"`
	// RiskFactors are static and content-triggered risks.
	RiskFactors []string `json:"risk_factors,omitempty"`
}

// Workers returns primary workers followed by secondary workers.
func (a TaskAnalysis) Workers() []WorkerID {
	out := make([]WorkerID, 0, len(a.PrimaryWorkers)+len(a.SecondaryWorkers))
	out = append(out, a.PrimaryWorkers...)
	out = append(out, a.SecondaryWorkers...)
	return out
}

// IsPrimary reports whether id is one of the primary workers.
func (a TaskAnalysis) IsPrimary(id WorkerID) bool {
	for _, w := range a.PrimaryWorkers {
		if w == id {
			return true
		}
	}
	return false
}

// Requires reports whether the named research flag is set.
func (a TaskAnalysis) Requires(flag string) bool {
	return a.ResearchRequirements[flag]
}
