package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jasonewillis/specialists/internal/classifier"
	"github.com/jasonewillis/specialists/pkg/models"
)

// errCancelled stops the drive loop when the run context is done.
var errCancelled = errors.New("run cancelled")

// InterruptReason is recorded on runs suspended at the essay gate.
const InterruptReason = "essay content requires human review before generation"

// phaseProgress is the progress percentage reached when a phase completes.
var phaseProgress = map[models.Phase]int{
	models.PhaseAnalyzeQuery:            10,
	models.PhaseRouteToSpecialists:      20,
	models.PhaseEssayInterrupt:          25,
	models.PhaseParallelRoleAnalysis:    60,
	models.PhaseSequentialCompliance:    60,
	models.PhaseExecuteParallel:         60,
	models.PhaseExecuteSequential:       60,
	models.PhaseStreamProgress:          70,
	models.PhaseComplianceValidation:    80,
	models.PhaseConsolidateResults:      90,
	models.PhaseGenerateRecommendations: 95,
	models.PhaseDone:                    100,
}

// Route picks the execution phase for a classified request. The checks
// run in order and the first match wins.
func Route(a models.TaskAnalysis) models.Phase {
	switch {
	case a.Requires(models.ResearchHumanReview):
		return models.PhaseEssayInterrupt
	case len(a.Specialists) > 0 && len(a.PrimaryWorkers) > 1:
		return models.PhaseParallelRoleAnalysis
	case a.TaskType == models.TaskTypeCompliance:
		return models.PhaseSequentialCompliance
	case len(a.PrimaryWorkers) > 1:
		return models.PhaseExecuteParallel
	default:
		return models.PhaseExecuteSequential
	}
}

// nextPhase is the transition taken after phase completes.
func nextPhase(st *models.WorkflowState, phase models.Phase) models.Phase {
	switch phase {
	case models.PhaseAnalyzeQuery:
		return models.PhaseRouteToSpecialists
	case models.PhaseRouteToSpecialists:
		return Route(st.Classification)
	case models.PhaseEssayInterrupt:
		return models.PhaseSuspended
	case models.PhaseStreamProgress:
		return models.PhaseComplianceValidation
	case models.PhaseComplianceValidation:
		return models.PhaseConsolidateResults
	case models.PhaseConsolidateResults:
		return models.PhaseGenerateRecommendations
	case models.PhaseGenerateRecommendations:
		return models.PhaseDone
	}
	if phase.IsExecution() {
		return models.PhaseStreamProgress
	}
	return models.PhaseDone
}

// resumeTarget returns the gate a suspended run stopped at and the phase
// it continues with. Only the essay gate suspends today, and its workers
// run sequentially with the human input.
func resumeTarget(st *models.WorkflowState) (gate, next models.Phase, ok bool) {
	if slices.Contains(st.CompletedPhases, models.PhaseEssayInterrupt) {
		return models.PhaseEssayInterrupt, models.PhaseExecuteSequential, true
	}
	return "", "", false
}

func (r *run) runPhase(ctx context.Context, phase models.Phase) error {
	switch phase {
	case models.PhaseAnalyzeQuery:
		return r.analyzeQuery()
	case models.PhaseRouteToSpecialists:
		return r.routeToSpecialists()
	case models.PhaseEssayInterrupt:
		r.essayInterrupt()
	case models.PhaseParallelRoleAnalysis, models.PhaseExecuteParallel:
		return r.fanOut(ctx, phase)
	case models.PhaseSequentialCompliance, models.PhaseExecuteSequential:
		return r.chain(ctx, phase)
	case models.PhaseStreamProgress:
		r.streamProgress(ctx)
	case models.PhaseComplianceValidation:
		r.complianceValidation(ctx)
	case models.PhaseConsolidateResults:
		r.consolidateResults()
	case models.PhaseGenerateRecommendations:
		r.generateRecommendations()
	default:
		return fmt.Errorf("no handler for phase %q", phase)
	}
	return nil
}

func (r *run) analyzeQuery() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("classifier panic: %v", p)
		}
	}()

	a := r.e.classifier.Classify(r.st.OriginalQuery, hintsFromProfile(r.st.Profile))
	r.st.Classification = a
	r.log.Info("query classified",
		"task_type", a.TaskType,
		"priority", a.Priority,
		"complexity", a.ComplexityScore,
		"primary", len(a.PrimaryWorkers),
		"secondary", len(a.SecondaryWorkers))
	return nil
}

func hintsFromProfile(profile map[string]string) *classifier.Hints {
	p, t := profile[ProfilePriority], profile[ProfileTaskType]
	if p == "" && t == "" {
		return nil
	}
	return &classifier.Hints{
		Priority: models.Priority(p),
		TaskType: models.TaskType(t),
	}
}

// routeToSpecialists resolves every selected worker before anything is
// dispatched, so an unregistered id fails the run without partial work.
func (r *run) routeToSpecialists() error {
	if err := r.e.registry.Check(r.st.Classification.Workers()); err != nil {
		return err
	}
	r.log.Debug("route selected", "next", Route(r.st.Classification))
	return nil
}

func (r *run) essayInterrupt() {
	r.st.NeedsHumanReview = true
	r.st.InterruptRequested = true
	r.st.InterruptReason = InterruptReason
	r.st.AddWarning("Essay content detected: a human must review the request and provide input before any worker runs")
}

func (r *run) streamProgress(ctx context.Context) {
	r.st.SetProgress(phaseProgress[models.PhaseStreamProgress])
	ok, failed := len(r.st.WorkerResults), len(r.st.WorkerErrors)
	r.emit(ctx, models.Event{
		Type:    models.EventProgress,
		Phase:   models.PhaseStreamProgress,
		Message: fmt.Sprintf("%d of %d workers succeeded", ok, len(r.st.Dispatched)),
		Payload: map[string]any{
			"percentage": r.st.ProgressPercentage,
			"succeeded":  ok,
			"failed":     failed,
			"dispatched": len(r.st.Dispatched),
		},
	})
}

// complianceValidation checks successful outputs against the task type's
// rule. Findings only add warnings; outputs are left as returned.
func (r *run) complianceValidation(ctx context.Context) {
	rule, ok := r.e.reference.ComplianceRules[r.st.Classification.TaskType]
	if !ok {
		return
	}
	for _, id := range r.st.Dispatched {
		res, ok := r.st.WorkerResults[id]
		if !ok {
			continue
		}
		for _, finding := range checkCompliance(rule, res.Output) {
			msg := fmt.Sprintf("compliance (heuristic check): %s %s", id, finding)
			r.st.AddWarning(msg)
			r.st.NeedsHumanReview = true
			r.log.Warn("compliance warning", "worker", id, "finding", finding)
			r.emit(ctx, models.Event{
				Type:     models.EventComplianceWarning,
				Phase:    models.PhaseComplianceValidation,
				WorkerID: id,
				Message:  msg,
			})
		}
	}
}

// checkCompliance is substring matching and will miss paraphrases.
func checkCompliance(rule classifier.ComplianceRule, output string) []string {
	lower := strings.ToLower(output)
	var findings []string
	for _, marker := range rule.Forbidden {
		if strings.Contains(lower, strings.ToLower(marker)) {
			findings = append(findings, fmt.Sprintf("output contains forbidden marker %q", marker))
		}
	}
	if len(rule.RequiredAny) > 0 && !slices.ContainsFunc(rule.RequiredAny, func(s string) bool {
		return strings.Contains(lower, strings.ToLower(s))
	}) {
		requirement := rule.Requirement
		if requirement == "" {
			requirement = "include one of " + strings.Join(rule.RequiredAny, ", ")
		}
		findings = append(findings, "output does not "+requirement)
	}
	return findings
}

// consolidateResults joins successful outputs, primaries first, labelled by
// worker id.
func (r *run) consolidateResults() {
	a := r.st.Classification
	order := slices.Concat(a.PrimaryWorkers, a.SecondaryWorkers)
	for _, id := range r.st.Dispatched {
		if !slices.Contains(order, id) {
			order = append(order, id)
		}
	}

	var b strings.Builder
	succeeded := 0
	for _, id := range order {
		res, ok := r.st.WorkerResults[id]
		if !ok {
			continue
		}
		succeeded++
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", id, strings.TrimSpace(res.Output))
	}
	r.st.ConsolidatedResponse = b.String()

	r.st.Confidence = 0
	if n := len(r.st.Dispatched); n > 0 {
		r.st.Confidence = float64(succeeded) / float64(n)
	}
}

func (r *run) generateRecommendations() {
	tmpl := r.e.reference.Templates[r.st.Classification.TaskType]
	recs := slices.Clone(tmpl.Recommendations)
	steps := slices.Clone(tmpl.NextSteps)

	if r.st.NeedsHumanReview {
		steps = append(steps, "Have a human review the flagged warnings before acting on the response")
	}
	var failed []string
	for _, id := range r.st.Dispatched {
		if _, ok := r.st.WorkerErrors[id]; ok {
			failed = append(failed, string(id))
		}
	}
	if len(failed) > 0 {
		steps = append(steps, "Re-run or replace failed workers: "+strings.Join(failed, ", "))
	}

	r.st.Recommendations = recs
	r.st.NextSteps = steps
}
