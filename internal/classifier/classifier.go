// Package classifier turns free-text tasks into a structured TaskAnalysis.
package classifier

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/jasonewillis/specialists/pkg/models"
)

// Hints carries optional caller-provided overrides.
type Hints struct {
	// Priority wins over keyword detection when it is a valid priority.
	Priority models.Priority
	// TaskType skips type detection when it is a valid task type.
	TaskType models.TaskType
}

type compiledTag struct {
	tag      string
	patterns []*regexp.Regexp
}

type compiledSpecialization struct {
	worker      models.WorkerID
	patterns    []*regexp.Regexp
	humanReview bool
}

// Classifier is safe for concurrent use. All of its state is fixed at
// construction.
type Classifier struct {
	ref ReferenceData

	typePatterns    map[models.TaskType][]*regexp.Regexp
	specializations []compiledSpecialization
	highComplexity  []*regexp.Regexp
	lowComplexity   []*regexp.Regexp
	compliance      []compiledTag
	integrations    []compiledTag
	contentRisks    []compiledTag
}

// New compiles ref into a Classifier. It fails only if a pattern is not a
// valid regular expression.
func New(ref ReferenceData) (*Classifier, error) {
	c := &Classifier{
		ref:          ref.clone(),
		typePatterns: make(map[models.TaskType][]*regexp.Regexp, len(ref.TypePatterns)),
	}

	var err error
	for tt, patterns := range ref.TypePatterns {
		if c.typePatterns[tt], err = compileAll(patterns); err != nil {
			return nil, fmt.Errorf("type %s: %w", tt, err)
		}
	}
	for _, s := range ref.Specializations {
		compiled, err := compileAll(s.Patterns)
		if err != nil {
			return nil, fmt.Errorf("specialization %s: %w", s.Worker, err)
		}
		c.specializations = append(c.specializations, compiledSpecialization{
			worker:      s.Worker,
			patterns:    compiled,
			humanReview: s.HumanReview,
		})
	}
	if c.highComplexity, err = compileAll(ref.HighComplexity); err != nil {
		return nil, fmt.Errorf("high complexity: %w", err)
	}
	if c.lowComplexity, err = compileAll(ref.LowComplexity); err != nil {
		return nil, fmt.Errorf("low complexity: %w", err)
	}
	if c.compliance, err = compileTags(ref.Compliance); err != nil {
		return nil, fmt.Errorf("compliance: %w", err)
	}
	if c.integrations, err = compileTags(ref.Integrations); err != nil {
		return nil, fmt.Errorf("integrations: %w", err)
	}
	if c.contentRisks, err = compileTags(ref.ContentRisks); err != nil {
		return nil, fmt.Errorf("content risks: %w", err)
	}

	return c, nil
}

// NewDefault returns a Classifier over DefaultReferenceData.
func NewDefault() *Classifier {
	c, err := New(DefaultReferenceData())
	if err != nil {
		panic(fmt.Sprintf("default reference data: %v", err))
	}
	return c
}

// Reference returns a copy of the reference data the classifier was built with.
func (c *Classifier) Reference() ReferenceData {
	return c.ref.clone()
}

// Classify analyzes text. It never fails: unknown text falls back to the
// api type, medium priority, and the fallback worker when no route exists.
func (c *Classifier) Classify(text string, hints *Hints) models.TaskAnalysis {
	lower := strings.ToLower(text)

	taskType := c.detectType(lower)
	if hints != nil && hints.TaskType.Valid() {
		taskType = hints.TaskType
	}

	priority := c.detectPriority(lower)
	if hints != nil && hints.Priority.Valid() {
		priority = hints.Priority
	}

	primary, secondary, specialists, humanReview := c.selectWorkers(taskType, lower)
	complexity := c.scoreComplexity(taskType, lower)
	hours, effort := estimateEffort(complexity, len(primary)+len(secondary))

	analysis := models.TaskAnalysis{
		TaskType:               taskType,
		Priority:               priority,
		PrimaryWorkers:         primary,
		SecondaryWorkers:       secondary,
		Specialists:            specialists,
		ComplexityScore:        complexity,
		EstimatedHours:         hours,
		EstimatedEffort:        effort,
		ComplianceRequirements: matchTags(c.compliance, lower),
		IntegrationPoints:      matchTags(c.integrations, lower),
	}
	analysis.RiskFactors = c.assessRisks(taskType, complexity, lower)
	analysis.ResearchRequirements = c.researchFlags(analysis, lower, humanReview)
	analysis.ResearchPlan = researchPlan(analysis)

	return analysis
}

// detectType returns the type with the most matching patterns. Ties go to
// the type listed first in models.AllTaskTypes.
func (c *Classifier) detectType(lower string) models.TaskType {
	best := models.TaskTypeAPI
	bestScore := 0
	for _, tt := range models.AllTaskTypes {
		score := countMatches(c.typePatterns[tt], lower)
		if score > bestScore {
			best, bestScore = tt, score
		}
	}
	return best
}

func (c *Classifier) detectPriority(lower string) models.Priority {
	switch {
	case containsAny(lower, c.ref.Priority.Critical):
		return models.PriorityCritical
	case containsAny(lower, c.ref.Priority.High):
		return models.PriorityHigh
	case containsAny(lower, c.ref.Priority.Low):
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}

func (c *Classifier) selectWorkers(tt models.TaskType, lower string) (primary, secondary, specialists []models.WorkerID, humanReview bool) {
	route := c.ref.Routes[tt]
	primary = appendUnique(nil, route.Primary...)

	for _, s := range c.specializations {
		if countMatches(s.patterns, lower) == 0 {
			continue
		}
		specialists = appendUnique(specialists, s.worker)
		primary = appendUnique(primary, s.worker)
		if s.humanReview {
			humanReview = true
		}
	}

	for _, id := range route.Secondary {
		if !slices.Contains(primary, id) {
			secondary = appendUnique(secondary, id)
		}
	}

	if len(primary) == 0 {
		fallback := c.ref.Fallback
		if fallback == "" {
			fallback = models.WorkerGeneralist
		}
		primary = []models.WorkerID{fallback}
	}
	return primary, secondary, specialists, humanReview
}

func (c *Classifier) scoreComplexity(tt models.TaskType, lower string) int {
	score, ok := c.ref.BaseComplexity[tt]
	if !ok {
		score = 5
	}
	score += countMatches(c.highComplexity, lower)
	score -= countMatches(c.lowComplexity, lower)
	return min(max(score, 1), 10)
}

// estimateEffort converts complexity and worker count to hours and a bucket.
func estimateEffort(complexity, workers int) (float64, models.Effort) {
	if workers < 1 {
		workers = 1
	}
	hours := float64(complexity) * 2 * (1 + 0.3*float64(workers-1))
	switch {
	case hours <= 4:
		return hours, models.EffortSmall
	case hours <= 16:
		return hours, models.EffortMedium
	case hours <= 40:
		return hours, models.EffortLarge
	default:
		return hours, models.EffortExtraLarge
	}
}

func (c *Classifier) assessRisks(tt models.TaskType, complexity int, lower string) []string {
	var risks []string
	if complexity >= 8 {
		risks = append(risks, "high complexity")
	}
	for _, r := range c.ref.StaticRisks[tt] {
		risks = appendUnique(risks, r)
	}
	for _, r := range matchTags(c.contentRisks, lower) {
		risks = appendUnique(risks, r)
	}
	return risks
}

func (c *Classifier) researchFlags(a models.TaskAnalysis, lower string, humanReview bool) map[string]bool {
	security := slices.Contains(c.ref.SecuritySensitive, a.TaskType) ||
		slices.Contains(a.ComplianceRequirements, "PCI-DSS") ||
		slices.Contains(a.ComplianceRequirements, "HIPAA")
	performance := slices.Contains(c.ref.PerformanceSensitive, a.TaskType) ||
		strings.Contains(lower, "real-time") || strings.Contains(lower, "realtime") ||
		strings.Contains(lower, "scale")

	return map[string]bool{
		models.ResearchSecurityReview:      security,
		models.ResearchComplianceCheck:     a.TaskType == models.TaskTypeCompliance || len(a.ComplianceRequirements) > 0,
		models.ResearchPerformanceAnalysis: performance,
		models.ResearchHumanReview:         humanReview,
		models.ResearchSpecialistReview:    len(a.Specialists) > 0,
	}
}

// researchPlan lists research steps in the order they should run.
func researchPlan(a models.TaskAnalysis) []string {
	plan := []string{fmt.Sprintf("Clarify requirements and constraints for the %s task", a.TaskType)}
	if a.Requires(models.ResearchSecurityReview) {
		plan = append(plan, "Review security implications and data exposure")
	}
	if a.Requires(models.ResearchComplianceCheck) {
		if len(a.ComplianceRequirements) > 0 {
			plan = append(plan, "Check compliance obligations: "+strings.Join(a.ComplianceRequirements, ", "))
		} else {
			plan = append(plan, "Check domain compliance obligations")
		}
	}
	if a.Requires(models.ResearchPerformanceAnalysis) {
		plan = append(plan, "Establish a performance baseline and targets")
	}
	if len(a.IntegrationPoints) > 0 {
		plan = append(plan, "Review integration contracts: "+strings.Join(a.IntegrationPoints, ", "))
	}
	if a.Requires(models.ResearchSpecialistReview) {
		names := make([]string, len(a.Specialists))
		for i, s := range a.Specialists {
			names[i] = string(s)
		}
		plan = append(plan, "Consult specialists: "+strings.Join(names, ", "))
	}
	if a.Requires(models.ResearchHumanReview) {
		plan = append(plan, "Pause for human review before producing final content")
	}
	plan = append(plan, "Consolidate findings into an implementation plan")
	return plan
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func compileTags(tags []TagPattern) ([]compiledTag, error) {
	out := make([]compiledTag, 0, len(tags))
	for _, t := range tags {
		compiled, err := compileAll(t.Patterns)
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", t.Tag, err)
		}
		out = append(out, compiledTag{tag: t.Tag, patterns: compiled})
	}
	return out, nil
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// matchTags returns matching tags in table order, without duplicates.
func matchTags(tags []compiledTag, text string) []string {
	var out []string
	for _, t := range tags {
		if countMatches(t.patterns, text) > 0 {
			out = appendUnique(out, t.tag)
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func appendUnique[T comparable](list []T, items ...T) []T {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}
