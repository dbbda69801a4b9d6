package classifier

import (
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/jasonewillis/specialists/pkg/models"
)

var sampleTexts = []string{
	"",
	"   ",
	"Add Stripe subscription billing",
	"Help me write my merit-hiring essay",
	"URGENT: production down, login page returns 500",
	"Fix typo in README",
	"Design a distributed real-time streaming pipeline with machine learning model training, encryption, and Kafka integration on AWS",
	"Improve the onboarding user experience",
	"statistical significance of the A/B test for the checkout page",
	"日本語のテキスト",
	strings.Repeat("security ", 500),
}

func TestClassify_AlwaysReturnsUsableAnalysis(t *testing.T) {
	c := NewDefault()

	for _, text := range sampleTexts {
		a := c.Classify(text, nil)
		if len(a.PrimaryWorkers) == 0 {
			t.Errorf("Classify(%q) returned no primary workers", text)
		}
		if a.ComplexityScore < 1 || a.ComplexityScore > 10 {
			t.Errorf("Classify(%q).ComplexityScore = %d, want in [1,10]", text, a.ComplexityScore)
		}
		if !a.TaskType.Valid() {
			t.Errorf("Classify(%q).TaskType = %q, not a known type", text, a.TaskType)
		}
		if !a.Priority.Valid() {
			t.Errorf("Classify(%q).Priority = %q, not a known priority", text, a.Priority)
		}
		for _, flag := range []string{
			models.ResearchSecurityReview,
			models.ResearchComplianceCheck,
			models.ResearchPerformanceAnalysis,
			models.ResearchHumanReview,
			models.ResearchSpecialistReview,
		} {
			if _, ok := a.ResearchRequirements[flag]; !ok {
				t.Errorf("Classify(%q) missing research flag %s", text, flag)
			}
		}
		for _, id := range a.SecondaryWorkers {
			if a.IsPrimary(id) {
				t.Errorf("Classify(%q): %s is both primary and secondary", text, id)
			}
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewDefault()
	for _, text := range sampleTexts {
		first := c.Classify(text, nil)
		second := c.Classify(text, nil)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("Classify(%q) not deterministic:\n%+v\n%+v", text, first, second)
		}
	}
}

func TestClassify_StripeBilling(t *testing.T) {
	a := NewDefault().Classify("Add Stripe subscription billing", nil)

	if a.TaskType != models.TaskTypePayment {
		t.Errorf("TaskType = %q, want %q", a.TaskType, models.TaskTypePayment)
	}
	if a.Priority.Rank() < models.PriorityMedium.Rank() {
		t.Errorf("Priority = %q, want at least medium", a.Priority)
	}
	if !a.IsPrimary(models.WorkerPayments) {
		t.Errorf("PrimaryWorkers = %v, want payments-specialist included", a.PrimaryWorkers)
	}
	if a.Requires(models.ResearchHumanReview) {
		t.Error("humanReview should not be set for a billing task")
	}
	if !slices.Contains(a.IntegrationPoints, "Stripe") {
		t.Errorf("IntegrationPoints = %v, want Stripe", a.IntegrationPoints)
	}
	if !slices.Contains(a.ComplianceRequirements, "PCI-DSS") {
		t.Errorf("ComplianceRequirements = %v, want PCI-DSS", a.ComplianceRequirements)
	}
	if a.ComplexityScore != 7 {
		t.Errorf("ComplexityScore = %d, want 7", a.ComplexityScore)
	}
	if a.EstimatedEffort != models.EffortLarge {
		t.Errorf("EstimatedEffort = %q, want %q", a.EstimatedEffort, models.EffortLarge)
	}
}

func TestClassify_MeritHiringEssay(t *testing.T) {
	a := NewDefault().Classify("Help me write my merit-hiring essay", nil)

	if a.TaskType != models.TaskTypeCompliance {
		t.Errorf("TaskType = %q, want %q", a.TaskType, models.TaskTypeCompliance)
	}
	if !a.Requires(models.ResearchHumanReview) {
		t.Error("humanReview should be set for essay content")
	}
	if !slices.Contains(a.Specialists, models.WorkerEssayCoach) {
		t.Errorf("Specialists = %v, want essay-coach", a.Specialists)
	}
	if !a.IsPrimary(models.WorkerEssayCoach) {
		t.Errorf("PrimaryWorkers = %v, want essay-coach included", a.PrimaryWorkers)
	}
	if a.PrimaryWorkers[0] != models.WorkerCompliance {
		t.Errorf("PrimaryWorkers[0] = %s, want route primary first", a.PrimaryWorkers[0])
	}
	if !slices.Contains(a.ResearchPlan, "Pause for human review before producing final content") {
		t.Errorf("ResearchPlan = %v, want a human review step", a.ResearchPlan)
	}
}

func TestClassify_DefaultsToAPI(t *testing.T) {
	a := NewDefault().Classify("hello there", nil)

	if a.TaskType != models.TaskTypeAPI {
		t.Errorf("TaskType = %q, want %q", a.TaskType, models.TaskTypeAPI)
	}
	if a.Priority != models.PriorityMedium {
		t.Errorf("Priority = %q, want %q", a.Priority, models.PriorityMedium)
	}
}

func TestClassify_Priority(t *testing.T) {
	c := NewDefault()

	tests := []struct {
		name  string
		text  string
		hints *Hints
		want  models.Priority
	}{
		{"critical keyword", "urgent fix for the api", nil, models.PriorityCritical},
		{"critical beats low", "minor but urgent api change", nil, models.PriorityCritical},
		{"high keyword", "important api change before the deadline", nil, models.PriorityHigh},
		{"low keyword", "nice to have api cleanup", nil, models.PriorityLow},
		{"default medium", "api change", nil, models.PriorityMedium},
		{"hint wins", "urgent api change", &Hints{Priority: models.PriorityLow}, models.PriorityLow},
		{"invalid hint ignored", "urgent api change", &Hints{Priority: "whenever"}, models.PriorityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.text, tt.hints).Priority; got != tt.want {
				t.Errorf("Priority = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify_TaskTypeHint(t *testing.T) {
	a := NewDefault().Classify("Add Stripe subscription billing", &Hints{TaskType: models.TaskTypeDocs})
	if a.TaskType != models.TaskTypeDocs {
		t.Errorf("TaskType = %q, want hinted %q", a.TaskType, models.TaskTypeDocs)
	}
}

func TestClassify_SpecialistPromotedOutOfSecondary(t *testing.T) {
	a := NewDefault().Classify("Update our GDPR retention policy", nil)

	if a.TaskType != models.TaskTypeCompliance {
		t.Fatalf("TaskType = %q, want %q", a.TaskType, models.TaskTypeCompliance)
	}
	want := []models.WorkerID{models.WorkerCompliance, models.WorkerPolicyAnalyst}
	if !slices.Equal(a.PrimaryWorkers, want) {
		t.Errorf("PrimaryWorkers = %v, want %v", a.PrimaryWorkers, want)
	}
	if len(a.SecondaryWorkers) != 0 {
		t.Errorf("SecondaryWorkers = %v, want empty after promotion", a.SecondaryWorkers)
	}
}

func TestClassify_SpecialistsDeduplicated(t *testing.T) {
	a := NewDefault().Classify("statistical significance and statistics regression analysis for the analytics dashboard", nil)

	count := 0
	for _, id := range a.PrimaryWorkers {
		if id == models.WorkerStatistician {
			count++
		}
	}
	if count != 1 {
		t.Errorf("statistician appears %d times in %v, want 1", count, a.PrimaryWorkers)
	}
}

func TestClassify_FallbackWorker(t *testing.T) {
	ref := DefaultReferenceData()
	ref.Routes = nil
	c, err := New(ref)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a := c.Classify("hello", nil)
	if !slices.Equal(a.PrimaryWorkers, []models.WorkerID{models.WorkerGeneralist}) {
		t.Errorf("PrimaryWorkers = %v, want [generalist]", a.PrimaryWorkers)
	}
}

func TestClassify_ComplexityClamped(t *testing.T) {
	c := NewDefault()

	high := c.Classify(sampleTexts[6], nil)
	if high.ComplexityScore != 10 {
		t.Errorf("ComplexityScore = %d, want clamped 10", high.ComplexityScore)
	}
	if !slices.Contains(high.RiskFactors, "high complexity") {
		t.Errorf("RiskFactors = %v, want high complexity", high.RiskFactors)
	}

	low := c.Classify("simple minor typo in docs", nil)
	if low.ComplexityScore != 1 {
		t.Errorf("ComplexityScore = %d, want clamped 1", low.ComplexityScore)
	}
}

func TestClassify_RiskFactorsDeduplicated(t *testing.T) {
	a := NewDefault().Classify("production database migration, migrate the prod tables", nil)

	seen := make(map[string]bool)
	for _, r := range a.RiskFactors {
		if seen[r] {
			t.Errorf("duplicate risk %q in %v", r, a.RiskFactors)
		}
		seen[r] = true
	}
	for _, want := range []string{"production impact", "data migration", "data loss"} {
		if !seen[want] {
			t.Errorf("RiskFactors = %v, want %q", a.RiskFactors, want)
		}
	}
}

func TestEstimateEffort(t *testing.T) {
	tests := []struct {
		complexity int
		workers    int
		want       models.Effort
	}{
		{1, 1, models.EffortSmall},
		{2, 1, models.EffortSmall},
		{3, 1, models.EffortMedium},
		{8, 1, models.EffortMedium},
		{5, 4, models.EffortLarge},
		{10, 5, models.EffortExtraLarge},
		{2, 0, models.EffortSmall},
	}

	for _, tt := range tests {
		_, got := estimateEffort(tt.complexity, tt.workers)
		if got != tt.want {
			t.Errorf("estimateEffort(%d, %d) = %q, want %q", tt.complexity, tt.workers, got, tt.want)
		}
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	ref := DefaultReferenceData()
	ref.HighComplexity = []string{"("}

	if _, err := New(ref); err == nil {
		t.Error("New() with invalid pattern should fail")
	}
}

func TestLoadReferenceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reference.yaml")
	content := `
routes:
  docs:
    primary: [technical-writer, ux-designer]
priority:
  critical: ["sev1"]
fallback: backend-engineer
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write reference file: %v", err)
	}

	ref, err := LoadReferenceFile(path, DefaultReferenceData())
	if err != nil {
		t.Fatalf("LoadReferenceFile() error = %v", err)
	}

	if got := ref.Routes[models.TaskTypeDocs].Primary; !slices.Equal(got, []models.WorkerID{models.WorkerTechWriter, models.WorkerUX}) {
		t.Errorf("docs primary = %v, want overlay value", got)
	}
	if got := ref.Routes[models.TaskTypePayment].Primary; len(got) != 2 {
		t.Errorf("payment primary = %v, want default kept", got)
	}
	if !slices.Equal(ref.Priority.Critical, []string{"sev1"}) {
		t.Errorf("critical keywords = %v, want [sev1]", ref.Priority.Critical)
	}
	if len(ref.Priority.High) == 0 {
		t.Error("high keywords should keep defaults")
	}
	if ref.Fallback != models.WorkerBackend {
		t.Errorf("Fallback = %q, want %q", ref.Fallback, models.WorkerBackend)
	}

	c, err := New(ref)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := c.Classify("sev1 readme outage", nil).Priority; got != models.PriorityCritical {
		t.Errorf("Priority = %q, want critical from overlay keyword", got)
	}
}

func TestLoadReferenceFile_Errors(t *testing.T) {
	if _, err := LoadReferenceFile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultReferenceData()); err == nil {
		t.Error("missing file should fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("routes: [not, a, map"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadReferenceFile(path, DefaultReferenceData()); err == nil {
		t.Error("malformed yaml should fail")
	}
}

func TestReferenceData_Workers(t *testing.T) {
	ids := DefaultReferenceData().Workers()
	for _, id := range ids {
		if !id.Valid() {
			t.Errorf("reference data names unknown worker %q", id)
		}
	}
	if !slices.Contains(ids, models.WorkerGeneralist) {
		t.Error("Workers() should include the fallback")
	}
}

func TestReferenceData_Capabilities(t *testing.T) {
	ref := DefaultReferenceData()
	tests := []struct {
		id   models.WorkerID
		want []string
	}{
		{models.WorkerPayments, []string{"payment"}},
		{models.WorkerEssayCoach, nil},
		{models.WorkerGeneralist, nil},
	}
	for _, tt := range tests {
		got := ref.Capabilities(tt.id)
		if tt.want != nil && !slices.Equal(got, tt.want) {
			t.Errorf("Capabilities(%s) = %v, want %v", tt.id, got, tt.want)
		}
		if !slices.IsSorted(got) {
			t.Errorf("Capabilities(%s) = %v, want sorted", tt.id, got)
		}
	}
	if !slices.Contains(ref.Capabilities(models.WorkerEssayCoach), "specialist") {
		t.Error("essay coach should carry the specialist tag")
	}
	if !slices.Contains(ref.Capabilities(models.WorkerGeneralist), "fallback") {
		t.Error("generalist should carry the fallback tag")
	}
	for _, id := range ref.Workers() {
		if len(ref.Capabilities(id)) == 0 {
			t.Errorf("routable worker %s has no capabilities", id)
		}
	}
}
