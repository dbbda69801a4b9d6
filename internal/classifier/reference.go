package classifier

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"go.yaml.in/yaml/v3"

	"github.com/jasonewillis/specialists/pkg/models"
)

// Route is the base worker selection for a task type.
type Route struct {
	Primary   []models.WorkerID `yaml:"primary"`
	Secondary []models.WorkerID `yaml:"secondary"`
}

// Specialization adds a specialist worker to the primary list when any of
// its patterns match. HumanReview marks content that must pause for a human.
type Specialization struct {
	Worker      models.WorkerID `yaml:"worker"`
	Patterns    []string        `yaml:"patterns"`
	HumanReview bool            `yaml:"human_review"`
}

// TagPattern annotates the analysis with Tag when any pattern matches.
type TagPattern struct {
	Tag      string   `yaml:"tag"`
	Patterns []string `yaml:"patterns"`
}

// PriorityKeywords are plain substrings checked in precedence order.
type PriorityKeywords struct {
	Critical []string `yaml:"critical"`
	High     []string `yaml:"high"`
	Low      []string `yaml:"low"`
}

// ComplianceRule is checked against worker output after execution.
// Forbidden markers are case-insensitive substrings. When RequiredAny is
// non-empty, every successful output must contain at least one of them.
type ComplianceRule struct {
	Forbidden   []string `yaml:"forbidden"`
	RequiredAny []string `yaml:"required_any"`
	Requirement string   `yaml:"requirement"`
}

// Template holds static recommendations for a task type.
type Template struct {
	Recommendations []string `yaml:"recommendations"`
	NextSteps       []string `yaml:"next_steps"`
}

// ReferenceData is the static knowledge the classifier and the engine run
// on. It is built once at startup and treated as read-only afterwards.
// Pattern strings are regular expressions matched against lower-cased text.
type ReferenceData struct {
	TypePatterns         map[models.TaskType][]string       `yaml:"type_patterns"`
	Routes               map[models.TaskType]Route          `yaml:"routes"`
	Priority             PriorityKeywords                   `yaml:"priority"`
	Specializations      []Specialization                   `yaml:"specializations"`
	BaseComplexity       map[models.TaskType]int            `yaml:"base_complexity"`
	HighComplexity       []string                           `yaml:"high_complexity"`
	LowComplexity        []string                           `yaml:"low_complexity"`
	Compliance           []TagPattern                       `yaml:"compliance"`
	Integrations         []TagPattern                       `yaml:"integrations"`
	StaticRisks          map[models.TaskType][]string       `yaml:"static_risks"`
	ContentRisks         []TagPattern                       `yaml:"content_risks"`
	ComplianceRules      map[models.TaskType]ComplianceRule `yaml:"compliance_rules"`
	Templates            map[models.TaskType]Template       `yaml:"templates"`
	SecuritySensitive    []models.TaskType                  `yaml:"security_sensitive"`
	PerformanceSensitive []models.TaskType                  `yaml:"performance_sensitive"`
	Fallback             models.WorkerID                    `yaml:"fallback"`
}

// DefaultReferenceData returns the built-in reference data. Each call
// returns a fresh value.
func DefaultReferenceData() ReferenceData {
	return ReferenceData{
		TypePatterns: map[models.TaskType][]string{
			models.TaskTypePayment:        {`payment`, `stripe`, `billing`, `subscription`, `checkout`, `invoice`, `paypal`, `refund`, `credit card`},
			models.TaskTypeAuth:           {`\bauth`, `login`, `logout`, `oauth`, `saml`, `\bsso\b`, `password`, `session`, `jwt`, `sign.?in`, `sign.?up`, `\bmfa\b|2fa`},
			models.TaskTypeDatabase:       {`database`, `\bdb\b`, `schema`, `\bsql\b`, `postgres`, `mysql`, `mongo`, `\bquery\b|\bqueries\b`, `\bindex(es)?\b`, `\btables?\b`},
			models.TaskTypeFrontend:       {`frontend`, `front-end`, `react`, `\bvue\b`, `angular`, `\bcss\b`, `\bui\b`, `component`, `button`, `page layout`},
			models.TaskTypeDataCollection: {`scrap(e|ing|er)`, `crawl`, `ingest`, `collect(ion)? data|data collection`, `survey`, `form submission`, `\betl\b`},
			models.TaskTypeCompliance:     {`compliance`, `\bgdpr\b`, `hipaa`, `regulat`, `policy`, `merit`, `essay`, `hiring`, `\baudit trail\b`},
			models.TaskTypePerformance:    {`performance`, `\bslow\b`, `latency`, `throughput`, `optimi[sz]e`, `profil(e|ing)`, `cach(e|ing)`, `bottleneck`},
			models.TaskTypeAnalytics:      {`analytics`, `dashboard`, `report`, `metrics`, `statistic`, `kpi`, `funnel`, `cohort`},
			models.TaskTypeSecurity:       {`security`, `vulnerab`, `\bxss\b`, `csrf`, `injection`, `encrypt`, `pentest|penetration`, `\bcve\b`, `exploit`},
			models.TaskTypeInfra:          {`deploy`, `kubernetes|\bk8s\b`, `docker`, `terraform`, `ci/cd|pipeline`, `\baws\b|\bgcp\b|azure`, `infrastructure`, `helm`},
			models.TaskTypeAPI:            {`\bapi\b`, `endpoint`, `\brest\b`, `graphql`, `grpc`, `webhook`},
			models.TaskTypeUX:             {`\bux\b`, `user experience`, `usability`, `onboarding`, `wireframe`, `user flow`, `accessibility`},
			models.TaskTypeTesting:        {`\btests?\b`, `testing`, `unit test`, `integration test`, `\be2e\b`, `coverage`, `\bqa\b`},
			models.TaskTypeDocs:           {`documentation`, `\bdocs?\b`, `readme`, `tutorial`, `guide`, `changelog`},
			models.TaskTypeBugfix:         {`\bbug\b`, `\bfix\b`, `crash`, `broken`, `error`, `exception`, `regression`, `not working`},
		},
		Routes: map[models.TaskType]Route{
			models.TaskTypePayment:        {Primary: []models.WorkerID{models.WorkerPayments, models.WorkerBackend}, Secondary: []models.WorkerID{models.WorkerSecurity, models.WorkerCompliance}},
			models.TaskTypeAuth:           {Primary: []models.WorkerID{models.WorkerAuth, models.WorkerSecurity}, Secondary: []models.WorkerID{models.WorkerBackend}},
			models.TaskTypeDatabase:       {Primary: []models.WorkerID{models.WorkerDatabase}, Secondary: []models.WorkerID{models.WorkerPerformance}},
			models.TaskTypeFrontend:       {Primary: []models.WorkerID{models.WorkerFrontend}, Secondary: []models.WorkerID{models.WorkerUX}},
			models.TaskTypeDataCollection: {Primary: []models.WorkerID{models.WorkerDataEngineer}, Secondary: []models.WorkerID{models.WorkerCompliance}},
			models.TaskTypeCompliance:     {Primary: []models.WorkerID{models.WorkerCompliance}, Secondary: []models.WorkerID{models.WorkerPolicyAnalyst}},
			models.TaskTypePerformance:    {Primary: []models.WorkerID{models.WorkerPerformance}, Secondary: []models.WorkerID{models.WorkerDatabase}},
			models.TaskTypeAnalytics:      {Primary: []models.WorkerID{models.WorkerDataAnalyst}, Secondary: []models.WorkerID{models.WorkerDataEngineer}},
			models.TaskTypeSecurity:       {Primary: []models.WorkerID{models.WorkerSecurity}, Secondary: []models.WorkerID{models.WorkerDevOps}},
			models.TaskTypeInfra:          {Primary: []models.WorkerID{models.WorkerDevOps}, Secondary: []models.WorkerID{models.WorkerSecurity}},
			models.TaskTypeAPI:            {Primary: []models.WorkerID{models.WorkerAPIDesigner, models.WorkerBackend}, Secondary: []models.WorkerID{models.WorkerTechWriter}},
			models.TaskTypeUX:             {Primary: []models.WorkerID{models.WorkerUX, models.WorkerFrontend}},
			models.TaskTypeTesting:        {Primary: []models.WorkerID{models.WorkerQA}, Secondary: []models.WorkerID{models.WorkerBackend}},
			models.TaskTypeDocs:           {Primary: []models.WorkerID{models.WorkerTechWriter}},
			models.TaskTypeBugfix:         {Primary: []models.WorkerID{models.WorkerDebugger}, Secondary: []models.WorkerID{models.WorkerQA}},
		},
		Priority: PriorityKeywords{
			Critical: []string{"urgent", "critical", "asap", "emergency", "outage", "production down", "security breach", "immediately"},
			High:     []string{"important", "high priority", "soon", "blocker", "blocking", "deadline"},
			Low:      []string{"nice to have", "when possible", "low priority", "eventually", "someday", "minor"},
		},
		Specializations: []Specialization{
			{Worker: models.WorkerStatistician, Patterns: []string{`statistic`, `regression analysis`, `significance`, `p-value`, `hypothesis test`}},
			{Worker: models.WorkerPolicyAnalyst, Patterns: []string{`legal`, `policy`, `regulation`, `statute`}},
			{Worker: models.WorkerFederalResume, Patterns: []string{`federal`, `usajobs`, `federal-format`, `\bgs-\d`}},
			{Worker: models.WorkerEssayCoach, Patterns: []string{`essay`, `merit.hiring`, `\bksas?\b`, `narrative statement`}, HumanReview: true},
			{Worker: models.WorkerDataAnalyst, Patterns: []string{`machine learning`, `\bml model`}},
		},
		BaseComplexity: map[models.TaskType]int{
			models.TaskTypePayment:        7,
			models.TaskTypeAuth:           7,
			models.TaskTypeDatabase:       6,
			models.TaskTypeFrontend:       4,
			models.TaskTypeDataCollection: 5,
			models.TaskTypeCompliance:     6,
			models.TaskTypePerformance:    6,
			models.TaskTypeAnalytics:      5,
			models.TaskTypeSecurity:       8,
			models.TaskTypeInfra:          6,
			models.TaskTypeAPI:            5,
			models.TaskTypeUX:             3,
			models.TaskTypeTesting:        4,
			models.TaskTypeDocs:           2,
			models.TaskTypeBugfix:         3,
		},
		HighComplexity: []string{
			`integrat`,
			`real-?time|websocket|streaming`,
			`secur|encrypt`,
			`distributed|microservice|cluster`,
			`machine learning|\bml\b|model training`,
		},
		LowComplexity: []string{
			`\bsimple\b`,
			`\bminor\b`,
			`\bdocs?\b|documentation|readme`,
			`typo`,
		},
		Compliance: []TagPattern{
			{Tag: "GDPR", Patterns: []string{`\bgdpr\b`, `personal data`, `right to be forgotten`}},
			{Tag: "HIPAA", Patterns: []string{`hipaa`, `patient`, `\bphi\b`, `health record`}},
			{Tag: "PCI-DSS", Patterns: []string{`\bpci\b`, `credit card`, `card number`, `stripe`, `payment`}},
			{Tag: "SOC2", Patterns: []string{`soc ?2`, `audit log`}},
			{Tag: "CCPA", Patterns: []string{`ccpa`, `california privacy`}},
			{Tag: "Section 508", Patterns: []string{`section 508`, `accessibility`, `\bwcag\b`}},
			{Tag: "Merit System Principles", Patterns: []string{`merit`, `federal hiring`, `usajobs`}},
			{Tag: "Privacy Act", Patterns: []string{`privacy act`, `\bpii\b`, `social security number|\bssn\b`}},
		},
		Integrations: []TagPattern{
			{Tag: "Stripe", Patterns: []string{`stripe`}},
			{Tag: "PayPal", Patterns: []string{`paypal`}},
			{Tag: "OAuth", Patterns: []string{`oauth`}},
			{Tag: "SAML", Patterns: []string{`saml`}},
			{Tag: "AWS", Patterns: []string{`\baws\b`, `\bs3\b`, `lambda`}},
			{Tag: "GCP", Patterns: []string{`\bgcp\b`, `google cloud`, `bigquery`}},
			{Tag: "Azure", Patterns: []string{`azure`}},
			{Tag: "Kafka", Patterns: []string{`kafka`}},
			{Tag: "Redis", Patterns: []string{`redis`}},
			{Tag: "PostgreSQL", Patterns: []string{`postgres`}},
			{Tag: "MongoDB", Patterns: []string{`mongo`}},
			{Tag: "Elasticsearch", Patterns: []string{`elasticsearch|elastic search`}},
			{Tag: "Twilio", Patterns: []string{`twilio`}},
			{Tag: "SendGrid", Patterns: []string{`sendgrid`}},
			{Tag: "Slack", Patterns: []string{`slack`}},
			{Tag: "GitHub", Patterns: []string{`github`}},
			{Tag: "Salesforce", Patterns: []string{`salesforce`}},
			{Tag: "USAJobs API", Patterns: []string{`usajobs`}},
			{Tag: "Webhooks", Patterns: []string{`webhook`}},
			{Tag: "GraphQL", Patterns: []string{`graphql`}},
			{Tag: "REST API", Patterns: []string{`\brest\b`}},
		},
		StaticRisks: map[models.TaskType][]string{
			models.TaskTypePayment:        {"financial data exposure", "payment provider downtime"},
			models.TaskTypeAuth:           {"account takeover", "session fixation"},
			models.TaskTypeDatabase:       {"data loss", "lock contention"},
			models.TaskTypeFrontend:       {"browser compatibility"},
			models.TaskTypeDataCollection: {"consent requirements", "source rate limits"},
			models.TaskTypeCompliance:     {"regulatory penalty", "policy misinterpretation"},
			models.TaskTypePerformance:    {"regression under load"},
			models.TaskTypeAnalytics:      {"misleading metrics"},
			models.TaskTypeSecurity:       {"exploitable vulnerability", "incomplete remediation"},
			models.TaskTypeInfra:          {"deployment downtime", "configuration drift"},
			models.TaskTypeAPI:            {"contract drift"},
			models.TaskTypeUX:             {"user confusion"},
			models.TaskTypeTesting:        {"flaky tests"},
			models.TaskTypeDocs:           {"stale documentation"},
			models.TaskTypeBugfix:         {"incomplete root cause"},
		},
		ContentRisks: []TagPattern{
			{Tag: "production impact", Patterns: []string{`production`, `\bprod\b`, `live system`}},
			{Tag: "breaking change", Patterns: []string{`breaking`, `backward.?incompatib`}},
			{Tag: "data migration", Patterns: []string{`migrat`}},
		},
		ComplianceRules: map[models.TaskType]ComplianceRule{
			models.TaskTypeCompliance: {
				Forbidden: []string{
					"here is your essay",
					"i've written your essay",
					"i have written your essay",
					"here's a draft of your essay",
					"ready to submit",
				},
				RequiredAny: []string{"200 word", "200-word"},
				Requirement: "state the 200 word limit",
			},
			models.TaskTypeSecurity: {
				Forbidden: []string{"disable authentication", "hardcoded password"},
			},
		},
		Templates: map[models.TaskType]Template{
			models.TaskTypePayment: {
				Recommendations: []string{"Use the provider's hosted fields so card data never touches your servers", "Make webhook handlers idempotent"},
				NextSteps:       []string{"Set up a sandbox account", "Write integration tests against test-mode keys"},
			},
			models.TaskTypeAuth: {
				Recommendations: []string{"Store only salted password hashes", "Rotate session tokens on privilege change"},
				NextSteps:       []string{"Threat-model the login flow", "Add rate limiting to credential endpoints"},
			},
			models.TaskTypeDatabase: {
				Recommendations: []string{"Review query plans for new indexes", "Make schema changes backward compatible"},
				NextSteps:       []string{"Write a reversible migration", "Load-test with production-sized data"},
			},
			models.TaskTypeFrontend: {
				Recommendations: []string{"Keep components small and testable"},
				NextSteps:       []string{"Review designs with UX", "Add visual regression tests"},
			},
			models.TaskTypeDataCollection: {
				Recommendations: []string{"Record consent alongside collected data", "Respect source rate limits"},
				NextSteps:       []string{"Define a retention policy", "Validate the ingestion schema"},
			},
			models.TaskTypeCompliance: {
				Recommendations: []string{"Write the final text yourself; use the feedback as guidance only", "Keep each response within the stated 200 word limit"},
				NextSteps:       []string{"Draft your own response", "Resume the run with your draft for review"},
			},
			models.TaskTypePerformance: {
				Recommendations: []string{"Measure before and after every change"},
				NextSteps:       []string{"Capture a baseline profile", "Set latency budgets"},
			},
			models.TaskTypeAnalytics: {
				Recommendations: []string{"Document metric definitions next to the queries"},
				NextSteps:       []string{"Validate numbers against a known source"},
			},
			models.TaskTypeSecurity: {
				Recommendations: []string{"Fix the root cause, not only the reported payload", "Add a regression test for the vulnerability"},
				NextSteps:       []string{"Schedule a follow-up review", "Check dependencies for known CVEs"},
			},
			models.TaskTypeInfra: {
				Recommendations: []string{"Keep infrastructure in version control"},
				NextSteps:       []string{"Plan a rollback", "Stage the change before production"},
			},
			models.TaskTypeAPI: {
				Recommendations: []string{"Version the API from the first release", "Publish an OpenAPI description"},
				NextSteps:       []string{"Review the contract with consumers", "Add contract tests"},
			},
			models.TaskTypeUX: {
				Recommendations: []string{"Test the flow with real users"},
				NextSteps:       []string{"Build a clickable prototype"},
			},
			models.TaskTypeTesting: {
				Recommendations: []string{"Test behavior rather than implementation details"},
				NextSteps:       []string{"Wire the suite into CI"},
			},
			models.TaskTypeDocs: {
				Recommendations: []string{"Keep examples runnable"},
				NextSteps:       []string{"Ask a new team member to follow the docs"},
			},
			models.TaskTypeBugfix: {
				Recommendations: []string{"Reproduce the bug with a failing test first"},
				NextSteps:       []string{"Check for the same pattern elsewhere"},
			},
		},
		SecuritySensitive:    []models.TaskType{models.TaskTypePayment, models.TaskTypeAuth, models.TaskTypeSecurity},
		PerformanceSensitive: []models.TaskType{models.TaskTypePerformance, models.TaskTypeDatabase},
		Fallback:             models.WorkerGeneralist,
	}
}

// LoadReferenceFile reads a YAML overlay and applies it on top of base.
// Map entries replace the matching keys; non-empty lists replace the
// corresponding base lists.
func LoadReferenceFile(path string, base ReferenceData) (ReferenceData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read reference file: %w", err)
	}

	var overlay ReferenceData
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return base, fmt.Errorf("parse reference file %s: %w", path, err)
	}

	out := base.clone()
	mergeMap(&out.TypePatterns, overlay.TypePatterns)
	mergeMap(&out.Routes, overlay.Routes)
	mergeMap(&out.BaseComplexity, overlay.BaseComplexity)
	mergeMap(&out.StaticRisks, overlay.StaticRisks)
	mergeMap(&out.ComplianceRules, overlay.ComplianceRules)
	mergeMap(&out.Templates, overlay.Templates)
	if len(overlay.Priority.Critical) > 0 {
		out.Priority.Critical = overlay.Priority.Critical
	}
	if len(overlay.Priority.High) > 0 {
		out.Priority.High = overlay.Priority.High
	}
	if len(overlay.Priority.Low) > 0 {
		out.Priority.Low = overlay.Priority.Low
	}
	replaceIfSet(&out.Specializations, overlay.Specializations)
	replaceIfSet(&out.HighComplexity, overlay.HighComplexity)
	replaceIfSet(&out.LowComplexity, overlay.LowComplexity)
	replaceIfSet(&out.Compliance, overlay.Compliance)
	replaceIfSet(&out.Integrations, overlay.Integrations)
	replaceIfSet(&out.ContentRisks, overlay.ContentRisks)
	replaceIfSet(&out.SecuritySensitive, overlay.SecuritySensitive)
	replaceIfSet(&out.PerformanceSensitive, overlay.PerformanceSensitive)
	if overlay.Fallback != "" {
		out.Fallback = overlay.Fallback
	}

	return out, nil
}

// Workers returns every worker id referenced anywhere in the data, in a
// stable order. Used to check the data against the registry at startup.
func (r ReferenceData) Workers() []models.WorkerID {
	seen := make(map[models.WorkerID]bool)
	var out []models.WorkerID
	add := func(ids ...models.WorkerID) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	for _, tt := range models.AllTaskTypes {
		route := r.Routes[tt]
		add(route.Primary...)
		add(route.Secondary...)
	}
	for _, s := range r.Specializations {
		add(s.Worker)
	}
	if r.Fallback != "" {
		add(r.Fallback)
	}
	return out
}

// Capabilities returns the tags a worker is registered under: every task
// type whose route names it, plus "specialist" and "fallback" where they
// apply. The result is sorted.
func (r ReferenceData) Capabilities(id models.WorkerID) []string {
	var tags []string
	for tt, route := range r.Routes {
		if slices.Contains(route.Primary, id) || slices.Contains(route.Secondary, id) {
			tags = append(tags, string(tt))
		}
	}
	for _, s := range r.Specializations {
		if s.Worker == id {
			tags = append(tags, "specialist")
			break
		}
	}
	if r.Fallback == id {
		tags = append(tags, "fallback")
	}
	slices.Sort(tags)
	return tags
}

func (r ReferenceData) clone() ReferenceData {
	c := r
	c.TypePatterns = maps.Clone(r.TypePatterns)
	c.Routes = maps.Clone(r.Routes)
	c.BaseComplexity = maps.Clone(r.BaseComplexity)
	c.StaticRisks = maps.Clone(r.StaticRisks)
	c.ComplianceRules = maps.Clone(r.ComplianceRules)
	c.Templates = maps.Clone(r.Templates)
	c.Specializations = slices.Clone(r.Specializations)
	c.HighComplexity = slices.Clone(r.HighComplexity)
	c.LowComplexity = slices.Clone(r.LowComplexity)
	c.Compliance = slices.Clone(r.Compliance)
	c.Integrations = slices.Clone(r.Integrations)
	c.ContentRisks = slices.Clone(r.ContentRisks)
	c.SecuritySensitive = slices.Clone(r.SecuritySensitive)
	c.PerformanceSensitive = slices.Clone(r.PerformanceSensitive)
	return c
}

func mergeMap[K comparable, V any](dst *map[K]V, src map[K]V) {
	if len(src) == 0 {
		return
	}
	if *dst == nil {
		*dst = make(map[K]V, len(src))
	}
	maps.Copy(*dst, src)
}

func replaceIfSet[T any](dst *[]T, src []T) {
	if len(src) > 0 {
		*dst = src
	}
}
