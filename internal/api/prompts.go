package api

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/jasonewillis/specialists/internal/registry"
	"github.com/jasonewillis/specialists/pkg/models"
)

// roles describes each worker to the model.
var roles = map[models.WorkerID]string{
	models.WorkerPayments:      "a payments engineer experienced with card processing, subscriptions and PCI-DSS scope reduction",
	models.WorkerAuth:          "an authentication specialist covering sessions, OAuth/OIDC, SSO and credential storage",
	models.WorkerDatabase:      "a database architect focused on schema design, indexing, migrations and query plans",
	models.WorkerFrontend:      "a frontend engineer working in modern component frameworks",
	models.WorkerBackend:       "a backend engineer designing services, data flow and error handling",
	models.WorkerDataEngineer:  "a data engineer building ingestion pipelines and ETL jobs",
	models.WorkerCompliance:    "a compliance officer who checks requests against regulations and stated rules",
	models.WorkerPerformance:   "a performance engineer who profiles before optimizing",
	models.WorkerDataAnalyst:   "a data analyst who designs metrics, dashboards and reports",
	models.WorkerSecurity:      "a security auditor looking for vulnerabilities and unsafe defaults",
	models.WorkerDevOps:        "a DevOps engineer covering deployment, infrastructure and observability",
	models.WorkerAPIDesigner:   "an API designer focused on resource modelling, versioning and error contracts",
	models.WorkerUX:            "a UX designer focused on flows, accessibility and clarity",
	models.WorkerQA:            "a QA engineer who writes test plans and finds edge cases",
	models.WorkerTechWriter:    "a technical writer producing clear, task-oriented documentation",
	models.WorkerDebugger:      "a debugger who reproduces issues and isolates root causes",
	models.WorkerStatistician:  "a statistician who checks methodology and significance",
	models.WorkerPolicyAnalyst: "a policy analyst who interprets legal and regulatory text",
	models.WorkerFederalResume: "a federal resume specialist familiar with USAJOBS formats",
	models.WorkerEssayCoach:    "an essay coach who guides writers without writing essays for them",
	models.WorkerGeneralist:    "a senior generalist engineer",
}

// Role returns the role description for id.
func Role(id models.WorkerID) string {
	if r, ok := roles[id]; ok {
		return r
	}
	return roles[models.WorkerGeneralist]
}

// BuildPrompt renders the system and user prompts for one invocation.
func BuildPrompt(req registry.InvokeRequest) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.\n", Role(req.WorkerID))
	fmt.Fprintf(&sb, "You are one of several specialists answering a %s request. ", req.TaskType)
	sb.WriteString("Answer only from your specialty, be concrete, and flag risks you see.")
	if req.WorkerID == models.WorkerEssayCoach || req.TaskType == models.TaskTypeCompliance {
		sb.WriteString("\nNever write the essay or final submission for the user. Coach them, and state any word limit (such as the 200 word limit) that applies.")
	}
	system = sb.String()

	var ub strings.Builder
	fmt.Fprintf(&ub, "## Request\n%s\n", strings.TrimSpace(req.Query))
	if len(req.Profile) > 0 {
		ub.WriteString("\n## Requester profile\n")
		writeSorted(&ub, req.Profile)
	}
	if len(req.HumanInput) > 0 {
		ub.WriteString("\n## Input from the human reviewer\n")
		writeSorted(&ub, req.HumanInput)
	}
	if req.PreviousResult != "" {
		fmt.Fprintf(&ub, "\n## Previous specialist's answer\n%s\n", strings.TrimSpace(req.PreviousResult))
	}
	return system, ub.String()
}

func writeSorted(sb *strings.Builder, m map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(sb, "- %s: %s\n", k, m[k])
	}
}
