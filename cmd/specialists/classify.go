package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jasonewillis/specialists/internal/classifier"
	"github.com/jasonewillis/specialists/pkg/models"
)

var classifyJSON bool

var classifyCmd = &cobra.Command{
	Use:   "classify <query>",
	Short: "Classify a request without running any workers",
	Long: `Classify prints the task type, priority, routed workers, complexity,
effort, research flags, compliance tags, integration points, and risks the
classifier derives from the request.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print the analysis as JSON")
	classifyCmd.Flags().StringVar(&runPriority, "priority", "", "Priority hint: critical, high, medium, low")
	classifyCmd.Flags().StringVar(&runTaskType, "type", "", "Task type hint, skips type detection")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cls, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	var hints *classifier.Hints
	if runPriority != "" || runTaskType != "" {
		hints = &classifier.Hints{Priority: models.Priority(runPriority), TaskType: models.TaskType(runTaskType)}
	}
	analysis := cls.Classify(args[0], hints)

	if classifyJSON {
		return printJSON(analysis)
	}
	printAnalysis(analysis)
	return nil
}

func printAnalysis(a models.TaskAnalysis) {
	printStatus("●", fmt.Sprintf("%s (%s priority)", a.TaskType, a.Priority), color.FgCyan)
	fmt.Printf("  Primary:      %s\n", joinWorkers(a.PrimaryWorkers))
	if len(a.SecondaryWorkers) > 0 {
		fmt.Printf("  Secondary:    %s\n", joinWorkers(a.SecondaryWorkers))
	}
	fmt.Printf("  Complexity:   %d/10\n", a.ComplexityScore)
	fmt.Printf("  Effort:       %s (%.1fh)\n", a.EstimatedEffort, a.EstimatedHours)

	var research []string
	for _, flag := range slices.Sorted(maps.Keys(a.ResearchRequirements)) {
		if a.ResearchRequirements[flag] {
			research = append(research, flag)
		}
	}
	if len(research) > 0 {
		fmt.Printf("  Research:     %s\n", strings.Join(research, ", "))
	}
	if len(a.ComplianceRequirements) > 0 {
		fmt.Printf("  Compliance:   %s\n", strings.Join(a.ComplianceRequirements, ", "))
	}
	if len(a.IntegrationPoints) > 0 {
		fmt.Printf("  Integrations: %s\n", strings.Join(a.IntegrationPoints, ", "))
	}
	printList("Research plan", a.ResearchPlan)
	printList("Risks", a.RiskFactors)
}

func joinWorkers(ids []models.WorkerID) string {
	if len(ids) == 0 {
		return "(none)"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
