// Package orchestrator drives a classified request through the phase graph.
//
// A run starts at analyzeQuery, where the classifier produces a
// TaskAnalysis, and is routed to one of four execution shapes:
//   - essayInterrupt: suspend the run until a human supplies input
//   - parallelRoleAnalysis / executeParallel: fan out to every selected worker
//   - sequentialCompliance / executeSequential: chain workers in selection order
//
// Execution is followed by streamProgress, complianceValidation,
// consolidateResults and generateRecommendations before the run reaches done.
// Every phase entry, worker start/stop and terminal transition is appended
// to the run's EventStream, and the full WorkflowState is checkpointed at
// the interrupt gate, at termination, and optionally after every phase.
//
// Example usage:
//
//	eng := orchestrator.New(orchestrator.RequiredConfig{
//		Classifier: classifier.NewDefault(),
//		Registry:   reg,
//	}, orchestrator.WithBackend(db))
//	st, err := eng.Start(ctx, orchestrator.StartRequest{Query: "Add Stripe checkout"})
package orchestrator
