package orchestrator

import (
	"log/slog"
	"time"

	"github.com/jasonewillis/specialists/internal/classifier"
	"github.com/jasonewillis/specialists/internal/graph"
	"github.com/jasonewillis/specialists/internal/registry"
	"github.com/jasonewillis/specialists/internal/state"
	"github.com/jasonewillis/specialists/pkg/models"
)

// DefaultWorkerTimeout bounds a single worker invocation.
const DefaultWorkerTimeout = 60 * time.Second

// Classifier produces the TaskAnalysis for a request.
type Classifier interface {
	Classify(text string, hints *classifier.Hints) models.TaskAnalysis
}

// EventObserver is told about every event after it is appended.
type EventObserver interface {
	OnEvent(ev models.Event)
}

// StateObserver receives a snapshot of the run after every phase and at
// termination. The snapshot is owned by the observer.
type StateObserver interface {
	OnState(st *models.WorkflowState)
}

// RequiredConfig contains the minimal required configuration for an Engine.
type RequiredConfig struct {
	// Classifier analyzes the request in the analyzeQuery phase.
	Classifier Classifier
	// Registry resolves worker ids to handles.
	Registry *registry.Registry
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

type engineOptions struct {
	checkpoints          state.CheckpointStore
	events               state.EventStream
	reference            *classifier.ReferenceData
	logger               *slog.Logger
	workerTimeout        time.Duration
	checkpointEveryPhase bool
	now                  func() time.Time
	graph                *graph.PhaseGraph
	eventObservers       []EventObserver
	stateObservers       []StateObserver
}

// WithCheckpointStore sets where run snapshots are persisted.
func WithCheckpointStore(s state.CheckpointStore) Option {
	return func(o *engineOptions) { o.checkpoints = s }
}

// WithEventStream sets where run events are appended.
func WithEventStream(s state.EventStream) Option {
	return func(o *engineOptions) { o.events = s }
}

// WithBackend uses one backend for both checkpoints and events.
func WithBackend(b state.Backend) Option {
	return func(o *engineOptions) {
		o.checkpoints = b
		o.events = b
	}
}

// WithReferenceData sets the compliance rules and recommendation templates.
// Defaults to the classifier's own tables when it exposes them.
func WithReferenceData(ref classifier.ReferenceData) Option {
	return func(o *engineOptions) { o.reference = &ref }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithWorkerTimeout bounds each worker invocation.
func WithWorkerTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.workerTimeout = d }
}

// WithCheckpointEveryPhase saves a checkpoint after every completed phase,
// not only at the interrupt gate and at termination.
func WithCheckpointEveryPhase(b bool) Option {
	return func(o *engineOptions) { o.checkpointEveryPhase = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithPhaseGraph replaces the graph transitions are checked against.
func WithPhaseGraph(g *graph.PhaseGraph) Option {
	return func(o *engineOptions) { o.graph = g }
}

// WithEventObserver registers an observer for appended events.
func WithEventObserver(obs EventObserver) Option {
	return func(o *engineOptions) { o.eventObservers = append(o.eventObservers, obs) }
}

// WithStateObserver registers an observer for run snapshots.
func WithStateObserver(obs StateObserver) Option {
	return func(o *engineOptions) { o.stateObservers = append(o.stateObservers, obs) }
}
