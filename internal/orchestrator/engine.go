package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jasonewillis/specialists/internal/classifier"
	"github.com/jasonewillis/specialists/internal/graph"
	"github.com/jasonewillis/specialists/internal/registry"
	"github.com/jasonewillis/specialists/internal/state"
	"github.com/jasonewillis/specialists/pkg/models"
)

// Profile keys that carry classifier hints. They are stored in the run's
// profile so a recovered run classifies the same way.
const (
	ProfilePriority = "priority"
	ProfileTaskType = "task_type"
)

// StartRequest describes a new run.
type StartRequest struct {
	// RunID is generated when empty.
	RunID   string
	Query   string
	Profile map[string]string
	Hints   *classifier.Hints
}

// Engine drives runs through the phase graph. One Engine serves any number
// of concurrent runs; each run is driven by exactly one goroutine at a time.
type Engine struct {
	classifier  Classifier
	registry    *registry.Registry
	reference   classifier.ReferenceData
	checkpoints state.CheckpointStore
	events      state.EventStream
	graph       *graph.PhaseGraph
	logger      *slog.Logger
	opts        engineOptions

	// active holds the ids of runs currently being driven.
	active sync.Map
}

type referencer interface {
	Reference() classifier.ReferenceData
}

// New creates an Engine. Checkpoints and events default to in-memory stores.
func New(cfg RequiredConfig, opts ...Option) *Engine {
	o := engineOptions{
		workerTimeout: DefaultWorkerTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.checkpoints == nil {
		o.checkpoints = state.NewMemoryStore()
	}
	if o.events == nil {
		o.events = state.NewMemoryEvents()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.workerTimeout <= 0 {
		o.workerTimeout = DefaultWorkerTimeout
	}
	if o.graph == nil {
		o.graph = graph.Default()
	}

	var ref classifier.ReferenceData
	switch {
	case o.reference != nil:
		ref = *o.reference
	default:
		if r, ok := cfg.Classifier.(referencer); ok {
			ref = r.Reference()
		} else {
			ref = classifier.DefaultReferenceData()
		}
	}

	return &Engine{
		classifier:  cfg.Classifier,
		registry:    cfg.Registry,
		reference:   ref,
		checkpoints: o.checkpoints,
		events:      o.events,
		graph:       o.graph,
		logger:      o.logger.With("component", "engine"),
		opts:        o,
	}
}

// Validate checks that every worker the reference data can select has a
// registered handle.
func (e *Engine) Validate() error {
	if err := e.graph.Validate(); err != nil {
		return fmt.Errorf("phase graph: %w", err)
	}
	return e.registry.Check(e.reference.Workers())
}

// Checkpoints returns the engine's checkpoint store.
func (e *Engine) Checkpoints() state.CheckpointStore {
	return e.checkpoints
}

// Events returns the engine's event stream.
func (e *Engine) Events() state.EventStream {
	return e.events
}

// Active reports whether runID is currently being driven.
func (e *Engine) Active(runID string) bool {
	_, ok := e.active.Load(runID)
	return ok
}

func (e *Engine) claim(runID string) bool {
	_, loaded := e.active.LoadOrStore(runID, struct{}{})
	return !loaded
}

func (e *Engine) release(runID string) {
	e.active.Delete(runID)
}

func (e *Engine) now() time.Time {
	return e.opts.now().UTC()
}

// Start creates a run and drives it until it completes, suspends, fails or
// is cancelled. Worker failures never produce an error; a non-nil error is
// a *StructuralError (returned with the partial state) or a rejection of
// the request itself.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.WorkflowState, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	if !e.claim(runID) {
		return nil, fmt.Errorf("start %s: %w", runID, ErrRunActive)
	}
	defer e.release(runID)

	switch _, err := e.checkpoints.Load(ctx, runID); {
	case err == nil:
		return nil, fmt.Errorf("start %s: run already exists: %w", runID, ErrInvalidState)
	case !errors.Is(err, state.ErrCheckpointNotFound):
		return nil, fmt.Errorf("start %s: %w", runID, err)
	}

	profile := maps.Clone(req.Profile)
	if h := req.Hints; h != nil {
		if profile == nil {
			profile = make(map[string]string)
		}
		if h.Priority != "" {
			profile[ProfilePriority] = string(h.Priority)
		}
		if h.TaskType != "" {
			profile[ProfileTaskType] = string(h.TaskType)
		}
	}

	st := models.NewWorkflowState(runID, req.Query, profile, e.now())
	r := e.newRun(st)
	r.log.Info("run started")
	r.emit(ctx, models.Event{
		Type:    models.EventRunStarted,
		Phase:   models.PhaseAnalyzeQuery,
		Message: truncate(req.Query, 200),
	})
	return r.drive(ctx, models.PhaseAnalyzeQuery)
}

// Resume continues a suspended run with the human's input merged into
// HumanInput. Unknown runs return state.ErrCheckpointNotFound, runs that
// are not suspended return ErrInvalidState, and a resume edge missing from
// the phase graph is a StructuralError. None of these touch the checkpoint.
func (e *Engine) Resume(ctx context.Context, runID string, humanInput map[string]string) (*models.WorkflowState, error) {
	if !e.claim(runID) {
		return nil, fmt.Errorf("resume %s: %w", runID, ErrRunActive)
	}
	defer e.release(runID)

	st, err := e.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	if st.Status != models.RunStatusSuspended {
		return nil, fmt.Errorf("resume %s: status is %s: %w", runID, st.Status, ErrInvalidState)
	}
	gate, next, ok := resumeTarget(st)
	if !ok {
		return nil, fmt.Errorf("resume %s: no interrupt gate recorded: %w", runID, ErrInvalidState)
	}
	if !e.graph.AllowsResume(gate, next) {
		return nil, &StructuralError{
			Op:    "resume",
			RunID: runID,
			Err:   fmt.Errorf("%s -> %s: %w", gate, next, graph.ErrIllegalTransition),
		}
	}

	st.MergeHumanInput(humanInput)
	st.InterruptRequested = false
	st.Status = models.RunStatusRunning
	st.UpdatedAt = e.now()

	r := e.newRun(st)
	r.log.Info("run resumed", "next", next, "input_keys", len(humanInput))
	r.emit(ctx, models.Event{
		Type:    models.EventRunResumed,
		Phase:   next,
		Message: "human input received",
		Payload: map[string]any{"input_keys": sortedKeys(humanInput)},
	})
	return r.drive(ctx, next)
}

// Continue re-drives a run whose checkpoint is still marked running, for
// example after the process that owned it exited. A phase that was entered
// but not completed is run again; workers with a recorded outcome are not
// invoked again.
func (e *Engine) Continue(ctx context.Context, runID string) (*models.WorkflowState, error) {
	if !e.claim(runID) {
		return nil, fmt.Errorf("continue %s: %w", runID, ErrRunActive)
	}
	defer e.release(runID)

	st, err := e.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("continue %s: %w", runID, err)
	}
	if st.Status != models.RunStatusRunning {
		return nil, fmt.Errorf("continue %s: status is %s: %w", runID, st.Status, ErrInvalidState)
	}

	next := st.CurrentPhase
	if slices.Contains(st.CompletedPhases, next) {
		next = nextPhase(st, next)
	}

	r := e.newRun(st)
	r.log.Info("run recovered", "next", next)
	r.emit(ctx, models.Event{
		Type:    models.EventRunResumed,
		Phase:   next,
		Message: "recovered from checkpoint",
	})
	return r.drive(ctx, next)
}

// CancelSuspended marks a suspended run cancelled so it can no longer be
// resumed.
func (e *Engine) CancelSuspended(ctx context.Context, runID string) (*models.WorkflowState, error) {
	if !e.claim(runID) {
		return nil, fmt.Errorf("cancel %s: %w", runID, ErrRunActive)
	}
	defer e.release(runID)

	st, err := e.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("cancel %s: %w", runID, err)
	}
	if st.Status != models.RunStatusSuspended {
		return nil, fmt.Errorf("cancel %s: status is %s: %w", runID, st.Status, ErrInvalidState)
	}

	r := e.newRun(st)
	return r.cancel(context.WithoutCancel(ctx))
}

// run is the per-drive owner of a WorkflowState. Only the goroutine that
// created it touches st.
type run struct {
	e   *Engine
	st  *models.WorkflowState
	log *slog.Logger
	// err holds the first event stream failure; the drive loop turns it
	// into a structural error at the next phase boundary.
	err error
}

func (e *Engine) newRun(st *models.WorkflowState) *run {
	return &run{
		e:   e,
		st:  st,
		log: e.logger.With("run_id", st.RunID),
	}
}

// drive runs phases starting at phase until the run leaves the running state.
func (r *run) drive(ctx context.Context, phase models.Phase) (*models.WorkflowState, error) {
	for {
		if r.err != nil {
			return r.fail(ctx, "append event", r.err)
		}
		switch phase {
		case models.PhaseDone:
			return r.complete(ctx)
		case models.PhaseSuspended:
			return r.suspend(ctx)
		}
		if ctx.Err() != nil {
			return r.cancel(ctx)
		}

		r.enter(ctx, phase)
		if err := r.runPhase(ctx, phase); err != nil {
			if errors.Is(err, errCancelled) {
				return r.cancel(ctx)
			}
			return r.fail(ctx, "phase "+string(phase), err)
		}

		r.st.CompletePhase(phase)
		r.advance(ctx, phase)
		r.st.UpdatedAt = r.e.now()
		if r.e.opts.checkpointEveryPhase {
			if err := r.save(ctx); err != nil {
				return r.fail(ctx, "save checkpoint", err)
			}
		}
		r.publish()

		next := nextPhase(r.st, phase)
		if !r.e.graph.Allows(phase, next) {
			return r.fail(ctx, "transition", fmt.Errorf("%s -> %s: %w", phase, next, graph.ErrIllegalTransition))
		}
		phase = next
	}
}

func (r *run) enter(ctx context.Context, phase models.Phase) {
	r.st.CurrentPhase = phase
	r.st.UpdatedAt = r.e.now()
	r.log.Debug("phase entered", "phase", phase)
	r.emit(ctx, models.Event{Type: models.EventPhaseEntered, Phase: phase})
}

// advance raises progress to the phase's mark and reports it when it moved.
func (r *run) advance(ctx context.Context, phase models.Phase) {
	before := r.st.ProgressPercentage
	r.st.SetProgress(phaseProgress[phase])
	if r.st.ProgressPercentage == before {
		return
	}
	r.emit(ctx, models.Event{
		Type:    models.EventProgress,
		Phase:   phase,
		Payload: map[string]any{"percentage": r.st.ProgressPercentage},
	})
}

func (r *run) suspend(ctx context.Context) (*models.WorkflowState, error) {
	r.st.Status = models.RunStatusSuspended
	r.st.CurrentPhase = models.PhaseSuspended
	r.emit(ctx, models.Event{Type: models.EventPhaseEntered, Phase: models.PhaseSuspended})
	r.emit(ctx, models.Event{
		Type:    models.EventRunSuspended,
		Phase:   models.PhaseSuspended,
		Message: r.st.InterruptReason,
	})
	return r.finish(ctx, "run suspended")
}

func (r *run) complete(ctx context.Context) (*models.WorkflowState, error) {
	r.st.Status = models.RunStatusCompleted
	r.st.CurrentPhase = models.PhaseDone
	r.st.SetProgress(100)
	r.emit(ctx, models.Event{Type: models.EventPhaseEntered, Phase: models.PhaseDone})
	r.emit(ctx, models.Event{
		Type:  models.EventRunCompleted,
		Phase: models.PhaseDone,
		Payload: map[string]any{
			"confidence": r.st.Confidence,
			"warnings":   len(r.st.Warnings),
		},
	})
	return r.finish(ctx, "run completed")
}

func (r *run) cancel(ctx context.Context) (*models.WorkflowState, error) {
	r.st.Status = models.RunStatusCancelled
	msg := "run cancelled"
	if cause := context.Cause(ctx); cause != nil {
		msg = cause.Error()
	}
	r.emit(ctx, models.Event{
		Type:    models.EventRunCancelled,
		Phase:   r.st.CurrentPhase,
		Message: msg,
	})
	return r.finish(ctx, "run cancelled")
}

// finish persists a terminal or suspended state.
func (r *run) finish(ctx context.Context, msg string) (*models.WorkflowState, error) {
	if r.err != nil {
		return r.fail(ctx, "append event", r.err)
	}
	r.st.UpdatedAt = r.e.now()
	if err := r.save(ctx); err != nil {
		return r.fail(ctx, "save checkpoint", err)
	}
	r.publish()
	r.log.Info(msg,
		"status", r.st.Status,
		"phase", r.st.CurrentPhase,
		"workers", len(r.st.Dispatched),
		"failed", len(r.st.WorkerErrors),
		"progress", r.st.ProgressPercentage)
	return r.st, nil
}

// fail aborts the run. The failed state is saved on a best-effort basis.
func (r *run) fail(ctx context.Context, op string, cause error) (*models.WorkflowState, error) {
	serr := &StructuralError{Op: op, RunID: r.st.RunID, Err: cause}
	r.st.Status = models.RunStatusFailed
	r.st.Error = serr.Error()
	r.st.UpdatedAt = r.e.now()
	r.log.Error("run failed", "op", op, "phase", r.st.CurrentPhase, "error", cause)

	r.emit(ctx, models.Event{
		Type:    models.EventRunFailed,
		Phase:   r.st.CurrentPhase,
		Message: r.st.Error,
	})
	if err := r.save(ctx); err != nil {
		r.log.Error("failed to save checkpoint of failed run", "error", err)
	}
	r.publish()
	return r.st, serr
}

// emit appends ev to the run's stream and mirrors it into the state.
func (r *run) emit(ctx context.Context, ev models.Event) {
	ev.RunID = r.st.RunID
	if ev.TimestampUTC.IsZero() {
		ev.TimestampUTC = r.e.now()
	}
	stored, err := r.e.events.Append(context.WithoutCancel(ctx), r.st.RunID, ev)
	if err != nil {
		r.log.Error("failed to append event", "type", ev.Type, "error", err)
		if r.err == nil {
			r.err = fmt.Errorf("append %s: %w", ev.Type, err)
		}
		return
	}
	r.st.Events = append(r.st.Events, stored.Clone())
	for _, obs := range r.e.opts.eventObservers {
		obs.OnEvent(stored.Clone())
	}
}

// save writes a checkpoint. Cancellation of the run never interrupts it.
func (r *run) save(ctx context.Context) error {
	return r.e.checkpoints.Save(context.WithoutCancel(ctx), r.st.RunID, r.st)
}

func (r *run) publish() {
	for _, obs := range r.e.opts.stateObservers {
		obs.OnState(r.st.Clone())
	}
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
