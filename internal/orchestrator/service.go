package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jasonewillis/specialists/internal/state"
	"github.com/jasonewillis/specialists/pkg/models"
)

// DefaultEventBuffer is the size of the live subscriber channel.
const DefaultEventBuffer = 256

// errCancelRequested is the cancellation cause recorded for Cancel.
var errCancelRequested = errors.New("cancelled by request")

// RunSummary is the caller-facing view of a run.
type RunSummary struct {
	RunID            string            `json:"run_id"`
	Query            string            `json:"query"`
	Status           models.RunStatus  `json:"status"`
	Phase            models.Phase      `json:"phase"`
	Progress         int               `json:"progress"`
	TaskType         models.TaskType   `json:"task_type,omitempty"`
	Priority         models.Priority   `json:"priority,omitempty"`
	Workers          []models.WorkerID `json:"workers,omitempty"`
	Succeeded        int               `json:"succeeded"`
	Failed           int               `json:"failed"`
	NeedsHumanReview bool              `json:"needs_human_review"`
	InterruptReason  string            `json:"interrupt_reason,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	Confidence       float64           `json:"confidence"`
	Response         string            `json:"response,omitempty"`
	Recommendations  []string          `json:"recommendations,omitempty"`
	NextSteps        []string          `json:"next_steps,omitempty"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Summarize builds a RunSummary from a state snapshot.
func Summarize(st *models.WorkflowState) *RunSummary {
	return &RunSummary{
		RunID:            st.RunID,
		Query:            st.OriginalQuery,
		Status:           st.Status,
		Phase:            st.CurrentPhase,
		Progress:         st.ProgressPercentage,
		TaskType:         st.Classification.TaskType,
		Priority:         st.Classification.Priority,
		Workers:          slices.Clone(st.Dispatched),
		Succeeded:        len(st.WorkerResults),
		Failed:           len(st.WorkerErrors),
		NeedsHumanReview: st.NeedsHumanReview,
		InterruptReason:  st.InterruptReason,
		Warnings:         slices.Clone(st.Warnings),
		Confidence:       st.Confidence,
		Response:         st.ConsolidatedResponse,
		Recommendations:  slices.Clone(st.Recommendations),
		NextSteps:        slices.Clone(st.NextSteps),
		Error:            st.Error,
		CreatedAt:        st.CreatedAt,
		UpdatedAt:        st.UpdatedAt,
	}
}

// runHandle tracks a run being driven by the service.
type runHandle struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	err    error
}

// Service runs requests in the background and answers status queries from
// per-run snapshots, never from the engine's live state.
type Service struct {
	engine  *Engine
	emitter *EventEmitter
	logger  *slog.Logger

	mu        sync.RWMutex
	runs      map[string]*runHandle
	snapshots map[string]*models.WorkflowState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a Service with its own Engine. Options are passed to
// the engine.
func NewService(cfg RequiredConfig, opts ...Option) *Service {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "service")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		emitter:   NewEventEmitter(DefaultEventBuffer, logger),
		logger:    logger,
		runs:      make(map[string]*runHandle),
		snapshots: make(map[string]*models.WorkflowState),
		ctx:       ctx,
		cancel:    cancel,
	}
	all := append(slices.Clone(opts), WithEventObserver(s.emitter), WithStateObserver(s))
	s.engine = New(cfg, all...)
	return s
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// OnState implements StateObserver.
func (s *Service) OnState(st *models.WorkflowState) {
	s.mu.Lock()
	s.snapshots[st.RunID] = st
	s.mu.Unlock()
}

// Submit starts a run in the background and returns its id immediately.
func (s *Service) Submit(ctx context.Context, text string, profile map[string]string) (string, error) {
	return s.SubmitRequest(ctx, StartRequest{Query: text, Profile: profile})
}

// SubmitRequest is Submit with full control over the start request.
func (s *Service) SubmitRequest(ctx context.Context, req StartRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Query) == "" {
		return "", errors.New("submit: query is empty")
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	h, err := s.track(req.RunID)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	s.OnState(models.NewWorkflowState(req.RunID, req.Query, req.Profile, s.engine.now()))
	s.launch(req.RunID, h, func(ctx context.Context) (*models.WorkflowState, error) {
		return s.engine.Start(ctx, req)
	})

	s.logger.Info("run submitted", "run_id", req.RunID)
	return req.RunID, nil
}

// track registers a handle for runID unless the run is already active.
func (s *Service) track(runID string) (*runHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return nil, errors.New("service stopped")
	}
	if _, ok := s.runs[runID]; ok || s.engine.Active(runID) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunActive)
	}
	ctx, cancel := context.WithCancelCause(s.ctx)
	h := &runHandle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.runs[runID] = h
	return h, nil
}

func (s *Service) launch(runID string, h *runHandle, drive func(context.Context) (*models.WorkflowState, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		st, err := drive(h.ctx)
		s.settle(runID, h, st, err)
	}()
}

// settle records how a drive ended and releases the handle.
func (s *Service) settle(runID string, h *runHandle, st *models.WorkflowState, err error) {
	if err != nil && st == nil {
		s.logger.Warn("run rejected", "run_id", runID, "error", err)
	}

	s.mu.Lock()
	h.err = err
	if st == nil && err != nil {
		if snap, ok := s.snapshots[runID]; ok && snap.Status == models.RunStatusRunning && len(snap.Events) == 0 {
			delete(s.snapshots, runID)
		}
	}
	delete(s.runs, runID)
	s.mu.Unlock()

	h.cancel(nil)
	close(h.done)
}

// Snapshot returns a copy of the latest known state of a run.
func (s *Service) Snapshot(ctx context.Context, runID string) (*models.WorkflowState, error) {
	s.mu.RLock()
	st, ok := s.snapshots[runID]
	s.mu.RUnlock()
	if ok {
		return st.Clone(), nil
	}

	st, err := s.engine.checkpoints.Load(ctx, runID)
	if errors.Is(err, state.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Status summarizes a run.
func (s *Service) Status(ctx context.Context, runID string) (*RunSummary, error) {
	st, err := s.Snapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	return Summarize(st), nil
}

// Events returns the run's events with Seq greater than since.
func (s *Service) Events(ctx context.Context, runID string, since int64) ([]models.Event, error) {
	return s.engine.events.Since(ctx, runID, since)
}

// Subscribe returns the live channel of events from every run driven by
// this service. Nothing is forwarded before the first call. The channel
// is closed by Stop.
func (s *Service) Subscribe() <-chan models.Event {
	return s.emitter.Subscribe()
}

// DroppedEventCount returns how many live events were dropped.
func (s *Service) DroppedEventCount() uint64 {
	return s.emitter.DroppedCount()
}

// Resume continues a suspended run and waits for the drive to end.
// Cancelling ctx cancels the run.
func (s *Service) Resume(ctx context.Context, runID string, input map[string]string) (*models.WorkflowState, error) {
	h, err := s.track(runID)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { h.cancel(context.Cause(ctx)) })
	defer stop()

	st, err := s.engine.Resume(h.ctx, runID, input)
	s.settle(runID, h, st, err)
	if st == nil {
		return nil, err
	}
	return st.Clone(), err
}

// Cancel stops an active run at its next phase boundary, or marks a
// suspended run cancelled.
func (s *Service) Cancel(runID string) error {
	s.mu.RLock()
	h, ok := s.runs[runID]
	s.mu.RUnlock()
	if ok {
		h.cancel(errCancelRequested)
		s.logger.Info("run cancel requested", "run_id", runID)
		return nil
	}

	_, err := s.engine.CancelSuspended(s.ctx, runID)
	if errors.Is(err, state.ErrCheckpointNotFound) {
		return fmt.Errorf("cancel %s: %w", runID, ErrRunNotFound)
	}
	return err
}

// Wait blocks until the run's current drive ends and returns its state.
// For runs that are not active it returns the latest snapshot.
func (s *Service) Wait(ctx context.Context, runID string) (*models.WorkflowState, error) {
	s.mu.RLock()
	h, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return s.Snapshot(ctx, runID)
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	st, err := s.Snapshot(ctx, runID)
	if h.err != nil {
		return st, h.err
	}
	return st, err
}

// Recover re-drives checkpoints left running by a previous process and
// returns their ids. Runs updated within minIdle are skipped.
func (s *Service) Recover(ctx context.Context, minIdle time.Duration) ([]string, error) {
	rm := state.NewRecoveryManager(s.engine.checkpoints)
	rm.MinIdle = minIdle
	interrupted, err := rm.CheckForInterrupted(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, ir := range interrupted {
		h, err := s.track(ir.RunID)
		if err != nil {
			continue
		}
		runID := ir.RunID
		s.logger.Info("recovering run", "run_id", runID, "phase", ir.Phase, "last_activity", ir.LastActivity)
		s.launch(runID, h, func(ctx context.Context) (*models.WorkflowState, error) {
			return s.engine.Continue(ctx, runID)
		})
		ids = append(ids, runID)
	}
	return ids, nil
}

type forgetter interface {
	Forget(runID string)
}

// Purge evicts checkpoints and snapshots not updated within olderThan.
// Running runs are kept.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.engine.checkpoints.Purge(ctx, olderThan)
	if err != nil {
		return n, err
	}

	cutoff := s.engine.now().Add(-olderThan)
	forget, _ := s.engine.events.(forgetter)
	s.mu.Lock()
	for id, st := range s.snapshots {
		if _, active := s.runs[id]; active || st.Status == models.RunStatusRunning {
			continue
		}
		if st.UpdatedAt.Before(cutoff) {
			delete(s.snapshots, id)
			if forget != nil {
				forget.Forget(id)
			}
		}
	}
	s.mu.Unlock()
	return n, nil
}

// Count returns the number of active runs.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Stop cancels every active run, waits for the drives to end and closes
// the subscriber channel.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	s.emitter.Close()
}
