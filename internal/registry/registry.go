// Package registry maps worker ids to their invocation handles.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jasonewillis/specialists/pkg/models"
)

var (
	// ErrUnknownWorker is returned when a worker id has no registered handle.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrFrozen is returned when registering after Freeze.
	ErrFrozen = errors.New("registry is frozen")
)

// InvokeRequest is the immutable input handed to one worker invocation.
// Each invocation gets its own copy.
type InvokeRequest struct {
	WorkerID models.WorkerID
	TaskType models.TaskType
	Query    string
	// PreviousResult is the last successful output in a sequential phase.
	PreviousResult string
	HumanInput     map[string]string
	Profile        map[string]string
}

// InvokeResult is what a worker returns.
type InvokeResult struct {
	Success  bool
	Output   string
	Metadata map[string]string
}

// Handle invokes one worker. Implementations own retries, prompts, and
// model selection; the engine only sees the result.
type Handle interface {
	Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error)
}

// HandleFunc adapts a function to Handle.
type HandleFunc func(ctx context.Context, req InvokeRequest) (InvokeResult, error)

// Invoke calls f.
func (f HandleFunc) Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error) {
	return f(ctx, req)
}

type entry struct {
	handle Handle
	tags   []string
}

// Registry holds the worker handles. Register everything at startup, then
// call Freeze; lookups on a frozen registry take no lock.
type Registry struct {
	entries map[models.WorkerID]entry
	frozen  atomic.Bool
	mu      sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[models.WorkerID]entry),
	}
}

// Register adds or replaces the handle for id. Only ids in the closed
// models.WorkerID set are accepted.
func (r *Registry) Register(id models.WorkerID, h Handle, tags ...string) error {
	if !id.Valid() {
		return fmt.Errorf("register %q: %w", id, ErrUnknownWorker)
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handle", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrFrozen
	}
	r.entries[id] = entry{handle: h, tags: slices.Clone(tags)}
	return nil
}

// RegisterAll registers the same handle for every id in ids.
func (r *Registry) RegisterAll(ids []models.WorkerID, h Handle) error {
	for _, id := range ids {
		if err := r.Register(id, h); err != nil {
			return err
		}
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup returns the handle for id or ErrUnknownWorker.
func (r *Registry) Lookup(id models.WorkerID) (Handle, error) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	return e.handle, nil
}

// Tags returns the capability tags registered for id.
func (r *Registry) Tags(id models.WorkerID) []string {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return slices.Clone(r.entries[id].tags)
}

// IDs returns registered worker ids in models.AllWorkers order.
func (r *Registry) IDs() []models.WorkerID {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	ids := make([]models.WorkerID, 0, len(r.entries))
	for _, id := range models.AllWorkers {
		if _, ok := r.entries[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Check verifies that every id has a handle. It returns the first missing id
// wrapped in ErrUnknownWorker.
func (r *Registry) Check(ids []models.WorkerID) error {
	for _, id := range ids {
		if _, err := r.Lookup(id); err != nil {
			return err
		}
	}
	return nil
}
