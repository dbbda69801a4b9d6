// Package state persists run checkpoints and event streams.
package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jasonewillis/specialists/pkg/models"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for a run.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointInfo summarizes a stored checkpoint without decoding it fully.
type CheckpointInfo struct {
	RunID     string
	Status    models.RunStatus
	Phase     models.Phase
	Query     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckpointStore persists WorkflowState snapshots keyed by run id.
// Save replaces the whole snapshot atomically; readers never observe a
// partial write. Operations on distinct runs do not block each other.
type CheckpointStore interface {
	Save(ctx context.Context, runID string, st *models.WorkflowState) error
	// Load returns ErrCheckpointNotFound for unknown runs.
	Load(ctx context.Context, runID string) (*models.WorkflowState, error)
	Delete(ctx context.Context, runID string) error
	// List returns checkpoints ordered by creation time. A nil status lists all.
	List(ctx context.Context, status *models.RunStatus) ([]CheckpointInfo, error)
	// Purge removes checkpoints not updated within olderThan, except running
	// ones, along with their events where the backend stores them.
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// EventStream is an append-only per-run event log.
type EventStream interface {
	// Append assigns the next sequence number for the run and stores ev.
	Append(ctx context.Context, runID string, ev models.Event) (models.Event, error)
	// Since returns events with Seq greater than sinceIndex in append order.
	Since(ctx context.Context, runID string, sinceIndex int64) ([]models.Event, error)
}

// Backend bundles both stores behind one closer.
type Backend interface {
	io.Closer
	CheckpointStore
	EventStream
}

// Compile-time verification that the backends implement the interfaces.
var (
	_ Backend         = (*DB)(nil)
	_ Backend         = (*FileBackend)(nil)
	_ CheckpointStore = (*MemoryStore)(nil)
	_ CheckpointStore = (*FileStore)(nil)
	_ EventStream     = (*MemoryEvents)(nil)
	_ EventStream     = (*FileEvents)(nil)
)

func infoFor(st *models.WorkflowState) CheckpointInfo {
	return CheckpointInfo{
		RunID:     st.RunID,
		Status:    st.Status,
		Phase:     st.CurrentPhase,
		Query:     st.OriginalQuery,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
}

// validateRunID rejects ids that cannot be used as a storage key.
func validateRunID(runID string) error {
	if runID == "" {
		return errors.New("run id is empty")
	}
	if strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

// purgeable reports whether a checkpoint last updated at updated may be
// evicted at cutoff.
func purgeable(info CheckpointInfo, cutoff time.Time) bool {
	return info.Status != models.RunStatusRunning && info.UpdatedAt.Before(cutoff)
}
