package state

import (
	"context"
	"fmt"
	"time"

	"github.com/jasonewillis/specialists/pkg/models"
)

// InterruptedRun is a checkpoint left in the running state, usually by a
// process that exited mid-run.
type InterruptedRun struct {
	RunID        string
	Phase        models.Phase
	StartedAt    time.Time
	LastActivity time.Time
}

// RecoveryManager finds runs that need to be driven again after a restart.
type RecoveryManager struct {
	store CheckpointStore
	// MinIdle skips runs updated more recently than this, which may still
	// be owned by another live process.
	MinIdle time.Duration
	now     func() time.Time
}

// NewRecoveryManager creates a RecoveryManager over store.
func NewRecoveryManager(store CheckpointStore) *RecoveryManager {
	return &RecoveryManager{store: store, now: time.Now}
}

// CheckForInterrupted lists checkpoints still marked running.
func (rm *RecoveryManager) CheckForInterrupted(ctx context.Context) ([]InterruptedRun, error) {
	running := models.RunStatusRunning
	infos, err := rm.store.List(ctx, &running)
	if err != nil {
		return nil, fmt.Errorf("list running checkpoints: %w", err)
	}

	cutoff := rm.now().Add(-rm.MinIdle)
	var out []InterruptedRun
	for _, info := range infos {
		if rm.MinIdle > 0 && info.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, InterruptedRun{
			RunID:        info.RunID,
			Phase:        info.Phase,
			StartedAt:    info.CreatedAt,
			LastActivity: info.UpdatedAt,
		})
	}
	return out, nil
}
