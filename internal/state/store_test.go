package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jasonewillis/specialists/pkg/models"
)

type storeFactory struct {
	name string
	new  func(t *testing.T, now func() time.Time) CheckpointStore
}

func checkpointStores() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T, now func() time.Time) CheckpointStore {
			s := NewMemoryStore()
			s.now = now
			return s
		}},
		{"file", func(t *testing.T, now func() time.Time) CheckpointStore {
			s, err := NewFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			s.now = now
			return s
		}},
		{"sqlite", func(t *testing.T, now func() time.Time) CheckpointStore {
			db := setupTestDB(t)
			db.now = now
			return db
		}},
	}
}

func eventStreams(t *testing.T) map[string]EventStream {
	t.Helper()
	fe, err := NewFileEvents(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileEvents: %v", err)
	}
	return map[string]EventStream{
		"memory": NewMemoryEvents(),
		"file":   fe,
		"sqlite": setupTestDB(t),
	}
}

func testState(runID string, status models.RunStatus, updated time.Time) *models.WorkflowState {
	st := models.NewWorkflowState(runID, "query "+runID, map[string]string{"k": "v"}, updated)
	st.Status = status
	st.UpdatedAt = updated
	st.CurrentPhase = models.PhaseExecuteParallel
	st.RecordResult(models.WorkerBackend, models.WorkerResult{Output: "out", Duration: time.Second})
	st.RecordError(models.WorkerQA, models.WorkerError{Message: "boom", TimedOut: true})
	st.SetProgress(60)
	return st
}

func TestCheckpointStore_SaveLoad(t *testing.T) {
	for _, f := range checkpointStores() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.new(t, time.Now)
			st := testState("run-1", models.RunStatusSuspended, time.Now().UTC())

			if err := store.Save(ctx, "run-1", st); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := store.Load(ctx, "run-1")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.RunID != "run-1" || got.Status != models.RunStatusSuspended {
				t.Errorf("Load() = %s/%s, want run-1/suspended", got.RunID, got.Status)
			}
			if got.WorkerResults[models.WorkerBackend].Output != "out" {
				t.Errorf("result output = %q, want %q", got.WorkerResults[models.WorkerBackend].Output, "out")
			}
			if !got.WorkerErrors[models.WorkerQA].TimedOut {
				t.Error("worker error TimedOut not preserved")
			}
			if got.ProgressPercentage != 60 {
				t.Errorf("ProgressPercentage = %d, want 60", got.ProgressPercentage)
			}

			// Mutating the loaded copy must not change what is stored.
			got.Status = models.RunStatusFailed
			again, err := store.Load(ctx, "run-1")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if again.Status != models.RunStatusSuspended {
				t.Errorf("stored status changed to %s through a loaded copy", again.Status)
			}
		})
	}
}

func TestCheckpointStore_OverwriteReplaces(t *testing.T) {
	for _, f := range checkpointStores() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.new(t, time.Now)

			first := testState("run-1", models.RunStatusRunning, time.Now().UTC())
			first.AddWarning("old warning")
			if err := store.Save(ctx, "run-1", first); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			second := models.NewWorkflowState("run-1", "replacement", nil, time.Now().UTC())
			second.Status = models.RunStatusCompleted
			if err := store.Save(ctx, "run-1", second); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := store.Load(ctx, "run-1")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.OriginalQuery != "replacement" {
				t.Errorf("OriginalQuery = %q, want %q", got.OriginalQuery, "replacement")
			}
			if len(got.Warnings) != 0 {
				t.Errorf("Warnings = %v, want none after overwrite", got.Warnings)
			}
			if len(got.WorkerResults) != 0 {
				t.Errorf("WorkerResults = %v, want none after overwrite", got.WorkerResults)
			}
		})
	}
}

func TestCheckpointStore_NotFound(t *testing.T) {
	for _, f := range checkpointStores() {
		t.Run(f.name, func(t *testing.T) {
			_, err := f.new(t, time.Now).Load(context.Background(), "missing")
			if !errors.Is(err, ErrCheckpointNotFound) {
				t.Errorf("Load(missing) error = %v, want ErrCheckpointNotFound", err)
			}
		})
	}
}

func TestCheckpointStore_DeleteAndList(t *testing.T) {
	for _, f := range checkpointStores() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.new(t, time.Now)
			base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			for i, status := range []models.RunStatus{models.RunStatusRunning, models.RunStatusSuspended, models.RunStatusRunning} {
				st := testState(fmt.Sprintf("run-%d", i), status, base)
				st.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				if err := store.Save(ctx, st.RunID, st); err != nil {
					t.Fatalf("Save() error = %v", err)
				}
			}

			all, err := store.List(ctx, nil)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("len(List(nil)) = %d, want 3", len(all))
			}
			for i, info := range all {
				if want := fmt.Sprintf("run-%d", i); info.RunID != want {
					t.Errorf("List()[%d].RunID = %q, want %q", i, info.RunID, want)
				}
			}

			running := models.RunStatusRunning
			filtered, err := store.List(ctx, &running)
			if err != nil {
				t.Fatalf("List(running) error = %v", err)
			}
			if len(filtered) != 2 {
				t.Errorf("len(List(running)) = %d, want 2", len(filtered))
			}

			if err := store.Delete(ctx, "run-1"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.Load(ctx, "run-1"); !errors.Is(err, ErrCheckpointNotFound) {
				t.Errorf("Load after Delete error = %v, want ErrCheckpointNotFound", err)
			}
			if err := store.Delete(ctx, "never-existed"); err != nil {
				t.Errorf("Delete(unknown) error = %v, want nil", err)
			}
		})
	}
}

func TestCheckpointStore_Purge(t *testing.T) {
	for _, f := range checkpointStores() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			store := f.new(t, func() time.Time { return now })

			states := []*models.WorkflowState{
				testState("old-done", models.RunStatusCompleted, now.Add(-48*time.Hour)),
				testState("old-running", models.RunStatusRunning, now.Add(-48*time.Hour)),
				testState("fresh-done", models.RunStatusCompleted, now.Add(-time.Hour)),
			}
			for _, st := range states {
				if err := store.Save(ctx, st.RunID, st); err != nil {
					t.Fatalf("Save() error = %v", err)
				}
			}

			n, err := store.Purge(ctx, 24*time.Hour)
			if err != nil {
				t.Fatalf("Purge() error = %v", err)
			}
			if n != 1 {
				t.Errorf("Purge() = %d, want 1", n)
			}
			if _, err := store.Load(ctx, "old-done"); !errors.Is(err, ErrCheckpointNotFound) {
				t.Errorf("old-done should be purged, Load error = %v", err)
			}
			for _, keep := range []string{"old-running", "fresh-done"} {
				if _, err := store.Load(ctx, keep); err != nil {
					t.Errorf("%s should survive purge, Load error = %v", keep, err)
				}
			}
		})
	}
}

func TestCheckpointStore_ConcurrentDistinctRuns(t *testing.T) {
	for _, f := range checkpointStores() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			store := f.new(t, time.Now)

			var wg sync.WaitGroup
			errs := make(chan error, 40)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					runID := fmt.Sprintf("run-%d", i)
					for j := 0; j < 5; j++ {
						st := testState(runID, models.RunStatusRunning, time.Now().UTC())
						st.SetProgress(60 + j)
						if err := store.Save(ctx, runID, st); err != nil {
							errs <- err
							return
						}
						if _, err := store.Load(ctx, runID); err != nil {
							errs <- err
							return
						}
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Errorf("concurrent save/load error = %v", err)
			}
		})
	}
}

func TestCheckpointStore_RejectsBadRunID(t *testing.T) {
	for _, f := range checkpointStores() {
		t.Run(f.name, func(t *testing.T) {
			st := testState("x", models.RunStatusRunning, time.Now())
			for _, id := range []string{"", "../escape", "a/b"} {
				if err := f.new(t, time.Now).Save(context.Background(), id, st); err == nil {
					t.Errorf("Save(%q) should fail", id)
				}
			}
		})
	}
}

func TestEventStream_AppendSince(t *testing.T) {
	for name, stream := range eventStreams(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			types := []models.EventType{models.EventRunStarted, models.EventPhaseEntered, models.EventWorkerStarted, models.EventWorkerCompleted}
			for i, typ := range types {
				ev, err := stream.Append(ctx, "run-a", models.Event{Type: typ})
				if err != nil {
					t.Fatalf("Append() error = %v", err)
				}
				if ev.Seq != int64(i+1) {
					t.Errorf("Append() Seq = %d, want %d", ev.Seq, i+1)
				}
				if ev.RunID != "run-a" {
					t.Errorf("Append() RunID = %q, want run-a", ev.RunID)
				}
			}
			if ev, err := stream.Append(ctx, "run-b", models.Event{Type: models.EventRunStarted}); err != nil || ev.Seq != 1 {
				t.Errorf("Append(run-b) = %d, %v, want seq 1 for a new run", ev.Seq, err)
			}

			all, err := stream.Since(ctx, "run-a", 0)
			if err != nil {
				t.Fatalf("Since(0) error = %v", err)
			}
			if len(all) != len(types) {
				t.Fatalf("len(Since(0)) = %d, want %d", len(all), len(types))
			}
			for i, ev := range all {
				if ev.Type != types[i] {
					t.Errorf("Since(0)[%d].Type = %s, want %s", i, ev.Type, types[i])
				}
			}

			tail, err := stream.Since(ctx, "run-a", 2)
			if err != nil {
				t.Fatalf("Since(2) error = %v", err)
			}
			if len(tail) != 2 || tail[0].Seq != 3 {
				t.Errorf("Since(2) = %+v, want seqs 3 and 4", tail)
			}

			none, err := stream.Since(ctx, "run-a", 10)
			if err != nil {
				t.Fatalf("Since(10) error = %v", err)
			}
			if len(none) != 0 {
				t.Errorf("len(Since(10)) = %d, want 0", len(none))
			}

			unknown, err := stream.Since(ctx, "nobody", 0)
			if err != nil {
				t.Fatalf("Since(unknown) error = %v", err)
			}
			if len(unknown) != 0 {
				t.Errorf("len(Since(unknown)) = %d, want 0", len(unknown))
			}
		})
	}
}

func TestFileEvents_SeqSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fe, err := NewFileEvents(dir)
	if err != nil {
		t.Fatalf("NewFileEvents: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := fe.Append(ctx, "run-1", models.Event{Type: models.EventProgress}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	reopened, err := NewFileEvents(dir)
	if err != nil {
		t.Fatalf("NewFileEvents: %v", err)
	}
	ev, err := reopened.Append(ctx, "run-1", models.Event{Type: models.EventRunResumed})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.Seq != 3 {
		t.Errorf("Seq after reopen = %d, want 3", ev.Seq)
	}
}

func TestFileBackend_PurgeRemovesEvents(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := OpenFileBackend(dir)
	if err != nil {
		t.Fatalf("OpenFileBackend: %v", err)
	}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	b.FileStore.now = func() time.Time { return now }

	st := testState("run-1", models.RunStatusCompleted, now.Add(-72*time.Hour))
	if err := b.Save(ctx, "run-1", st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := b.Append(ctx, "run-1", models.Event{Type: models.EventRunCompleted}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err := b.Purge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge() = %d, want 1", n)
	}
	events, err := b.Since(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("len(events) after purge = %d, want 0", len(events))
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "checkpoints", "*.tmp")); len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestRecoveryManager_CheckForInterrupted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, st := range []*models.WorkflowState{
		testState("stale", models.RunStatusRunning, now.Add(-time.Hour)),
		testState("busy", models.RunStatusRunning, now.Add(-time.Second)),
		testState("parked", models.RunStatusSuspended, now.Add(-time.Hour)),
	} {
		if err := store.Save(ctx, st.RunID, st); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rm := NewRecoveryManager(store)
	rm.now = func() time.Time { return now }

	all, err := rm.CheckForInterrupted(ctx)
	if err != nil {
		t.Fatalf("CheckForInterrupted: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(interrupted) = %d, want 2 running runs", len(all))
	}

	rm.MinIdle = time.Minute
	idle, err := rm.CheckForInterrupted(ctx)
	if err != nil {
		t.Fatalf("CheckForInterrupted: %v", err)
	}
	if len(idle) != 1 || idle[0].RunID != "stale" {
		t.Errorf("interrupted with MinIdle = %+v, want only stale", idle)
	}
}
