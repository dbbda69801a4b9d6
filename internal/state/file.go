package state

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jasonewillis/specialists/pkg/models"
)

// FileStore keeps one JSON checkpoint file per run under dir.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates a file-backed checkpoint store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (f *FileStore) path(runID string) string {
	return filepath.Join(f.dir, runID+".json")
}

// Save writes the snapshot to a temp file and renames it into place.
func (f *FileStore) Save(_ context.Context, runID string, st *models.WorkflowState) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	return writeJSONAtomic(f.path(runID), st)
}

// Load reads the snapshot for runID.
func (f *FileStore) Load(_ context.Context, runID string) (*models.WorkflowState, error) {
	if err := validateRunID(runID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointNotFound, err)
	}
	data, err := os.ReadFile(f.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", runID, err)
	}
	var st models.WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return &st, nil
}

// Delete removes the checkpoint file. Missing files are ignored.
func (f *FileStore) Delete(_ context.Context, runID string) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	if err := os.Remove(f.path(runID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint %s: %w", runID, err)
	}
	return nil
}

// List decodes every checkpoint file and returns its summary.
func (f *FileStore) List(ctx context.Context, status *models.RunStatus) ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	var out []CheckpointInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		st, err := f.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if status == nil || st.Status == *status {
			out = append(out, infoFor(st))
		}
	}
	sortInfos(out)
	return out, nil
}

// Purge removes non-running checkpoints not updated within olderThan.
func (f *FileStore) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	infos, err := f.List(ctx, nil)
	if err != nil {
		return 0, err
	}
	cutoff := f.now().Add(-olderThan)
	var count int64
	for _, info := range infos {
		if !purgeable(info, cutoff) {
			continue
		}
		if err := f.Delete(ctx, info.RunID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// FileEvents appends events as JSON lines, one file per run. The next
// sequence number is recovered from the file the first time a run is seen.
type FileEvents struct {
	dir string

	mu   sync.Mutex
	runs map[string]*fileRun
}

type fileRun struct {
	mu      sync.Mutex
	lastSeq int64
	loaded  bool
}

// NewFileEvents creates a JSONL event stream rooted at dir.
func NewFileEvents(dir string) (*FileEvents, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	return &FileEvents{dir: dir, runs: make(map[string]*fileRun)}, nil
}

func (f *FileEvents) path(runID string) string {
	return filepath.Join(f.dir, runID+".jsonl")
}

func (f *FileEvents) run(runID string) *fileRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		r = &fileRun{}
		f.runs[runID] = r
	}
	return r
}

// Append writes ev with the next sequence number for runID.
func (f *FileEvents) Append(_ context.Context, runID string, ev models.Event) (models.Event, error) {
	if err := validateRunID(runID); err != nil {
		return ev, err
	}
	r := f.run(runID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		events, err := readEvents(f.path(runID))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return ev, err
		}
		if n := len(events); n > 0 {
			r.lastSeq = events[n-1].Seq
		}
		r.loaded = true
	}

	ev.RunID = runID
	ev.Seq = r.lastSeq + 1
	if ev.TimestampUTC.IsZero() {
		ev.TimestampUTC = time.Now().UTC()
	}
	if err := appendJSONL(f.path(runID), ev); err != nil {
		return ev, err
	}
	r.lastSeq = ev.Seq
	return ev, nil
}

// Since reads the run's log and returns events after sinceIndex.
func (f *FileEvents) Since(_ context.Context, runID string, sinceIndex int64) ([]models.Event, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	r := f.run(runID)
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := readEvents(f.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []models.Event
	for _, ev := range events {
		if ev.Seq > sinceIndex {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Remove deletes the event log for runID.
func (f *FileEvents) Remove(runID string) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	r := f.run(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(f.path(runID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove event log %s: %w", runID, err)
	}
	r.lastSeq = 0
	r.loaded = true
	return nil
}

// FileBackend stores checkpoints and events under one data directory.
type FileBackend struct {
	*FileStore
	*FileEvents
}

// OpenFileBackend creates checkpoints/ and events/ under dir.
func OpenFileBackend(dir string) (*FileBackend, error) {
	fs, err := NewFileStore(filepath.Join(dir, "checkpoints"))
	if err != nil {
		return nil, err
	}
	fe, err := NewFileEvents(filepath.Join(dir, "events"))
	if err != nil {
		return nil, err
	}
	return &FileBackend{FileStore: fs, FileEvents: fe}, nil
}

// Purge evicts old checkpoints and their event logs.
func (b *FileBackend) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	infos, err := b.FileStore.List(ctx, nil)
	if err != nil {
		return 0, err
	}
	cutoff := b.FileStore.now().Add(-olderThan)
	var count int64
	for _, info := range infos {
		if !purgeable(info, cutoff) {
			continue
		}
		if err := b.FileStore.Delete(ctx, info.RunID); err != nil {
			return count, err
		}
		if err := b.FileEvents.Remove(info.RunID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Close is a no-op; files are not held open between calls.
func (b *FileBackend) Close() error {
	return nil
}

// writeJSONAtomic writes v to a unique temp file in the same directory and
// renames it over path.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func appendJSONL(path string, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func readEvents(path string) ([]models.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []models.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parse event line %d: %w", lineNo, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return events, nil
}
