package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jasonewillis/specialists/pkg/models"
)

type memoryEntry struct {
	data []byte
	info CheckpointInfo
}

// MemoryStore keeps JSON snapshots in memory. Each Save swaps in a freshly
// encoded snapshot, so callers never share memory with stored state.
type MemoryStore struct {
	entries sync.Map // runID -> memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Save stores a snapshot of st.
func (m *MemoryStore) Save(_ context.Context, runID string, st *models.WorkflowState) error {
	if err := validateRunID(runID); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", runID, err)
	}
	m.entries.Store(runID, memoryEntry{data: data, info: infoFor(st)})
	return nil
}

// Load decodes the stored snapshot for runID.
func (m *MemoryStore) Load(_ context.Context, runID string) (*models.WorkflowState, error) {
	v, ok := m.entries.Load(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, runID)
	}
	var st models.WorkflowState
	if err := json.Unmarshal(v.(memoryEntry).data, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return &st, nil
}

// Delete removes the snapshot for runID. Deleting an unknown run is a no-op.
func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.entries.Delete(runID)
	return nil
}

// List returns stored checkpoints, optionally filtered by status.
func (m *MemoryStore) List(_ context.Context, status *models.RunStatus) ([]CheckpointInfo, error) {
	var out []CheckpointInfo
	m.entries.Range(func(_, v any) bool {
		info := v.(memoryEntry).info
		if status == nil || info.Status == *status {
			out = append(out, info)
		}
		return true
	})
	sortInfos(out)
	return out, nil
}

// Purge removes non-running checkpoints not updated within olderThan.
func (m *MemoryStore) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := m.now().Add(-olderThan)
	var count int64
	m.entries.Range(func(k, v any) bool {
		if purgeable(v.(memoryEntry).info, cutoff) {
			m.entries.Delete(k)
			count++
		}
		return true
	})
	return count, nil
}

type runLog struct {
	mu     sync.Mutex
	events []models.Event
}

// MemoryEvents is an in-memory EventStream. Each run has its own lock.
type MemoryEvents struct {
	mu   sync.RWMutex
	runs map[string]*runLog
}

// NewMemoryEvents creates an empty in-memory event stream.
func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{runs: make(map[string]*runLog)}
}

func (m *MemoryEvents) log(runID string, create bool) *runLog {
	m.mu.RLock()
	l, ok := m.runs[runID]
	m.mu.RUnlock()
	if ok || !create {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok = m.runs[runID]; !ok {
		l = &runLog{}
		m.runs[runID] = l
	}
	return l
}

// Append assigns the next sequence number and stores a copy of ev.
func (m *MemoryEvents) Append(_ context.Context, runID string, ev models.Event) (models.Event, error) {
	l := m.log(runID, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.RunID = runID
	ev.Seq = int64(len(l.events)) + 1
	if ev.TimestampUTC.IsZero() {
		ev.TimestampUTC = time.Now().UTC()
	}
	l.events = append(l.events, ev.Clone())
	return ev, nil
}

// Since returns copies of events after sinceIndex.
func (m *MemoryEvents) Since(_ context.Context, runID string, sinceIndex int64) ([]models.Event, error) {
	l := m.log(runID, false)
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if sinceIndex < 0 {
		sinceIndex = 0
	}
	if sinceIndex >= int64(len(l.events)) {
		return nil, nil
	}
	out := make([]models.Event, 0, int64(len(l.events))-sinceIndex)
	for _, ev := range l.events[sinceIndex:] {
		out = append(out, ev.Clone())
	}
	return out, nil
}

// Forget drops the event log for runID.
func (m *MemoryEvents) Forget(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
}

func sortInfos(infos []CheckpointInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].RunID < infos[j].RunID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
}
