package orchestrator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jasonewillis/specialists/pkg/models"
)

// emitTimeout is how long Emit waits on a full channel before dropping.
const emitTimeout = 100 * time.Millisecond

// EventEmitter fans appended events out to a live subscriber channel.
// Until Subscribe is called events are discarded without being counted.
// Once subscribed, a channel that stays full drops and counts the event.
// Dropped events remain in the EventStream.
type EventEmitter struct {
	events       chan models.Event
	subscribed   atomic.Bool
	droppedCount atomic.Uint64
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{
		events: make(chan models.Event, bufferSize),
		logger: logger,
	}
}

// OnEvent implements EventObserver.
func (e *EventEmitter) OnEvent(ev models.Event) {
	e.Emit(ev)
}

// Emit sends an event to the channel, waiting briefly if it is full.
func (e *EventEmitter) Emit(ev models.Event) {
	if !e.subscribed.Load() {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()
	select {
	case e.events <- ev:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event channel full, dropped event",
				"total_dropped", count, "type", ev.Type, "run_id", ev.RunID)
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Subscribe starts forwarding events and returns the channel. It is
// closed by Close.
func (e *EventEmitter) Subscribe() <-chan models.Event {
	e.subscribed.Store(true)
	return e.events
}

// Subscribed reports whether anyone asked for the channel.
func (e *EventEmitter) Subscribed() bool {
	return e.subscribed.Load()
}

// Close closes the channel. Later Emit calls are ignored.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
