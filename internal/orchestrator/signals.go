package orchestrator

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// cancelSuffix marks a cancel request file: <signals dir>/<runID>.cancel.
const cancelSuffix = ".cancel"

// Canceller cancels a run by id.
type Canceller interface {
	Cancel(runID string) error
}

// SignalWatcher lets other processes cancel runs owned by this one by
// dropping files into a shared signals directory.
type SignalWatcher struct {
	dir       string
	canceller Canceller
	logger    *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalWatcher watches dir for cancel files. If the watcher cannot be
// started, Poll still works.
func NewSignalWatcher(dir string, c Canceller, logger *slog.Logger) (*SignalWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	sw := &SignalWatcher{
		dir:       dir,
		canceller: c,
		logger:    logger.With("component", "signals"),
		done:      make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		sw.logger.Warn("file watcher unavailable, cancel signals need polling", "error", err)
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		sw.logger.Warn("cannot watch signals directory", "dir", dir, "error", err)
		return sw, nil
	}
	sw.watcher = watcher

	go sw.watch()
	return sw, nil
}

func (sw *SignalWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.handle(event.Name)
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Debug("watcher error", "error", err)
		}
	}
}

// Poll handles cancel files already present in the directory, such as
// those written before the watcher started.
func (sw *SignalWatcher) Poll() {
	entries, err := os.ReadDir(sw.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			sw.handle(filepath.Join(sw.dir, e.Name()))
		}
	}
}

func (sw *SignalWatcher) handle(path string) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, cancelSuffix) {
		return
	}
	runID := strings.TrimSuffix(base, cancelSuffix)
	if runID == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	if err := sw.canceller.Cancel(runID); err != nil {
		sw.logger.Debug("cancel signal not applied", "run_id", runID, "error", err)
		return
	}
	os.Remove(path)
	sw.logger.Info("cancel signal applied", "run_id", runID)
}

// Dir returns the signals directory.
func (sw *SignalWatcher) Dir() string {
	return sw.dir
}

// Close stops watching.
func (sw *SignalWatcher) Close() {
	close(sw.done)
	if sw.watcher != nil {
		sw.watcher.Close()
	}
}

// SendCancel writes a cancel request for runID into dir.
func SendCancel(dir, runID string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, runID+cancelSuffix)
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0644)
}
