// Package reload re-applies the configuration file to running modules on
// SIGHUP or when the file content changes.
package reload

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the file to watch.
	ConfigPath string

	// PollInterval defaults to 5 seconds.
	PollInterval time.Duration
}

func (c WatcherConfig) interval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// Event reports that the watched file content changed.
type Event struct {
	ConfigPath string
}

// Watcher polls a file and emits an Event whenever its content digest
// changes. Touching the file without changing it emits nothing.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a Watcher. Nothing is read until Start.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start takes the initial digest synchronously, then polls in the
// background. Only the first call has an effect.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		last, _ := w.digest()
		go w.poll(ctx, last)
	})
}

// Events returns the change notifications. At most one event is queued.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop ends polling. Safe to call more than once and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context, last [sha256.Size]byte) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			sum, ok := w.digest()
			if !ok || sum == last {
				continue
			}
			last = sum
			select {
			case w.events <- Event{ConfigPath: w.cfg.ConfigPath}:
			default:
			}
		}
	}
}

func (w *Watcher) digest() ([sha256.Size]byte, bool) {
	raw, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(raw), true
}
