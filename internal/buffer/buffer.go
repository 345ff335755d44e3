// Package buffer coalesces bursts of chat messages from one sender into a
// single logical request.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/rolegate/internal/telemetry"
)

// DefaultWindow is the debounce window length.
const DefaultWindow = 2 * time.Second

// Key identifies a sender within a chat.
type Key struct {
	ChatID int64
	UserID int64
}

// Item is one buffered message.
type Item struct {
	MessageID int64
	Content   string
	// ReplyText is the text of the message being replied to, if any.
	ReplyText string
	ArrivedAt time.Time
}

// Config holds the configuration for a Buffer.
type Config struct {
	Window  time.Duration
	Metrics *telemetry.Metrics

	// Now and Sleep replace the clock and the window wait. Nil uses the
	// real clock and a context-aware timer.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	return c
}

// Buffer is a per-key debounce coalescer. A window opens with the first
// item of a burst and lasts a fixed duration; it is never extended. All
// state is guarded by a single mutex.
type Buffer struct {
	mu        sync.Mutex
	items     map[Key][]Item
	scheduled map[Key]bool

	window  time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *telemetry.Metrics
}

// New creates an empty Buffer.
func New(cfg Config) *Buffer {
	cfg = cfg.withDefaults()
	return &Buffer{
		items:     make(map[Key][]Item),
		scheduled: make(map[Key]bool),
		window:    cfg.Window,
		now:       cfg.Now,
		sleep:     cfg.Sleep,
		metrics:   cfg.Metrics,
	}
}

// Window returns the configured window length.
func (b *Buffer) Window() time.Duration { return b.window }

// Add buffers item under key. While a window is open the item joins it and
// Add returns false. An expired window is discarded first. With start set a
// new window opens and Add returns true; without it nothing is buffered.
func (b *Buffer) Add(key Key, item Item, start bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if item.ArrivedAt.IsZero() {
		item.ArrivedAt = b.now()
	}

	if existing := b.items[key]; len(existing) > 0 {
		if item.ArrivedAt.Sub(existing[0].ArrivedAt) <= b.window {
			b.items[key] = append(existing, item)
			return false
		}
		delete(b.items, key)
		delete(b.scheduled, key)
	}

	if !start {
		return false
	}
	b.items[key] = []Item{item}
	return true
}

// MarkScheduled flips key to scheduled. It returns true for exactly one
// caller per window; that caller owns the flush.
func (b *Buffer) MarkScheduled(key Key) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.scheduled[key] {
		return false
	}
	b.scheduled[key] = true
	return true
}

// Collect drains and returns the items buffered for key in arrival order,
// clearing the scheduled flag.
func (b *Buffer) Collect(key Key) []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.items[key]
	delete(b.items, key)
	delete(b.scheduled, key)
	if len(items) > 0 {
		b.metrics.ObserveFlush(len(items))
	}
	return items
}

// WaitAndCollect waits one full window, then drains key. If ctx ends first
// the items are drained anyway and ctx's error is returned with them.
func (b *Buffer) WaitAndCollect(ctx context.Context, key Key) ([]Item, error) {
	err := b.sleep(ctx, b.window)
	return b.Collect(key), err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
