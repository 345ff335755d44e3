package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock whose Sleep advances time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.Advance(d)
	return nil
}

func newTestBuffer(c *fakeClock) *Buffer {
	return New(Config{Window: 2 * time.Second, Now: c.Now, Sleep: c.Sleep})
}

func contents(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Content
	}
	return out
}

func TestBuffer_CoalescesWithinWindow(t *testing.T) {
	t.Parallel()

	c := newFakeClock()
	b := newTestBuffer(c)
	key := Key{ChatID: -1, UserID: 7}

	if !b.Add(key, Item{MessageID: 1, Content: "m1"}, true) {
		t.Fatal("first Add(start=true) = false, want true")
	}
	c.Advance(time.Second)
	if b.Add(key, Item{MessageID: 2, Content: "m2", ReplyText: "quoted"}, false) {
		t.Error("Add into open window = true, want false")
	}

	items, err := b.WaitAndCollect(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if got := contents(items); len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("WaitAndCollect() = %v, want [m1 m2]", got)
	}
	if items[1].ReplyText != "quoted" || items[0].MessageID != 1 {
		t.Errorf("item fields lost: %+v", items)
	}

	if b.Add(key, Item{Content: "m3"}, false) {
		t.Error("passive Add after drain = true")
	}
	if got := b.Collect(key); len(got) != 0 {
		t.Errorf("passive Add buffered %v", contents(got))
	}
}

func TestBuffer_PassiveAddNeverOpensWindow(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(newFakeClock())
	key := Key{ChatID: 1, UserID: 1}
	if b.Add(key, Item{Content: "x"}, false) {
		t.Error("Add(start=false) on empty buffer = true")
	}
	if got := b.Collect(key); len(got) != 0 {
		t.Errorf("Collect() = %v, want empty", contents(got))
	}
}

func TestBuffer_ExpiredWindowIsDiscarded(t *testing.T) {
	t.Parallel()

	c := newFakeClock()
	b := newTestBuffer(c)
	key := Key{ChatID: 1, UserID: 1}

	b.Add(key, Item{Content: "stale"}, true)
	if !b.MarkScheduled(key) {
		t.Fatal("MarkScheduled() = false")
	}
	c.Advance(3 * time.Second)

	if !b.Add(key, Item{Content: "fresh"}, true) {
		t.Fatal("Add after expiry with start = false, want a new window")
	}
	if !b.MarkScheduled(key) {
		t.Error("new window must be schedulable again")
	}
	if got := contents(b.Collect(key)); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("Collect() = %v, want [fresh]", got)
	}
}

func TestBuffer_WindowBoundaryIsInclusive(t *testing.T) {
	t.Parallel()

	c := newFakeClock()
	b := newTestBuffer(c)
	key := Key{ChatID: 1, UserID: 1}

	b.Add(key, Item{Content: "a"}, true)
	c.Advance(2 * time.Second)
	b.Add(key, Item{Content: "b"}, false)
	if got := contents(b.Collect(key)); len(got) != 2 {
		t.Errorf("Collect() = %v, want both items", got)
	}
}

func TestBuffer_MarkScheduledOncePerWindow(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(newFakeClock())
	key := Key{ChatID: 5, UserID: 6}
	b.Add(key, Item{Content: "a"}, true)

	if !b.MarkScheduled(key) {
		t.Error("first MarkScheduled() = false")
	}
	if b.MarkScheduled(key) {
		t.Error("second MarkScheduled() = true")
	}

	b.Collect(key)
	if !b.MarkScheduled(key) {
		t.Error("MarkScheduled() after drain = false")
	}
}

func TestBuffer_ConcurrentSchedulingYieldsOneFlush(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(newFakeClock())
	key := Key{ChatID: 1, UserID: 2}
	b.Add(key, Item{Content: "open"}, true)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Add(key, Item{Content: "more"}, true)
			if b.MarkScheduled(key) {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := winners.Load(); n != 1 {
		t.Errorf("MarkScheduled winners = %d, want 1", n)
	}
	if got := b.Collect(key); len(got) != 33 {
		t.Errorf("Collect() len = %d, want 33", len(got))
	}
}

func TestBuffer_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	b := newTestBuffer(newFakeClock())
	a, c := Key{ChatID: 1, UserID: 1}, Key{ChatID: 1, UserID: 2}
	b.Add(a, Item{Content: "a"}, true)
	if b.Add(c, Item{Content: "c"}, false) {
		t.Error("other key joined a foreign window")
	}
	if got := contents(b.Collect(a)); len(got) != 1 || got[0] != "a" {
		t.Errorf("Collect(a) = %v", got)
	}
}

func TestBuffer_WaitAndCollectCancelled(t *testing.T) {
	t.Parallel()

	b := New(Config{Window: time.Hour})
	key := Key{ChatID: 1, UserID: 1}
	b.Add(key, Item{Content: "x"}, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, err := b.WaitAndCollect(ctx, key)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(items) != 1 {
		t.Errorf("items = %v, want the buffered item", contents(items))
	}
}

func TestBuffer_RealTimerWaitsFullWindow(t *testing.T) {
	t.Parallel()

	b := New(Config{Window: 30 * time.Millisecond})
	key := Key{ChatID: 1, UserID: 1}
	b.Add(key, Item{Content: "x"}, true)

	start := time.Now()
	if _, err := b.WaitAndCollect(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("WaitAndCollect returned after %v, want >= window", elapsed)
	}
}
