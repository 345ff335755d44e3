package chat

import (
	"sync"

	"github.com/flemzord/rolegate/internal/store"
)

// LaneLock serializes work per conversation. Requests for the same
// (user, group, role) run one at a time; different conversations run in
// parallel. The global mutex is held only to find or create a lane.
type LaneLock struct {
	mu    sync.Mutex
	lanes map[store.SessionKey]*lane
}

// refs counts holders and waiters; the lane is dropped when it reaches zero.
type lane struct {
	mu   sync.Mutex
	refs int
}

// NewLaneLock creates an empty LaneLock.
func NewLaneLock() *LaneLock {
	return &LaneLock{lanes: make(map[store.SessionKey]*lane)}
}

// Acquire locks the lane for key. Pair every call with Release.
func (l *LaneLock) Acquire(key store.SessionKey) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{}
		l.lanes[key] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
}

// Release unlocks the lane for key.
func (l *LaneLock) Release(key store.SessionKey) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		l.mu.Unlock()
		return
	}
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
	l.mu.Unlock()

	ln.mu.Unlock()
}

// Len returns the number of live lanes.
func (l *LaneLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
