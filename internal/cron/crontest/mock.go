// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/rolegate/internal/cron"
)

// MockPruner records the cutoffs it is asked to prune at. It implements
// cron.SessionPruner and cron.TurnPruner.
type MockPruner struct {
	Count int64
	Err   error

	mu             sync.Mutex
	SessionCutoffs []time.Time
	TurnCutoffs    []time.Time
}

var (
	_ cron.SessionPruner = (*MockPruner)(nil)
	_ cron.TurnPruner    = (*MockPruner)(nil)
)

// PruneSessions implements cron.SessionPruner.
func (m *MockPruner) PruneSessions(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionCutoffs = append(m.SessionCutoffs, cutoff)
	return m.Count, m.Err
}

// PruneTurns implements cron.TurnPruner.
func (m *MockPruner) PruneTurns(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TurnCutoffs = append(m.TurnCutoffs, cutoff)
	return m.Count, m.Err
}
