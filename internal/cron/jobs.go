package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPruner removes session mappings last used before a cutoff.
type SessionPruner interface {
	PruneSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// TurnPruner removes conversation turns created before a cutoff.
type TurnPruner interface {
	PruneTurns(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionCleanupJob forgets session mappings idle longer than MaxIdle. The
// next message of such a conversation starts a new provider session.
type SessionCleanupJob struct {
	Store        SessionPruner
	MaxIdle      time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/15 * * * *"
	Now          func() time.Time
}

var _ Job = (*SessionCleanupJob)(nil)

// Name implements Job.
func (j *SessionCleanupJob) Name() string { return "session_cleanup" }

// Schedule implements Job.
func (j *SessionCleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/15 * * * *"
}

// Run prunes mappings idle longer than MaxIdle.
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	n, err := j.Store.PruneSessions(ctx, cutoff(j.Now, j.MaxIdle))
	if err != nil {
		return fmt.Errorf("cron: prune sessions: %w", err)
	}
	if n > 0 {
		j.Logger.Info("cron: pruned idle sessions", "count", n, "max_idle", j.MaxIdle)
	}
	return nil
}

// HistoryRetentionJob deletes conversation turns older than Retention.
type HistoryRetentionJob struct {
	Store        TurnPruner
	Retention    time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * *"
	Now          func() time.Time
}

var _ Job = (*HistoryRetentionJob)(nil)

// Name implements Job.
func (j *HistoryRetentionJob) Name() string { return "history_retention" }

// Schedule implements Job.
func (j *HistoryRetentionJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run deletes turns created before now minus Retention.
func (j *HistoryRetentionJob) Run(ctx context.Context) error {
	n, err := j.Store.PruneTurns(ctx, cutoff(j.Now, j.Retention))
	if err != nil {
		return fmt.Errorf("cron: prune history: %w", err)
	}
	if n > 0 {
		j.Logger.Info("cron: expired conversation turns", "count", n, "retention", j.Retention)
	}
	return nil
}

func cutoff(now func() time.Time, age time.Duration) time.Time {
	if now == nil {
		now = time.Now
	}
	return now().Add(-age)
}
