package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/provider"
)

// Recovery outcomes, used as metric labels.
const (
	recoveryRecovered = "recovered"
	recoverySkipped   = "skipped"
	recoveryFailed    = "failed"
)

// RecoveryRequest asks for a replacement of a session the provider no
// longer knows about.
type RecoveryRequest struct {
	Request
	StaleSessionID string
	// Content is resent once on the replacement session.
	Content string
}

// RecoveryResult describes a successful recovery.
type RecoveryResult struct {
	OldSessionID string
	NewSessionID string
	Response     string
}

// Recover replaces a stale session at most once. It returns a nil result
// without error when recovery does not apply or fails: the provider cannot
// list sessions, the stale id is still listed, the replacement equals the
// stale id, or creating or resending fails. The caller then surfaces its
// original error. Only a missing user field is returned as an error.
func (r *Resolver) Recover(ctx context.Context, req RecoveryRequest) (*RecoveryResult, error) {
	log := r.logger.With("user_id", req.UserID, "group_id", req.GroupID, "role", req.Role.Name,
		"stale_session_id", req.StaleSessionID)

	if !r.adapter.Supports(req.ModelRef, provider.CapListSessions) {
		r.metrics.IncRecovery(recoverySkipped)
		log.Info("session recovery unavailable, provider cannot list sessions")
		return nil, nil
	}

	ids, err := r.adapter.ListSessions(ctx, req.Token, req.ModelRef)
	if err != nil {
		r.metrics.IncRecovery(recoveryFailed)
		log.Warn("session recovery: list sessions failed", "error", err)
		return nil, nil
	}
	existing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		existing[id] = struct{}{}
	}
	if _, ok := existing[req.StaleSessionID]; ok {
		r.metrics.IncRecovery(recoverySkipped)
		log.Warn("session recovery aborted, stale session still listed")
		return nil, nil
	}

	fresh := req.Request
	fresh.ExistingSessionIDs = existing
	newID, err := r.Resolve(ctx, fresh)
	if err != nil {
		return r.abandonRecovery(log, "create replacement", err)
	}
	if newID == req.StaleSessionID {
		r.metrics.IncRecovery(recoverySkipped)
		log.Warn("session recovery aborted, replacement equals stale session")
		return nil, nil
	}

	roleID := req.Role.ID
	model := firstNonEmpty(req.ModelRef, req.Role.Model)
	reply, err := r.adapter.SendMessage(ctx, newID, req.Token, req.Content, model, &roleID)
	if err != nil {
		return r.abandonRecovery(log, "resend", err)
	}

	r.metrics.IncRecovery(recoveryRecovered)
	log.Info("session recovered", "new_session_id", newID)
	return &RecoveryResult{OldSessionID: req.StaleSessionID, NewSessionID: newID, Response: reply}, nil
}

// abandonRecovery logs a failed recovery step. A missing user field is
// passed through so the caller can ask for it.
func (r *Resolver) abandonRecovery(log *slog.Logger, step string, err error) (*RecoveryResult, error) {
	r.metrics.IncRecovery(recoveryFailed)
	if _, ok := adapter.AsMissingUserField(err); ok {
		return nil, fmt.Errorf("session: recovery %s: %w", step, err)
	}
	log.Warn("session recovery failed", "step", step, "error", err)
	return nil, nil
}
