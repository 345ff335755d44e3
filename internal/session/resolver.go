// Package session maps (user, group, role) triples to provider-side or
// local conversation sessions and recovers sessions the provider lost.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/telemetry"
)

// Session kinds, used as metric labels.
const (
	KindLocal  = "local"
	KindRemote = "remote"
)

// Adapter is the protocol surface the resolver needs.
type Adapter interface {
	Supports(ref string, c provider.Capability) bool
	ListSessions(ctx context.Context, token, ref string) ([]string, error)
	CreateSession(ctx context.Context, token string, metadata map[string]string, roleID *int64, ref string) (string, error)
	RenameSession(ctx context.Context, sessionID, token, name string, roleID *int64, ref string) error
	SendMessage(ctx context.Context, sessionID, token, content, ref string, roleID *int64) (string, error)
}

// Store is the persistence surface the resolver needs.
type Store interface {
	store.SessionStore
	store.HistoryStore
	store.GroupStore
}

// Config holds the configuration for a Resolver.
type Config struct {
	Adapter Adapter
	Store   Store
	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// NewID mints local session ids. Defaults to a random UUID in hex.
	NewID func() string
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.NewID == nil {
		c.NewID = newLocalID
	}
	return c
}

func newLocalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Resolver owns the session lifecycle.
type Resolver struct {
	adapter Adapter
	store   Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
	newID   func() string
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	cfg = cfg.withDefaults()
	return &Resolver{
		adapter: cfg.Adapter,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		newID:   cfg.NewID,
	}
}

// Request identifies the session to resolve.
type Request struct {
	UserID   int64
	GroupID  int64
	Role     store.Role
	Token    string
	ModelRef string

	// ExistingSessionIDs, when non-nil, lists the remote session ids that
	// are still valid. A stored id outside the set is replaced.
	ExistingSessionIDs map[string]struct{}
}

func (req Request) key() store.SessionKey {
	return store.SessionKey{UserID: req.UserID, GroupID: req.GroupID, RoleID: req.Role.ID}
}

// Resolve returns the session id for the request, creating one when none
// is stored. Providers without create_session get a local session and are
// never contacted.
func (r *Resolver) Resolve(ctx context.Context, req Request) (string, error) {
	stored, found, err := r.lookup(ctx, req.key())
	if err != nil {
		return "", err
	}

	if !r.adapter.Supports(req.ModelRef, provider.CapCreateSession) {
		if found {
			return stored.SessionID, r.store.TouchSession(ctx, req.key())
		}
		return r.createLocal(ctx, req)
	}

	if found && req.valid(stored.SessionID) {
		return stored.SessionID, r.store.TouchSession(ctx, req.key())
	}
	return r.createRemote(ctx, req)
}

func (req Request) valid(id string) bool {
	if req.ExistingSessionIDs == nil {
		return true
	}
	_, ok := req.ExistingSessionIDs[id]
	return ok
}

func (r *Resolver) lookup(ctx context.Context, key store.SessionKey) (store.UserRoleSession, bool, error) {
	s, err := r.store.GetSession(ctx, key)
	switch {
	case err == nil:
		return s, true, nil
	case errors.Is(err, store.ErrNotFound):
		return store.UserRoleSession{}, false, nil
	default:
		return store.UserRoleSession{}, false, fmt.Errorf("session: load mapping: %w", err)
	}
}

func (r *Resolver) createLocal(ctx context.Context, req Request) (string, error) {
	id := r.newID()
	if err := r.store.SaveSession(ctx, req.key(), id); err != nil {
		return "", fmt.Errorf("session: save local mapping: %w", err)
	}

	gr, err := r.groupRole(ctx, req)
	if err != nil {
		return "", err
	}
	if prompt := CombinedPrompt(req.Role, gr); prompt != "" {
		if err := r.store.AppendTurn(ctx, id, store.SpeakerSystem, prompt); err != nil {
			return "", fmt.Errorf("session: store system prompt: %w", err)
		}
	}

	r.metrics.IncSessionCreated(KindLocal)
	r.logger.Info("created local session",
		"user_id", req.UserID, "group_id", req.GroupID, "role", req.Role.Name)
	return id, nil
}

func (r *Resolver) createRemote(ctx context.Context, req Request) (string, error) {
	roleID := req.Role.ID
	gr, err := r.groupRole(ctx, req)
	if err != nil {
		return "", err
	}

	id, err := r.adapter.CreateSession(ctx, req.Token, map[string]string{
		"user_id":  fmt.Sprint(req.UserID),
		"group_id": fmt.Sprint(req.GroupID),
		"role":     req.Role.Name,
	}, &roleID, req.ModelRef)
	if err != nil {
		return "", err
	}

	if r.adapter.Supports(req.ModelRef, provider.CapRenameSession) {
		name, err := r.sessionName(ctx, req)
		if err != nil {
			return "", err
		}
		if err := r.adapter.RenameSession(ctx, id, req.Token, name, &roleID, req.ModelRef); err != nil {
			r.logger.Warn("rename session failed",
				"user_id", req.UserID, "role", req.Role.Name, "session_id", id, "error", err)
		}
	}

	if prompt := CombinedPrompt(req.Role, gr); prompt != "" {
		model := firstNonEmpty(req.ModelRef, gr.ModelOverride, req.Role.Model)
		if _, err := r.adapter.SendMessage(ctx, id, req.Token, prompt, model, &roleID); err != nil {
			r.logger.Error("session warm-up failed",
				"user_id", req.UserID, "group_id", req.GroupID, "role", req.Role.Name, "error", err)
		}
	} else {
		r.logger.Info("skip session warm-up, empty prompt",
			"user_id", req.UserID, "group_id", req.GroupID, "role", req.Role.Name)
	}

	if err := r.store.SaveSession(ctx, req.key(), id); err != nil {
		return "", fmt.Errorf("session: save mapping: %w", err)
	}
	r.metrics.IncSessionCreated(KindRemote)
	r.logger.Info("created session",
		"user_id", req.UserID, "group_id", req.GroupID, "role", req.Role.Name)
	return id, nil
}

// sessionName is "<group title> / @<role>", or "@<role>" without a title.
func (r *Resolver) sessionName(ctx context.Context, req Request) (string, error) {
	title, ok, err := r.store.GetGroupTitle(ctx, req.GroupID)
	if err != nil {
		return "", fmt.Errorf("session: load group title: %w", err)
	}
	if ok && title != "" {
		return title + " / @" + req.Role.Name, nil
	}
	return "@" + req.Role.Name, nil
}

func (r *Resolver) groupRole(ctx context.Context, req Request) (store.GroupRole, error) {
	gr, err := r.store.GetGroupRole(ctx, req.GroupID, req.Role.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.GroupRole{}, fmt.Errorf("session: load group role: %w", err)
	}
	return gr, nil
}

// Reset deletes the stored mapping so the next Resolve starts afresh.
func (r *Resolver) Reset(ctx context.Context, userID, groupID, roleID int64) error {
	return r.store.DeleteSession(ctx, store.SessionKey{UserID: userID, GroupID: groupID, RoleID: roleID})
}

// CombinedPrompt joins the base prompt with the role's extra instruction.
// A group override replaces the role's base prompt when set, even if empty.
func CombinedPrompt(role store.Role, gr store.GroupRole) string {
	base := role.BaseSystemPrompt
	if gr.SystemPromptOverride != nil {
		base = *gr.SystemPromptOverride
	}
	base = strings.TrimSpace(base)
	extra := strings.TrimSpace(role.ExtraInstruction)
	return strings.TrimSpace(base + "\n\n" + extra)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
