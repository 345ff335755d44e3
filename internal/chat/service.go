// Package chat turns addressed chat messages into provider requests: it
// routes messages to roles, composes the prompt, resolves the session,
// sends with retries, recovers lost sessions and asks users for missing
// credentials.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/executor"
	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/security"
	"github.com/flemzord/rolegate/internal/session"
	"github.com/flemzord/rolegate/internal/store"
	"github.com/flemzord/rolegate/internal/telemetry"
)

// AuthTokenField is the user field that carries a per-user session token.
const AuthTokenField = "auth_token"

// Adapter is the protocol surface the service needs beyond the resolver's.
type Adapter interface {
	session.Adapter
	AuthModeFor(ref string) (string, error)
	Descriptor(ref string) (*provider.Descriptor, error)
}

// Store is the persistence surface the service needs.
type Store interface {
	store.UserFieldStore
	store.GroupStore
	store.RoleStore
	store.PendingStore
}

// ServiceConfig holds the configuration for a Service.
type ServiceConfig struct {
	Catalog  Catalog
	Adapter  Adapter
	Resolver *session.Resolver
	Executor *executor.Executor
	Store    Store

	// MaxRetries bounds the extra send attempts. Zero means
	// executor.DefaultMaxRetries.
	MaxRetries int

	// Redactor, when set, learns every submitted field value.
	Redactor *security.Redactor
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = executor.DefaultMaxRetries
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Service handles one addressed message for one role.
type Service struct {
	catalog    Catalog
	adapter    Adapter
	resolver   *session.Resolver
	executor   *executor.Executor
	store      Store
	maxRetries int
	redactor   *security.Redactor
	metrics    *telemetry.Metrics
	logger     *slog.Logger

	// lanes serializes session work per (user, group, role) across every
	// caller of the service.
	lanes *LaneLock
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		catalog:    cfg.Catalog,
		adapter:    cfg.Adapter,
		resolver:   cfg.Resolver,
		executor:   cfg.Executor,
		store:      cfg.Store,
		maxRetries: cfg.MaxRetries,
		redactor:   cfg.Redactor,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		lanes:      NewLaneLock(),
	}
}

// Request is one message addressed to one role.
type Request struct {
	UserID    int64
	ChatID    int64
	MessageID int64
	Role      store.Role
	Content   string
	ReplyText string
	Token     string
	// ModelRef overrides the group and role model when set.
	ModelRef string
	// AllRoles marks a message addressed with "@all"; a pending field
	// request then replays to every role.
	AllRoles bool
}

// FieldRequest asks the user for a missing user field.
type FieldRequest struct {
	ProviderID string `json:"provider_id"`
	Key        string `json:"key"`
	Prompt     string `json:"prompt"`
	RoleID     *int64 `json:"role_id,omitempty"`
}

// Reply is the outcome of Handle. Exactly one of Text and NeedsField is
// meaningful.
type Reply struct {
	Role       string        `json:"role"`
	Model      string        `json:"model"`
	SessionID  string        `json:"session_id,omitempty"`
	Text       string        `json:"text,omitempty"`
	Recovered  bool          `json:"recovered,omitempty"`
	NeedsField *FieldRequest `json:"needs_field,omitempty"`
}

// Handle sends req to its role's provider and returns the reply. A 404 on
// send triggers one session recovery. A missing user field is not an
// error: it is recorded as pending and returned in Reply.NeedsField.
// Calls for the same (user, group, role) run one at a time.
func (s *Service) Handle(ctx context.Context, req Request) (Reply, error) {
	key := store.SessionKey{UserID: req.UserID, GroupID: req.ChatID, RoleID: req.Role.ID}
	s.lanes.Acquire(key)
	defer s.lanes.Release(key)

	gr, err := s.groupRole(ctx, req.ChatID, req.Role.ID)
	if err != nil {
		return Reply{}, err
	}
	model := s.ResolveModel(req.ModelRef, gr, req.Role)
	content := BuildContent(req.Content, gr.UserPromptSuffix, gr.UserReplyPrefix, req.ReplyText)
	log := s.logger.With("user_id", req.UserID, "chat_id", req.ChatID, "role", req.Role.Name, "model", model)

	sessReq := session.Request{
		UserID:   req.UserID,
		GroupID:  req.ChatID,
		Role:     req.Role,
		Token:    req.Token,
		ModelRef: model,
	}
	sessionID, err := s.resolver.Resolve(ctx, sessReq)
	if err != nil {
		return s.failure(ctx, req, model, err)
	}

	text, err := s.executor.SendWithRetries(ctx, sessionID, req.Token, content, req.Role, model, s.maxRetries)
	if adapter.IsNotFound(err) {
		log.Warn("session not found, attempting recovery", "session_id", sessionID)
		res, rerr := s.resolver.Recover(ctx, session.RecoveryRequest{
			Request:        sessReq,
			StaleSessionID: sessionID,
			Content:        content,
		})
		switch {
		case rerr != nil:
			return s.failure(ctx, req, model, rerr)
		case res != nil:
			return Reply{
				Role:      req.Role.Name,
				Model:     model,
				SessionID: res.NewSessionID,
				Text:      res.Response,
				Recovered: true,
			}, nil
		}
	}
	if err != nil {
		return s.failure(ctx, req, model, err)
	}

	log.Debug("reply received", "session_id", sessionID, "length", len(text))
	return Reply{Role: req.Role.Name, Model: model, SessionID: sessionID, Text: text}, nil
}

// failure turns a missing user field into a pending request and returns
// every other error unchanged.
func (s *Service) failure(ctx context.Context, req Request, model string, err error) (Reply, error) {
	mf, ok := adapter.AsMissingUserField(err)
	if !ok {
		return Reply{}, err
	}

	s.metrics.IncMissingField(mf.ProviderID, mf.Field.Key)
	roleName := req.Role.Name
	if req.AllRoles {
		roleName = allRoles
	}
	pending := store.PendingField{
		UserID:     req.UserID,
		ChatID:     req.ChatID,
		ProviderID: mf.ProviderID,
		Key:        mf.Field.Key,
		RoleID:     mf.RoleID,
		Prompt:     mf.Field.Prompt,
		MessageID:  req.MessageID,
		RoleName:   roleName,
		Content:    req.Content,
		ReplyText:  req.ReplyText,
	}
	if err := s.store.SavePendingField(ctx, pending); err != nil {
		return Reply{}, fmt.Errorf("chat: save pending field: %w", err)
	}
	s.logger.Info("missing user field, asking user",
		"user_id", req.UserID, "provider", mf.ProviderID, "key", mf.Field.Key, "scope", mf.Field.Scope)

	return Reply{
		Role:  req.Role.Name,
		Model: model,
		NeedsField: &FieldRequest{
			ProviderID: mf.ProviderID,
			Key:        mf.Field.Key,
			Prompt:     mf.Field.Prompt,
			RoleID:     mf.RoleID,
		},
	}, nil
}

// ResolveModel picks the model for a role: explicit, then the group
// override, then the role model. Unknown references fall back to the first
// registered model.
func (s *Service) ResolveModel(explicit string, gr store.GroupRole, role store.Role) string {
	selected := firstNonEmpty(explicit, gr.ModelOverride, role.Model)
	if s.catalog == nil {
		return selected
	}
	model, err := ResolveModel(s.catalog, selected)
	if err != nil {
		s.logger.Warn("provider model list is empty", "role", role.Name)
		return selected
	}
	if selected != "" && model != selected {
		s.logger.Warn("model not found in registry, using default", "model", selected, "default", model)
	}
	return model
}

// RequiresAuth reports whether the provider selected by ref needs a per-user
// credential. Unknown providers require one.
func (s *Service) RequiresAuth(ref string) bool {
	mode, err := s.adapter.AuthModeFor(ref)
	if err != nil {
		return true
	}
	return mode != provider.AuthModeNone
}

// AuthRequest carries a token a user submitted for a provider.
type AuthRequest struct {
	UserID int64
	// GroupID, when set, warms up sessions for every active role of the
	// group.
	GroupID  int64
	Token    string
	ModelRef string
}

// Authorize normalizes and validates a user token. When the provider
// declares an auth_token field the token is stored there; when it can list
// sessions the listing validates the token. It returns the normalized token.
func (s *Service) Authorize(ctx context.Context, req AuthRequest) (string, error) {
	token := NormalizeToken(req.Token)
	if token == "" {
		return "", ErrEmptyField
	}
	d, err := s.adapter.Descriptor(req.ModelRef)
	if err != nil {
		return "", err
	}

	_, usesField := d.UserFields[AuthTokenField]
	if usesField {
		if err := s.store.SetUserField(ctx, d.ID, AuthTokenField, nil, token); err != nil {
			return "", fmt.Errorf("chat: store token: %w", err)
		}
		s.redactor.AddLiteral(token)
	}

	var existing map[string]struct{}
	if d.Supports(provider.CapListSessions) {
		ids, err := s.adapter.ListSessions(ctx, token, req.ModelRef)
		if err != nil {
			s.logger.Warn("token validation failed", "user_id", req.UserID, "provider", d.ID, "error", err)
			if usesField {
				_ = s.store.DeleteUserField(ctx, d.ID, AuthTokenField, nil)
			}
			return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		existing = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			existing[id] = struct{}{}
		}
	}

	if req.GroupID == 0 {
		return token, nil
	}
	grs, err := s.store.ListGroupRoles(ctx, req.GroupID)
	if err != nil {
		return "", fmt.Errorf("chat: list group roles: %w", err)
	}
	for _, gr := range grs {
		role, err := s.store.GetRole(ctx, gr.RoleID)
		if err != nil {
			return "", fmt.Errorf("chat: load role %d: %w", gr.RoleID, err)
		}
		key := store.SessionKey{UserID: req.UserID, GroupID: req.GroupID, RoleID: role.ID}
		s.lanes.Acquire(key)
		_, err = s.resolver.Resolve(ctx, session.Request{
			UserID:             req.UserID,
			GroupID:            req.GroupID,
			Role:               role,
			Token:              token,
			ModelRef:           s.ResolveModel("", gr, role),
			ExistingSessionIDs: existing,
		})
		s.lanes.Release(key)
		if err != nil {
			return "", fmt.Errorf("chat: warm up session for role %s: %w", role.Name, err)
		}
	}
	return token, nil
}

// SubmitField stores value for the user's pending field request, clears
// the request and returns it so the original message can be replayed.
func (s *Service) SubmitField(ctx context.Context, userID int64, value string) (store.PendingField, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return store.PendingField{}, ErrEmptyField
	}
	p, err := s.store.GetPendingField(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.PendingField{}, ErrNoPendingField
	}
	if err != nil {
		return store.PendingField{}, fmt.Errorf("chat: load pending field: %w", err)
	}

	if err := s.store.SetUserField(ctx, p.ProviderID, p.Key, p.RoleID, value); err != nil {
		return store.PendingField{}, fmt.Errorf("chat: store field %s: %w", p.Key, err)
	}
	s.redactor.AddLiteral(value)
	if err := s.store.DeletePendingField(ctx, userID); err != nil {
		return store.PendingField{}, fmt.Errorf("chat: clear pending field: %w", err)
	}
	s.logger.Info("user field stored", "user_id", userID, "provider", p.ProviderID, "key", p.Key)
	return p, nil
}

// ResetSession forgets the session of (user, group, role).
func (s *Service) ResetSession(ctx context.Context, userID, groupID, roleID int64) error {
	key := store.SessionKey{UserID: userID, GroupID: groupID, RoleID: roleID}
	s.lanes.Acquire(key)
	defer s.lanes.Release(key)
	return s.resolver.Reset(ctx, userID, groupID, roleID)
}

// RolesFor returns the active roles of a group, in group-role order.
func (s *Service) RolesFor(ctx context.Context, groupID int64) ([]store.Role, error) {
	grs, err := s.store.ListGroupRoles(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("chat: list group roles: %w", err)
	}
	roles := make([]store.Role, 0, len(grs))
	for _, gr := range grs {
		role, err := s.store.GetRole(ctx, gr.RoleID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("chat: load role %d: %w", gr.RoleID, err)
		}
		if role.Active {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// RoleByName looks up a role case-insensitively.
func (s *Service) RoleByName(ctx context.Context, name string) (store.Role, error) {
	return s.store.GetRoleByName(ctx, name)
}

// Catalog returns the model catalog, nil when none is configured.
func (s *Service) Catalog() Catalog { return s.catalog }

func (s *Service) groupRole(ctx context.Context, groupID, roleID int64) (store.GroupRole, error) {
	gr, err := s.store.GetGroupRole(ctx, groupID, roleID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.GroupRole{}, fmt.Errorf("chat: load group role: %w", err)
	}
	return gr, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
