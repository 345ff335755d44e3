// Package store defines the persistence contract used by the adapter, the
// session resolver and the chat service, and an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"
)

// ServiceName is the application service name store modules register under.
const ServiceName = "store"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Speaker tags a conversation turn.
type Speaker string

// Speaker constants.
const (
	SpeakerSystem    Speaker = "system"
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// SessionKey identifies a conversation mapping.
type SessionKey struct {
	UserID  int64
	GroupID int64
	RoleID  int64
}

// UserRoleSession maps a SessionKey to a provider-side or local session id.
type UserRoleSession struct {
	Key        SessionKey
	SessionID  string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Turn is one entry of a session's conversation log.
type Turn struct {
	SessionID string
	Seq       int64
	Speaker   Speaker
	Content   string
	CreatedAt time.Time
}

// Role is a configured persona.
type Role struct {
	ID               int64
	Name             string
	Description      string
	BaseSystemPrompt string
	ExtraInstruction string
	// Model is a model reference ("provider:model"); empty means default.
	Model  string
	Active bool
}

// Group is a chat group the front end has seen.
type Group struct {
	ID        int64
	Title     string
	Active    bool
	CreatedAt time.Time
}

// GroupRole holds per-group overrides for a role.
type GroupRole struct {
	GroupID int64
	RoleID  int64
	// SystemPromptOverride replaces the role base prompt when non-nil. An
	// empty override means "no base prompt".
	SystemPromptOverride *string
	DisplayName          string
	ModelOverride        string
	UserPromptSuffix     string
	UserReplyPrefix      string
	Active               bool
}

// PendingField records a user field the user was asked for, together with
// the message that triggered the request so it can be replayed.
type PendingField struct {
	UserID     int64
	ChatID     int64
	ProviderID string
	Key        string
	// RoleID is nil for provider-scoped fields.
	RoleID    *int64
	Prompt    string
	MessageID int64
	RoleName  string
	Content   string
	ReplyText string
	CreatedAt time.Time
}

// UserFieldStore persists user-supplied provider field values. A nil
// roleID addresses the provider-scoped value.
type UserFieldStore interface {
	GetUserField(ctx context.Context, providerID, key string, roleID *int64) (string, bool, error)
	SetUserField(ctx context.Context, providerID, key string, roleID *int64, value string) error
	DeleteUserField(ctx context.Context, providerID, key string, roleID *int64) error
}

// SessionStore persists UserRoleSession mappings, one per key.
type SessionStore interface {
	GetSession(ctx context.Context, key SessionKey) (UserRoleSession, error)
	SaveSession(ctx context.Context, key SessionKey, sessionID string) error
	TouchSession(ctx context.Context, key SessionKey) error
	DeleteSession(ctx context.Context, key SessionKey) error
	ListUserSessions(ctx context.Context, userID int64) ([]UserRoleSession, error)
	// PruneSessions removes mappings last used before cutoff.
	PruneSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// HistoryStore is the append-only conversation log.
type HistoryStore interface {
	AppendTurn(ctx context.Context, sessionID string, speaker Speaker, content string) error
	// ListTurns returns the most recent limit turns in chronological order.
	// A limit <= 0 returns every turn.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	// PruneTurns removes turns created before cutoff.
	PruneTurns(ctx context.Context, cutoff time.Time) (int64, error)
}

// GroupStore persists groups and their per-role overrides.
type GroupStore interface {
	GetGroupTitle(ctx context.Context, groupID int64) (string, bool, error)
	UpsertGroup(ctx context.Context, groupID int64, title string) error
	GetGroupRole(ctx context.Context, groupID, roleID int64) (GroupRole, error)
	SetGroupRole(ctx context.Context, gr GroupRole) error
	ListGroupRoles(ctx context.Context, groupID int64) ([]GroupRole, error)
}

// RoleStore persists roles.
type RoleStore interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	// UpsertRole inserts or updates by name and returns the stored role.
	UpsertRole(ctx context.Context, r Role) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
}

// PendingStore persists at most one pending field request per user.
type PendingStore interface {
	SavePendingField(ctx context.Context, p PendingField) error
	GetPendingField(ctx context.Context, userID int64) (PendingField, error)
	DeletePendingField(ctx context.Context, userID int64) error
}

// Store is the full persistence surface.
type Store interface {
	UserFieldStore
	SessionStore
	HistoryStore
	GroupStore
	RoleStore
	PendingStore
}
