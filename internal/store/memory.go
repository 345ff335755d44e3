package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// providerScope is the role key used for provider-scoped field values.
const providerScope int64 = -1

type fieldKey struct {
	providerID string
	key        string
	roleKey    int64
}

func newFieldKey(providerID, key string, roleID *int64) fieldKey {
	fk := fieldKey{providerID: providerID, key: key, roleKey: providerScope}
	if roleID != nil {
		fk.roleKey = *roleID
	}
	return fk
}

type groupRoleKey struct {
	groupID int64
	roleID  int64
}

// Memory is a concurrency-safe, in-memory Store. The now function is
// injectable for deterministic tests.
type Memory struct {
	mu         sync.RWMutex
	fields     map[fieldKey]string
	sessions   map[SessionKey]UserRoleSession
	turns      map[string][]Turn
	seq        int64
	groups     map[int64]Group
	groupRoles map[groupRoleKey]GroupRole
	roles      map[int64]Role
	nextRoleID int64
	pending    map[int64]PendingField

	now func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		fields:     make(map[fieldKey]string),
		sessions:   make(map[SessionKey]UserRoleSession),
		turns:      make(map[string][]Turn),
		groups:     make(map[int64]Group),
		groupRoles: make(map[groupRoleKey]GroupRole),
		roles:      make(map[int64]Role),
		pending:    make(map[int64]PendingField),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// GetUserField implements UserFieldStore.
func (m *Memory) GetUserField(_ context.Context, providerID, key string, roleID *int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.fields[newFieldKey(providerID, key, roleID)]
	return v, ok, nil
}

// SetUserField implements UserFieldStore.
func (m *Memory) SetUserField(_ context.Context, providerID, key string, roleID *int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[newFieldKey(providerID, key, roleID)] = value
	return nil
}

// DeleteUserField implements UserFieldStore.
func (m *Memory) DeleteUserField(_ context.Context, providerID, key string, roleID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fields, newFieldKey(providerID, key, roleID))
	return nil
}

// GetSession implements SessionStore.
func (m *Memory) GetSession(_ context.Context, key SessionKey) (UserRoleSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return UserRoleSession{}, ErrNotFound
	}
	return s, nil
}

// SaveSession implements SessionStore. An existing mapping keeps its
// creation time.
func (m *Memory) SaveSession(_ context.Context, key SessionKey, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s, ok := m.sessions[key]
	if !ok {
		s = UserRoleSession{Key: key, CreatedAt: now}
	}
	s.SessionID = sessionID
	s.LastUsedAt = now
	m.sessions[key] = s
	return nil
}

// TouchSession implements SessionStore.
func (m *Memory) TouchSession(_ context.Context, key SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	s.LastUsedAt = m.now()
	m.sessions[key] = s
	return nil
}

// DeleteSession implements SessionStore.
func (m *Memory) DeleteSession(_ context.Context, key SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

// ListUserSessions implements SessionStore.
func (m *Memory) ListUserSessions(_ context.Context, userID int64) ([]UserRoleSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UserRoleSession
	for k, s := range m.sessions {
		if k.UserID == userID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b UserRoleSession) int {
		return cmp.Or(cmp.Compare(a.Key.GroupID, b.Key.GroupID), cmp.Compare(a.Key.RoleID, b.Key.RoleID))
	})
	return out, nil
}

// PruneSessions implements SessionStore.
func (m *Memory) PruneSessions(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.sessions {
		if s.LastUsedAt.Before(cutoff) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

// AppendTurn implements HistoryStore.
func (m *Memory) AppendTurn(_ context.Context, sessionID string, speaker Speaker, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.turns[sessionID] = append(m.turns[sessionID], Turn{
		SessionID: sessionID,
		Seq:       m.seq,
		Speaker:   speaker,
		Content:   content,
		CreatedAt: m.now(),
	})
	return nil
}

// ListTurns implements HistoryStore.
func (m *Memory) ListTurns(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return slices.Clone(turns), nil
}

// PruneTurns implements HistoryStore.
func (m *Memory) PruneTurns(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, turns := range m.turns {
		kept := slices.DeleteFunc(turns, func(t Turn) bool { return t.CreatedAt.Before(cutoff) })
		n += int64(len(turns) - len(kept))
		if len(kept) == 0 {
			delete(m.turns, id)
		} else {
			m.turns[id] = kept
		}
	}
	return n, nil
}

// GetGroupTitle implements GroupStore.
func (m *Memory) GetGroupTitle(_ context.Context, groupID int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok || g.Title == "" {
		return "", false, nil
	}
	return g.Title, true, nil
}

// UpsertGroup implements GroupStore.
func (m *Memory) UpsertGroup(_ context.Context, groupID int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		g = Group{ID: groupID, Active: true, CreatedAt: m.now()}
	}
	g.Title = title
	m.groups[groupID] = g
	return nil
}

// GetGroupRole implements GroupStore.
func (m *Memory) GetGroupRole(_ context.Context, groupID, roleID int64) (GroupRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gr, ok := m.groupRoles[groupRoleKey{groupID, roleID}]
	if !ok {
		return GroupRole{}, ErrNotFound
	}
	return gr, nil
}

// SetGroupRole implements GroupStore.
func (m *Memory) SetGroupRole(_ context.Context, gr GroupRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupRoles[groupRoleKey{gr.GroupID, gr.RoleID}] = gr
	return nil
}

// ListGroupRoles implements GroupStore. Only active entries are returned.
func (m *Memory) ListGroupRoles(_ context.Context, groupID int64) ([]GroupRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GroupRole
	for k, gr := range m.groupRoles {
		if k.groupID == groupID && gr.Active {
			out = append(out, gr)
		}
	}
	slices.SortFunc(out, func(a, b GroupRole) int { return cmp.Compare(a.RoleID, b.RoleID) })
	return out, nil
}

// GetRole implements RoleStore.
func (m *Memory) GetRole(_ context.Context, id int64) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

// GetRoleByName implements RoleStore. Names compare case-insensitively.
func (m *Memory) GetRoleByName(_ context.Context, name string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

// UpsertRole implements RoleStore.
func (m *Memory) UpsertRole(_ context.Context, r Role) (Role, error) {
	if r.Name == "" {
		return Role{}, fmt.Errorf("store: role name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.roles {
		if strings.EqualFold(existing.Name, r.Name) {
			r.ID = id
			m.roles[id] = r
			return r, nil
		}
	}
	if r.ID == 0 {
		m.nextRoleID++
		r.ID = m.nextRoleID
	} else if r.ID > m.nextRoleID {
		m.nextRoleID = r.ID
	}
	m.roles[r.ID] = r
	return r, nil
}

// ListRoles implements RoleStore.
func (m *Memory) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Role) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// SavePendingField implements PendingStore.
func (m *Memory) SavePendingField(_ context.Context, p PendingField) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.pending[p.UserID] = p
	return nil
}

// GetPendingField implements PendingStore.
func (m *Memory) GetPendingField(_ context.Context, userID int64) (PendingField, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[userID]
	if !ok {
		return PendingField{}, ErrNotFound
	}
	return p, nil
}

// DeletePendingField implements PendingStore.
func (m *Memory) DeletePendingField(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, userID)
	return nil
}
