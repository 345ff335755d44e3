package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/rolegate/internal/store"
)

// providerScope is the role_key used for provider-scoped field values.
const providerScope int64 = -1

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a store.Store backed by a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func newStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", v, err)
	}
	return t, nil
}

func roleKey(roleID *int64) int64 {
	if roleID == nil {
		return providerScope
	}
	return *roleID
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetUserField implements store.UserFieldStore.
func (s *Store) GetUserField(ctx context.Context, providerID, key string, roleID *int64) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM provider_user_data WHERE provider_id = ? AND key = ? AND role_key = ?`,
		providerID, key, roleKey(roleID),
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get user field: %w", err)
	}
	return v, true, nil
}

// SetUserField implements store.UserFieldStore.
func (s *Store) SetUserField(ctx context.Context, providerID, key string, roleID *int64, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_user_data (provider_id, key, role_key, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (provider_id, key, role_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		providerID, key, roleKey(roleID), value, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set user field: %w", err)
	}
	return nil
}

// DeleteUserField implements store.UserFieldStore.
func (s *Store) DeleteUserField(ctx context.Context, providerID, key string, roleID *int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_user_data WHERE provider_id = ? AND key = ? AND role_key = ?`,
		providerID, key, roleKey(roleID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete user field: %w", err)
	}
	return nil
}

const sessionColumns = `user_id, group_id, role_id, session_id, created_at, last_used_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (store.UserRoleSession, error) {
	var (
		s                 store.UserRoleSession
		created, lastUsed string
	)
	if err := row.Scan(&s.Key.UserID, &s.Key.GroupID, &s.Key.RoleID, &s.SessionID, &created, &lastUsed); err != nil {
		return store.UserRoleSession{}, err
	}
	var err error
	if s.CreatedAt, err = parseTime(created); err != nil {
		return store.UserRoleSession{}, err
	}
	if s.LastUsedAt, err = parseTime(lastUsed); err != nil {
		return store.UserRoleSession{}, err
	}
	return s, nil
}

// GetSession implements store.SessionStore.
func (s *Store) GetSession(ctx context.Context, key store.SessionKey) (store.UserRoleSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_role_sessions WHERE user_id = ? AND group_id = ? AND role_id = ?`,
		key.UserID, key.GroupID, key.RoleID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.UserRoleSession{}, store.ErrNotFound
	}
	if err != nil {
		return store.UserRoleSession{}, fmt.Errorf("sqlite: get session: %w", err)
	}
	return sess, nil
}

// SaveSession implements store.SessionStore. An existing mapping keeps its
// creation time.
func (s *Store) SaveSession(ctx context.Context, key store.SessionKey, sessionID string) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_role_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, group_id, role_id) DO UPDATE SET
		   session_id = excluded.session_id, last_used_at = excluded.last_used_at`,
		key.UserID, key.GroupID, key.RoleID, sessionID, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save session: %w", err)
	}
	return nil
}

// TouchSession implements store.SessionStore.
func (s *Store) TouchSession(ctx context.Context, key store.SessionKey) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_role_sessions SET last_used_at = ? WHERE user_id = ? AND group_id = ? AND role_id = ?`,
		formatTime(s.now()), key.UserID, key.GroupID, key.RoleID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touch session: %w", err)
	}
	return nil
}

// DeleteSession implements store.SessionStore.
func (s *Store) DeleteSession(ctx context.Context, key store.SessionKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_role_sessions WHERE user_id = ? AND group_id = ? AND role_id = ?`,
		key.UserID, key.GroupID, key.RoleID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete session: %w", err)
	}
	return nil
}

// ListUserSessions implements store.SessionStore.
func (s *Store) ListUserSessions(ctx context.Context, userID int64) ([]store.UserRoleSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM user_role_sessions WHERE user_id = ? ORDER BY group_id, role_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.UserRoleSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// PruneSessions implements store.SessionStore.
func (s *Store) PruneSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_role_sessions WHERE last_used_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// AppendTurn implements store.HistoryStore.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, speaker store.Speaker, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, speaker, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(speaker), content, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append turn: %w", err)
	}
	return nil
}

// ListTurns implements store.HistoryStore.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]store.Turn, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT seq, speaker, content, created_at FROM (
			   SELECT seq, speaker, content, created_at FROM conversation_turns
			   WHERE session_id = ? ORDER BY seq DESC LIMIT ?
			 ) ORDER BY seq ASC`,
			sessionID, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT seq, speaker, content, created_at FROM conversation_turns WHERE session_id = ? ORDER BY seq ASC`,
			sessionID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Turn
	for rows.Next() {
		var (
			t       store.Turn
			speaker string
			created string
		)
		if err := rows.Scan(&t.Seq, &speaker, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		t.SessionID = sessionID
		t.Speaker = store.Speaker(speaker)
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneTurns implements store.HistoryStore.
func (s *Store) PruneTurns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune turns: %w", err)
	}
	return res.RowsAffected()
}

// GetGroupTitle implements store.GroupStore.
func (s *Store) GetGroupTitle(ctx context.Context, groupID int64) (string, bool, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM groups WHERE id = ?`, groupID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get group: %w", err)
	}
	return title, title != "", nil
}

// UpsertGroup implements store.GroupStore.
func (s *Store) UpsertGroup(ctx context.Context, groupID int64, title string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, title, active, created_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (id) DO UPDATE SET title = excluded.title`,
		groupID, title, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert group: %w", err)
	}
	return nil
}

const groupRoleColumns = `group_id, role_id, system_prompt_override, display_name, model_override,
	user_prompt_suffix, user_reply_prefix, active`

func scanGroupRole(row scanner) (store.GroupRole, error) {
	var (
		gr       store.GroupRole
		override sql.NullString
		active   int
	)
	if err := row.Scan(&gr.GroupID, &gr.RoleID, &override, &gr.DisplayName, &gr.ModelOverride,
		&gr.UserPromptSuffix, &gr.UserReplyPrefix, &active); err != nil {
		return store.GroupRole{}, err
	}
	if override.Valid {
		v := override.String
		gr.SystemPromptOverride = &v
	}
	gr.Active = active != 0
	return gr, nil
}

// GetGroupRole implements store.GroupStore.
func (s *Store) GetGroupRole(ctx context.Context, groupID, roleID int64) (store.GroupRole, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupRoleColumns+` FROM group_roles WHERE group_id = ? AND role_id = ?`,
		groupID, roleID,
	)
	gr, err := scanGroupRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.GroupRole{}, store.ErrNotFound
	}
	if err != nil {
		return store.GroupRole{}, fmt.Errorf("sqlite: get group role: %w", err)
	}
	return gr, nil
}

// SetGroupRole implements store.GroupStore.
func (s *Store) SetGroupRole(ctx context.Context, gr store.GroupRole) error {
	var override sql.NullString
	if gr.SystemPromptOverride != nil {
		override = sql.NullString{String: *gr.SystemPromptOverride, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_roles (`+groupRoleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (group_id, role_id) DO UPDATE SET
		   system_prompt_override = excluded.system_prompt_override,
		   display_name = excluded.display_name,
		   model_override = excluded.model_override,
		   user_prompt_suffix = excluded.user_prompt_suffix,
		   user_reply_prefix = excluded.user_reply_prefix,
		   active = excluded.active`,
		gr.GroupID, gr.RoleID, override, gr.DisplayName, gr.ModelOverride,
		gr.UserPromptSuffix, gr.UserReplyPrefix, boolInt(gr.Active),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set group role: %w", err)
	}
	return nil
}

// ListGroupRoles implements store.GroupStore. Only active entries are returned.
func (s *Store) ListGroupRoles(ctx context.Context, groupID int64) ([]store.GroupRole, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupRoleColumns+` FROM group_roles WHERE group_id = ? AND active = 1 ORDER BY role_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list group roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.GroupRole
	for rows.Next() {
		gr, err := scanGroupRole(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan group role: %w", err)
		}
		out = append(out, gr)
	}
	return out, rows.Err()
}

const roleColumns = `id, name, description, base_system_prompt, extra_instruction, model, active`

func scanRole(row scanner) (store.Role, error) {
	var (
		r      store.Role
		active int
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.BaseSystemPrompt, &r.ExtraInstruction, &r.Model, &active); err != nil {
		return store.Role{}, err
	}
	r.Active = active != 0
	return r, nil
}

func (s *Store) queryRole(ctx context.Context, where string, arg any) (store.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Role{}, store.ErrNotFound
	}
	if err != nil {
		return store.Role{}, fmt.Errorf("sqlite: get role: %w", err)
	}
	return r, nil
}

// GetRole implements store.RoleStore.
func (s *Store) GetRole(ctx context.Context, id int64) (store.Role, error) {
	return s.queryRole(ctx, `id = ?`, id)
}

// GetRoleByName implements store.RoleStore. The name column compares
// case-insensitively.
func (s *Store) GetRoleByName(ctx context.Context, name string) (store.Role, error) {
	return s.queryRole(ctx, `name = ?`, name)
}

// UpsertRole implements store.RoleStore.
func (s *Store) UpsertRole(ctx context.Context, r store.Role) (store.Role, error) {
	if r.Name == "" {
		return store.Role{}, fmt.Errorf("store: role name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Role{}, fmt.Errorf("sqlite: begin upsert role: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = ?`, r.Name).Scan(&existing)
	switch {
	case err == nil:
		r.ID = existing
		_, err = tx.ExecContext(ctx,
			`UPDATE roles SET name = ?, description = ?, base_system_prompt = ?, extra_instruction = ?,
			   model = ?, active = ? WHERE id = ?`,
			r.Name, r.Description, r.BaseSystemPrompt, r.ExtraInstruction, r.Model, boolInt(r.Active), r.ID,
		)
	case errors.Is(err, sql.ErrNoRows):
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`INSERT INTO roles (id, name, description, base_system_prompt, extra_instruction, model, active)
			 VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.Description, r.BaseSystemPrompt, r.ExtraInstruction, r.Model, boolInt(r.Active),
		)
		if err == nil {
			r.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		return store.Role{}, fmt.Errorf("sqlite: upsert role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Role{}, fmt.Errorf("sqlite: commit role: %w", err)
	}
	return r, nil
}

// ListRoles implements store.RoleStore.
func (s *Store) ListRoles(ctx context.Context) ([]store.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SavePendingField implements store.PendingStore. A newer request for the
// same user replaces the previous one.
func (s *Store) SavePendingField(ctx context.Context, p store.PendingField) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	var roleID sql.NullInt64
	if p.RoleID != nil {
		roleID = sql.NullInt64{Int64: *p.RoleID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pending_user_fields
		   (user_id, chat_id, provider_id, key, role_id, prompt, message_id, role_name, content, reply_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.ChatID, p.ProviderID, p.Key, roleID, p.Prompt, p.MessageID,
		p.RoleName, p.Content, p.ReplyText, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save pending field: %w", err)
	}
	return nil
}

// GetPendingField implements store.PendingStore.
func (s *Store) GetPendingField(ctx context.Context, userID int64) (store.PendingField, error) {
	var (
		p       store.PendingField
		roleID  sql.NullInt64
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, chat_id, provider_id, key, role_id, prompt, message_id, role_name, content, reply_text, created_at
		 FROM pending_user_fields WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.ChatID, &p.ProviderID, &p.Key, &roleID, &p.Prompt, &p.MessageID,
		&p.RoleName, &p.Content, &p.ReplyText, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return store.PendingField{}, store.ErrNotFound
	}
	if err != nil {
		return store.PendingField{}, fmt.Errorf("sqlite: get pending field: %w", err)
	}
	if roleID.Valid {
		id := roleID.Int64
		p.RoleID = &id
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return store.PendingField{}, err
	}
	return p, nil
}

// DeletePendingField implements store.PendingStore.
func (s *Store) DeletePendingField(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_user_fields WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: delete pending field: %w", err)
	}
	return nil
}
