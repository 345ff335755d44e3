package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version    int
	statements []string
}

// migrations are applied in order; each runs once, inside a transaction.
var migrations = []migration{
	{version: 1, statements: []string{
		`CREATE TABLE IF NOT EXISTS groups (
			id         INTEGER PRIMARY KEY,
			title      TEXT    NOT NULL DEFAULT '',
			active     INTEGER NOT NULL DEFAULT 1,
			created_at TEXT    NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS roles (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			name               TEXT    NOT NULL UNIQUE COLLATE NOCASE,
			description        TEXT    NOT NULL DEFAULT '',
			base_system_prompt TEXT    NOT NULL DEFAULT '',
			extra_instruction  TEXT    NOT NULL DEFAULT '',
			model              TEXT    NOT NULL DEFAULT '',
			active             INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS group_roles (
			group_id               INTEGER NOT NULL,
			role_id                INTEGER NOT NULL,
			system_prompt_override TEXT,
			display_name           TEXT    NOT NULL DEFAULT '',
			model_override         TEXT    NOT NULL DEFAULT '',
			user_prompt_suffix     TEXT    NOT NULL DEFAULT '',
			user_reply_prefix      TEXT    NOT NULL DEFAULT '',
			active                 INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (group_id, role_id)
		)`,

		`CREATE TABLE IF NOT EXISTS user_role_sessions (
			user_id      INTEGER NOT NULL,
			group_id     INTEGER NOT NULL,
			role_id      INTEGER NOT NULL,
			session_id   TEXT    NOT NULL,
			created_at   TEXT    NOT NULL,
			last_used_at TEXT    NOT NULL,
			PRIMARY KEY (user_id, group_id, role_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_last_used ON user_role_sessions(last_used_at)`,

		`CREATE TABLE IF NOT EXISTS conversation_turns (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT    NOT NULL,
			speaker    TEXT    NOT NULL,
			content    TEXT    NOT NULL DEFAULT '',
			created_at TEXT    NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_created ON conversation_turns(created_at)`,

		`CREATE TABLE IF NOT EXISTS provider_user_data (
			provider_id TEXT    NOT NULL,
			key         TEXT    NOT NULL,
			role_key    INTEGER NOT NULL,
			value       TEXT    NOT NULL,
			updated_at  TEXT    NOT NULL,
			PRIMARY KEY (provider_id, key, role_key)
		)`,

		`CREATE TABLE IF NOT EXISTS pending_user_fields (
			user_id     INTEGER PRIMARY KEY,
			chat_id     INTEGER NOT NULL,
			provider_id TEXT    NOT NULL,
			key         TEXT    NOT NULL,
			role_id     INTEGER,
			prompt      TEXT    NOT NULL DEFAULT '',
			message_id  INTEGER NOT NULL DEFAULT 0,
			role_name   TEXT    NOT NULL DEFAULT '',
			content     TEXT    NOT NULL DEFAULT '',
			reply_text  TEXT    NOT NULL DEFAULT '',
			created_at  TEXT    NOT NULL
		)`,
	}},
}

// migrate brings the schema to the latest version.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate to %d: %w\nstatement: %s", m.version, err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return tx.Commit()
}
