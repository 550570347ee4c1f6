package sqlite

import (
	"fmt"
	"log"
)

// migration mirrors the teacher's embedded_migrations.go shape: a
// version-ordered, in-binary list applied in a single pass at startup,
// tracked in a schema_migrations table rather than loose marker files.
type migration struct {
	version int
	desc    string
	stmt    string
}

var migrations = []migration{
	{1, "initial schema", `
		CREATE TABLE IF NOT EXISTS messages (
			message_id  TEXT PRIMARY KEY,
			headers     TEXT NOT NULL,
			body        TEXT NOT NULL,
			size        INTEGER NOT NULL,
			received_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS groups (
			name              TEXT PRIMARY KEY,
			created           DATETIME NOT NULL,
			moderated         INTEGER NOT NULL DEFAULT 0,
			description       TEXT NOT NULL DEFAULT '',
			retention_days    INTEGER NOT NULL DEFAULT 0,
			max_article_size  INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS group_articles (
			group_name  TEXT NOT NULL,
			number      INTEGER NOT NULL,
			message_id  TEXT NOT NULL,
			inserted_at DATETIME NOT NULL,
			PRIMARY KEY (group_name, number)
		);
		CREATE INDEX IF NOT EXISTS idx_group_articles_msgid ON group_articles(message_id);
		CREATE INDEX IF NOT EXISTS idx_group_articles_inserted ON group_articles(group_name, inserted_at);
		CREATE TABLE IF NOT EXISTS peer_state (
			peer        TEXT NOT NULL,
			group_name  TEXT NOT NULL,
			high_water  INTEGER NOT NULL DEFAULT 0,
			updated_at  DATETIME NOT NULL,
			PRIMARY KEY (peer, group_name)
		);
		CREATE TABLE IF NOT EXISTS users (
			username           TEXT PRIMARY KEY,
			password_hash      TEXT NOT NULL,
			key_fingerprint    TEXT NOT NULL DEFAULT '',
			is_admin           INTEGER NOT NULL DEFAULT 0,
			moderator_patterns TEXT NOT NULL DEFAULT '',
			max_conns          INTEGER NOT NULL DEFAULT 0,
			upload_bytes       INTEGER NOT NULL DEFAULT 0,
			download_bytes     INTEGER NOT NULL DEFAULT 0,
			window_secs        INTEGER NOT NULL DEFAULT 0
		);
	`},
	{2, "add group_articles.expires_at", `
		ALTER TABLE group_articles ADD COLUMN expires_at DATETIME NULL;
	`},
}

// migrate applies every migration with version greater than the
// database's current schema_version, in order, each inside its own
// transaction. A migration file whose version is lower than what's
// already recorded is left alone rather than treated as an error, the
// same forward-only stance the teacher's Migrate takes.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at DATETIME NOT NULL)`); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations: %w", err)
	}
	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("sqlite: begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: apply migration %d (%s): %w", m.version, m.desc, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %d: %w", m.version, err)
		}
		log.Printf("[STORE]: applied sqlite migration %d: %s", m.version, m.desc)
	}
	return nil
}
