// Package store persists all bot entities in a single SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			telegram_user_id INTEGER NOT NULL UNIQUE,
			telegram_chat_id INTEGER NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			language_code TEXT NOT NULL DEFAULT 'ru',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			style TEXT NOT NULL DEFAULT 'cbt',
			response_length TEXT NOT NULL DEFAULT 'medium',
			allow_memory INTEGER NOT NULL DEFAULT 1,
			allow_sensitive_topics INTEGER NOT NULL DEFAULT 1,
			language TEXT NOT NULL DEFAULT 'ru',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			status TEXT NOT NULL DEFAULT 'active',
			started_at TEXT NOT NULL,
			last_message_at TEXT NOT NULL,
			ended_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			meta TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			session_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			risk TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			reasons TEXT NOT NULL DEFAULT '[]',
			raw_verdict TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_user ON risk_events(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS memory_summaries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			session_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			main_topics TEXT NOT NULL DEFAULT '[]',
			user_emotions TEXT NOT NULL DEFAULT '[]',
			key_thoughts TEXT NOT NULL DEFAULT '[]',
			triggers TEXT NOT NULL DEFAULT '[]',
			strategies TEXT NOT NULL DEFAULT '[]',
			next_session_goal TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_user ON memory_summaries(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS memory_facts (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			profile TEXT NOT NULL DEFAULT '{}',
			stable_issues TEXT NOT NULL DEFAULT '[]',
			values_and_goals TEXT NOT NULL DEFAULT '[]',
			common_triggers TEXT NOT NULL DEFAULT '[]',
			cognitive_patterns TEXT NOT NULL DEFAULT '[]',
			preferred_support_style TEXT NOT NULL DEFAULT '[]',
			hard_limits TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_limits (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			used INTEGER NOT NULL DEFAULT 0,
			daily_limit INTEGER NOT NULL,
			reset_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS generation_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_generation_log_created ON generation_log(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// timeLayout is the canonical timestamp format used throughout the
// schema. The fixed-width fractional part keeps lexicographic order
// equal to chronological order; RFC3339Nano trims trailing zeros and
// breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return formatTime(time.Now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
