package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haventech/haven/internal/domain"
)

func (s *Store) CreateSession(ctx context.Context, userID string) (*domain.Session, error) {
	sess := domain.Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Status: domain.SessionActive,
	}
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, status, started_at, last_message_at)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Status, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess.StartedAt = parseTime(ts)
	sess.LastMessageAt = sess.StartedAt
	return &sess, nil
}

// ActiveSession returns the user's active session, or nil when none exists.
func (s *Store) ActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, started_at, last_message_at, ended_at
		FROM sessions WHERE user_id = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, userID, domain.SessionActive)

	var sess domain.Session
	var startedAt, lastMessageAt string
	var endedAt sql.NullString
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Status, &startedAt, &lastMessageAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.StartedAt = parseTime(startedAt)
	sess.LastMessageAt = parseTime(lastMessageAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func (s *Store) ArchiveSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		domain.SessionArchived, now(), sessionID)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

// ArchiveStaleSessions archives every active session whose last message
// is older than the cutoff. Returns the number of sessions archived.
func (s *Store) ArchiveStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ?
		WHERE status = ? AND last_message_at < ?`,
		domain.SessionArchived, now(), domain.SessionActive,
		formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("archive stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_message_at = ? WHERE id = ?`, now(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m domain.Message) (*domain.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Meta == nil {
		m.Meta = map[string]any{}
	}
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal message meta: %w", err)
	}
	ts := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, user_id, role, content, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.UserID, m.Role, m.Content, string(meta), ts)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	m.CreatedAt = parseTime(ts)
	return &m, nil
}

// SessionMessages returns the session's messages in creation order.
func (s *Store) SessionMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, role, content, meta, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var meta, createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &m.Meta); err != nil {
			m.Meta = map[string]any{}
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastSessionMessages returns the newest n messages of the session in
// creation order (oldest of the window first).
func (s *Store) LastSessionMessages(ctx context.Context, sessionID string, n int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, role, content, meta, created_at FROM (
			SELECT id, session_id, user_id, role, content, meta, created_at, rowid AS rid
			FROM messages WHERE session_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at ASC, rid ASC`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("query last session messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var meta, createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &m.Meta); err != nil {
			m.Meta = map[string]any{}
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountSessionMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session messages: %w", err)
	}
	return n, nil
}
