package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/haventech/haven/internal/domain"
)

// UpsertUser creates the user on first contact and refreshes the chat
// address and profile fields on every later one. The telegram user id
// is the conflict key; the internal id never changes.
func (s *Store) UpsertUser(ctx context.Context, u domain.User) (*domain.User, error) {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, telegram_user_id, telegram_chat_id, username, first_name, last_name, language_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(telegram_user_id) DO UPDATE SET
			telegram_chat_id = excluded.telegram_chat_id,
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at`,
		uuid.NewString(), u.TelegramUserID, u.TelegramChatID, u.Username, u.FirstName, u.LastName,
		defaultLang(u.LanguageCode), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.UserByTelegramID(ctx, u.TelegramUserID)
}

func (s *Store) UserByTelegramID(ctx context.Context, telegramUserID int64) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, telegram_user_id, telegram_chat_id, username, first_name, last_name, language_code, created_at, updated_at
		 FROM users WHERE telegram_user_id = ?`, telegramUserID))
}

func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, telegram_user_id, telegram_chat_id, username, first_name, last_name, language_code, created_at, updated_at
		 FROM users WHERE id = ?`, id))
}

func (s *Store) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.TelegramUserID, &u.TelegramChatID, &u.Username, &u.FirstName,
		&u.LastName, &u.LanguageCode, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// EnsureSettings returns the user's settings, creating the default row
// on first touch.
func (s *Store) EnsureSettings(ctx context.Context, userID string) (*domain.Settings, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, updated_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING`, userID, now())
	if err != nil {
		return nil, fmt.Errorf("ensure settings: %w", err)
	}
	return s.SettingsFor(ctx, userID)
}

func (s *Store) SettingsFor(ctx context.Context, userID string) (*domain.Settings, error) {
	var st domain.Settings
	var allowMemory, allowSensitive int
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, style, response_length, allow_memory, allow_sensitive_topics, language, updated_at
		FROM user_settings WHERE user_id = ?`, userID).
		Scan(&st.UserID, &st.Style, &st.ResponseLength, &allowMemory, &allowSensitive, &st.Language, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	st.AllowMemory = allowMemory != 0
	st.AllowSensitiveTopics = allowSensitive != 0
	st.UpdatedAt = parseTime(updatedAt)
	return &st, nil
}

func (s *Store) UpdateSettings(ctx context.Context, st domain.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_settings
		SET style = ?, response_length = ?, allow_memory = ?, allow_sensitive_topics = ?, language = ?, updated_at = ?
		WHERE user_id = ?`,
		st.Style, st.ResponseLength, boolToInt(st.AllowMemory), boolToInt(st.AllowSensitiveTopics),
		st.Language, now(), st.UserID)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

// SetLanguage persists the user's chosen display language.
func (s *Store) SetLanguage(ctx context.Context, userID, lang string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_settings SET language = ?, updated_at = ? WHERE user_id = ?`,
		lang, now(), userID)
	if err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	return nil
}

// LanguageFor returns the user's chosen language code, defaulting to "ru".
func (s *Store) LanguageFor(ctx context.Context, userID string) string {
	st, err := s.SettingsFor(ctx, userID)
	if err != nil || st == nil || st.Language == "" {
		return "ru"
	}
	return st.Language
}

func defaultLang(code string) string {
	if code == "" {
		return "ru"
	}
	return code
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
