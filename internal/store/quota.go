package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haventech/haven/internal/domain"
)

// ReserveUsage atomically consumes one message from the user's daily
// quota, keyed by UTC calendar day. Day rollover resets the counter and
// the reserving call counts as the first message of the new day. The
// check and the increment are a single UPDATE so two concurrent turns
// cannot double-count or slip past the limit.
func (s *Store) ReserveUsage(ctx context.Context, userID string, dailyLimit int) (bool, error) {
	day := utcDay(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_limits (user_id, used, daily_limit, reset_at, updated_at)
		VALUES (?, 0, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, dailyLimit, day, now())
	if err != nil {
		return false, fmt.Errorf("ensure usage row: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE usage_limits
		SET used = CASE WHEN reset_at < ?1 THEN 1 ELSE used + 1 END,
		    daily_limit = ?4,
		    reset_at = ?1,
		    updated_at = ?2
		WHERE user_id = ?3 AND (reset_at < ?1 OR used < ?4)`,
		day, now(), userID, dailyLimit)
	if err != nil {
		return false, fmt.Errorf("reserve usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve usage rows: %w", err)
	}
	return n == 1, nil
}

// UsageFor returns the quota state as of today; a row whose reset date
// is in the past reads as zero used.
func (s *Store) UsageFor(ctx context.Context, userID string) (*domain.Usage, error) {
	var u domain.Usage
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, used, daily_limit, reset_at
		FROM usage_limits WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Used, &u.Limit, &u.ResetAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan usage: %w", err)
	}
	if u.ResetAt < utcDay(time.Now()) {
		u.Used = 0
	}
	return &u, nil
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
