package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/haventech/haven/internal/domain"
)

func (s *Store) CreateSummary(ctx context.Context, sum domain.Summary) (*domain.Summary, error) {
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_summaries
			(id, user_id, session_id, summary, main_topics, user_emotions, key_thoughts, triggers, strategies, next_session_goal, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.UserID, sum.SessionID, sum.Summary,
		marshalList(sum.MainTopics), marshalList(sum.UserEmotions), marshalList(sum.KeyThoughts),
		marshalList(sum.Triggers), marshalList(sum.Strategies), sum.NextSessionGoal, ts)
	if err != nil {
		return nil, fmt.Errorf("create summary: %w", err)
	}
	sum.CreatedAt = parseTime(ts)
	return &sum, nil
}

// RecentSummaries returns up to limit summaries, most recent first.
func (s *Store) RecentSummaries(ctx context.Context, userID string, limit int) ([]domain.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, summary, main_topics, user_emotions, key_thoughts, triggers, strategies, next_session_goal, created_at
		FROM memory_summaries WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.Summary
	for rows.Next() {
		var sum domain.Summary
		var topics, emotions, thoughts, triggers, strategies, createdAt string
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.SessionID, &sum.Summary,
			&topics, &emotions, &thoughts, &triggers, &strategies, &sum.NextSessionGoal, &createdAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.MainTopics = unmarshalList(topics)
		sum.UserEmotions = unmarshalList(emotions)
		sum.KeyThoughts = unmarshalList(thoughts)
		sum.Triggers = unmarshalList(triggers)
		sum.Strategies = unmarshalList(strategies)
		sum.CreatedAt = parseTime(createdAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// FactsFor returns the user's facts row, or nil when none exists yet.
func (s *Store) FactsFor(ctx context.Context, userID string) (*domain.Facts, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT profile, stable_issues, values_and_goals, common_triggers, cognitive_patterns, preferred_support_style, hard_limits
		FROM memory_facts WHERE user_id = ?`, userID)

	var profile, issues, values, triggers, patterns, style, limits string
	err := row.Scan(&profile, &issues, &values, &triggers, &patterns, &style, &limits)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan facts: %w", err)
	}

	f := domain.Facts{
		StableIssues:          unmarshalList(issues),
		ValuesAndGoals:        unmarshalList(values),
		CommonTriggers:        unmarshalList(triggers),
		CognitivePatterns:     unmarshalList(patterns),
		PreferredSupportStyle: unmarshalList(style),
		HardLimits:            unmarshalList(limits),
	}
	if err := json.Unmarshal([]byte(profile), &f.Profile); err != nil {
		f.Profile = map[string]string{}
	}
	return &f, nil
}

// UpsertFacts writes the single facts row for the user. Callers are
// expected to pass the already-merged value; the per-user turn lock
// serializes the read-merge-write cycle.
func (s *Store) UpsertFacts(ctx context.Context, userID string, f domain.Facts) error {
	if f.Profile == nil {
		f.Profile = map[string]string{}
	}
	profile, err := json.Marshal(f.Profile)
	if err != nil {
		return fmt.Errorf("marshal facts profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_facts
			(user_id, profile, stable_issues, values_and_goals, common_triggers, cognitive_patterns, preferred_support_style, hard_limits, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			profile = excluded.profile,
			stable_issues = excluded.stable_issues,
			values_and_goals = excluded.values_and_goals,
			common_triggers = excluded.common_triggers,
			cognitive_patterns = excluded.cognitive_patterns,
			preferred_support_style = excluded.preferred_support_style,
			hard_limits = excluded.hard_limits,
			updated_at = excluded.updated_at`,
		userID, string(profile),
		marshalList(f.StableIssues), marshalList(f.ValuesAndGoals), marshalList(f.CommonTriggers),
		marshalList(f.CognitivePatterns), marshalList(f.PreferredSupportStyle), marshalList(f.HardLimits),
		now())
	if err != nil {
		return fmt.Errorf("upsert facts: %w", err)
	}
	return nil
}

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil
	}
	return out
}
