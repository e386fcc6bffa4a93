package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haventech/haven/internal/domain"
)

func (s *Store) CreateRiskEvent(ctx context.Context, ev domain.RiskEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	raw := ev.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_events (id, user_id, session_id, message_id, risk, category, reasons, raw_verdict, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.SessionID, ev.MessageID, ev.Risk, ev.Category,
		marshalList(ev.Reasons), string(raw), now())
	if err != nil {
		return fmt.Errorf("create risk event: %w", err)
	}
	return nil
}

// RecentHighRisk returns the user's latest medium/high risk events.
func (s *Store) RecentHighRisk(ctx context.Context, userID string, limit int) ([]domain.RiskEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, message_id, risk, category, reasons, raw_verdict, created_at
		FROM risk_events
		WHERE user_id = ? AND risk IN (?, ?)
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, domain.RiskMedium, domain.RiskHigh, limit)
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		var reasons, raw, createdAt string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.SessionID, &ev.MessageID, &ev.Risk,
			&ev.Category, &reasons, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		ev.Reasons = unmarshalList(reasons)
		ev.Raw = json.RawMessage(raw)
		ev.CreatedAt = parseTime(createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecordGeneration appends one audit row per backend call attempt,
// success or failure.
func (s *Store) RecordGeneration(ctx context.Context, rec domain.GenerationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_log
			(id, user_id, session_id, message_id, provider, model, prompt_tokens, completion_tokens, total_tokens, latency_ms, cost_usd, status, error_code, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.SessionID, rec.MessageID, rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.LatencyMs, rec.CostUSD,
		rec.Status, rec.ErrorCode, rec.ErrorMessage, now())
	if err != nil {
		return fmt.Errorf("record generation: %w", err)
	}
	return nil
}

// PruneGenerationLog deletes audit rows older than the cutoff.
func (s *Store) PruneGenerationLog(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_log WHERE created_at < ?`,
		formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune generation log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
