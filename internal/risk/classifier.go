// Package risk classifies one user message into a structured safety
// verdict via the generation backend.
package risk

import (
	"context"
	"encoding/json"
	"log"

	"github.com/haventech/haven/internal/domain"
	"github.com/haventech/haven/internal/llm"
)

// Store persists non-none verdicts.
type Store interface {
	CreateRiskEvent(ctx context.Context, ev domain.RiskEvent) error
}

// TurnRef correlates a classification with the originating turn.
type TurnRef struct {
	UserID    string
	SessionID string
	MessageID string
}

// Result distinguishes a genuine "no risk" verdict from the safe
// default substituted after a backend or parse failure.
type Result struct {
	Verdict  domain.Verdict
	Fallback bool
}

// NeedCrisisMode reports whether the turn must switch to the crisis persona.
func (r Result) NeedCrisisMode() bool {
	return r.Verdict.NeedCrisisMode
}

type Classifier struct {
	client      llm.Client
	store       Store
	instruction string
}

func NewClassifier(client llm.Client, store Store, instruction string) *Classifier {
	return &Classifier{client: client, store: store, instruction: instruction}
}

// Analyze never fails the turn: any backend error, malformed JSON or
// missing required field yields the safe default and the caller
// proceeds as non-crisis. Only a trusted non-none verdict is recorded
// as a risk event; a substituted default is not.
func (c *Classifier) Analyze(ctx context.Context, message string, ref TurnRef) Result {
	comp, err := c.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: c.instruction},
			{Role: "user", Content: message},
		},
		Temperature: 0.3,
		JSONMode:    true,
		UserID:      ref.UserID,
		SessionID:   ref.SessionID,
		MessageID:   ref.MessageID,
	})
	if err != nil {
		log.Printf("[risk] classification failed, using safe default: %v", err)
		return fallback()
	}

	verdict, ok := parseVerdict(comp.Text)
	if !ok {
		log.Printf("[risk] invalid classifier output, using safe default: %s", truncate(comp.Text, 200))
		return fallback()
	}

	if verdict.Risk != domain.RiskNone {
		ev := domain.RiskEvent{
			UserID:    ref.UserID,
			SessionID: ref.SessionID,
			MessageID: ref.MessageID,
			Risk:      verdict.Risk,
			Category:  verdict.Category,
			Reasons:   verdict.Reasons,
			Raw:       json.RawMessage(comp.Text),
		}
		if err := c.store.CreateRiskEvent(ctx, ev); err != nil {
			log.Printf("[risk] record event warning: %v", err)
		}
		log.Printf("[risk] detected: %s - %s", verdict.Risk, verdict.Category)
	}

	return Result{Verdict: verdict}
}

// parseVerdict accepts only objects carrying all four required fields.
func parseVerdict(text string) (domain.Verdict, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return domain.Verdict{}, false
	}
	for _, key := range []string{"risk", "category", "reasons", "need_crisis_mode"} {
		if _, ok := raw[key]; !ok {
			return domain.Verdict{}, false
		}
	}

	var v domain.Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return domain.Verdict{}, false
	}
	if v.Reasons == nil {
		v.Reasons = []string{}
	}
	return v, true
}

func fallback() Result {
	return Result{
		Verdict: domain.Verdict{
			Risk:     domain.RiskNone,
			Category: "none",
			Reasons:  []string{},
		},
		Fallback: true,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
