// Package memory derives session summaries and long-term facts from
// conversation history and assembles the memory context for new turns.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/haventech/haven/internal/domain"
	"github.com/haventech/haven/internal/llm"
)

const (
	// Below these thresholds no backend call is made; short sessions
	// produce summaries and facts of no value.
	summaryMinMessages = 3
	factsMinMessages   = 5

	// transcriptLimit bounds how much history one consolidation reads.
	transcriptLimit = 100

	// contextSummaries is how many recent digests feed the next turn.
	contextSummaries = 2
)

// Store is the persistence surface the manager needs.
type Store interface {
	SessionMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	CreateSummary(ctx context.Context, sum domain.Summary) (*domain.Summary, error)
	RecentSummaries(ctx context.Context, userID string, limit int) ([]domain.Summary, error)
	FactsFor(ctx context.Context, userID string) (*domain.Facts, error)
	UpsertFacts(ctx context.Context, userID string, f domain.Facts) error
}

type Manager struct {
	store           Store
	client          llm.Client
	summaryPrompt   string
	extractorPrompt string
}

func NewManager(store Store, client llm.Client, summaryPrompt, extractorPrompt string) *Manager {
	return &Manager{
		store:           store,
		client:          client,
		summaryPrompt:   summaryPrompt,
		extractorPrompt: extractorPrompt,
	}
}

// summaryPayload mirrors the summarizer's JSON contract. Missing
// fields decode to their zero values.
type summaryPayload struct {
	Summary         string   `json:"summary"`
	MainTopics      []string `json:"main_topics"`
	UserEmotions    []string `json:"user_emotions"`
	KeyThoughts     []string `json:"key_thoughts"`
	Triggers        []string `json:"triggers"`
	Strategies      []string `json:"helpful_strategies_used"`
	NextSessionGoal string   `json:"next_session_goal"`
}

// SummarizeSession compresses one session into a new digest row.
// Returns nil without calling the backend when the session is shorter
// than the minimum. A prior summary is never overwritten.
func (m *Manager) SummarizeSession(ctx context.Context, userID, sessionID string) (*domain.Summary, error) {
	msgs, err := m.store.SessionMessages(ctx, sessionID, transcriptLimit)
	if err != nil {
		return nil, fmt.Errorf("load session messages: %w", err)
	}
	if len(msgs) < summaryMinMessages {
		log.Printf("[memory] session %s too short for summary (%d messages)", sessionID, len(msgs))
		return nil, nil
	}

	comp, err := m.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: m.summaryPrompt},
			{Role: "user", Content: formatTranscript(msgs)},
		},
		Temperature: 0.5,
		JSONMode:    true,
		UserID:      userID,
		SessionID:   sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize session: %w", err)
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(comp.Text), &payload); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}

	sum, err := m.store.CreateSummary(ctx, domain.Summary{
		UserID:          userID,
		SessionID:       sessionID,
		Summary:         payload.Summary,
		MainTopics:      payload.MainTopics,
		UserEmotions:    payload.UserEmotions,
		KeyThoughts:     payload.KeyThoughts,
		Triggers:        payload.Triggers,
		Strategies:      payload.Strategies,
		NextSessionGoal: payload.NextSessionGoal,
	})
	if err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}
	log.Printf("[memory] summary created for session %s", sessionID)
	return sum, nil
}

// ExtractFacts sends the session transcript plus the user's current
// facts to the backend and merges the result into the single facts row:
// the profile merges key-by-key with new values winning, every tag list
// merges as a set union. The row is never replaced wholesale.
func (m *Manager) ExtractFacts(ctx context.Context, userID, sessionID string) (*domain.Facts, error) {
	msgs, err := m.store.SessionMessages(ctx, sessionID, transcriptLimit)
	if err != nil {
		return nil, fmt.Errorf("load session messages: %w", err)
	}
	if len(msgs) < factsMinMessages {
		log.Printf("[memory] session %s too short for fact extraction (%d messages)", sessionID, len(msgs))
		return nil, nil
	}

	existing, err := m.store.FactsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}

	comp, err := m.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: m.extractorPrompt},
			{Role: "user", Content: buildExtractionInput(existing, msgs)},
		},
		Temperature: 0.5,
		JSONMode:    true,
		UserID:      userID,
		SessionID:   sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	var extracted domain.Facts
	if err := json.Unmarshal([]byte(comp.Text), &extracted); err != nil {
		return nil, fmt.Errorf("parse facts: %w", err)
	}

	merged := MergeFacts(existing, extracted)
	if err := m.store.UpsertFacts(ctx, userID, merged); err != nil {
		return nil, fmt.Errorf("persist facts: %w", err)
	}
	log.Printf("[memory] facts updated for user %s", userID)
	return &merged, nil
}

// GetContext returns the memory pair ready for prompt injection: the
// two most recent summaries (most recent first) and the facts row. It
// never calls the backend and degrades to empty memory on any miss.
func (m *Manager) GetContext(ctx context.Context, userID string) (string, *domain.Facts) {
	var summaryText string
	summaries, err := m.store.RecentSummaries(ctx, userID, contextSummaries)
	if err != nil {
		log.Printf("[memory] load summaries warning: %v", err)
	} else if len(summaries) > 0 {
		parts := make([]string, 0, len(summaries))
		for _, s := range summaries {
			parts = append(parts, s.Summary)
		}
		summaryText = strings.Join(parts, "\n\n")
	}

	facts, err := m.store.FactsFor(ctx, userID)
	if err != nil {
		log.Printf("[memory] load facts warning: %v", err)
		facts = nil
	}

	return summaryText, facts
}

// MergeFacts folds new facts into existing ones. Idempotent on
// repeated identical input.
func MergeFacts(existing *domain.Facts, extracted domain.Facts) domain.Facts {
	if existing == nil {
		if extracted.Profile == nil {
			extracted.Profile = map[string]string{}
		}
		return extracted
	}

	merged := domain.Facts{Profile: map[string]string{}}
	for k, v := range existing.Profile {
		merged.Profile[k] = v
	}
	for k, v := range extracted.Profile {
		merged.Profile[k] = v
	}

	merged.StableIssues = unionSet(existing.StableIssues, extracted.StableIssues)
	merged.ValuesAndGoals = unionSet(existing.ValuesAndGoals, extracted.ValuesAndGoals)
	merged.CommonTriggers = unionSet(existing.CommonTriggers, extracted.CommonTriggers)
	merged.CognitivePatterns = unionSet(existing.CognitivePatterns, extracted.CognitivePatterns)
	merged.PreferredSupportStyle = unionSet(existing.PreferredSupportStyle, extracted.PreferredSupportStyle)
	merged.HardLimits = unionSet(existing.HardLimits, extracted.HardLimits)
	return merged
}

// unionSet keeps first-seen order so repeated merges stay stable.
func unionSet(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, item := range list {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// formatTranscript renders the message list as a plain dialogue,
// user/assistant turns only.
func formatTranscript(msgs []domain.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			sb.WriteString("User: ")
		case domain.RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			continue
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func buildExtractionInput(existing *domain.Facts, msgs []domain.Message) string {
	var sb strings.Builder
	sb.WriteString("PREVIOUS FACTS:\n")
	if existing != nil {
		if data, err := json.MarshalIndent(existing, "", "  "); err == nil {
			sb.Write(data)
		}
	} else {
		sb.WriteString("No data.\n")
	}
	sb.WriteString("\n\nNEW DIALOGUE:\n")
	sb.WriteString(formatTranscript(msgs))
	sb.WriteString("\n\nUpdate the facts based on the new dialogue. Keep old facts, add new ones.")
	return sb.String()
}
