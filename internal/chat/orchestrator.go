// Package chat runs the message turn: quota gate, risk check, prompt
// assembly, generation and persistence, in a fixed order.
package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/haventech/haven/internal/domain"
	"github.com/haventech/haven/internal/llm"
	"github.com/haventech/haven/internal/prompts"
	"github.com/haventech/haven/internal/risk"
	"github.com/haventech/haven/internal/store"
)

// Terminal states of one turn.
const (
	TurnDelivered     = "delivered"
	TurnQuotaRejected = "rejected_quota"
	TurnUnregistered  = "rejected_unregistered"
	TurnBackendFailed = "failed_backend"
)

// Classifier produces the safety verdict for one inbound message.
type Classifier interface {
	Analyze(ctx context.Context, message string, ref risk.TurnRef) risk.Result
}

// Memory reads the cross-session context and runs consolidation.
type Memory interface {
	GetContext(ctx context.Context, userID string) (string, *domain.Facts)
	SummarizeSession(ctx context.Context, userID, sessionID string) (*domain.Summary, error)
	ExtractFacts(ctx context.Context, userID, sessionID string) (*domain.Facts, error)
}

// Limiter gates the turn against the daily budget.
type Limiter interface {
	Reserve(ctx context.Context, userID string) (bool, error)
}

// Options tune the orchestrator. Zero fields fall back to defaults.
type Options struct {
	HistoryLimit      int           // messages of session history per prompt
	ConsolidateEvery  int           // run consolidation every N session messages
	GenerationTimeout time.Duration // deadline on the reply generation call
	MaxTokens         int
	Temperature       float64
}

func (o *Options) fill() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.ConsolidateEvery <= 0 {
		o.ConsolidateEvery = 10
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = 90 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1500
	}
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
}

// Inbound is one user message as handed over by the transport.
type Inbound struct {
	TelegramUserID int64
	Text           string
	// Typing, when set, is invoked right before the generation call so
	// the transport can show a typing indicator.
	Typing func()
}

// TurnResult is what the transport delivers back to the user.
type TurnResult struct {
	State  string
	Reply  string
	Lang   string
	Crisis bool
	Risk   string
}

// Orchestrator serializes turns per user and drives the pipeline.
type Orchestrator struct {
	store      *store.Store
	classifier Classifier
	memory     Memory
	limiter    Limiter
	library    *prompts.Library
	client     llm.Client
	opts       Options

	locks *userLocks
	jobs  *jobGroup
}

func NewOrchestrator(st *store.Store, classifier Classifier, memory Memory, limiter Limiter,
	library *prompts.Library, client llm.Client, opts Options) *Orchestrator {
	opts.fill()
	return &Orchestrator{
		store:      st,
		classifier: classifier,
		memory:     memory,
		limiter:    limiter,
		library:    library,
		client:     client,
		opts:       opts,
		locks:      newUserLocks(),
		jobs:       &jobGroup{},
	}
}

// HandleTurn runs one inbound message to a terminal state. The returned
// error marks an unhandled storage fault; the transport replies with a
// generic failure in that case. Quota, registration and backend
// failures are handled states, not errors.
func (o *Orchestrator) HandleTurn(ctx context.Context, in Inbound) (TurnResult, error) {
	user, err := o.store.UserByTelegramID(ctx, in.TelegramUserID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return TurnResult{State: TurnUnregistered, Lang: "ru"}, nil
	}
	lang := o.store.LanguageFor(ctx, user.ID)

	allowed, err := o.limiter.Reserve(ctx, user.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("reserve quota: %w", err)
	}
	if !allowed {
		log.Printf("[chat] user %s over daily limit", user.ID)
		return TurnResult{State: TurnQuotaRejected, Lang: lang}, nil
	}

	unlock := o.locks.lock(user.ID)
	defer unlock()

	session, err := o.store.ActiveSession(ctx, user.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		if session, err = o.store.CreateSession(ctx, user.ID); err != nil {
			return TurnResult{}, fmt.Errorf("create session: %w", err)
		}
		log.Printf("[chat] session %s started for user %s", session.ID, user.ID)
	}

	// The inbound message is persisted before anything can fail so the
	// transcript stays complete even when the reply never happens.
	userMsg, err := o.store.CreateMessage(ctx, domain.Message{
		SessionID: session.ID,
		UserID:    user.ID,
		Role:      domain.RoleUser,
		Content:   in.Text,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("persist inbound: %w", err)
	}
	if err := o.store.TouchSession(ctx, session.ID); err != nil {
		log.Printf("[chat] touch session warning: %v", err)
	}

	verdict := o.classifier.Analyze(ctx, in.Text, risk.TurnRef{
		UserID:    user.ID,
		SessionID: session.ID,
		MessageID: userMsg.ID,
	})
	crisis := verdict.NeedCrisisMode()
	if crisis {
		log.Printf("[chat] crisis mode for user %s", user.ID)
	}

	settings, err := o.store.EnsureSettings(ctx, user.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load settings: %w", err)
	}

	var summary string
	var facts *domain.Facts
	if !crisis && settings.AllowMemory {
		summary, facts = o.memory.GetContext(ctx, user.ID)
	}
	system := o.library.BuildSystemPrompt(crisis, settings, summary, facts)

	transcript, err := o.transcript(ctx, session.ID, userMsg.ID, in.Text)
	if err != nil {
		return TurnResult{}, err
	}

	if in.Typing != nil {
		in.Typing()
	}

	genCtx, cancel := context.WithTimeout(ctx, o.opts.GenerationTimeout)
	defer cancel()
	comp, err := o.client.Complete(genCtx, llm.Request{
		Messages:    append([]llm.Message{{Role: "system", Content: system}}, transcript...),
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
		UserID:      user.ID,
		SessionID:   session.ID,
		MessageID:   userMsg.ID,
	})
	if err != nil {
		log.Printf("[chat] generation failed for user %s: %v", user.ID, err)
		return TurnResult{State: TurnBackendFailed, Lang: lang, Crisis: crisis, Risk: verdict.Verdict.Risk}, nil
	}

	if _, err := o.store.CreateMessage(ctx, domain.Message{
		SessionID: session.ID,
		UserID:    user.ID,
		Role:      domain.RoleAssistant,
		Content:   comp.Text,
		Meta: map[string]any{
			"crisis_mode": crisis,
			"risk":        verdict.Verdict.Risk,
		},
	}); err != nil {
		return TurnResult{}, fmt.Errorf("persist reply: %w", err)
	}

	o.maybeConsolidate(ctx, user.ID, session.ID)

	return TurnResult{
		State:  TurnDelivered,
		Reply:  comp.Text,
		Lang:   lang,
		Crisis: crisis,
		Risk:   verdict.Verdict.Risk,
	}, nil
}

// transcript builds the dialogue window for the prompt: the last
// HistoryLimit session messages with the just-persisted inbound dropped
// by id, then the current text as the final user turn.
func (o *Orchestrator) transcript(ctx context.Context, sessionID, inboundID, text string) ([]llm.Message, error) {
	history, err := o.store.LastSessionMessages(ctx, sessionID, o.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	out := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		if m.ID == inboundID {
			continue
		}
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(out, llm.Message{Role: "user", Content: text}), nil
}

// maybeConsolidate kicks off background summarization and fact
// extraction every ConsolidateEvery messages. Failures are logged and
// never surface into the turn.
func (o *Orchestrator) maybeConsolidate(ctx context.Context, userID, sessionID string) {
	count, err := o.store.CountSessionMessages(ctx, sessionID)
	if err != nil {
		log.Printf("[chat] count messages warning: %v", err)
		return
	}
	if count == 0 || count%o.opts.ConsolidateEvery != 0 {
		return
	}

	o.jobs.run(func() {
		// Detached from the turn: the user already has the reply.
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		unlock := o.locks.lock(userID)
		defer unlock()

		if _, err := o.memory.SummarizeSession(bg, userID, sessionID); err != nil {
			log.Printf("[chat] consolidation summary warning: %v", err)
		}
		if _, err := o.memory.ExtractFacts(bg, userID, sessionID); err != nil {
			log.Printf("[chat] consolidation facts warning: %v", err)
		}
	})
}

// Wait blocks until in-flight consolidations finish. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.jobs.wait()
}
