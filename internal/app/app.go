// Package app wires the components together and runs the bot until
// shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haventech/haven/internal/bot"
	"github.com/haventech/haven/internal/chat"
	"github.com/haventech/haven/internal/config"
	"github.com/haventech/haven/internal/cron"
	"github.com/haventech/haven/internal/llm"
	"github.com/haventech/haven/internal/memory"
	"github.com/haventech/haven/internal/prompts"
	"github.com/haventech/haven/internal/quota"
	"github.com/haventech/haven/internal/risk"
	"github.com/haventech/haven/internal/store"
)

type App struct {
	cfg         *config.Config
	store       *store.Store
	orch        *chat.Orchestrator
	bot         *bot.Bot
	maintenance *cron.Service
}

func New(cfg *config.Config) (*App, error) {
	if missing := cfg.Validate(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if err := prompts.Seed(cfg.Prompts.Dir); err != nil {
		return nil, fmt.Errorf("seed prompts: %w", err)
	}
	library, err := prompts.Load(cfg.Prompts.Dir)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	client := llm.NewOpenAIClient(llm.Options{
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
		Pricing: llm.Pricing{
			InputPerMTok:  cfg.Provider.InputPricePerMTok,
			OutputPerMTok: cfg.Provider.OutputPricePerMTok,
		},
	}, st)

	classifier := risk.NewClassifier(client, st, library.Detector)
	mem := memory.NewManager(st, client, library.Summary, library.FactExtractor)
	limiter := quota.New(st, cfg.Limits.DailyMessages)

	orch := chat.NewOrchestrator(st, classifier, mem, limiter, library, client, chat.Options{
		HistoryLimit:      cfg.Limits.HistoryLimit,
		ConsolidateEvery:  cfg.Limits.ConsolidateEvery,
		GenerationTimeout: time.Duration(cfg.Limits.GenerationTimeoutSec) * time.Second,
		MaxTokens:         cfg.Provider.MaxTokens,
		Temperature:       cfg.Provider.Temperature,
	})

	tg, err := bot.New(bot.Config{Token: cfg.Telegram.Token, Proxy: cfg.Telegram.Proxy},
		st, orch, limiter, mem)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	maintenance := cron.NewService(st, cron.Options{
		SessionTimeout: time.Duration(cfg.Limits.SessionTimeoutHours) * time.Hour,
	})

	return &App{
		cfg:         cfg,
		store:       st,
		orch:        orch,
		bot:         tg,
		maintenance: maintenance,
	}, nil
}

// Run starts the transport and the maintenance schedule and blocks
// until the context is cancelled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.maintenance.Start(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}
	if err := a.bot.Start(ctx); err != nil {
		a.maintenance.Stop()
		return err
	}

	log.Printf("[app] haven started (model %s, daily limit %d)",
		a.cfg.Provider.Model, a.cfg.Limits.DailyMessages)

	<-ctx.Done()
	log.Printf("[app] shutting down")
	a.Shutdown()
	return nil
}

// Shutdown stops polling, drains background consolidations and closes
// the store.
func (a *App) Shutdown() {
	a.bot.Stop()
	a.orch.Wait()
	a.maintenance.Stop()
	if err := a.store.Close(); err != nil {
		log.Printf("[app] close store warning: %v", err)
	}
}
