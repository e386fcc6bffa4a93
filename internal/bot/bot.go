// Package bot is the Telegram transport: long polling, command
// routing and reply delivery.
package bot

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/haventech/haven/internal/chat"
	"github.com/haventech/haven/internal/domain"
	"github.com/haventech/haven/internal/i18n"
	"github.com/haventech/haven/internal/store"
)

// TelegramBot is the slice of the bot API the transport uses. An
// interface so tests can substitute a fake.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// Turns runs one inbound message through the pipeline.
type Turns interface {
	HandleTurn(ctx context.Context, in chat.Inbound) (chat.TurnResult, error)
}

// Usage reports today's quota counters for the stats command.
type Usage interface {
	Usage(ctx context.Context, userID string) (*domain.Usage, error)
}

// Consolidator runs memory consolidation when a session is closed by hand.
type Consolidator interface {
	SummarizeSession(ctx context.Context, userID, sessionID string) (*domain.Summary, error)
	ExtractFacts(ctx context.Context, userID, sessionID string) (*domain.Facts, error)
}

// Config holds the transport settings.
type Config struct {
	Token string
	Proxy string
}

type Bot struct {
	cfg     Config
	bot     TelegramBot
	factory BotFactory

	store  *store.Store
	turns  Turns
	usage  Usage
	memory Consolidator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, st *store.Store, turns Turns, usage Usage, memory Consolidator) (*Bot, error) {
	return NewWithFactory(cfg, st, turns, usage, memory, defaultBotFactory)
}

// NewWithFactory creates a Bot with a custom bot factory (for testing).
func NewWithFactory(cfg Config, st *store.Store, turns Turns, usage Usage, memory Consolidator, factory BotFactory) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &Bot{
		cfg:     cfg,
		factory: factory,
		store:   st,
		turns:   turns,
		usage:   usage,
		memory:  memory,
	}, nil
}

func (b *Bot) initBot() error {
	client := http.DefaultClient
	if b.cfg.Proxy != "" {
		proxyURL, err := url.Parse(b.cfg.Proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := b.factory(b.cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	b.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

// Start begins long polling. Each update is handled on its own
// goroutine; per-user ordering is enforced downstream.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.initBot(); err != nil {
		return err
	}

	ctx, b.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.bot.GetUpdatesChan(u)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.wg.Add(1)
				go func() {
					defer b.wg.Done()
					b.handleUpdate(ctx, update)
				}()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

// Stop halts polling and waits for in-flight updates.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.bot != nil {
		b.bot.StopReceivingUpdates()
	}
	b.wg.Wait()
	log.Printf("[telegram] stopped")
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	text := msg.Text
	if text == "" && msg.Caption != "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	chatID := msg.Chat.ID
	res, err := b.turns.HandleTurn(ctx, chat.Inbound{
		TelegramUserID: msg.From.ID,
		Text:           text,
		Typing: func() {
			if _, err := b.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
				log.Printf("[telegram] chat action warning: %v", err)
			}
		},
	})
	if err != nil {
		log.Printf("[telegram] turn failed for %d: %v", msg.From.ID, err)
		b.sendText(chatID, i18n.T(b.langFor(ctx, msg), "conversation_error"))
		return
	}

	switch res.State {
	case chat.TurnDelivered:
		b.sendReply(chatID, res.Reply)
	case chat.TurnQuotaRejected:
		b.sendText(chatID, i18n.T(res.Lang, "limit_reached"))
	case chat.TurnUnregistered:
		b.sendText(chatID, i18n.T(res.Lang, "use_start_first"))
	case chat.TurnBackendFailed:
		b.sendText(chatID, i18n.T(res.Lang, "conversation_error"))
	}
}
