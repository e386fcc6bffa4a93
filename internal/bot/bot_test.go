package bot

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/haventech/haven/internal/chat"
	"github.com/haventech/haven/internal/domain"
	"github.com/haventech/haven/internal/store"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	failHTML bool
	updates  chan tgbotapi.Update
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeBot) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok && f.failHTML && msg.ParseMode == tgbotapi.ModeHTML {
		return tgbotapi.Message{}, errors.New("bad entities")
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "haven_test_bot"}
}

func (f *fakeBot) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg.Text)
		}
	}
	return out
}

func (f *fakeBot) lastText(t *testing.T) string {
	t.Helper()
	texts := f.sentTexts()
	if len(texts) == 0 {
		t.Fatal("no message sent")
	}
	return texts[len(texts)-1]
}

type fakeTurns struct {
	mu   sync.Mutex
	res  chat.TurnResult
	err  error
	last chat.Inbound
}

func (f *fakeTurns) HandleTurn(_ context.Context, in chat.Inbound) (chat.TurnResult, error) {
	f.mu.Lock()
	f.last = in
	f.mu.Unlock()
	if in.Typing != nil {
		in.Typing()
	}
	return f.res, f.err
}

func (f *fakeTurns) lastIn() chat.Inbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeUsage struct {
	usage domain.Usage
}

func (f *fakeUsage) Usage(_ context.Context, userID string) (*domain.Usage, error) {
	u := f.usage
	u.UserID = userID
	return &u, nil
}

type fakeConsolidator struct {
	sumCalls  int
	factCalls int
}

func (f *fakeConsolidator) SummarizeSession(_ context.Context, _, _ string) (*domain.Summary, error) {
	f.sumCalls++
	return nil, nil
}

func (f *fakeConsolidator) ExtractFacts(_ context.Context, _, _ string) (*domain.Facts, error) {
	f.factCalls++
	return nil, nil
}

type fixture struct {
	bot    *Bot
	tg     *fakeBot
	store  *store.Store
	turns  *fakeTurns
	usage  *fakeUsage
	memory *fakeConsolidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "haven.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		tg:     newFakeBot(),
		store:  s,
		turns:  &fakeTurns{res: chat.TurnResult{State: chat.TurnDelivered, Reply: "hello there", Lang: "ru"}},
		usage:  &fakeUsage{usage: domain.Usage{Used: 3, Limit: 20}},
		memory: &fakeConsolidator{},
	}
	b, err := NewWithFactory(Config{Token: "fake-token"}, s, f.turns, f.usage, f.memory,
		func(_, _ string, _ *http.Client) (TelegramBot, error) { return f.tg, nil })
	if err != nil {
		t.Fatalf("NewWithFactory error: %v", err)
	}
	b.bot = f.tg
	f.bot = b
	return f
}

func command(text string, from int64) *tgbotapi.Message {
	cmd := text
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		cmd = cmd[:i]
	}
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, FirstName: "Alex"},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		},
	}
}

func plainMessage(text string, from int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: from},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
	}
}

func (f *fixture) register(t *testing.T) *domain.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.UpsertUser(ctx, domain.User{TelegramUserID: 42, TelegramChatID: 42, FirstName: "Alex"})
	if err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	if _, err := f.store.EnsureSettings(ctx, u.ID); err != nil {
		t.Fatalf("EnsureSettings error: %v", err)
	}
	return u
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestCmdStartRegisters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleCommand(ctx, command("/start", 42))

	user, err := f.store.UserByTelegramID(ctx, 42)
	if err != nil || user == nil {
		t.Fatalf("user not registered: %v / %v", user, err)
	}
	if !strings.Contains(f.tg.lastText(t), "Alex") {
		t.Fatalf("welcome must greet by name, got %q", f.tg.lastText(t))
	}
}

func TestTextTurnDelivered(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	f.bot.handleMessage(context.Background(), plainMessage("I feel stuck", 42))

	if in := f.turns.lastIn(); in.Text != "I feel stuck" || in.TelegramUserID != 42 {
		t.Fatalf("turn input wrong: %+v", in)
	}
	if f.tg.lastText(t) != "hello there" {
		t.Fatalf("reply not delivered: %q", f.tg.lastText(t))
	}
	// Typing callback must have issued a chat action.
	if len(f.tg.requests) == 0 {
		t.Fatal("expected a typing chat action request")
	}
}

func TestTextTurnQuotaReply(t *testing.T) {
	f := newFixture(t)
	f.turns.res = chat.TurnResult{State: chat.TurnQuotaRejected, Lang: "en"}

	f.bot.handleMessage(context.Background(), plainMessage("hi", 42))

	if !strings.Contains(f.tg.lastText(t), "message limit") {
		t.Fatalf("expected localized limit notice, got %q", f.tg.lastText(t))
	}
}

func TestTextTurnUnregistered(t *testing.T) {
	f := newFixture(t)
	f.turns.res = chat.TurnResult{State: chat.TurnUnregistered, Lang: "ru"}

	f.bot.handleMessage(context.Background(), plainMessage("hi", 99))

	if !strings.Contains(f.tg.lastText(t), "/start") {
		t.Fatalf("expected start hint, got %q", f.tg.lastText(t))
	}
}

func TestCmdNewSessionConsolidatesAndArchives(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	ctx := context.Background()
	old, err := f.store.CreateSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	f.bot.handleCommand(ctx, command("/newsession", 42))

	sess, err := f.store.ActiveSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("ActiveSession error: %v", err)
	}
	// The reply announces a started session, so one must exist.
	if sess == nil {
		t.Fatal("replacement session must be active")
	}
	if sess.ID == old.ID {
		t.Fatal("previous session must be archived, not reused")
	}
	if f.memory.sumCalls != 1 || f.memory.factCalls != 1 {
		t.Fatalf("expected consolidation before archive, got %d/%d", f.memory.sumCalls, f.memory.factCalls)
	}
}

func TestCmdNewSessionWithoutActiveSession(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	ctx := context.Background()

	f.bot.handleCommand(ctx, command("/newsession", 42))

	sess, err := f.store.ActiveSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("ActiveSession error: %v", err)
	}
	if sess == nil {
		t.Fatal("a fresh session must be created")
	}
	if f.memory.sumCalls != 0 {
		t.Fatal("nothing to consolidate without a prior session")
	}
}

func TestTurnFaultReplyUsesUserLanguage(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	ctx := context.Background()
	if err := f.store.SetLanguage(ctx, u.ID, "en"); err != nil {
		t.Fatalf("SetLanguage error: %v", err)
	}
	f.turns.err = errors.New("db locked")

	f.bot.handleMessage(ctx, plainMessage("hi", 42))

	if !strings.Contains(f.tg.lastText(t), "Something went wrong") {
		t.Fatalf("fault reply must follow the user's language, got %q", f.tg.lastText(t))
	}
}

func TestCmdStats(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	f.bot.handleCommand(context.Background(), command("/stats", 42))

	text := f.tg.lastText(t)
	if !strings.Contains(text, "3") || !strings.Contains(text, "20") {
		t.Fatalf("stats must show used and limit, got %q", text)
	}
}

func TestLanguageCallback(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	ctx := context.Background()

	f.bot.handleCallback(ctx, &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
		Data:    "lang:en",
	})

	if lang := f.store.LanguageFor(ctx, u.ID); lang != "en" {
		t.Fatalf("language not persisted, got %q", lang)
	}
	if !strings.Contains(f.tg.lastText(t), "English") {
		t.Fatalf("confirmation must be in the new language, got %q", f.tg.lastText(t))
	}
	if len(f.tg.requests) == 0 {
		t.Fatal("callback query must be answered")
	}
}

func TestLanguageCallbackRejectsUnknown(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	ctx := context.Background()

	f.bot.handleCallback(ctx, &tgbotapi.CallbackQuery{
		ID:      "cb2",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
		Data:    "lang:xx",
	})

	if lang := f.store.LanguageFor(ctx, u.ID); lang != "ru" {
		t.Fatalf("unknown code must not change the language, got %q", lang)
	}
}

func TestSendReplyFallsBackToPlain(t *testing.T) {
	f := newFixture(t)
	f.tg.failHTML = true

	f.bot.sendReply(42, "**bold** reply")

	texts := f.tg.sentTexts()
	if len(texts) != 1 || texts[0] != "**bold** reply" {
		t.Fatalf("expected plain-text fallback, got %v", texts)
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"**bold**", "<b>bold</b>"},
		{"`code`", "<code>code</code>"},
		{"a & b", "a &amp; b"},
		{"<tag>", "&lt;tag&gt;"},
		{"```go\nfunc main() {}\n```", "<pre>func main() {}\n</pre>"},
	}
	for _, tt := range tests {
		if got := toTelegramHTML(tt.input); got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	if err := f.bot.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	f.tg.updates <- tgbotapi.Update{Message: plainMessage("hi", 42)}
	deadline := time.After(2 * time.Second)
	for f.turns.lastIn().Text != "hi" {
		select {
		case <-deadline:
			t.Fatal("update not dispatched")
		case <-time.After(10 * time.Millisecond):
		}
	}
	f.bot.Stop()
}
