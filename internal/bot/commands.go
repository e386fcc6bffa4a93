package bot

import (
	"context"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/haventech/haven/internal/domain"
	"github.com/haventech/haven/internal/i18n"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.cmdStart(ctx, msg)
	case "help":
		b.cmdHelp(ctx, msg)
	case "newsession":
		b.cmdNewSession(ctx, msg)
	case "settings":
		b.cmdSettings(ctx, msg)
	case "stats":
		b.cmdStats(ctx, msg)
	case "language":
		b.cmdLanguage(ctx, msg)
	default:
		b.cmdHelp(ctx, msg)
	}
}

func (b *Bot) cmdStart(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.store.UpsertUser(ctx, domain.User{
		TelegramUserID: msg.From.ID,
		TelegramChatID: msg.Chat.ID,
		Username:       msg.From.UserName,
		FirstName:      msg.From.FirstName,
		LastName:       msg.From.LastName,
		LanguageCode:   msg.From.LanguageCode,
	})
	if err != nil {
		log.Printf("[telegram] register %d failed: %v", msg.From.ID, err)
		b.sendText(msg.Chat.ID, i18n.T("ru", "conversation_error"))
		return
	}
	if _, err := b.store.EnsureSettings(ctx, user.ID); err != nil {
		log.Printf("[telegram] ensure settings warning: %v", err)
	}

	name := msg.From.FirstName
	if name == "" {
		name = msg.From.UserName
	}
	lang := b.store.LanguageFor(ctx, user.ID)
	b.sendText(msg.Chat.ID, fmt.Sprintf(i18n.T(lang, "welcome"), name))
	log.Printf("[telegram] user %s registered", user.ID)
}

func (b *Bot) cmdHelp(ctx context.Context, msg *tgbotapi.Message) {
	b.sendText(msg.Chat.ID, i18n.T(b.langFor(ctx, msg), "help"))
}

// cmdNewSession archives the active session after a best-effort
// consolidation and opens the replacement right away.
func (b *Bot) cmdNewSession(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.store.UserByTelegramID(ctx, msg.From.ID)
	if err != nil || user == nil {
		b.sendText(msg.Chat.ID, i18n.T("ru", "use_start_first"))
		return
	}
	lang := b.store.LanguageFor(ctx, user.ID)

	session, err := b.store.ActiveSession(ctx, user.ID)
	if err != nil {
		log.Printf("[telegram] load session failed: %v", err)
		b.sendText(msg.Chat.ID, i18n.T(lang, "conversation_error"))
		return
	}
	if session != nil {
		if _, err := b.memory.SummarizeSession(ctx, user.ID, session.ID); err != nil {
			log.Printf("[telegram] close-session summary warning: %v", err)
		}
		if _, err := b.memory.ExtractFacts(ctx, user.ID, session.ID); err != nil {
			log.Printf("[telegram] close-session facts warning: %v", err)
		}
		if err := b.store.ArchiveSession(ctx, session.ID); err != nil {
			log.Printf("[telegram] archive session failed: %v", err)
			b.sendText(msg.Chat.ID, i18n.T(lang, "conversation_error"))
			return
		}
	}
	if _, err := b.store.CreateSession(ctx, user.ID); err != nil {
		log.Printf("[telegram] create session failed: %v", err)
		b.sendText(msg.Chat.ID, i18n.T(lang, "conversation_error"))
		return
	}
	b.sendText(msg.Chat.ID, i18n.T(lang, "new_session"))
}

func (b *Bot) cmdSettings(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.store.UserByTelegramID(ctx, msg.From.ID)
	if err != nil || user == nil {
		b.sendText(msg.Chat.ID, i18n.T("ru", "use_start_first"))
		return
	}
	settings, err := b.store.EnsureSettings(ctx, user.ID)
	if err != nil {
		log.Printf("[telegram] load settings failed: %v", err)
		b.sendText(msg.Chat.ID, i18n.T("ru", "conversation_error"))
		return
	}

	lang := settings.Language
	memState := i18n.T(lang, "disabled")
	if settings.AllowMemory {
		memState = i18n.T(lang, "enabled")
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf(i18n.T(lang, "settings"),
		settings.Style, settings.ResponseLength, memState, settings.Language))
}

func (b *Bot) cmdStats(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.store.UserByTelegramID(ctx, msg.From.ID)
	if err != nil || user == nil {
		b.sendText(msg.Chat.ID, i18n.T("ru", "use_start_first"))
		return
	}
	lang := b.store.LanguageFor(ctx, user.ID)

	usage, err := b.usage.Usage(ctx, user.ID)
	if err != nil {
		log.Printf("[telegram] load usage failed: %v", err)
		b.sendText(msg.Chat.ID, i18n.T(lang, "conversation_error"))
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf(i18n.T(lang, "stats"), usage.Used, usage.Limit))
}

func (b *Bot) cmdLanguage(ctx context.Context, msg *tgbotapi.Message) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Русский", "lang:ru"),
			tgbotapi.NewInlineKeyboardButtonData("Қазақша", "lang:kz"),
			tgbotapi.NewInlineKeyboardButtonData("English", "lang:en"),
		),
	)
	out := tgbotapi.NewMessage(msg.Chat.ID, i18n.T(b.langFor(ctx, msg), "choose_language"))
	out.ReplyMarkup = keyboard
	if _, err := b.bot.Send(out); err != nil {
		log.Printf("[telegram] send language keyboard failed: %v", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	defer func() {
		if _, err := b.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			log.Printf("[telegram] answer callback warning: %v", err)
		}
	}()

	if cq.Message == nil || !strings.HasPrefix(cq.Data, "lang:") {
		return
	}
	lang := strings.TrimPrefix(cq.Data, "lang:")
	if !validLang(lang) {
		return
	}

	user, err := b.store.UserByTelegramID(ctx, cq.From.ID)
	if err != nil || user == nil {
		b.sendText(cq.Message.Chat.ID, i18n.T("ru", "use_start_first"))
		return
	}
	if _, err := b.store.EnsureSettings(ctx, user.ID); err != nil {
		log.Printf("[telegram] ensure settings warning: %v", err)
	}
	if err := b.store.SetLanguage(ctx, user.ID, lang); err != nil {
		log.Printf("[telegram] set language failed: %v", err)
		b.sendText(cq.Message.Chat.ID, i18n.T("ru", "conversation_error"))
		return
	}
	b.sendText(cq.Message.Chat.ID, i18n.T(lang, "language_set"))
}

func validLang(code string) bool {
	for _, l := range i18n.Languages {
		if l == code {
			return true
		}
	}
	return false
}

func (b *Bot) langFor(ctx context.Context, msg *tgbotapi.Message) string {
	user, err := b.store.UserByTelegramID(ctx, msg.From.ID)
	if err != nil || user == nil {
		return "ru"
	}
	return b.store.LanguageFor(ctx, user.ID)
}
