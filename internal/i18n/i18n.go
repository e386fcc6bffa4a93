// Package i18n holds the localized user-facing strings.
package i18n

// Supported display languages.
var Languages = []string{"ru", "kz", "en"}

// LangName maps a language code to the name used in the model
// instruction ("Always reply in X").
func LangName(code string) string {
	switch code {
	case "kz":
		return "Kazakh"
	case "en":
		return "English"
	default:
		return "Russian"
	}
}

var table = map[string]map[string]string{
	"ru": {
		"use_start_first":    "Сначала используй /start для регистрации.",
		"limit_reached":      "На сегодня лимит сообщений исчерпан. Возвращайся завтра 💛",
		"conversation_error": "Произошла ошибка. Пожалуйста, попробуй ещё раз чуть позже.",
		"new_session":        "✅ Новая сессия начата!\n\nПредыдущая сессия архивирована. Расскажи, что тебя беспокоит сейчас?",
		"choose_language":    "Выбери язык:",
		"language_set":       "Язык сохранён: русский",
		"welcome":            "Привет, %s! 👋\n\nЯ ассистент поддержки. Просто напиши мне, что тебя беспокоит.\n\n⚠️ Важно: я не врач и не психотерапевт.\n\nКоманды:\n/newsession — новая сессия\n/settings — настройки\n/stats — статистика\n/language — язык\n/help — помощь",
		"help":               "📖 Просто напиши, что тебя беспокоит.\n\nКоманды:\n/start — начать\n/newsession — архивировать сессию и начать новую\n/settings — настройки\n/stats — статистика\n/language — язык\n/help — это сообщение",
		"settings":           "⚙️ Текущие настройки:\n\nСтиль: %s\nДлина ответов: %s\nПамять: %s\nЯзык: %s",
		"stats":              "📊 Сегодня использовано: %d из %d сообщений",
		"enabled":            "включена",
		"disabled":           "выключена",
	},
	"kz": {
		"use_start_first":    "Алдымен тіркелу үшін /start командасын қолдан.",
		"limit_reached":      "Бүгінгі хабарлама лимиті таусылды. Ертең қайта орал 💛",
		"conversation_error": "Қате пайда болды. Кейінірек қайталап көрші.",
		"new_session":        "✅ Жаңа сессия басталды!\n\nАлдыңғы сессия мұрағатталды. Қазір сені не мазалайды?",
		"choose_language":    "Тілді таңда:",
		"language_set":       "Тіл сақталды: қазақша",
		"welcome":            "Сәлем, %s! 👋\n\nМен қолдау ассистентімін. Сені не мазалайтынын жазсаң болды.\n\n⚠️ Маңызды: мен дәрігер емеспін.\n\nКомандалар:\n/newsession — жаңа сессия\n/settings — баптаулар\n/stats — статистика\n/language — тіл\n/help — көмек",
		"help":               "📖 Сені не мазалайтынын жаз.\n\nКомандалар:\n/start — бастау\n/newsession — жаңа сессия\n/settings — баптаулар\n/stats — статистика\n/language — тіл\n/help — осы хабарлама",
		"settings":           "⚙️ Ағымдағы баптаулар:\n\nСтиль: %s\nЖауап ұзындығы: %s\nЖад: %s\nТіл: %s",
		"stats":              "📊 Бүгін қолданылды: %d / %d хабарлама",
		"enabled":            "қосулы",
		"disabled":           "өшірулі",
	},
	"en": {
		"use_start_first":    "Please use /start to register first.",
		"limit_reached":      "You've reached today's message limit. Come back tomorrow 💛",
		"conversation_error": "Something went wrong. Please try again a bit later.",
		"new_session":        "✅ New session started!\n\nThe previous session is archived. What's on your mind right now?",
		"choose_language":    "Choose a language:",
		"language_set":       "Language saved: English",
		"welcome":            "Hi, %s! 👋\n\nI'm a support assistant. Just tell me what's bothering you.\n\n⚠️ Important: I'm not a doctor or a therapist.\n\nCommands:\n/newsession — new session\n/settings — settings\n/stats — usage stats\n/language — language\n/help — help",
		"help":               "📖 Just write what's bothering you.\n\nCommands:\n/start — begin\n/newsession — archive the session and start a new one\n/settings — settings\n/stats — usage stats\n/language — language\n/help — this message",
		"settings":           "⚙️ Current settings:\n\nStyle: %s\nResponse length: %s\nMemory: %s\nLanguage: %s",
		"stats":              "📊 Used today: %d of %d messages",
		"enabled":            "enabled",
		"disabled":           "disabled",
	},
}

// T returns the localized string for the key, falling back to Russian
// and then to the key itself.
func T(lang, key string) string {
	if m, ok := table[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := table["ru"][key]; ok {
		return s
	}
	return key
}
