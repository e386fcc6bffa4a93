// Package domain holds the persistent entities shared across the bot.
package domain

import (
	"encoding/json"
	"time"
)

// Session status values.
const (
	SessionActive   = "active"
	SessionArchived = "archived"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Risk levels returned by the classifier.
const (
	RiskNone   = "none"
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// User is one Telegram identity. The telegram user id is the stable
// external key; chat id and profile fields are refreshed on contact.
type User struct {
	ID             string
	TelegramUserID int64
	TelegramChatID int64
	Username       string
	FirstName      string
	LastName       string
	LanguageCode   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Settings are per-user preferences, exactly one row per user.
type Settings struct {
	UserID               string
	Style                string
	ResponseLength       string
	AllowMemory          bool
	AllowSensitiveTopics bool
	Language             string
	UpdatedAt            time.Time
}

// Session is one bounded conversation. At most one active per user.
type Session struct {
	ID            string
	UserID        string
	Status        string
	StartedAt     time.Time
	LastMessageAt time.Time
	EndedAt       *time.Time
}

// Message is one side of a turn, immutable after creation.
type Message struct {
	ID        string
	SessionID string
	UserID    string
	Role      string
	Content   string
	Meta      map[string]any
	CreatedAt time.Time
}

// Verdict is the structured classifier output.
type Verdict struct {
	Risk           string   `json:"risk"`
	Category       string   `json:"category"`
	Reasons        []string `json:"reasons"`
	NeedCrisisMode bool     `json:"need_crisis_mode"`
}

// RiskEvent records a non-none verdict together with the raw payload.
type RiskEvent struct {
	ID        string
	UserID    string
	SessionID string
	MessageID string
	Risk      string
	Category  string
	Reasons   []string
	Raw       json.RawMessage
	CreatedAt time.Time
}

// Summary is one compressed session digest. Never mutated.
type Summary struct {
	ID              string
	UserID          string
	SessionID       string
	Summary         string
	MainTopics      []string
	UserEmotions    []string
	KeyThoughts     []string
	Triggers        []string
	Strategies      []string
	NextSessionGoal string
	CreatedAt       time.Time
}

// Facts are the durable cross-session facts for one user. The profile
// map merges key-by-key (new wins); the tag lists merge as sets.
type Facts struct {
	Profile               map[string]string `json:"profile"`
	StableIssues          []string          `json:"stable_issues"`
	ValuesAndGoals        []string          `json:"values_and_goals"`
	CommonTriggers        []string          `json:"common_triggers"`
	CognitivePatterns     []string          `json:"cognitive_patterns"`
	PreferredSupportStyle []string          `json:"preferred_support_style"`
	HardLimits            []string          `json:"hard_limits"`
}

// Usage is the daily quota state for one user.
type Usage struct {
	UserID  string
	Used    int
	Limit   int
	ResetAt string // UTC calendar day, YYYY-MM-DD
}

// GenerationRecord is the audit row for one backend call attempt.
type GenerationRecord struct {
	ID               string
	UserID           string
	SessionID        string
	MessageID        string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int
	CostUSD          float64
	Status           string
	ErrorCode        string
	ErrorMessage     string
	CreatedAt        time.Time
}
