// Package config loads the bot configuration from the JSON config
// file with environment variable overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultModel               = "gpt-4o-mini"
	DefaultMaxTokens           = 1500
	DefaultTemperature         = 0.7
	DefaultDailyMessages       = 20
	DefaultSessionTimeoutHours = 24
	DefaultConsolidateEvery    = 10
	DefaultHistoryLimit        = 20
	DefaultGenerationTimeout   = 90
	DefaultInputPricePerMTok   = 0.15
	DefaultOutputPricePerMTok  = 0.60
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Provider ProviderConfig `json:"provider"`
	Limits   LimitsConfig   `json:"limits"`
	Storage  StorageConfig  `json:"storage"`
	Prompts  PromptsConfig  `json:"prompts"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	Proxy string `json:"proxy,omitempty"`
}

type ProviderConfig struct {
	APIKey             string  `json:"apiKey"`
	BaseURL            string  `json:"baseUrl,omitempty"`
	Model              string  `json:"model"`
	MaxTokens          int     `json:"maxTokens"`
	Temperature        float64 `json:"temperature"`
	InputPricePerMTok  float64 `json:"inputPricePerMTok"`
	OutputPricePerMTok float64 `json:"outputPricePerMTok"`
}

type LimitsConfig struct {
	DailyMessages        int `json:"dailyMessages"`
	SessionTimeoutHours  int `json:"sessionTimeoutHours"`
	ConsolidateEvery     int `json:"consolidateEvery"`
	HistoryLimit         int `json:"historyLimit"`
	GenerationTimeoutSec int `json:"generationTimeoutSec"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

type PromptsConfig struct {
	Dir string `json:"dir"`
}

func DefaultConfig() *Config {
	dir := ConfigDir()
	return &Config{
		Provider: ProviderConfig{
			Model:              DefaultModel,
			MaxTokens:          DefaultMaxTokens,
			Temperature:        DefaultTemperature,
			InputPricePerMTok:  DefaultInputPricePerMTok,
			OutputPricePerMTok: DefaultOutputPricePerMTok,
		},
		Limits: LimitsConfig{
			DailyMessages:        DefaultDailyMessages,
			SessionTimeoutHours:  DefaultSessionTimeoutHours,
			ConsolidateEvery:     DefaultConsolidateEvery,
			HistoryLimit:         DefaultHistoryLimit,
			GenerationTimeoutSec: DefaultGenerationTimeout,
		},
		Storage: StorageConfig{DBPath: filepath.Join(dir, "haven.db")},
		Prompts: PromptsConfig{Dir: filepath.Join(dir, "prompts")},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("HAVEN_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".haven")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	// A .env next to the binary feeds the overrides below.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("HAVEN_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = token
	}
	if key := os.Getenv("HAVEN_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("HAVEN_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("HAVEN_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if dbPath := os.Getenv("HAVEN_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if dir := os.Getenv("HAVEN_PROMPTS_DIR"); dir != "" {
		cfg.Prompts.Dir = dir
	}
	if limit := os.Getenv("HAVEN_DAILY_LIMIT"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil && parsed > 0 {
			cfg.Limits.DailyMessages = parsed
		}
	}

	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if cfg.Limits.DailyMessages <= 0 {
		cfg.Limits.DailyMessages = DefaultDailyMessages
	}
	if cfg.Limits.SessionTimeoutHours <= 0 {
		cfg.Limits.SessionTimeoutHours = DefaultSessionTimeoutHours
	}
	if cfg.Limits.ConsolidateEvery <= 0 {
		cfg.Limits.ConsolidateEvery = DefaultConsolidateEvery
	}
	if cfg.Limits.HistoryLimit <= 0 {
		cfg.Limits.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Limits.GenerationTimeoutSec <= 0 {
		cfg.Limits.GenerationTimeoutSec = DefaultGenerationTimeout
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = DefaultConfig().Storage.DBPath
	}
	if cfg.Prompts.Dir == "" {
		cfg.Prompts.Dir = DefaultConfig().Prompts.Dir
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// Validate returns the names of the settings the bot cannot start
// without.
func (c *Config) Validate() []string {
	var missing []string
	if c.Telegram.Token == "" {
		missing = append(missing, "telegram.token")
	}
	if c.Provider.APIKey == "" {
		missing = append(missing, "provider.apiKey")
	}
	return missing
}
