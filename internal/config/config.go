package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all relay configuration.
type Config struct {
	// Transport
	Transport            string
	TelegramAPIBase      string
	PollTimeoutSeconds   int
	SleepSeconds         int
	DropPending          bool
	PendingWindowSeconds int64

	// Completion provider
	Provider              string
	OpenAIAPIKey          string
	OpenAIChatCompURL     string
	OpenAIModel           string
	OpenAIMaxTokens       int
	OpenAITemperature     float32
	OpenAITimeoutSeconds  int
	OpenAIMaxRetries      int
	SystemPrompt          string

	// Policy
	MaxRequests            int
	WindowSeconds          int
	MaxHistory             int
	SessionTimeoutSeconds  int
	CleanupIntervalSeconds int
	MaxMessageLength       int

	// Observability
	DBPath   string
	LogLevel string

	// Dummy scripts (used when Transport/Provider are "dummy")
	DummyTransportScript string
	DummyProviderScript  string
	DummyChatID          int64
}

// Load reads configuration from a .env file (when present) and the
// environment, applies defaults, and validates required values.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Transport:            envOrDefault("RELAY_TRANSPORT", "telegram"),
		PollTimeoutSeconds:   envIntOrDefault("TG_TIMEOUT", 30),
		SleepSeconds:         envIntOrDefault("TG_SLEEP_SECONDS", 1),
		DropPending:          envBoolOrDefault("TG_DROP_PENDING", true),
		PendingWindowSeconds: int64(envIntOrDefault("TG_PENDING_WINDOW_SECONDS", 600)),

		Provider:             envOrDefault("RELAY_PROVIDER", "openai"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIChatCompURL:    envOrDefault("OPENAI_CHAT_COMPLETIONS_URL", "https://api.openai.com/v1/chat/completions"),
		OpenAIModel:          envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIMaxTokens:      envIntOrDefault("OPENAI_MAX_TOKENS", 150),
		OpenAITemperature:    envFloatOrDefault("OPENAI_TEMPERATURE", 0.7),
		OpenAITimeoutSeconds: envIntOrDefault("OPENAI_TIMEOUT_SECONDS", 30),
		OpenAIMaxRetries:     envIntOrDefault("OPENAI_MAX_RETRIES", 3),
		SystemPrompt:         os.Getenv("RELAY_SYSTEM_PROMPT"),

		MaxRequests:            envIntOrDefault("RELAY_MAX_REQUESTS", 10),
		WindowSeconds:          envIntOrDefault("RELAY_WINDOW_SECONDS", 60),
		MaxHistory:             envIntOrDefault("RELAY_MAX_HISTORY", 5),
		SessionTimeoutSeconds:  envIntOrDefault("RELAY_SESSION_TIMEOUT_SECONDS", 3600),
		CleanupIntervalSeconds: envIntOrDefault("RELAY_CLEANUP_INTERVAL_SECONDS", 300),
		MaxMessageLength:       envIntOrDefault("RELAY_MAX_MESSAGE_LENGTH", 500),

		DBPath:   envOrDefault("RELAY_DB_PATH", ""),
		LogLevel: envOrDefault("RELAY_LOG_LEVEL", "info"),

		DummyTransportScript: envOrDefault("RELAY_DUMMY_TRANSPORT_SCRIPT", "ok"),
		DummyProviderScript:  envOrDefault("RELAY_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyChatID:          int64(envIntOrDefault("RELAY_DUMMY_CHAT_ID", 1)),
	}

	if cfg.Transport == "telegram" {
		token := os.Getenv("TELEGRAM_BOT_TOKEN")
		if token == "" {
			return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when RELAY_TRANSPORT=telegram")
		}
		cfg.TelegramAPIBase = fmt.Sprintf("https://api.telegram.org/bot%s", token)
	}
	if cfg.Provider == "openai" {
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("OPENAI_API_KEY is required in environment when RELAY_PROVIDER=openai")
		}
		if !strings.HasPrefix(cfg.OpenAIAPIKey, "sk-") {
			return Config{}, fmt.Errorf("OPENAI_API_KEY has invalid format: expected sk- prefix")
		}
	}

	for _, check := range []struct {
		name  string
		value int
	}{
		{"RELAY_MAX_REQUESTS", cfg.MaxRequests},
		{"RELAY_WINDOW_SECONDS", cfg.WindowSeconds},
		{"RELAY_MAX_HISTORY", cfg.MaxHistory},
		{"RELAY_SESSION_TIMEOUT_SECONDS", cfg.SessionTimeoutSeconds},
		{"RELAY_CLEANUP_INTERVAL_SECONDS", cfg.CleanupIntervalSeconds},
		{"RELAY_MAX_MESSAGE_LENGTH", cfg.MaxMessageLength},
		{"OPENAI_TIMEOUT_SECONDS", cfg.OpenAITimeoutSeconds},
		{"OPENAI_MAX_RETRIES", cfg.OpenAIMaxRetries},
	} {
		if check.value <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive integer", check.name)
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOrDefault(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
