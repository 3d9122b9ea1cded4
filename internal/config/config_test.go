package config

import (
	"strings"
	"testing"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	t.Setenv("RELAY_TRANSPORT", "telegram")
	t.Setenv("RELAY_PROVIDER", "openai")
}

func TestLoad_Defaults(t *testing.T) {
	setupEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.MaxRequests != 10 {
		t.Fatalf("unexpected max requests: %d", cfg.MaxRequests)
	}
	if cfg.WindowSeconds != 60 {
		t.Fatalf("unexpected window: %d", cfg.WindowSeconds)
	}
	if cfg.MaxHistory != 5 {
		t.Fatalf("unexpected max history: %d", cfg.MaxHistory)
	}
	if cfg.SessionTimeoutSeconds != 3600 {
		t.Fatalf("unexpected session timeout: %d", cfg.SessionTimeoutSeconds)
	}
	if cfg.CleanupIntervalSeconds != 300 {
		t.Fatalf("unexpected cleanup interval: %d", cfg.CleanupIntervalSeconds)
	}
	if cfg.MaxMessageLength != 500 {
		t.Fatalf("unexpected max message length: %d", cfg.MaxMessageLength)
	}
	if cfg.TelegramAPIBase != "https://api.telegram.org/bottest-token" {
		t.Fatalf("unexpected api base: %s", cfg.TelegramAPIBase)
	}
}

func TestLoad_RequiresTelegramToken(t *testing.T) {
	setupEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected missing token error")
	}
	if !strings.Contains(err.Error(), "TELEGRAM_BOT_TOKEN") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoad_RequiresOpenAIKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected missing key error")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoad_RejectsMalformedOpenAIKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("OPENAI_API_KEY", "not-a-key")

	_, err := Load()
	if err == nil {
		t.Fatal("expected invalid key format error")
	}
	if !strings.Contains(err.Error(), "sk-") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoad_DummyNeedsNoCredentials(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("RELAY_TRANSPORT", "dummy")
	t.Setenv("RELAY_PROVIDER", "dummy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.DummyTransportScript != "ok" {
		t.Fatalf("unexpected dummy script: %s", cfg.DummyTransportScript)
	}
}

func TestLoad_ValidatesPositiveLimits(t *testing.T) {
	setupEnv(t)
	t.Setenv("RELAY_MAX_REQUESTS", "-1")

	_, err := Load()
	if err == nil {
		t.Fatal("expected invalid limit error")
	}
	if !strings.Contains(err.Error(), "RELAY_MAX_REQUESTS") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	setupEnv(t)
	t.Setenv("RELAY_MAX_HISTORY", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.MaxHistory != 5 {
		t.Fatalf("unexpected max history: %d", cfg.MaxHistory)
	}
}
