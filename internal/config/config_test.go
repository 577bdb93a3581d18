package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "STORAGE_BACKEND", "LLM_PROVIDER", "AVAILABILITY_MARGIN", "TURN_RETRY_DELAY", "COST_CURRENCY", "FEWSHOT_TOKEN_BUDGET"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.StorageBackend != "postgres" || cfg.UsesMemoryStorage() {
		t.Fatalf("expected postgres storage by default, got %s", cfg.StorageBackend)
	}
	if cfg.LLMProvider != "openai_chat" {
		t.Fatalf("expected default provider, got %s", cfg.LLMProvider)
	}
	if cfg.AvailabilityMargin != time.Hour {
		t.Fatalf("expected 60m margin, got %s", cfg.AvailabilityMargin)
	}
	if cfg.TurnRetryDelay != time.Second {
		t.Fatalf("expected 1s retry delay, got %s", cfg.TurnRetryDelay)
	}
	if cfg.CostCurrency != "BRL" {
		t.Fatalf("expected BRL, got %s", cfg.CostCurrency)
	}
	if cfg.FewShotTokenBudget != 1200 {
		t.Fatalf("expected 1200 token budget, got %d", cfg.FewShotTokenBudget)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("STORAGE_BACKEND", " Memory ")
	t.Setenv("LLM_PROVIDER", "Bedrock")
	t.Setenv("LLM_FALLBACK_PROVIDER", "gemini")
	t.Setenv("AVAILABILITY_MARGIN", "90m")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("USD_EXCHANGE_RATE", "5.43")
	t.Setenv("COST_CURRENCY", "usd")
	t.Setenv("RATE_LIMIT_BURST", "25")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("FEWSHOT_TOKEN_BUDGET", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://sorriso.com.br, ,https://app.sorriso.com.br")
	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "production" {
		t.Fatalf("unexpected port/env %s/%s", cfg.Port, cfg.Env)
	}
	if !cfg.UsesMemoryStorage() {
		t.Fatalf("expected memory storage, got %q", cfg.StorageBackend)
	}
	if cfg.LLMProvider != "bedrock" || cfg.LLMFallbackProvider != "gemini" {
		t.Fatalf("unexpected providers %s/%s", cfg.LLMProvider, cfg.LLMFallbackProvider)
	}
	if cfg.AvailabilityMargin != 90*time.Minute || cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected durations %s/%s", cfg.AvailabilityMargin, cfg.SessionTTL)
	}
	if cfg.USDExchangeRate != 5.43 || cfg.CostCurrency != "USD" {
		t.Fatalf("unexpected cost settings %v %s", cfg.USDExchangeRate, cfg.CostCurrency)
	}
	if cfg.RateLimitBurst != 25 || !cfg.RedisTLS {
		t.Fatalf("unexpected burst/tls %d/%v", cfg.RateLimitBurst, cfg.RedisTLS)
	}
	if cfg.FewShotTokenBudget != 1200 {
		t.Fatalf("invalid int must fall back to default, got %d", cfg.FewShotTokenBudget)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://app.sorriso.com.br" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
}
