package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

func TestSetupMetricsExposesChatMetrics(t *testing.T) {
	handler, chatMetrics := setupMetrics()
	if handler == nil || chatMetrics == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	chatMetrics.ObserveTurn("reply")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "clinic_chat_turns_total") {
		t.Fatalf("expected turn counter to be exported")
	}
}

func TestSetupMemoryStorage(t *testing.T) {
	cfg := &appconfig.Config{ClinicID: "sorriso", ClinicTimezone: "America/Recife"}
	st := setupMemoryStorage(cfg, logging.New("error"))
	defer st.Close()

	if st.repo == nil || st.sessions == nil || st.turns == nil || st.clinics == nil {
		t.Fatalf("expected every backend wired, got %+v", st)
	}
	clinicCfg, err := st.clinics.Get(context.Background(), "sorriso")
	if err != nil {
		t.Fatalf("get clinic: %v", err)
	}
	if clinicCfg.Timezone != "America/Recife" {
		t.Fatalf("expected timezone from env, got %q", clinicCfg.Timezone)
	}
}

func TestSetupPersistentStorageRequiresDatabaseURL(t *testing.T) {
	cfg := &appconfig.Config{StorageBackend: "postgres"}
	if _, err := setupPersistentStorage(context.Background(), cfg, logging.New("error")); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestSetupCostEstimatorUsesConfiguredRate(t *testing.T) {
	cfg := &appconfig.Config{
		LLMInputUSDPerMTok:  3,
		LLMOutputUSDPerMTok: 15,
		CostCurrency:        "BRL",
		USDExchangeRate:     5,
	}
	cost := setupCostEstimator(cfg, logging.New("error")).Estimate(context.Background(), conversation.TokenUsage{InputTokens: 100, OutputTokens: 20})
	if cost.Currency != "BRL" || cost.Amount != 0.003 {
		t.Fatalf("unexpected cost %+v", cost)
	}
}

func TestSetupFewShotWithoutBucket(t *testing.T) {
	turns := conversation.NewMemoryTurnStore()
	builder := setupFewShot(context.Background(), &appconfig.Config{FewShotTokenBudget: 200}, turns, logging.New("error"))
	if builder == nil {
		t.Fatalf("expected builder")
	}
	if got := builder.Build(context.Background()); got != "" {
		t.Fatalf("expected empty block without examples, got %q", got)
	}
}
