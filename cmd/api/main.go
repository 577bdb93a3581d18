package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-booking-assistant/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-assistant/internal/api/router"
	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/bookings"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	httpmiddleware "github.com/wolfman30/clinic-booking-assistant/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-assistant/internal/identity"
	"github.com/wolfman30/clinic-booking-assistant/internal/webchat"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic booking assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"storage", cfg.StorageBackend,
		"llm_provider", cfg.LLMProvider,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, chatMetrics := setupMetrics()

	// Initialize repositories and services
	var store *storage
	if cfg.UsesMemoryStorage() {
		store = setupMemoryStorage(cfg, logger)
	} else {
		var err error
		if store, err = setupPersistentStorage(ctx, cfg, logger); err != nil {
			return err
		}
	}
	defer store.Close()

	loc := defaultClinic(cfg).Location()
	calc := availability.NewCalculator(store.repo,
		availability.WithLocation(loc),
		availability.WithMargin(cfg.AvailabilityMargin),
	)
	bookingService := bookings.NewService(store.repo, calc, logger, chatMetrics)

	llm, closeLLM, err := mainconfig.BuildLLMClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}
	defer func() {
		if err := closeLLM(); err != nil {
			logger.Warn("failed to close llm client", "error", err)
		}
	}()

	orchestrator, err := conversation.NewOrchestrator(conversation.OrchestratorDeps{
		LLM:       llm,
		Tools:     conversation.NewToolRegistry(bookingService),
		Sessions:  store.sessions,
		Turns:     store.turns,
		Clinics:   store.clinics,
		Extractor: identity.NewHeuristic(),
		FewShot:   setupFewShot(ctx, cfg, store.turns, logger),
		Cost:      setupCostEstimator(cfg, logger),
		Metrics:   chatMetrics,
		Logger:    logger,
	}, conversation.OrchestratorConfig{
		ClinicID: cfg.ClinicID,
		// Each adapter applies its own configured model, so a fallback provider never
		// receives the primary's model name.
		Model:          "",
		TurnRetryDelay: cfg.TurnRetryDelay,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	// Setup router
	r := router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(orchestrator, store.turns, logger),
		ClinicHandler:       clinic.NewHandler(store.clinics, cfg.ClinicID, logger),
		WebChatHandler:      webchat.NewHandler(orchestrator, store.turns, logger),
		MetricsHandler:      metricsHandler,
		Metrics:             chatMetrics,
		RateLimiter:         limiter,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	// Create HTTP server. WriteTimeout covers a full turn including retries.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * conversation.DefaultResponseTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
