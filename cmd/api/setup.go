package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-assistant/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-assistant/internal/archive"
	"github.com/wolfman30/clinic-booking-assistant/internal/bookings"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// storage bundles the persistence backends selected by STORAGE_BACKEND.
type storage struct {
	repo     bookings.Repository
	sessions session.Store
	turns    conversation.TurnStore
	clinics  clinic.Source
	closers  []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setupMetrics() (http.Handler, *metrics.ChatMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewChatMetrics(reg)
}

// defaultClinic is served when no clinic document has been stored yet.
func defaultClinic(cfg *appconfig.Config) *clinic.Config {
	c := clinic.DefaultConfig(cfg.ClinicID)
	if cfg.ClinicTimezone != "" {
		c.Timezone = cfg.ClinicTimezone
	}
	return c
}

func setupMemoryStorage(cfg *appconfig.Config, logger *logging.Logger) *storage {
	logger.Warn("using in-memory storage; data is lost on restart")
	return &storage{
		repo:     bookings.NewMemoryRepository(bookings.DefaultWeeklyTemplates()),
		sessions: session.NewMemoryStore(cfg.SessionTTL),
		turns:    conversation.NewMemoryTurnStore(),
		clinics:  clinic.NewStaticSource(defaultClinic(cfg)),
	}
}

func setupPersistentStorage(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*storage, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for %q storage", cfg.StorageBackend)
	}
	st := &storage{}

	pool, err := connectPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, pool.Close)
	st.repo = bookings.NewPostgresRepository(pool)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open sql db: %w", err)
	}
	st.closers = append(st.closers, func() { _ = db.Close() })
	st.turns = conversation.NewSQLTurnStore(db)

	redisClient := connectRedis(cfg)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		st.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	st.closers = append(st.closers, func() { _ = redisClient.Close() })
	st.sessions = session.NewRedisStore(redisClient, cfg.SessionTTL)

	store := clinic.NewStore(redisClient)
	if _, err := store.Get(ctx, cfg.ClinicID); err != nil {
		logger.Warn("clinic config not readable, serving defaults", "clinic_id", cfg.ClinicID, "error", err)
	}
	st.clinics = store

	logger.Info("persistent storage connected", "redis_addr", cfg.RedisAddr)
	return st, nil
}

func connectPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func connectRedis(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// setupFewShot wires the S3 corpus (when a bucket is configured) and the tagged turns into
// a token-bounded example builder.
func setupFewShot(ctx context.Context, cfg *appconfig.Config, turns conversation.TurnStore, logger *logging.Logger) *conversation.FewShotBuilder {
	var corpus conversation.CorpusSource
	if cfg.FewShotS3Bucket != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Warn("few-shot corpus disabled: aws config", "error", err)
		} else {
			corpus = archive.NewCorpusStore(s3.NewFromConfig(awsCfg), cfg.FewShotS3Bucket, cfg.FewShotS3Key, logger.Slog())
		}
	}

	counter, err := conversation.NewTiktokenCounter()
	if err != nil {
		logger.Warn("tiktoken unavailable, estimating tokens from length", "error", err)
		counter = nil
	}
	return conversation.NewFewShotBuilder(corpus, turns, counter, cfg.FewShotTokenBudget, logger)
}

func setupCostEstimator(cfg *appconfig.Config, logger *logging.Logger) *conversation.CostEstimator {
	rates := conversation.StaticRates{cfg.CostCurrency: cfg.USDExchangeRate}
	return conversation.NewCostEstimator(cfg.LLMInputUSDPerMTok, cfg.LLMOutputUSDPerMTok, cfg.CostCurrency, rates, logger)
}
