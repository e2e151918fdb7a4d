package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/upb/llm-orchestrator/config"
	"github.com/upb/llm-orchestrator/handlers"
	"github.com/upb/llm-orchestrator/internal/observability"
	"github.com/upb/llm-orchestrator/routes"
	"github.com/upb/llm-orchestrator/services/cache"
	"github.com/upb/llm-orchestrator/services/metrics"
	"github.com/upb/llm-orchestrator/services/orchestrator"
	"github.com/upb/llm-orchestrator/services/providers"
	"github.com/upb/llm-orchestrator/services/providers/anthropic"
	"github.com/upb/llm-orchestrator/services/providers/openai"
	"github.com/upb/llm-orchestrator/services/ratelimit"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("orchestrator exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Metrics sink: Postgres when configured, structured logs otherwise.
	var sink metrics.Sink
	var pgSink *metrics.PostgresSink
	if cfg.MetricsDB.URL != "" {
		db, err := sql.Open("postgres", cfg.MetricsDB.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			return err
		}

		pgSink = metrics.NewPostgresSink(db, logger, metrics.Config{
			BufferSize:  cfg.MetricsDB.BufferSize,
			WorkerCount: cfg.MetricsDB.WorkerCount,
		})
		if err := pgSink.Start(); err != nil {
			return err
		}
		defer pgSink.Stop(10 * time.Second)
		sink = pgSink
	} else {
		sink = metrics.NewZapSink(logger)
	}

	// Providers are registered unconditionally; a missing key fails fast
	// with NO_API_KEY instead of dropping the provider from the chain.
	registry := providers.NewRegistry()
	if err := registry.Register(openai.New(openai.Config{
		APIKey:       cfg.Providers.OpenAI.APIKey,
		BaseURL:      cfg.Providers.OpenAI.BaseURL,
		Timeout:      cfg.Providers.OpenAI.Timeout,
		MaxRetries:   cfg.Providers.OpenAI.MaxRetries,
		RetryBackoff: cfg.Providers.OpenAI.RetryBackoff,
	}, sink, logger.Named("openai"))); err != nil {
		return err
	}
	if err := registry.Register(anthropic.New(anthropic.Config{
		APIKey:       cfg.Providers.Anthropic.APIKey,
		BaseURL:      cfg.Providers.Anthropic.BaseURL,
		Timeout:      cfg.Providers.Anthropic.Timeout,
		MaxRetries:   cfg.Providers.Anthropic.MaxRetries,
		RetryBackoff: cfg.Providers.Anthropic.RetryBackoff,
	}, sink, logger.Named("anthropic"))); err != nil {
		return err
	}

	// Cache store: Redis when configured, in-memory LRU otherwise.
	var store orchestrator.CacheStore
	if cfg.Redis.Address != "" {
		redisStore, err := cache.NewRedisStore(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger.Named("cache"))
		if err != nil {
			return err
		}
		defer redisStore.Close()
		store = redisStore
		logger.Info("using redis cache store", zap.String("addr", cfg.Redis.Address))
	} else {
		store = cache.NewMemoryStore(1024, cfg.Orchestrator.CacheTTL)
		logger.Info("using in-memory cache store")
	}

	var limiter orchestrator.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.NewTokenBucketLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, logger.Named("ratelimit"))
	}

	weights := make([]orchestrator.ProviderWeight, len(cfg.Orchestrator.FallbackWeights))
	for i, pw := range cfg.Orchestrator.FallbackWeights {
		weights[i] = orchestrator.ProviderWeight{Provider: pw.Provider, Weight: pw.Weight}
	}

	svc := orchestrator.New(registry, orchestrator.Config{
		FailureThreshold: cfg.Orchestrator.FailureThreshold,
		RecoveryTimeout:  cfg.Orchestrator.RecoveryTimeout,
		Weights:          weights,
		CacheTTL:         cfg.Orchestrator.CacheTTL,
		RaceLimit:        cfg.Orchestrator.RaceLimit,
	}, store, limiter, sink, logger.Named("orchestrator"))

	handler := routes.Setup(handlers.NewGenerateHandler(svc, logger.Named("handlers")))

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator listening",
			zap.String("addr", srv.Addr),
			zap.Strings("providers", registry.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
