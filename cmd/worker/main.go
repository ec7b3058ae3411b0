package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/memrepo"
	"server/internal/adapter/redisrepo"
	"server/internal/adapter/repo"
	"server/internal/callback"
	"server/internal/catalog"
	"server/internal/domain"
	"server/internal/generation"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/payment"
	"server/internal/providers/replicate"
)

// The worker advances in-flight requests on a ticker so payment expiry,
// dispatch retries, and result timeouts fire even when no client polls.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required")
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	requests := repo.NewGenerationRepository(pool)
	intents := repo.NewIntentRepository(pool)

	var callbacks domain.CallbackStore
	if cfg.RedisURL != "" {
		redisStore, err := redisrepo.NewCallbackStore(ctx, cfg.RedisURL, cfg.CallbackRecordTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: redis connection failed")
		}
		defer redisStore.Close()
		callbacks = redisStore
	} else {
		logger.Warn().Msg("worker: REDIS_URL not set, keeping callback records in memory")
		callbacks = memrepo.NewCallbackStore(cfg.CallbackRecordTTL)
	}

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		cat, err = catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("worker: failed to load model catalog")
		}
	}

	credStore := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	providerAPIKey := strings.TrimSpace(cfg.ProviderAPIKey)
	if providerAPIKey == "" {
		if key, err := credStore.ProviderAPIKey(ctx); err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load provider api key from store")
		} else {
			providerAPIKey = key
		}
	}
	paymentAPIKey := strings.TrimSpace(cfg.PaymentAPIKey)
	if paymentAPIKey == "" {
		if key, err := credStore.PaymentAPIKey(ctx); err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load payment api key from store")
		} else {
			paymentAPIKey = key
		}
	}

	provider, err := replicate.NewClient(replicate.Options{
		APIKey:     providerAPIKey,
		BaseURL:    cfg.ProviderBaseURL,
		WebhookURL: cfg.ProviderWebhookURL,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure provider client")
	}

	gate := payment.NewGate(payment.GateOptions{
		Client: payment.NewClient(payment.Options{
			BaseURL: cfg.PaymentBaseURL,
			APIKey:  paymentAPIKey,
		}),
		Intents:  intents,
		Policy:   payment.NewModelAllowlist(cfg.PaymentExemptModels),
		Currency: cfg.PaymentCurrency,
		TTL:      cfg.PaymentIntentTTL,
		Logger:   logger,
	})

	orchestrator := generation.NewOrchestrator(generation.Options{
		Catalog:    cat,
		Gate:       gate,
		Dispatcher: generation.NewDispatcher(provider, cfg.DispatchMaxAttempts, cfg.DispatchBackoff),
		Requests:   requests,
		Correlator: callback.NewCorrelator(callbacks, logger),
		ResultTTL:  cfg.ResultTTL,
		Logger:     logger,
	})

	logger.Info().Dur("interval", cfg.SweepInterval).Msg("worker: started")
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker: stopped")
			return
		case <-ticker.C:
			if err := orchestrator.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("worker: sweep failed")
			}
		}
	}
}
