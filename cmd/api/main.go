package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/memrepo"
	"server/internal/adapter/redisrepo"
	"server/internal/adapter/repo"
	"server/internal/callback"
	"server/internal/catalog"
	"server/internal/domain"
	"server/internal/generation"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/infra/geoip"
	"server/internal/middleware"
	"server/internal/payment"
	"server/internal/providers/replicate"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		requests  domain.GenerationStore
		intents   domain.IntentStore
		callbacks domain.CallbackStore
	)

	providerAPIKey := strings.TrimSpace(cfg.ProviderAPIKey)
	paymentAPIKey := strings.TrimSpace(cfg.PaymentAPIKey)

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		requests = repo.NewGenerationRepository(pool)
		intents = repo.NewIntentRepository(pool)

		credStore := credentials.NewStore(infra.NewSQLRunner(pool, logger))
		if providerAPIKey == "" {
			if key, err := credStore.ProviderAPIKey(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to load provider api key from store")
			} else {
				providerAPIKey = key
			}
		}
		if paymentAPIKey == "" {
			if key, err := credStore.PaymentAPIKey(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to load payment api key from store")
			} else {
				paymentAPIKey = key
			}
		}
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		requests = memrepo.NewGenerationStore()
		intents = memrepo.NewIntentStore()
	}

	if cfg.RedisURL != "" {
		redisStore, err := redisrepo.NewCallbackStore(ctx, cfg.RedisURL, cfg.CallbackRecordTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer redisStore.Close()
		callbacks = redisStore
	} else {
		logger.Warn().Msg("REDIS_URL not set, keeping callback records in memory")
		callbacks = memrepo.NewCallbackStore(cfg.CallbackRecordTTL)
	}

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		cat, err = catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("failed to load model catalog")
		}
	}

	provider, err := replicate.NewClient(replicate.Options{
		APIKey:     providerAPIKey,
		BaseURL:    cfg.ProviderBaseURL,
		WebhookURL: cfg.ProviderWebhookURL,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure provider client")
	}
	if !provider.HasCredentials() {
		logger.Warn().Msg("provider api key missing, dispatch will fail until configured")
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

	correlator := callback.NewCorrelator(callbacks, logger)
	orchestrator := generation.NewOrchestrator(generation.Options{
		Catalog:    cat,
		Gate:       gate,
		Dispatcher: generation.NewDispatcher(provider, cfg.DispatchMaxAttempts, cfg.DispatchBackoff),
		Requests:   requests,
		Correlator: correlator,
		ResultTTL:  cfg.ResultTTL,
		Logger:     logger,
	})

	var countryLookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip resolver unavailable")
	} else if resolver != nil {
		countryLookup = resolver.CountryCode
	}

	app := &handlers.App{
		Logger:       logger,
		Orchestrator: orchestrator,
		Correlator:   correlator,
		Catalog:      cat,
		Requests:     requests,
		Currency:     cfg.PaymentCurrency,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AdminToken:      cfg.AdminToken,
		CountryLookup:   countryLookup,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
