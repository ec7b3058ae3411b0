package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// DatabaseURL is optional: when empty the service falls back to
	// in-memory stores, which only suits local development.
	DatabaseURL string
	// RedisURL backs the callback record store; empty falls back to the
	// in-memory store.
	RedisURL string

	CatalogPath string

	ProviderBaseURL    string
	ProviderAPIKey     string
	ProviderWebhookURL string

	PaymentBaseURL      string
	PaymentAPIKey       string
	PaymentCurrency     string
	PaymentIntentTTL    time.Duration
	PaymentExemptModels []string

	DispatchMaxAttempts int
	DispatchBackoff     time.Duration
	ResultTTL           time.Duration
	CallbackRecordTTL   time.Duration
	SweepInterval       time.Duration

	AdminToken     string
	GeoIPDBPath    string
	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		CatalogPath:         os.Getenv("CATALOG_PATH"),
		ProviderBaseURL:     getEnv("PROVIDER_BASE_URL", "https://api.replicate.com"),
		ProviderAPIKey:      os.Getenv("PROVIDER_API_KEY"),
		ProviderWebhookURL:  os.Getenv("PROVIDER_WEBHOOK_URL"),
		PaymentBaseURL:      getEnv("PAYMENT_BASE_URL", "https://facilitator.x402.org"),
		PaymentAPIKey:       os.Getenv("PAYMENT_API_KEY"),
		PaymentCurrency:     getEnv("PAYMENT_CURRENCY", "USDC"),
		PaymentIntentTTL:    getEnvDuration("PAYMENT_INTENT_TTL", 15*time.Minute),
		PaymentExemptModels: splitList(os.Getenv("PAYMENT_EXEMPT_MODELS")),
		DispatchMaxAttempts: getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBackoff:     getEnvDuration("DISPATCH_BACKOFF", 2*time.Second),
		ResultTTL:           getEnvDuration("RESULT_TTL", 30*time.Minute),
		CallbackRecordTTL:   getEnvDuration("CALLBACK_RECORD_TTL", 24*time.Hour),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", 5*time.Second),
		AdminToken:          os.Getenv("ADMIN_TOKEN"),
		GeoIPDBPath:         os.Getenv("GEOIP_DB_PATH"),
		AllowedOrigins:      splitList(os.Getenv("ALLOWED_ORIGINS")),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.PaymentIntentTTL <= 0 {
		return nil, fmt.Errorf("PAYMENT_INTENT_TTL must be positive")
	}

	if cfg.DispatchMaxAttempts <= 0 {
		return nil, fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
