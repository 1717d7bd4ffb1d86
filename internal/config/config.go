package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAppName         = "CrestFund"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultBalanceTTL      = 30 * time.Second
	defaultHistoryTTL      = 60 * time.Second
	defaultTransferRate    = 10
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	balanceTTLEnvVar       = "BALANCE_CACHE_TTL"
	historyTTLEnvVar       = "HISTORY_CACHE_TTL"
	minTransferEnvVar      = "MIN_TRANSFER_AMOUNT"
	largeTransferEnvVar    = "LARGE_TRANSFER_THRESHOLD"
	transferRateEnvVar     = "TRANSFER_RATE_PER_MINUTE"
)

// Config captures application runtime configuration loaded from environment
// variables. Cache TTLs and transfer policy limits live here rather than at
// call sites.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// BalanceCacheTTL bounds staleness of single and aggregate balance reads.
	BalanceCacheTTL time.Duration
	// HistoryCacheTTL bounds staleness of transfer history reads.
	HistoryCacheTTL time.Duration
	// MinTransferAmount is the smallest transfer the validator accepts.
	MinTransferAmount decimal.Decimal
	// LargeTransferThreshold triggers an advisory warning, never a rejection.
	LargeTransferThreshold decimal.Decimal
	// TransferRatePerMinute caps transfer submissions per user.
	TransferRatePerMinute int
}

// Load reads configuration values from the environment and populates a
// Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:                getEnv("APP_NAME", defaultAppName),
		AppEnv:                 getEnv("APP_ENV", defaultAppEnv),
		Port:                   getEnv("PORT", defaultPort),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		ShutdownPeriod:         defaultShutdownDelay,
		IdempotencyTTL:         defaultIdempotencyTTL,
		BalanceCacheTTL:        defaultBalanceTTL,
		HistoryCacheTTL:        defaultHistoryTTL,
		MinTransferAmount:      decimal.NewFromInt(1),
		LargeTransferThreshold: decimal.NewFromInt(10000),
		TransferRatePerMinute:  defaultTransferRate,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	var err error
	if cfg.BalanceCacheTTL, err = durationEnv(balanceTTLEnvVar, cfg.BalanceCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.HistoryCacheTTL, err = durationEnv(historyTTLEnvVar, cfg.HistoryCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.MinTransferAmount, err = decimalEnv(minTransferEnvVar, cfg.MinTransferAmount); err != nil {
		return Config{}, err
	}
	if cfg.LargeTransferThreshold, err = decimalEnv(largeTransferEnvVar, cfg.LargeTransferThreshold); err != nil {
		return Config{}, err
	}

	if v := os.Getenv(transferRateEnvVar); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", transferRateEnvVar, err)
		}
		cfg.TransferRatePerMinute = rate
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a development-style environment where
// in-memory fallbacks are permitted.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func decimalEnv(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
