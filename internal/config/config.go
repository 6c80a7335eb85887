// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Quote provider names accepted in QUOTE_PROVIDER.
const (
	ProviderSynthetic = "synthetic"
	ProviderYahoo     = "yahoo"
)

// Config holds application configuration
type Config struct {
	Port             string
	DatabaseURL      string // empty selects the in-memory store
	RedisURL         string // optional session cache in front of Postgres
	CacheTTL         time.Duration
	StartingCash     decimal.Decimal
	QuoteProvider    string
	QuoteTimeout     time.Duration
	QuoteSeed        int64
	SampleLimit      int
	DividendSchedule string // cron spec, empty disables the job
	CORSOrigins      []string
	LogLevel         string
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from environment variables only.
func FromEnv() (*Config, error) {
	startingCash, err := getEnvAsDecimal("STARTING_CASH", decimal.Zero)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		CacheTTL:         getEnvAsDuration("CACHE_TTL", 30*time.Second),
		StartingCash:     startingCash,
		QuoteProvider:    strings.ToLower(getEnv("QUOTE_PROVIDER", ProviderSynthetic)),
		QuoteTimeout:     getEnvAsDuration("QUOTE_TIMEOUT", 5*time.Second),
		QuoteSeed:        int64(getEnvAsInt("QUOTE_SEED", int(time.Now().UnixNano()%1_000_000_007))),
		SampleLimit:      getEnvAsInt("SAMPLE_LIMIT", 500),
		DividendSchedule: getEnv("DIVIDEND_SCHEDULE", "@daily"),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.StartingCash.IsNegative() {
		return fmt.Errorf("STARTING_CASH must not be negative, got %s", c.StartingCash)
	}
	switch c.QuoteProvider {
	case ProviderSynthetic, ProviderYahoo:
	default:
		return fmt.Errorf("QUOTE_PROVIDER must be %q or %q, got %q", ProviderSynthetic, ProviderYahoo, c.QuoteProvider)
	}
	if c.SampleLimit <= 0 {
		return fmt.Errorf("SAMPLE_LIMIT must be positive, got %d", c.SampleLimit)
	}
	if c.DividendSchedule != "" {
		if _, err := cron.ParseStandard(c.DividendSchedule); err != nil {
			return fmt.Errorf("invalid DIVIDEND_SCHEDULE %q: %w", c.DividendSchedule, err)
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
