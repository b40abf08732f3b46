package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP event publishing; empty URL disables it.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Price feed
	PriceFeedBaseURL string
	PriceTimeout     time.Duration
	PriceParallelism int

	// Cron expressions (second-resolution, robfig/cron format).
	// Defaults stagger the three jobs across the night.
	PricesCronSpec     string
	RecurrenceCronSpec string
	AutoReloadCronSpec string
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledger.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		PriceFeedBaseURL: getEnv("PRICE_FEED_BASE_URL", ""),
		PriceTimeout:     getEnvDuration("PRICE_TIMEOUT", 10*time.Second),
		PriceParallelism: getEnvInt("PRICE_PARALLELISM", 4),

		PricesCronSpec:     getEnv("PRICES_CRON", "0 0 2 * * *"),
		RecurrenceCronSpec: getEnv("RECURRENCE_CRON", "0 0 3 * * *"),
		AutoReloadCronSpec: getEnv("AUTORELOAD_CRON", "0 0 4 * * *"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.PriceTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("invalid price timeout %v: must be at least 1 second", c.PriceTimeout))
	}
	if c.PriceParallelism < 1 {
		errs = append(errs, fmt.Sprintf("invalid price parallelism %d: must be at least 1", c.PriceParallelism))
	} else if c.PriceParallelism > 64 {
		errs = append(errs, fmt.Sprintf("invalid price parallelism %d: must be at most 64", c.PriceParallelism))
	}

	for name, spec := range map[string]string{
		"PRICES_CRON":     c.PricesCronSpec,
		"RECURRENCE_CRON": c.RecurrenceCronSpec,
		"AUTORELOAD_CRON": c.AutoReloadCronSpec,
	} {
		if _, err := cron.Parse(spec); err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s '%s': %v", name, spec, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
