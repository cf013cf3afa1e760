package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"budget/internal/core"
)

type Config struct {
	// HTTP Server
	Port string `yaml:"port"`

	// Storage
	DataBackend  string `yaml:"data_backend"`
	SQLiteDBPath string `yaml:"sqlite_db_path"`

	// AMQP, optional
	AMQPURL           string `yaml:"amqp_url"`
	AMQPExchange      string `yaml:"amqp_exchange"`
	AMQPStatusQueue   string `yaml:"amqp_status_queue"`
	AMQPPurchaseQueue string `yaml:"amqp_purchase_queue"`

	// Entitlement
	PremiumProductID string `yaml:"premium_product_id"`

	// Ledger
	LowMoneyWarning  string        `yaml:"low_money_warning"`
	BalanceCacheSize int           `yaml:"balance_cache_size"`
	BalanceCacheTTL  time.Duration `yaml:"balance_cache_ttl"`

	LogLevel string `yaml:"log_level"`
}

// Load reads the configuration from the environment, then overlays the
// YAML file named by BUDGET_CONFIG if set.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/budget.db"),

		AMQPURL:           getEnv("AMQP_URL", ""),
		AMQPExchange:      getEnv("AMQP_EXCHANGE", "budget"),
		AMQPStatusQueue:   getEnv("AMQP_STATUS_QUEUE", "entitlement_status"),
		AMQPPurchaseQueue: getEnv("AMQP_PURCHASE_QUEUE", "purchase_results"),

		PremiumProductID: getEnv("PREMIUM_PRODUCT_ID", "premium"),

		LowMoneyWarning:  getEnv("LOW_MONEY_WARNING", "100"),
		BalanceCacheSize: getEnvInt("BALANCE_CACHE_SIZE", 256),
		BalanceCacheTTL:  getEnvDuration("BALANCE_CACHE_TTL", 10*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("BUDGET_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// LowMoneyWarningCents returns the low-money threshold in cents.
func (c *Config) LowMoneyWarningCents() (int64, error) {
	return core.ParseSignedDecimalToCents(c.LowMoneyWarning)
}

// AMQPEnabled reports whether an AMQP broker is configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPStatusQueue == "" || c.AMQPPurchaseQueue == "" {
			errors = append(errors, "AMQP status and purchase queue names cannot be empty when AMQP URL is provided")
		} else if c.AMQPStatusQueue == c.AMQPPurchaseQueue {
			errors = append(errors, "AMQP status and purchase queues must differ")
		}
	}

	if strings.TrimSpace(c.PremiumProductID) == "" {
		errors = append(errors, "premium product id cannot be empty")
	}

	if _, err := c.LowMoneyWarningCents(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid low money warning '%s': must be a decimal amount", c.LowMoneyWarning))
	}

	if c.BalanceCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid balance cache size %d: must be at least 1", c.BalanceCacheSize))
	}
	if c.BalanceCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid balance cache ttl %v: must not be negative", c.BalanceCacheTTL))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
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
