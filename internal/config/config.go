package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQLitePath string

	MongoURI    string
	MongoDBName string

	KafkaBrokers []string

	APIBaseURL string
	CatalogTTL time.Duration

	CartStorageKey string
	CartMaxAge     time.Duration
	PickupAddress  string

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment, after loading an
// optional .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		SQLitePath: getEnv("SQLITE_PATH", "./cart.db"),

		MongoURI:    getEnv("MONGO_URI", ""),
		MongoDBName: getEnv("MONGO_DB_NAME", "cart_db"),

		KafkaBrokers: getEnvAsSlice("KAFKA_BROKERS", nil),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8000"),
		CatalogTTL: getEnvAsDuration("CATALOG_TTL", time.Minute),

		CartStorageKey: getEnv("CART_STORAGE_KEY", "fanfantulpan_cart"),
		CartMaxAge:     getEnvAsDuration("CART_MAX_AGE", 24*time.Hour),
		PickupAddress:  getEnv("PICKUP_ADDRESS", "г. Тюмень ул. Пермякова, 62"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return errors.New("HTTP_PORT is required")
	}
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	if c.CartStorageKey == "" {
		return errors.New("CART_STORAGE_KEY is required")
	}
	if strings.TrimSpace(c.PickupAddress) == "" {
		return errors.New("PICKUP_ADDRESS is required")
	}
	if c.CartMaxAge <= 0 {
		return errors.New("CART_MAX_AGE must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
