package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/store"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Message encryption
	APISecret string
	KDFSalt   string

	// Storage
	StorageBackend string
	RedisURL       string
	DatabaseURL    string
	SQLitePath     string
	BadgerDir      string

	// Rate limiting
	RateLimitBackend   string // "memory" or "redis"
	RateLimitMax       int
	RateLimitWindow    time.Duration
	RegisterRateLimit  int
	RegisterRateWindow time.Duration
	TrustedIPs         []string // IPs or CIDRs exempt from the register limit

	// Access control
	Whitelist []string
	Blacklist []string

	// Messages
	MessageRetention time.Duration
	SweepInterval    time.Duration
	MaxBodyBytes     int64

	// Live notifications
	MQTTURL       string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	BrokerEnabled bool
	BrokerTCPAddr string
	BrokerWSAddr  string
}

// devSecret is only ever used outside production.
const devSecret = "openclaw-dev-secret-change-me"

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "3000"),
		Env:       getEnv("ENV", "development"),
		APISecret: os.Getenv("API_SECRET"),
		KDFSalt:   os.Getenv("KDF_SALT"),

		StorageBackend: getEnv("STORAGE_BACKEND", store.BackendMemory),
		RedisURL:       os.Getenv("REDIS_URL"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getEnv("SQLITE_PATH", "openclaw-hub.db"),
		BadgerDir:      getEnv("BADGER_DIR", "data/badger"),

		RateLimitBackend:   getEnv("RATE_LIMIT_BACKEND", "memory"),
		RateLimitMax:       getEnvInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RegisterRateLimit:  getEnvInt("REGISTER_RATE_LIMIT", 10),
		RegisterRateWindow: getEnvDuration("REGISTER_RATE_WINDOW", time.Hour),
		TrustedIPs:         getEnvList("RATE_LIMIT_WHITELIST"),

		Whitelist: getEnvList("WHITELIST"),
		Blacklist: getEnvList("BLACKLIST"),

		MessageRetention: getEnvDuration("MESSAGE_RETENTION", 7*24*time.Hour),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),
		MaxBodyBytes:     int64(getEnvInt("MAX_BODY_BYTES", 64*1024)),

		MQTTURL:       os.Getenv("MQTT_URL"),
		MQTTClientID:  os.Getenv("MQTT_CLIENT_ID"),
		MQTTUsername:  os.Getenv("MQTT_USERNAME"),
		MQTTPassword:  os.Getenv("MQTT_PASSWORD"),
		BrokerEnabled: getEnv("BROKER_ENABLED", "false") == "true",
		BrokerTCPAddr: getEnv("BROKER_TCP_ADDR", ":1883"),
		BrokerWSAddr:  getEnv("BROKER_WS_ADDR", ":8083"),
	}

	if cfg.Env == "production" {
		if cfg.APISecret == "" {
			panic("API_SECRET is required in production")
		}
		switch cfg.StorageBackend {
		case store.BackendRedis:
			if cfg.RedisURL == "" {
				panic("REDIS_URL is required for the redis backend")
			}
		case store.BackendPostgres:
			if cfg.DatabaseURL == "" {
				panic("DATABASE_URL is required for the postgres backend")
			}
		}
		if cfg.RateLimitBackend == "redis" && cfg.RedisURL == "" {
			panic("REDIS_URL is required for the redis rate limiter")
		}
	} else if cfg.APISecret == "" {
		cfg.APISecret = devSecret
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// StoreOptions returns the storage settings for store.Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:     c.StorageBackend,
		RedisURL:    c.RedisURL,
		DatabaseURL: c.DatabaseURL,
		SQLitePath:  c.SQLitePath,
		BadgerDir:   c.BadgerDir,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

// getEnvDuration accepts Go durations ("90s", "168h") or a bare number of milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// getEnvList parses a comma-separated list, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
