package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Storage
	Store       string // postgres, mongo, sqlite or memory
	DatabaseURL string
	MongoURL    string
	MongoDB     string
	SQLitePath  string
	RedisURL    string
	SeedFile    string // optional YAML directory snapshot

	// Events
	AMQPURL      string
	AMQPExchange string

	// Security
	JWTSecret            string
	// MessageEncryptionKey is 64 hex characters. A deployment moving from the
	// previous service sets it to the hex encoding of the old 32-character
	// key so rows written under that key keep decoding.
	MessageEncryptionKey string
	AllowEphemeralKey    bool // development only

	RequestTimeout time.Duration

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present. CONFIG_FILE may name a
// YAML file whose keys provide defaults; environment variables win.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	file, err := readFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		panic(err)
	}
	get := func(key, defaultValue string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		if value, ok := file[key]; ok && value != "" {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		Port:                 get("PORT", "8080"),
		Env:                  get("ENV", "development"),
		Store:                get("STORE", ""),
		DatabaseURL:          get("DATABASE_URL", ""),
		MongoURL:             get("MONGO_URL", ""),
		MongoDB:              get("MONGO_DB", "teamchat"),
		SQLitePath:           get("SQLITE_PATH", ""),
		RedisURL:             get("REDIS_URL", ""),
		SeedFile:             get("SEED_FILE", ""),
		AMQPURL:              get("AMQP_URL", ""),
		AMQPExchange:         get("AMQP_EXCHANGE", "teamchat.events"),
		JWTSecret:            get("JWT_SECRET", ""),
		MessageEncryptionKey: get("MESSAGE_ENCRYPTION_KEY", ""),
		AllowEphemeralKey:    get("ALLOW_EPHEMERAL_KEY", "false") == "true",
		AutoBlockEnabled:     get("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	cfg.RequestTimeout, err = time.ParseDuration(get("REQUEST_TIMEOUT", "10s"))
	if err != nil {
		panic(fmt.Sprintf("invalid REQUEST_TIMEOUT: %v", err))
	}

	if cfg.Store == "" {
		cfg.Store = defaultStore(cfg)
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := get("RATE_LIMIT_WHITELIST", ""); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require a real store, redis and both secrets
	if cfg.IsProduction() {
		if cfg.Store == "memory" {
			panic("a persistent STORE is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
		if cfg.MessageEncryptionKey == "" {
			panic("MESSAGE_ENCRYPTION_KEY is required in production")
		}
	}

	return cfg
}

// Validate reports configuration that is inconsistent rather than missing.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("STORE=postgres needs DATABASE_URL"))
		}
	case "mongo":
		if c.MongoURL == "" {
			errs = append(errs, errors.New("STORE=mongo needs MONGO_URL"))
		}
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE %q", c.Store))
	}
	if c.MessageEncryptionKey != "" && len(c.MessageEncryptionKey) != 64 {
		errs = append(errs, errors.New("MESSAGE_ENCRYPTION_KEY must be 64 hex characters"))
	}
	if c.MessageEncryptionKey == "" && !(c.AllowEphemeralKey && c.IsDevelopment()) {
		errs = append(errs, errors.New("MESSAGE_ENCRYPTION_KEY is required (ALLOW_EPHEMERAL_KEY=true is accepted in development only)"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// defaultStore picks the first backend with connection details.
func defaultStore(c *Config) string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.MongoURL != "":
		return "mongo"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// readFile loads flat KEY: value pairs from a YAML file.
func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
	}
	return values, nil
}
