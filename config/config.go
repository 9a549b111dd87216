// Package config centralises environment configuration for the service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything main needs to wire the service together.
type Config struct {
	Debug bool

	StorageConnectionString string
	TasksTable              string
	ItemsTable              string
	SettingsTable           string
	CommandQueue            string
	TaskPageSize            int

	RedisConnectionString string
	DeduperTTL            time.Duration
	CacheTTL              time.Duration
	UpdateChannel         string
	WorkerPollInterval    time.Duration

	// IdPTestMode accepts HS256 tokens signed with TestJWTSecret instead of
	// fetching a JWKS. Never enable outside local development.
	IdPTestMode   bool
	TestJWTSecret string
	Audience      string
	IdPDomain     string
	JWKSCacheTTL  time.Duration

	ListenAddr string
}

// Load reads configuration from the environment. Required variables with no
// usable default produce an error rather than a partial config.
func Load() (*Config, error) {
	cfg := &Config{
		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:              os.Getenv("TASKS_TABLE"),
		ItemsTable:              os.Getenv("ITEMS_TABLE"),
		SettingsTable:           os.Getenv("SETTINGS_TABLE"),
		CommandQueue:            os.Getenv("COMMAND_QUEUE"),
		RedisConnectionString:   os.Getenv("REDIS_CONNECTION_STRING"),
		UpdateChannel:           getEnv("UPDATE_CHANNEL", "board-updates"),
		Audience:                os.Getenv("IDP_AUDIENCE"),
		IdPDomain:               os.Getenv("IDP_DOMAIN"),
		ListenAddr:              ":" + getEnv("PORT", "8080"),
	}

	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil {
		cfg.Debug = dbg
	}
	switch mode := os.Getenv("LOCAL_AUTH_MODE"); mode {
	case "":
		if os.Getenv("IDP_TEST_MODE") == "1" {
			cfg.IdPTestMode = true
			cfg.TestJWTSecret = os.Getenv("TEST_JWT_SECRET")
		}
	case "hs256":
		cfg.IdPTestMode = true
		cfg.TestJWTSecret = os.Getenv("LOCAL_AUTH_SHARED_SECRET")
	default:
		return nil, fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", mode)
	}

	if cfg.StorageConnectionString == "" || cfg.TasksTable == "" || cfg.ItemsTable == "" ||
		cfg.SettingsTable == "" || cfg.CommandQueue == "" {
		return nil, fmt.Errorf("missing storage config")
	}
	if cfg.RedisConnectionString == "" {
		return nil, fmt.Errorf("missing redis config")
	}
	if cfg.IdPTestMode {
		if cfg.TestJWTSecret == "" {
			return nil, fmt.Errorf("test auth mode requires a shared secret")
		}
	} else if cfg.Audience == "" || cfg.IdPDomain == "" {
		return nil, fmt.Errorf("missing identity provider config")
	}

	var err error
	if cfg.TaskPageSize, err = getEnvInt("TASKS_PAGE_SIZE", 30); err != nil {
		return nil, err
	}
	if cfg.DeduperTTL, err = getEnvDuration("DEDUPER_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getEnvDuration("CACHE_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.WorkerPollInterval, err = getEnvDuration("WORKER_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.JWKSCacheTTL, err = getEnvDuration("JWKS_CACHE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}

	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		cfg.ListenAddr = ":" + val
	}

	return cfg, nil
}

// JWKSURL returns the identity provider's key discovery endpoint.
func (c *Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.IdPDomain)
}

// Issuer returns the expected iss claim for tokens from the identity provider.
func (c *Config) Issuer() string {
	return "https://" + c.IdPDomain + "/"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
