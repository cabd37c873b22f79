package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the conversation service.
// Environment variables are automatically parsed from the BILLIE_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage: sqlite (embedded, WAL) or postgres
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/billie.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Language model
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4.1"`

	// Legacy utility backend (SOAP)
	AlertsURL      string `envconfig:"ALERTS_URL" default:"https://testv3.myusage.com/v3/soap/alerts"`
	AlertsUser     string `envconfig:"ALERTS_USER" default:""`
	AlertsPassword string `envconfig:"ALERTS_PWD" default:""`
	UsageURL       string `envconfig:"USAGE_URL" default:"https://api.myusage.com/test/2/Data"`
	UsageUser      string `envconfig:"USAGE_USER" default:""`
	UsagePassword  string `envconfig:"USAGE_PWD" default:""`

	// Address validation
	AddressValidationURL string `envconfig:"ADDRESS_VALIDATION_URL" default:"https://addressvalidation.googleapis.com/v1:validateAddress"`
	AddressValidationKey string `envconfig:"ADDRESS_VALIDATION_KEY" default:""`

	// Conversation control
	SessionTTLMinutes int `envconfig:"SESSION_TTL_MINUTES" default:"45"`
	MaxToolHops       int `envconfig:"MAX_TOOL_HOPS" default:"6"`
}

// ResolveDefaults validates the storage driver selection.
func (c *Config) ResolveDefaults() error {
	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("BILLIE_SQLITE_PATH required for sqlite driver")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("BILLIE_POSTGRES_DSN required for postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.SessionTTLMinutes <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive")
	}
	if c.MaxToolHops <= 0 {
		return fmt.Errorf("MAX_TOOL_HOPS must be positive")
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Environment variables are prefixed with BILLIE_
// Example: BILLIE_HTTP_PORT, BILLIE_DB_DRIVER.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("BILLIE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Str("model", cfg.OpenAIModel).
		Int("session_ttl_minutes", cfg.SessionTTLMinutes).
		Int("max_tool_hops", cfg.MaxToolHops).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	return &Config{
		Environment:       EnvTesting,
		HTTPPort:          8080,
		DBDriver:          "sqlite",
		SQLitePath:        ":memory:",
		OpenAIModel:       "gpt-4.1",
		SessionTTLMinutes: 45,
		MaxToolHops:       6,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// SessionTTL returns the inactivity threshold for the reaper.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
