// Package config loads mailer configuration from a YAML file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Provider ProviderConfig `yaml:"provider"`
	Sending  SendingConfig  `yaml:"sending"`
	Retry    RetryConfig    `yaml:"retry"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds optional Redis settings used for distributed locking.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// OAuthConfig holds the client credentials for the mail-sending identity.
// The consent redirect flow lives outside this service; only the token
// endpoint is used here, for the refresh grant.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	// SafetyMarginSeconds is subtracted from the token expiry when
	// deciding whether a cached token is still usable.
	SafetyMarginSeconds int `yaml:"safety_margin_seconds"`
}

// SafetyMargin returns the expiry safety margin as a duration.
func (c OAuthConfig) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginSeconds) * time.Second
}

// ProviderConfig selects and configures the outbound mail provider.
type ProviderConfig struct {
	Type  string      `yaml:"type"` // "gmail" or "ses"
	Gmail GmailConfig `yaml:"gmail"`
	SES   SESConfig   `yaml:"ses"`
}

// GmailConfig holds Gmail REST API settings.
type GmailConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// SendingConfig holds batch-dispatch tuning. Defaults are conservative:
// providers commonly enforce per-second caps, so we send small sequential
// batches with a pause in between.
type SendingConfig struct {
	BatchSize           int `yaml:"batch_size"`
	BatchDelayMillis    int `yaml:"batch_delay_ms"`
	SendTimeoutSeconds  int `yaml:"send_timeout_seconds"`
	SchedulerTickMillis int `yaml:"scheduler_tick_ms"`
}

// BatchDelay returns the pause between batches.
func (c SendingConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMillis) * time.Millisecond
}

// SendTimeout returns the per-recipient send timeout.
func (c SendingConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// SchedulerTick returns the poll interval for due scheduled campaigns.
func (c SendingConfig) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickMillis) * time.Millisecond
}

// RetryConfig holds defaults for the failed-recipient retry path.
type RetryConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	BaseDelayMillis int `yaml:"base_delay_ms"`
}

// BaseDelay returns the initial backoff delay.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMillis) * time.Millisecond
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.OAuth.SafetyMarginSeconds == 0 {
		c.OAuth.SafetyMarginSeconds = 60
	}
	if c.Provider.Type == "" {
		c.Provider.Type = "gmail"
	}
	if c.Provider.Gmail.BaseURL == "" {
		c.Provider.Gmail.BaseURL = "https://gmail.googleapis.com"
	}
	if c.Provider.Gmail.TimeoutSeconds == 0 {
		c.Provider.Gmail.TimeoutSeconds = 30
	}
	if c.Provider.Gmail.MaxRetries == 0 {
		c.Provider.Gmail.MaxRetries = 3
	}
	if c.Provider.SES.Region == "" {
		c.Provider.SES.Region = "us-west-2"
	}
	if c.Sending.BatchSize == 0 {
		c.Sending.BatchSize = 10
	}
	if c.Sending.BatchDelayMillis == 0 {
		c.Sending.BatchDelayMillis = 1000
	}
	if c.Sending.SendTimeoutSeconds == 0 {
		c.Sending.SendTimeoutSeconds = 30
	}
	if c.Sending.SchedulerTickMillis == 0 {
		c.Sending.SchedulerTickMillis = 15000
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMillis == 0 {
		c.Retry.BaseDelayMillis = 2000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		// Env-only deployment: start from defaults.
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("OAUTH_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("OAUTH_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("OAUTH_TOKEN_URL"); v != "" {
		cfg.OAuth.TokenURL = v
	}
	if v := os.Getenv("GMAIL_BASE_URL"); v != "" {
		cfg.Provider.Gmail.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Provider.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Provider.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Provider.SES.Region = v
	}

	return cfg, nil
}

// Validate checks that required settings are present for startup.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.Provider.Type {
	case "gmail":
		if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
			return fmt.Errorf("oauth client credentials are required for the gmail provider")
		}
	case "ses":
		if c.Provider.SES.AccessKey == "" || c.Provider.SES.SecretKey == "" {
			return fmt.Errorf("ses access credentials are required for the ses provider")
		}
	default:
		return fmt.Errorf("unsupported provider type %q", c.Provider.Type)
	}
	return nil
}
