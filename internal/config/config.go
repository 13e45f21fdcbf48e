// Package config loads and validates catalog service configuration via Viper.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Store       StoreConfig       `mapstructure:"store"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Operator    OperatorConfig    `mapstructure:"operator"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Alert       AlertConfig       `mapstructure:"alert"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig guards the admin endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects and tunes the document store.
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	TablePrefix  string `mapstructure:"table_prefix"`
}

// HTTPConfig configures outbound HTTP used by API extractors and the pricing scraper.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`
}

// BrowserConfig configures the scraping browser.
type BrowserConfig struct {
	Driver        string `mapstructure:"driver"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
}

// StrategyConfig holds per fetch-method limits.
type StrategyConfig struct {
	Timeouts StrategyTimeouts `mapstructure:"timeouts"`
}

// StrategyTimeouts bound each fetch strategy, in seconds.
type StrategyTimeouts struct {
	API      int `mapstructure:"api"`
	SDK      int `mapstructure:"sdk"`
	Scraping int `mapstructure:"scraping"`
}

// WorkersConfig sizes the refresh worker pool.
type WorkersConfig struct {
	Count        int `mapstructure:"count"`
	QueueDepth   int `mapstructure:"queue_depth"`
	RefreshLimit int `mapstructure:"refresh_limit"`
}

// ScheduleConfig holds the cron expressions for periodic jobs.
type ScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	OnStartup bool   `mapstructure:"on_startup"`
	Nightly   string `mapstructure:"nightly"`
	Weekly    string `mapstructure:"weekly_reset"`
}

// OperatorConfig names the account whose stored secrets the strategies use.
type OperatorConfig struct {
	Email string `mapstructure:"email"`
}

// CredentialsConfig holds the key used to encrypt stored secrets.
type CredentialsConfig struct {
	Key string `mapstructure:"key"`
}

// AlertConfig configures out-of-band error notifications.
type AlertConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PricingConfig configures the Braket pricing scraper.
type PricingConfig struct {
	URL        string `mapstructure:"url"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

// ArchiveConfig selects where raw provider payloads are archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QCATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.max_open_conns", 4)
	v.SetDefault("store.max_idle_conns", 2)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "qcatalog/0.1")
	v.SetDefault("http.rate_per_second", 2.0)
	v.SetDefault("http.burst", 4)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.max_parallel", 1)
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("strategy.timeouts.api", 60)
	v.SetDefault("strategy.timeouts.sdk", 120)
	v.SetDefault("strategy.timeouts.scraping", 90)
	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.queue_depth", 16)
	v.SetDefault("workers.refresh_limit", 4)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.on_startup", true)
	v.SetDefault("schedule.nightly", "0 0 0 * * *")
	v.SetDefault("schedule.weekly_reset", "0 0 3 * * 0")
	v.SetDefault("alert.timeout_seconds", 5)
	v.SetDefault("pricing.url", "https://aws.amazon.com/braket/pricing/")
	v.SetDefault("pricing.ttl_minutes", 720)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("telemetry.service_name", "qcatalog")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.driver %q is not supported", c.Browser.Driver)
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	t := c.Strategy.Timeouts
	if t.API <= 0 || t.SDK <= 0 || t.Scraping <= 0 {
		return fmt.Errorf("strategy.timeouts must all be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	if c.Credentials.Key != "" {
		key, err := base64.StdEncoding.DecodeString(c.Credentials.Key)
		if err != nil {
			return fmt.Errorf("credentials.key must be base64: %w", err)
		}
		switch len(key) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("credentials.key must decode to 16, 24 or 32 bytes, got %d", len(key))
		}
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	return nil
}

// StrategyTimeout returns the configured timeout for a fetch method tag.
func (c Config) StrategyTimeout(method string) time.Duration {
	switch method {
	case "API":
		return time.Duration(c.Strategy.Timeouts.API) * time.Second
	case "SDK":
		return time.Duration(c.Strategy.Timeouts.SDK) * time.Second
	default:
		return time.Duration(c.Strategy.Timeouts.Scraping) * time.Second
	}
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PricingTTL converts the pricing cache TTL into a duration.
func (c Config) PricingTTL() time.Duration {
	return time.Duration(c.Pricing.TTLMinutes) * time.Minute
}

// CredentialKey decodes the credentials encryption key; nil when unset.
func (c Config) CredentialKey() []byte {
	if c.Credentials.Key == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Credentials.Key)
	if err != nil {
		return nil
	}
	return key
}
