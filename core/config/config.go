package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// WhatsAppConfig holds credentials and endpoints for the messaging provider.
type WhatsAppConfig struct {
	Token         string `yaml:"token" envconfig:"WA_TOKEN"`
	PhoneNumberID string `yaml:"phone_number_id" envconfig:"WA_PHONE_NUMBER_ID"`
	VerifyToken   string `yaml:"verify_token" envconfig:"WA_VERIFY_TOKEN"`
	APIBaseURL    string `yaml:"api_base_url" envconfig:"WA_API_BASE_URL"`
	AdminID       string `yaml:"admin_id" envconfig:"WA_ADMIN_ID"`
}

// ServerConfig specifies the webhook HTTP listener.
type ServerConfig struct {
	Listen string `yaml:"listen" envconfig:"SERVER_LISTEN"`
	Port   int    `yaml:"port" envconfig:"SERVER_PORT"`
	Path   string `yaml:"path" envconfig:"SERVER_PATH"`
}

// SessionConfig controls conversation lifetime. TTLSeconds is the single
// source of truth for both store expiry and the sweeper timeout.
type SessionConfig struct {
	TTLSeconds           int `yaml:"ttl_seconds" envconfig:"SESSION_TTL_SECONDS"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" envconfig:"SESSION_SWEEP_INTERVAL_SECONDS"`
}

// RateLimitConfig holds settings for per-subject fixed-window limiting.
type RateLimitConfig struct {
	Limit         int `yaml:"limit" envconfig:"RATE_LIMIT_LIMIT"`
	WindowSeconds int `yaml:"window_seconds" envconfig:"RATE_LIMIT_WINDOW_SECONDS"`
}

// RetryConfig bounds outbound send retries.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" envconfig:"SEND_RETRY_MAX_ATTEMPTS"`
	BaseDelayMS int `yaml:"base_delay_ms" envconfig:"SEND_RETRY_BASE_DELAY_MS"`
}

// DispatchConfig sizes the inbound worker pool that runs conversation
// processing detached from the webhook response.
type DispatchConfig struct {
	QueueSize int `yaml:"queue_size" envconfig:"DISPATCH_QUEUE_SIZE"`
	Workers   int `yaml:"workers" envconfig:"DISPATCH_WORKERS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// Config aggregates the configuration that belongs to the engine core.
type Config struct {
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Defaults applied by Normalize when a value is unset.
const (
	DefaultAPIBaseURL        = "https://graph.facebook.com/v19.0"
	DefaultWebhookPath       = "/webhook"
	DefaultSessionTTL        = 5 * time.Minute
	DefaultSweepInterval     = time.Minute
	DefaultRateLimit         = 20
	DefaultRateWindow        = time.Minute
	DefaultRetryMaxAttempts  = 3
	DefaultRetryBaseDelay    = 500 * time.Millisecond
	DefaultDispatchQueueSize = 256
	DefaultDispatchWorkers   = 4
)

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.WhatsApp.Token) == "" {
		return fmt.Errorf("whatsapp.token is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.PhoneNumberID) == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.VerifyToken) == "" {
		return fmt.Errorf("whatsapp.verify_token is required")
	}
	if strings.TrimSpace(cfg.WhatsApp.APIBaseURL) == "" {
		cfg.WhatsApp.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.WhatsApp.APIBaseURL = strings.TrimRight(cfg.WhatsApp.APIBaseURL, "/")

	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = "0.0.0.0"
	}
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	path := strings.TrimSpace(cfg.Server.Path)
	if path == "" {
		path = DefaultWebhookPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	cfg.Server.Path = path

	if cfg.Session.TTLSeconds < 0 {
		return fmt.Errorf("session.ttl_seconds must be >= 0")
	}
	if cfg.Session.TTLSeconds == 0 {
		cfg.Session.TTLSeconds = int(DefaultSessionTTL / time.Second)
	}
	if cfg.Session.SweepIntervalSeconds < 0 {
		return fmt.Errorf("session.sweep_interval_seconds must be >= 0")
	}
	if cfg.Session.SweepIntervalSeconds == 0 {
		cfg.Session.SweepIntervalSeconds = int(DefaultSweepInterval / time.Second)
	}

	if cfg.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must be >= 0")
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = DefaultRateLimit
	}
	if cfg.RateLimit.WindowSeconds < 0 {
		return fmt.Errorf("rate_limit.window_seconds must be >= 0")
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = int(DefaultRateWindow / time.Second)
	}

	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Retry.BaseDelayMS < 0 {
		return fmt.Errorf("retry.base_delay_ms must be >= 0")
	}
	if cfg.Retry.BaseDelayMS == 0 {
		cfg.Retry.BaseDelayMS = int(DefaultRetryBaseDelay / time.Millisecond)
	}

	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = DefaultDispatchQueueSize
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = DefaultDispatchWorkers
	}

	return nil
}

// SessionTTL returns the configured session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// SweepInterval returns the configured sweeper cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Session.SweepIntervalSeconds) * time.Second
}

// RateWindow returns the fixed rate-limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// RetryBaseDelay returns the first retry backoff step as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}
