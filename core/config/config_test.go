package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		WhatsApp: WhatsAppConfig{
			Token:         "tok",
			PhoneNumberID: "12345",
			VerifyToken:   "secret",
		},
		Server: ServerConfig{Port: 8080},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.WhatsApp.APIBaseURL != DefaultAPIBaseURL {
		t.Fatalf("api base = %s", cfg.WhatsApp.APIBaseURL)
	}
	if cfg.Server.Path != DefaultWebhookPath {
		t.Fatalf("path = %s", cfg.Server.Path)
	}
	if got := cfg.SessionTTL(); got != DefaultSessionTTL {
		t.Fatalf("ttl = %v", got)
	}
	if got := cfg.SweepInterval(); got != DefaultSweepInterval {
		t.Fatalf("sweep interval = %v", got)
	}
	if cfg.RateLimit.Limit != DefaultRateLimit || cfg.RateWindow() != DefaultRateWindow {
		t.Fatalf("rate limit defaults = %d/%v", cfg.RateLimit.Limit, cfg.RateWindow())
	}
	if cfg.Retry.MaxAttempts != DefaultRetryMaxAttempts || cfg.RetryBaseDelay() != DefaultRetryBaseDelay {
		t.Fatalf("retry defaults = %d/%v", cfg.Retry.MaxAttempts, cfg.RetryBaseDelay())
	}
	if cfg.Dispatch.QueueSize != DefaultDispatchQueueSize || cfg.Dispatch.Workers != DefaultDispatchWorkers {
		t.Fatalf("dispatch defaults = %d/%d", cfg.Dispatch.QueueSize, cfg.Dispatch.Workers)
	}
}

func TestNormalizeRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.WhatsApp.Token = "" }, "whatsapp.token"},
		{"missing phone id", func(c *Config) { c.WhatsApp.PhoneNumberID = " " }, "whatsapp.phone_number_id"},
		{"missing verify token", func(c *Config) { c.WhatsApp.VerifyToken = "" }, "whatsapp.verify_token"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative ttl", func(c *Config) { c.Session.TTLSeconds = -1 }, "session.ttl_seconds"},
		{"negative limit", func(c *Config) { c.RateLimit.Limit = -5 }, "rate_limit.limit"},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, "retry.max_attempts"},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		err := Normalize(cfg)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %s", tc.name, err, tc.want)
		}
	}
}

func TestNormalizePathAndBaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Path = "hooks/wa"
	cfg.WhatsApp.APIBaseURL = "https://graph.example.com/v1/"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Server.Path != "/hooks/wa" {
		t.Fatalf("path = %s", cfg.Server.Path)
	}
	if cfg.WhatsApp.APIBaseURL != "https://graph.example.com/v1" {
		t.Fatalf("base url = %s", cfg.WhatsApp.APIBaseURL)
	}
}

func TestNormalizeUnifiedTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Session.TTLSeconds = 120
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	// Sweeper timeout and store TTL come from the same value.
	if cfg.SessionTTL() != 2*time.Minute {
		t.Fatalf("ttl = %v", cfg.SessionTTL())
	}
}
