// Package config provides configuration loading using koanf with the
// precedence: environment variables over compiled defaults. Variable names
// are kept flat and ops-compatible (PORT, REDIS_URL, SHOPIFY_*, …).
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/kossrlive/isignin/internal/domain"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	Port      int    `koanf:"port"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Store selects the keyed-store backend: "redis" or "memory".
	Store string `koanf:"store"`

	RedisURL                   string `koanf:"redis_url"`
	RedisTLS                   bool   `koanf:"redis_tls"`
	RedisTLSRejectUnauthorized bool   `koanf:"redis_tls_reject_unauthorized"`

	ShopifyShopDomain      string `koanf:"shopify_shop_domain"`
	ShopifyAPIKey          string `koanf:"shopify_api_key"`
	ShopifyAPISecret       string `koanf:"shopify_api_secret"`
	ShopifyMultipassSecret string `koanf:"shopify_multipass_secret"`

	SMSToAPIKey   string `koanf:"sms_to_api_key"`
	SMSToSenderID string `koanf:"sms_to_sender_id"`

	TwilioAccountSID string `koanf:"twilio_account_sid"`
	TwilioAuthToken  string `koanf:"twilio_auth_token"`
	TwilioFromNumber string `koanf:"twilio_from_number"`

	SNSRegion string `koanf:"sns_region"`

	GoogleClientID     string `koanf:"google_client_id"`
	GoogleClientSecret string `koanf:"google_client_secret"`
	GoogleRedirectURI  string `koanf:"google_redirect_uri"`

	OTPLength               int `koanf:"otp_length"`
	OTPTTLSeconds           int `koanf:"otp_ttl_seconds"`
	OTPMaxAttempts          int `koanf:"otp_max_attempts"`
	OTPBlockDurationSeconds int `koanf:"otp_block_duration_seconds"`

	SMSResendCooldownSeconds int `koanf:"sms_resend_cooldown_seconds"`
	SMSMaxSendAttempts       int `koanf:"sms_max_send_attempts"`
	SMSWorkers               int `koanf:"sms_workers"`

	RateLimitWindowMS    int `koanf:"rate_limit_window_ms"`
	RateLimitMaxRequests int `koanf:"rate_limit_max_requests"`

	// DLRCallbackURL is the public URL providers post delivery receipts to.
	DLRCallbackURL string `koanf:"dlr_callback_url"`

	OTELEndpoint string `koanf:"otel_exporter_otlp_endpoint"`
	// OTELInsecure opts into plaintext OTLP export for local collectors.
	OTELInsecure bool `koanf:"otel_exporter_otlp_insecure"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		Port:        3000,
		LogLevel:    "info",
		LogFormat:   "json",

		Store:                      "redis",
		RedisURL:                   "redis://localhost:6379",
		RedisTLSRejectUnauthorized: true,

		OTPLength:               domain.OTPLength,
		OTPTTLSeconds:           int(domain.OTPValidityDuration.Seconds()),
		OTPMaxAttempts:          domain.OTPMaxFailures,
		OTPBlockDurationSeconds: int(domain.OTPBlockDuration.Seconds()),

		SMSResendCooldownSeconds: int(domain.SMSResendCooldown.Seconds()),
		SMSMaxSendAttempts:       domain.SMSMaxSendAttempts,
		SMSWorkers:               2,

		RateLimitWindowMS:    int(domain.RateLimitWindow.Milliseconds()),
		RateLimitMaxRequests: domain.RateLimitMaxRequests,
	}
}

// Load loads configuration: environment variables over compiled defaults.
// Required keys missing in non-local environments fail startup.
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	// Flat keys: env names map to koanf tags by lowercasing only, so the
	// ops-visible variable names stay exactly as documented.
	err := k.Load(env.Provider("", ".", strings.ToLower), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	if cfg.Store != "redis" && cfg.Store != "memory" {
		return fmt.Errorf("%w: store must be redis or memory", domain.ErrConfigRequired)
	}

	// Local development runs on the in-memory store and the log provider
	// without platform credentials.
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.Store == "redis" && cfg.RedisURL == "" {
		return fmt.Errorf("%w: REDIS_URL", domain.ErrConfigRequired)
	}
	if cfg.ShopifyShopDomain == "" {
		return fmt.Errorf("%w: SHOPIFY_SHOP_DOMAIN", domain.ErrConfigRequired)
	}
	if cfg.ShopifyMultipassSecret == "" {
		return fmt.Errorf("%w: SHOPIFY_MULTIPASS_SECRET", domain.ErrConfigRequired)
	}
	if cfg.SMSToAPIKey == "" && cfg.TwilioAccountSID == "" && cfg.SNSRegion == "" {
		return fmt.Errorf("%w: at least one SMS provider", domain.ErrConfigRequired)
	}

	return nil
}

// OTPTTL returns the OTP record lifetime.
func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLSeconds) * time.Second
}

// OTPBlockDuration returns the verification block lifetime.
func (c *Config) OTPBlockDuration() time.Duration {
	return time.Duration(c.OTPBlockDurationSeconds) * time.Second
}

// SMSResendCooldown returns the delay between consecutive sends.
func (c *Config) SMSResendCooldown() time.Duration {
	return time.Duration(c.SMSResendCooldownSeconds) * time.Second
}

// RateLimitWindow returns the fixed-window length.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
