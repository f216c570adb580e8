// Package settings reads and writes the merchant-configurable toggles,
// with a short-TTL cache in front of the primary store key.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/store"
)

const (
	keyPrimary = "shop:settings"
	keyCache   = "cache:settings"
)

// EnabledMethods are the per-channel authentication toggles.
type EnabledMethods struct {
	SMS    bool `json:"sms"`
	Email  bool `json:"email"`
	Google bool `json:"google"`
}

// UICustomization holds the storefront widget appearance settings.
type UICustomization struct {
	PrimaryColor string `json:"primaryColor"`
	ButtonStyle  string `json:"buttonStyle"`
	LogoURL      string `json:"logoUrl"`
}

// Settings is the merchant settings record.
type Settings struct {
	EnabledMethods  EnabledMethods  `json:"enabledMethods"`
	UICustomization UICustomization `json:"uiCustomization"`
}

// Defaults returns the settings used before a merchant saves any.
func Defaults() Settings {
	return Settings{
		EnabledMethods: EnabledMethods{SMS: true, Email: true, Google: true},
		UICustomization: UICustomization{
			PrimaryColor: "#000000",
			ButtonStyle:  "rounded",
		},
	}
}

var validButtonStyles = map[string]bool{"rounded": true, "square": true, "pill": true}

// Provider reads and writes merchant settings.
type Provider struct {
	store store.Store
}

// NewProvider creates a settings provider on the given store.
func NewProvider(st store.Store) *Provider {
	return &Provider{store: st}
}

// Get returns the current settings, serving from the cache when warm.
// A cold cache is refilled from the primary key; a missing primary yields
// the defaults.
func (p *Provider) Get(ctx context.Context) (Settings, error) {
	if raw, err := p.store.Get(ctx, keyCache); err == nil {
		var s Settings
		if json.Unmarshal([]byte(raw), &s) == nil {
			return s, nil
		}
	}

	raw, err := p.store.Get(ctx, keyPrimary)
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return Defaults(), nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}

	// Cache refill is best-effort.
	_ = p.store.Set(ctx, keyCache, raw, domain.SettingsCacheTTL)

	return s, nil
}

// Put validates and persists settings, then overwrites the cache so reads
// observe the write immediately.
func (p *Provider) Put(ctx context.Context, s Settings) error {
	if err := Validate(s); err != nil {
		return err
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := p.store.Set(ctx, keyPrimary, string(raw), 0); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := p.store.Set(ctx, keyCache, string(raw), domain.SettingsCacheTTL); err != nil {
		return fmt.Errorf("write settings cache: %w", err)
	}
	return nil
}

// Validate rejects a record that would disable every authentication method
// or carry an unknown button style.
func Validate(s Settings) error {
	m := s.EnabledMethods
	if !m.SMS && !m.Email && !m.Google {
		return fmt.Errorf("at least one authentication method must be enabled: %w", domain.ErrInvalidInput)
	}
	if s.UICustomization.ButtonStyle != "" && !validButtonStyles[s.UICustomization.ButtonStyle] {
		return fmt.Errorf("button style %q: %w", s.UICustomization.ButtonStyle, domain.ErrInvalidInput)
	}
	return nil
}
