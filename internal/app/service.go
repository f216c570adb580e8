// Package app orchestrates the authentication flows: phone challenge,
// email login, OAuth callback, session restore, and order confirmation.
// It gates every flow on merchant settings and abuse-prevention state and
// mints the platform SSO credential on success.
package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/multipass"
	"github.com/kossrlive/isignin/internal/oauth"
	"github.com/kossrlive/isignin/internal/otp"
	"github.com/kossrlive/isignin/internal/queue"
	"github.com/kossrlive/isignin/internal/settings"
	"github.com/kossrlive/isignin/internal/shopify"
	"github.com/kossrlive/isignin/internal/store"
)

var tracer = otel.Tracer("app")

var (
	otpRequestsTotal  metric.Int64Counter
	authSuccessTotal  metric.Int64Counter
	authFailuresTotal metric.Int64Counter
	tokensMintedTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("app")

	otpRequestsTotal, _ = m.Int64Counter("auth_otp_requests_total",
		metric.WithDescription("Total OTP requests"))
	authSuccessTotal, _ = m.Int64Counter("auth_success_total",
		metric.WithDescription("Total successful authentications by method"))
	authFailuresTotal, _ = m.Int64Counter("security_auth_failures_total",
		metric.WithDescription("Total authentication failures"))
	tokensMintedTotal, _ = m.Int64Counter("sso_tokens_minted_total",
		metric.WithDescription("Total SSO tokens minted"))
}

// Directory is the narrow, consumer-defined slice of the customer
// directory the flows require. *shopify.Client satisfies it.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*shopify.Customer, error)
	FindByPhone(ctx context.Context, phone string) (*shopify.Customer, error)
	Create(ctx context.Context, params shopify.CreateParams) (*shopify.Customer, error)
	SetMetadata(ctx context.Context, customerID string, fields map[string]string) error
	GetMetadata(ctx context.Context, customerID, key string) (string, error)
}

// SettingsSource exposes the merchant toggles. *settings.Provider
// satisfies it.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// ServiceConfig holds the dependencies for Service.
type ServiceConfig struct {
	Store       store.Store
	OTP         *otp.Engine
	Orders      *otp.OrderConfirmation
	Queue       queue.Enqueuer
	Minter      *multipass.Minter
	Directory   Directory
	Settings    SettingsSource
	Providers   map[string]oauth.Provider
	Clock       domain.Clock
	Logger      *slog.Logger
	BcryptCost  int
	CallbackURL string // delivery-receipt callback handed to SMS jobs
}

// Service orchestrates the authentication flows.
type Service struct {
	store       store.Store
	otp         *otp.Engine
	orders      *otp.OrderConfirmation
	queue       queue.Enqueuer
	minter      *multipass.Minter
	directory   Directory
	settings    SettingsSource
	providers   map[string]oauth.Provider
	clock       domain.Clock
	logger      *slog.Logger
	bcryptCost  int
	callbackURL string
}

// NewService creates a Service with the given dependencies.
func NewService(cfg ServiceConfig) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	return &Service{
		store:       cfg.Store,
		otp:         cfg.OTP,
		orders:      cfg.Orders,
		queue:       cfg.Queue,
		minter:      cfg.Minter,
		directory:   cfg.Directory,
		settings:    cfg.Settings,
		providers:   cfg.Providers,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		bcryptCost:  cfg.BcryptCost,
		callbackURL: cfg.CallbackURL,
	}
}

// AuthResult is the successful outcome of any authentication flow.
type AuthResult struct {
	MultipassURL  string
	CustomerID    string
	IsNewCustomer bool
}

// mint assembles the SSO payload for a customer and returns the login URL.
func (s *Service) mint(ctx context.Context, customer *shopify.Customer, returnTo, cartToken string) (string, error) {
	info := multipass.CustomerInfo{
		Email:      customer.Email,
		CreatedAt:  s.clock.Now().UTC(),
		FirstName:  customer.FirstName,
		LastName:   customer.LastName,
		Identifier: customer.ID,
		ReturnTo:   returnTo,
	}

	result, err := s.minter.Mint(info, multipass.URLOptions{ReturnTo: returnTo, CartToken: cartToken})
	if err != nil {
		return "", err
	}

	tokensMintedTotal.Add(ctx, 1)
	return result.URL, nil
}

// touchMetadata writes customer metadata best-effort: a directory hiccup
// here never fails an already-authenticated login.
func (s *Service) touchMetadata(ctx context.Context, customerID string, fields map[string]string) {
	if err := s.directory.SetMetadata(ctx, customerID, fields); err != nil {
		s.logger.WarnContext(ctx, "customer metadata write failed",
			slog.String("customer_id", customerID), slog.Any("error", err))
	}
}

func (s *Service) lastLogin() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}
