package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/shopify"
)

// OAuthBegin produces the authorization redirect for the named provider
// together with the CSRF state the HTTP boundary must pin to the session.
func (s *Service) OAuthBegin(ctx context.Context, provider string) (authURL, state string, err error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", "", fmt.Errorf("unknown oauth provider %q: %w", provider, domain.ErrInvalidInput)
	}
	if err := s.requireMethod(ctx, provider); err != nil {
		return "", "", err
	}

	state, err = generateState()
	if err != nil {
		return "", "", err
	}
	return p.AuthURL(state), state, nil
}

// OAuthCallback exchanges the authorization code, resolves or creates the
// customer by the profile email, and mints the SSO URL. State validation
// belongs to the HTTP boundary; this accepts the (code, provider,
// redirectURI) triple.
func (s *Service) OAuthCallback(ctx context.Context, provider, code, redirectURI, returnTo string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.oauth_callback")
	defer span.End()
	span.SetAttributes(attribute.String("provider", provider))

	p, ok := s.providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider %q: %w", provider, domain.ErrInvalidInput)
	}
	if code == "" {
		return nil, fmt.Errorf("authorization code cannot be empty: %w", domain.ErrInvalidInput)
	}
	if err := s.requireMethod(ctx, provider); err != nil {
		return nil, err
	}

	profile, err := p.Exchange(ctx, code, redirectURI)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "oauth_exchange")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	customer, created, err := s.resolveOAuthCustomer(ctx, provider, profile.Email, profile.FirstName, profile.LastName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.touchMetadata(ctx, customer.ID, map[string]string{
		"auth_method": provider,
		"last_login":  s.lastLogin(),
	})

	ssoURL, err := s.mint(ctx, customer, returnTo, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%v: %w", err, domain.ErrMintFailure)
	}

	authSuccessTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", provider)))
	s.logger.InfoContext(ctx, "auth.oauth_verified",
		slog.String("provider", provider),
		slog.String("customer_id", customer.ID),
		slog.Bool("new_customer", created),
	)

	return &AuthResult{MultipassURL: ssoURL, CustomerID: customer.ID, IsNewCustomer: created}, nil
}

func (s *Service) resolveOAuthCustomer(ctx context.Context, provider, email, firstName, lastName string) (*shopify.Customer, bool, error) {
	customer, err := s.directory.FindByEmail(ctx, email)
	if err == nil {
		return customer, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	customer, err = s.directory.Create(ctx, shopify.CreateParams{
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Tags:      []string{provider + "-auth"},
	})
	if err != nil {
		return nil, false, err
	}
	return customer, true, nil
}

// generateState draws the 32-hex-character CSRF state.
func generateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
