package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/shopify"
)

// EmailLogin authenticates an email/password pair. An unknown email
// registers a new customer; a known email verifies against the stored
// hash. Either failure mode reports the same opaque credentials error so
// callers cannot probe which addresses exist.
func (s *Service) EmailLogin(ctx context.Context, email, password, returnTo string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.email_login")
	defer span.End()

	address, err := domain.NewEmailAddress(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty: %w", domain.ErrInvalidInput)
	}

	if err := s.requireMethod(ctx, "email"); err != nil {
		return nil, err
	}

	customer, err := s.directory.FindByEmail(ctx, address.String())
	switch {
	case err == nil:
		if err := s.verifyPassword(ctx, customer, password); err != nil {
			authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "credentials")))
			span.SetStatus(codes.Error, "bad credentials")
			return nil, err
		}
		s.touchMetadata(ctx, customer.ID, map[string]string{
			"auth_method": "email",
			"last_login":  s.lastLogin(),
		})

	case errors.Is(err, domain.ErrNotFound):
		customer, err = s.registerEmailCustomer(ctx, address.String(), password)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ssoURL, err := s.mint(ctx, customer, returnTo, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%v: %w", err, domain.ErrMintFailure)
	}

	authSuccessTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", "email")))
	s.logger.InfoContext(ctx, "auth.email_verified", slog.String("customer_id", customer.ID))

	return &AuthResult{MultipassURL: ssoURL, CustomerID: customer.ID}, nil
}

// verifyPassword compares the candidate against the customer's stored
// hash. A customer without a stored hash (created through another
// channel) fails with the same opaque error as a wrong password.
func (s *Service) verifyPassword(ctx context.Context, customer *shopify.Customer, password string) error {
	hash, err := s.directory.GetMetadata(ctx, customer.ID, shopify.MetafieldPasswordKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrBadCredentials
		}
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return domain.ErrBadCredentials
	}
	return nil
}

// registerEmailCustomer hashes the password and creates the customer with
// the hash stored as directory metadata.
func (s *Service) registerEmailCustomer(ctx context.Context, email, password string) (*shopify.Customer, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	customer, err := s.directory.Create(ctx, shopify.CreateParams{
		Email: email,
		Tags:  []string{"email-auth"},
	})
	if err != nil {
		return nil, err
	}

	// The hash write must land: a registration whose credential is lost
	// would strand the account.
	if err := s.directory.SetMetadata(ctx, customer.ID, map[string]string{
		shopify.MetafieldPasswordKey: string(hash),
		"auth_method":                "email",
		"last_login":                 s.lastLogin(),
	}); err != nil {
		return nil, err
	}

	return customer, nil
}
