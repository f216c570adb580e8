package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kossrlive/isignin/internal/domain"
)

// SessionSnapshot is the client-held checkout state echoed back on
// restore. The service validates freshness and echoes the fields into the
// login URL; it neither stores nor trusts the snapshot beyond that.
type SessionSnapshot struct {
	CheckoutURL string `json:"checkout_url"`
	TimestampMS int64  `json:"timestamp_ms"`
	CartToken   string `json:"cart_token,omitempty"`
}

// RestoreSession re-mints a login URL for a known customer carrying the
// snapshot's checkout URL and cart token. The snapshot expires five
// minutes after its client-side timestamp.
func (s *Service) RestoreSession(ctx context.Context, email string, snapshot SessionSnapshot) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.restore_session")
	defer span.End()

	address, err := domain.NewEmailAddress(email)
	if err != nil {
		return nil, err
	}
	if snapshot.CheckoutURL == "" {
		return nil, fmt.Errorf("checkout_url cannot be empty: %w", domain.ErrInvalidInput)
	}

	age := s.clock.Now().Sub(time.UnixMilli(snapshot.TimestampMS))
	if age < 0 || age > domain.SessionSnapshotTTL {
		return nil, fmt.Errorf("session snapshot outside freshness window: %w", domain.ErrInvalidInput)
	}

	customer, err := s.directory.FindByEmail(ctx, address.String())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrBadCredentials
		}
		return nil, err
	}

	ssoURL, err := s.mint(ctx, customer, snapshot.CheckoutURL, snapshot.CartToken)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrMintFailure)
	}

	return &AuthResult{MultipassURL: ssoURL, CustomerID: customer.ID}, nil
}
