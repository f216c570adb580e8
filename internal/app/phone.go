package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/queue"
	"github.com/kossrlive/isignin/internal/shopify"
	"github.com/kossrlive/isignin/internal/sms"
)

// RequestCodeResult is returned when a verification code is accepted for
// delivery.
type RequestCodeResult struct {
	CooldownSeconds int
}

// RequestCode validates the phone number, enforces the send gate, issues
// an OTP, and enqueues the SMS job. Success means "accepted for delivery":
// the response returns as soon as the job is queued, and a downstream
// provider failure is observable only through the DLR pipeline.
func (s *Service) RequestCode(ctx context.Context, phone string) (*RequestCodeResult, error) {
	ctx, span := tracer.Start(ctx, "auth.request_code")
	defer span.End()

	number, err := domain.NewPhoneNumber(phone)
	if err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_phone")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.requireMethod(ctx, "sms"); err != nil {
		return nil, err
	}

	if err := s.allowSend(ctx, number.String()); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	code, err := s.otp.Issue(ctx, number.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	job := queue.Job{
		ID:          uuid.NewString(),
		Identity:    number.String(),
		Message:     fmt.Sprintf("Your verification code is: %s. Valid for 5 minutes.", code),
		CallbackURL: s.callbackURL,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("enqueue sms job: %w", err)
	}

	otpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "accepted")))
	s.logger.InfoContext(ctx, "auth.code_requested",
		slog.String("phone", sms.MaskPhone(number.String())),
		slog.String("job_id", job.ID),
	)

	return &RequestCodeResult{CooldownSeconds: int(domain.SMSResendCooldown.Seconds())}, nil
}

// VerifyCode checks the candidate against the active code for the phone,
// resolves or creates the customer, and mints the SSO URL.
func (s *Service) VerifyCode(ctx context.Context, phone, candidate, returnTo string) (*AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.verify_code")
	defer span.End()

	number, err := domain.NewPhoneNumber(phone)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateCode(candidate); err != nil {
		return nil, err
	}

	if err := s.otp.Verify(ctx, number.String(), candidate); err != nil {
		authFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "otp")))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	customer, created, err := s.resolvePhoneCustomer(ctx, number)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.touchMetadata(ctx, customer.ID, map[string]string{
		"auth_method":    "sms",
		"phone_verified": "true",
		"last_login":     s.lastLogin(),
	})

	ssoURL, err := s.mint(ctx, customer, returnTo, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%v: %w", err, domain.ErrMintFailure)
	}

	authSuccessTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", "sms")))
	s.logger.InfoContext(ctx, "auth.phone_verified",
		slog.String("phone", sms.MaskPhone(number.String())),
		slog.String("customer_id", customer.ID),
		slog.Bool("new_customer", created),
	)

	return &AuthResult{MultipassURL: ssoURL, CustomerID: customer.ID, IsNewCustomer: created}, nil
}

// resolvePhoneCustomer finds the customer by phone or creates one with a
// synthetic email, since phone-only customers have no address of record.
func (s *Service) resolvePhoneCustomer(ctx context.Context, number domain.PhoneNumber) (*shopify.Customer, bool, error) {
	customer, err := s.directory.FindByPhone(ctx, number.String())
	if err == nil {
		if customer.Email == "" {
			customer.Email = number.SyntheticEmail()
		}
		return customer, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	customer, err = s.directory.Create(ctx, shopify.CreateParams{
		Email: number.SyntheticEmail(),
		Phone: number.String(),
		Tags:  []string{"sms-auth"},
	})
	if err != nil {
		return nil, false, err
	}
	if customer.Email == "" {
		customer.Email = number.SyntheticEmail()
	}
	return customer, true, nil
}

// requireMethod rejects the flow when the merchant disabled its channel.
func (s *Service) requireMethod(ctx context.Context, method string) error {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	enabled := false
	switch method {
	case "sms":
		enabled = cfg.EnabledMethods.SMS
	case "email":
		enabled = cfg.EnabledMethods.Email
	case "google":
		enabled = cfg.EnabledMethods.Google
	}
	if !enabled {
		return fmt.Errorf("method %s: %w", method, domain.ErrMethodDisabled)
	}
	return nil
}
