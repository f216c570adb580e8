package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/otp"
	"github.com/kossrlive/isignin/internal/queue"
	"github.com/kossrlive/isignin/internal/sms"
)

// OrderConfirmationParams are the inputs for a confirmation-code send.
type OrderConfirmationParams struct {
	OrderID  string
	Phone    string
	Template string
	Order    otp.Order
	Customer otp.TemplateCustomer
}

// SendOrderConfirmation issues a code bound to the order and queues the
// confirmation SMS rendered from the merchant template. The code rides the
// same queue and send gate as authentication SMS.
func (s *Service) SendOrderConfirmation(ctx context.Context, params OrderConfirmationParams) error {
	ctx, span := tracer.Start(ctx, "order.send_confirmation")
	defer span.End()

	number, err := domain.NewPhoneNumber(params.Phone)
	if err != nil {
		return err
	}

	if err := s.allowSend(ctx, number.String()); err != nil {
		return err
	}

	code, err := s.orders.Issue(ctx, params.OrderID)
	if err != nil {
		return err
	}

	message := otp.RenderOrderMessage(params.Template, params.Order, params.Customer)
	if message != "" {
		message += " "
	}
	message += fmt.Sprintf("Confirmation code: %s", code)

	job := queue.Job{
		ID:          uuid.NewString(),
		Identity:    number.String(),
		Message:     message,
		CallbackURL: s.callbackURL,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue order confirmation job: %w", err)
	}

	s.logger.InfoContext(ctx, "order.confirmation_requested",
		slog.String("order_id", params.OrderID),
		slog.String("phone", sms.MaskPhone(number.String())),
	)
	return nil
}

// VerifyOrderConfirmation checks a candidate code against the order it was
// issued for. Codes are bound to their order and consumed on success.
func (s *Service) VerifyOrderConfirmation(ctx context.Context, orderID, candidate string) (bool, error) {
	ctx, span := tracer.Start(ctx, "order.verify_confirmation")
	defer span.End()

	if err := domain.ValidateCode(candidate); err != nil {
		return false, err
	}

	err := s.orders.Verify(ctx, orderID, candidate)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrCodeMismatch) || errors.Is(err, domain.ErrCodeExpired) {
		return false, nil
	}
	return false, err
}
