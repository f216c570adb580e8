package sms

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogProvider is a fake provider that logs delivery instead of sending real
// SMS. Suitable for local development and testing environments.
type LogProvider struct {
	logger   *slog.Logger
	priority int
}

// NewLogProvider creates a LogProvider that writes send events to the given
// structured logger.
func NewLogProvider(logger *slog.Logger, priority int) *LogProvider {
	return &LogProvider{logger: logger, priority: priority}
}

func (p *LogProvider) Name() string  { return "log" }
func (p *LogProvider) Priority() int { return p.priority }

// Send logs the message with a masked phone number and always succeeds.
func (p *LogProvider) Send(ctx context.Context, to, message, _ string) (SendResult, error) {
	id := uuid.NewString()
	p.logger.InfoContext(ctx, "sms delivery (log-only)",
		slog.String("phone", MaskPhone(to)),
		slog.String("message", message),
		slog.String("message_id", id),
	)
	return SendResult{MessageID: id}, nil
}

func (p *LogProvider) Poll(_ context.Context, _ string) (DeliveryStatus, error) {
	return StatusDelivered, nil
}

func (p *LogProvider) ParseReceipt(payload []byte) (Receipt, error) {
	return Receipt{MessageID: string(payload), Status: StatusDelivered}, nil
}

// MaskPhone returns a masked representation of the phone number showing only
// the last 4 digits. Numbers shorter than 5 characters are fully masked.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}

var _ Provider = (*LogProvider)(nil)
