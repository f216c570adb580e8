// Package sms holds the provider adapter contract, the concrete gateway
// adapters, and the priority router with resend rotation and delivery
// tracking.
package sms

import (
	"context"
	"errors"
)

// DeliveryStatus is the canonical delivery vocabulary. Adapters map
// provider-specific states onto these four values.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// terminal reports whether a status admits no further transitions.
func (s DeliveryStatus) terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// rank orders the monotonic pending → sent → delivered progression.
// failed is terminal but reachable from any non-terminal state.
func (s DeliveryStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	default:
		return -1
	}
}

// ErrSendRejected marks an API-level rejection (the gateway answered and
// said no), as opposed to a transport error. The router treats both
// identically; tests synthesise each separately.
var ErrSendRejected = errors.New("provider rejected send")

// SendResult is the successful outcome of a provider Send.
type SendResult struct {
	MessageID string
}

// Receipt is a parsed delivery receipt (DLR) callback payload.
type Receipt struct {
	MessageID     string
	Status        DeliveryStatus
	FailureReason string
}

// Provider is the single-gateway adapter contract. Adapters never retry
// internally (retry is the router/worker's responsibility) and they
// respect ctx deadlines for the transport call ceiling.
type Provider interface {
	// Name identifies the provider; immutable.
	Name() string

	// Priority orders providers; lower is tried first. Immutable.
	Priority() int

	// Send dispatches one message. callbackURL, when non-empty, asks the
	// gateway to POST delivery receipts there.
	Send(ctx context.Context, to, message, callbackURL string) (SendResult, error)

	// Poll queries the gateway for the current delivery status of a message.
	Poll(ctx context.Context, messageID string) (DeliveryStatus, error)

	// ParseReceipt decodes a provider-specific DLR payload.
	ParseReceipt(payload []byte) (Receipt, error)
}
