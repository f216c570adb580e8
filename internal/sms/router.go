package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/store"
)

var tracer = otel.Tracer("sms")

var (
	dispatchTotal metric.Int64Counter
	fallbackTotal metric.Int64Counter
)

func init() {
	m := otel.Meter("sms")

	dispatchTotal, _ = m.Int64Counter("sms_dispatch_total",
		metric.WithDescription("Total SMS dispatch attempts by provider and outcome"))
	fallbackTotal, _ = m.Int64Counter("sms_fallback_total",
		metric.WithDescription("Total dispatches that fell through to a lower-priority provider"))
}

// Store key families owned by the router.
const (
	keyDelivery     = "sms:delivery:"      // sms:delivery:<messageId>
	keyLastProvider = "sms:last_provider:" // sms:last_provider:<identity>

	// dlrChannelPrefix is the pub/sub channel receipts fan out on.
	dlrChannelPrefix = "dlr:"
)

// DeliveryRecord tracks one dispatched message through its lifecycle.
type DeliveryRecord struct {
	Identity      string         `json:"identity"`
	Provider      string         `json:"provider"`
	Status        DeliveryStatus `json:"status"`
	SentAt        time.Time      `json:"sent_at"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// SendParams are the inputs for a routed send.
type SendParams struct {
	Identity    string // E.164 destination
	Message     string
	CallbackURL string
}

// Dispatch is the outcome of a successful routed send.
type Dispatch struct {
	MessageID string
	Provider  string
}

// Router fans a send across providers in priority order. The provider
// order is fixed at construction for the lifetime of the router.
type Router struct {
	providers []Provider // ascending priority
	store     store.Store
	clock     domain.Clock
	logger    *slog.Logger
}

// NewRouter creates a Router over the given providers, sorted by ascending
// priority.
func NewRouter(providers []Provider, st store.Store, clock domain.Clock, logger *slog.Logger) *Router {
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Router{providers: sorted, store: st, clock: clock, logger: logger}
}

// Providers returns the provider names in routing order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Send iterates providers in priority order and dispatches through the
// first one that accepts. Each provider is visited at most once. On total
// failure the last provider error is returned and no tracking state is
// written.
func (r *Router) Send(ctx context.Context, params SendParams) (Dispatch, error) {
	ctx, span := tracer.Start(ctx, "sms.send")
	defer span.End()

	return r.attempt(ctx, params, r.providers)
}

// SendWithRotation resends through the circular successor of lastProvider.
// When lastProvider is empty the hint recorded from the previous send for
// this identity is used. The candidate is tried first; the remaining
// providers follow in priority order.
func (r *Router) SendWithRotation(ctx context.Context, params SendParams, lastProvider string) (Dispatch, error) {
	ctx, span := tracer.Start(ctx, "sms.send_rotated")
	defer span.End()

	if lastProvider == "" {
		if hint, err := r.store.Get(ctx, keyLastProvider+params.Identity); err == nil {
			lastProvider = hint
		}
	}

	order := r.rotatedOrder(lastProvider)
	return r.attempt(ctx, params, order)
}

// rotatedOrder puts the circular successor of lastProvider first, followed
// by the remaining providers in priority order.
func (r *Router) rotatedOrder(lastProvider string) []Provider {
	if len(r.providers) < 2 || lastProvider == "" {
		return r.providers
	}

	lastIdx := -1
	for i, p := range r.providers {
		if p.Name() == lastProvider {
			lastIdx = i
			break
		}
	}
	if lastIdx == -1 {
		return r.providers
	}

	candidate := (lastIdx + 1) % len(r.providers)
	order := make([]Provider, 0, len(r.providers))
	order = append(order, r.providers[candidate])
	for i, p := range r.providers {
		if i != candidate {
			order = append(order, p)
		}
	}
	return order
}

func (r *Router) attempt(ctx context.Context, params SendParams, order []Provider) (Dispatch, error) {
	span := trace.SpanFromContext(ctx)

	var lastErr error
	for i, p := range order {
		result, err := p.Send(ctx, params.Identity, params.Message, params.CallbackURL)
		if err != nil {
			lastErr = err
			dispatchTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("provider", p.Name()),
				attribute.String("outcome", "failure"),
			))
			r.logger.WarnContext(ctx, "provider send failed, trying next",
				slog.String("provider", p.Name()),
				slog.String("phone", MaskPhone(params.Identity)),
				slog.Any("error", err),
			)
			continue
		}

		if i > 0 {
			fallbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", p.Name())))
		}
		dispatchTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", p.Name()),
			attribute.String("outcome", "success"),
		))

		r.track(ctx, params.Identity, p.Name(), result.MessageID)
		return Dispatch{MessageID: result.MessageID, Provider: p.Name()}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured: %w", domain.ErrProviderFailure)
	} else {
		lastErr = fmt.Errorf("%v: %w", lastErr, domain.ErrProviderFailure)
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return Dispatch{}, lastErr
}

// track writes the DeliveryRecord and LastProviderHint. Tracking writes are
// best-effort: failures are logged and never fail the dispatch.
func (r *Router) track(ctx context.Context, identity, provider, messageID string) {
	record := DeliveryRecord{
		Identity: identity,
		Provider: provider,
		Status:   StatusPending,
		SentAt:   r.clock.Now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err == nil {
		err = r.store.Set(ctx, keyDelivery+messageID, string(raw), domain.DeliveryRecordTTL)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "delivery record write failed",
			slog.String("message_id", messageID), slog.Any("error", err))
	}

	if err := r.store.Set(ctx, keyLastProvider+identity, provider, domain.LastProviderHintTTL); err != nil {
		r.logger.WarnContext(ctx, "last provider hint write failed",
			slog.String("phone", MaskPhone(identity)), slog.Any("error", err))
	}
}

// Delivery returns the tracked record for messageID.
func (r *Router) Delivery(ctx context.Context, messageID string) (DeliveryRecord, error) {
	raw, err := r.store.Get(ctx, keyDelivery+messageID)
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return DeliveryRecord{}, domain.ErrNotFound
		}
		return DeliveryRecord{}, fmt.Errorf("read delivery record: %w", err)
	}
	var record DeliveryRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return DeliveryRecord{}, fmt.Errorf("decode delivery record: %w", err)
	}
	return record, nil
}

// UpdateDelivery applies a status transition to the record for messageID.
// Missing records and non-monotonic transitions are no-ops, which makes
// replayed receipts idempotent. The remaining TTL is preserved and the
// receipt is fanned out on the dlr:<messageId> channel.
func (r *Router) UpdateDelivery(ctx context.Context, messageID string, status DeliveryStatus, failureReason string) error {
	key := keyDelivery + messageID

	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("read delivery record: %w", err)
	}

	var record DeliveryRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("decode delivery record: %w", err)
	}

	if record.Status.terminal() || (status != StatusFailed && status.rank() <= record.Status.rank()) {
		return nil
	}

	record.Status = status
	record.FailureReason = failureReason
	if status == StatusDelivered {
		now := r.clock.Now().UTC()
		record.DeliveredAt = &now
	}

	ttl, err := r.store.PTTL(ctx, key)
	if err != nil || ttl <= 0 {
		ttl = domain.DeliveryRecordTTL
	}

	updated, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode delivery record: %w", err)
	}
	if err := r.store.Set(ctx, key, string(updated), ttl); err != nil {
		return fmt.Errorf("write delivery record: %w", err)
	}

	if err := r.store.Publish(ctx, dlrChannelPrefix+messageID, string(updated)); err != nil {
		r.logger.WarnContext(ctx, "dlr fan-out failed",
			slog.String("message_id", messageID), slog.Any("error", err))
	}

	return nil
}

// DLRChannel returns the pub/sub channel name receipts for messageID fan
// out on.
func DLRChannel(messageID string) string {
	return dlrChannelPrefix + messageID
}
