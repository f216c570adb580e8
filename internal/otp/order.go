package otp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/store"
)

const keyOrderRecord = "order:otp:" // order:otp:<orderId>

// OrderConfirmation issues and verifies codes bound to a specific order.
// Codes live in their own namespace: a mismatch here never feeds the
// authentication failure counters.
type OrderConfirmation struct {
	store    store.Store
	clock    domain.Clock
	codeTTL  time.Duration
	length   int
	generate func(length int) (string, error)
}

// NewOrderConfirmation creates the order-confirmation engine.
func NewOrderConfirmation(st store.Store, clock domain.Clock) *OrderConfirmation {
	return &OrderConfirmation{
		store:    st,
		clock:    clock,
		codeTTL:  domain.OrderOTPValidityDuration,
		length:   domain.OTPLength,
		generate: GenerateCode,
	}
}

// WithGenerator overrides code generation. Use only in tests.
func (o *OrderConfirmation) WithGenerator(gen func(length int) (string, error)) *OrderConfirmation {
	o.generate = gen
	return o
}

// Issue creates a code bound to orderID, superseding any prior code for the
// same order.
func (o *OrderConfirmation) Issue(ctx context.Context, orderID string) (string, error) {
	if orderID == "" {
		return "", fmt.Errorf("order id cannot be empty: %w", domain.ErrInvalidInput)
	}

	code, err := o.generate(o.length)
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(record{Code: code, CreatedAt: o.clock.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("encode order otp record: %w", err)
	}
	if err := o.store.Set(ctx, keyOrderRecord+orderID, string(raw), o.codeTTL); err != nil {
		return "", fmt.Errorf("store order otp record: %w", err)
	}

	return code, nil
}

// Verify checks candidate against the code issued for orderID and consumes
// the record on success. Codes are not fungible across orders: a code
// issued for another order fails here.
func (o *OrderConfirmation) Verify(ctx context.Context, orderID, candidate string) error {
	raw, err := o.store.Get(ctx, keyOrderRecord+orderID)
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return domain.ErrCodeExpired
		}
		return fmt.Errorf("read order otp record: %w", err)
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("decode order otp record: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(candidate), []byte(rec.Code)) != 1 {
		return domain.ErrCodeMismatch
	}

	if err := o.store.Del(ctx, keyOrderRecord+orderID); err != nil {
		return fmt.Errorf("consume order otp record: %w", err)
	}
	return nil
}
