package otp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/domain/domaintest"
	"github.com/kossrlive/isignin/internal/otp"
	"github.com/kossrlive/isignin/internal/store"
)

func newOrderEngine(t *testing.T) (*otp.OrderConfirmation, *domaintest.FakeClock) {
	t.Helper()
	clock := domaintest.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	mem := store.NewMemory(clock)
	t.Cleanup(func() { _ = mem.Close() })
	return otp.NewOrderConfirmation(mem, clock), clock
}

func TestOrderCodeBinding(t *testing.T) {
	engine, _ := newOrderEngine(t)
	engine.WithGenerator(fixedCodes("908172", "445566"))
	ctx := context.Background()

	code, err := engine.Issue(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "908172", code)

	require.NoError(t, engine.Verify(ctx, "O1", "908172"))

	// Consumed on success.
	assert.ErrorIs(t, engine.Verify(ctx, "O1", "908172"), domain.ErrCodeExpired)

	t.Run("codes are not fungible across orders", func(t *testing.T) {
		code, err := engine.Issue(ctx, "O1")
		require.NoError(t, err)
		assert.Equal(t, "445566", code)

		assert.ErrorIs(t, engine.Verify(ctx, "O2", "445566"), domain.ErrCodeExpired)
		require.NoError(t, engine.Verify(ctx, "O1", "445566"))
	})
}

func TestOrderCodeMismatchKeepsRecord(t *testing.T) {
	engine, _ := newOrderEngine(t)
	engine.WithGenerator(fixedCodes("111111"))
	ctx := context.Background()

	_, err := engine.Issue(ctx, "O7")
	require.NoError(t, err)

	assert.ErrorIs(t, engine.Verify(ctx, "O7", "222222"), domain.ErrCodeMismatch)
	require.NoError(t, engine.Verify(ctx, "O7", "111111"))
}

func TestOrderCodeExpiry(t *testing.T) {
	engine, clock := newOrderEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, "O9")
	require.NoError(t, err)

	clock.Advance(domain.OrderOTPValidityDuration + time.Second)
	assert.ErrorIs(t, engine.Verify(ctx, "O9", code), domain.ErrCodeExpired)
}

func TestOrderIssueRequiresID(t *testing.T) {
	engine, _ := newOrderEngine(t)
	_, err := engine.Issue(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
