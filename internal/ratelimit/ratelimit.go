// Package ratelimit implements fixed-window request admission per
// (client IP, path) on the keyed store. The limiter is supplementary:
// store failures admit the request.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/store"
)

var rateLimitsTotal metric.Int64Counter

func init() {
	m := otel.Meter("ratelimit")

	rateLimitsTotal, _ = m.Int64Counter("security_rate_limits_total",
		metric.WithDescription("Total rate limit denials"))
}

// Result is the admission decision for one request.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts requests in fixed windows.
type Limiter struct {
	store  store.Store
	logger *slog.Logger
	window time.Duration
	max    int
}

// NewLimiter creates a Limiter. Zero window/max fall back to the domain
// defaults.
func NewLimiter(st store.Store, logger *slog.Logger, window time.Duration, max int) *Limiter {
	if window == 0 {
		window = domain.RateLimitWindow
	}
	if max == 0 {
		max = domain.RateLimitMaxRequests
	}
	return &Limiter{store: st, logger: logger, window: window, max: max}
}

// Allow admits or denies one request from clientIP to path. The first
// increment of a window sets its TTL; a denial reports the window's
// remaining TTL as the retry-after. Store failures admit (fail-open).
func (l *Limiter) Allow(ctx context.Context, clientIP, path string) Result {
	key := fmt.Sprintf("ratelimit:%s:%s", clientIP, path)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit check failed, admitting (fail-open)",
			slog.String("client_ip", clientIP), slog.Any("error", err))
		return Result{Allowed: true}
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, l.window); err != nil {
			l.logger.WarnContext(ctx, "rate limit window expire failed",
				slog.String("client_ip", clientIP), slog.Any("error", err))
		}
	}

	if count <= int64(l.max) {
		return Result{Allowed: true}
	}

	rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))

	retryAfter := l.window
	if ttl, err := l.store.PTTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return Result{Allowed: false, RetryAfter: retryAfter}
}
