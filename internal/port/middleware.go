package port

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/google/uuid"

	"github.com/kossrlive/isignin/internal/observability"
	"github.com/kossrlive/isignin/internal/ratelimit"
)

// RequestIDHeader is mirrored from the request or generated per request.
const RequestIDHeader = "X-Request-ID"

// RequestID mirrors or generates the request id, threads it through the
// context, and reflects it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		ctx := observability.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit denies over-limit requests before they reach a handler,
// emitting Retry-After directly.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Allow(r.Context(), clientIP(r), r.URL.Path)
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AlertHook is invoked for unexpected panics and internal errors, carrying
// the request id. Wire an external pager here.
type AlertHook func(ctx context.Context, requestID string, err any)

// Recoverer converts panics into 500 responses, logs the stack with the
// request id, and invokes the alert hook.
func Recoverer(logger *slog.Logger, alert AlertHook) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					reqID := observability.RequestIDFromContext(r.Context())
					logger.ErrorContext(r.Context(), "panic in handler",
						slog.Any("panic", rec),
						slog.String("request_id", reqID),
						slog.String("stack", string(debug.Stack())),
					)
					if alert != nil {
						alert(r.Context(), reqID, rec)
					}
					writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the caller address, honoring X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
