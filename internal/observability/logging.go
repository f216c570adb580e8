package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig holds configuration for the structured logger.
type LogConfig struct {
	Level       string // "debug", "info", "warn", "error"
	Format      string // "json" or "text"
	ServiceName string
	Environment string
}

// This service logs next to secrets by construction: one-time passcodes,
// Multipass tokens and the shop secret that signs them, provider
// credentials, OAuth codes and CSRF state, customer phone numbers and
// email addresses. Sanitization is split in two: secret-bearing
// attributes are dropped outright, identity-bearing attributes are
// masked so a log line stays correlatable without carrying the raw PII.

// secretKeys name attributes whose value is a credential on its own:
// the challenge code a user must never see logged, and the OAuth
// exchange material.
var secretKeys = map[string]bool{
	"otp":           true,
	"code":          true,
	"candidate":     true,
	"state":         true,
	"id_token":      true,
	"access_token":  true,
	"refresh_token": true,
}

// secretKeyPatterns catch credential configuration by substring:
// SHOPIFY_MULTIPASS_SECRET, TWILIO_AUTH_TOKEN, SMS_TO_API_KEY and
// friends all land here whatever the call site names them.
var secretKeyPatterns = []string{
	"secret",
	"password",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"bearer",
	"credential",
	"private",
	"multipass",
	"_key",
}

// identityKeys name attributes carrying a customer identity. Their
// values are masked, not dropped: the last digits of a phone or the
// domain of an email are what an operator greps for.
var identityKeys = map[string]bool{
	"phone":    true,
	"identity": true,
	"to":       true,
	"email":    true,
}

// InitLogger creates a new structured logger with attribute
// sanitization. The returned logger is also set as the default via
// slog.SetDefault.
func InitLogger(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: sanitizeAttr,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
	)

	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRedactingHandler creates a slog handler with the same sanitization
// for custom handler composition (tests, alternate sinks).
func NewRedactingHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	originalReplace := opts.ReplaceAttr
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if originalReplace != nil {
			a = originalReplace(groups, a)
		}
		return sanitizeAttr(groups, a)
	}

	return slog.NewJSONHandler(w, opts)
}

// sanitizeAttr is the ReplaceAttr function applying the two-tier policy.
func sanitizeAttr(_ []string, a slog.Attr) slog.Attr {
	keyLower := strings.ToLower(a.Key)

	if secretKeys[keyLower] {
		return slog.String(a.Key, "[REDACTED]")
	}
	for _, pattern := range secretKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}

	if identityKeys[keyLower] && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, MaskIdentity(a.Value.String()))
	}

	return a
}

// MaskIdentity masks a customer identity for logging: an email keeps its
// first rune and domain, anything else is treated as a phone number and
// keeps its last four digits. Masking is idempotent.
func MaskIdentity(identity string) string {
	if at := strings.IndexByte(identity, '@'); at > 0 {
		return identity[:1] + "***@" + identity[at+1:]
	}
	if len(identity) <= 4 {
		return "****"
	}
	return "***" + identity[len(identity)-4:]
}

// LoggerFromContext returns the default logger enriched with the request
// id and, when a span is active, the trace id from ctx.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return WithRequestID(ctx, slog.Default())
}

// WithRequestID returns logger enriched with the request id and trace id
// from ctx, when present.
func WithRequestID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		logger = logger.With(slog.String("request_id", reqID))
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}
	return logger
}
