package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/observability"
)

func logLine(t *testing.T, attrs ...slog.Attr) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(observability.NewRedactingHandler(&buf, nil))

	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	logger.Info("test", args...)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSecretsAreDropped(t *testing.T) {
	entry := logLine(t,
		slog.String("otp", "425301"),
		slog.String("code", "908172"),
		slog.String("state", "deadbeefdeadbeefdeadbeefdeadbeef"),
		slog.String("multipass_secret", "hush"),
		slog.String("twilio_auth_token", "tok"),
		slog.String("api_key", "sk-12345"),
		slog.String("password", "hunter2"),
	)

	for _, key := range []string{"otp", "code", "state", "multipass_secret", "twilio_auth_token", "api_key", "password"} {
		assert.Equal(t, "[REDACTED]", entry[key], key)
	}
}

func TestIdentitiesAreMasked(t *testing.T) {
	entry := logLine(t,
		slog.String("phone", "+15551234567"),
		slog.String("email", "ada@example.com"),
		slog.String("customer_id", "C1"),
	)

	assert.Equal(t, "***4567", entry["phone"])
	assert.Equal(t, "a***@example.com", entry["email"])
	assert.Equal(t, "C1", entry["customer_id"], "non-identity fields pass through")
}

func TestMaskIdentity(t *testing.T) {
	assert.Equal(t, "***4567", observability.MaskIdentity("+15551234567"))
	assert.Equal(t, "****", observability.MaskIdentity("+15"))
	assert.Equal(t, "a***@example.com", observability.MaskIdentity("ada@example.com"))

	t.Run("idempotent", func(t *testing.T) {
		assert.Equal(t, "***4567", observability.MaskIdentity(observability.MaskIdentity("+15551234567")))
	})
}

func TestRequestIDContext(t *testing.T) {
	ctx := observability.ContextWithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", observability.RequestIDFromContext(ctx))
	assert.Empty(t, observability.RequestIDFromContext(context.Background()))
}

func TestInitLoggerLevels(t *testing.T) {
	logger := observability.InitLogger(observability.LogConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "authsvc",
		Environment: "test",
	})
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
