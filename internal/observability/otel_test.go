package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kossrlive/isignin/internal/observability"
)

func TestInitOTELWithoutEndpoint(t *testing.T) {
	providers, err := observability.InitOTEL(context.Background(), observability.OTELConfig{
		ServiceName:    "authsvc",
		ServiceVersion: "0.1.0",
		Environment:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, providers)

	// With no exporter the providers still serve instruments and shut
	// down cleanly.
	tracer := observability.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop")
	span.End()

	meter := observability.Meter("test")
	counter, err := meter.Int64Counter("test_counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestProvidersShutdownNilSafe(t *testing.T) {
	var providers *observability.Providers
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestTraceIDFromContext(t *testing.T) {
	assert.Empty(t, observability.TraceIDFromContext(context.Background()))
}
