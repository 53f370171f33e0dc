package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ndajr/urlshortener-analytics/internal/config"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), config.Tracing{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	require.False(t, span.SpanContext().IsValid())
}

func TestNewResource(t *testing.T) {
	res := NewResource(config.Tracing{ServiceName: "urlshortener", ServiceVersion: "1.2.3"})

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	require.Equal(t, "urlshortener", attrs[string(semconv.ServiceNameKey)])
	require.Equal(t, "1.2.3", attrs[string(semconv.ServiceVersionKey)])
}
