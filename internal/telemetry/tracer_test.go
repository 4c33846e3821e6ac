package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	shutdown, err := InitTracer("contact-gateway-test", &buf, logger)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "health-check")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "health-check")
	assert.Contains(t, buf.String(), "contact-gateway-test")
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop(context.Background()))
}
