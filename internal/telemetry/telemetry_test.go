package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitStdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := Init(ctx, Config{ServiceName: "contentapi-test", UseStdout: true, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry_test").Start(ctx, "posts.List")
	span.End()

	// Shutdown flushes the batcher.
	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "posts.List")
	assert.Contains(t, buf.String(), "contentapi-test")
}

func TestInitWithoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
