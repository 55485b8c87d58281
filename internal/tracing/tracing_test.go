package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	tp, err := Setup(context.Background(), Options{Profile: "main"})
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestNewProviderTagsResource(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := NewProvider(Options{Profile: "arena"}, sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
	attrs := spans[0].Resource().Attributes()
	assert.Contains(t, attrs, attribute.String("service.name", ServiceName))
	assert.Contains(t, attrs, attribute.String("netid.profile", "arena"))
}

func TestNewProviderSampleRatio(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := NewProvider(Options{SampleRatio: 0.000001}, sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	for i := 0; i < 20; i++ {
		_, span := tp.Tracer("test").Start(context.Background(), "op")
		span.End()
	}
	assert.Less(t, len(rec.Ended()), 20)
}
