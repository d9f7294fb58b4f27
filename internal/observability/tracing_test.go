package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "bilimshare-api"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	_, err := InitTracing(TracingConfig{Enabled: true, Exporter: "zipkin"})
	assert.ErrorContains(t, err, `unknown tracing exporter "zipkin"`)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestQuerySpan_RecordsFailure(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := Tracer
	Tracer = tp.Tracer("test")
	t.Cleanup(func() { Tracer = prev })

	_, span := StartQuerySpan(context.Background(), "likes")
	EndSpan(span, errors.New("relation does not exist"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "store.select.likes", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "relation does not exist", ended[0].Status().Description)
}
