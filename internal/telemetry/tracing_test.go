package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerProvider(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, "impact-crawler-test", 1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	spanCtx, span := otel.Tracer("test").Start(ctx, "score")
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestInitTracerProviderNeverSample(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, "impact-crawler-test", -3, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	_, span := tp.Tracer("test").Start(ctx, "score")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestStdoutExporterFollowsSampleRatio(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		exported bool
	}{
		{name: "always sampled", ratio: 1, exported: true},
		{name: "never sampled", ratio: 0, exported: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			var buf bytes.Buffer
			exp, err := NewExporter(ExporterStdout, &buf)
			require.NoError(t, err)
			require.NotNil(t, exp)

			tp, err := InitTracerProvider(ctx, "impact-crawler-test", tt.ratio, exp)
			require.NoError(t, err)

			_, span := tp.Tracer("test").Start(ctx, "fetch-records")
			span.End()
			require.NoError(t, tp.Shutdown(ctx))

			assert.Equal(t, tt.exported, bytes.Contains(buf.Bytes(), []byte("fetch-records")))
		})
	}
}

func TestNewExporter(t *testing.T) {
	exp, err := NewExporter(ExporterNone, nil)
	require.NoError(t, err)
	assert.Nil(t, exp)

	exp, err = NewExporter("", nil)
	require.NoError(t, err)
	assert.Nil(t, exp)

	_, err = NewExporter("jaeger", nil)
	require.ErrorContains(t, err, `unknown trace exporter "jaeger"`)
}
