package evolution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func spanOutcome(span sdktrace.ReadOnlySpan) string {
	for _, kv := range span.Attributes() {
		if kv.Key == attribute.Key("config.outcome") {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestEvolveRecordsSpan(t *testing.T) {
	recorder := installRecorder(t)
	f := newFixture(t, replying("warn"))

	_, err := f.pipeline.Evolve(context.Background(), evolveRequest("less noise please"))
	require.NoError(t, err)
	_, err = f.pipeline.Evolve(context.Background(), Request{Credential: "wrong", Target: TargetLoggingLevel, Instruction: "debug"})
	require.Error(t, err)

	var evolve []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "config.evolve" {
			evolve = append(evolve, span)
		}
	}
	require.Len(t, evolve, 2)

	assert.Equal(t, "success", spanOutcome(evolve[0]))
	assert.Equal(t, codes.Ok, evolve[0].Status().Code)

	assert.Equal(t, "forbidden", spanOutcome(evolve[1]))
	assert.Equal(t, codes.Error, evolve[1].Status().Code)
}
