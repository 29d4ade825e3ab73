package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("hitl", "test", exporter))

	ctx, parent := StartSpan(context.Background(), "checkpoint.resolve", KindInternal)
	parent.WithAttributes(map[string]string{"checkpoint.id": "cp1"})
	assert.NotEmpty(t, parent.TraceID())
	assert.Equal(t, parent.TraceID(), TraceID(ctx))

	_, child := StartSpan(ctx, "audit.append", KindInternal)
	child.AddEvent("retry", map[string]string{"attempt": "1"})
	EndSpan(child, errors.New("boom"))
	EndSpan(parent, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "audit.append", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
}

func TestNilSpan(t *testing.T) {
	var span *Span
	assert.Nil(t, span.WithAttributes(map[string]string{"a": "b"}))
	assert.Empty(t, span.TraceID())
	EndSpan(span, nil)
	assert.Empty(t, TraceID(context.Background()))
}
