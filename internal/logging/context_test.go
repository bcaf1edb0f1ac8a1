package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithUserID(ctx, "user@example.com")
	ctx = WithRequestID(ctx, "req_9")

	keys := map[string]string{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "run-1", keys["run.id"])
	assert.Equal(t, "user@example.com", keys["user.id"])
	assert.Equal(t, "req_9", keys["request.id"])
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tl := NewTestLogger()
	tl.Info(ctx, "traced")
	tl.AssertField(t, "traced", "trace_id", traceID.String())
}

func TestWithUserID_IgnoresInvalid(t *testing.T) {
	ctx := WithUserID(context.Background(), "bad id with spaces")
	assert.Empty(t, UserIDFromContext(ctx))
}

func TestWithRunID_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { WithRunID(context.Background(), "") })
	assert.Panics(t, func() { WithRequestID(context.Background(), "a/b") })
}
