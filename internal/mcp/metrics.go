package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/seer/internal/pipeline"
)

const instrumentationName = "github.com/fyrsmithlabs/seer/internal/mcp"

// Call outcomes.
const (
	outcomeOK      = "ok"
	outcomePartial = "partial"
	outcomeError   = "error"
)

type toolMetrics struct {
	calls     metric.Int64Counter
	duration  metric.Float64Histogram
	inFlight  metric.Int64UpDownCounter
	documents metric.Int64Histogram
}

func newToolMetrics(meter metric.Meter) (*toolMetrics, error) {
	var (
		m    toolMetrics
		errs [4]error
	)
	m.calls, errs[0] = meter.Int64Counter("seer.mcp.tool.calls",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"))
	m.duration, errs[1] = meter.Float64Histogram("seer.mcp.tool.duration",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60))
	m.inFlight, errs[2] = meter.Int64UpDownCounter("seer.mcp.tool.in_flight",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}"))
	m.documents, errs[3] = meter.Int64Histogram("seer.mcp.tool.documents",
		metric.WithDescription("Articles returned per retrieve_news call"),
		metric.WithUnit("{document}"),
		metric.WithExplicitBucketBoundaries(0, 5, 10, 20, 30, 50))
	return &m, errors.Join(errs[:]...)
}

type toolCall struct {
	m     *toolMetrics
	ctx   context.Context
	tool  attribute.KeyValue
	start time.Time
}

func (m *toolMetrics) begin(ctx context.Context, tool string) *toolCall {
	c := &toolCall{m: m, ctx: ctx, tool: attribute.String("tool", tool), start: time.Now()}
	m.inFlight.Add(ctx, 1, metric.WithAttributes(c.tool))
	return c
}

// end records the call. docs < 0 skips the documents histogram.
func (c *toolCall) end(docs int, partial bool, err error) {
	c.m.inFlight.Add(c.ctx, -1, metric.WithAttributes(c.tool))

	attrs := []attribute.KeyValue{c.tool}
	switch {
	case err != nil:
		attrs = append(attrs, attribute.String("outcome", outcomeError), attribute.String("reason", errorReason(err)))
	case partial:
		attrs = append(attrs, attribute.String("outcome", outcomePartial))
	default:
		attrs = append(attrs, attribute.String("outcome", outcomeOK))
	}
	c.m.calls.Add(c.ctx, 1, metric.WithAttributes(attrs...))
	c.m.duration.Record(c.ctx, time.Since(c.start).Seconds(), metric.WithAttributes(attrs...))
	if docs >= 0 {
		c.m.documents.Record(c.ctx, int64(docs), metric.WithAttributes(c.tool))
	}
}

// errorReason maps an error to a low-cardinality label.
func errorReason(err error) string {
	var aborted *pipeline.PipelineAbortedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pipeline.ErrInvalidPlan):
		return "invalid_request"
	case errors.As(err, &aborted), errors.Is(err, context.Canceled):
		return "aborted"
	case errors.Is(err, pipeline.ErrBudgetExceeded), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, pipeline.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, pipeline.ErrFatalConfiguration):
		return "configuration"
	case strings.Contains(err.Error(), "required"), strings.Contains(err.Error(), "invalid"):
		return "invalid_request"
	default:
		return "internal"
	}
}
