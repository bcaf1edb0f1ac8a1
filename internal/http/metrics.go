package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/seer/internal/http"

// Job modes.
const (
	modeSync  = "sync"
	modeAsync = "async"
)

type serverMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	bytes    metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
	streams  metric.Int64UpDownCounter
	jobs     metric.Int64Counter
}

func newServerMetrics(meter metric.Meter) (*serverMetrics, error) {
	var (
		m    serverMetrics
		errs [6]error
	)
	m.requests, errs[0] = meter.Int64Counter("seer.http.requests",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	// Sync retrieves run the whole pipeline, so buckets reach a minute.
	m.latency, errs[1] = meter.Float64Histogram("seer.http.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60))
	m.bytes, errs[2] = meter.Int64Histogram("seer.http.response.size",
		metric.WithDescription("HTTP response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 8192, 65536, 262144, 1048576))
	m.inFlight, errs[3] = meter.Int64UpDownCounter("seer.http.in_flight",
		metric.WithDescription("HTTP requests in progress"),
		metric.WithUnit("{request}"))
	m.streams, errs[4] = meter.Int64UpDownCounter("seer.http.streams",
		metric.WithDescription("Open job event streams"),
		metric.WithUnit("{stream}"))
	m.jobs, errs[5] = meter.Int64Counter("seer.http.jobs",
		metric.WithDescription("Retrieval jobs started, by mode"),
		metric.WithUnit("{job}"))
	return &m, errors.Join(errs[:]...)
}

// middleware records every request under its route pattern.
func (m *serverMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()
		m.inFlight.Add(ctx, 1)
		defer m.inFlight.Add(ctx, -1)

		err := next(c)

		status := c.Response().Status
		var he *echo.HTTPError
		if err != nil && errors.As(err, &he) && !c.Response().Committed {
			status = he.Code
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request().Method),
			attribute.String("route", routePath(c)),
			attribute.Int("status", status),
		)
		m.requests.Add(ctx, 1, attrs)
		m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		m.bytes.Record(ctx, c.Response().Size, attrs)
		return err
	}
}

func (m *serverMetrics) jobStarted(ctx context.Context, mode string) {
	m.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// streamOpened counts an SSE stream until the returned func runs.
func (m *serverMetrics) streamOpened(ctx context.Context) func() {
	m.streams.Add(ctx, 1)
	return func() { m.streams.Add(ctx, -1) }
}

// routePath is the registered pattern (/api/v1/jobs/:id) so job ids never
// become label values.
func routePath(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
