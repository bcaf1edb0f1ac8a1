package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Recorder captures spans and metrics in memory.
type Recorder struct {
	Spans  *tracetest.SpanRecorder
	Reader *sdkmetric.ManualReader

	tracers *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
}

// Install points the otel globals at a fresh Recorder for the rest of the
// test and restores the previous providers on cleanup. Packages that grab
// tracers through otel.Tracer are recorded without any wiring. Tests that
// call Install must not run in parallel.
func Install(tb testing.TB) *Recorder {
	tb.Helper()

	r := &Recorder{
		Spans:  tracetest.NewSpanRecorder(),
		Reader: sdkmetric.NewManualReader(),
	}
	r.tracers = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(r.Spans))
	r.meters = sdkmetric.NewMeterProvider(sdkmetric.WithReader(r.Reader))

	prevTracers := otel.GetTracerProvider()
	prevMeters := otel.GetMeterProvider()
	otel.SetTracerProvider(r.tracers)
	otel.SetMeterProvider(r.meters)

	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTracers)
		otel.SetMeterProvider(prevMeters)
		_ = r.tracers.Shutdown(context.Background())
		_ = r.meters.Shutdown(context.Background())
	})
	return r
}

// Telemetry wraps the recorder's providers so code taking a *Telemetry
// records into it too.
func (r *Recorder) Telemetry() *Telemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	return &Telemetry{config: cfg, tracers: r.tracers, meters: r.meters}
}

// Ended returns the finished spans in end order.
func (r *Recorder) Ended() []sdktrace.ReadOnlySpan {
	return r.Spans.Ended()
}

// SpanNames lists ended span names in end order.
func (r *Recorder) SpanNames() []string {
	ended := r.Ended()
	names := make([]string, len(ended))
	for i, s := range ended {
		names[i] = s.Name()
	}
	return names
}

// Span returns the last ended span called name, or nil.
func (r *Recorder) Span(name string) sdktrace.ReadOnlySpan {
	ended := r.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		if ended[i].Name() == name {
			return ended[i]
		}
	}
	return nil
}

// Attr returns the value of key on the named span, or nil when either is
// missing.
func (r *Recorder) Attr(spanName, key string) any {
	span := r.Span(spanName)
	if span == nil {
		return nil
	}
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return attrValue(kv.Value)
		}
	}
	return nil
}

func attrValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}

// Metric collects and returns the named metric, or false when it has not
// been recorded.
func (r *Recorder) Metric(ctx context.Context, name string) (metricdata.Metrics, bool) {
	var rm metricdata.ResourceMetrics
	if err := r.Reader.Collect(ctx, &rm); err != nil {
		return metricdata.Metrics{}, false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}
