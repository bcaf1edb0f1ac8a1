package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the trace, metric and log providers for the process.
// A failing exporter leaves its signal on the no-op global and marks the
// instance degraded; startup never fails because a collector is missing.
type Telemetry struct {
	config *Config

	tracers *sdktrace.TracerProvider
	meters  *sdkmetric.MeterProvider
	logs    *sdklog.LoggerProvider

	stopped atomic.Bool

	mu       sync.Mutex
	failures []string
}

// New validates cfg and, when enabled, installs OTLP providers as the otel
// globals.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		t.fail("resource", err)
		return t, nil
	}

	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.fail("traces", err)
	} else {
		t.tracers = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.fail("metrics", err)
	} else if mp != nil {
		t.meters = mp
		otel.SetMeterProvider(mp)
	}

	if lp, err := newLoggerProvider(ctx, cfg, res); err != nil {
		t.fail("logs", err)
	} else if lp != nil {
		t.logs = lp
		global.SetLoggerProvider(lp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer from the installed provider, or the global one.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracers == nil {
		return otel.Tracer(name, opts...)
	}
	return t.tracers.Tracer(name, opts...)
}

// Meter returns a meter from the installed provider, or the global one.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meters == nil {
		return otel.Meter(name, opts...)
	}
	return t.meters.Meter(name, opts...)
}

// LoggerProvider is what the zap bridge should write to, or nil when log
// export is off.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.logs == nil {
		return nil
	}
	return t.logs
}

type flusher struct {
	signal   string
	flush    func(context.Context) error
	shutdown func(context.Context) error
}

// flushers lists the live providers. Logs go last so records emitted while
// the other providers stop still leave the process.
func (t *Telemetry) flushers() []flusher {
	var fs []flusher
	if t.tracers != nil {
		fs = append(fs, flusher{"trace", t.tracers.ForceFlush, t.tracers.Shutdown})
	}
	if t.meters != nil {
		fs = append(fs, flusher{"meter", t.meters.ForceFlush, t.meters.Shutdown})
	}
	if t.logs != nil {
		fs = append(fs, flusher{"log", t.logs.ForceFlush, t.logs.Shutdown})
	}
	return fs
}

// Shutdown flushes and stops every provider. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	for _, f := range t.flushers() {
		if err := f.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s provider shutdown: %w", f.signal, err))
		}
	}
	t.stopped.Store(true)
	return errors.Join(errs...)
}

// ForceFlush exports everything buffered so far.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, f := range t.flushers() {
		if err := f.flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s flush: %w", f.signal, err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports whether telemetry export is working.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Reason   string
}

// Health reports Healthy until Shutdown, and Degraded with the collected
// reasons when any provider failed to start.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return HealthStatus{
		Healthy:  !t.stopped.Load(),
		Degraded: len(t.failures) > 0,
		Reason:   strings.Join(t.failures, "; "),
	}
}

// IsEnabled is true while an enabled instance has not been shut down.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && !t.stopped.Load()
}

func (t *Telemetry) fail(signal string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, fmt.Sprintf("%s: %v", signal, err))
}
