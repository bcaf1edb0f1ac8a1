package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"

	"github.com/fyrsmithlabs/seer/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledInstallsProviders(t *testing.T) {
	prevTracers := otel.GetTracerProvider()
	prevLogs := global.GetLoggerProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTracers)
		global.SetLoggerProvider(prevLogs)
	})

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "127.0.0.1:1"
	cfg.Metrics.Enabled = false

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded, tel.Health().Reason)
	require.NotNil(t, tel.LoggerProvider(), "log export is on by default")
	assert.Same(t, tel.tracers, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
}

func TestTelemetry_FailuresAccumulate(t *testing.T) {
	tel := &Telemetry{config: NewDefaultConfig()}
	tel.fail("traces", assert.AnError)
	tel.fail("logs", assert.AnError)

	h := tel.Health()
	assert.True(t, h.Healthy)
	assert.True(t, h.Degraded)
	assert.Contains(t, h.Reason, "traces: ")
	assert.Contains(t, h.Reason, "; logs: ")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"local insecure", func(c *Config) { c.Enabled = true }, false},
		{"ipv6 loopback", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, false},
		{"remote insecure", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"remote tls", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"http scheme local", func(c *Config) { c.Enabled = true; c.Protocol = protocolHTTP; c.Endpoint = "http://localhost:4318" }, false},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, true},
		{"bad rate", func(c *Config) { c.Enabled = true; c.Sampling.Rate = 2 }, true},
		{"no service", func(c *Config) { c.Enabled = true; c.ServiceName = "" }, true},
		{"zero log interval", func(c *Config) { c.Enabled = true; c.Logs.ExportInterval = 0 }, true},
		{"zero log interval without logs", func(c *Config) { c.Enabled = true; c.Logs = LogsConfig{} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = ""
	cfg.Sampling.Rate = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service_name")
	assert.Contains(t, err.Error(), "sample rate")
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"127.10.0.3", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"http://localhost:4318", true},
		{"10.0.0.5:4317", false},
		{"collector.local:4317", false},
		{"localhost.evil.com:4317", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isLoopback(tt.endpoint), tt.endpoint)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "localhost:4318",
		Protocol:   protocolHTTP,
		Insecure:   true,
		SampleRate: 0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, protocolHTTP, cfg.Protocol)
	assert.Equal(t, "seer", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, 0.25, cfg.Sampling.Rate)
	assert.False(t, cfg.Logs.Enabled)
	assert.NoError(t, cfg.Validate())

	assert.True(t, FromSettings(config.Default().Telemetry, "").Logs.Enabled)
}

func TestNewResource(t *testing.T) {
	res, err := newResource(NewDefaultConfig())
	require.NoError(t, err)

	name, ok := res.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "seer", name.AsString())
}

func TestCollectorFor(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		endpoint string
		http     bool
		withTLS  bool
	}{
		{"grpc keeps endpoint", func(c *Config) {}, "localhost:4317", false, false},
		{"http strips scheme", func(c *Config) { c.Protocol = protocolHTTP; c.Endpoint = "https://otel.example.com:4318" }, "otel.example.com:4318", true, false},
		{"skip verify needs tls", func(c *Config) { c.TLSSkipVerify = true }, "localhost:4317", false, false},
		{"skip verify over tls", func(c *Config) { c.Insecure = false; c.TLSSkipVerify = true }, "localhost:4317", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			c := collectorFor(cfg)
			assert.Equal(t, tt.endpoint, c.endpoint)
			assert.Equal(t, tt.http, c.http)
			assert.Equal(t, tt.withTLS, c.tls != nil)
		})
	}
}

func TestNewSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("http://host:4318"))
	assert.Equal(t, "host:4317", stripScheme("host:4317"))
}

func TestInstall(t *testing.T) {
	ctx := context.Background()
	before := otel.GetTracerProvider()

	t.Run("records through globals", func(t *testing.T) {
		rec := Install(t)

		_, span := otel.Tracer("seer/test").Start(ctx, "pipeline.Run")
		span.SetAttributes(attribute.Int("documents", 7), attribute.String("stage", "done"))
		span.End()

		counter, err := otel.Meter("seer/test").Int64Counter("seer.test.count")
		require.NoError(t, err)
		counter.Add(ctx, 1)

		assert.Equal(t, []string{"pipeline.Run"}, rec.SpanNames())
		assert.Equal(t, int64(7), rec.Attr("pipeline.Run", "documents"))
		assert.Equal(t, "done", rec.Attr("pipeline.Run", "stage"))
		assert.Nil(t, rec.Attr("pipeline.Run", "missing"))
		assert.Nil(t, rec.Span("missing"))

		_, ok := rec.Metric(ctx, "seer.test.count")
		assert.True(t, ok)
		_, ok = rec.Metric(ctx, "missing")
		assert.False(t, ok)

		_, span = rec.Telemetry().Tracer("seer/test").Start(ctx, "direct")
		span.End()
		assert.NotNil(t, rec.Span("direct"))
	})

	assert.Equal(t, before, otel.GetTracerProvider(), "globals are restored on cleanup")
}
