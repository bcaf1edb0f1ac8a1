package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/seer/internal/config"
)

// Config is the resolved telemetry setup passed to New.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // "grpc" or "http/protobuf"
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	TLSSkipVerify  bool
	Sampling       SamplingConfig
	Metrics        MetricsConfig
	Logs           LogsConfig
	Shutdown       ShutdownConfig
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 // 0.0-1.0
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool
	ExportInterval config.Duration
}

// LogsConfig controls the OTLP log exporter behind the zap bridge.
type LogsConfig struct {
	Enabled        bool
	ExportInterval config.Duration
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration
}

// NewDefaultConfig returns telemetry defaults. Telemetry is off unless a
// collector is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "seer",
		ServiceVersion: "dev",
		Insecure:       true,
		Sampling:       SamplingConfig{Rate: 1.0},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Logs: LogsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(5 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// FromSettings maps the file/env facing settings onto a telemetry config.
func FromSettings(s config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = s.Enabled
	if s.Endpoint != "" {
		cfg.Endpoint = s.Endpoint
	}
	if s.Protocol != "" {
		cfg.Protocol = s.Protocol
	}
	if s.ServiceName != "" {
		cfg.ServiceName = s.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Insecure = s.Insecure
	cfg.Sampling.Rate = s.SampleRate
	cfg.Logs.Enabled = s.Logs
	return cfg
}

// Validate reports every problem with an enabled config at once.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Endpoint == "" {
		fail("telemetry endpoint is empty")
	}
	if c.ServiceName == "" {
		fail("telemetry service_name is empty")
	}
	switch c.Protocol {
	case "", "grpc", protocolHTTP:
	default:
		fail("telemetry protocol %q is not grpc or %s", c.Protocol, protocolHTTP)
	}
	if c.Insecure && c.Endpoint != "" && !isLoopback(c.Endpoint) {
		fail("telemetry insecure is only allowed for loopback endpoints, got %s", c.Endpoint)
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		fail("telemetry sample rate %v is outside [0, 1]", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		fail("telemetry metrics export interval must be positive")
	}
	if c.Logs.Enabled && c.Logs.ExportInterval.Duration() <= 0 {
		fail("telemetry logs export interval must be positive")
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		fail("telemetry shutdown timeout must be positive")
	}
	return errors.Join(errs...)
}

// isLoopback reports whether endpoint (host, host:port or URL) names
// localhost or a loopback IP.
func isLoopback(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
