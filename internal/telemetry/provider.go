package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const protocolHTTP = "http/protobuf"

// collector describes how every exporter reaches the OTLP endpoint.
type collector struct {
	endpoint string
	http     bool
	insecure bool
	tls      *tls.Config
}

func collectorFor(cfg *Config) collector {
	c := collector{
		endpoint: cfg.Endpoint,
		http:     cfg.Protocol == protocolHTTP,
		insecure: cfg.Insecure,
	}
	if c.http {
		// The HTTP exporters take host:port and add their own path.
		c.endpoint = stripScheme(c.endpoint)
	}
	if !c.insecure && cfg.TLSSkipVerify {
		c.tls = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for private CAs
	}
	return c
}

func (c collector) grpcCredentials() credentials.TransportCredentials {
	return credentials.NewTLS(c.tls)
}

func newResource(cfg *Config) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	), nil
}

// newSampler honours the parent's decision and samples root spans at rate.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	c := collectorFor(cfg)

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if c.http {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.endpoint)}
		switch {
		case c.insecure:
			opts = append(opts, otlptracehttp.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlptracehttp.WithTLSClientConfig(c.tls))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	} else {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.endpoint)}
		switch {
		case c.insecure:
			opts = append(opts, otlptracegrpc.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlptracegrpc.WithTLSCredentials(c.grpcCredentials()))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.Sampling.Rate)),
	), nil
}

// cumulative pins temporality so Prometheus-style backends see running totals.
func cumulative(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	c := collectorFor(cfg)

	var (
		exporter sdkmetric.Exporter
		err      error
	)
	if c.http {
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(c.endpoint),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		switch {
		case c.insecure:
			opts = append(opts, otlpmetrichttp.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(c.tls))
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	} else {
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(c.endpoint),
			otlpmetricgrpc.WithTemporalitySelector(cumulative),
		}
		switch {
		case c.insecure:
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(c.grpcCredentials()))
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(cfg.Metrics.ExportInterval.Duration()))
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

// newLoggerProvider builds the provider the otelzap bridge writes to.
func newLoggerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	if !cfg.Logs.Enabled {
		return nil, nil
	}
	c := collectorFor(cfg)

	var (
		exporter sdklog.Exporter
		err      error
	)
	if c.http {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(c.endpoint)}
		switch {
		case c.insecure:
			opts = append(opts, otlploghttp.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlploghttp.WithTLSClientConfig(c.tls))
		}
		exporter, err = otlploghttp.New(ctx, opts...)
	} else {
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(c.endpoint)}
		switch {
		case c.insecure:
			opts = append(opts, otlploggrpc.WithInsecure())
		case c.tls != nil:
			opts = append(opts, otlploggrpc.WithTLSCredentials(c.grpcCredentials()))
		}
		exporter, err = otlploggrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}

	processor := sdklog.NewBatchProcessor(exporter,
		sdklog.WithExportInterval(cfg.Logs.ExportInterval.Duration()),
		sdklog.WithExportMaxBatchSize(512),
	)
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(processor),
		sdklog.WithResource(res),
	), nil
}

// stripScheme turns "https://host:4318" into "host:4318".
func stripScheme(endpoint string) string {
	for _, scheme := range []string{"https://", "http://"} {
		endpoint = strings.TrimPrefix(endpoint, scheme)
	}
	return endpoint
}
