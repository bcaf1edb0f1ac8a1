// Package telemetry wires seer to an OpenTelemetry collector.
//
// New builds OTLP exporters for traces, metrics and logs over gRPC or
// HTTP/protobuf and installs them as the otel globals, so the pipeline and
// delivery spans started through otel.Tracer reach the collector without
// further wiring. LoggerProvider feeds the zap bridge in package logging.
// A missing collector degrades the affected signal instead of failing
// startup; Health carries the reasons.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests call Install to record spans and metrics in memory.
package telemetry
