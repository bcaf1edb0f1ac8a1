package logging

import (
	"errors"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bridgeName is the instrumentation scope of records sent through OTEL.
const bridgeName = "github.com/fyrsmithlabs/seer"

func newEncoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder
	encCfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(levelName(l))
	}
	if format == "console" {
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

// newCore builds the local and OTEL sinks, masks secrets on both, and
// samples the result.
func newCore(cfg *Config, provider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stdout || cfg.Output.Stderr {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		out := os.Stdout
		if cfg.Output.Stderr {
			out = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(out), cfg.Level))
	}

	if cfg.Output.OTEL && provider != nil {
		r, err := newRedactor(cfg.Redaction)
		if err != nil {
			return nil, err
		}
		var bridge zapcore.Core = otelzap.NewCore(bridgeName, otelzap.WithLoggerProvider(provider))
		// the bridge has no level of its own
		bridge = filterLevels(bridge, cfg.Level.Enabled)
		if r != nil {
			bridge = &redactingCore{Core: bridge, r: r}
		}
		cores = append(cores, bridge)
	}

	switch len(cores) {
	case 0:
		return nil, errors.New("no log output available: otel requested without a logger provider")
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}
