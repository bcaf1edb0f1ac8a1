package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/seer/internal/config"
)

// maxPatternLen bounds user-supplied redaction patterns.
const maxPatternLen = 200

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string // "json" or "console"
	Output OutputConfig
	// Caller adds the calling file:line to local output.
	Caller bool
	// StacktraceLevel attaches stack traces at and above this level.
	StacktraceLevel zapcore.Level
	Sampling        SamplingConfig
	Redaction       RedactionConfig
	// Fields are attached to every entry.
	Fields map[string]string
}

// OutputConfig selects the sinks. Stdout and Stderr are exclusive; Stderr
// wins so stdout stays free for command output and the MCP stdio stream.
type OutputConfig struct {
	Stdout bool
	Stderr bool
	OTEL   bool
}

// SamplingConfig limits repeated messages per level. Error and above are
// never sampled.
type SamplingConfig struct {
	Enabled bool
	Tick    config.Duration
	Rules   map[zapcore.Level]SamplingRule
}

// SamplingRule keeps the first Initial entries with the same message per
// tick, then every Thereafter-th. Thereafter 0 drops the rest of the tick.
type SamplingRule struct {
	Initial    int
	Thereafter int
}

// RedactionConfig lists the field names and value patterns masked before
// an entry reaches any sink.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// defaultRedactedFields are matched case-insensitively against field keys.
var defaultRedactedFields = []string{
	"api_key", "apikey", "x-api-key", "authorization", "bearer",
	"token", "secret", "password", "credential", "private_key",
}

// defaultRedactedPatterns cover the credential shapes seer handles: LLM
// and search provider keys, and bearer headers.
var defaultRedactedPatterns = []string{
	`sk-ant-[A-Za-z0-9_-]{8,}`,
	`\bsk-[A-Za-z0-9_-]{16,}`,
	`\bpplx-[A-Za-z0-9]{8,}`,
	`(?i)bearer\s+\S+`,
	`(?i)(api[_-]?key|x-api-key)[=:]\s*\S+`,
}

// NewDefaultConfig returns the configuration used by every command unless
// settings override it.
func NewDefaultConfig() *Config {
	return &Config{
		Level:           zapcore.InfoLevel,
		Format:          "json",
		Output:          OutputConfig{Stdout: true},
		Caller:          true,
		StacktraceLevel: zapcore.ErrorLevel,
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Rules: map[zapcore.Level]SamplingRule{
				TraceLevel:         {Initial: 1},
				zapcore.DebugLevel: {Initial: 10},
				// per-document messages inside one run share a text
				zapcore.InfoLevel: {Initial: 100, Thereafter: 10},
				zapcore.WarnLevel: {Initial: 100, Thereafter: 100},
			},
		},
		Redaction: RedactionConfig{
			Enabled:  true,
			Fields:   append([]string(nil), defaultRedactedFields...),
			Patterns: append([]string(nil), defaultRedactedPatterns...),
		},
		Fields: map[string]string{"service": "seer"},
	}
}

// FromSettings applies the level and format from the config file.
// otelEnabled turns on the OTEL sink when telemetry exports logs.
func FromSettings(s config.LoggingConfig, otelEnabled bool) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Level != "" {
		level, err := LevelFromString(s.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", s.Level, err)
		}
		cfg.Level = level
	}
	if s.Format != "" {
		cfg.Format = s.Format
	}
	cfg.Output.OTEL = otelEnabled
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be json or console, got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return errors.New("at least one output must be enabled (stdout, stderr or otel)")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			return errors.New("sampling tick must be positive")
		}
		for lvl, rule := range c.Sampling.Rules {
			if rule.Initial < 0 || rule.Thereafter < 0 {
				return fmt.Errorf("sampling rule for %s must not be negative", levelName(lvl))
			}
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > maxPatternLen {
				return fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q=%q needs a key and a value", k, v)
		}
	}
	return nil
}
