package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/seer/internal/config"
)

const (
	redacted        = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// Secret logs a config.Secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString logs val as "[REDACTED:<len>]".
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactor applies a RedactionConfig to keys and string values.
type redactor struct {
	keys     map[string]bool
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	r := &redactor{keys: make(map[string]bool, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = true
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// key reports whether the field name itself is sensitive.
func (r *redactor) key(k string) bool {
	return r != nil && r.keys[strings.ToLower(k)]
}

// value masks val when key is sensitive or val matches a pattern.
func (r *redactor) value(key, val string) (string, bool) {
	if r == nil {
		return val, false
	}
	if r.key(key) {
		return redacted, true
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return redactedPattern, true
		}
	}
	return val, false
}

// field masks a zap field; only string-typed values are pattern checked.
func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if r == nil {
		return f
	}
	if r.key(f.Key) {
		return zap.String(f.Key, redacted)
	}
	if f.Type == zapcore.StringType {
		if v, ok := r.value(f.Key, f.String); ok {
			return zap.String(f.Key, v)
		}
	}
	return f
}

func (r *redactor) fields(fs []zapcore.Field) []zapcore.Field {
	if r == nil || len(fs) == 0 {
		return fs
	}
	out := make([]zapcore.Field, len(fs))
	for i, f := range fs {
		out[i] = r.field(f)
	}
	return out
}

// RedactingEncoder masks sensitive fields while encoding local output.
type RedactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

// NewRedactingEncoder wraps base with the rules in cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	r, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, r: r}, nil
}

func (e *RedactingEncoder) AddString(key, val string) {
	v, _ := e.r.value(key, val)
	e.Encoder.AddString(key, v)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.r.key(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.r.key(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected masks the whole value when the key is sensitive; nested
// values are not inspected.
func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.r.key(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r.key(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r.key(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// EncodeEntry masks per-entry fields, which bypass the Add methods, and
// the message.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if _, ok := e.r.value("", ent.Message); ok {
		ent.Message = redactedPattern
	}
	return e.Encoder.EncodeEntry(ent, e.r.fields(fields))
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}

// redactingCore masks fields before they reach a core that does no
// encoding of its own, such as the OTEL bridge.
type redactingCore struct {
	zapcore.Core
	r *redactor
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(c.r.fields(fields)), r: c.r}
}

func (c *redactingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *redactingCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	if _, ok := c.r.value("", e.Message); ok {
		e.Message = redactedPattern
	}
	return c.Core.Write(e, c.r.fields(fields))
}
