package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// correlation identifies one context-carried id and doubles as its
// context key.
type correlation int

const (
	runID correlation = iota
	userID
	requestID
)

// correlationFields is the log key for each id, in output order.
var correlationFields = [...]string{
	runID:     "run.id",
	userID:    "user.id",
	requestID: "request.id",
}

func (c correlation) from(ctx context.Context) string {
	s, _ := ctx.Value(c).(string)
	return s
}

// ContextFields returns the trace, run, user and request ids carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.Stringer("trace_id", sc.TraceID()),
			zap.Stringer("span_id", sc.SpanID()))
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	for c, key := range correlationFields {
		if v := correlation(c).from(ctx); v != "" {
			fields = append(fields, zap.String(key, v))
		}
	}
	return fields
}

const maxIDLen = 128

var idChars = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

// ValidateID checks id against the correlation id alphabet
// ([A-Za-z0-9_.@-], at most 128 bytes). name labels the error.
func ValidateID(id, name string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s is empty", name)
	case len(id) > maxIDLen:
		return fmt.Errorf("%s is longer than %d bytes", name, maxIDLen)
	case !utf8.ValidString(id), !idChars.MatchString(id):
		return fmt.Errorf("%s has characters outside [A-Za-z0-9_.@-]", name)
	}
	return nil
}

func RunIDFromContext(ctx context.Context) string     { return runID.from(ctx) }
func UserIDFromContext(ctx context.Context) string    { return userID.from(ctx) }
func RequestIDFromContext(ctx context.Context) string { return requestID.from(ctx) }

// WithRunID panics on an invalid id; run ids are generated internally.
func WithRunID(ctx context.Context, id string) context.Context {
	return mustWith(ctx, runID, id)
}

// WithRequestID panics on an invalid id. Callers validate header values
// with ValidateID first.
func WithRequestID(ctx context.Context, id string) context.Context {
	return mustWith(ctx, requestID, id)
}

// WithUserID drops an invalid id and returns ctx unchanged.
func WithUserID(ctx context.Context, id string) context.Context {
	if ValidateID(id, "user id") != nil {
		return ctx
	}
	return context.WithValue(ctx, userID, id)
}

func mustWith(ctx context.Context, c correlation, id string) context.Context {
	if err := ValidateID(id, correlationFields[c]); err != nil {
		panic("logging: " + err.Error())
	}
	return context.WithValue(ctx, c, id)
}
