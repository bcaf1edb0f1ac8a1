package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. seer uses it for raw provider and LLM
// payloads.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" and "warning" in
// any case.
func LevelFromString(level string) (zapcore.Level, error) {
	switch name := strings.ToLower(strings.TrimSpace(level)); name {
	case "trace":
		return TraceLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	default:
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(name)); err != nil {
			return zapcore.InfoLevel, err
		}
		return l, nil
	}
}

func levelName(l zapcore.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}
