package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLogLevelString parses a log level name such as "debug" or "WARN".
// Unknown or empty values return defaultLevel.
func ParseLogLevelString(levelStr string, defaultLevel zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return defaultLevel
	}
}

// DefaultLevel returns debug in development mode and info otherwise.
func DefaultLevel(isDevelopment bool) zapcore.Level {
	if isDevelopment {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
