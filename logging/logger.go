// Package logging provides structured logging for the ComfyUI client.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger and redacts sensitive values before they are
// written.
//
// It composes:
//   - FileWriter (log file rotation via lumberjack)
//   - MultiCore (tee output to console + file)
//   - SensitiveFilter (token redaction)
//
// Example:
//
//	logger, err := NewLogger(true, "comfyclient.log")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("connected", zap.String("client_id", clientID))
type Logger struct {
	zap           *zap.Logger
	sugar         *zap.SugaredLogger
	isDevelopment bool
	logFilePath   string
}

// NewLogger creates a Logger for the given environment.
//
// Development mode uses colored console output at debug level; production
// uses JSON at info level. Both tee into a rotated log file at logFilePath.
func NewLogger(isDevelopment bool, logFilePath string) (*Logger, error) {
	level := zapcore.InfoLevel
	if isDevelopment {
		level = zapcore.DebugLevel
	}
	return NewLoggerWithLevel(isDevelopment, logFilePath, level)
}

// NewLoggerWithLevel creates a Logger with an explicit minimum level.
// An empty logFilePath logs to the console only.
func NewLoggerWithLevel(isDevelopment bool, logFilePath string, level zapcore.Level) (*Logger, error) {
	return NewLoggerWithConfig(isDevelopment, logFilePath, level, DefaultFileWriterConfig())
}

// NewLoggerWithConfig creates a Logger with custom file rotation configuration.
func NewLoggerWithConfig(isDevelopment bool, logFilePath string, level zapcore.Level, fileConfig FileWriterConfig) (*Logger, error) {
	core, err := NewMultiCore(level, logFilePath, isDevelopment, fileConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create log core: %w", err)
	}
	return newLogger(core, isDevelopment, logFilePath), nil
}

// NewNop returns a Logger that discards everything. Library constructors
// fall back to it when no logger is supplied.
func NewNop() *Logger {
	return newLogger(zapcore.NewNopCore(), false, "")
}

// NewFromCore builds a Logger around an existing core. Tests use it with
// zaptest/observer to assert on log output.
func NewFromCore(core zapcore.Core) *Logger {
	return newLogger(core, true, "")
}

func newLogger(core zapcore.Core, isDevelopment bool, logFilePath string) *Logger {
	zapLogger := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1), // Skip this wrapper layer
	)
	return &Logger{
		zap:           zapLogger,
		sugar:         zapLogger.Sugar(),
		isDevelopment: isDevelopment,
		logFilePath:   logFilePath,
	}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs a message at DebugLevel with optional structured fields.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

// Info logs a message at InfoLevel with optional structured fields.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

// Warn logs a message at WarnLevel with optional structured fields.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

// Error logs a message at ErrorLevel with optional structured fields.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.zap.Fatal(msg, redactFields(fields)...)
}

// Infow logs a message at InfoLevel with loosely-typed key-value pairs.
//
// Example:
//
//	logger.Infow("artifact saved",
//	    "path", path,
//	    "bytes", size)
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, redactKeysAndValues(keysAndValues)...)
}

// Warnw logs a message at WarnLevel with loosely-typed key-value pairs.
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, redactKeysAndValues(keysAndValues)...)
}

// Debugf logs a formatted message at DebugLevel.
func (l *Logger) Debugf(template string, args ...interface{}) {
	l.sugar.Debugf(template, args...)
}

// With creates a child logger with additional fields that will be included
// in all log entries from the child.
//
// Example:
//
//	jobLogger := logger.With(logging.PromptID(id))
//	jobLogger.Info("waiting for completion")
func (l *Logger) With(fields ...zap.Field) *Logger {
	newZap := l.zap.With(redactFields(fields)...)
	return &Logger{
		zap:           newZap,
		sugar:         newZap.Sugar(),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Named adds a sub-logger name such as "session" or "correlator".
func (l *Logger) Named(name string) *Logger {
	newZap := l.zap.Named(name)
	return &Logger{
		zap:           newZap,
		sugar:         newZap.Sugar(),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Zap returns the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// IsDevelopment returns true if the logger is configured for development mode.
func (l *Logger) IsDevelopment() bool {
	return l.isDevelopment
}

// LogFilePath returns the path to the log file.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}

// redactFields filters sensitive data from zap.Field values.
func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	result := make([]zap.Field, len(fields))
	for i, field := range fields {
		result[i] = redactField(field)
	}
	return result
}

// redactField redacts a single zap.Field if it contains sensitive data.
func redactField(field zap.Field) zap.Field {
	if IsSensitiveField(field.Key) {
		return zap.String(field.Key, RedactedPlaceholder)
	}

	if field.Type == zapcore.StringType {
		redacted := RedactSensitiveData(field.String)
		if redacted != field.String {
			return zap.String(field.Key, redacted)
		}
	}

	return field
}

// redactKeysAndValues filters sensitive data from key-value pairs used in sugared logging.
func redactKeysAndValues(keysAndValues []interface{}) []interface{} {
	if len(keysAndValues) == 0 {
		return keysAndValues
	}

	result := make([]interface{}, len(keysAndValues))
	copy(result, keysAndValues)

	// Even indices are keys, odd indices are values
	for i := 0; i < len(result)-1; i += 2 {
		key, ok := result[i].(string)
		if !ok {
			continue
		}

		if IsSensitiveField(key) {
			result[i+1] = RedactedPlaceholder
			continue
		}

		if value, ok := result[i+1].(string); ok {
			result[i+1] = RedactSensitiveData(value)
		}
	}

	return result
}
