package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

// NewMultiCore creates a zapcore.Core that tees output to the console and,
// when filePath is non-empty, to a rotated log file.
//
// The file output always uses JSON encoding. The console uses the colored
// console encoder in development and JSON otherwise. Console output goes to
// stderr so that CLI commands can print results on stdout.
func NewMultiCore(level zapcore.Level, filePath string, isDev bool, fileConfig FileWriterConfig) (zapcore.Core, error) {
	consoleWriter := zapcore.Lock(os.Stderr)
	if filePath == "" {
		return newConsoleCore(level, consoleWriter, isDev), nil
	}

	fileWriter, err := NewFileWriterWithConfig(filePath, fileConfig)
	if err != nil {
		return nil, err
	}
	return NewMultiCoreWithWriters(level, consoleWriter, fileWriter, isDev), nil
}

// NewMultiCoreWithWriters creates a zapcore.Core that tees output to provided writers.
// Useful for tests that capture output in a buffer.
//
// Example:
//
//	var buf bytes.Buffer
//	core := NewMultiCoreWithWriters(zapcore.DebugLevel, zapcore.AddSync(io.Discard), zapcore.AddSync(&buf), true)
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)

	return zapcore.NewTee(newConsoleCore(level, consoleWriter, isDev), fileCore)
}

func newConsoleCore(level zapcore.Level, writer zapcore.WriteSyncer, isDev bool) zapcore.Core {
	var encoder zapcore.Encoder
	if isDev {
		encoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	return zapcore.NewCore(encoder, writer, level)
}
