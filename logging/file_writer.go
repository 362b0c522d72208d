package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default file writer configuration values
const (
	// DefaultMaxSizeMB is the maximum size in megabytes before rotation
	DefaultMaxSizeMB = 20

	// DefaultMaxBackups is the number of old log files to retain
	DefaultMaxBackups = 3

	// DefaultMaxAgeDays is the maximum number of days to retain old log files
	DefaultMaxAgeDays = 14
)

// FileWriterConfig holds configuration for the file writer with rotation.
// Zero values are replaced with the defaults above.
type FileWriterConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Compress determines if rotated log files are gzip-compressed.
	Compress bool
}

// DefaultFileWriterConfig returns a FileWriterConfig with default values.
func DefaultFileWriterConfig() FileWriterConfig {
	return FileWriterConfig{
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAgeDays: DefaultMaxAgeDays,
		Compress:   true,
	}
}

// NewFileWriterWithConfig creates a zapcore.WriteSyncer that writes to path
// with size- and age-based rotation. The parent directory is created if needed.
func NewFileWriterWithConfig(path string, config FileWriterConfig) (zapcore.WriteSyncer, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	cfg := applyFileWriterDefaults(config)
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}), nil
}

// applyFileWriterDefaults fills in zero values with defaults.
// Compress cannot be defaulted since false is its zero value.
func applyFileWriterDefaults(config FileWriterConfig) FileWriterConfig {
	result := config

	if result.MaxSizeMB <= 0 {
		result.MaxSizeMB = DefaultMaxSizeMB
	}
	if result.MaxBackups <= 0 {
		result.MaxBackups = DefaultMaxBackups
	}
	if result.MaxAgeDays <= 0 {
		result.MaxAgeDays = DefaultMaxAgeDays
	}

	return result
}
