package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeInvalidServerAddress = "INVALID_SERVER_ADDRESS"
	ErrCodeMissingConfig        = "MISSING_CONFIG"
	ErrCodeInvalidValue         = "INVALID_VALUE"
)

var (
	errUnsupportedScheme = errors.New("scheme must be http or https")
	errMissingHost       = errors.New("missing host")
)

// ErrInvalidServerAddress returns an error for a server address that cannot be parsed
func ErrInvalidServerAddress(address string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidServerAddress,
		Message: fmt.Sprintf("Invalid COMFY_SERVER address '%s': %s", address, reason),
		Action:  "Set COMFY_SERVER to host:port (e.g., 127.0.0.1:8188) or a full http(s):// URL",
	}
}

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your environment or .env file", varName),
	}
}

// ErrInvalidValue returns an error for a configuration value outside its allowed range
func ErrInvalidValue(varName string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid value for %s: %s", varName, reason),
		Action:  fmt.Sprintf("Fix %s in your environment or .env file", varName),
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
