package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{
			name: "message and action",
			err:  &ConfigError{Code: "X", Message: "Something broke", Action: "Fix it"},
			want: "Something broke. Fix it",
		},
		{
			name: "message only",
			err:  &ConfigError{Code: "X", Message: "Something broke"},
			want: "Something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		wantCode string
		contains []string
	}{
		{
			name:     "invalid server address",
			err:      ErrInvalidServerAddress("ftp://x", "scheme must be http or https"),
			wantCode: ErrCodeInvalidServerAddress,
			contains: []string{"ftp://x", "scheme", "COMFY_SERVER"},
		},
		{
			name:     "missing config",
			err:      ErrMissingConfig("COMFY_OUTPUT_DIR"),
			wantCode: ErrCodeMissingConfig,
			contains: []string{"COMFY_OUTPUT_DIR", ".env"},
		},
		{
			name:     "invalid value",
			err:      ErrInvalidValue("COMFY_HTTP_TIMEOUT", "must be positive"),
			wantCode: ErrCodeInvalidValue,
			contains: []string{"COMFY_HTTP_TIMEOUT", "must be positive"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Action == "" {
				t.Error("Action should not be empty")
			}
			for _, s := range tt.contains {
				if !strings.Contains(tt.err.Error(), s) {
					t.Errorf("Error() = %q, missing %q", tt.err.Error(), s)
				}
			}
		})
	}
}

func TestIsConfigError(t *testing.T) {
	configErr := ErrMissingConfig("COMFY_SERVER")

	if got, ok := IsConfigError(configErr); !ok || got != configErr {
		t.Error("IsConfigError should match a ConfigError")
	}
	if got, ok := IsConfigError(fmt.Errorf("load: %w", configErr)); !ok || got != configErr {
		t.Error("IsConfigError should match a wrapped ConfigError")
	}
	if _, ok := IsConfigError(errors.New("plain")); ok {
		t.Error("IsConfigError should not match a plain error")
	}
	if _, ok := IsConfigError(nil); ok {
		t.Error("IsConfigError should not match nil")
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(ErrInvalidValue("A", "b")); got != ErrCodeInvalidValue {
		t.Errorf("GetErrorCode() = %q, want %q", got, ErrCodeInvalidValue)
	}
	if got := GetErrorCode(errors.New("plain")); got != "" {
		t.Errorf("GetErrorCode() = %q, want empty", got)
	}
}
