package logging

import (
	"strings"
	"testing"
)

func TestRedactSensitiveData(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSecret string // must not appear in the output
		want       string // exact output, when set
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain text", input: "prompt abc123 finished", want: "prompt abc123 finished"},
		{name: "bearer header", input: "Authorization: Bearer abcdef123456", want: "Authorization: " + RedactedPlaceholder},
		{name: "query token", input: "GET /view?token=0123456789abcdef&type=output", wantSecret: "0123456789abcdef"},
		{name: "hugging face", input: "download hf_abcdefghijklmnopqrstuvwxyz012345", wantSecret: "hf_abcdefghijklmnopqrstuvwxyz012345"},
		{name: "github", input: "ghp_" + strings.Repeat("a", 36), wantSecret: strings.Repeat("a", 36)},
		{name: "password", input: "password=hunter2hunter2", wantSecret: "hunter2hunter2"},
		{name: "short token kept", input: "token=abc", want: "token=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactSensitiveData(tt.input)
			if tt.wantSecret != "" && strings.Contains(got, tt.wantSecret) {
				t.Errorf("RedactSensitiveData(%q) = %q, secret still present", tt.input, got)
			}
			if tt.wantSecret == "" && got != tt.want {
				t.Errorf("RedactSensitiveData(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsSensitiveField(t *testing.T) {
	tests := map[string]bool{
		"auth_token":       true,
		"COMFY_AUTH_TOKEN": true,
		"Authorization":    true,
		"password":         true,
		"client_secret":    true,
		"api_key":          true,
		"prompt_id":        false,
		"client_id":        false,
		"filename":         false,
	}

	for field, want := range tests {
		if got := IsSensitiveField(field); got != want {
			t.Errorf("IsSensitiveField(%q) = %v, want %v", field, got, want)
		}
	}
}
