package core

import "testing"

func TestExitCodeConstants(t *testing.T) {
	codes := map[string]int{
		"ExitCodeSuccess":  ExitCodeSuccess,
		"ExitCodeError":    ExitCodeError,
		"ExitCodeConfig":   ExitCodeConfig,
		"ExitCodeRejected": ExitCodeRejected,
		"ExitCodeSIGINT":   ExitCodeSIGINT,
	}

	seen := make(map[int]string)
	for name, code := range codes {
		if other, dup := seen[code]; dup {
			t.Errorf("%s and %s share exit code %d", name, other, code)
		}
		seen[code] = name
	}

	if ExitCodeSIGINT != 128+2 {
		t.Errorf("ExitCodeSIGINT = %d, want 130", ExitCodeSIGINT)
	}
}

func TestExitCodeName(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{ExitCodeSuccess, "success"},
		{ExitCodeError, "error"},
		{ExitCodeConfig, "configuration error"},
		{ExitCodeRejected, "prompt rejected"},
		{ExitCodeSIGINT, "interrupted (SIGINT)"},
		{99, "unknown"},
	}

	for _, tt := range tests {
		if got := ExitCodeName(tt.code); got != tt.want {
			t.Errorf("ExitCodeName(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
