package core

// Exit codes for the command line client.
// Signal-based exits follow the Unix convention of 128 + signal number.
const (
	// ExitCodeSuccess indicates the command completed (exit code 0)
	ExitCodeSuccess = 0

	// ExitCodeError indicates a generic failure (exit code 1)
	ExitCodeError = 1

	// ExitCodeConfig indicates invalid configuration (exit code 2)
	ExitCodeConfig = 2

	// ExitCodeRejected indicates the server rejected the submitted prompt (exit code 3)
	ExitCodeRejected = 3

	// ExitCodeSIGINT indicates the job wait was interrupted by SIGINT (Ctrl+C)
	ExitCodeSIGINT = 130
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeConfig:
		return "configuration error"
	case ExitCodeRejected:
		return "prompt rejected"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	default:
		return "unknown"
	}
}
