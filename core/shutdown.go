package core

import (
	"context"
)

// ShutdownFunc is the function signature for cleanup handlers run when the
// CLI exits. The context may carry a deadline; implementations should return
// promptly when it expires and must be safe to call more than once.
//
// Example usage:
//
//	var sessionShutdown ShutdownFunc = func(ctx context.Context) error {
//	    return session.Disconnect()
//	}
type ShutdownFunc func(ctx context.Context) error
