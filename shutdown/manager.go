package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"comfyclient/core"
	"comfyclient/logging"
)

// Manager ties together the CLI's exit path:
//   - the first SIGINT/SIGTERM cancels Context, failing running waits with
//     comfyapi.ErrCancelled
//   - a second signal exits immediately with core.ExitCodeSIGINT
//   - Shutdown waits for tracked jobs, then runs cleanup steps in order
//
// Usage:
//
//	manager := shutdown.NewManager(logger)
//	manager.Register("disconnect", shutdown.PriorityDisconnect, func(ctx context.Context) error {
//	    return client.Disconnect()
//	})
//	manager.Start()
//	defer manager.Shutdown()
//
//	err := manager.RunJob(manager.Context(), "txt2img", func(ctx context.Context) error {
//	    _, err := client.GetImages(ctx, prompt)
//	    return err
//	})
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	exit    func(code int)

	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc

	jobs     *JobTracker
	registry *CleanupRegistry
	signals  *SignalCounter
	sigChan  chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds how long Shutdown waits for jobs plus cleanup.
// Default is 30 seconds.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithExitFunc replaces os.Exit for the forced exit on a second signal.
func WithExitFunc(exit func(code int)) ManagerOption {
	return func(m *Manager) {
		m.exit = exit
	}
}

// NewManager creates a Manager. Call Start to begin handling signals.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  30 * time.Second,
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     NewJobTracker(),
		registry: NewCleanupRegistry(),
		sigChan:  make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("second signal received, exiting without cleanup")
		m.exit(core.ExitCodeSIGINT)
	})
	return m
}

// Context is cancelled on the first signal or when Shutdown starts.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup step. See the Priority constants.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("cleanup registered", zap.String("name", name), zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Calling it again is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.HandleSignal(sig)
		}
	}()
}

// HandleSignal processes one shutdown signal as if it had been delivered
// by the OS.
func (m *Manager) HandleSignal(sig os.Signal) {
	if m.signals.Increment() == 1 {
		m.logger.Info("signal received, cancelling running jobs",
			zap.String("signal", sig.String()),
			zap.Int("jobs", m.jobs.Active()))
		m.cancel()
	}
}

// RunJob runs fn as a tracked job. It returns ErrShuttingDown without
// running fn once Shutdown has begun.
func (m *Manager) RunJob(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.jobs.Start(name) {
		m.logger.Debug("job rejected during shutdown", zap.String("job", name))
		return ErrShuttingDown
	}
	defer m.jobs.Done(name)

	if err := m.ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fn(ctx)
}

// Shutdown cancels Context, waits for running jobs and runs the cleanup
// steps. Only the first call does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	begin := time.Now()
	m.cancel()
	m.jobs.Close()

	if active := m.jobs.Active(); active > 0 {
		m.logger.Info("waiting for running jobs", zap.Int("jobs", active), zap.Strings("names", m.jobs.Names()))
	}
	if err := m.jobs.Wait(m.timeout); err != nil {
		m.logger.Warn("jobs still running, continuing with cleanup", zap.Int("jobs", m.jobs.Active()))
	}

	remaining := m.timeout - time.Since(begin)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	m.logger.Debug("running cleanup", zap.Strings("steps", m.registry.Names()))
	errs := m.registry.Run(ctx)
	for _, err := range errs {
		m.logger.Error("cleanup step failed", zap.Error(err))
	}

	if started {
		signal.Stop(m.sigChan)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %d cleanup steps failed: %w", len(errs), errs[0])
	}
	return nil
}

// IsShuttingDown reports whether a signal arrived or Shutdown was called.
func (m *Manager) IsShuttingDown() bool {
	return m.ctx.Err() != nil
}

// CleanupSteps returns the registered step names in execution order.
func (m *Manager) CleanupSteps() []string {
	return m.registry.Names()
}
