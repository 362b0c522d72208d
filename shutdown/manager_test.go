package shutdown

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"comfyclient/core"
	"comfyclient/logging"
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *observer.ObservedLogs) {
	t.Helper()
	obsCore, logs := observer.New(zapcore.DebugLevel)
	return NewManager(logging.NewFromCore(obsCore), opts...), logs
}

func TestManager_SignalCancelsContext(t *testing.T) {
	m, logs := newTestManager(t)

	if m.IsShuttingDown() {
		t.Fatal("Expected manager not shutting down initially")
	}

	m.HandleSignal(os.Interrupt)

	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Context not cancelled after signal")
	}
	if !m.IsShuttingDown() {
		t.Error("Expected IsShuttingDown after signal")
	}
	if logs.FilterMessage("signal received, cancelling running jobs").Len() != 1 {
		t.Error("Expected signal to be logged")
	}
}

func TestManager_SecondSignalForcesExit(t *testing.T) {
	var code atomic.Int32
	code.Store(-1)
	m, _ := newTestManager(t, WithExitFunc(func(c int) { code.Store(int32(c)) }))

	m.HandleSignal(os.Interrupt)
	if code.Load() != -1 {
		t.Fatal("First signal must not force exit")
	}

	m.HandleSignal(syscall.SIGTERM)
	if code.Load() != core.ExitCodeSIGINT {
		t.Errorf("Expected exit code %d, got %d", core.ExitCodeSIGINT, code.Load())
	}
}

func TestManager_ShutdownRunsCleanupInOrder(t *testing.T) {
	m, _ := newTestManager(t)

	var mu sync.Mutex
	var order []string
	step := func(name string) core.ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	m.Register("logger", PriorityLogger, step("logger"))
	m.Register("ledger", PriorityLedger, step("ledger"))
	m.Register("disconnect", PriorityDisconnect, step("disconnect"))

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Second Shutdown should be a no-op: %v", err)
	}

	want := []string{"disconnect", "ledger", "logger"}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, order)
			break
		}
	}
}

func TestManager_ShutdownReportsFailures(t *testing.T) {
	m, logs := newTestManager(t)

	boom := errors.New("boom")
	ran := false
	m.Register("ledger", PriorityLedger, func(ctx context.Context) error { return boom })
	m.Register("logger", PriorityLogger, func(ctx context.Context) error { ran = true; return nil })

	err := m.Shutdown()
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped step error, got %v", err)
	}
	if !ran {
		t.Error("Later steps must run after a failure")
	}
	if logs.FilterMessage("cleanup step failed").Len() != 1 {
		t.Error("Expected failure to be logged")
	}
}

func TestManager_ShutdownWaitsForJobs(t *testing.T) {
	m, _ := newTestManager(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var recorded atomic.Bool

	go m.RunJob(context.Background(), "txt2img", func(ctx context.Context) error {
		close(started)
		<-release
		recorded.Store(true)
		return nil
	})
	<-started

	var cleanupSawJob atomic.Bool
	m.Register("ledger", PriorityLedger, func(ctx context.Context) error {
		cleanupSawJob.Store(recorded.Load())
		return nil
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !cleanupSawJob.Load() {
		t.Error("Cleanup ran before the running job finished")
	}
}

func TestManager_RunJobAfterShutdown(t *testing.T) {
	m, _ := newTestManager(t)
	m.Shutdown()

	called := false
	err := m.RunJob(context.Background(), "late", func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
	if called {
		t.Error("Job must not run after shutdown")
	}
}

func TestManager_RunJobAfterSignal(t *testing.T) {
	m, _ := newTestManager(t)
	m.HandleSignal(os.Interrupt)

	err := m.RunJob(context.Background(), "txt2img", func(ctx context.Context) error {
		t.Error("Job must not run after a signal")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
