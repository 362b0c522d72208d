// Package shutdown coordinates an orderly exit of the CLI: Ctrl-C cancels
// running jobs, in-flight jobs get a chance to record their outcome, and
// cleanup steps (event channel, ledger, log sync) run in priority order.
package shutdown

import (
	"errors"
	"sync"
	"time"
)

// ErrShuttingDown is returned when a job is started after shutdown began.
var ErrShuttingDown = errors.New("shutdown: in progress, not starting new jobs")

// ErrWaitTimeout is returned when in-flight jobs outlive the wait.
var ErrWaitTimeout = errors.New("shutdown: jobs did not finish in time")

// JobTracker counts in-flight jobs so shutdown can wait for them to record
// their outcome.
type JobTracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	active map[string]int
	closed bool
}

// NewJobTracker creates an open tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{active: make(map[string]int)}
}

// Start registers a job under name. It returns false once the tracker is
// closed; otherwise the caller must call Done with the same name.
func (t *JobTracker) Start(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.wg.Add(1)
	t.active[name]++
	return true
}

// Done marks one job named name as finished.
func (t *JobTracker) Done(name string) {
	t.mu.Lock()
	if t.active[name] <= 1 {
		delete(t.active, name)
	} else {
		t.active[name]--
	}
	t.mu.Unlock()
	t.wg.Done()
}

// Close rejects further Start calls. Running jobs are unaffected.
func (t *JobTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until every started job is done or timeout elapses.
func (t *JobTracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

// Active returns the number of running jobs.
func (t *JobTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, count := range t.active {
		n += count
	}
	return n
}

// Names returns the names of running jobs.
func (t *JobTracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.active))
	for name := range t.active {
		names = append(names, name)
	}
	return names
}

// IsClosed reports whether Close was called.
func (t *JobTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
