package comfyapi

import (
	"sync"
)

// Listener receives traffic from a Session's event channel.
//
// OnFrame is called from the session's read goroutine for every inbound
// frame, and OnClose once when the channel ends. Implementations must not
// block.
type Listener interface {
	OnFrame(frame Frame)
	OnClose(err error)
}

// Subscription is returned by Session.Subscribe.
type Subscription interface {
	// Unsubscribe detaches the listener. Calling it more than once is a no-op.
	Unsubscribe()
}

// registry is the ordered set of listeners attached to one connection.
// Once closed it rejects new listeners, so a subscriber either sees the
// close notification or gets ErrNotConnected.
type registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries []registryEntry
	closed  bool
}

type registryEntry struct {
	id       uint64
	listener Listener
}

type subscription struct {
	once sync.Once
	reg  *registry
	id   uint64
}

func newRegistry() *registry {
	return &registry{}
}

func (r *registry) add(listener Listener) (*subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrNotConnected
	}
	r.nextID++
	r.entries = append(r.entries, registryEntry{id: r.nextID, listener: listener})
	return &subscription{reg: r, id: r.nextID}, nil
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.entries {
		if entry.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns the listeners in subscription order.
func (r *registry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	listeners := make([]Listener, len(r.entries))
	for i, entry := range r.entries {
		listeners[i] = entry.listener
	}
	return listeners
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// dispatch delivers a frame to every listener. The lock is not held while
// listeners run, so a listener may unsubscribe itself.
func (r *registry) dispatch(frame Frame) {
	for _, listener := range r.snapshot() {
		listener.OnFrame(frame)
	}
}

// closeAll empties the registry, rejects further adds and notifies the
// listeners that were attached.
func (r *registry) closeAll(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, entry := range entries {
		entry.listener.OnClose(err)
	}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.reg.remove(s.id)
	})
}
