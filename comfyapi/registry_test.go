package comfyapi

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	reg := newRegistry()

	a, err := reg.add(&recordingListener{})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := reg.add(&recordingListener{}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	a.Unsubscribe()
	a.Unsubscribe()

	if reg.len() != 1 {
		t.Errorf("Expected 1 listener, got %d", reg.len())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := newRegistry()
	listener := &recordingListener{}
	if _, err := reg.add(listener); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	cause := errors.New("gone")
	reg.closeAll(cause)
	reg.closeAll(cause)

	if got := listener.closeErrors(); len(got) != 1 || got[0] != cause {
		t.Errorf("Expected a single close notification, got %v", got)
	}
	if _, err := reg.add(&recordingListener{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after close, got %v", err)
	}
}

func TestRegistry_SelfUnsubscribeDuringDispatch(t *testing.T) {
	reg := newRegistry()

	var sub Subscription
	calls := 0
	self := listenerFunc(func(Frame) {
		calls++
		sub.Unsubscribe()
	})
	s, err := reg.add(self)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	sub = s

	other := &recordingListener{}
	if _, err := reg.add(other); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	reg.dispatch(Frame{Data: []byte("{}")})
	reg.dispatch(Frame{Data: []byte("{}")})

	if calls != 1 {
		t.Errorf("Expected self-removing listener called once, got %d", calls)
	}
	if other.frameCount() != 2 {
		t.Errorf("Expected other listener to see 2 frames, got %d", other.frameCount())
	}
}

func TestRegistry_ConcurrentAddRemove(t *testing.T) {
	reg := newRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := reg.add(&recordingListener{})
			if err != nil {
				t.Errorf("add failed: %v", err)
				return
			}
			reg.dispatch(Frame{Data: []byte("{}")})
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	if reg.len() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.len())
	}
}
