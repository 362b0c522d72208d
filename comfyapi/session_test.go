package comfyapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// recordingListener collects everything delivered to it.
type recordingListener struct {
	mu     sync.Mutex
	frames []Frame
	closed []error
}

func (r *recordingListener) OnFrame(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *recordingListener) OnClose(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, err)
}

func (r *recordingListener) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingListener) closeErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.closed...)
}

func TestSession_ConnectAndState(t *testing.T) {
	f := newFakeServer(t)
	client := f.newClient(t)

	if client.State() != StateDisconnected {
		t.Fatalf("Expected disconnected, got %v", client.State())
	}

	connect(t, f, client)

	if client.State() != StateConnected {
		t.Errorf("Expected connected, got %v", client.State())
	}
	f.mu.Lock()
	clientID := f.clientID
	f.mu.Unlock()
	if clientID != "test-client" {
		t.Errorf("Expected clientId test-client in handshake, got %q", clientID)
	}

	if err := client.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("Expected disconnected after Disconnect, got %v", client.State())
	}
	if err := client.Disconnect(); err != nil {
		t.Errorf("Second Disconnect should be a no-op, got %v", err)
	}
}

func TestSession_DoubleConnect(t *testing.T) {
	f := newFakeServer(t)
	client := f.newClient(t)
	connect(t, f, client)

	listener := &recordingListener{}
	if _, err := client.Session().Subscribe(listener); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	connect(t, f, client)

	if client.State() != StateConnected {
		t.Fatalf("Expected connected, got %v", client.State())
	}
	if f.connCount() != 2 {
		t.Errorf("Expected server to see 2 connections, got %d", f.connCount())
	}
	eventually(t, func() bool { return f.live.Load() == 1 }, "first connection was never closed")
	if client.Session().listenerCount() != 0 {
		t.Errorf("Expected fresh registry after reconnect, got %d listeners", client.Session().listenerCount())
	}

	closed := listener.closeErrors()
	if len(closed) != 1 || !errors.Is(closed[0], ErrConnectionLost) {
		t.Errorf("Expected old listener notified once with ErrConnectionLost, got %v", closed)
	}

	// Frames on the new connection reach new subscribers only.
	fresh := &recordingListener{}
	if _, err := client.Session().Subscribe(fresh); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	f.sendRaw(`{"type": "status", "data": {}}`)
	eventually(t, func() bool { return fresh.frameCount() == 1 }, "new listener never received frame")
	if listener.frameCount() != 0 {
		t.Errorf("Old listener received %d frames", listener.frameCount())
	}
}

func TestSession_ConnectRejected(t *testing.T) {
	f := newFakeServer(t)
	f.wsStatus = http.StatusForbidden
	client := f.newClient(t)

	err := client.Connect(context.Background())

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected *ConnectionError, got %T: %v", err, err)
	}
	if connErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", connErr.StatusCode)
	}
	if client.State() != StateDisconnected {
		t.Errorf("Expected disconnected after failed connect, got %v", client.State())
	}
}

func TestSession_SubscribeNotConnected(t *testing.T) {
	session := NewSession(SessionConfig{URL: "ws://127.0.0.1:1/ws?clientId=x"})

	if _, err := session.Subscribe(&recordingListener{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestSession_DeliveryOrder(t *testing.T) {
	f := newFakeServer(t)
	client := f.newClient(t)
	connect(t, f, client)

	var mu sync.Mutex
	var order []string
	record := func(name string) Listener {
		return listenerFunc(func(Frame) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}

	for _, name := range []string{"a", "b", "c"} {
		if _, err := client.Session().Subscribe(record(name)); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	f.sendRaw(`{"type": "status", "data": {}}`)
	f.sendRaw(`{"type": "status", "data": {}}`)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 6
	}, "frames were not delivered to all listeners")

	want := []string{"a", "b", "c", "a", "b", "c"}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected delivery order %v, got %v", want, order)
		}
	}
}

func TestSession_DisconnectNotifiesListeners(t *testing.T) {
	f := newFakeServer(t)
	client := f.newClient(t)
	connect(t, f, client)

	listener := &recordingListener{}
	if _, err := client.Session().Subscribe(listener); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	closed := listener.closeErrors()
	if len(closed) != 1 || !errors.Is(closed[0], ErrConnectionLost) {
		t.Errorf("Expected one ErrConnectionLost notification, got %v", closed)
	}
}

// blockingListener holds OnClose until release is closed.
type blockingListener struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingListener) OnFrame(Frame) {}

func (b *blockingListener) OnClose(error) {
	close(b.entered)
	<-b.release
}

func TestSession_DisconnectWaitsForServerDrop(t *testing.T) {
	f := newFakeServer(t)
	client := f.newClient(t)
	connect(t, f, client)

	listener := &blockingListener{entered: make(chan struct{}), release: make(chan struct{})}
	if _, err := client.Session().Subscribe(listener); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	f.closeConns()
	select {
	case <-listener.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was never notified of the dropped connection")
	}

	returned := make(chan error, 1)
	go func() { returned <- client.Disconnect() }()

	select {
	case <-returned:
		t.Fatal("Disconnect returned while a listener was still being notified")
	case <-time.After(50 * time.Millisecond):
	}

	close(listener.release)
	select {
	case err := <-returned:
		if err != nil {
			t.Errorf("Disconnect failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect never returned")
	}
}

func TestSession_KeepAlive(t *testing.T) {
	f := newFakeServer(t)
	client, err := NewClient(ClientConfig{
		ServerAddress: f.address(),
		ClientID:      "ping-client",
		PingInterval:  25 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Disconnect()

	connect(t, f, client)

	// The fake server answers pings through gorilla's default handler, so the
	// read deadline keeps moving forward.
	time.Sleep(150 * time.Millisecond)
	if client.State() != StateConnected {
		t.Errorf("Expected connection kept alive, got %v", client.State())
	}
}

type listenerFunc func(Frame)

func (fn listenerFunc) OnFrame(frame Frame) { fn(frame) }
func (fn listenerFunc) OnClose(error)       {}
