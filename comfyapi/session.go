package comfyapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"comfyclient/logging"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

var errSessionClosed = errors.New("session disconnected")

// SessionConfig holds configuration for a Session.
type SessionConfig struct {
	// URL is the full event channel address, e.g. ws://host:8188/ws?clientId=abc
	URL string

	// Header is sent with the upgrade request (Authorization, for example)
	Header http.Header

	// PingInterval is how often to send ping messages (0 disables keep-alive)
	PingInterval time.Duration

	// PongWait is how long to wait for any traffic before treating the
	// connection as dead (default: 2 * PingInterval)
	PongWait time.Duration

	// WriteWait is time allowed to write a control message (default: 10s)
	WriteWait time.Duration

	// HandshakeTimeout bounds the upgrade request (default: 30s)
	HandshakeTimeout time.Duration

	// AllowSelfSignedCerts skips certificate verification for wss:// URLs
	AllowSelfSignedCerts bool

	Logger *logging.Logger
}

// Session is the persistent event channel to the server.
//
// A single read goroutine delivers each inbound frame to every subscribed
// Listener, in subscription order, before reading the next frame. Each
// connection gets a fresh listener registry; when the connection ends every
// listener still attached is notified through OnClose.
//
// Disconnect must not be called from inside a Listener.
type Session struct {
	cfg    SessionConfig
	dialer *websocket.Dialer
	logger *logging.Logger

	// opMu serializes Connect and Disconnect
	opMu sync.Mutex

	// mu protects the fields below
	mu    sync.Mutex
	state SessionState
	conn  *websocket.Conn
	reg   *registry
	done  chan struct{}
	// closing is the done channel of a connection the read loop is tearing
	// down after the server dropped it
	closing chan struct{}

	// writeMu serializes control frame writes on conn
	writeMu sync.Mutex
}

// NewSession creates a disconnected Session. Call Connect to open it.
func NewSession(cfg SessionConfig) *Session {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.PingInterval > 0 && cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	dialer := &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		EnableCompression: false,
	}
	if cfg.AllowSelfSignedCerts {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Session{
		cfg:    cfg,
		dialer: dialer,
		logger: cfg.Logger.Named("session"),
		state:  StateDisconnected,
	}
}

// EventURL builds the event channel address for a server base URL.
func EventURL(base *url.URL, clientID string) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/ws"
	u.RawQuery = url.Values{"clientId": {clientID}}.Encode()
	u.Fragment = ""
	return u.String()
}

// URL returns the event channel address.
func (s *Session) URL() string {
	return s.cfg.URL
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the event channel. A session that is already connected is
// fully disconnected first, so listeners of the previous connection are
// notified and dropped.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.disconnect()

	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()

		connErr := &ConnectionError{URL: s.cfg.URL, Err: err}
		if resp != nil {
			connErr.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		s.logger.Warn("connect failed", zap.String("url", s.cfg.URL), zap.Error(err))
		return connErr
	}

	if s.cfg.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
			return nil
		})
	}

	reg := newRegistry()
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateConnected
	s.conn = conn
	s.reg = reg
	s.done = done
	s.mu.Unlock()

	go s.readPump(conn, reg, done)
	if s.cfg.PingInterval > 0 {
		go s.pingLoop(conn, done)
	}

	s.logger.Info("connected", zap.String("url", s.cfg.URL))
	return nil
}

// Disconnect closes the event channel. Calling it on a disconnected session
// is a no-op. Either way, every listener of the last connection has been
// notified when it returns.
func (s *Session) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.disconnect()
}

func (s *Session) disconnect() error {
	s.mu.Lock()
	conn, done, closing := s.conn, s.done, s.closing
	s.state = StateDisconnected
	s.conn = nil
	s.reg = nil
	s.done = nil
	s.closing = nil
	s.mu.Unlock()

	if conn == nil {
		if closing != nil {
			<-closing
		}
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.cfg.WriteWait))
	s.writeMu.Unlock()

	err := conn.Close()
	<-done

	s.logger.Info("disconnected", zap.String("url", s.cfg.URL))
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("comfyapi: close event channel: %w", err)
	}
	return nil
}

// Subscribe attaches a listener to the current connection.
// It returns ErrNotConnected unless the session is connected.
func (s *Session) Subscribe(listener Listener) (Subscription, error) {
	s.mu.Lock()
	reg := s.reg
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected || reg == nil {
		return nil, ErrNotConnected
	}
	sub, err := reg.add(listener)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// listenerCount reports how many listeners are attached to the current
// connection.
func (s *Session) listenerCount() int {
	s.mu.Lock()
	reg := s.reg
	s.mu.Unlock()
	if reg == nil {
		return 0
	}
	return reg.len()
}

func (s *Session) readPump(conn *websocket.Conn, reg *registry, done chan struct{}) {
	defer close(done)

	var cause error
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		if s.cfg.PingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		}
		reg.dispatch(Frame{Binary: messageType == websocket.BinaryMessage, Data: data})
	}

	s.mu.Lock()
	owned := s.conn == conn
	if owned {
		s.state = StateDisconnected
		s.conn = nil
		s.reg = nil
		s.done = nil
		s.closing = done
	}
	s.mu.Unlock()

	if owned {
		conn.Close()
		s.logger.Warn("event channel closed", zap.String("url", s.cfg.URL), zap.Error(cause))
	} else {
		cause = errSessionClosed
	}

	reg.closeAll(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
}

func (s *Session) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
