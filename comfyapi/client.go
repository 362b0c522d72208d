package comfyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"comfyclient/core"
	"comfyclient/logging"
)

// Client talks to one server on behalf of one client id.
//
// The HTTP calls (QueuePrompt, Materialize, uploads) work whether or not the
// event channel is open. Submit, WaitForCompletion and GetImages need a
// connected Session.
//
// Thread Safety: Client is safe for concurrent use. Several jobs may be in
// flight at once; each owns its own subscription.
type Client struct {
	baseURL    *url.URL
	clientID   string
	authToken  string
	httpClient *http.Client
	session    *Session
	logger     *logging.Logger
}

// ClientConfig holds configuration for the Client.
type ClientConfig struct {
	// ServerAddress is host:port or a full http(s):// base URL
	ServerAddress string

	// ClientID scopes the event channel; it is sent with every prompt
	ClientID string

	// AuthToken is sent as a bearer token when set (optional)
	AuthToken string

	// HTTPClient is used for all HTTP calls (optional)
	// If nil, a client with a 30 second timeout is created
	HTTPClient *http.Client

	// PingInterval enables WebSocket keep-alive pings (0 = disabled)
	PingInterval time.Duration

	// AllowSelfSignedCerts skips certificate verification on the event channel
	AllowSelfSignedCerts bool

	// Logger for client operations (optional)
	Logger *logging.Logger
}

// NewClient creates a Client. The event channel is not opened until Connect.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("comfyapi: client id cannot be empty")
	}
	baseURL, err := core.ParseServerAddress(cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("comfyapi: invalid server address %q: %w", cfg.ServerAddress, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("comfyapi").With(logging.ClientID(cfg.ClientID))

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	session := NewSession(SessionConfig{
		URL:                  EventURL(baseURL, cfg.ClientID),
		Header:               header,
		PingInterval:         cfg.PingInterval,
		AllowSelfSignedCerts: cfg.AllowSelfSignedCerts,
		Logger:               logger,
	})

	return &Client{
		baseURL:    baseURL,
		clientID:   cfg.ClientID,
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
		session:    session,
		logger:     logger,
	}, nil
}

// NewClientFromConfig creates a Client from the application configuration.
//
// Example:
//
//	cfg, err := core.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := comfyapi.NewClientFromConfig(cfg, logger)
func NewClientFromConfig(cfg *core.Config, logger *logging.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("comfyapi: config cannot be nil")
	}
	return NewClient(ClientConfig{
		ServerAddress:        cfg.ServerAddress,
		ClientID:             cfg.ClientID,
		AuthToken:            cfg.AuthToken,
		HTTPClient:           core.GetDefaultHTTPClient(cfg),
		PingInterval:         cfg.PingInterval,
		AllowSelfSignedCerts: cfg.AllowSelfSignedCerts,
		Logger:               logger,
	})
}

// ClientID returns the id that scopes this client's event channel.
func (c *Client) ClientID() string {
	return c.clientID
}

// BaseURL returns the normalized server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Session returns the client's event channel.
func (c *Client) Session() *Session {
	return c.session
}

// Connect opens the event channel. See Session.Connect.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Disconnect closes the event channel. See Session.Disconnect.
func (c *Client) Disconnect() error {
	return c.session.Disconnect()
}

// State returns the event channel state.
func (c *Client) State() SessionState {
	return c.session.State()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

// do executes req and returns the body of a 2xx response. Error envelopes
// are returned as *ServerError, everything else as *TransportError.
func (c *Client) do(req *http.Request, op string) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if serverErr := decodeEnvelope(body); serverErr != nil {
		return nil, nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: serverErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(truncate(string(body), 200))),
		}
	}
	return body, resp.Header, nil
}

// doJSON executes req and decodes a JSON response into out.
func (c *Client) doJSON(req *http.Request, op string, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	body, _, err := c.do(req, op)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	op := "POST " + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("comfyapi: encode %s request: %w", path, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if out == nil {
		_, _, err := c.do(req, op)
		return err
	}
	return c.doJSON(req, op, out)
}

// decodeEnvelope returns a *ServerError when body is a JSON object carrying
// an "error" key, and nil otherwise.
func decodeEnvelope(body []byte) *ServerError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil
	}
	if _, ok := probe["error"]; !ok {
		return nil
	}

	message, detail := decodeErrorValue(probe["error"])
	serverErr := &ServerError{Message: message, Detail: detail}

	// node_errors is an object on validation failures but an empty list on
	// some older servers.
	if raw, ok := probe["node_errors"]; ok {
		var nodeErrors map[string]NodeError
		if err := json.Unmarshal(raw, &nodeErrors); err == nil {
			serverErr.NodeErrors = nodeErrors
		}
	}
	return serverErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Interrupt asks the server to stop the job it is currently executing.
func (c *Client) Interrupt(ctx context.Context) error {
	if err := c.postJSON(ctx, "/interrupt", struct{}{}, nil); err != nil {
		return err
	}
	c.logger.Info("interrupt requested")
	return nil
}

// logIfServerError logs server envelopes at warn level with their node errors.
func (c *Client) logIfServerError(msg string, err error) {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		c.logger.Warn(msg, zap.String("error", serverErr.Message), zap.Int("node_errors", len(serverErr.NodeErrors)))
	}
}
