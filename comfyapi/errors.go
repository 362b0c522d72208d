package comfyapi

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure conditions.
// These are used for error checking with errors.Is().
var (
	// ErrNotConnected indicates an operation needed the event channel but the
	// session is not connected.
	ErrNotConnected = errors.New("comfyapi: session not connected")

	// ErrConnectionLost indicates the event channel ended while a job was
	// being awaited.
	ErrConnectionLost = errors.New("comfyapi: connection lost")

	// ErrCancelled indicates the caller abandoned the wait. The context error
	// is wrapped alongside it.
	ErrCancelled = errors.New("comfyapi: wait cancelled")
)

// ConnectionError reports a failed event channel handshake.
type ConnectionError struct {
	URL        string
	StatusCode int // HTTP status of the failed upgrade, 0 when none was received
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("comfyapi: connect %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("comfyapi: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ServerError is a decoded error envelope returned by any endpoint.
type ServerError struct {
	Message    string
	Detail     *ErrorDetail
	NodeErrors map[string]NodeError
}

func (e *ServerError) Error() string {
	return "comfyapi: server error: " + describeEnvelope(e.Message, e.Detail, e.NodeErrors)
}

// ValidationError reports a prompt rejected by POST /prompt.
type ValidationError struct {
	Message    string
	Detail     *ErrorDetail
	NodeErrors map[string]NodeError
}

func (e *ValidationError) Error() string {
	return "comfyapi: prompt rejected: " + describeEnvelope(e.Message, e.Detail, e.NodeErrors)
}

// TransportError reports a network failure, an unexpected status code or an
// undecodable response body.
type TransportError struct {
	Op         string // Request that failed, e.g. "POST /prompt"
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("comfyapi: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("comfyapi: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an event frame that could not be decoded.
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	raw := string(e.Raw)
	if len(raw) > 120 {
		raw = raw[:120] + "..."
	}
	return fmt.Sprintf("comfyapi: malformed event %q: %v", raw, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// HistoryNotFoundError reports a history response without a record for the
// requested prompt.
type HistoryNotFoundError struct {
	PromptID string
}

func (e *HistoryNotFoundError) Error() string {
	return fmt.Sprintf("comfyapi: no history for prompt %s", e.PromptID)
}

// ArtifactFetchError reports an output image that could not be downloaded.
type ArtifactFetchError struct {
	Image OutputImage
	Err   error
}

func (e *ArtifactFetchError) Error() string {
	return fmt.Sprintf("comfyapi: fetch artifact %s: %v", e.Image, e.Err)
}

func (e *ArtifactFetchError) Unwrap() error {
	return e.Err
}

func describeEnvelope(message string, detail *ErrorDetail, nodeErrors map[string]NodeError) string {
	var b strings.Builder
	if message == "" {
		message = "unknown error"
	}
	b.WriteString(message)
	if detail != nil && detail.Details != "" {
		b.WriteString(": ")
		b.WriteString(detail.Details)
	}
	if len(nodeErrors) > 0 {
		fmt.Fprintf(&b, " (%d node errors)", len(nodeErrors))
	}
	return b.String()
}
