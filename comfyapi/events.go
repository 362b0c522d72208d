package comfyapi

import (
	"encoding/json"
	"errors"
)

// Event types published on the event channel. Only EventExecuting drives
// completion; the rest are decoded for logging and progress reporting.
const (
	EventStatus          = "status"
	EventExecutionStart  = "execution_start"
	EventExecutionCached = "execution_cached"
	EventExecuting       = "executing"
	EventExecuted        = "executed"
	EventProgress        = "progress"
	EventExecutionError  = "execution_error"
)

var errMissingType = errors.New("missing type")

// Frame is one raw message received on the event channel.
type Frame struct {
	Binary bool
	Data   []byte
}

// Event is a decoded text frame.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ExecutingData is the payload of an "executing" event. A nil Node marks the
// end of the prompt's execution.
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// Finished reports whether the event signals end of execution.
func (d ExecutingData) Finished() bool {
	return d.Node == nil
}

// ProgressData is the payload of a "progress" event.
type ProgressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id,omitempty"`
	Node     string `json:"node,omitempty"`
}

// ParseEvent decodes a text frame. Failures are returned as *ProtocolError.
func ParseEvent(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, &ProtocolError{Raw: data, Err: err}
	}
	if event.Type == "" {
		return Event{}, &ProtocolError{Raw: data, Err: errMissingType}
	}
	return event, nil
}

// Executing decodes the payload of an "executing" event.
func (e Event) Executing() (ExecutingData, error) {
	var data ExecutingData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ExecutingData{}, &ProtocolError{Raw: e.Data, Err: err}
	}
	return data, nil
}

// Progress decodes the payload of a "progress" event.
func (e Event) Progress() (ProgressData, error) {
	var data ProgressData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ProgressData{}, &ProtocolError{Raw: e.Data, Err: err}
	}
	return data, nil
}
