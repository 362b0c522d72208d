package comfyapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Prompt is a computation graph keyed by node id.
type Prompt map[string]Node

// Node is one operation in a Prompt. Inputs map an input name either to a
// literal value or to a slot reference built with NodeRef.
type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
	Meta      map[string]interface{} `json:"_meta,omitempty"`
}

// NodeRef references output slot of node nodeID, encoded the way the server
// expects: a two element array ["nodeID", slot].
func NodeRef(nodeID string, slot int) []interface{} {
	return []interface{}{nodeID, slot}
}

// Clone returns a copy of the prompt whose node and input maps can be
// modified without affecting p. Input values themselves are shared.
func (p Prompt) Clone() Prompt {
	if p == nil {
		return nil
	}
	out := make(Prompt, len(p))
	for id, node := range p {
		inputs := make(map[string]interface{}, len(node.Inputs))
		for k, v := range node.Inputs {
			inputs[k] = v
		}
		node.Inputs = inputs
		if node.Meta != nil {
			meta := make(map[string]interface{}, len(node.Meta))
			for k, v := range node.Meta {
				meta[k] = v
			}
			node.Meta = meta
		}
		out[id] = node
	}
	return out
}

// queuePromptRequest is the body of POST /prompt.
type queuePromptRequest struct {
	Prompt   Prompt `json:"prompt"`
	ClientID string `json:"client_id"`
}

// JobHandle is the server's answer to a successful submission.
type JobHandle struct {
	// PromptID is the job identifier used to correlate events and history
	PromptID string `json:"prompt_id"`

	// Number is the position assigned in the server queue
	Number int `json:"number"`

	// NodeErrors lists outputs the server dropped while still queueing the rest
	NodeErrors map[string]NodeError `json:"node_errors"`
}

// ErrorDetail is the structured form of a server error.
type ErrorDetail struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Details   string          `json:"details"`
	ExtraInfo json.RawMessage `json:"extra_info,omitempty"`
}

// NodeError groups the validation errors reported for one node.
type NodeError struct {
	Errors           []ErrorDetail `json:"errors"`
	DependentOutputs []string      `json:"dependent_outputs,omitempty"`
	ClassType        string        `json:"class_type,omitempty"`
}

// decodeErrorValue reads the "error" member of an error envelope, which is
// either a bare string or an ErrorDetail object.
func decodeErrorValue(raw json.RawMessage) (string, *ErrorDetail) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		return message, nil
	}

	var detail ErrorDetail
	if err := json.Unmarshal(raw, &detail); err == nil {
		return detail.Message, &detail
	}

	return string(raw), nil
}

// UploadImageResult is returned by the upload endpoints.
type UploadImageResult struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// ImageRef points at an image already stored on the server.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
}

// OutputImage describes one artifact recorded in a job's history.
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// String renders the descriptor the way it appears in /view queries.
func (o OutputImage) String() string {
	if o.Subfolder == "" {
		return fmt.Sprintf("%s (%s)", o.Filename, o.Type)
	}
	return fmt.Sprintf("%s/%s (%s)", o.Subfolder, o.Filename, o.Type)
}

// NodeOutput is the recorded output of one node. Only image outputs are
// materialized; other keys (text, latents) are ignored.
type NodeOutput struct {
	Images []OutputImage `json:"images"`
}

// HistoryStatus is the execution summary the server stores with a job.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// PromptHistory is the server-held record of one executed job.
type PromptHistory struct {
	Prompt  []interface{}         `json:"prompt"`
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  *HistoryStatus        `json:"status,omitempty"`

	// OutputOrder lists the keys of Outputs in the order the server sent them.
	OutputOrder []string `json:"-"`
}

// UnmarshalJSON decodes the record and remembers the order of the outputs
// object, which a Go map would otherwise lose.
func (h *PromptHistory) UnmarshalJSON(data []byte) error {
	var raw struct {
		Prompt  []interface{}   `json:"prompt"`
		Outputs json.RawMessage `json:"outputs"`
		Status  *HistoryStatus  `json:"status,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	h.Prompt = raw.Prompt
	h.Status = raw.Status
	h.Outputs = nil
	h.OutputOrder = nil

	outputs := bytes.TrimSpace(raw.Outputs)
	if len(outputs) == 0 || bytes.Equal(outputs, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(outputs, &h.Outputs); err != nil {
		return fmt.Errorf("decode outputs: %w", err)
	}
	order, err := objectKeys(outputs)
	if err != nil {
		return fmt.Errorf("decode outputs: %w", err)
	}
	h.OutputOrder = order
	return nil
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// historyResult is the body of GET /history/{id}, keyed by prompt id.
type historyResult map[string]PromptHistory

// Artifact is the fetched payload of one output image. Ownership of Data
// passes to whoever receives the Artifact.
type Artifact struct {
	Image       OutputImage
	Data        []byte
	ContentType string
}

// ImagesResponse maps output node id to that node's artifacts, in the order
// the history record lists them.
type ImagesResponse map[string][]Artifact

// Count returns the total number of artifacts across all nodes.
func (r ImagesResponse) Count() int {
	n := 0
	for _, artifacts := range r {
		n += len(artifacts)
	}
	return n
}

// JobResult is the outcome of Client.GetImages.
type JobResult struct {
	Handle  JobHandle
	Outputs ImagesResponse

	// NodeOrder lists the keys of Outputs in history order.
	NodeOrder []string
}
