package comfyapi

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPromptHistory_PreservesOutputOrder(t *testing.T) {
	raw := `{"outputs": {"z": {"images": []}, "10": {"images": [{"filename": "a.png", "subfolder": "", "type": "output"}]}, "2": {}}}`

	var history PromptHistory
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	want := []string{"z", "10", "2"}
	if len(history.OutputOrder) != len(want) {
		t.Fatalf("Expected order %v, got %v", want, history.OutputOrder)
	}
	for i := range want {
		if history.OutputOrder[i] != want[i] {
			t.Errorf("OutputOrder[%d] = %q, want %q", i, history.OutputOrder[i], want[i])
		}
	}
	if len(history.Outputs["10"].Images) != 1 {
		t.Errorf("Expected one image for node 10, got %+v", history.Outputs["10"])
	}
}

func TestPromptHistory_NoOutputs(t *testing.T) {
	var history PromptHistory
	if err := json.Unmarshal([]byte(`{"prompt": [1, "id"], "outputs": null}`), &history); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(history.OutputOrder) != 0 || len(history.Outputs) != 0 {
		t.Errorf("Expected no outputs, got %+v", history)
	}
}

func TestDecodeErrorValue(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		message    string
		wantDetail bool
	}{
		{"string", `"no prompt"`, "no prompt", false},
		{"object", `{"type": "invalid_prompt", "message": "Cannot execute", "details": "x"}`, "Cannot execute", true},
		{"null", `null`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message, detail := decodeErrorValue(json.RawMessage(tt.raw))
			if message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, message)
			}
			if (detail != nil) != tt.wantDetail {
				t.Errorf("Expected detail=%v, got %+v", tt.wantDetail, detail)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	if decodeEnvelope([]byte(`{"prompt_id": "x"}`)) != nil {
		t.Error("Success body must not be treated as an error")
	}
	if decodeEnvelope([]byte(`[1, 2]`)) != nil {
		t.Error("Non-object body must not be treated as an error")
	}
	serverErr := decodeEnvelope([]byte(`{"error": {"message": "bad"}, "node_errors": {"1": {"errors": []}}}`))
	if serverErr == nil || serverErr.Message != "bad" || len(serverErr.NodeErrors) != 1 {
		t.Errorf("Unexpected envelope: %+v", serverErr)
	}
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type": "executing", "data": {"node": null, "prompt_id": "abc123"}}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	data, err := event.Executing()
	if err != nil {
		t.Fatalf("Executing failed: %v", err)
	}
	if !data.Finished() || data.PromptID != "abc123" {
		t.Errorf("Unexpected payload %+v", data)
	}

	event, err = ParseEvent([]byte(`{"type": "progress", "data": {"value": 4, "max": 20}}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	progress, err := event.Progress()
	if err != nil || progress.Value != 4 || progress.Max != 20 {
		t.Errorf("Unexpected progress %+v (%v)", progress, err)
	}

	for _, raw := range []string{`not json`, `{"data": {}}`} {
		_, err := ParseEvent([]byte(raw))
		var protocolErr *ProtocolError
		if !errors.As(err, &protocolErr) {
			t.Errorf("ParseEvent(%q): expected *ProtocolError, got %v", raw, err)
		}
	}
}

func TestPromptClone(t *testing.T) {
	original := samplePrompt()
	clone := original.Clone()
	clone["4"].Inputs["ckpt_name"] = "other.safetensors"

	if original["4"].Inputs["ckpt_name"] != "v1-5-pruned-emaonly.safetensors" {
		t.Error("Clone shares input maps with the original")
	}
}

func TestNodeRef_Encoding(t *testing.T) {
	data, err := json.Marshal(NodeRef("8", 0))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `["8",0]` {
		t.Errorf("Expected [\"8\",0], got %s", data)
	}
}
