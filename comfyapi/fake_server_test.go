package comfyapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer imitates the HTTP and WebSocket surface of a ComfyUI server.
type fakeServer struct {
	t      *testing.T
	server *httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	clientID string
	writeMu  sync.Mutex

	connected chan struct{}

	// promptStatus and promptBody override the /prompt response when set
	promptStatus int
	promptBody   string
	// beforeQueueResponse runs after the prompt is accepted but before the
	// HTTP response is written
	beforeQueueResponse func(promptID string)
	promptRequests      []queuePromptRequest
	promptCalls         atomic.Int32

	promptID string
	history  map[string]string // prompt id -> raw history body
	images   map[string][]byte // filename -> payload
	failView map[string]int    // filename -> status code

	uploads    []*http.Request
	uploadForm []map[string]string

	interrupts atomic.Int32

	// live counts event connections the server has not seen close
	live atomic.Int32

	wsStatus int // non-zero rejects the upgrade with this status
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{
		t:         t,
		connected: make(chan struct{}, 16),
		promptID:  "abc123",
		history:   make(map[string]string),
		images:    make(map[string][]byte),
		failView:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleWS)
	mux.HandleFunc("/prompt", f.handlePrompt)
	mux.HandleFunc("/history/", f.handleHistory)
	mux.HandleFunc("/view", f.handleView)
	mux.HandleFunc("/upload/image", f.handleUpload)
	mux.HandleFunc("/upload/mask", f.handleUpload)
	mux.HandleFunc("/interrupt", func(w http.ResponseWriter, r *http.Request) {
		f.interrupts.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.closeConns()
		f.server.Close()
	})
	return f
}

func (f *fakeServer) address() string {
	return strings.TrimPrefix(f.server.URL, "http://")
}

func (f *fakeServer) newClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(ClientConfig{
		ServerAddress: f.address(),
		ClientID:      "test-client",
		HTTPClient:    f.server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return client
}

func (f *fakeServer) handleWS(w http.ResponseWriter, r *http.Request) {
	if f.wsStatus != 0 {
		http.Error(w, "no websocket here", f.wsStatus)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade failed: %v", err)
		return
	}

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.clientID = r.URL.Query().Get("clientId")
	f.mu.Unlock()
	f.live.Add(1)

	// Drain client frames so control messages are processed.
	go func() {
		defer f.live.Add(-1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	f.connected <- struct{}{}
}

func (f *fakeServer) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-f.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a websocket connection")
	}
}

func (f *fakeServer) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeServer) latestConn() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// sendRaw writes a text frame on the most recent connection.
func (f *fakeServer) sendRaw(data string) {
	conn := f.latestConn()
	if conn == nil {
		f.t.Error("sendRaw: no connection")
		return
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		f.t.Errorf("sendRaw failed: %v", err)
	}
}

func (f *fakeServer) sendBinary(data []byte) {
	conn := f.latestConn()
	if conn == nil {
		f.t.Error("sendBinary: no connection")
		return
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		f.t.Errorf("sendBinary failed: %v", err)
	}
}

func (f *fakeServer) sendExecuting(node *string, promptID string) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": EventExecuting,
		"data": ExecutingData{Node: node, PromptID: promptID},
	})
	if err != nil {
		f.t.Errorf("marshal event: %v", err)
		return
	}
	f.sendRaw(string(payload))
}

func (f *fakeServer) finish(promptID string) {
	f.sendExecuting(nil, promptID)
}

func (f *fakeServer) closeConns() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}

func (f *fakeServer) handlePrompt(w http.ResponseWriter, r *http.Request) {
	f.promptCalls.Add(1)

	var req queuePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.promptRequests = append(f.promptRequests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.promptBody != "" {
		status := f.promptStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		io.WriteString(w, f.promptBody)
		return
	}

	if f.beforeQueueResponse != nil {
		f.beforeQueueResponse(f.promptID)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"prompt_id":   f.promptID,
		"number":      7,
		"node_errors": map[string]interface{}{},
	})
}

func (f *fakeServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/history/")
	w.Header().Set("Content-Type", "application/json")
	body, ok := f.history[id]
	if !ok {
		io.WriteString(w, "{}")
		return
	}
	io.WriteString(w, body)
}

func (f *fakeServer) handleView(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if status, ok := f.failView[filename]; ok {
		http.Error(w, "boom", status)
		return
	}
	data, ok := f.images[filename]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

func (f *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fields := make(map[string]string)
	for key, values := range r.MultipartForm.Value {
		fields[key] = values[0]
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"no image"}`)
		return
	}
	data, _ := io.ReadAll(file)
	fields["__filename"] = header.Filename
	fields["__data"] = string(data)

	f.mu.Lock()
	f.uploads = append(f.uploads, r)
	f.uploadForm = append(f.uploadForm, fields)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadImageResult{
		Name:      header.Filename,
		Subfolder: fields["subfolder"],
		Type:      "input",
	})
}

// connect opens the client's session and waits for the server side.
func connect(t *testing.T, f *fakeServer, client *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	f.waitConnected(t)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func strPtr(s string) *string {
	return &s
}

// twoNodeHistory lists node 9 (two images), node 12 (no images) and node 5
// (one image), in that order.
const twoNodeHistory = `{
  "abc123": {
    "prompt": [7, "abc123", {}, {}, ["9", "5"]],
    "outputs": {
      "9":  {"images": [
        {"filename": "ComfyUI_00001_.png", "subfolder": "", "type": "output"},
        {"filename": "ComfyUI_00002_.png", "subfolder": "", "type": "output"}
      ]},
      "12": {"text": ["hello"]},
      "5":  {"images": [
        {"filename": "preview_00001_.png", "subfolder": "previews", "type": "temp"}
      ]}
    },
    "status": {"status_str": "success", "completed": true}
  }
}`

func seedTwoNodeOutputs(f *fakeServer) {
	f.history["abc123"] = twoNodeHistory
	f.images["ComfyUI_00001_.png"] = []byte("first")
	f.images["ComfyUI_00002_.png"] = []byte("second")
	f.images["preview_00001_.png"] = []byte("preview")
}

func samplePrompt() Prompt {
	return Prompt{
		"4": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]interface{}{"ckpt_name": "v1-5-pruned-emaonly.safetensors"}},
		"9": {ClassType: "SaveImage", Inputs: map[string]interface{}{"images": NodeRef("8", 0), "filename_prefix": "ComfyUI"}},
	}
}
