package comfyapi

import (
	"sync"

	"go.uber.org/zap"

	"comfyclient/logging"
)

// completionWaiter is the Listener behind a Job. It watches "executing"
// events and resolves once, when the event for its prompt reports a null
// node. Completions seen before the prompt id is bound are remembered, since
// the server may finish a cached prompt before POST /prompt returns.
type completionWaiter struct {
	logger *logging.Logger

	mu       sync.Mutex
	promptID string
	early    map[string]struct{}

	once sync.Once
	err  error
	done chan struct{}
}

func newCompletionWaiter(logger *logging.Logger) *completionWaiter {
	return &completionWaiter{
		logger: logger.Named("correlator"),
		early:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// bind sets the prompt id to wait for and replays any completion recorded
// for it.
func (w *completionWaiter) bind(promptID string) {
	w.mu.Lock()
	w.promptID = promptID
	_, finished := w.early[promptID]
	w.early = nil
	w.mu.Unlock()

	if finished {
		w.resolve(nil)
	}
}

func (w *completionWaiter) resolve(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}

// result returns the outcome. Only valid after done is closed.
func (w *completionWaiter) result() error {
	<-w.done
	return w.err
}

func (w *completionWaiter) OnFrame(frame Frame) {
	if frame.Binary {
		// preview images
		return
	}

	event, err := ParseEvent(frame.Data)
	if err != nil {
		w.resolve(err)
		return
	}
	if event.Type != EventExecuting {
		return
	}

	data, err := event.Executing()
	if err != nil {
		w.resolve(err)
		return
	}
	if !data.Finished() {
		w.logger.Debug("executing", logging.Node(*data.Node), logging.PromptID(data.PromptID))
		return
	}

	w.mu.Lock()
	bound := w.promptID
	if bound == "" {
		w.early[data.PromptID] = struct{}{}
	}
	w.mu.Unlock()

	switch {
	case bound == "":
	case bound == data.PromptID:
		w.resolve(nil)
	default:
		w.logger.Debug("ignoring completion of another prompt", zap.String("other_prompt_id", data.PromptID))
	}
}

func (w *completionWaiter) OnClose(err error) {
	w.resolve(err)
}
