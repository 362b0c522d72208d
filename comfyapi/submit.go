package comfyapi

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"comfyclient/logging"
)

var errMissingPromptID = errors.New("response carries no prompt_id")

// QueuePrompt submits prompt for execution and returns the server's handle.
//
// A prompt the server rejects is reported as *ValidationError; network and
// decoding failures as *TransportError. The call is never retried, since a
// second submission would queue a second job.
func (c *Client) QueuePrompt(ctx context.Context, prompt Prompt) (*JobHandle, error) {
	const op = "POST /prompt"

	var handle JobHandle
	err := c.postJSON(ctx, "/prompt", queuePromptRequest{Prompt: prompt, ClientID: c.clientID}, &handle)
	if err != nil {
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			c.logger.Warn("prompt rejected",
				zap.String("error", serverErr.Message),
				zap.Int("node_errors", len(serverErr.NodeErrors)))
			return nil, &ValidationError{
				Message:    serverErr.Message,
				Detail:     serverErr.Detail,
				NodeErrors: serverErr.NodeErrors,
			}
		}
		return nil, err
	}
	if handle.PromptID == "" {
		return nil, &TransportError{Op: op, Err: errMissingPromptID}
	}

	c.logger.Info("prompt queued",
		logging.PromptID(handle.PromptID),
		zap.Int("number", handle.Number),
		zap.Int("node_errors", len(handle.NodeErrors)))
	return &handle, nil
}

// Job is a submitted prompt whose completion is being tracked on the event
// channel. Close releases the subscription; Wait closes it on return.
type Job struct {
	Handle JobHandle

	waiter *completionWaiter
	sub    Subscription
	logger *logging.Logger
}

// Submit subscribes to the event channel, then queues prompt. Subscribing
// first guarantees the completion event cannot be missed, however fast the
// server is.
//
// It returns ErrNotConnected when the session is not connected. A rejected
// prompt is returned as *ValidationError with the subscription released.
func (c *Client) Submit(ctx context.Context, prompt Prompt) (*Job, error) {
	waiter := newCompletionWaiter(c.logger)
	sub, err := c.session.Subscribe(waiter)
	if err != nil {
		return nil, err
	}

	handle, err := c.QueuePrompt(ctx, prompt)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	waiter.bind(handle.PromptID)

	return &Job{
		Handle: *handle,
		waiter: waiter,
		sub:    sub,
		logger: c.logger.With(logging.PromptID(handle.PromptID)),
	}, nil
}

// Wait blocks until the job finishes executing, the event channel is lost,
// a malformed event arrives or ctx is done. The subscription is released
// on every path.
func (j *Job) Wait(ctx context.Context) error {
	defer j.Close()

	j.logger.Debug("waiting for completion")
	select {
	case <-j.waiter.done:
	case <-ctx.Done():
		j.waiter.resolve(fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
	}

	err := j.waiter.result()
	if err != nil {
		j.logger.Warn("wait failed", zap.Error(err))
		return err
	}
	j.logger.Info("execution finished")
	return nil
}

// Close releases the job's subscription. It is safe to call more than once.
func (j *Job) Close() {
	j.sub.Unsubscribe()
}

// WaitForCompletion waits for a prompt that was queued earlier to finish.
//
// The subscription starts when this call does, so a prompt that finished
// before the call is never observed. Use Submit or GetImages to cover the
// window between queueing and waiting.
func (c *Client) WaitForCompletion(ctx context.Context, promptID string) error {
	waiter := newCompletionWaiter(c.logger)
	waiter.bind(promptID)
	sub, err := c.session.Subscribe(waiter)
	if err != nil {
		return err
	}

	job := &Job{
		Handle: JobHandle{PromptID: promptID},
		waiter: waiter,
		sub:    sub,
		logger: c.logger.With(logging.PromptID(promptID)),
	}
	return job.Wait(ctx)
}

// GetImages submits prompt, waits for it to finish and retrieves every
// output image. Either all artifacts are returned or none are.
func (c *Client) GetImages(ctx context.Context, prompt Prompt) (*JobResult, error) {
	job, err := c.Submit(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if err := job.Wait(ctx); err != nil {
		return nil, err
	}

	outputs, order, err := c.materialize(ctx, job.Handle.PromptID)
	if err != nil {
		return nil, err
	}
	return &JobResult{Handle: job.Handle, Outputs: outputs, NodeOrder: order}, nil
}
