package comfyapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"comfyclient/logging"
)

// GetHistory fetches the execution record of promptID. A response without a
// record for the prompt is reported as *HistoryNotFoundError.
func (c *Client) GetHistory(ctx context.Context, promptID string) (*PromptHistory, error) {
	path := "/history/" + url.PathEscape(promptID)
	op := "GET " + path

	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	var result historyResult
	if err := c.doJSON(req, op, &result); err != nil {
		c.logIfServerError("history request failed", err)
		return nil, err
	}

	history, ok := result[promptID]
	if !ok {
		return nil, &HistoryNotFoundError{PromptID: promptID}
	}
	return &history, nil
}

// GetImage downloads one output image through GET /view.
func (c *Client) GetImage(ctx context.Context, image OutputImage) (*Artifact, error) {
	query := url.Values{
		"filename":  {image.Filename},
		"subfolder": {image.Subfolder},
		"type":      {image.Type},
	}
	op := "GET /view"

	req, err := c.newRequest(ctx, http.MethodGet, "/view", query, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	data, header, err := c.do(req, op)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Image:       image,
		Data:        data,
		ContentType: header.Get("Content-Type"),
	}, nil
}

// Materialize retrieves every output image recorded for promptID, grouped
// by output node. Nodes are visited in the order the history record lists
// them and images in list order; nodes without images are left out.
//
// The first failed download aborts the whole call with *ArtifactFetchError
// and no partial result.
func (c *Client) Materialize(ctx context.Context, promptID string) (ImagesResponse, error) {
	outputs, _, err := c.materialize(ctx, promptID)
	return outputs, err
}

// MaterializeOrdered is Materialize plus the node ids of the result in
// history order.
func (c *Client) MaterializeOrdered(ctx context.Context, promptID string) (ImagesResponse, []string, error) {
	return c.materialize(ctx, promptID)
}

func (c *Client) materialize(ctx context.Context, promptID string) (ImagesResponse, []string, error) {
	logger := c.logger.With(logging.PromptID(promptID))

	history, err := c.GetHistory(ctx, promptID)
	if err != nil {
		return nil, nil, err
	}
	if history.Status != nil && history.Status.StatusStr == "error" {
		logger.Warn("history reports execution error", zap.Bool("completed", history.Status.Completed))
	}

	outputs := make(ImagesResponse)
	var order []string
	for _, nodeID := range history.OutputOrder {
		node := history.Outputs[nodeID]
		if len(node.Images) == 0 {
			continue
		}

		artifacts := make([]Artifact, 0, len(node.Images))
		for _, image := range node.Images {
			artifact, err := c.GetImage(ctx, image)
			if err != nil {
				logger.Warn("artifact fetch failed",
					append(logging.Artifact(image.Filename, image.Subfolder, image.Type), zap.Error(err))...)
				return nil, nil, &ArtifactFetchError{Image: image, Err: err}
			}
			artifacts = append(artifacts, *artifact)
		}
		outputs[nodeID] = artifacts
		order = append(order, nodeID)
	}

	logger.Info("outputs retrieved",
		zap.Int("nodes", len(order)),
		zap.Int("artifacts", outputs.Count()))
	return outputs, order, nil
}

// String summarizes the result for logs.
func (r *JobResult) String() string {
	return fmt.Sprintf("prompt %s: %d nodes, %d artifacts", r.Handle.PromptID, len(r.NodeOrder), r.Outputs.Count())
}
