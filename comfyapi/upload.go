package comfyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// UploadOptions controls where an uploaded image is stored.
type UploadOptions struct {
	// Overwrite replaces an existing file of the same name instead of
	// letting the server pick a new one
	Overwrite bool

	// Subfolder inside the storage type's directory (optional)
	Subfolder string

	// Type is the storage type: "input" (default), "temp" or "output"
	Type string
}

// UploadImage stores data on the server under filename so prompts can refer
// to it, typically from a LoadImage node.
func (c *Client) UploadImage(ctx context.Context, data []byte, filename string, opts UploadOptions) (*UploadImageResult, error) {
	return c.upload(ctx, "/upload/image", data, filename, opts, nil)
}

// UploadMask stores a mask whose alpha channel is applied to the already
// uploaded image original.
func (c *Client) UploadMask(ctx context.Context, data []byte, filename string, original ImageRef, opts UploadOptions) (*UploadImageResult, error) {
	if original.Filename == "" {
		return nil, fmt.Errorf("comfyapi: mask upload needs the original image filename")
	}
	return c.upload(ctx, "/upload/mask", data, filename, opts, &original)
}

func (c *Client) upload(ctx context.Context, path string, data []byte, filename string, opts UploadOptions, original *ImageRef) (*UploadImageResult, error) {
	op := "POST " + path
	if filename == "" {
		return nil, fmt.Errorf("comfyapi: upload filename cannot be empty")
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)

	part, err := form.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("comfyapi: build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("comfyapi: build upload form: %w", err)
	}

	fields := map[string]string{
		"overwrite": strconv.FormatBool(opts.Overwrite),
	}
	if opts.Subfolder != "" {
		fields["subfolder"] = opts.Subfolder
	}
	if opts.Type != "" {
		fields["type"] = opts.Type
	}
	if original != nil {
		ref, err := json.Marshal(original)
		if err != nil {
			return nil, fmt.Errorf("comfyapi: encode original_ref: %w", err)
		}
		fields["original_ref"] = string(ref)
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("comfyapi: build upload form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("comfyapi: build upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var result UploadImageResult
	if err := c.doJSON(req, op, &result); err != nil {
		c.logIfServerError("upload rejected", err)
		return nil, err
	}

	c.logger.Info("image uploaded",
		zap.String("name", result.Name),
		zap.String("subfolder", result.Subfolder),
		zap.String("type", result.Type),
		zap.Int("bytes", len(data)))
	return &result, nil
}
