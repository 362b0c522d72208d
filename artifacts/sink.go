// Package artifacts stores the images retrieved for a job.
//
// sink.go defines the Sink contract and SaveImages, which hands every
// artifact of an ImagesResponse to a Sink in history order.
//
// This package composes:
//   - comfyapi: for the Artifact and ImagesResponse types
//   - blake3: for content digests
//   - golang.org/x/image: for webp and bmp header probing
package artifacts

import (
	"context"
	"fmt"
	"sort"

	"comfyclient/comfyapi"
)

// Sink persists artifacts. Implementations must be safe for sequential use;
// SaveImages never calls Store concurrently.
type Sink interface {
	Store(ctx context.Context, nodeID string, artifact comfyapi.Artifact) (StoredArtifact, error)
}

// StoredArtifact describes one artifact after it was written.
type StoredArtifact struct {
	// NodeID is the output node that produced the artifact
	NodeID string

	// Image is the server-side descriptor
	Image comfyapi.OutputImage

	// Path is where the artifact was written
	Path string

	// Size is the payload size in bytes
	Size int64

	// Digest is the BLAKE3 digest of the payload, "blake3:<hex>"
	Digest string

	// ContentType as reported by the server
	ContentType string

	// Format, Width and Height come from the image header; Format is empty
	// when the payload could not be probed
	Format string
	Width  int
	Height int
}

// SaveImages stores every artifact in response. Nodes are visited in order
// when given, otherwise in sorted node id order; artifacts of a node keep
// their list order. The first failure stops the loop and the artifacts
// stored so far are returned with the error.
func SaveImages(ctx context.Context, sink Sink, response comfyapi.ImagesResponse, order []string) ([]StoredArtifact, error) {
	if sink == nil {
		return nil, fmt.Errorf("artifacts: sink cannot be nil")
	}
	if order == nil {
		order = make([]string, 0, len(response))
		for nodeID := range response {
			order = append(order, nodeID)
		}
		sort.Strings(order)
	}

	stored := make([]StoredArtifact, 0, response.Count())
	for _, nodeID := range order {
		for _, artifact := range response[nodeID] {
			if err := ctx.Err(); err != nil {
				return stored, err
			}
			result, err := sink.Store(ctx, nodeID, artifact)
			if err != nil {
				return stored, fmt.Errorf("artifacts: store %s from node %s: %w", artifact.Image.Filename, nodeID, err)
			}
			stored = append(stored, result)
		}
	}
	return stored, nil
}
