// Package comfyapi is a client for ComfyUI-style image generation servers.
//
// A server exposes a job queue over HTTP and publishes execution progress on
// a WebSocket event stream scoped by client id. This package submits prompt
// graphs, correlates the completion event on the stream back to the
// submitted job, and retrieves the resulting artifacts.
//
// # Components
//
//   - Session: the persistent event connection and its listener registry
//   - Client.QueuePrompt: POST /prompt
//   - Client.Submit / Job.Wait: completion correlation on the event stream
//   - Client.Materialize: GET /history/{id} then GET /view per artifact
//   - Client.GetImages: all of the above in one call
//
// # Quick Start
//
//	client, err := comfyapi.NewClient(comfyapi.ClientConfig{
//	    ServerAddress: "127.0.0.1:8188",
//	    ClientID:      uuid.NewString(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	result, err := client.GetImages(ctx, prompt)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, nodeID := range result.NodeOrder {
//	    for _, artifact := range result.Outputs[nodeID] {
//	        // hand artifact.Data to a sink
//	    }
//	}
//
// # Errors
//
// Nothing in this package retries. Submitting the same prompt twice queues
// two jobs, so retry policy is left to the caller. Failures are reported as
// the typed errors in errors.go and can be inspected with errors.Is and
// errors.As.
//
// # Concurrency
//
// A Session delivers frames from a single read goroutine, one frame at a
// time, to every subscribed listener in subscription order. Several jobs may
// be awaited concurrently on one Client; each holds its own subscription and
// filters by its own prompt id.
package comfyapi
