package logging

import (
	"go.uber.org/zap"
)

// Field helpers keep key names consistent across packages so that log
// lines for a single job can be grepped by prompt_id.

// PromptID returns the zap field for a server-assigned job identifier.
func PromptID(id string) zap.Field {
	return zap.String("prompt_id", id)
}

// ClientID returns the zap field for the event-stream client identifier.
func ClientID(id string) zap.Field {
	return zap.String("client_id", id)
}

// Node returns the zap field for a graph node identifier.
func Node(id string) zap.Field {
	return zap.String("node", id)
}

// Artifact returns the fields describing one output artifact.
func Artifact(filename, subfolder, storageType string) []zap.Field {
	return []zap.Field{
		zap.String("filename", filename),
		zap.String("subfolder", subfolder),
		zap.String("type", storageType),
	}
}
