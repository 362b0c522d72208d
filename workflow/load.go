package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"comfyclient/comfyapi"
)

// Format is a workflow file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("workflow: unsupported file extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// LoadFile reads and validates a prompt graph.
func LoadFile(path string) (comfyapi.Prompt, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: failed to read %s: %w", path, err)
	}
	prompt, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return prompt, nil
}

// Parse decodes and validates a prompt graph. A document wrapped as
// {"prompt": {...}} is unwrapped.
func Parse(data []byte, format Format) (comfyapi.Prompt, error) {
	var doc map[string]interface{}

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	if inner, ok := doc["prompt"].(map[string]interface{}); ok && len(doc) <= 2 {
		doc = inner
	}

	// Round-trip through JSON so YAML and JSON documents yield the same
	// value types.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize graph: %w", err)
	}
	var prompt comfyapi.Prompt
	if err := json.Unmarshal(normalized, &prompt); err != nil {
		return nil, fmt.Errorf("graph is not a map of nodes: %w", err)
	}

	if err := Validate(prompt); err != nil {
		return nil, err
	}
	return prompt, nil
}

// Validate checks that the graph is non-empty, every node names its class
// and every slot reference points at a node in the graph.
func Validate(prompt comfyapi.Prompt) error {
	if len(prompt) == 0 {
		return fmt.Errorf("graph has no nodes")
	}

	ids := make([]string, 0, len(prompt))
	for id := range prompt {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := prompt[id]
		if node.ClassType == "" {
			return fmt.Errorf("node %s has no class_type", id)
		}
		for name, value := range node.Inputs {
			ref, ok := asNodeRef(value)
			if !ok {
				continue
			}
			if _, exists := prompt[ref]; !exists {
				return fmt.Errorf("node %s input %q references missing node %s", id, name, ref)
			}
		}
	}
	return nil
}

// asNodeRef reports whether v is a ["id", slot] reference.
func asNodeRef(v interface{}) (string, bool) {
	list, ok := v.([]interface{})
	if !ok || len(list) != 2 {
		return "", false
	}
	id, ok := list[0].(string)
	if !ok {
		return "", false
	}
	switch list[1].(type) {
	case int, int64, float64:
		return id, true
	default:
		return "", false
	}
}

// SetSeed returns a copy of prompt with the seed of every KSampler node
// replaced.
func SetSeed(prompt comfyapi.Prompt, seed int64) comfyapi.Prompt {
	out := prompt.Clone()
	for id, node := range out {
		if node.ClassType != "KSampler" {
			continue
		}
		node.Inputs["seed"] = seed
		out[id] = node
	}
	return out
}

// SetInput returns a copy of prompt with one input of one node replaced.
func SetInput(prompt comfyapi.Prompt, nodeID, input string, value interface{}) (comfyapi.Prompt, error) {
	if _, ok := prompt[nodeID]; !ok {
		return nil, fmt.Errorf("workflow: no node %s", nodeID)
	}
	out := prompt.Clone()
	out[nodeID].Inputs[input] = value
	return out, nil
}
