package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"comfyclient/logging"
)

func TestCleanupPartialArtifacts(t *testing.T) {
	dir := t.TempDir()
	files := map[string]bool{
		"ComfyUI_00001_.png":           true,
		".ComfyUI_00002_.png.1234.tmp": false,
		".hidden":                      true,
		"notes.tmp":                    true,
	}
	for name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	step := CleanupPartialArtifacts(logging.NewNop(), dir)
	if err := step(context.Background()); err != nil {
		t.Fatalf("cleanup returned error: %v", err)
	}

	for name, keep := range files {
		_, err := os.Stat(filepath.Join(dir, name))
		if keep && err != nil {
			t.Errorf("%s should have been kept", name)
		}
		if !keep && err == nil {
			t.Errorf("%s should have been removed", name)
		}
	}
}

func TestCleanupPartialArtifacts_MissingDir(t *testing.T) {
	step := CleanupPartialArtifacts(logging.NewNop(), filepath.Join(t.TempDir(), "absent"))
	if err := step(context.Background()); err != nil {
		t.Errorf("Expected nil for missing directory, got %v", err)
	}
}
