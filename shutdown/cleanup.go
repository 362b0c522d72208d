package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"comfyclient/core"
	"comfyclient/logging"
)

// CleanupPartialArtifacts returns a step that removes temporary files an
// interrupted artifact write left in outputDir. Finished artifacts are never
// touched. Failures are logged, not returned.
func CleanupPartialArtifacts(logger *logging.Logger, outputDir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		entries, err := os.ReadDir(outputDir)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("cannot list output directory", zap.String("dir", outputDir), zap.Error(err))
			}
			return nil
		}

		removed := 0
		for _, entry := range entries {
			if ctx.Err() != nil {
				logger.Warn("cleanup interrupted", zap.Int("removed", removed))
				return nil
			}
			if entry.IsDir() || !isPartialArtifact(entry.Name()) {
				continue
			}
			path := filepath.Join(outputDir, entry.Name())
			if err := os.Remove(path); err != nil {
				logger.Warn("cannot remove partial artifact", zap.String("path", path), zap.Error(err))
				continue
			}
			removed++
		}

		if removed > 0 {
			logger.Info("removed partial artifacts", zap.Int("count", removed), zap.String("dir", outputDir))
		}
		return nil
	}
}

// isPartialArtifact matches the ".<name>.<random>.tmp" files written by
// artifacts.DirSink before the rename.
func isPartialArtifact(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}
