package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"go.uber.org/zap"

	"comfyclient/comfyapi"
	"comfyclient/logging"
)

// DirSink writes artifacts into a local directory under their server
// filename.
//
// Thread Safety: DirSink is safe for concurrent use, but two artifacts with
// the same filename overwrite each other.
type DirSink struct {
	dir    string
	logger *logging.Logger
}

// NewDirSink creates a DirSink, creating dir if needed.
//
// Example:
//
//	sink, err := artifacts.NewDirSink(cfg.OutputDir, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stored, err := artifacts.SaveImages(ctx, sink, result.Outputs, result.NodeOrder)
func NewDirSink(dir string, logger *logging.Logger) (*DirSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifacts: output directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("artifacts: failed to create output directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DirSink{dir: dir, logger: logger.Named("artifacts")}, nil
}

// Dir returns the output directory.
func (s *DirSink) Dir() string {
	return s.dir
}

// Store writes the artifact to dir/<filename>. The file appears atomically:
// data goes to a temporary file that is renamed into place.
func (s *DirSink) Store(ctx context.Context, nodeID string, artifact comfyapi.Artifact) (StoredArtifact, error) {
	if err := ctx.Err(); err != nil {
		return StoredArtifact{}, err
	}

	filename := sanitizeFilename(artifact.Image.Filename)
	if filepath.Ext(filename) == "" {
		ext := extensionFromContentType(artifact.ContentType)
		if ext == "" {
			ext = ".png"
		}
		filename += ext
	}
	path := filepath.Join(s.dir, filename)

	tmp, err := os.CreateTemp(s.dir, "."+filename+".*.tmp")
	if err != nil {
		return StoredArtifact{}, fmt.Errorf("artifacts: failed to create file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(artifact.Data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return StoredArtifact{}, fmt.Errorf("artifacts: failed to write image data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return StoredArtifact{}, fmt.Errorf("artifacts: failed to write image data: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return StoredArtifact{}, fmt.Errorf("artifacts: failed to move image into place: %w", err)
	}

	stored := StoredArtifact{
		NodeID:      nodeID,
		Image:       artifact.Image,
		Path:        path,
		Size:        int64(len(artifact.Data)),
		Digest:      Digest(artifact.Data),
		ContentType: artifact.ContentType,
	}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(artifact.Data)); err == nil {
		stored.Format = format
		stored.Width = cfg.Width
		stored.Height = cfg.Height
	} else {
		s.logger.Debug("could not probe image header", zap.String("path", path), zap.Error(err))
	}

	s.logger.Info("artifact saved",
		logging.Node(nodeID),
		zap.String("path", path),
		zap.Int64("bytes", stored.Size),
		zap.String("format", stored.Format))
	return stored, nil
}

// extensionFromContentType returns the file extension for an image MIME type.
func extensionFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}

	lower := strings.ToLower(contentType)
	if idx := strings.Index(lower, ";"); idx != -1 {
		lower = lower[:idx]
	}
	lower = strings.TrimSpace(lower)

	switch lower {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ""
	}
}

const (
	maxFilenameBytes = 200
	maxExtBytes      = 16
)

// sanitizeFilename keeps only the base name and replaces characters that
// are unsafe on common filesystems.
func sanitizeFilename(filename string) string {
	unsafe := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "\n", "\r", "\t"}
	result := filename
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimLeft(result, ".")

	if len(result) > maxFilenameBytes {
		ext := filepath.Ext(result)
		if len(ext) > maxExtBytes {
			ext = ""
		}
		stem := result[:len(result)-len(ext)]
		cut := maxFilenameBytes - len(ext)
		for cut > 0 && !utf8.RuneStart(stem[cut]) {
			cut--
		}
		result = stem[:cut] + ext
	}
	if result == "" {
		result = "image"
	}
	return result
}
