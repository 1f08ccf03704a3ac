package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tis24dev/homesave/internal/logging"
)

// Manifest describes a finished backup artifact: where it lives, how it was
// packaged, and the checksum restore uses to verify it.
type Manifest struct {
	ArchivePath string    `json:"archive_path"`
	ArchiveSize int64     `json:"archive_size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`

	ArchiveMode    string `json:"archive_mode"`
	ShardCount     int    `json:"shard_count,omitempty"`
	ShardSizeBytes int64  `json:"shard_size_bytes,omitempty"`

	CompressionType  string `json:"compression_type"`
	CompressionLevel int    `json:"compression_level"`
	CompressionMode  string `json:"compression_mode,omitempty"`
	EncryptionMode   string `json:"encryption_mode,omitempty"`

	Categories  []string `json:"categories,omitempty"`
	Hostname    string   `json:"hostname"`
	ToolVersion string   `json:"tool_version,omitempty"`
}

// cancelableReader aborts the stream as soon as its context is done, so a
// long hash over a large archive reacts to Ctrl+C between chunks.
type cancelableReader struct {
	ctx context.Context
	src io.Reader
}

func (r *cancelableReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.src.Read(p)
}

// GenerateChecksum streams filePath through SHA256 and returns the hex digest.
func GenerateChecksum(ctx context.Context, logger *logging.Logger, filePath string) (string, error) {
	logger.Debug("Hashing %s with SHA256", filePath)

	fh, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filePath, err)
	}
	defer fh.Close()

	digest := sha256.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(digest, &cancelableReader{ctx: ctx, src: fh}, buf); err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}

	sum := hex.EncodeToString(digest.Sum(nil))
	logger.Debug("SHA256 digest: %s", sum)
	return sum, nil
}

// WriteChecksumFile writes a sha256sum-compatible sidecar next to filePath
// and returns the sidecar path.
func WriteChecksumFile(logger *logging.Logger, filePath, checksum string) (string, error) {
	sidecar := filePath + ".sha256"
	line := fmt.Sprintf("%s  %s\n", checksum, filepath.Base(filePath))
	if err := os.WriteFile(sidecar, []byte(line), 0o640); err != nil {
		return "", fmt.Errorf("write checksum sidecar: %w", err)
	}
	logger.Debug("Checksum file written to %s", sidecar)
	return sidecar, nil
}

// CreateManifest serializes the manifest as indented JSON at outputPath,
// creating parent directories as needed.
func CreateManifest(ctx context.Context, logger *logging.Logger, manifest *Manifest, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Debug("Writing manifest: %s", outputPath)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(outputPath, body, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	logger.Debug("Manifest written")
	return nil
}

// VerifyChecksum recomputes the file's digest and compares it against the
// expected value. A mismatch is reported, not returned as an error.
func VerifyChecksum(ctx context.Context, logger *logging.Logger, filePath, expectedChecksum string) (bool, error) {
	logger.Debug("Verifying SHA256 for: %s", filePath)

	got, err := GenerateChecksum(ctx, logger, filePath)
	if err != nil {
		return false, fmt.Errorf("compute checksum: %w", err)
	}
	if got != expectedChecksum {
		logger.Warning("Checksum mismatch! Expected: %s, Got: %s", expectedChecksum, got)
		return false, nil
	}

	logger.Debug("Checksum verification passed")
	return true, nil
}

// LoadManifest reads a manifest previously written by CreateManifest.
func LoadManifest(manifestPath string) (*Manifest, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
