package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tis24dev/homesave/internal/backup"
	"github.com/tis24dev/homesave/internal/logging"
)

// ReassemblyError reports a shard set that cannot be reconstructed: a gap in
// the suffix sequence, an unreadable shard, or a stream that fails its
// recorded checksum. It always fires before any destination file is touched.
type ReassemblyError struct {
	Shard string
	Err   error
}

func (e *ReassemblyError) Error() string {
	if e.Shard != "" {
		return fmt.Sprintf("reassembly failed at shard %s: %v", e.Shard, e.Err)
	}
	return fmt.Sprintf("reassembly failed: %v", e.Err)
}

func (e *ReassemblyError) Unwrap() error { return e.Err }

// ReassembleShards concatenates the selection's shards, in suffix order,
// into workDir and returns the path of the reconstructed archive. The shard
// sequence must be contiguous from the first suffix; any gap, read failure,
// or write failure raises ReassemblyError and removes the partial output.
func ReassembleShards(ctx context.Context, selection *RestoreSelection, workDir string, logger *logging.Logger) (string, error) {
	if selection == nil || selection.Kind != RestoreKindShardSet {
		return "", fmt.Errorf("reassembly requires a shard set selection")
	}
	if len(selection.Shards) == 0 {
		return "", &ReassemblyError{Err: fmt.Errorf("no shards found for %s", selection.BaseName)}
	}

	// A set reassembles correctly only when shard i carries suffix i; a
	// lexical sort with a hole in it would silently corrupt the stream.
	for i, shard := range selection.Shards {
		want := selection.BaseName + "." + backup.ShardSuffix(i)
		if filepath.Base(shard) != want {
			return "", &ReassemblyError{
				Shard: want,
				Err:   fmt.Errorf("expected %s, found %s", want, filepath.Base(shard)),
			}
		}
	}

	outPath := filepath.Join(workDir, selection.BaseName)
	out, err := restoreFS.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", &ReassemblyError{Err: fmt.Errorf("create reassembly target: %w", err)}
	}

	var total int64
	for _, shard := range selection.Shards {
		select {
		case <-ctx.Done():
			out.Close()
			restoreFS.Remove(outPath)
			return "", ctx.Err()
		default:
		}

		n, err := appendShard(out, shard)
		if err != nil {
			out.Close()
			restoreFS.Remove(outPath)
			return "", &ReassemblyError{Shard: filepath.Base(shard), Err: err}
		}
		total += n
		logger.Debug("Appended shard %s (%d bytes)", filepath.Base(shard), n)
	}

	if err := out.Close(); err != nil {
		restoreFS.Remove(outPath)
		return "", &ReassemblyError{Err: fmt.Errorf("finalize reassembled archive: %w", err)}
	}

	logger.Info("Reassembled %d shard(s) into %s (%d bytes)", len(selection.Shards), selection.BaseName, total)
	return outPath, nil
}

func appendShard(out io.Writer, shardPath string) (int64, error) {
	in, err := restoreFS.Open(shardPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return io.Copy(out, in)
}

// verifyArtifactChecksum compares artifactPath against the sha256 sidecar
// recorded for baseName in destRoot, falling back to the manifest when no
// sidecar exists. Returns false with a nil error when nothing on disk records
// a checksum to compare against.
func verifyArtifactChecksum(ctx context.Context, logger *logging.Logger, destRoot, baseName, artifactPath string) (bool, error) {
	expected := ""
	sidecar := filepath.Join(destRoot, baseName+".sha256")
	if data, err := restoreFS.ReadFile(sidecar); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) > 0 {
			expected = fields[0]
		}
	}
	if expected == "" {
		manifestPath := filepath.Join(destRoot, backup.TrimArchiveSuffix(baseName)+".manifest")
		if manifest, err := backup.LoadManifest(manifestPath); err == nil {
			expected = manifest.SHA256
		}
	}
	if expected == "" {
		logger.Debug("No recorded checksum for %s, skipping verification", baseName)
		return false, nil
	}

	actual, err := backup.GenerateChecksum(ctx, logger, artifactPath)
	if err != nil {
		return false, fmt.Errorf("checksum %s: %w", artifactPath, err)
	}
	if actual != expected {
		return false, fmt.Errorf("checksum mismatch for %s: recorded %s, got %s", baseName, expected, actual)
	}
	logger.Success("Checksum verified for %s", baseName)
	return true, nil
}
