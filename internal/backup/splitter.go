package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tis24dev/homesave/internal/logging"
)

const (
	// DefaultShardSizeBytes is used when no shard size is configured.
	DefaultShardSizeBytes = 60 * 1024 * 1024

	// chunkBufferSize is the copy buffer used while cutting shards.
	chunkBufferSize = 1 << 20

	// maxShards bounds the two-letter suffix space (aa..zz).
	maxShards = 26 * 26

	shardFilePerm = 0o640
)

// ShardSuffix returns the lexical suffix for shard index i: 0 -> "aa",
// 1 -> "ab", 26 -> "ba". Lexical order equals sequence order.
func ShardSuffix(index int) string {
	return string(rune('a'+index/26)) + string(rune('a'+index%26))
}

// ParseShardName splits a shard file name into its base archive name and
// shard suffix. It only accepts names whose base carries a recognized
// archive extension, so "backup.tar.gz.ab" parses while "notes.ab" does not.
// A name that is itself a plain archive ("backup.tar.gz") is never a shard,
// even though "gz" happens to look like a suffix.
func ParseShardName(name string) (base, suffix string, ok bool) {
	if HasArchiveExtension(name) {
		return "", "", false
	}
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	base, suffix = name[:idx], name[idx+1:]
	if len(suffix) != 2 {
		return "", "", false
	}
	for _, c := range suffix {
		if c < 'a' || c > 'z' {
			return "", "", false
		}
	}
	if !HasArchiveExtension(base) {
		return "", "", false
	}
	return base, suffix, true
}

// HasArchiveExtension reports whether name ends in a recognized archive
// extension (optionally wrapped in .age).
func HasArchiveExtension(name string) bool {
	_, ok := CompressionForArchive(name)
	return ok
}

// Splitter cuts a finished archive stream into fixed-size shards.
type Splitter struct {
	logger    *logging.Logger
	shardSize int64
}

// NewSplitter creates a splitter with the given shard size in bytes.
// Non-positive sizes fall back to the default.
func NewSplitter(logger *logging.Logger, shardSize int64) *Splitter {
	if shardSize <= 0 {
		shardSize = DefaultShardSizeBytes
	}
	return &Splitter{
		logger:    logger,
		shardSize: shardSize,
	}
}

// ShardSize returns the effective shard size in bytes.
func (s *Splitter) ShardSize() int64 {
	return s.shardSize
}

// Split cuts archivePath into shards named <archive>.<suffix> next to the
// original. Every shard except the last is exactly the shard size; the last
// carries the remainder and is never empty. The original archive is left in
// place. On any failure all shards written so far are deleted.
func (s *Splitter) Split(ctx context.Context, archivePath string) ([]string, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("refusing to split empty archive: %s", archivePath)
	}

	numShards := int((size + s.shardSize - 1) / s.shardSize)
	if numShards > maxShards {
		return nil, fmt.Errorf("archive needs %d shards but only %d suffixes exist, increase SHARD_SIZE_MB", numShards, maxShards)
	}

	s.logger.Info("Splitting archive into %d shards of %s", numShards, FormatBytes(s.shardSize))

	src, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	buf := make([]byte, chunkBufferSize)
	shards := make([]string, 0, numShards)
	for i := 0; i < numShards; i++ {
		if err := ctx.Err(); err != nil {
			s.cleanup(shards)
			return nil, err
		}

		want := s.shardSize
		if i == numShards-1 {
			want = size - int64(i)*s.shardSize
		}

		shardPath := archivePath + "." + ShardSuffix(i)
		written, err := writeShard(src, shardPath, buf, want)
		if err != nil {
			s.cleanup(append(shards, shardPath))
			return nil, fmt.Errorf("write shard %s: %w", shardPath, err)
		}
		if written != want {
			s.cleanup(append(shards, shardPath))
			return nil, fmt.Errorf("shard %s truncated: wrote %d of %d bytes", shardPath, written, want)
		}

		shards = append(shards, shardPath)
		s.logger.Debug("Wrote shard %s (%s)", shardPath, FormatBytes(written))
	}

	return shards, nil
}

func writeShard(src io.Reader, path string, buf []byte, limit int64) (int64, error) {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, shardFilePerm)
	if err != nil {
		return 0, err
	}

	written, err := io.CopyBuffer(dst, io.LimitReader(src, limit), buf)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	return written, err
}

func (s *Splitter) cleanup(shards []string) {
	for _, shard := range shards {
		if err := os.Remove(shard); err != nil && !os.IsNotExist(err) {
			s.logger.Warning("Failed to remove partial shard %s: %v", shard, err)
		}
	}
}
