package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/types"
	"github.com/tis24dev/homesave/pkg/utils"
)

// StagingMarkerName is the marker file a backup session keeps inside its
// staging directory until the session commits. The archiver never packs it
// and storage listings treat directories still carrying it as in-flight.
const StagingMarkerName = ".homesave-staging"

// ArchiveResult describes the artifact an archive strategy produced.
type ArchiveResult struct {
	// Mode is the archive mode that ran.
	Mode types.ArchiveMode

	// ArchivePath points at the primary artifact: the staging directory for
	// mode none, the archive file for single, the first shard for split.
	ArchivePath string

	// BaseName is the archive file name shards derive from (single and
	// split modes).
	BaseName string

	// Shards lists every shard path in sequence order (split mode only).
	Shards []string

	// TotalBytes is the artifact size on disk.
	TotalBytes int64

	// Checksum is the SHA256 of the archive stream. For split mode this is
	// the hash of the reassembled stream, computed before splitting.
	Checksum string
}

// ArchiveStrategy turns a finished staging tree into the final artifact.
// Every failure path leaves the staging tree intact so collected data is
// never lost to a broken archive.
type ArchiveStrategy struct {
	logger   *logging.Logger
	archiver *Archiver
	splitter *Splitter
	mode     types.ArchiveMode
	dryRun   bool
}

// NewArchiveStrategy creates a strategy for the given archive mode.
func NewArchiveStrategy(logger *logging.Logger, archiver *Archiver, splitter *Splitter, mode types.ArchiveMode, dryRun bool) *ArchiveStrategy {
	return &ArchiveStrategy{
		logger:   logger,
		archiver: archiver,
		splitter: splitter,
		mode:     mode,
		dryRun:   dryRun,
	}
}

// Mode returns the configured archive mode.
func (s *ArchiveStrategy) Mode() types.ArchiveMode {
	return s.mode
}

// Apply runs the configured mode on stagingDir, placing the artifact under
// destDir as baseName plus the compression extension. The staging tree is
// removed only after the artifact is complete and verified.
func (s *ArchiveStrategy) Apply(ctx context.Context, stagingDir, destDir, baseName string) (*ArchiveResult, error) {
	switch s.mode {
	case types.ArchiveModeNone:
		return s.applyNone(stagingDir)
	case types.ArchiveModeSingle:
		return s.applySingle(ctx, stagingDir, destDir, baseName)
	case types.ArchiveModeSplit:
		return s.applySplit(ctx, stagingDir, destDir, baseName)
	default:
		return nil, fmt.Errorf("unsupported archive mode: %s", s.mode)
	}
}

func (s *ArchiveStrategy) applyNone(stagingDir string) (*ArchiveResult, error) {
	size, err := utils.DirSize(stagingDir)
	if err != nil {
		s.logger.Warning("Could not measure staging directory %s: %v", stagingDir, err)
	}
	s.logger.Info("Archive mode none: keeping staging directory %s", stagingDir)
	return &ArchiveResult{
		Mode:        types.ArchiveModeNone,
		ArchivePath: stagingDir,
		BaseName:    filepath.Base(stagingDir),
		TotalBytes:  size,
	}, nil
}

func (s *ArchiveStrategy) applySingle(ctx context.Context, stagingDir, destDir, baseName string) (*ArchiveResult, error) {
	archiveName := baseName + s.archiver.GetArchiveExtension()
	outputPath := filepath.Join(destDir, archiveName)

	if err := s.archiver.CreateArchive(ctx, stagingDir, outputPath); err != nil {
		s.logger.Error("Archive creation failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, err
	}

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would remove staging directory: %s", stagingDir)
		return &ArchiveResult{
			Mode:        types.ArchiveModeSingle,
			ArchivePath: outputPath,
			BaseName:    archiveName,
		}, nil
	}

	if err := s.archiver.VerifyArchive(ctx, outputPath); err != nil {
		s.logger.Error("Archive verification failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, err
	}

	size, err := s.archiver.GetArchiveSize(outputPath)
	if err != nil {
		s.logger.Error("Archive stat failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	checksum, err := GenerateChecksum(ctx, s.logger, outputPath)
	if err != nil {
		s.logger.Error("Checksum generation failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, err
	}

	s.removeStaging(stagingDir)
	s.logger.Info("Created archive %s (%s)", outputPath, FormatBytes(size))

	return &ArchiveResult{
		Mode:        types.ArchiveModeSingle,
		ArchivePath: outputPath,
		BaseName:    archiveName,
		TotalBytes:  size,
		Checksum:    checksum,
	}, nil
}

func (s *ArchiveStrategy) applySplit(ctx context.Context, stagingDir, destDir, baseName string) (*ArchiveResult, error) {
	archiveName := baseName + s.archiver.GetArchiveExtension()
	outputPath := filepath.Join(destDir, archiveName)

	if err := s.archiver.CreateArchive(ctx, stagingDir, outputPath); err != nil {
		s.logger.Error("Archive creation failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, err
	}

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would split archive into %s shards", FormatBytes(s.splitter.ShardSize()))
		return &ArchiveResult{
			Mode:        types.ArchiveModeSplit,
			ArchivePath: outputPath,
			BaseName:    archiveName,
		}, nil
	}

	if err := s.archiver.VerifyArchive(ctx, outputPath); err != nil {
		s.logger.Error("Archive verification failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, err
	}

	size, err := s.archiver.GetArchiveSize(outputPath)
	if err != nil {
		s.logger.Error("Archive stat failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	// Hash the whole stream before splitting so restore can verify the
	// reassembled archive against it.
	checksum, err := GenerateChecksum(ctx, s.logger, outputPath)
	if err != nil {
		s.logger.Error("Checksum generation failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, err
	}

	shards, err := s.splitter.Split(ctx, outputPath)
	if err != nil {
		s.logger.Error("Archive split failed, keeping staging directory %s: %v", stagingDir, err)
		s.removeArtifact(outputPath)
		return nil, err
	}

	// Shards fully cover the stream, the single archive is redundant now
	s.removeArtifact(outputPath)
	s.removeStaging(stagingDir)
	s.logger.Info("Split archive into %d shards (total %s)", len(shards), FormatBytes(size))

	return &ArchiveResult{
		Mode:        types.ArchiveModeSplit,
		ArchivePath: shards[0],
		BaseName:    archiveName,
		Shards:      shards,
		TotalBytes:  size,
		Checksum:    checksum,
	}, nil
}

func (s *ArchiveStrategy) removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warning("Failed to remove %s: %v", path, err)
	}
}

func (s *ArchiveStrategy) removeStaging(stagingDir string) {
	if err := os.RemoveAll(stagingDir); err != nil {
		s.logger.Warning("Failed to remove staging directory %s: %v", stagingDir, err)
	}
}
