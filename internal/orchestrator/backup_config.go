package orchestrator

import (
	"time"

	"filippo.io/age"
	"github.com/tis24dev/homesave/internal/backup"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/types"
)

// BuildArchiverConfig assembles the archiver's immutable settings. Pure so
// the wiring can be asserted without touching the filesystem.
func BuildArchiverConfig(compression types.CompressionType, level, threads int, mode string, dryRun, encrypt bool, recipients []age.Recipient) *backup.ArchiverConfig {
	return &backup.ArchiverConfig{
		Compression:        compression,
		CompressionLevel:   level,
		CompressionThreads: threads,
		CompressionMode:    mode,
		DryRun:             dryRun,
		EncryptArchive:     encrypt,
		AgeRecipients:      recipients,
	}
}

// InitializeBackupStats seeds the per-run stats record before any phase has
// executed. A nil cfg leaves the compression fields zeroed.
func InitializeBackupStats(hostname, version string, start time.Time, cfg *config.Config, level int) *BackupStats {
	stats := &BackupStats{
		Hostname:  hostname,
		Timestamp: start,
		StartTime: start,
		Version:   version,
		ExitCode:  types.ExitSuccess.Int(),
	}
	if cfg == nil {
		return stats
	}

	stats.ArchiveMode = cfg.ArchiveMode
	stats.RequestedCompression = cfg.CompressionType
	stats.RequestedCompressionMode = cfg.CompressionMode
	stats.Compression = cfg.CompressionType
	stats.CompressionLevel = level
	stats.CompressionMode = cfg.CompressionMode
	stats.CompressionThreads = cfg.CompressionThreads
	stats.Encrypted = cfg.EncryptArchive && cfg.ArchiveMode != types.ArchiveModeNone
	return stats
}
