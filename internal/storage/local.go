package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tis24dev/homesave/internal/backup"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/safefs"
	"github.com/tis24dev/homesave/internal/types"
	"github.com/tis24dev/homesave/pkg/utils"
)

// StagingMarkerName is the marker file a backup session drops inside its
// staging directory at creation time. A directory still carrying the marker
// is an in-flight or abandoned session, not a committed backup, and is
// excluded from listings and retention.
const StagingMarkerName = backup.StagingMarkerName

// sessionPrefix is the leading component of every artifact this tool writes
// into the destination directory.
const sessionPrefix = "homesave-"

// LocalStorage manages backup artifacts in the local destination directory.
// An artifact is one of: an uncompressed session directory (archive mode
// none), a single archive file, or a set of shard files sharing a base
// archive name (split mode).
type LocalStorage struct {
	cfg      *config.Config
	logger   *logging.Logger
	basePath string

	fsDetector *FilesystemDetector
	fsInfo     *FilesystemInfo

	lastRetention RetentionSummary
}

// NewLocalStorage builds a LocalStorage rooted at the configured destination.
func NewLocalStorage(cfg *config.Config, logger *logging.Logger) (*LocalStorage, error) {
	detector := NewFilesystemDetector(logger)
	return &LocalStorage{cfg: cfg, logger: logger, basePath: cfg.BackupPath, fsDetector: detector}, nil
}

// Name identifies the backend in logs.
func (l *LocalStorage) Name() string { return "Local Storage" }

// IsEnabled reports whether a destination path is configured.
func (l *LocalStorage) IsEnabled() bool { return l.basePath != "" }

// criticalFault wraps err as a run-aborting StorageError for the operation.
func criticalFault(op, path string, err error) *StorageError {
	return &StorageError{Operation: op, Path: path, Err: err, IsCritical: true}
}

// DetectFilesystem probes the filesystem backing the destination, creating
// the directory first when missing.
func (l *LocalStorage) DetectFilesystem(ctx context.Context) (*FilesystemInfo, error) {
	if err := os.MkdirAll(l.basePath, 0o700); err != nil {
		return nil, criticalFault("detect_filesystem", l.basePath, err)
	}

	info, err := l.fsDetector.DetectFilesystem(ctx, l.basePath)
	if err != nil {
		return nil, criticalFault("detect_filesystem", l.basePath, err)
	}
	l.fsInfo = info
	return info, nil
}

// Store commits a finished archive result: it verifies the artifact exists
// and tightens permissions so key material is never world-readable at rest.
func (l *LocalStorage) Store(ctx context.Context, result *backup.ArchiveResult) error {
	if err := ctx.Err(); err != nil {
		l.logger.Debug("Local storage: store aborted due to context cancellation")
		return err
	}
	if result == nil {
		return fmt.Errorf("nothing to store")
	}

	l.logger.Debug("Local storage: committing %s artifact %s", result.Mode, filepath.Base(result.ArchivePath))

	var err error
	switch result.Mode {
	case types.ArchiveModeNone:
		err = l.commitSessionDir(ctx, result.ArchivePath)
	case types.ArchiveModeSplit:
		err = l.commitShards(ctx, result.Shards)
	default:
		err = l.commitArchiveFile(ctx, result.ArchivePath)
	}
	if err != nil {
		return err
	}

	l.logger.Debug("Backup stored successfully in local storage: %s", result.ArchivePath)
	if count := l.countBackups(ctx); count >= 0 {
		l.logger.Debug("Local storage: backups present after commit: %d", count)
	}
	return nil
}

// commitSessionDir finalizes an unarchived session directory.
func (l *LocalStorage) commitSessionDir(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return criticalFault("store", dir, fmt.Errorf("session directory not found: %w", err))
	}
	if !info.IsDir() {
		return criticalFault("store", dir, fmt.Errorf("expected a directory for archive mode none"))
	}
	l.restrictAccess(ctx, dir, 0o700)
	return nil
}

// commitShards finalizes every shard of a split delivery.
func (l *LocalStorage) commitShards(ctx context.Context, shards []string) error {
	for _, shard := range shards {
		if _, err := os.Stat(shard); err != nil {
			return criticalFault("store", shard, fmt.Errorf("shard not found: %w", err))
		}
		l.restrictAccess(ctx, shard, 0o600)
	}
	return nil
}

// commitArchiveFile finalizes a single archive artifact.
func (l *LocalStorage) commitArchiveFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return criticalFault("store", path, fmt.Errorf("backup file not found: %w", err))
	}
	l.restrictAccess(ctx, path, 0o600)
	return nil
}

// restrictAccess narrows an artifact to owner-only permissions. A failure is
// logged and the commit continues; some destination filesystems cannot honor
// the request.
func (l *LocalStorage) restrictAccess(ctx context.Context, path string, mode os.FileMode) {
	if err := l.fsDetector.SetPermissions(ctx, path, os.Getuid(), os.Getgid(), mode, l.fsInfo); err != nil {
		l.logger.Warning("Failed to set permissions on %s: %v", path, err)
	}
}

func (l *LocalStorage) countBackups(ctx context.Context) int {
	entries, err := l.List(ctx)
	if err != nil {
		l.logger.Debug("Local storage: recount after commit failed: %v", err)
		return -1
	}
	return len(entries)
}

// List returns all committed backups in the destination directory, newest
// first. A shard set counts as one backup whose BackupFile points at the
// base archive path the shards derive from.
func (l *LocalStorage) List(ctx context.Context) ([]*types.BackupMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(l.basePath, sessionPrefix+"*"))
	if err != nil {
		return nil, criticalFault("list", l.basePath, err)
	}

	shardSets := make(map[string][]string)
	var items []*types.BackupMetadata
	for _, match := range matches {
		name := filepath.Base(match)
		if isSidecarName(name) {
			continue
		}

		info, statErr := os.Lstat(match)
		if statErr != nil {
			l.logger.Debug("Local storage: skipping unreadable entry %s: %v", match, statErr)
			continue
		}

		if info.IsDir() {
			if l.isInFlightSession(match) {
				l.logger.Debug("Local storage: skipping in-flight session directory %s", name)
				continue
			}
			items = append(items, l.describeDirectory(match, info))
			continue
		}
		if base, _, ok := backup.ParseShardName(name); ok {
			shardSets[base] = append(shardSets[base], match)
			continue
		}
		if backup.HasArchiveExtension(name) {
			items = append(items, l.describeArchive(match, info))
			continue
		}
		l.logger.Debug("Local storage: ignoring unrecognized entry %s", name)
	}

	for base, shards := range shardSets {
		sort.Strings(shards)
		items = append(items, l.describeShardSet(filepath.Join(l.basePath, base), shards))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items, nil
}

// isSidecarName reports whether name is a metadata companion rather than an
// artifact.
func isSidecarName(name string) bool {
	for _, suffix := range []string{".sha256", ".manifest", ".report.json", ".log"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// isInFlightSession reports whether the directory still carries the staging
// marker of an uncommitted session.
func (l *LocalStorage) isInFlightSession(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, StagingMarkerName))
	return err == nil
}

func (l *LocalStorage) describeDirectory(path string, info os.FileInfo) *types.BackupMetadata {
	metadata := l.loadMetadata(path)
	metadata.Mode = types.ArchiveModeNone
	if metadata.Timestamp.IsZero() {
		metadata.Timestamp = info.ModTime()
	}
	if metadata.Size == 0 {
		if size, err := utils.DirSize(path); err == nil {
			metadata.Size = size
		}
	}
	return metadata
}

func (l *LocalStorage) describeArchive(path string, info os.FileInfo) *types.BackupMetadata {
	metadata := l.loadMetadata(path)
	if metadata.Mode == "" {
		metadata.Mode = types.ArchiveModeSingle
	}
	if comp, ok := backup.CompressionForArchive(path); ok && metadata.Compression == "" {
		metadata.Compression = comp
	}
	if metadata.Timestamp.IsZero() {
		metadata.Timestamp = info.ModTime()
	}
	if metadata.Size == 0 {
		metadata.Size = info.Size()
	}
	return metadata
}

func (l *LocalStorage) describeShardSet(basePath string, shards []string) *types.BackupMetadata {
	metadata := l.loadMetadata(basePath)
	metadata.Mode = types.ArchiveModeSplit
	if comp, ok := backup.CompressionForArchive(basePath); ok && metadata.Compression == "" {
		metadata.Compression = comp
	}

	var total int64
	var newest time.Time
	for _, shard := range shards {
		if info, err := os.Stat(shard); err == nil {
			total += info.Size()
			if info.ModTime().After(newest) {
				newest = info.ModTime()
			}
		}
	}
	if metadata.Size == 0 {
		metadata.Size = total
	}
	if metadata.Timestamp.IsZero() {
		metadata.Timestamp = newest
	}
	return metadata
}

// loadMetadata builds metadata for an artifact, preferring the manifest
// sidecar and falling back to whatever the filesystem can tell us.
func (l *LocalStorage) loadMetadata(artifactPath string) *types.BackupMetadata {
	metadata := &types.BackupMetadata{BackupFile: artifactPath}

	manifestPath := sessionBasePath(artifactPath) + ".manifest"
	manifest, err := backup.LoadManifest(manifestPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warning("Failed to load manifest for %s: %v", filepath.Base(artifactPath), err)
		}
		return metadata
	}

	metadata.Timestamp = manifest.CreatedAt
	metadata.Size = manifest.ArchiveSize
	metadata.Checksum = manifest.SHA256
	metadata.Compression = types.CompressionType(manifest.CompressionType)
	metadata.Mode = types.ArchiveMode(manifest.ArchiveMode)
	metadata.Version = manifest.ToolVersion
	return metadata
}

// sessionBasePath strips the archive extension (and .age wrapper) from an
// artifact path, yielding the session base the manifest sidecar is named
// after. Directory artifacts are already the session base.
func sessionBasePath(artifactPath string) string {
	dir := filepath.Dir(artifactPath)
	return filepath.Join(dir, backup.TrimArchiveSuffix(filepath.Base(artifactPath)))
}

// extractSessionKey parses "homesave-<host>-<YYYYMMDD-HHMMSS>" artifact
// names into host and timestamp. The host may itself contain dashes, so the
// timestamp is taken from the right.
func extractSessionKey(artifactPath string) (host, ts string, ok bool) {
	name := backup.TrimArchiveSuffix(filepath.Base(artifactPath))
	rest, found := strings.CutPrefix(name, sessionPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "-")
	if len(parts) < 3 {
		return "", "", false
	}
	ts = parts[len(parts)-2] + "-" + parts[len(parts)-1]
	if len(ts) != 15 {
		return "", "", false
	}
	for i, r := range ts {
		if i == 8 {
			if r != '-' {
				return "", "", false
			}
			continue
		}
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	host = strings.Join(parts[:len(parts)-2], "-")
	if host == "" {
		return "", "", false
	}
	return host, ts, true
}

// Delete removes a backup artifact along with its sidecars.
func (l *LocalStorage) Delete(ctx context.Context, backupFile string) error {
	_, err := l.removeBackup(ctx, backupFile)
	return err
}

func (l *LocalStorage) removeBackup(ctx context.Context, backupFile string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.logger.Debug("Local storage: removing backup %s", filepath.Base(backupFile))

	if info, err := os.Stat(backupFile); err == nil && info.IsDir() {
		if err := os.RemoveAll(backupFile); err != nil {
			l.logger.Warning("Failed to remove session directory %s: %v", backupFile, err)
		}
	} else {
		for _, f := range l.collectArtifactFiles(backupFile) {
			l.logger.Debug("Local storage: removing file %s", f)
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				l.logger.Warning("Failed to remove %s: %v", f, err)
			}
		}
	}

	// Sidecars share the session base name
	sidecars := []string{backupFile + ".sha256", sessionBasePath(backupFile) + ".manifest"}
	for _, sidecar := range sidecars {
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			l.logger.Warning("Failed to remove %s: %v", sidecar, err)
		}
	}

	logRemoved := l.removeSessionFiles(backupFile)
	l.logger.Debug("Local storage: removed backup and associated files: %s", filepath.Base(backupFile))
	return logRemoved, nil
}

// collectArtifactFiles returns the artifact file itself plus any shards that
// derive from it. For a shard set the base archive file does not exist; only
// the shards do.
func (l *LocalStorage) collectArtifactFiles(backupFile string) []string {
	files := []string{backupFile}

	matches, err := filepath.Glob(backupFile + ".??")
	if err != nil {
		return files
	}
	for _, match := range matches {
		if _, _, ok := backup.ParseShardName(filepath.Base(match)); ok {
			files = append(files, match)
		}
	}
	return files
}

// removeSessionFiles drops the report and session log tied to a backup. It
// is best-effort and never fails the deletion.
func (l *LocalStorage) removeSessionFiles(backupFile string) bool {
	if l == nil || l.cfg == nil {
		return false
	}
	logDir := strings.TrimSpace(l.cfg.LogPath)
	if logDir == "" {
		return false
	}

	report := filepath.Base(sessionBasePath(backupFile)) + ".report.json"
	if err := os.Remove(filepath.Join(logDir, report)); err != nil && !os.IsNotExist(err) {
		l.logger.Debug("Local logs: failed to delete %s: %v", report, err)
	}

	host, ts, ok := extractSessionKey(backupFile)
	if !ok {
		return false
	}
	sessionLog := fmt.Sprintf("backup-%s-%s.log", host, ts)
	if err := os.Remove(filepath.Join(logDir, sessionLog)); err != nil {
		if !os.IsNotExist(err) {
			l.logger.Debug("Local logs: failed to delete %s: %v", sessionLog, err)
		}
		return false
	}

	l.logger.Debug("Local logs: deleted log file %s", sessionLog)
	return true
}

func (l *LocalStorage) countLogFiles() int {
	if l == nil || l.cfg == nil {
		return -1
	}
	logDir := strings.TrimSpace(l.cfg.LogPath)
	if logDir == "" {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(logDir, "backup-*.log"))
	if err != nil {
		l.logger.Debug("Local logs: failed to count log files: %v", err)
		return -1
	}
	return len(matches)
}

// ApplyRetention removes the oldest backups beyond maxBackups.
// A maxBackups of 0 (or less) disables pruning entirely.
func (l *LocalStorage) ApplyRetention(ctx context.Context, maxBackups int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if maxBackups <= 0 {
		l.logger.Debug("Retention disabled for local storage (maxBackups = %d)", maxBackups)
		return 0, nil
	}

	l.logger.Debug("Local storage: listing backups for retention")
	entries, err := l.List(ctx)
	if err != nil {
		return 0, criticalFault("apply_retention", l.basePath, err)
	}
	if len(entries) <= maxBackups {
		l.logger.Debug("Local storage: %d backups (within retention limit of %d)", len(entries), maxBackups)
		return 0, nil
	}

	l.logger.Info("Applying retention policy: %d backups found, limit is %d, deleting %d oldest",
		len(entries), maxBackups, len(entries)-maxBackups)

	initialLogs := l.countLogFiles()
	deleted, logsDeleted, err := l.pruneOldest(ctx, entries, maxBackups)
	if err != nil {
		return deleted, err
	}
	l.recordRetention(len(entries), deleted, initialLogs, logsDeleted)
	return deleted, nil
}

// pruneOldest walks the newest-first list from the tail and removes every
// entry past the retention limit. Individual failures are logged and skipped.
func (l *LocalStorage) pruneOldest(ctx context.Context, entries []*types.BackupMetadata, keep int) (deleted, logsDeleted int, err error) {
	for i := len(entries) - 1; i >= keep; i-- {
		if err := ctx.Err(); err != nil {
			return deleted, logsDeleted, err
		}

		entry := entries[i]
		l.logger.Debug("Pruning old backup %s (created %s)",
			filepath.Base(entry.BackupFile), entry.Timestamp.Format("2006-01-02 15:04:05"))

		logRemoved, err := l.removeBackup(ctx, entry.BackupFile)
		if err != nil {
			l.logger.Warning("Failed to delete %s: %v", entry.BackupFile, err)
			continue
		}
		deleted++
		if logRemoved {
			logsDeleted++
		}
	}
	return deleted, logsDeleted, nil
}

// recordRetention stores and logs the summary of the latest retention pass.
func (l *LocalStorage) recordRetention(total, deleted, initialLogs, logsDeleted int) {
	remaining := total - deleted
	if remaining < 0 {
		remaining = 0
	}

	summary := RetentionSummary{
		BackupsDeleted:   deleted,
		BackupsRemaining: remaining,
		LogsDeleted:      logsDeleted,
	}
	if logsRemaining, ok := computeRemaining(initialLogs, logsDeleted); ok {
		summary.LogsRemaining = logsRemaining
		summary.HasLogInfo = true
		l.logger.Debug("Retention pass removed %d backup(s) and %d log(s); %d backup(s) and %d log(s) remain",
			deleted, logsDeleted, remaining, logsRemaining)
	} else {
		l.logger.Debug("Retention pass removed %d backup(s) and %d log(s); %d backup(s) remain",
			deleted, logsDeleted, remaining)
	}
	l.lastRetention = summary
}

// computeRemaining derives how many items survive a deletion pass. ok is
// false when the initial count was never known.
func computeRemaining(initial, deleted int) (int, bool) {
	if initial < 0 {
		return 0, false
	}
	if remaining := initial - deleted; remaining > 0 {
		return remaining, true
	}
	return 0, true
}

// LastRetentionSummary reports what the latest retention pass did.
func (l *LocalStorage) LastRetentionSummary() RetentionSummary { return l.lastRetention }

// GetStats aggregates destination usage for reporting.
func (l *LocalStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{TotalBackups: len(entries)}
	if l.fsInfo != nil {
		stats.FilesystemType = l.fsInfo.Type
	}

	for _, entry := range entries {
		stats.TotalSize += entry.Size
		when := entry.Timestamp
		if stats.OldestBackup == nil || when.Before(*stats.OldestBackup) {
			stats.OldestBackup = &when
		}
		if stats.NewestBackup == nil || when.After(*stats.NewestBackup) {
			stats.NewestBackup = &when
		}
	}

	// Available/total space comes from a bounded statfs probe; the base
	// path may sit on a network mount.
	if stat, err := safefs.Statfs(ctx, l.basePath, statfsTimeout); err == nil {
		block := int64(stat.Bsize)
		stats.AvailableSpace = clampNonNegative(int64(stat.Bavail) * block)
		stats.TotalSpace = clampNonNegative(int64(stat.Blocks) * block)
		stats.UsedSpace = clampNonNegative(stats.TotalSpace - stats.AvailableSpace)
	}
	return stats, nil
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
