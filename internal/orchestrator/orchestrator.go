package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/tis24dev/homesave/internal/backup"
	"github.com/tis24dev/homesave/internal/category"
	"github.com/tis24dev/homesave/internal/checks"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/storage"
	"github.com/tis24dev/homesave/internal/types"
	"github.com/tis24dev/homesave/pkg/utils"
)

// BackupError tags a pipeline failure with the phase that raised it and the
// exit code the process should finish with.
type BackupError struct {
	Phase string
	Err   error
	Code  types.ExitCode
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// backupFailure wraps err as a BackupError for the named phase.
func backupFailure(phase string, code types.ExitCode, err error) *BackupError {
	return &BackupError{Phase: phase, Err: err, Code: code}
}

// BackupStats is the end-to-end record of one backup session. The pipeline
// fills it phase by phase; the summary and the JSON report read it back.
type BackupStats struct {
	// Session identity and timing
	Hostname  string
	Version   string
	Timestamp time.Time
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Collection outcome
	FilesCollected      int
	FilesFailed         int
	DirsCreated         int
	BytesCollected      int64
	CategoriesCollected int
	CategoriesEmpty     int
	CategoriesFailed    int

	// Archival outcome
	ArchiveMode      types.ArchiveMode
	ArchivePath      string
	ArchiveSize      int64
	ShardCount       int
	UncompressedSize int64
	CompressedSize   int64
	Encrypted        bool

	// Compression settings as requested, as resolved, and as measured
	RequestedCompression      types.CompressionType
	RequestedCompressionMode  string
	Compression               types.CompressionType
	CompressionLevel          int
	CompressionMode           string
	CompressionThreads        int
	CompressionRatio          float64
	CompressionRatioPercent   float64
	CompressionSavingsPercent float64

	// Verification artifacts
	Checksum     string
	ChecksumPath string
	ManifestPath string
	ReportPath   string

	// Retention outcome on the destination
	BackupsPruned    int
	BackupsRemaining int

	// Scanned from the session log at the end of the run
	ErrorCount    int
	WarningCount  int
	LogCategories []LogCategory
	LogFilePath   string

	ExitCode int
}

// Orchestrator drives the backup and restore pipelines and owns their shared
// dependencies.
type Orchestrator struct {
	logger  *logging.Logger
	cfg     *config.Config
	checker *checks.Checker

	fs    FS
	clock TimeProvider

	version   string
	dryRun    bool
	startTime time.Time

	forceNewAgeRecipient bool
	ageRecipientCache    []age.Recipient

	tempRegistry *tempDirRegistry
}

const (
	// tempDirCleanupAge is the age past which a registered temp directory
	// counts as orphaned.
	tempDirCleanupAge = 24 * time.Hour

	// staleStagingAge is how long an uncommitted staging directory may sit
	// in the destination before the startup sweep removes it. The grace
	// period leaves failed sessions inspectable for a while.
	staleStagingAge = 48 * time.Hour

	// summaryCategoryLimit caps how many aggregated warning/error
	// categories the final summary shows.
	summaryCategoryLimit = 5

	// backupStepCount is the number of numbered stages in the backup flow.
	backupStepCount = 5
)

// New builds an Orchestrator around the given logger with OS-backed
// filesystem and clock dependencies.
func New(logger *logging.Logger, dryRun bool) *Orchestrator {
	deps := defaultDeps(logger, dryRun)
	setRestoreDeps(deps.FS, deps.Time)
	return &Orchestrator{logger: logger, dryRun: dryRun, fs: deps.FS, clock: deps.Time}
}

// logStep announces one numbered stage of the backup flow.
func (o *Orchestrator) logStep(n int, format string, args ...any) {
	if o == nil || o.logger == nil {
		return
	}
	o.logger.Step("[%d/%d] %s", n, backupStepCount, fmt.Sprintf(format, args...))
}

// SetForceNewAgeRecipient discards any cached recipient set so the next
// encrypted backup derives a fresh one.
func (o *Orchestrator) SetForceNewAgeRecipient(force bool) {
	o.forceNewAgeRecipient = force
	if force {
		o.ageRecipientCache = nil
	}
}

// SetStartTime injects the timestamp to reuse across logs and backup names.
func (o *Orchestrator) SetStartTime(t time.Time) { o.startTime = t }

func (o *Orchestrator) now() time.Time {
	if o == nil || o.clock == nil {
		return time.Now()
	}
	return o.clock.Now()
}

func (o *Orchestrator) filesystem() FS {
	if o == nil || o.fs == nil {
		return osFS{}
	}
	return o.fs
}

// SetConfig attaches the loaded configuration and drops recipient state
// derived from the previous one.
func (o *Orchestrator) SetConfig(cfg *config.Config) {
	o.cfg, o.ageRecipientCache = cfg, nil
}

// SetVersion records the tool version for metadata reporting.
func (o *Orchestrator) SetVersion(version string) { o.version = version }

// SetChecker attaches the pre-backup checker.
func (o *Orchestrator) SetChecker(checker *checks.Checker) { o.checker = checker }

// SetTempDirRegistry allows callers (main/tests) to inject a custom registry.
func (o *Orchestrator) SetTempDirRegistry(reg *tempDirRegistry) {
	o.tempRegistry = reg
}

// RunPreBackupChecks runs the configured checker and logs every result.
func (o *Orchestrator) RunPreBackupChecks(ctx context.Context) error {
	if o.checker == nil {
		o.logger.Debug("Pre-backup checks skipped: no checker attached")
		return nil
	}

	o.logger.Step("Pre-backup validation")
	results, err := o.checker.RunAllChecks(ctx)
	for _, result := range results {
		switch {
		case !result.Passed:
			o.logger.Error("✗ %s: %s", result.Name, result.Message)
		case result.Name == "Disk Space (Estimated)":
			// The same check runs again after collection with the measured
			// size, so the estimate stays at debug.
			o.logger.Debug("✓ %s: %s", result.Name, result.Message)
		default:
			o.logger.Info("✓ %s: %s", result.Name, result.Message)
		}
	}
	if err != nil {
		o.logger.Error("Pre-backup validation failed: %v", err)
		return fmt.Errorf("pre-backup checks failed: %w", err)
	}

	o.logger.Info("Pre-backup checks passed")
	return nil
}

// ReleaseBackupLock drops the lock taken during pre-backup checks.
func (o *Orchestrator) ReleaseBackupLock() error {
	if o.checker == nil {
		return nil
	}
	return o.checker.ReleaseLock()
}

func (o *Orchestrator) ensureTempRegistry() *tempDirRegistry {
	if o.tempRegistry == nil {
		o.tempRegistry = newTempDirRegistry()
	}
	return o.tempRegistry
}

// cleanupPreviousExecutionArtifacts sweeps leftovers from crashed or aborted
// runs: staging directories that never committed and registered temp
// directories whose owning process died.
func (o *Orchestrator) cleanupPreviousExecutionArtifacts() {
	registry := o.ensureTempRegistry()
	fs := o.filesystem()

	removedStaging := 0
	removedDirs := 0
	failed := 0
	cleanupStarted := false

	if o.cfg != nil && o.cfg.BackupPath != "" {
		matches, _ := filepath.Glob(filepath.Join(o.cfg.BackupPath, "homesave-*"))
		for _, match := range matches {
			marker := filepath.Join(match, backup.StagingMarkerName)
			info, err := fs.Stat(marker)
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) <= staleStagingAge {
				o.logger.Debug("Keeping recent uncommitted staging directory: %s", filepath.Base(match))
				continue
			}
			if !cleanupStarted {
				o.logger.Debug("Starting cleanup of previous execution artifacts...")
				cleanupStarted = true
			}
			if err := fs.RemoveAll(match); err != nil {
				o.logger.Debug("Failed to remove stale staging directory %s: %v", filepath.Base(match), err)
				failed++
			} else {
				o.logger.Debug("Removed stale staging directory %s", filepath.Base(match))
				removedStaging++
			}
		}
	}

	if registry != nil {
		o.logger.Debug("Checking for orphaned temp directories older than %s", tempDirCleanupAge)
		count, err := registry.CleanupOrphaned(tempDirCleanupAge)
		if err != nil {
			o.logger.Debug("Temp dir cleanup skipped: %v", err)
		} else if count > 0 {
			cleanupStarted = true
			removedDirs = count
		}
	}

	if cleanupStarted && (removedStaging > 0 || removedDirs > 0) {
		total := removedStaging + removedDirs
		if failed > 0 {
			o.logger.Info("Cleanup of previous execution artifacts completed with errors (%d item(s) removed: %d staging, %d temp; %d failed)",
				total, removedStaging, removedDirs, failed)
		} else {
			o.logger.Info("Cleanup of previous execution artifacts completed successfully (%d item(s) removed: %d staging, %d temp)",
				total, removedStaging, removedDirs)
		}
	}
}

// buildCategoryRegistry resolves the configured category selection against
// the built-in table.
func (o *Orchestrator) buildCategoryRegistry() (*category.Registry, error) {
	registry := category.DefaultRegistry(category.Options{AppConfigDirs: o.cfg.AppConfigDirs})

	if len(o.cfg.Categories) > 0 {
		selected, err := registry.Select(o.cfg.Categories)
		if err != nil {
			return nil, err
		}
		registry = selected
	}
	if len(o.cfg.ExcludeCategories) > 0 {
		remaining, err := registry.Exclude(o.cfg.ExcludeCategories)
		if err != nil {
			return nil, err
		}
		registry = remaining
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("category selection left nothing to back up")
	}
	return registry, nil
}

// backupSession carries the per-run naming shared by the backup phases.
type backupSession struct {
	baseName   string
	stagingDir string
	markerPath string
}

// RunBackup drives the whole backup pipeline: startup sweep, category
// collection into a staging directory, archival per the configured mode,
// verification metadata, and the commit with retention.
func (o *Orchestrator) RunBackup(ctx context.Context, hostname string) (stats *BackupStats, err error) {
	if o.cfg == nil {
		return nil, fmt.Errorf("orchestrator has no configuration attached")
	}
	cfg := o.cfg

	o.logger.Info("Starting backup orchestration for %s", cfg.HomeDir)
	o.cleanupPreviousExecutionArtifacts()

	startTime := o.startTime
	if startTime.IsZero() {
		startTime = o.now()
		o.startTime = startTime
	}
	level := normalizeCompressionLevel(cfg.CompressionType, cfg.CompressionLevel)

	fmt.Println()
	o.logStep(1, "Initializing backup statistics and staging workspace")
	stats = InitializeBackupStats(hostname, o.version, startTime, cfg, level)
	if logFile := o.logger.GetLogFilePath(); logFile != "" {
		stats.LogFilePath = logFile
	}

	// Whatever happens below, the caller gets log counts and an exit code.
	defer func() { o.backfillFailureStats(stats, err) }()

	// The staging directory lives inside the destination under the session
	// base name. For mode none it becomes the artifact itself once its
	// marker is removed; for single and split it is archived away.
	session, berr := o.openStagingArea(startTime, hostname)
	if berr != nil {
		return stats, berr
	}
	defer func() {
		if o.dryRun {
			if rmErr := o.filesystem().RemoveAll(session.stagingDir); rmErr != nil {
				o.logger.Warning("Failed to remove staging directory %s: %v", session.stagingDir, rmErr)
			} else {
				o.logger.Debug("[DRY RUN] Removed staging directory %s", session.stagingDir)
			}
			return
		}
		if err != nil {
			// Strategies keep the staging tree on failure so collected data
			// survives until the startup sweep declares it stale.
			o.logger.Debug("Staging directory preserved at %s (stale sessions are swept at the next startup)", session.stagingDir)
		}
	}()

	fmt.Println()
	o.logStep(2, "Collection of configuration categories")
	collected, berr := o.collectCategories(ctx, stats, session)
	if berr != nil {
		return stats, berr
	}
	if berr := o.verifyDiskHeadroom(stats); berr != nil {
		return stats, berr
	}

	fmt.Println()
	o.logStep(3, "Archival of collected data (%s mode)", cfg.ArchiveMode)
	result, berr := o.archiveCollectedData(ctx, stats, session, level)
	if berr != nil {
		return stats, berr
	}
	stats.recordArchiveResult(result)

	// Steps 4 and 5 mutate the destination; a dry run skips both.
	if o.dryRun {
		fmt.Println()
		o.logStep(4, "Verification skipped (dry run mode)")
		fmt.Println()
		o.logStep(5, "Storage commit skipped (dry run mode)")
		stats.EndTime = o.now()
	} else {
		fmt.Println()
		o.logStep(4, "Verification metadata and manifest generation")
		if berr := o.writeVerificationMetadata(ctx, stats, session, result, collected); berr != nil {
			return stats, berr
		}

		fmt.Println()
		o.logStep(5, "Commit to backup destination and retention")
		if berr := o.commitToDestination(ctx, stats, session, result); berr != nil {
			return stats, berr
		}
		stats.EndTime = o.now()
		o.logger.Info("✓ Backup stored and verified")
	}

	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	o.scanSessionLog(stats)

	// Per-source failures are isolated: they surface in the scanned counts
	// and the summary, not in the exit status. The session exits non-zero
	// only when an operation-aborting error returned earlier.
	stats.ExitCode = types.ExitSuccess.Int()

	if reportErr := o.SaveStatsReport(stats); reportErr != nil {
		o.logger.Warning("Failed to save stats report: %v", reportErr)
	}

	fmt.Println()
	o.logger.Debug("Backup completed in %s", backup.FormatDuration(stats.Duration))
	return stats, nil
}

// backfillFailureStats completes timing, log counts and the exit code on the
// stats of a failed run. Successful runs fill these fields inline.
func (o *Orchestrator) backfillFailureStats(stats *BackupStats, err error) {
	if err == nil || stats == nil {
		return
	}
	if stats.EndTime.IsZero() {
		stats.EndTime = o.now()
	}
	if stats.Duration == 0 && !stats.StartTime.IsZero() {
		stats.Duration = stats.EndTime.Sub(stats.StartTime)
	}
	o.scanSessionLog(stats)

	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		stats.ExitCode = backupErr.Code.Int()
		return
	}
	stats.ExitCode = types.ExitBackupError.Int()
}

// scanSessionLog re-reads the session log and fills the aggregated error and
// warning counts. The scan covers lines from every component, including ones
// no in-memory counter saw.
func (o *Orchestrator) scanSessionLog(stats *BackupStats) {
	if stats.LogFilePath == "" {
		o.logger.Debug("No session log attached, error/warning counts stay at 0")
		return
	}
	o.logger.Debug("Scanning session log for error/warning counts: %s", stats.LogFilePath)
	categories, counts := ParseLogCounts(stats.LogFilePath, summaryCategoryLimit)
	stats.LogCategories = categories
	stats.ErrorCount = counts.Errors
	stats.WarningCount = counts.Warnings
	if counts.Errors > 0 || counts.Warnings > 0 {
		o.logger.Debug("Session log scan found %d error(s) and %d warning(s)", counts.Errors, counts.Warnings)
	}
}

// openStagingArea creates the session staging directory and drops the
// uncommitted marker into it.
func (o *Orchestrator) openStagingArea(startTime time.Time, hostname string) (*backupSession, *BackupError) {
	fs := o.filesystem()

	stamp := startTime.Format("20060102-150405")
	session := &backupSession{baseName: fmt.Sprintf("homesave-%s-%s", hostname, stamp)}
	session.stagingDir = filepath.Join(o.cfg.BackupPath, session.baseName)
	session.markerPath = filepath.Join(session.stagingDir, backup.StagingMarkerName)

	if err := fs.MkdirAll(session.stagingDir, 0o700); err != nil {
		return nil, backupFailure("staging", types.ExitBackupError, fmt.Errorf("failed to create staging directory: %w", err))
	}
	if o.dryRun {
		o.logger.Info("[DRY RUN] Staging directory would be: %s", session.stagingDir)
	} else {
		o.logger.Debug("Using staging directory: %s", session.stagingDir)
	}

	marker := fmt.Sprintf("Created by PID %d on %s UTC\n", os.Getpid(), o.now().UTC().Format("2006-01-02 15:04:05"))
	if err := fs.WriteFile(session.markerPath, []byte(marker), 0o600); err != nil {
		return nil, backupFailure("staging", types.ExitBackupError, fmt.Errorf("failed to create staging marker: %w", err))
	}
	return session, nil
}

// collectCategories runs the category executor against the staging tree and
// returns the names of the categories that yielded files.
func (o *Orchestrator) collectCategories(ctx context.Context, stats *BackupStats, session *backupSession) ([]string, *BackupError) {
	registry, err := o.buildCategoryRegistry()
	if err != nil {
		return nil, backupFailure("config", types.ExitConfigError, err)
	}

	executor := backup.NewExecutor(o.logger, registry, &backup.ExecutorConfig{
		HomeDir:  o.cfg.HomeDir,
		GPGKeyID: o.cfg.GPGKeyID,
		DryRun:   o.dryRun,
	}, session.stagingDir)

	results, err := executor.Run(ctx)
	if err != nil {
		return nil, backupFailure("collection", types.ExitCollectionError, err)
	}

	coll := executor.GetStats()
	stats.FilesCollected = int(coll.FilesProcessed)
	stats.FilesFailed = int(coll.FilesFailed)
	stats.DirsCreated = int(coll.DirsCreated)
	stats.BytesCollected = coll.BytesCollected
	stats.UncompressedSize = coll.BytesCollected

	collected := make([]string, 0, len(results))
	for _, res := range results {
		switch {
		case res.Found > 0:
			stats.CategoriesCollected++
			collected = append(collected, res.Name)
		case res.Failed > 0:
			stats.CategoriesFailed++
		default:
			stats.CategoriesEmpty++
		}
	}

	o.logger.Info("Collection completed: %d files (%s), %d failed, %d dirs created",
		coll.FilesProcessed, backup.FormatBytes(coll.BytesCollected), coll.FilesFailed, coll.DirsCreated)
	if stats.FilesCollected == 0 && !o.dryRun {
		o.logger.Warning("No files were collected; the session will produce an empty backup")
	}
	return collected, nil
}

// verifyDiskHeadroom re-runs the disk space check against the measured
// collection size instead of the pre-run estimate.
func (o *Orchestrator) verifyDiskHeadroom(stats *BackupStats) *BackupError {
	if o.checker == nil || stats.BytesCollected <= 0 {
		return nil
	}

	o.logger.Debug("Running disk-space validation for collected data size")
	sizeGB := float64(stats.BytesCollected) / (1024.0 * 1024.0 * 1024.0)
	if sizeGB < 0.001 {
		sizeGB = 0.001
	}

	result := o.checker.CheckDiskSpaceForEstimate(sizeGB)
	if result.Passed {
		o.logger.Debug("Disk check passed: %s", result.Message)
		return nil
	}
	reason := result.Error
	if reason == nil {
		msg := result.Message
		if msg == "" {
			msg = "insufficient disk space"
		}
		reason = errors.New(msg)
	}
	return backupFailure("disk", types.ExitDiskSpaceError, fmt.Errorf("disk space validation failed: %w", reason))
}

// archiveCollectedData applies the configured archive strategy to the staging
// tree. When archival fails and the tree is intact, the session falls back to
// delivering it unarchived.
func (o *Orchestrator) archiveCollectedData(ctx context.Context, stats *BackupStats, session *backupSession, level int) (*backup.ArchiveResult, *BackupError) {
	cfg := o.cfg

	encrypt := cfg.EncryptArchive
	if encrypt && cfg.ArchiveMode == types.ArchiveModeNone {
		o.logger.Warning("ENCRYPT_ARCHIVE has no effect with ARCHIVE_MODE=none: files are stored unarchived")
		encrypt = false
	}
	stats.Encrypted = encrypt

	var recipients []age.Recipient
	if encrypt {
		var err error
		recipients, err = o.prepareAgeRecipients(ctx)
		if err != nil {
			return nil, backupFailure("config", types.ExitConfigError, err)
		}
	}

	archiverConfig := BuildArchiverConfig(cfg.CompressionType, level, cfg.CompressionThreads, cfg.CompressionMode, o.dryRun, encrypt, recipients)
	if err := archiverConfig.Validate(); err != nil {
		return nil, backupFailure("config", types.ExitConfigError, err)
	}

	archiver := backup.NewArchiver(o.logger, archiverConfig)
	if cfg.ArchiveMode != types.ArchiveModeNone {
		stats.Compression = archiver.ResolveCompression()
		stats.CompressionLevel = archiver.CompressionLevel()
		stats.CompressionMode = archiver.CompressionMode()
		stats.CompressionThreads = archiver.CompressionThreads()
		if stats.RequestedCompression != stats.Compression {
			o.logger.Info("Using %s compression (requested %s)", stats.Compression, stats.RequestedCompression)
		}
	}

	splitter := backup.NewSplitter(o.logger, cfg.ShardSizeBytes)
	strategy := backup.NewArchiveStrategy(o.logger, archiver, splitter, cfg.ArchiveMode, o.dryRun)

	result, err := strategy.Apply(ctx, session.stagingDir, cfg.BackupPath, session.baseName)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, backupFailure("archive", types.ExitArchiveError, err)
	}

	// Archival failed but the staging tree is still complete, so the session
	// delivers it unarchived instead of aborting. Only when even that is
	// impossible does the run end with an error.
	fallback, fbErr := o.fallbackToStagingTree(session.stagingDir, session.baseName, err)
	if fbErr == nil {
		return fallback, nil
	}
	phase, code := "archive", types.ExitArchiveError
	var compErr *backup.CompressionError
	if errors.As(err, &compErr) {
		phase, code = "compression", types.ExitCompressionError
	}
	return nil, backupFailure(phase, code, fbErr)
}

// recordArchiveResult copies the archival outcome into the stats and derives
// the compression metrics from it.
func (s *BackupStats) recordArchiveResult(result *backup.ArchiveResult) {
	s.ArchiveMode = result.Mode
	if result.Mode == types.ArchiveModeNone {
		// An unarchived tree is never encrypted, including after a fallback.
		s.Encrypted = false
	}
	s.ArchivePath = result.ArchivePath
	s.ArchiveSize = result.TotalBytes
	s.CompressedSize = result.TotalBytes
	s.Checksum = result.Checksum
	s.ShardCount = len(result.Shards)
	s.updateCompressionMetrics()
}

// writeVerificationMetadata emits the checksum sidecar and the manifest for
// the committed artifact.
func (o *Orchestrator) writeVerificationMetadata(ctx context.Context, stats *BackupStats, session *backupSession, result *backup.ArchiveResult, categories []string) *BackupError {
	if result.Checksum != "" {
		// For split mode the sidecar names the reassembled archive so
		// restore can verify after concatenating the shards.
		target := result.ArchivePath
		if result.Mode == types.ArchiveModeSplit {
			target = filepath.Join(o.cfg.BackupPath, result.BaseName)
		}
		sidecar, err := backup.WriteChecksumFile(o.logger, target, result.Checksum)
		if err != nil {
			o.logger.Warning("Failed to write checksum file for %s: %v", filepath.Base(target), err)
		} else {
			stats.ChecksumPath = sidecar
		}
	}

	manifest := o.buildManifest(stats, result, categories)
	manifestPath := filepath.Join(o.cfg.BackupPath, session.baseName+".manifest")
	if err := backup.CreateManifest(ctx, o.logger, manifest, manifestPath); err != nil {
		return backupFailure("verification", types.ExitVerificationError, fmt.Errorf("manifest creation failed: %w", err))
	}
	stats.ManifestPath = manifestPath
	return nil
}

// buildManifest assembles the restore-facing description of the artifact.
func (o *Orchestrator) buildManifest(stats *BackupStats, result *backup.ArchiveResult, categories []string) *backup.Manifest {
	shardSize := int64(0)
	if result.Mode == types.ArchiveModeSplit {
		shardSize = o.cfg.ShardSizeBytes
	}
	encryption := "none"
	if stats.Encrypted {
		encryption = "age"
	}
	return &backup.Manifest{
		ArchivePath:      result.ArchivePath,
		ArchiveSize:      stats.ArchiveSize,
		SHA256:           result.Checksum,
		CreatedAt:        stats.Timestamp,
		ArchiveMode:      string(result.Mode),
		CompressionType:  string(stats.Compression),
		CompressionLevel: stats.CompressionLevel,
		CompressionMode:  stats.CompressionMode,
		ShardCount:       len(result.Shards),
		ShardSizeBytes:   shardSize,
		Categories:       categories,
		Hostname:         stats.Hostname,
		ToolVersion:      stats.Version,
		EncryptionMode:   encryption,
	}
}

// commitToDestination finalizes the artifact on the backup destination and
// applies the retention policy.
func (o *Orchestrator) commitToDestination(ctx context.Context, stats *BackupStats, session *backupSession, result *backup.ArchiveResult) *BackupError {
	cfg := o.cfg

	if result.Mode == types.ArchiveModeNone {
		// Removing the marker is what commits an unarchived session tree.
		if err := o.filesystem().Remove(session.markerPath); err != nil && !os.IsNotExist(err) {
			return backupFailure("storage", types.ExitStorageError, fmt.Errorf("failed to commit session directory: %w", err))
		}
		o.logger.Debug("Session directory committed: %s", session.stagingDir)
	}

	store, err := storage.NewLocalStorage(cfg, o.logger)
	if err != nil {
		return backupFailure("storage", types.ExitStorageError, err)
	}
	if _, fsErr := store.DetectFilesystem(ctx); fsErr != nil {
		o.logger.Warning("Filesystem detection failed for %s: %v", cfg.BackupPath, fsErr)
	}
	if err := store.Store(ctx, result); err != nil {
		return backupFailure("storage", types.ExitStorageError, err)
	}

	pruned, err := store.ApplyRetention(ctx, cfg.MaxBackups)
	if err != nil {
		o.logger.Warning("Retention pruning failed: %v", err)
	}
	stats.BackupsPruned = pruned
	if st, statErr := store.GetStats(ctx); statErr == nil {
		stats.BackupsRemaining = st.TotalBackups
	}
	return nil
}

// fallbackToStagingTree turns a failed archival into an unarchived delivery:
// the intact staging tree becomes the session artifact, as if ARCHIVE_MODE
// had been none. Returns an error only when the tree itself is unusable.
func (o *Orchestrator) fallbackToStagingTree(stagingDir, baseName string, cause error) (*backup.ArchiveResult, error) {
	info, statErr := o.filesystem().Stat(stagingDir)
	if statErr != nil {
		return nil, fmt.Errorf("archival failed (%v) and the staging tree is gone: %w", cause, statErr)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archival failed (%v) and %s is not a directory", cause, stagingDir)
	}

	o.logger.Error("Archival failed: %v", cause)
	o.logger.Warning("Falling back to the unarchived staging tree at %s", stagingDir)

	size, sizeErr := utils.DirSize(stagingDir)
	if sizeErr != nil {
		o.logger.Warning("Could not measure fallback tree size: %v", sizeErr)
		size = 0
	}

	return &backup.ArchiveResult{
		Mode:        types.ArchiveModeNone,
		ArchivePath: stagingDir,
		BaseName:    baseName,
		TotalBytes:  size,
	}, nil
}

// normalizeCompressionLevel clamps an out-of-range level back to the default
// for the algorithm. Mode none always maps to 0; unknown types pass through
// untouched and fail archiver validation later.
func normalizeCompressionLevel(comp types.CompressionType, level int) int {
	const defaultLevel = 6

	if comp == types.CompressionNone {
		return 0
	}
	low, high, ok := backup.LevelRange(comp)
	if ok && (level < low || level > high) {
		return defaultLevel
	}
	return level
}

// updateCompressionMetrics derives ratio and savings from the collected and
// archived byte counts. Unknown sizes leave the metrics zeroed; an artifact
// that grew past its input reports zero savings.
func (s *BackupStats) updateCompressionMetrics() {
	if s == nil {
		return
	}

	s.CompressionRatio = 0
	s.CompressionRatioPercent = 0
	s.CompressionSavingsPercent = 0
	if s.UncompressedSize <= 0 || s.CompressedSize <= 0 {
		return
	}

	ratio := float64(s.CompressedSize) / float64(s.UncompressedSize)
	s.CompressionRatio = ratio
	s.CompressionRatioPercent = ratio * 100
	if savings := (1 - ratio) * 100; savings > 0 {
		s.CompressionSavingsPercent = savings
	}
}

// reportCompressionFigures returns the ratio, percent and savings values for
// the JSON report, deriving them from raw sizes when the inline metrics were
// never computed (mode none and fallback deliveries).
func reportCompressionFigures(stats *BackupStats) (ratio, percent, savings float64) {
	ratio = stats.CompressionRatio
	if ratio == 0 && stats.BytesCollected > 0 {
		ratio = float64(stats.ArchiveSize) / float64(stats.BytesCollected)
	}
	percent = stats.CompressionRatioPercent
	if percent == 0 && ratio > 0 {
		percent = ratio * 100
	}
	savings = stats.CompressionSavingsPercent
	if savings == 0 && percent > 0 {
		if savings = 100 - percent; savings < 0 {
			savings = 0
		}
	}
	return ratio, percent, savings
}

// SaveStatsReport writes the machine-readable session report into the log
// directory. A missing config, log path or timestamp quietly skips the write.
func (o *Orchestrator) SaveStatsReport(stats *BackupStats) error {
	if stats == nil {
		return fmt.Errorf("stats cannot be nil")
	}
	if o.cfg == nil || o.cfg.LogPath == "" || stats.Timestamp.IsZero() {
		return nil
	}

	stamp := stats.Timestamp.Format("20060102-150405")
	reportPath := filepath.Join(o.cfg.LogPath, fmt.Sprintf("homesave-%s-%s.report.json", stats.Hostname, stamp))
	stats.ReportPath = reportPath
	if o.dryRun {
		o.logger.Info("[DRY RUN] Would write stats report: %s", reportPath)
		return nil
	}

	fs := o.filesystem()
	if err := fs.MkdirAll(o.cfg.LogPath, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := fs.OpenFile(reportPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create stats report: %w", err)
	}
	defer file.Close()

	ratio, percent, savings := reportCompressionFigures(stats)

	payload := struct {
		Hostname            string                `json:"hostname"`
		Timestamp           string                `json:"timestamp"`
		StartTime           time.Time             `json:"start_time"`
		EndTime             time.Time             `json:"end_time"`
		DurationSeconds     float64               `json:"duration_seconds"`
		DurationHuman       string                `json:"duration_human"`
		ArchiveMode         types.ArchiveMode     `json:"archive_mode"`
		FilesCollected      int                   `json:"files_collected"`
		FilesFailed         int                   `json:"files_failed"`
		DirsCreated         int                   `json:"directories_created"`
		BytesCollected      int64                 `json:"bytes_collected"`
		BytesCollectedStr   string                `json:"bytes_collected_human"`
		ArchivePath         string                `json:"archive_path"`
		ArchiveSize         int64                 `json:"archive_size"`
		ArchiveSizeStr      string                `json:"archive_size_human"`
		ShardCount          int                   `json:"shard_count,omitempty"`
		RequestedComp       types.CompressionType `json:"requested_compression"`
		RequestedCompMode   string                `json:"requested_compression_mode"`
		Compression         types.CompressionType `json:"compression"`
		CompressionLevel    int                   `json:"compression_level"`
		CompressionMode     string                `json:"compression_mode"`
		CompressionThreads  int                   `json:"compression_threads"`
		CompressionRatio    float64               `json:"compression_ratio"`
		CompressionPct      float64               `json:"compression_ratio_percent"`
		CompressionSavings  float64               `json:"compression_savings_percent"`
		Encrypted           bool                  `json:"encrypted"`
		CategoriesCollected int                   `json:"categories_collected"`
		CategoriesEmpty     int                   `json:"categories_empty"`
		CategoriesFailed    int                   `json:"categories_failed"`
		Checksum            string                `json:"checksum"`
		ChecksumPath        string                `json:"checksum_path,omitempty"`
		ManifestPath        string                `json:"manifest_path"`
		BackupsPruned       int                   `json:"backups_pruned"`
		BackupsRemaining    int                   `json:"backups_remaining"`
		ErrorCount          int                   `json:"error_count"`
		WarningCount        int                   `json:"warning_count"`
		ExitCode            int                   `json:"exit_code"`
		LogFile             string                `json:"log_file,omitempty"`
	}{
		Hostname:            stats.Hostname,
		Timestamp:           stamp,
		StartTime:           stats.StartTime,
		EndTime:             stats.EndTime,
		DurationSeconds:     stats.Duration.Seconds(),
		DurationHuman:       backup.FormatDuration(stats.Duration),
		ArchiveMode:         stats.ArchiveMode,
		FilesCollected:      stats.FilesCollected,
		FilesFailed:         stats.FilesFailed,
		DirsCreated:         stats.DirsCreated,
		BytesCollected:      stats.BytesCollected,
		BytesCollectedStr:   backup.FormatBytes(stats.BytesCollected),
		ArchivePath:         stats.ArchivePath,
		ArchiveSize:         stats.ArchiveSize,
		ArchiveSizeStr:      backup.FormatBytes(stats.ArchiveSize),
		ShardCount:          stats.ShardCount,
		RequestedComp:       stats.RequestedCompression,
		RequestedCompMode:   stats.RequestedCompressionMode,
		Compression:         stats.Compression,
		CompressionLevel:    stats.CompressionLevel,
		CompressionMode:     stats.CompressionMode,
		CompressionThreads:  stats.CompressionThreads,
		CompressionRatio:    ratio,
		CompressionPct:      percent,
		CompressionSavings:  savings,
		Encrypted:           stats.Encrypted,
		CategoriesCollected: stats.CategoriesCollected,
		CategoriesEmpty:     stats.CategoriesEmpty,
		CategoriesFailed:    stats.CategoriesFailed,
		Checksum:            stats.Checksum,
		ChecksumPath:        stats.ChecksumPath,
		ManifestPath:        stats.ManifestPath,
		BackupsPruned:       stats.BackupsPruned,
		BackupsRemaining:    stats.BackupsRemaining,
		ErrorCount:          stats.ErrorCount,
		WarningCount:        stats.WarningCount,
		ExitCode:            stats.ExitCode,
		LogFile:             stats.LogFilePath,
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode stats report: %w", err)
	}

	o.logger.Debug("Stats report written to %s", reportPath)
	return nil
}

// LogBackupSummary writes the end-of-run summary. The warning and error
// totals come from scanning the session log, never from in-memory counters.
func (o *Orchestrator) LogBackupSummary(stats *BackupStats) {
	if stats == nil {
		return
	}

	fmt.Println()
	o.logger.Phase("BACKUP SUMMARY")
	o.logger.Info("Host: %s", stats.Hostname)
	o.logger.Info("Archive mode: %s", stats.ArchiveMode)
	if stats.ArchivePath != "" {
		o.logger.Info("Artifact: %s", stats.ArchivePath)
	}
	if stats.ShardCount > 0 {
		o.logger.Info("Shards: %d", stats.ShardCount)
	}
	o.logger.Info("Files: %d collected, %d failed", stats.FilesCollected, stats.FilesFailed)
	o.logger.Info("Data: %s collected, artifact %s",
		backup.FormatBytes(stats.BytesCollected), backup.FormatBytes(stats.ArchiveSize))
	if stats.Checksum != "" {
		o.logger.Info("SHA256: %s", stats.Checksum)
	}
	if stats.Encrypted {
		o.logger.Info("Encryption: age")
	}
	if stats.BackupsPruned > 0 {
		o.logger.Info("Retention: pruned %d old backup(s), %d remaining",
			stats.BackupsPruned, stats.BackupsRemaining)
	}
	o.logger.Info("Duration: %s", backup.FormatDuration(stats.Duration))

	if stats.ErrorCount > 0 || stats.WarningCount > 0 {
		o.logger.Info("Issues found in session log: %d error(s), %d warning(s)",
			stats.ErrorCount, stats.WarningCount)
		for _, cat := range stats.LogCategories {
			line := fmt.Sprintf("  %s x%d: %s", cat.Severity, cat.Count, cat.Label)
			if cat.Example != "" {
				line = fmt.Sprintf("%s (e.g. %s)", line, cat.Example)
			}
			o.logger.Info("%s", line)
		}
		if stats.ErrorCount > 0 {
			if errorLog := o.logger.GetErrorLogPath(); errorLog != "" {
				o.logger.Info("Full error details: %s", errorLog)
			}
		}
	} else {
		o.logger.Success("Backup completed without warnings or errors")
	}
}

// PersistSessionLog copies the live session log from /tmp into the log
// directory so it survives reboots. The <flow>-<host>-<timestamp>.log name
// ties it to the session; retention removes it together with the backup.
func (o *Orchestrator) PersistSessionLog(flow, hostname string, when time.Time) (string, error) {
	if o.cfg == nil || o.cfg.LogPath == "" {
		return "", nil
	}
	src := o.logger.GetLogFilePath()
	if src == "" {
		return "", nil
	}

	fs := o.filesystem()
	if err := fs.MkdirAll(o.cfg.LogPath, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.log", flow, hostname, when.Format("20060102-150405"))
	dest := filepath.Join(o.cfg.LogPath, name)
	if err := copyFile(fs, src, dest); err != nil {
		return "", fmt.Errorf("persist session log: %w", err)
	}
	return dest, nil
}
