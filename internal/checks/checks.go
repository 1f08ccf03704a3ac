// Package checks validates the environment before a backup run mutates
// anything: destination directories, the staging root, free disk space,
// write permissions, and the single-run lock.
package checks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/safefs"
)

const lockFileName = "homesave.lock"

// statfsTimeout bounds free-space probes; the destination may sit on a
// network mount that stopped answering.
const statfsTimeout = 10 * time.Second

const (
	writeProbeAttempts   = 3
	writeProbeRetryDelay = 100 * time.Millisecond
)

// Filesystem seams. Tests swap these to simulate flaky or read-only media
// without depending on real filesystem behavior.
var (
	createTestFile = os.Create
	osStat         = os.Stat
	osRemove       = os.Remove
	osOpenFile     = os.OpenFile
	osMkdirAll     = os.MkdirAll
	osWriteFile    = os.WriteFile
	osSymlink      = os.Symlink
	syncFile       = func(f *os.File) error { return f.Sync() }

	// tempRootPath is where backup staging is assembled. Tests point it at
	// a scratch directory.
	tempRootPath = filepath.Join("/tmp", "homesave")
)

// Checker runs the pre-backup validations.
type Checker struct {
	logger *logging.Logger
	config *CheckerConfig
}

// CheckerConfig carries the paths and thresholds the checks operate on.
type CheckerConfig struct {
	BackupPath          string
	LogPath             string
	MinDiskSpaceGB      float64
	SafetyFactor        float64 // multiplier over the estimated backup size
	LockDirPath         string
	LockFilePath        string
	MaxLockAge          time.Duration
	SkipPermissionCheck bool
	DryRun              bool
}

// Validate rejects configurations the checks cannot run against. An empty
// LockDirPath falls back to the backup destination.
func (cc *CheckerConfig) Validate() error {
	switch {
	case cc.BackupPath == "":
		return fmt.Errorf("backup path is required")
	case cc.LogPath == "":
		return fmt.Errorf("log path is required")
	}
	if cc.LockDirPath == "" {
		cc.LockDirPath = cc.BackupPath
	}
	if cc.MinDiskSpaceGB < 0 {
		return fmt.Errorf("minimum disk space cannot be negative")
	}
	if cc.SafetyFactor < 1.0 {
		return fmt.Errorf("safety factor below 1.0: %.2f", cc.SafetyFactor)
	}
	if cc.MaxLockAge <= 0 {
		return fmt.Errorf("max lock age must be greater than zero")
	}
	return nil
}

// CheckResult reports the outcome of one validation.
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
	Code    string
}

func passed(name, message string) CheckResult {
	return CheckResult{Name: name, Passed: true, Message: message}
}

func failed(name, code string, err error) CheckResult {
	return CheckResult{Name: name, Message: err.Error(), Error: err, Code: code}
}

// rejected is for checks that fail on policy rather than on an underlying
// error, such as a lock held by another run.
func rejected(name, message string) CheckResult {
	return CheckResult{Name: name, Message: message}
}

// NewChecker builds a Checker around the given configuration.
func NewChecker(logger *logging.Logger, config *CheckerConfig) *Checker {
	return &Checker{logger: logger, config: config}
}

// ShouldSkipPermissionCheck reports whether permission probing is disabled.
func (ck *Checker) ShouldSkipPermissionCheck() bool {
	return ck.config.SkipPermissionCheck
}

// RunAllChecks runs every validation in dependency order. Directories come
// first because the later probes write into them, and the lock is taken
// last so a failed run never leaves a lock behind in a directory that was
// not ready.
func (ck *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	ck.logger.Debug("Starting pre-backup validation")

	steps := []struct {
		label string
		run   func() CheckResult
		skip  bool
	}{
		{label: "directory", run: ck.CheckDirectories},
		{label: "temp directory", run: ck.CheckTempDirectory},
		{label: "disk space", run: ck.CheckDiskSpace},
		{label: "permissions", run: ck.CheckPermissions, skip: ck.config.SkipPermissionCheck},
		{label: "lock file", run: ck.CheckLockFile},
	}

	var results []CheckResult
	for _, step := range steps {
		if step.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := step.run()
		results = append(results, result)
		if !result.Passed {
			return results, fmt.Errorf("%s check failed: %s", step.label, result.Message)
		}
	}

	ck.logger.Debug("Pre-backup validation passed")
	return results, nil
}

// lockFilePath resolves the configured lock location, defaulting to a
// well-known name inside the lock directory.
func (ck *Checker) lockFilePath() string {
	if ck.config.LockFilePath != "" {
		return ck.config.LockFilePath
	}
	return filepath.Join(ck.config.LockDirPath, lockFileName)
}

// requiredDirs returns the unique directories the run writes into, sorted
// so log output is stable.
func (ck *Checker) requiredDirs() []string {
	seen := make(map[string]struct{})
	for _, path := range []string{
		ck.config.BackupPath,
		ck.config.LogPath,
		ck.config.LockDirPath,
		filepath.Dir(ck.lockFilePath()),
	} {
		cleaned := filepath.Clean(path)
		if cleaned == "" || cleaned == "." || cleaned == "/" {
			continue
		}
		seen[cleaned] = struct{}{}
	}

	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// CheckDirectories makes sure every directory the run needs exists,
// creating missing ones. The lock file's parent is included so the final
// lock check cannot fail on a missing directory.
func (ck *Checker) CheckDirectories() CheckResult {
	const name = "Directories"

	for _, dir := range ck.requiredDirs() {
		ck.logger.Debug("Checking directory: %s", dir)
		info, err := osStat(dir)
		switch {
		case err == nil && !info.IsDir():
			werr := fmt.Errorf("required path is not a directory: %s", dir)
			ck.logger.Error("%s", werr)
			return failed(name, "", werr)
		case err == nil:
			ck.logger.Debug("Directory exists: %s", dir)
		case !os.IsNotExist(err):
			werr := fmt.Errorf("stat directory %s: %w", dir, err)
			ck.logger.Error("%s", werr)
			return failed(name, "", werr)
		case ck.config.DryRun:
			ck.logger.Info("[DRY RUN] Would create directory: %s", dir)
		default:
			if err := osMkdirAll(dir, 0o755); err != nil {
				werr := fmt.Errorf("create directory %s: %w", dir, err)
				ck.logger.Error("%s", werr)
				return failed(name, "", werr)
			}
			ck.logger.Info("Created missing directory: %s", dir)
		}
	}

	return passed(name, "All required directories exist")
}

// CheckTempDirectory verifies the staging root is usable. The staging tree
// recreates symlinks while copying, so the filesystem must support them; a
// tmpfs does, some overlay setups do not.
func (ck *Checker) CheckTempDirectory() CheckResult {
	const name = "Temp Directory"
	root := tempRootPath
	ck.logger.Debug("Checking temp directory: %s", root)

	info, err := osStat(root)
	switch {
	case err == nil:
		ck.logger.Debug("Temp directory exists: %s", root)
	case os.IsNotExist(err):
		ck.logger.Debug("Temp directory not found, creating: %s", root)
		if mkErr := osMkdirAll(root, 0o755); mkErr != nil {
			return failed(name, "CREATE_FAILED", fmt.Errorf("temp directory creation failed - path: %s: %w", root, mkErr))
		}
		if info, err = osStat(root); err != nil {
			return failed(name, "VERIFY_FAILED", fmt.Errorf("temp directory verification failed - path: %s: %w", root, err))
		}
	default:
		return failed(name, "STAT_FAILED", fmt.Errorf("temp directory check failed - path: %s: %w", root, err))
	}

	if !info.IsDir() {
		return failed(name, "NOT_DIRECTORY", fmt.Errorf("temp path is not a directory - path: %s", root))
	}

	ck.logger.Debug("Testing write permission: %s", root)
	probe := filepath.Join(root, ".homesave-permission-test")
	if err := osWriteFile(probe, []byte("probe"), 0o600); err != nil {
		return failed(name, "NOT_WRITABLE", fmt.Errorf("temp directory not writable - path: %s: %w", root, err))
	}
	defer osRemove(probe)

	ck.logger.Debug("Testing symlink support: %s", root)
	link := filepath.Join(root, ".homesave-symlink-test")
	if err := osSymlink(probe, link); err != nil {
		return failed(name, "NO_SYMLINK_SUPPORT", fmt.Errorf("temp directory does not support symlinks - path: %s: %w", root, err))
	}
	osRemove(link)

	return passed(name, fmt.Sprintf("%s writable with symlink support", root))
}

// CheckDiskSpace verifies the destination has at least MinDiskSpaceGB free.
// A zero or negative threshold disables the check.
func (ck *Checker) CheckDiskSpace() CheckResult {
	const name = "Disk Space"

	if ck.config.MinDiskSpaceGB <= 0 {
		ck.logger.Debug("Disk space check disabled")
		return passed(name, "Disk space check disabled")
	}

	ck.logger.Debug("Checking disk space on %s", ck.config.BackupPath)
	availableGB, err := diskSpaceGB(ck.config.BackupPath)
	if err != nil {
		werr := fmt.Errorf("disk space check failed (%s): %w", ck.config.BackupPath, err)
		ck.logger.Error("%s", werr)
		return failed(name, "", werr)
	}

	ck.logger.Debug("%s: %.2f GB available, %.2f GB required", ck.config.BackupPath, availableGB, ck.config.MinDiskSpaceGB)
	if availableGB < ck.config.MinDiskSpaceGB {
		werr := fmt.Errorf("disk space insufficient on %s: %.2f GB available, %.2f GB required",
			ck.config.BackupPath, availableGB, ck.config.MinDiskSpaceGB)
		ck.logger.Error("%s", werr)
		return failed(name, "", werr)
	}

	return passed(name, "Sufficient disk space on backup destination")
}

// CheckDiskSpaceForEstimate verifies there is room for a backup of the
// given estimated size, padded by the safety factor and floored at the
// configured minimum.
func (ck *Checker) CheckDiskSpaceForEstimate(estimatedSizeGB float64) CheckResult {
	const name = "Disk Space (Estimated)"

	requiredGB := math.Max(ck.config.MinDiskSpaceGB, estimatedSizeGB*ck.config.SafetyFactor)

	availableGB, err := diskSpaceGB(ck.config.BackupPath)
	if err != nil {
		return failed(name, "", fmt.Errorf("disk space check failed (%s): %w", ck.config.BackupPath, err))
	}
	if availableGB < requiredGB {
		werr := fmt.Errorf("disk space insufficient on %s: %.2f GB available, %.2f GB required (max of %.2f GB min, %.2f GB estimated x %.1f)",
			ck.config.BackupPath, availableGB, requiredGB, ck.config.MinDiskSpaceGB, estimatedSizeGB, ck.config.SafetyFactor)
		ck.logger.Error("%s", werr)
		return failed(name, "", werr)
	}

	ck.logger.Debug("Sufficient disk space for estimated %.2f GB (safety factor %.1fx)", estimatedSizeGB, ck.config.SafetyFactor)
	return passed(name, fmt.Sprintf("Sufficient disk space for estimated %.2f GB (safety factor %.1fx)",
		estimatedSizeGB, ck.config.SafetyFactor))
}

// CheckPermissions proves each working directory accepts writes by creating
// and removing a probe file.
func (ck *Checker) CheckPermissions() CheckResult {
	const name = "Permissions"

	for _, dir := range []string{ck.config.BackupPath, ck.config.LogPath} {
		ck.logger.Debug("Probing write access: %s", dir)
		if ck.config.DryRun {
			ck.logger.Debug("[DRY RUN] Would probe write access in: %s", dir)
			continue
		}

		if err := ck.probeWrite(dir); err != nil {
			reason, code := classifyWriteError(err)
			werr := fmt.Errorf("%s in %s: %w", reason, dir, err)
			ck.logger.Error("%s", werr)
			return failed(name, code, werr)
		}
		ck.logger.Debug("Directory writable: %s", dir)
	}

	return passed(name, "All directories are writable")
}

// probeWrite creates and deletes a throwaway file in dir. EIO is retried a
// few times since network filesystems can surface transient errors on the
// first touch after an idle period.
func (ck *Checker) probeWrite(dir string) error {
	probe := filepath.Join(dir, fmt.Sprintf(".permission_test_%d", os.Getpid()))

	var lastErr error
	for attempt := 1; attempt <= writeProbeAttempts; attempt++ {
		f, err := createTestFile(probe)
		if err == nil {
			f.Close()
			if err := osRemove(probe); err != nil {
				ck.logger.Warning("Could not remove probe file %s: %v", probe, err)
			}
			return nil
		}

		lastErr = err
		if !errors.Is(err, syscall.EIO) || attempt == writeProbeAttempts {
			break
		}
		ck.logger.Warning("I/O error while probing write in %s (attempt %d/%d), will retry: %v",
			dir, attempt, writeProbeAttempts, err)
		time.Sleep(writeProbeRetryDelay)
	}
	return lastErr
}

func classifyWriteError(err error) (reason, code string) {
	switch {
	case errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM):
		return "no write permission", "PERMISSION_DENIED"
	case errors.Is(err, syscall.EROFS):
		return "filesystem is read-only", "FS_READONLY"
	case errors.Is(err, syscall.EIO):
		return "filesystem I/O error while testing write", "FS_IO_ERROR"
	default:
		return "failed to test write permission", "PERMISSION_CHECK_FAILED"
	}
}

// CheckLockFile enforces the single-run lock. A fresh lock means another
// backup is running; a lock older than MaxLockAge is treated as the residue
// of a crashed run and replaced.
func (ck *Checker) CheckLockFile() CheckResult {
	const name = "Lock File"
	lockPath := ck.lockFilePath()
	ck.logger.Debug("Lock file path: %s", lockPath)

	if info, err := osStat(lockPath); err == nil {
		age := time.Since(info.ModTime())
		if age <= ck.config.MaxLockAge {
			msg := fmt.Sprintf("Another backup is in progress (lock age: %v)", age)
			ck.logger.Error("%s", msg)
			return rejected(name, msg)
		}
		ck.logger.Warning("Removing stale lock file (age: %v)", age)
		if err := osRemove(lockPath); err != nil {
			return failed(name, "", fmt.Errorf("remove stale lock: %w", err))
		}
	}

	if ck.config.DryRun {
		ck.logger.Info("[DRY RUN] Would create lock file: %s", lockPath)
		return passed(name, "Lock file acquired successfully")
	}

	// O_EXCL makes acquisition atomic against a concurrent run that passed
	// the stat above at the same time.
	ck.logger.Debug("Creating lock file with PID %d", os.Getpid())
	f, err := osOpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			msg := "Another backup acquired the lock"
			ck.logger.Error("%s", msg)
			return rejected(name, msg)
		}
		return failed(name, "", fmt.Errorf("create lock file: %w", err))
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	stamp := fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n", os.Getpid(), hostname, time.Now().Format(time.RFC3339))
	if _, err := f.WriteString(stamp); err != nil {
		return failed(name, "", fmt.Errorf("write lock file: %w", err))
	}
	if err := syncFile(f); err != nil {
		ck.logger.Warning("Could not sync lock file %s: %v", lockPath, err)
	}

	return passed(name, "Lock file acquired successfully")
}

// ReleaseLock removes the lock file. A missing lock is not an error; the
// stale-lock path may already have replaced it.
func (ck *Checker) ReleaseLock() error {
	lockPath := ck.lockFilePath()

	if ck.config.DryRun {
		ck.logger.Info("[DRY RUN] Would remove lock file: %s", lockPath)
		return nil
	}

	if err := osRemove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}

	ck.logger.Debug("Lock file released: %s", lockPath)
	return nil
}

// GetDefaultCheckerConfig returns the stock checker thresholds for the
// given paths.
func GetDefaultCheckerConfig(backupPath, logPath, lockDir string) *CheckerConfig {
	return &CheckerConfig{
		BackupPath:     backupPath,
		LogPath:        logPath,
		MinDiskSpaceGB: 1.0,
		SafetyFactor:   1.5,
		LockDirPath:    lockDir,
		LockFilePath:   filepath.Join(lockDir, lockFileName),
		MaxLockAge:     2 * time.Hour,
	}
}

// diskSpaceGB probes free space through safefs so a dead network mount
// fails the check instead of hanging it. The probe carries its own context
// because the public check methods are context-free.
func diskSpaceGB(path string) (float64, error) {
	stat, err := safefs.Statfs(context.Background(), path, statfsTimeout)
	if err != nil {
		return 0, err
	}
	return float64(stat.Bavail*uint64(stat.Bsize)) / (1024 * 1024 * 1024), nil
}
