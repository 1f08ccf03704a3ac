package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tis24dev/homesave/internal/category"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/safefs"
)

// ioTimeout bounds individual filesystem calls during collection so a dead
// network mount cannot wedge the session.
const ioTimeout = 30 * time.Second

// CollectionStats tracks statistics during backup collection
type CollectionStats struct {
	FilesProcessed int64
	FilesFailed    int64
	DirsCreated    int64
	BytesCollected int64
}

// CategoryResult records the per-category outcome of a collection run.
type CategoryResult struct {
	Name    string
	Found   int // sources copied into the staging tree
	Missing int // sources absent on this machine
	Failed  int // sources that errored mid-collection
}

// PathStatus is the outcome of probing a backup source path.
type PathStatus int

const (
	// PathFound means the source exists and can be collected.
	PathFound PathStatus = iota
	// PathNotFound means the source is absent. Absence is expected for
	// optional material and is never an error.
	PathNotFound
)

// ExecutorConfig holds configuration for backup collection
type ExecutorConfig struct {
	// HomeDir is the home root every relative source path resolves against.
	HomeDir string

	// GPGKeyID gates the secret key export. Empty means the export is
	// skipped with a warning.
	GPGKeyID string

	DryRun bool
}

// Executor iterates the category registry and copies every found source into
// the staging tree. Failures are isolated per source: they log ERROR and the
// remaining sources and categories still run.
type Executor struct {
	logger     *logging.Logger
	registry   *category.Registry
	config     *ExecutorConfig
	stagingDir string
	stats      *CollectionStats
	statsMu    sync.Mutex
	deps       ExecutorDeps
}

// NewExecutor creates an executor with default dependencies.
func NewExecutor(logger *logging.Logger, registry *category.Registry, config *ExecutorConfig, stagingDir string) *Executor {
	return NewExecutorWithDeps(logger, registry, config, stagingDir, defaultExecutorDeps())
}

// NewExecutorWithDeps creates an executor with explicit dependency overrides (for testing).
func NewExecutorWithDeps(logger *logging.Logger, registry *category.Registry, config *ExecutorConfig, stagingDir string, deps ExecutorDeps) *Executor {
	return &Executor{
		logger:     logger,
		registry:   registry,
		config:     config,
		stagingDir: stagingDir,
		stats:      &CollectionStats{},
		deps:       deps,
	}
}

func (e *Executor) incFilesProcessed() {
	atomic.AddInt64(&e.stats.FilesProcessed, 1)
}

func (e *Executor) incFilesFailed() {
	atomic.AddInt64(&e.stats.FilesFailed, 1)
}

func (e *Executor) incDirsCreated() {
	atomic.AddInt64(&e.stats.DirsCreated, 1)
}

func (e *Executor) addBytesCollected(delta int64) {
	if delta == 0 {
		return
	}
	atomic.AddInt64(&e.stats.BytesCollected, delta)
}

func (e *Executor) depLookPath(name string) (string, error) {
	if e.deps.LookPath != nil {
		return e.deps.LookPath(name)
	}
	return execLookPath(name)
}

func (e *Executor) depRunCommandWithEnv(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error) {
	if e.deps.RunCommandWithEnv != nil {
		return e.deps.RunCommandWithEnv(ctx, extraEnv, name, args...)
	}
	return runCommandWithEnv(ctx, extraEnv, name, args...)
}

func (e *Executor) depLstat(path string) (os.FileInfo, error) {
	if e.deps.Lstat != nil {
		return e.deps.Lstat(path)
	}
	return lstatFunc(path)
}

// GetStats returns a snapshot of the collection statistics.
func (e *Executor) GetStats() *CollectionStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	snapshot := *e.stats
	return &snapshot
}

// Validate probes a source path. It never fails: any stat outcome other than
// success reports NotFound, logged at WARNING.
func (e *Executor) Validate(path string) PathStatus {
	if _, err := e.depLstat(path); err != nil {
		if !os.IsNotExist(err) {
			e.logger.Debug("Cannot stat %s: %v", path, err)
		}
		e.logger.Warning("Source not found: %s (skipping)", path)
		return PathNotFound
	}
	return PathFound
}

// Run collects every category in registry order into the staging tree and
// returns per-category results. Only context cancellation aborts the run
// early; everything else is isolated and logged.
func (e *Executor) Run(ctx context.Context) ([]CategoryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.logger.Info("Starting backup collection for %s", e.config.HomeDir)
	e.logger.Debug("Executor dry-run=%v stagingDir=%s categories=%d", e.config.DryRun, e.stagingDir, e.registry.Len())

	results := make([]CategoryResult, 0, e.registry.Len())
	for _, cat := range e.registry.List() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, e.collectCategory(ctx, cat))
	}

	stats := e.GetStats()
	e.logger.Debug("Collection completed: %d files, %d failed, %d dirs created, %s collected",
		stats.FilesProcessed, stats.FilesFailed, stats.DirsCreated, FormatBytes(stats.BytesCollected))

	return results, nil
}

func (e *Executor) collectCategory(ctx context.Context, cat category.Category) CategoryResult {
	result := CategoryResult{Name: cat.Name}
	e.logger.Info("Collecting category %s (%s)", cat.Name, cat.Description)

	for _, src := range cat.Sources {
		if ctx.Err() != nil {
			return result
		}

		switch e.collectSource(ctx, cat, src) {
		case sourceCollected:
			result.Found++
		case sourceMissing:
			result.Missing++
		case sourceFailed:
			result.Failed++
		}
	}

	switch {
	case result.Found > 0:
		e.logger.Success("Category %s: %d of %d sources collected", cat.Name, result.Found, len(cat.Sources))
	case result.Failed == 0:
		e.logger.Warning("Nothing to back up for category %s", cat.Name)
	}
	return result
}

type sourceStatus int

const (
	sourceCollected sourceStatus = iota
	sourceMissing
	sourceFailed
)

func (e *Executor) collectSource(ctx context.Context, cat category.Category, src category.SourcePath) sourceStatus {
	dest := filepath.Join(e.stagingDir, cat.DestSubpath, src.ArchiveName())

	switch src.Kind {
	case category.SourceCommand:
		return e.collectCommand(ctx, src, dest)
	case category.SourceDir:
		return e.collectDir(ctx, src, dest)
	default:
		return e.collectFile(ctx, src, dest)
	}
}

func (e *Executor) collectFile(ctx context.Context, src category.SourcePath, dest string) sourceStatus {
	path := filepath.Join(e.config.HomeDir, src.Path)
	if e.Validate(path) == PathNotFound {
		return sourceMissing
	}

	if err := e.safeCopyFile(ctx, path, dest, src.Path); err != nil {
		e.logger.Error("Failed to collect %s: %v", path, err)
		return sourceFailed
	}
	return sourceCollected
}

func (e *Executor) collectDir(ctx context.Context, src category.SourcePath, dest string) sourceStatus {
	path := filepath.Join(e.config.HomeDir, src.Path)
	if e.Validate(path) == PathNotFound {
		return sourceMissing
	}

	if err := e.safeCopyDir(ctx, path, dest, src.Path); err != nil {
		e.logger.Error("Failed to collect %s: %v", path, err)
		return sourceFailed
	}
	return sourceCollected
}

func (e *Executor) collectCommand(ctx context.Context, src category.SourcePath, dest string) sourceStatus {
	if src.NeedsKeyID && e.config.GPGKeyID == "" {
		e.logger.Warning("No GPG key id configured, skipping %s", src.OutputName)
		return sourceMissing
	}

	args := append([]string(nil), src.Command...)
	if src.NeedsKeyID {
		args = append(args, e.config.GPGKeyID)
	}

	if err := e.safeCmdOutput(ctx, args, dest, src.OutputName); err != nil {
		e.logger.Error("Failed to collect %s: %v", src.OutputName, err)
		return sourceFailed
	}
	return sourceCollected
}

// commandEnv points command sources at the configured home when it differs
// from the process environment, so gpg reads the right keyring.
func (e *Executor) commandEnv() []string {
	if e.config.HomeDir == "" || e.config.HomeDir == os.Getenv("HOME") {
		return nil
	}
	return []string{
		"HOME=" + e.config.HomeDir,
		"GNUPGHOME=" + filepath.Join(e.config.HomeDir, ".gnupg"),
	}
}

func (e *Executor) ensureDir(path string) error {
	if e.config.DryRun {
		e.logger.Debug("[DRY RUN] Would create directory: %s", path)
		return nil
	}

	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created = true
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	if created {
		e.incDirsCreated()
	}
	return nil
}

func (e *Executor) safeCopyFile(ctx context.Context, src, dest, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.logger.Debug("Collecting %s: %s -> %s", description, src, dest)

	info, err := os.Lstat(src)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.Debug("%s not found: %s (skipping)", description, src)
			return nil
		}
		e.incFilesFailed()
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if e.config.DryRun {
		e.logger.Debug("[DRY RUN] Would copy file: %s -> %s", src, dest)
		e.incFilesProcessed()
		return nil
	}

	// Handle symbolic links by recreating the link
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			e.incFilesFailed()
			return fmt.Errorf("failed to read symlink %s: %w", src, err)
		}

		if err := e.ensureDir(filepath.Dir(dest)); err != nil {
			e.incFilesFailed()
			return err
		}

		// Remove existing file if present
		if _, err := os.Lstat(dest); err == nil {
			if err := os.Remove(dest); err != nil {
				e.incFilesFailed()
				return fmt.Errorf("failed to replace existing file %s: %w", dest, err)
			}
		}

		if err := os.Symlink(target, dest); err != nil {
			e.incFilesFailed()
			return fmt.Errorf("failed to create symlink %s -> %s: %w", dest, target, err)
		}

		e.incFilesProcessed()
		e.logger.Debug("Successfully copied symlink %s -> %s", dest, target)
		return nil
	}

	if !info.Mode().IsRegular() {
		// Skip devices, sockets and the like
		e.logger.Debug("Skipping non-regular file: %s", src)
		return nil
	}

	// Ensure destination directory exists
	if err := e.ensureDir(filepath.Dir(dest)); err != nil {
		e.incFilesFailed()
		return err
	}

	// Open source file
	srcFile, err := os.Open(src)
	if err != nil {
		e.incFilesFailed()
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer srcFile.Close()

	// Create destination file with restrictive permissions
	destFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		e.incFilesFailed()
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer destFile.Close()

	// Copy content
	written, err := io.Copy(destFile, srcFile)
	if err != nil {
		e.incFilesFailed()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}

	e.incFilesProcessed()
	e.addBytesCollected(written)
	e.logger.Debug("Successfully collected %s: %s", description, src)

	return nil
}

// safeCopyDir mirrors a source subtree into the staging tree. Every
// filesystem touch goes through safefs with a bounded timeout: home trees
// can cross dead automounts, and one hung readdir must not wedge the
// whole session.
func (e *Executor) safeCopyDir(ctx context.Context, src, dest, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.logger.Debug("Collecting directory %s: %s -> %s", description, src, dest)

	info, err := safefs.Stat(ctx, src, ioTimeout)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.Debug("%s not found: %s (skipping)", description, src)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if e.config.DryRun {
		e.logger.Debug("[DRY RUN] Would copy directory: %s -> %s", src, dest)
		return nil
	}

	// A path declared as a directory source may be a plain file on some
	// setups (e.g. ~/.gnupg replaced by a single keyring file).
	if !info.IsDir() {
		return e.safeCopyFile(ctx, src, dest, filepath.Base(src))
	}

	if err := e.ensureDir(dest); err != nil {
		return err
	}

	type dirFrame struct {
		src  string
		dest string
	}
	stack := []dirFrame{{src: src, dest: dest}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := safefs.ReadDir(ctx, frame.src, ioTimeout)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", frame.src, err)
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}

			srcPath := filepath.Join(frame.src, entry.Name())
			destPath := filepath.Join(frame.dest, entry.Name())

			if entry.IsDir() {
				if err := e.ensureDir(destPath); err != nil {
					return err
				}
				stack = append(stack, dirFrame{src: srcPath, dest: destPath})
				continue
			}

			// Symlinks report IsDir()==false and are recreated as links
			// by safeCopyFile, never followed.
			if err := e.safeCopyFile(ctx, srcPath, destPath, entry.Name()); err != nil {
				return err
			}
		}
	}

	e.logger.Debug("Successfully collected %s: %s", description, src)
	return nil
}

func (e *Executor) safeCmdOutput(ctx context.Context, args []string, output, description string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}

	cmdString := strings.Join(args, " ")
	e.logger.Debug("Collecting %s via command: %s > %s", description, cmdString, output)

	// Check if command exists
	if _, err := e.depLookPath(args[0]); err != nil {
		e.incFilesFailed()
		return fmt.Errorf("command not available: %s", args[0])
	}

	if e.config.DryRun {
		e.logger.Debug("[DRY RUN] Would execute command: %s > %s", cmdString, output)
		e.incFilesProcessed()
		return nil
	}

	out, err := e.depRunCommandWithEnv(ctx, e.commandEnv(), args[0], args[1:]...)
	if err != nil {
		e.incFilesFailed()
		return fmt.Errorf("command `%s` failed for %s: %w", cmdString, description, err)
	}

	if err := e.ensureDir(filepath.Dir(output)); err != nil {
		e.incFilesFailed()
		return err
	}
	if err := os.WriteFile(output, out, 0640); err != nil {
		e.incFilesFailed()
		return fmt.Errorf("failed to write output %s: %w", output, err)
	}

	e.incFilesProcessed()
	e.addBytesCollected(int64(len(out)))
	e.logger.Debug("Successfully collected %s via command: %s", description, cmdString)

	return nil
}
