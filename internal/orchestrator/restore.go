package orchestrator

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tis24dev/homesave/internal/category"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
)

// ErrRestoreAborted is returned when the operator backs out of the restore
// workflow before any destination file has been touched. Callers treat it as
// a clean exit, not a failure.
var ErrRestoreAborted = errors.New("restore aborted by user")

// RunRestoreWorkflow drives an interactive restore on the terminal: pick a
// backup, reassemble and decrypt it if needed, choose categories, confirm,
// then copy the selected material back into the home tree.
func RunRestoreWorkflow(ctx context.Context, cfg *config.Config, logger *logging.Logger, registry *category.Registry) error {
	ui := newCLIWorkflowUI(nil, logger)
	return runRestoreWorkflowWithUI(ctx, cfg, logger, registry, ui)
}

// RunRestoreWorkflowTUI is the tview-based variant of RunRestoreWorkflow.
func RunRestoreWorkflowTUI(ctx context.Context, cfg *config.Config, logger *logging.Logger, registry *category.Registry, buildSig string) error {
	configPath := ""
	if cfg != nil {
		configPath = cfg.ConfigPath
	}
	ui := newTUIRestoreWorkflowUI(configPath, buildSig, logger)
	return runRestoreWorkflowWithUI(ctx, cfg, logger, registry, ui)
}

func runRestoreWorkflowWithUI(ctx context.Context, cfg *config.Config, logger *logging.Logger, registry *category.Registry, ui RestoreWorkflowUI) error {
	if cfg == nil {
		return fmt.Errorf("configuration is required")
	}
	if registry == nil {
		registry = category.DefaultRegistry(category.Options{AppConfigDirs: cfg.AppConfigDirs})
	}

	done := logging.DebugStart(logger, "restore", "Starting restore workflow against %s", cfg.BackupPath)
	var workErr error
	defer func() { done(workErr) }()

	candidates, err := listRestoreCandidates(cfg, logger)
	if err != nil {
		workErr = err
		return err
	}
	if len(candidates) == 0 {
		workErr = fmt.Errorf("no restorable backups found in %s", cfg.BackupPath)
		return workErr
	}

	cand, err := ui.SelectBackupCandidate(ctx, candidates)
	if err != nil {
		workErr = asRestoreAbort(err)
		return workErr
	}

	selection, err := LocateRestoreSource(cand.SelectionName, cfg.BackupPath)
	if err != nil {
		workErr = err
		return err
	}
	logger.Info("Selected backup %s (%s)", cand.DisplayBase, selection.Kind)

	workDir, cleanup, err := newRestoreWorkDir(logger)
	if err != nil {
		workErr = err
		return err
	}
	defer cleanup()

	workTree, err := prepareWorkingTree(ctx, cfg, logger, ui, cand, selection, workDir)
	if err != nil {
		workErr = asRestoreAbort(err)
		return workErr
	}

	available, err := AnalyzeWorkingTree(workTree, registry)
	if err != nil {
		workErr = err
		return err
	}
	logging.DebugStep(logger, "restore", "Working tree offers %d categor(ies)", len(available))

	var mode RestoreMode
	var selected []category.Category
	for {
		mode, err = ui.SelectRestoreMode(ctx)
		if err != nil {
			workErr = asRestoreAbort(err)
			return workErr
		}

		if mode != RestoreModeCustom {
			selected = available
			break
		}

		selected, err = ui.SelectCategories(ctx, available)
		if err != nil {
			if errors.Is(err, errRestoreBackToMode) {
				// Operator chose "Back": re-open restore mode selection.
				continue
			}
			workErr = asRestoreAbort(err)
			return workErr
		}
		break
	}

	plan := &SelectiveRestoreConfig{
		BackupName: cand.DisplayBase,
		Mode:       mode,
		Categories: selected,
		HomeDir:    cfg.HomeDir,
		Overwrite:  cfg.RestoreOverwrite != config.RestorePolicySkip,
	}
	if err := ui.ShowRestorePlan(ctx, plan); err != nil {
		workErr = asRestoreAbort(err)
		return workErr
	}
	ok, err := ui.ConfirmRestore(ctx)
	if err != nil {
		workErr = asRestoreAbort(err)
		return workErr
	}
	if !ok {
		logger.Info("Restore cancelled before any file was modified")
		workErr = ErrRestoreAborted
		return workErr
	}

	logger.Phase("Restoring %d categor(ies) to %s", len(selected), cfg.HomeDir)
	report, err := RestoreCategories(ctx, cfg, logger, workTree, selected)
	if err != nil {
		workErr = err
		return err
	}
	logRestoreSummary(logger, report)
	return nil
}

// asRestoreAbort folds the decrypt-side abort sentinel into the restore one
// so callers only have to recognize a single clean-exit error.
func asRestoreAbort(err error) error {
	if errors.Is(err, ErrDecryptAborted) {
		return ErrRestoreAborted
	}
	return err
}

// newRestoreWorkDir creates the session scratch directory, registers it for
// orphan cleanup, and returns a cleanup function that unwinds both.
func newRestoreWorkDir(logger *logging.Logger) (string, func(), error) {
	base := filepath.Join(os.TempDir(), "homesave")
	if err := restoreFS.MkdirAll(base, 0o700); err != nil {
		return "", nil, fmt.Errorf("create work directory base: %w", err)
	}
	workDir, err := restoreFS.MkdirTemp(base, "restore-*")
	if err != nil {
		return "", nil, fmt.Errorf("create work directory: %w", err)
	}

	registry := newTempDirRegistry()
	if err := registry.Register(workDir); err != nil {
		logger.Debug("Could not register work directory %s: %v", workDir, err)
	}
	cleanup := func() {
		if err := restoreFS.RemoveAll(workDir); err != nil {
			logger.Warning("Could not remove work directory %s: %v", workDir, err)
		}
		if err := registry.Deregister(workDir); err != nil {
			logger.Debug("Could not deregister work directory %s: %v", workDir, err)
		}
	}
	return workDir, cleanup, nil
}

// prepareWorkingTree turns the located source into a directory laid out in
// category subpaths: directory backups are used in place, archives are
// reassembled, checksum-verified, decrypted, and extracted into the session
// work directory. Nothing under the home tree is touched here.
func prepareWorkingTree(ctx context.Context, cfg *config.Config, logger *logging.Logger, ui RestoreWorkflowUI, cand *restoreCandidate, selection *RestoreSelection, workDir string) (string, error) {
	if selection.Kind == RestoreKindDirectory {
		logger.Info("Directory backup, restoring directly from %s", selection.Path)
		return selection.Path, nil
	}

	artifact := selection.Path
	if selection.Kind == RestoreKindShardSet {
		logger.Phase("Reassembling %d shard(s) of %s", len(selection.Shards), selection.BaseName)
		reassembled, err := ReassembleShards(ctx, selection, workDir, logger)
		if err != nil {
			return "", err
		}
		artifact = reassembled
	}

	if _, err := verifyArtifactChecksum(ctx, logger, cfg.BackupPath, selection.BaseName, artifact); err != nil {
		if selection.Kind == RestoreKindShardSet {
			return "", &ReassemblyError{Err: err}
		}
		return "", err
	}

	if selection.Encrypted() {
		plainName := strings.TrimSuffix(selection.BaseName, ".age")
		plainPath := filepath.Join(workDir, plainName)
		if err := decryptArchiveWithSecretPrompt(ctx, ui, logger, cand.DisplayBase, artifact, plainPath); err != nil {
			return "", err
		}
		artifact = plainPath
	}

	workTree := filepath.Join(workDir, "tree")
	if err := restoreFS.MkdirAll(workTree, 0o700); err != nil {
		return "", fmt.Errorf("create extraction directory: %w", err)
	}
	logger.Phase("Extracting %s", filepath.Base(artifact))
	if err := unpackArchive(ctx, logger, artifact, workTree); err != nil {
		return "", err
	}
	return workTree, nil
}

func logRestoreSummary(logger *logging.Logger, report *RestoreReport) {
	logger.Info("Categories restored: %d of %d requested (%d not in backup)",
		report.CategoriesRestored, report.CategoriesRequested, report.CategoriesMissing)
	logger.Info("Files restored: %d, skipped: %d", report.FilesRestored, report.FilesSkipped)
	if report.ExportsStaged > 0 {
		logger.Info("Exports staged for manual import: %d", report.ExportsStaged)
	}
	if report.PermissionWarnings > 0 {
		logger.Warning("Permission repair incomplete on %d item(s), review the log", report.PermissionWarnings)
	}
	if report.FilesFailed > 0 {
		logger.Warning("Restore finished with %d failed item(s), review the log", report.FilesFailed)
	} else {
		logger.Success("Restore completed")
	}
}

// unpackArchive walks a tar stream and places every entry under destRoot,
// keeping modes, ownership where permitted, and timestamps. A bad entry is
// logged and skipped so one unreadable file cannot sink the whole restore.
func unpackArchive(ctx context.Context, logger *logging.Logger, archivePath, destRoot string) error {
	file, err := restoreFS.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	src, err := newDecompressReader(ctx, file, archivePath)
	if err != nil {
		return fmt.Errorf("create decompression reader: %w", err)
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	var placed, failed int
	tr := tar.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if err := placeTarEntry(tr, header, destRoot, logger); err != nil {
			logger.Warning("Failed to extract %s: %v", header.Name, err)
			failed++
			continue
		}
		if placed++; placed%100 == 0 {
			logger.Debug("Extracted %d files...", placed)
		}
	}

	if failed > 0 {
		logger.Warning("Extracted %d entries; %d item(s) failed (see log)", placed, failed)
		return nil
	}
	logger.Info("Extracted %d entries from %s", placed, filepath.Base(archivePath))
	return nil
}

// newDecompressReader picks the decompressor by file extension. Gzip is
// handled natively; the other formats stream through their system tools.
func newDecompressReader(ctx context.Context, file *os.File, archivePath string) (io.Reader, error) {
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return gzip.NewReader(file)
	case strings.HasSuffix(archivePath, ".tar"):
		return file, nil
	}

	for _, tool := range []struct {
		suffixes []string
		name     string
	}{
		{[]string{".tar.xz"}, "xz"},
		{[]string{".tar.zst", ".tar.zstd"}, "zstd"},
		{[]string{".tar.bz2"}, "bzip2"},
	} {
		for _, suffix := range tool.suffixes {
			if strings.HasSuffix(archivePath, suffix) {
				return newToolReader(ctx, tool.name, file)
			}
		}
	}
	return nil, fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
}

// newToolReader starts a stdin-to-stdout decompressor and exposes its stdout
// as a ReadCloser whose Close also reaps the process.
func newToolReader(ctx context.Context, tool string, stdin io.Reader) (io.Reader, error) {
	cmd := exec.CommandContext(ctx, tool, "-d", "-c")
	cmd.Stdin = stdin
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create %s pipe: %w", tool, err)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		return nil, fmt.Errorf("start %s: %w", tool, err)
	}
	return &processReader{ReadCloser: stdout, wait: cmd.Wait}, nil
}

type processReader struct {
	io.ReadCloser
	wait func() error
}

func (p *processReader) Close() error {
	closeErr := p.ReadCloser.Close()
	if p.wait != nil {
		if waitErr := p.wait(); closeErr == nil {
			closeErr = waitErr
		}
	}
	return closeErr
}

// safeEntryTarget maps an archive entry name onto a path under destRoot,
// rejecting names that would land outside it.
func safeEntryTarget(destRoot, entryName string) (string, string, error) {
	root := filepath.Clean(destRoot)
	if root == "" {
		root = string(os.PathSeparator)
	}

	name := strings.TrimLeft(path.Clean(strings.TrimSpace(entryName)), "/")
	switch {
	case name == "" || name == ".":
		return "", "", fmt.Errorf("invalid archive entry name: %q", entryName)
	case name == ".." || strings.HasPrefix(name, "../") || strings.Contains(name, "/../"):
		return "", "", fmt.Errorf("illegal path: %s", entryName)
	}

	target, err := resolveWithinRoot(root, name)
	if err != nil {
		return "", "", fmt.Errorf("illegal path: %s: %w", entryName, err)
	}
	return target, root, nil
}

func escapesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// resolveWithinRoot joins rel onto root and verifies the result cannot land
// outside root, first lexically, then by chasing symlinks among the path
// components that already exist on disk.
func resolveWithinRoot(root, rel string) (string, error) {
	target := filepath.Join(root, rel)

	relPath, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if escapesRoot(relPath) {
		return "", fmt.Errorf("path escapes root: %s", rel)
	}

	current := root
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if part == "" {
			continue
		}
		current = filepath.Join(current, part)
		info, err := restoreFS.Lstat(current)
		if err != nil {
			// Components past this point do not exist yet; the lexical
			// check above already covers them.
			break
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		resolved, err := resolveLink(current)
		if err != nil {
			return "", err
		}
		if relLink, err := filepath.Rel(root, resolved); err != nil || escapesRoot(relLink) {
			return "", fmt.Errorf("symlinked component escapes root: %s", current)
		}
		current = resolved
	}

	return target, nil
}

func resolveLink(linkPath string) (string, error) {
	dest, err := restoreFS.Readlink(linkPath)
	if err != nil {
		return "", fmt.Errorf("read symlink %s: %w", linkPath, err)
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(linkPath), dest)
	}
	return filepath.Clean(dest), nil
}

func placeTarEntry(tr *tar.Reader, header *tar.Header, destRoot string, logger *logging.Logger) error {
	target, root, err := safeEntryTarget(destRoot, header.Name)
	if err != nil {
		return err
	}
	if err := restoreFS.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return placeDirectory(target, header, logger)
	case tar.TypeReg:
		return placeFile(tr, target, header, logger)
	case tar.TypeSymlink:
		return placeSymlink(target, header, root, logger)
	case tar.TypeLink:
		return placeHardlink(target, header, root)
	default:
		logger.Debug("Skipping unsupported tar entry type %d: %s", header.Typeflag, header.Name)
		return nil
	}
}

// applyEntryAttrs restores ownership, mode and timestamps on a placed entry.
// Chown and timestamp failures are logged and tolerated; a chmod failure is
// returned so key material never keeps the staging permissions.
func applyEntryAttrs(target string, header *tar.Header, logger *logging.Logger) error {
	if err := os.Chown(target, header.Uid, header.Gid); err != nil {
		logger.Debug("Failed to chown %s: %v", target, err)
	}
	if err := restoreFS.Chmod(target, os.FileMode(header.Mode)); err != nil {
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	if err := setEntryTimes(target, header); err != nil {
		logger.Debug("Failed to set timestamps on %s: %v", target, err)
	}
	return nil
}

func placeDirectory(target string, header *tar.Header, logger *logging.Logger) error {
	if err := restoreFS.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return applyEntryAttrs(target, header, logger)
}

func placeFile(tr *tar.Reader, target string, header *tar.Header, logger *logging.Logger) error {
	_ = restoreFS.Remove(target)

	out, err := restoreFS.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, tr); err != nil {
		out.Close()
		return fmt.Errorf("write file content: %w", err)
	}
	// Attributes go on after the handle is closed.
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return applyEntryAttrs(target, header, logger)
}

func placeSymlink(target string, header *tar.Header, destRoot string, logger *logging.Logger) error {
	dest := header.Linkname
	if filepath.IsAbs(dest) {
		return fmt.Errorf("absolute symlink target not allowed: %s", dest)
	}

	relTarget, err := filepath.Rel(destRoot, target)
	if err != nil {
		return fmt.Errorf("determine relative path for symlink %s: %w", target, err)
	}
	if escapesRoot(relTarget) {
		return fmt.Errorf("symlink path escapes root: %s", target)
	}

	// The link destination is relative to the link's own directory.
	linkDir := path.Dir(path.Clean(filepath.ToSlash(relTarget)))
	if linkDir == "." {
		linkDir = ""
	}
	if _, err := resolveWithinRoot(destRoot, filepath.FromSlash(path.Join(linkDir, dest))); err != nil {
		return fmt.Errorf("symlink target escapes root: %s -> %s: %w", header.Name, dest, err)
	}

	_ = restoreFS.Remove(target)
	if err := restoreFS.Symlink(dest, target); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	if err := verifyPlacedLink(target, destRoot); err != nil {
		restoreFS.Remove(target)
		return fmt.Errorf("symlink %s -> %s: %w", header.Name, dest, err)
	}

	if err := os.Lchown(target, header.Uid, header.Gid); err != nil {
		logger.Debug("Failed to lchown symlink %s: %v", target, err)
	}
	return nil
}

// verifyPlacedLink re-reads a just-created link and confirms it still
// resolves inside destRoot before it is left in place.
func verifyPlacedLink(target, destRoot string) error {
	actual, err := restoreFS.Readlink(target)
	if err != nil {
		return fmt.Errorf("read created symlink: %w", err)
	}

	absRoot, err := filepath.Abs(destRoot)
	if err != nil {
		return fmt.Errorf("resolve destination root: %w", err)
	}
	absDest, err := filepath.Abs(filepath.Join(filepath.Dir(target), actual))
	if err != nil {
		return fmt.Errorf("resolve symlink target: %w", err)
	}
	if rel, err := filepath.Rel(absRoot, absDest); err != nil || escapesRoot(rel) {
		return fmt.Errorf("target resolves outside root (%s)", absDest)
	}
	return nil
}

func placeHardlink(target string, header *tar.Header, destRoot string) error {
	name := header.Linkname
	if filepath.IsAbs(name) {
		return fmt.Errorf("absolute hardlink target not allowed: %s", name)
	}
	if _, err := resolveWithinRoot(destRoot, name); err != nil {
		return fmt.Errorf("hardlink target escapes root: %s -> %s: %w", header.Name, name, err)
	}

	_ = restoreFS.Remove(target)
	if err := os.Link(filepath.Join(destRoot, name), target); err != nil {
		return fmt.Errorf("create hardlink: %w", err)
	}
	return nil
}

// setEntryTimes restores atime and mtime with nanosecond precision. ctime is
// kernel-managed and cannot be set from user space.
func setEntryTimes(target string, header *tar.Header) error {
	times := []syscall.Timespec{
		{Sec: header.AccessTime.Unix(), Nsec: int64(header.AccessTime.Nanosecond())},
		{Sec: header.ModTime.Unix(), Nsec: int64(header.ModTime.Nanosecond())},
	}
	if err := syscall.UtimesNano(target, times); err != nil {
		return fmt.Errorf("set atime/mtime: %w", err)
	}
	return nil
}
