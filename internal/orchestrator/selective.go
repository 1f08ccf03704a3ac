package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tis24dev/homesave/internal/category"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
)

// SelectiveRestoreConfig is the resolved restore plan shown to the operator
// before any destination file is touched.
type SelectiveRestoreConfig struct {
	BackupName string
	Mode       RestoreMode
	Categories []category.Category
	HomeDir    string
	Overwrite  bool
}

// RestoreReport accumulates the outcome counters of a category restoration.
// Failures on individual sources do not stop the run; they surface here and
// in the session log.
type RestoreReport struct {
	CategoriesRequested int
	CategoriesRestored  int
	CategoriesMissing   int
	FilesRestored       int
	FilesSkipped        int
	FilesFailed         int
	PermissionWarnings  int
	ExportsStaged       int
}

// AnalyzeWorkingTree reports which registry categories are actually present
// in an extracted backup tree. A category counts as present when its subpath
// exists as a non-empty directory.
func AnalyzeWorkingTree(workTree string, registry *category.Registry) ([]category.Category, error) {
	if registry == nil {
		return nil, fmt.Errorf("category registry is required")
	}
	var available []category.Category
	for _, cat := range registry.List() {
		subtree := filepath.Join(workTree, cat.DestSubpath)
		info, err := restoreFS.Stat(subtree)
		if err != nil || !info.IsDir() {
			continue
		}
		entries, err := restoreFS.ReadDir(subtree)
		if err != nil || len(entries) == 0 {
			continue
		}
		if containsCategory(available, cat.Name) {
			continue
		}
		available = append(available, cat)
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("no recognizable categories found in %s", workTree)
	}
	return available, nil
}

func containsCategory(categories []category.Category, name string) bool {
	for _, cat := range categories {
		if cat.Name == name {
			return true
		}
	}
	return false
}

// RestoreCategories copies the selected categories from an extracted working
// tree back to their home destinations. One failing source never aborts the
// run: it is logged, counted, and the remaining sources proceed. Command
// captures (GPG exports) are staged under the base directory instead of being
// written into the home tree.
func RestoreCategories(ctx context.Context, cfg *config.Config, logger *logging.Logger, workTree string, selected []category.Category) (*RestoreReport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	report := &RestoreReport{CategoriesRequested: len(selected)}
	overwrite := cfg.RestoreOverwrite != config.RestorePolicySkip

	for _, cat := range selected {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		subtree := filepath.Join(workTree, cat.DestSubpath)
		if info, err := restoreFS.Stat(subtree); err != nil || !info.IsDir() {
			logger.Warning("Category %s not present in backup, skipping", cat.Name)
			report.CategoriesMissing++
			continue
		}

		logger.Step("Restoring category: %s", cat.Name)
		restoredAny := false
		for _, src := range cat.Sources {
			entry := filepath.Join(subtree, src.ArchiveName())
			if _, err := restoreFS.Lstat(entry); err != nil {
				logger.Debug("Source %s not in backup for category %s", src.ArchiveName(), cat.Name)
				continue
			}

			if src.Kind == category.SourceCommand {
				if err := stageExport(cfg, logger, entry, src, report); err != nil {
					logger.Error("Failed to stage %s export: %v", src.ArchiveName(), err)
					report.FilesFailed++
					continue
				}
				restoredAny = true
				continue
			}

			if err := restoreSource(cfg, logger, entry, src, overwrite, report); err != nil {
				logger.Error("Failed to restore %s: %v", src.Path, err)
				report.FilesFailed++
				continue
			}
			restoredAny = true
		}
		if restoredAny {
			report.CategoriesRestored++
		}
	}

	return report, nil
}

// stageExport places a captured command output (such as a GPG key export)
// under <base>/exports rather than overwriting live state. Importing the
// material is left to the operator.
func stageExport(cfg *config.Config, logger *logging.Logger, entry string, src category.SourcePath, report *RestoreReport) error {
	exportDir := filepath.Join(cfg.BaseDir, "exports")
	if err := restoreFS.MkdirAll(exportDir, 0o700); err != nil {
		return err
	}
	dst := filepath.Join(exportDir, src.OutputName)
	data, err := restoreFS.ReadFile(entry)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o600)
	if src.Permission != nil && !src.Permission.IsSecret {
		mode = src.Permission.OwnerMode
	}
	restoreFS.Remove(dst)
	if err := restoreFS.WriteFile(dst, data, mode); err != nil {
		return err
	}
	logger.Info("Staged %s at %s (import manually, e.g. gpg --import)", src.OutputName, dst)
	report.ExportsStaged++
	return nil
}

func restoreSource(cfg *config.Config, logger *logging.Logger, entry string, src category.SourcePath, overwrite bool, report *RestoreReport) error {
	dst := filepath.Join(cfg.HomeDir, src.Path)

	if !overwrite {
		if _, err := restoreFS.Lstat(dst); err == nil {
			logger.Skip("%s already exists (policy: skip)", src.Path)
			report.FilesSkipped++
			return nil
		}
	}

	parentMode := os.FileMode(0o755)
	if src.Permission != nil && src.Permission.IsSecret {
		parentMode = 0o700
	}
	if err := restoreFS.MkdirAll(filepath.Dir(dst), parentMode); err != nil {
		return fmt.Errorf("create parent for %s: %w", src.Path, err)
	}

	var copied int
	var err error
	switch src.Kind {
	case category.SourceDir:
		// Overwritten directories are replaced wholesale so the restored
		// tree matches the backup byte for byte, with no stale leftovers.
		if err := restoreFS.RemoveAll(dst); err != nil {
			return fmt.Errorf("clear %s: %w", src.Path, err)
		}
		copied, err = copyRestoredTree(entry, dst)
	default:
		restoreFS.Remove(dst)
		err = copyRestoredEntry(entry, dst)
		copied = 1
	}
	if err != nil {
		return err
	}
	report.FilesRestored += copied

	if err := applyPermissionPolicy(dst, src.Permission, src.Kind == category.SourceDir); err != nil {
		logger.Warning("Restored %s but could not repair permissions: %v", src.Path, err)
		report.PermissionWarnings++
	}
	logger.Success("Restored %s", src.Path)
	return nil
}

// copyRestoredEntry copies one file or symlink, preserving the mode recorded
// in the working tree.
func copyRestoredEntry(src, dst string) error {
	info, err := restoreFS.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := restoreFS.Readlink(src)
		if err != nil {
			return err
		}
		restoreFS.Remove(dst)
		return restoreFS.Symlink(target, dst)
	}
	data, err := restoreFS.ReadFile(src)
	if err != nil {
		return err
	}
	return restoreFS.WriteFile(dst, data, info.Mode().Perm())
}

func copyRestoredTree(srcDir, dstDir string) (int, error) {
	info, err := restoreFS.Stat(srcDir)
	if err != nil {
		return 0, err
	}
	if err := restoreFS.MkdirAll(dstDir, info.Mode().Perm()); err != nil {
		return 0, err
	}
	entries, err := restoreFS.ReadDir(srcDir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		srcPath := filepath.Join(srcDir, entry.Name())
		dstPath := filepath.Join(dstDir, entry.Name())
		if entry.IsDir() {
			n, err := copyRestoredTree(srcPath, dstPath)
			count += n
			if err != nil {
				return count, err
			}
			continue
		}
		if err := copyRestoredEntry(srcPath, dstPath); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// applyPermissionPolicy repairs the modes of a restored source. Secret
// directories are locked down recursively (0700 directories, 0600 files);
// everything else at minimum loses world-writable bits, which never survive
// a restore of configuration material.
func applyPermissionPolicy(path string, policy *category.PermissionPolicy, isDir bool) error {
	if policy == nil {
		return clampWorldWritable(path, isDir)
	}
	if policy.IsSecret && isDir {
		return lockdownTree(path)
	}
	mode := policy.OwnerMode
	if mode == 0 {
		mode = 0o600
	}
	return chmodIfReal(path, mode)
}

func lockdownTree(root string) error {
	if err := chmodIfReal(root, 0o700); err != nil {
		return err
	}
	entries, err := restoreFS.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		child := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			if err := lockdownTree(child); err != nil {
				return err
			}
			continue
		}
		if err := chmodIfReal(child, 0o600); err != nil {
			return err
		}
	}
	return nil
}

func clampWorldWritable(path string, isDir bool) error {
	info, err := restoreFS.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	if perm := info.Mode().Perm(); perm&0o002 != 0 {
		if err := restoreFS.Chmod(path, perm&^0o002); err != nil {
			return err
		}
	}
	if !isDir {
		return nil
	}
	entries, err := restoreFS.ReadDir(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := clampWorldWritable(filepath.Join(path, entry.Name()), entry.IsDir()); err != nil {
			return err
		}
	}
	return nil
}

// chmodIfReal applies mode to path unless it is a symlink, which keeps the
// repair from chasing a link to a file outside the restored tree.
func chmodIfReal(path string, mode os.FileMode) error {
	info, err := restoreFS.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	return restoreFS.Chmod(path, mode)
}

