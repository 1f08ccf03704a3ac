package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tis24dev/homesave/internal/backup"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/types"
)

// ErrFormatUnknown reports a restore selection that matches none of the
// supported artifact shapes.
var ErrFormatUnknown = errors.New("unrecognized restore source format")

// RestoreKind tags the shape of a located restore source. It is derived
// exactly once, by LocateRestoreSource; everything downstream switches on
// the tag instead of re-inspecting file names.
type RestoreKind int

const (
	// RestoreKindDirectory is an unarchived session tree.
	RestoreKindDirectory RestoreKind = iota
	// RestoreKindSingleArchive is one compressed archive file.
	RestoreKindSingleArchive
	// RestoreKindShardSet is a split archive: fixed-size shards sharing a
	// base name.
	RestoreKindShardSet
)

// String returns the human-readable name of the kind.
func (k RestoreKind) String() string {
	switch k {
	case RestoreKindDirectory:
		return "directory"
	case RestoreKindSingleArchive:
		return "single archive"
	case RestoreKindShardSet:
		return "shard set"
	default:
		return "unknown"
	}
}

// RestoreSelection is the classified restore source. For shard sets Path is
// the first shard and Shards holds every sibling in suffix order; for the
// other kinds Shards is empty and Path points at the directory or archive.
type RestoreSelection struct {
	Kind     RestoreKind
	Path     string
	BaseName string
	Shards   []string
}

// Encrypted reports whether the selection carries an age-encrypted stream.
// Directories are never encrypted; archives and shard sets are when the
// (reassembled) artifact name ends in .age.
func (s *RestoreSelection) Encrypted() bool {
	if s == nil || s.Kind == RestoreKindDirectory {
		return false
	}
	return strings.HasSuffix(s.BaseName, ".age")
}

// LocateRestoreSource classifies selectionName against the artifacts stored
// in destRoot. Classification order: shard-suffix pattern first (naming any
// one shard selects the whole set), then directory, then single archive.
// Anything else is ErrFormatUnknown.
func LocateRestoreSource(selectionName, destRoot string) (*RestoreSelection, error) {
	name := strings.TrimSpace(filepath.Base(selectionName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("empty restore selection")
	}

	if base, _, ok := backup.ParseShardName(name); ok {
		shards := collectShardSiblings(destRoot, base)
		selection := &RestoreSelection{
			Kind:     RestoreKindShardSet,
			BaseName: base,
			Shards:   shards,
		}
		if len(shards) > 0 {
			selection.Path = shards[0]
		}
		return selection, nil
	}

	full := filepath.Join(destRoot, name)
	if info, err := restoreFS.Stat(full); err == nil {
		if info.IsDir() {
			return &RestoreSelection{
				Kind:     RestoreKindDirectory,
				Path:     full,
				BaseName: name,
			}, nil
		}
		if backup.HasArchiveExtension(name) {
			return &RestoreSelection{
				Kind:     RestoreKindSingleArchive,
				Path:     full,
				BaseName: name,
			}, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", name, ErrFormatUnknown)
}

// collectShardSiblings returns every shard in destRoot whose base archive
// name matches base, sorted lexically by suffix. Missing members are not an
// error here; the reassembler checks the sequence for gaps.
func collectShardSiblings(destRoot, base string) []string {
	entries, err := restoreFS.ReadDir(destRoot)
	if err != nil {
		return nil
	}
	var shards []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		shardBase, _, ok := backup.ParseShardName(entry.Name())
		if !ok || shardBase != base {
			continue
		}
		shards = append(shards, filepath.Join(destRoot, entry.Name()))
	}
	sort.Strings(shards)
	return shards
}

// restoreCandidate is one restorable backup discovered in the destination
// root, as presented in the selection menus.
type restoreCandidate struct {
	// SelectionName feeds LocateRestoreSource: the directory name, archive
	// name, or any one shard name.
	SelectionName string
	// DisplayBase is the session base name without archive extensions.
	DisplayBase string
	Manifest    *backup.Manifest
	CreatedAt   time.Time
	Encrypted   bool
	Kind        RestoreKind
}

// listRestoreCandidates scans the destination root for restorable backups.
// Manifest sidecars are preferred because they carry creation time and
// encryption mode; artifacts without a manifest are still listed from their
// on-disk shape. Session directories that still carry a staging marker are
// skipped, they belong to an unfinished or crashed run.
func listRestoreCandidates(cfg *config.Config, logger *logging.Logger) ([]*restoreCandidate, error) {
	entries, err := restoreFS.ReadDir(cfg.BackupPath)
	if err != nil {
		return nil, fmt.Errorf("read destination root %s: %w", cfg.BackupPath, err)
	}

	var candidates []*restoreCandidate
	claimed := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".manifest") {
			continue
		}
		manifestPath := filepath.Join(cfg.BackupPath, entry.Name())
		manifest, err := backup.LoadManifest(manifestPath)
		if err != nil {
			logger.Warning("Skipping unreadable manifest %s: %v", entry.Name(), err)
			continue
		}
		cand := candidateFromManifest(cfg.BackupPath, manifest)
		if cand == nil {
			logger.Debug("Manifest %s references a missing artifact, skipping", entry.Name())
			continue
		}
		claimed[cand.SelectionName] = true
		claimed[cand.DisplayBase] = true
		// A split manifest names one shard; claim the shared base so the
		// sibling shards are not re-listed as an orphan group below.
		if base, _, ok := backup.ParseShardName(cand.SelectionName); ok {
			claimed[base] = true
		}
		candidates = append(candidates, cand)
	}

	// Artifacts with no manifest: plain session directories, bare archives,
	// and shard groups.
	shardGroups := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if claimed[name] {
				continue
			}
			if hasStagingMarker(filepath.Join(cfg.BackupPath, name)) {
				logger.Debug("Skipping unfinished session directory %s", name)
				continue
			}
			candidates = append(candidates, orphanCandidate(cfg.BackupPath, name, RestoreKindDirectory, entry))
			continue
		}
		if strings.HasSuffix(name, ".manifest") || strings.HasSuffix(name, ".sha256") {
			continue
		}
		if base, suffix, ok := backup.ParseShardName(name); ok {
			if claimed[name] || claimed[base] {
				continue
			}
			if existing, seen := shardGroups[base]; !seen || suffix < existing {
				shardGroups[base] = suffix
			}
			continue
		}
		if backup.HasArchiveExtension(name) {
			if claimed[name] {
				continue
			}
			candidates = append(candidates, orphanCandidate(cfg.BackupPath, name, RestoreKindSingleArchive, entry))
		}
	}
	for base, suffix := range shardGroups {
		shardName := base + "." + suffix
		for _, entry := range entries {
			if entry.Name() != shardName {
				continue
			}
			cand := orphanCandidate(cfg.BackupPath, shardName, RestoreKindShardSet, entry)
			cand.DisplayBase = backup.TrimArchiveSuffix(base)
			cand.Encrypted = strings.HasSuffix(base, ".age")
			candidates = append(candidates, cand)
			break
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates, nil
}

func candidateFromManifest(destRoot string, manifest *backup.Manifest) *restoreCandidate {
	artifactName := filepath.Base(manifest.ArchivePath)
	if artifactName == "" || artifactName == "." {
		return nil
	}
	if _, err := restoreFS.Stat(filepath.Join(destRoot, artifactName)); err != nil {
		return nil
	}
	kind := RestoreKindDirectory
	switch manifest.ArchiveMode {
	case string(types.ArchiveModeSingle):
		kind = RestoreKindSingleArchive
	case string(types.ArchiveModeSplit):
		kind = RestoreKindShardSet
	}
	display := backup.TrimArchiveSuffix(artifactName)
	if base, _, ok := backup.ParseShardName(artifactName); ok {
		display = backup.TrimArchiveSuffix(base)
	}
	return &restoreCandidate{
		SelectionName: artifactName,
		DisplayBase:   display,
		Manifest:      manifest,
		CreatedAt:     manifest.CreatedAt,
		Encrypted:     strings.EqualFold(manifest.EncryptionMode, "age"),
		Kind:          kind,
	}
}

func orphanCandidate(destRoot, name string, kind RestoreKind, entry fs.DirEntry) *restoreCandidate {
	created := time.Time{}
	if info, err := entry.Info(); err == nil {
		created = info.ModTime()
	}
	return &restoreCandidate{
		SelectionName: name,
		DisplayBase:   backup.TrimArchiveSuffix(name),
		CreatedAt:     created,
		Encrypted:     strings.HasSuffix(name, ".age"),
		Kind:          kind,
	}
}

func hasStagingMarker(dir string) bool {
	_, err := restoreFS.Stat(filepath.Join(dir, backup.StagingMarkerName))
	return err == nil
}
