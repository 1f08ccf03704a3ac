package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tis24dev/homesave/internal/backup"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/types"
)

func newRestoreTestLogger() *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(io.Discard)
	return logger
}

// newRestoreTestConfig builds a config over real temp directories with the
// home and destination roots already created.
func newRestoreTestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	t.Setenv(tempRegistryEnvVar, filepath.Join(base, "temp-registry.json"))
	cfg := &config.Config{
		BaseDir:          base,
		HomeDir:          filepath.Join(base, "home"),
		BackupPath:       filepath.Join(base, "backups"),
		RestoreOverwrite: config.RestorePolicyOverwrite,
	}
	for _, dir := range []string{cfg.HomeDir, cfg.BackupPath} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func writeDestFile(t *testing.T, destRoot, name, content string) string {
	t.Helper()
	path := filepath.Join(destRoot, name)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeDestManifest(t *testing.T, destRoot string, manifest *backup.Manifest) {
	t.Helper()
	name := backup.TrimArchiveSuffix(filepath.Base(manifest.ArchivePath))
	if base, _, ok := backup.ParseShardName(filepath.Base(manifest.ArchivePath)); ok {
		name = backup.TrimArchiveSuffix(base)
	}
	path := filepath.Join(destRoot, name+".manifest")
	if err := backup.CreateManifest(context.Background(), newRestoreTestLogger(), manifest, path); err != nil {
		t.Fatal(err)
	}
}

func TestRestoreKindString(t *testing.T) {
	tests := []struct {
		kind RestoreKind
		want string
	}{
		{RestoreKindDirectory, "directory"},
		{RestoreKindSingleArchive, "single archive"},
		{RestoreKindShardSet, "shard set"},
		{RestoreKind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("RestoreKind(%d).String() = %q; want %q", tt.kind, got, tt.want)
		}
	}
}

func TestLocateRestoreSourceShardSet(t *testing.T) {
	destRoot := t.TempDir()
	for _, suffix := range []string{"aa", "ab", "ac"} {
		writeDestFile(t, destRoot, "session.tar.gz."+suffix, "shard-"+suffix)
	}
	// Unrelated entries must not leak into the set.
	writeDestFile(t, destRoot, "other.tar.gz.aa", "other")
	writeDestFile(t, destRoot, "session.tar.gz", "whole")

	// Naming any one shard selects the whole set.
	selection, err := LocateRestoreSource("session.tar.gz.ab", destRoot)
	if err != nil {
		t.Fatalf("LocateRestoreSource: %v", err)
	}
	if selection.Kind != RestoreKindShardSet {
		t.Fatalf("Kind = %v; want shard set", selection.Kind)
	}
	if selection.BaseName != "session.tar.gz" {
		t.Errorf("BaseName = %q; want session.tar.gz", selection.BaseName)
	}
	if len(selection.Shards) != 3 {
		t.Fatalf("found %d shards; want 3", len(selection.Shards))
	}
	for i, suffix := range []string{"aa", "ab", "ac"} {
		want := filepath.Join(destRoot, "session.tar.gz."+suffix)
		if selection.Shards[i] != want {
			t.Errorf("Shards[%d] = %q; want %q", i, selection.Shards[i], want)
		}
	}
	if selection.Path != selection.Shards[0] {
		t.Errorf("Path = %q; want first shard %q", selection.Path, selection.Shards[0])
	}
	if selection.Encrypted() {
		t.Error("plain shard set reported as encrypted")
	}
}

func TestLocateRestoreSourceShardPatternWinsWithoutSiblings(t *testing.T) {
	// The shard-suffix pattern is checked before anything on disk: a name
	// that parses as a shard is classified as a shard set even when no
	// sibling exists. The reassembler rejects the empty set later.
	selection, err := LocateRestoreSource("ghost.tar.gz.aa", t.TempDir())
	if err != nil {
		t.Fatalf("LocateRestoreSource: %v", err)
	}
	if selection.Kind != RestoreKindShardSet {
		t.Fatalf("Kind = %v; want shard set", selection.Kind)
	}
	if len(selection.Shards) != 0 {
		t.Errorf("found %d shards; want none", len(selection.Shards))
	}

	if _, err := ReassembleShards(context.Background(), selection, t.TempDir(), newRestoreTestLogger()); err == nil {
		t.Fatal("ReassembleShards accepted an empty shard set")
	}
}

func TestLocateRestoreSourceDirectory(t *testing.T) {
	destRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(destRoot, "homesave-host-20260820-1000"), 0o700); err != nil {
		t.Fatal(err)
	}

	selection, err := LocateRestoreSource("homesave-host-20260820-1000", destRoot)
	if err != nil {
		t.Fatalf("LocateRestoreSource: %v", err)
	}
	if selection.Kind != RestoreKindDirectory {
		t.Fatalf("Kind = %v; want directory", selection.Kind)
	}
	if selection.Path != filepath.Join(destRoot, "homesave-host-20260820-1000") {
		t.Errorf("Path = %q", selection.Path)
	}
	if selection.Encrypted() {
		t.Error("directory backups are never encrypted")
	}
}

func TestLocateRestoreSourceSingleArchive(t *testing.T) {
	destRoot := t.TempDir()
	tests := []struct {
		name      string
		encrypted bool
	}{
		{"plain.tar.gz", false},
		{"plain.tar.xz", false},
		{"wrapped.tar.gz.age", true},
	}
	for _, tt := range tests {
		writeDestFile(t, destRoot, tt.name, "archive")
		selection, err := LocateRestoreSource(tt.name, destRoot)
		if err != nil {
			t.Fatalf("LocateRestoreSource(%s): %v", tt.name, err)
		}
		if selection.Kind != RestoreKindSingleArchive {
			t.Errorf("%s: Kind = %v; want single archive", tt.name, selection.Kind)
		}
		if got := selection.Encrypted(); got != tt.encrypted {
			t.Errorf("%s: Encrypted() = %v; want %v", tt.name, got, tt.encrypted)
		}
	}
}

func TestLocateRestoreSourceUnknownFormat(t *testing.T) {
	destRoot := t.TempDir()
	writeDestFile(t, destRoot, "notes.txt", "not an archive")

	for _, name := range []string{"notes.txt", "does-not-exist.tar.gz"} {
		_, err := LocateRestoreSource(name, destRoot)
		if !errors.Is(err, ErrFormatUnknown) {
			t.Errorf("LocateRestoreSource(%s) = %v; want ErrFormatUnknown", name, err)
		}
	}

	if _, err := LocateRestoreSource("   ", destRoot); err == nil {
		t.Error("empty selection accepted")
	}
}

func TestRestoreSelectionEncryptedNil(t *testing.T) {
	var selection *RestoreSelection
	if selection.Encrypted() {
		t.Error("nil selection reported as encrypted")
	}
}

func TestListRestoreCandidates(t *testing.T) {
	cfg := newRestoreTestConfig(t)
	logger := newRestoreTestLogger()
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	// Manifest-covered single archive, newest.
	writeDestFile(t, cfg.BackupPath, "alpha.tar.gz", "alpha")
	writeDestManifest(t, cfg.BackupPath, &backup.Manifest{
		ArchivePath: "/sessions/alpha.tar.gz",
		ArchiveMode: string(types.ArchiveModeSingle),
		CreatedAt:   base.Add(5 * time.Hour),
		Hostname:    "host",
	})

	// Manifest-covered encrypted shard set. The manifest names the first
	// shard; the sibling must not be re-listed as an orphan group.
	writeDestFile(t, cfg.BackupPath, "beta.tar.gz.age.aa", "b1")
	writeDestFile(t, cfg.BackupPath, "beta.tar.gz.age.ab", "b2")
	writeDestManifest(t, cfg.BackupPath, &backup.Manifest{
		ArchivePath:    "/sessions/beta.tar.gz.age.aa",
		ArchiveMode:    string(types.ArchiveModeSplit),
		CreatedAt:      base.Add(4 * time.Hour),
		EncryptionMode: "age",
		ShardCount:     2,
		Hostname:       "host",
	})

	// Orphan artifacts carry their file mtime as creation time.
	gamma := writeDestFile(t, cfg.BackupPath, "gamma.tar.xz", "gamma")
	if err := os.Chtimes(gamma, base.Add(3*time.Hour), base.Add(3*time.Hour)); err != nil {
		t.Fatal(err)
	}
	deltaFirst := writeDestFile(t, cfg.BackupPath, "delta.tar.gz.age.aa", "d1")
	writeDestFile(t, cfg.BackupPath, "delta.tar.gz.age.ab", "d2")
	if err := os.Chtimes(deltaFirst, base.Add(2*time.Hour), base.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	epsilon := filepath.Join(cfg.BackupPath, "epsilon-session")
	if err := os.MkdirAll(epsilon, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(epsilon, base.Add(1*time.Hour), base.Add(1*time.Hour)); err != nil {
		t.Fatal(err)
	}

	// Noise that must never be listed: an unfinished session directory, a
	// corrupt manifest, a manifest whose artifact is gone, and sidecars.
	unfinished := filepath.Join(cfg.BackupPath, "unfinished-session")
	if err := os.MkdirAll(unfinished, 0o700); err != nil {
		t.Fatal(err)
	}
	writeDestFile(t, cfg.BackupPath, filepath.Join("unfinished-session", backup.StagingMarkerName), "")
	writeDestFile(t, cfg.BackupPath, "broken.manifest", "{not json")
	writeDestManifest(t, cfg.BackupPath, &backup.Manifest{
		ArchivePath: "/sessions/vanished.tar.gz",
		ArchiveMode: string(types.ArchiveModeSingle),
		CreatedAt:   base.Add(10 * time.Hour),
	})
	writeDestFile(t, cfg.BackupPath, "alpha.tar.gz.sha256", "feed  alpha.tar.gz\n")

	candidates, err := listRestoreCandidates(cfg, logger)
	if err != nil {
		t.Fatalf("listRestoreCandidates: %v", err)
	}

	want := []struct {
		selection string
		display   string
		kind      RestoreKind
		encrypted bool
	}{
		{"alpha.tar.gz", "alpha", RestoreKindSingleArchive, false},
		{"beta.tar.gz.age.aa", "beta", RestoreKindShardSet, true},
		{"gamma.tar.xz", "gamma", RestoreKindSingleArchive, false},
		{"delta.tar.gz.age.aa", "delta", RestoreKindShardSet, true},
		{"epsilon-session", "epsilon-session", RestoreKindDirectory, false},
	}
	if len(candidates) != len(want) {
		names := make([]string, len(candidates))
		for i, cand := range candidates {
			names[i] = cand.SelectionName
		}
		t.Fatalf("listed %d candidates %v; want %d", len(candidates), names, len(want))
	}
	for i, exp := range want {
		cand := candidates[i]
		if cand.SelectionName != exp.selection {
			t.Errorf("candidate %d: SelectionName = %q; want %q", i, cand.SelectionName, exp.selection)
		}
		if cand.DisplayBase != exp.display {
			t.Errorf("candidate %d: DisplayBase = %q; want %q", i, cand.DisplayBase, exp.display)
		}
		if cand.Kind != exp.kind {
			t.Errorf("candidate %d: Kind = %v; want %v", i, cand.Kind, exp.kind)
		}
		if cand.Encrypted != exp.encrypted {
			t.Errorf("candidate %d: Encrypted = %v; want %v", i, cand.Encrypted, exp.encrypted)
		}
	}

	// Manifest-backed candidates carry the manifest; orphans do not.
	if candidates[0].Manifest == nil || candidates[1].Manifest == nil {
		t.Error("manifest-backed candidates lost their manifest")
	}
	if candidates[2].Manifest != nil {
		t.Error("orphan candidate should not carry a manifest")
	}
}

func TestListRestoreCandidatesSelectionRoundTrip(t *testing.T) {
	// Every listed candidate must be locatable by its selection name; that
	// is the contract between the menu and the locator.
	cfg := newRestoreTestConfig(t)
	writeDestFile(t, cfg.BackupPath, "one.tar.gz", "1")
	writeDestFile(t, cfg.BackupPath, "two.tar.gz.aa", "2a")
	writeDestFile(t, cfg.BackupPath, "two.tar.gz.ab", "2b")
	if err := os.MkdirAll(filepath.Join(cfg.BackupPath, "three-session"), 0o700); err != nil {
		t.Fatal(err)
	}

	candidates, err := listRestoreCandidates(cfg, newRestoreTestLogger())
	if err != nil {
		t.Fatalf("listRestoreCandidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("listed %d candidates; want 3", len(candidates))
	}
	for _, cand := range candidates {
		selection, err := LocateRestoreSource(cand.SelectionName, cfg.BackupPath)
		if err != nil {
			t.Errorf("LocateRestoreSource(%s): %v", cand.SelectionName, err)
			continue
		}
		if selection.Kind != cand.Kind {
			t.Errorf("%s: locator kind %v differs from listed kind %v", cand.SelectionName, selection.Kind, cand.Kind)
		}
	}
}

func TestListRestoreCandidatesMissingRoot(t *testing.T) {
	cfg := newRestoreTestConfig(t)
	cfg.BackupPath = filepath.Join(cfg.BaseDir, "never-created")
	if _, err := listRestoreCandidates(cfg, newRestoreTestLogger()); err == nil {
		t.Fatal("expected an error for a missing destination root")
	}
}
