package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tis24dev/homesave/internal/types"
)

func TestGenerateChecksum(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	logger := newTestLogger()
	checksum, err := GenerateChecksum(context.Background(), logger, testFile)
	if err != nil {
		t.Fatalf("GenerateChecksum failed: %v", err)
	}

	// sha256 of "hello world"
	expected := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if checksum != expected {
		t.Errorf("checksum = %s; want %s", checksum, expected)
	}
}

func TestGenerateChecksumMissingFile(t *testing.T) {
	logger := newTestLogger()
	_, err := GenerateChecksum(context.Background(), logger, filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("GenerateChecksum should fail on a missing file")
	}
}

func TestGenerateChecksumCancelled(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GenerateChecksum(ctx, newTestLogger(), testFile)
	if err == nil {
		t.Error("GenerateChecksum with cancelled context should fail")
	}
}

func TestWriteChecksumFile(t *testing.T) {
	tempDir := t.TempDir()
	archivePath := filepath.Join(tempDir, "backup.tar.gz")
	checksum := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

	sidecar, err := WriteChecksumFile(newTestLogger(), archivePath, checksum)
	if err != nil {
		t.Fatalf("WriteChecksumFile failed: %v", err)
	}

	if sidecar != archivePath+".sha256" {
		t.Errorf("sidecar path = %s; want %s.sha256", sidecar, archivePath)
	}

	content, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatal(err)
	}
	// sha256sum format: checksum, two spaces, bare file name
	want := checksum + "  backup.tar.gz\n"
	if string(content) != want {
		t.Errorf("sidecar content = %q; want %q", content, want)
	}

	info, err := os.Stat(sidecar)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o640 {
		t.Errorf("sidecar permissions = %o; want 640", perm)
	}
}

func TestVerifyChecksum(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	logger := newTestLogger()
	ctx := context.Background()

	match, err := VerifyChecksum(ctx, logger, testFile, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")
	if err != nil {
		t.Fatalf("VerifyChecksum failed: %v", err)
	}
	if !match {
		t.Error("VerifyChecksum = false for a matching checksum")
	}

	match, err = VerifyChecksum(ctx, logger, testFile, strings.Repeat("0", 64))
	if err != nil {
		t.Fatalf("VerifyChecksum failed: %v", err)
	}
	if match {
		t.Error("VerifyChecksum = true for a wrong checksum")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	manifestPath := filepath.Join(tempDir, "nested", "backup.manifest.json")

	created := time.Now().UTC().Truncate(time.Second)
	manifest := &Manifest{
		ArchivePath:      "/backups/homesave-20260825.tar.gz",
		ArchiveSize:      123456,
		SHA256:           strings.Repeat("ab", 32),
		CreatedAt:        created,
		ArchiveMode:      string(types.ArchiveModeSplit),
		CompressionType:  string(types.CompressionGzip),
		CompressionLevel: 6,
		ShardCount:       3,
		ShardSizeBytes:   60 * 1024 * 1024,
		Categories:       []string{"ssh", "gpg", "shell"},
		Hostname:         "workstation",
		ToolVersion:      "1.0.0",
	}

	if err := CreateManifest(context.Background(), newTestLogger(), manifest, manifestPath); err != nil {
		t.Fatalf("CreateManifest failed: %v", err)
	}

	loaded, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}

	if loaded.ArchivePath != manifest.ArchivePath {
		t.Errorf("ArchivePath = %s; want %s", loaded.ArchivePath, manifest.ArchivePath)
	}
	if loaded.ArchiveSize != manifest.ArchiveSize {
		t.Errorf("ArchiveSize = %d; want %d", loaded.ArchiveSize, manifest.ArchiveSize)
	}
	if loaded.SHA256 != manifest.SHA256 {
		t.Errorf("SHA256 = %s; want %s", loaded.SHA256, manifest.SHA256)
	}
	if !loaded.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v; want %v", loaded.CreatedAt, created)
	}
	if loaded.ShardCount != 3 {
		t.Errorf("ShardCount = %d; want 3", loaded.ShardCount)
	}
	if len(loaded.Categories) != 3 || loaded.Categories[0] != "ssh" {
		t.Errorf("Categories = %v; want [ssh gpg shell]", loaded.Categories)
	}
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.manifest.json"))
	if err == nil {
		t.Error("LoadManifest should fail on a missing file")
	}
}

func TestLoadManifestInvalidJSON(t *testing.T) {
	tempDir := t.TempDir()
	manifestPath := filepath.Join(tempDir, "bad.manifest.json")
	if err := os.WriteFile(manifestPath, []byte("BACKUP_FILE=/x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadManifest(manifestPath)
	if err == nil {
		t.Error("LoadManifest should reject non-JSON content")
	}
}
