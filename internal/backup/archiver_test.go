package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/types"
)

func TestNewArchiver(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), GetDefaultArchiverConfig())
	if archiver == nil {
		t.Fatal("NewArchiver returned nil")
	}
	if got := archiver.EffectiveCompression(); got != types.CompressionGzip {
		t.Errorf("EffectiveCompression() = %s, want gz", got)
	}
}

func TestGetDefaultArchiverConfig(t *testing.T) {
	config := GetDefaultArchiverConfig()
	if config.Compression != types.CompressionGzip {
		t.Errorf("default compression = %s, want gz", config.Compression)
	}
	if config.CompressionLevel != 6 {
		t.Errorf("default level = %d, want 6", config.CompressionLevel)
	}
	if config.CompressionMode != "standard" {
		t.Errorf("default mode = %q, want standard", config.CompressionMode)
	}
}

func TestArchiverConfigValidate(t *testing.T) {
	tests := []struct {
		config  ArchiverConfig
		wantErr bool
	}{
		{ArchiverConfig{Compression: types.CompressionGzip, CompressionLevel: 6}, false},
		{ArchiverConfig{Compression: types.CompressionXZ, CompressionLevel: 0}, false},
		{ArchiverConfig{Compression: types.CompressionZstd, CompressionLevel: 22}, false},
		{ArchiverConfig{Compression: types.CompressionNone}, false},
		{ArchiverConfig{Compression: types.CompressionType("lz4"), CompressionLevel: 6}, true},
		{ArchiverConfig{Compression: types.CompressionGzip, CompressionLevel: 10}, true},
		{ArchiverConfig{Compression: types.CompressionGzip, CompressionLevel: 0}, true},
		{ArchiverConfig{Compression: types.CompressionZstd, CompressionLevel: 23}, true},
		{ArchiverConfig{Compression: types.CompressionGzip, CompressionLevel: 6, CompressionThreads: -1}, true},
	}

	for _, tt := range tests {
		err := tt.config.Validate()
		if gotErr := err != nil; gotErr != tt.wantErr {
			t.Errorf("Validate(%s level %d threads %d) error = %v, wantErr %v",
				tt.config.Compression, tt.config.CompressionLevel, tt.config.CompressionThreads, err, tt.wantErr)
		}
	}
}

func TestWithLookPathOverrideRestores(t *testing.T) {
	hits := 0
	restore := WithLookPathOverride(func(name string) (string, error) {
		hits++
		return "/fake/bin/" + name, nil
	})
	t.Cleanup(restore)

	if _, err := lookPath("xz"); err != nil {
		t.Fatalf("lookPath with override active: %v", err)
	}
	if hits != 1 {
		t.Fatalf("override hits = %d, want 1", hits)
	}

	restore()

	// After restore the real lookPath runs and the fake stays untouched.
	_, _ = lookPath("no-such-tool-zz")
	if hits != 1 {
		t.Fatalf("override invoked after restore (hits = %d)", hits)
	}
}

func TestResolveCompressionFallsBackToGzip(t *testing.T) {
	restore := WithLookPathOverride(func(name string) (string, error) {
		return "", errors.New("not found")
	})
	t.Cleanup(restore)

	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionXZ,
		CompressionLevel: 9,
	})

	if got := archiver.ResolveCompression(); got != types.CompressionGzip {
		t.Errorf("ResolveCompression() = %s; want gzip fallback", got)
	}
	if archiver.RequestedCompression() != types.CompressionXZ {
		t.Errorf("RequestedCompression() = %s; want xz", archiver.RequestedCompression())
	}
	if archiver.CompressionLevel() != 9 {
		t.Errorf("CompressionLevel() = %d; want 9 (valid for gzip)", archiver.CompressionLevel())
	}
}

func TestClampCompressionLevel(t *testing.T) {
	tests := []struct {
		comp types.CompressionType
		in   int
		want int
	}{
		{types.CompressionNone, 9, 0},
		{types.CompressionType("lz4"), 3, 6},
		{types.CompressionGzip, 5, 5},
		{types.CompressionGzip, 0, 6},
		{types.CompressionGzip, 22, 6},
		{types.CompressionBzip2, 9, 9},
		{types.CompressionXZ, 0, 0},
		{types.CompressionXZ, 10, 6},
		{types.CompressionZstd, 22, 22},
		{types.CompressionZstd, 23, 6},
	}

	for _, tt := range tests {
		if got := clampCompressionLevel(tt.comp, tt.in); got != tt.want {
			t.Errorf("clampCompressionLevel(%s, %d) = %d, want %d", tt.comp, tt.in, got, tt.want)
		}
	}
}

func TestCreateTarArchive(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{Compression: types.CompressionNone})
	tempDir := t.TempDir()

	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(filepath.Join(stage, "ssh"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "ssh", "config"), "Host example")
	writeTestFile(t, filepath.Join(stage, "bashrc"), "alias ll='ls -l'")

	outputPath := filepath.Join(tempDir, "plain.tar")
	if err := archiver.CreateArchive(context.Background(), stage, outputPath); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("archive not created: %v", err)
	}
	if err := verifyTarContent(outputPath, []string{"bashrc", "ssh/config"}); err != nil {
		t.Error(err)
	}
}

func TestCreateGzipArchive(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionGzip,
		CompressionLevel: 6,
	})

	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "file.txt"), "test content")

	outputPath := filepath.Join(tempDir, "out.tar.gz")
	if err := archiver.CreateArchive(context.Background(), stage, outputPath); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	f, err := os.Open(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := gzip.NewReader(f); err != nil {
		t.Errorf("archive is not a valid gzip stream: %v", err)
	}
}

func TestCreateArchiveDryRun(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionGzip,
		CompressionLevel: 6,
		DryRun:           true,
	})

	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "file.txt"), "content")

	outputPath := filepath.Join(tempDir, "out.tar.gz")
	if err := archiver.CreateArchive(context.Background(), stage, outputPath); err != nil {
		t.Fatalf("CreateArchive dry run: %v", err)
	}

	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Error("dry run must not create the archive file")
	}
}

func TestCreateXZArchive(t *testing.T) {
	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "test.txt"), "test content")

	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionXZ,
		CompressionLevel: 6,
	})

	ctx := context.Background()
	outputPath := filepath.Join(tempDir, "out.tar.xz")
	if err := archiver.CreateArchive(ctx, stage, outputPath); err != nil {
		if exec.Command("xz", "--version").Run() != nil {
			t.Skip("xz not available, skipping test")
		}
		t.Fatalf("CreateArchive: %v", err)
	}

	if err := archiver.VerifyArchive(ctx, outputPath); err != nil {
		t.Errorf("VerifyArchive: %v", err)
	}
}

func TestCreateZstdArchive(t *testing.T) {
	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "test.txt"), "test content")

	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionZstd,
		CompressionLevel: 3,
	})

	ctx := context.Background()
	outputPath := filepath.Join(tempDir, "out.tar.zst")
	if err := archiver.CreateArchive(ctx, stage, outputPath); err != nil {
		if exec.Command("zstd", "--version").Run() != nil {
			t.Skip("zstd not available, skipping test")
		}
		t.Fatalf("CreateArchive: %v", err)
	}

	if err := archiver.VerifyArchive(ctx, outputPath); err != nil {
		t.Errorf("VerifyArchive: %v", err)
	}
}

func TestCreateBzip2Archive(t *testing.T) {
	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "test.txt"), "test content")

	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionBzip2,
		CompressionLevel: 6,
	})

	ctx := context.Background()
	outputPath := filepath.Join(tempDir, "out.tar.bz2")
	if err := archiver.CreateArchive(ctx, stage, outputPath); err != nil {
		if exec.Command("bzip2", "--version").Run() != nil {
			t.Skip("bzip2 not available, skipping test")
		}
		t.Fatalf("CreateArchive: %v", err)
	}

	// bzip2 decompression is native, verification needs no external command
	if err := archiver.VerifyArchive(ctx, outputPath); err != nil {
		t.Errorf("VerifyArchive: %v", err)
	}
}

func TestGetArchiveExtension(t *testing.T) {
	tests := []struct {
		comp      types.CompressionType
		encrypted bool
		want      string
	}{
		{types.CompressionGzip, false, ".tar.gz"},
		{types.CompressionGzip, true, ".tar.gz.age"},
		{types.CompressionNone, false, ".tar"},
		{types.CompressionBzip2, false, ".tar.bz2"},
		{types.CompressionXZ, false, ".tar.xz"},
		{types.CompressionZstd, false, ".tar.zst"},
	}

	for _, tt := range tests {
		archiver := NewArchiver(newTestLogger(), &ArchiverConfig{Compression: tt.comp, EncryptArchive: tt.encrypted})
		if got := archiver.GetArchiveExtension(); got != tt.want {
			t.Errorf("GetArchiveExtension(%s, encrypted=%v) = %s, want %s", tt.comp, tt.encrypted, got, tt.want)
		}
	}
}

func TestCompressionForArchive(t *testing.T) {
	tests := []struct {
		name string
		want types.CompressionType
		ok   bool
	}{
		{"backup.tar.gz", types.CompressionGzip, true},
		{"backup.tgz", types.CompressionGzip, true},
		{"backup.tar.xz", types.CompressionXZ, true},
		{"backup.tar.zst", types.CompressionZstd, true},
		{"backup.tar.bz2", types.CompressionBzip2, true},
		{"backup.tar", types.CompressionNone, true},
		{"backup.tar.gz.age", types.CompressionGzip, true},
		{"backup.tar.aa", types.CompressionNone, false},
		{"notes.txt", types.CompressionNone, false},
	}

	for _, tt := range tests {
		got, ok := CompressionForArchive(tt.name)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("CompressionForArchive(%q) = (%s, %v), want (%s, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTrimArchiveSuffix(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"homesave-host-20240101-120000.tar.gz", "homesave-host-20240101-120000"},
		{"homesave-host-20240101-120000.tar.zst.age", "homesave-host-20240101-120000"},
		{"homesave-host-20240101-120000.tgz", "homesave-host-20240101-120000"},
		{"homesave-host-20240101-120000", "homesave-host-20240101-120000"},
		{"notes.txt", "notes.txt"},
	}

	for _, tt := range tests {
		if got := TrimArchiveSuffix(tt.name); got != tt.want {
			t.Errorf("TrimArchiveSuffix(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestEstimateCompressionRatio(t *testing.T) {
	tests := []struct {
		comp types.CompressionType
		lo   float64
		hi   float64
	}{
		{types.CompressionGzip, 0.2, 0.4},
		{types.CompressionZstd, 0.2, 0.35},
		{types.CompressionXZ, 0.1, 0.3},
		{types.CompressionNone, 1.0, 1.0},
	}

	for _, tt := range tests {
		archiver := NewArchiver(newTestLogger(), &ArchiverConfig{Compression: tt.comp})
		if ratio := archiver.EstimateCompressionRatio(); ratio < tt.lo || ratio > tt.hi {
			t.Errorf("EstimateCompressionRatio(%s) = %.2f, want within [%.2f, %.2f]", tt.comp, ratio, tt.lo, tt.hi)
		}
	}
}

func TestVerifyArchiveGzipRoundTrip(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionGzip,
		CompressionLevel: 6,
	})

	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(filepath.Join(stage, "gpg"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "gpg", "public-keys.asc"), "-----BEGIN PGP PUBLIC KEY BLOCK-----")

	outputPath := filepath.Join(tempDir, "backup.tar.gz")
	ctx := context.Background()

	if err := archiver.CreateArchive(ctx, stage, outputPath); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}
	if err := archiver.VerifyArchive(ctx, outputPath); err != nil {
		t.Errorf("VerifyArchive on a valid archive: %v", err)
	}
}

func TestVerifyArchiveRejectsCorruptData(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionGzip,
		CompressionLevel: 6,
	})

	outputPath := filepath.Join(t.TempDir(), "broken.tar.gz")
	writeTestFile(t, outputPath, "this is not a gzip stream")

	if err := archiver.VerifyArchive(context.Background(), outputPath); err == nil {
		t.Error("VerifyArchive should fail on corrupt data")
	}
}

func TestVerifyArchiveRejectsTruncated(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionGzip,
		CompressionLevel: 6,
	})

	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	// Enough content that truncating the stream cuts real data
	if err := os.WriteFile(filepath.Join(stage, "blob.bin"), make([]byte, 256*1024), 0o644); err != nil {
		t.Fatal(err)
	}

	outputPath := filepath.Join(tempDir, "trunc.tar.gz")
	ctx := context.Background()
	if err := archiver.CreateArchive(ctx, stage, outputPath); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(outputPath, info.Size()/2); err != nil {
		t.Fatal(err)
	}

	if err := archiver.VerifyArchive(ctx, outputPath); err == nil {
		t.Error("VerifyArchive should fail on a truncated archive")
	}
}

func TestVerifyArchiveEmptyFile(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), GetDefaultArchiverConfig())

	outputPath := filepath.Join(t.TempDir(), "empty.tar.gz")
	if err := os.WriteFile(outputPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	err := archiver.VerifyArchive(context.Background(), outputPath)
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("VerifyArchive on empty file = %v, want empty archive error", err)
	}
}

func TestVerifyArchiveMissingFile(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), GetDefaultArchiverConfig())

	err := archiver.VerifyArchive(context.Background(), filepath.Join(t.TempDir(), "missing.tar.gz"))
	if err == nil {
		t.Error("VerifyArchive should fail on a missing archive")
	}
}

func TestEncryptedArchiveRoundTrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}

	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionGzip,
		CompressionLevel: 6,
		EncryptArchive:   true,
		AgeRecipients:    []age.Recipient{identity.Recipient()},
	})

	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "secret.txt"), "top secret")

	outputPath := filepath.Join(tempDir, "backup.tar.gz.age")
	ctx := context.Background()

	if err := archiver.CreateArchive(ctx, stage, outputPath); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	// Encrypted archives skip tar-level verification but still pass
	if err := archiver.VerifyArchive(ctx, outputPath); err != nil {
		t.Fatalf("VerifyArchive on encrypted archive: %v", err)
	}

	// Decrypt manually and prove the plaintext is a valid gzip tar
	encFile, err := os.Open(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	defer encFile.Close()

	plain, err := age.Decrypt(encFile, identity)
	if err != nil {
		t.Fatalf("age.Decrypt: %v", err)
	}
	gzReader, err := gzip.NewReader(plain)
	if err != nil {
		t.Fatalf("decrypted stream is not gzip: %v", err)
	}

	found := false
	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		if strings.HasSuffix(header.Name, "secret.txt") {
			found = true
		}
	}
	if !found {
		t.Error("decrypted archive does not contain secret.txt")
	}
}

func TestEncryptionWithoutRecipientsFails(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{
		Compression:      types.CompressionGzip,
		CompressionLevel: 6,
		EncryptArchive:   true,
	})

	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "f.txt"), "x")

	err := archiver.CreateArchive(context.Background(), stage, filepath.Join(tempDir, "out.tar.gz.age"))
	if err == nil || !strings.Contains(err.Error(), "recipients") {
		t.Errorf("CreateArchive = %v, want missing recipients error", err)
	}
}

func TestTarStreamPreservesSymlinks(t *testing.T) {
	archiver := NewArchiver(newTestLogger(), &ArchiverConfig{Compression: types.CompressionNone})

	tempDir := t.TempDir()
	stage := filepath.Join(tempDir, "stage")
	if err := os.MkdirAll(stage, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(stage, "target.txt"), "data")
	if err := os.Symlink("target.txt", filepath.Join(stage, "link.txt")); err != nil {
		t.Fatal(err)
	}

	outputPath := filepath.Join(tempDir, "links.tar")
	if err := archiver.CreateArchive(context.Background(), stage, outputPath); err != nil {
		t.Fatalf("CreateArchive: %v", err)
	}

	f, err := os.Open(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	found := false
	tarReader := tar.NewReader(f)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasSuffix(header.Name, "link.txt") {
			continue
		}
		found = true
		if header.Typeflag != tar.TypeSymlink {
			t.Errorf("link.txt archived with typeflag %v, want symlink", header.Typeflag)
		}
		if header.Linkname != "target.txt" {
			t.Errorf("link target = %q, want target.txt", header.Linkname)
		}
	}
	if !found {
		t.Error("symlink entry missing from archive")
	}
}

func TestNewDecompressionReaderGzip(t *testing.T) {
	payload := []byte("compressed payload")

	path := filepath.Join(t.TempDir(), "data.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gzWriter := gzip.NewWriter(f)
	gzWriter.Write(payload)
	gzWriter.Close()
	f.Close()

	src, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	reader, finalize, err := NewDecompressionReader(context.Background(), newTestLogger(), ArchiverDeps{}, types.CompressionGzip, src)
	if err != nil {
		t.Fatalf("NewDecompressionReader: %v", err)
	}
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("decompressed %q, want %q", got, payload)
	}
}

func TestNewDecompressionReaderUnknownType(t *testing.T) {
	_, _, err := NewDecompressionReader(context.Background(), newTestLogger(), ArchiverDeps{}, types.CompressionType("lz4"), strings.NewReader(""))
	if err == nil {
		t.Error("expected error for unsupported compression type")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "0.5s"},
		{30 * time.Second, "30.0s"},
		{90 * time.Second, "1.5m"},
		{45 * time.Minute, "45.0m"},
		{2 * time.Hour, "2.0h"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

func TestFormatBytesBackup(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{1073741824, "1.0 GiB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

// writeTestFile creates a small fixture file, failing the test on error.
func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// verifyTarContent checks that the archive contains every expected entry.
// Entry names are compared with the "./" prefix stripped.
func verifyTarContent(tarPath string, expected []string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()

	seen := make(map[string]bool)
	tr := tar.NewReader(f)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		seen[strings.TrimPrefix(header.Name, "./")] = true
	}

	for _, name := range expected {
		if !seen[strings.TrimPrefix(name, "./")] {
			return fmt.Errorf("missing tar entry: %s", name)
		}
	}
	return nil
}

// newTestLogger returns a silent logger for helper tests.
func newTestLogger() *logging.Logger {
	return logging.New(types.LogLevelError, false)
}
