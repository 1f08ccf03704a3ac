package backup

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"filippo.io/age"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/types"
)

var lookPath = exec.LookPath

// Levels outside the algorithm's valid range fall back to this.
const fallbackCompressionLevel = 6

// ArchiverDeps groups the process-spawning hooks the archiver needs. Tests
// inject fakes here to exercise the xz/zstd paths without the binaries.
type ArchiverDeps struct {
	LookPath       func(string) (string, error)
	CommandContext func(context.Context, string, ...string) *exec.Cmd
}

func systemArchiverDeps() ArchiverDeps {
	return ArchiverDeps{LookPath: lookPath, CommandContext: exec.CommandContext}
}

// WithLookPathOverride swaps the package-level lookPath and returns a restore
// function for defer.
func WithLookPathOverride(hook func(string) (string, error)) func() {
	saved := lookPath
	lookPath = hook
	return func() { lookPath = saved }
}

// Archiver turns a staging tree into a single (optionally encrypted) tar
// stream. gzip and plain tar are handled in-process; xz, zstd and bzip2 run
// through their external commands.
type Archiver struct {
	logger *logging.Logger
	deps   ArchiverDeps

	active    types.CompressionType
	requested types.CompressionType
	level     int
	threads   int
	mode      string

	encrypt    bool
	recipients []age.Recipient
	dryRun     bool
}

// ArchiverConfig holds configuration for archive creation.
type ArchiverConfig struct {
	Compression        types.CompressionType
	CompressionLevel   int // 1-9 gzip/bzip2, 0-9 xz, 1-22 zstd
	CompressionMode    string
	CompressionThreads int

	EncryptArchive bool
	AgeRecipients  []age.Recipient
	DryRun         bool
}

// CompressionError wraps a failure of an external compression command.
type CompressionError struct {
	Algorithm string
	Err       error
}

func (ce *CompressionError) Error() string {
	return fmt.Sprintf("%s compression failed: %v", ce.Algorithm, ce.Err)
}

func (ce *CompressionError) Unwrap() error {
	return ce.Err
}

// LevelRange returns the valid compression level interval for an algorithm.
// ok is false for CompressionNone and unknown values.
func LevelRange(comp types.CompressionType) (low, high int, ok bool) {
	switch comp {
	case types.CompressionZstd:
		return 1, 22, true
	case types.CompressionGzip, types.CompressionBzip2:
		return 1, 9, true
	case types.CompressionXZ:
		return 0, 9, true
	default:
		return 0, 0, false
	}
}

// Validate rejects unknown algorithms, out-of-range levels and negative
// thread counts.
func (ac *ArchiverConfig) Validate() error {
	switch ac.Compression {
	case types.CompressionNone, types.CompressionGzip, types.CompressionBzip2, types.CompressionXZ, types.CompressionZstd:
	default:
		return fmt.Errorf("invalid compression type: %s", ac.Compression)
	}
	if low, high, ok := LevelRange(ac.Compression); ok && (ac.CompressionLevel < low || ac.CompressionLevel > high) {
		return fmt.Errorf("%s compression level must be %d-%d, got %d", ac.Compression, low, high, ac.CompressionLevel)
	}
	if ac.CompressionThreads < 0 {
		return fmt.Errorf("compression threads cannot be negative")
	}
	return nil
}

// NewArchiver builds an Archiver from cfg, wired to the real system binaries.
func NewArchiver(logger *logging.Logger, cfg *ArchiverConfig) *Archiver {
	return &Archiver{
		logger:     logger,
		deps:       systemArchiverDeps(),
		active:     cfg.Compression,
		requested:  cfg.Compression,
		level:      cfg.CompressionLevel,
		threads:    cfg.CompressionThreads,
		mode:       normalizeCompressionMode(cfg.CompressionMode),
		encrypt:    cfg.EncryptArchive,
		recipients: slices.Clone(cfg.AgeRecipients),
		dryRun:     cfg.DryRun,
	}
}

// GetDefaultArchiverConfig returns a gzip configuration at the default level.
func GetDefaultArchiverConfig() *ArchiverConfig {
	return &ArchiverConfig{
		Compression:      types.CompressionGzip,
		CompressionLevel: fallbackCompressionLevel,
		CompressionMode:  "standard",
	}
}

func (ar *Archiver) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if ar.deps.CommandContext == nil {
		return exec.CommandContext(ctx, name, args...)
	}
	return ar.deps.CommandContext(ctx, name, args...)
}

func (ar *Archiver) toolPath(name string) (string, error) {
	if ar.deps.LookPath == nil {
		return exec.LookPath(name)
	}
	return ar.deps.LookPath(name)
}

// RequestedCompression returns the algorithm requested via configuration.
func (ar *Archiver) RequestedCompression() types.CompressionType {
	return ar.requested
}

// EffectiveCompression returns the algorithm currently in use.
func (ar *Archiver) EffectiveCompression() types.CompressionType {
	return ar.active
}

// CompressionLevel returns the normalized compression level.
func (ar *Archiver) CompressionLevel() int {
	return ar.level
}

// CompressionMode returns the active mode (fast/standard/maximum/ultra).
func (ar *Archiver) CompressionMode() string {
	if ar.mode != "" {
		return ar.mode
	}
	return "standard"
}

// CompressionThreads returns the requested thread count.
func (ar *Archiver) CompressionThreads() int {
	return ar.threads
}

// ResolveCompression checks that the configured algorithm is usable on this
// host and falls back to gzip when its external command is missing. The
// level is clamped to the resolved algorithm's range.
func (ar *Archiver) ResolveCompression() types.CompressionType {
	ar.logger.Debug("Resolving compression (requested=%s level=%d mode=%s)",
		ar.requested, ar.level, ar.CompressionMode())

	switch ar.active {
	case types.CompressionZstd:
		ar.ensureTool("zstd")
	case types.CompressionXZ:
		ar.ensureTool("xz")
	case types.CompressionBzip2:
		// pbzip2 is preferred but plain bzip2 also serves.
		if _, perr := ar.toolPath("pbzip2"); perr != nil {
			ar.ensureTool("bzip2")
		}
	case types.CompressionGzip, types.CompressionNone:
	default:
		ar.logger.Warning("Unknown compression type %s, using gzip fallback", ar.active)
		ar.active = types.CompressionGzip
	}

	ar.level = clampCompressionLevel(ar.active, ar.level)
	ar.logger.Debug("Compression resolved to %s (level %d, threads %d)", ar.active, ar.level, ar.threads)
	return ar.active
}

// ensureTool downgrades to gzip when the named compressor binary is absent.
func (ar *Archiver) ensureTool(name string) {
	if _, err := ar.toolPath(name); err != nil {
		ar.logger.Warning("%s command not available: %v", name, err)
		ar.active = types.CompressionGzip
	}
}

func clampCompressionLevel(comp types.CompressionType, level int) int {
	if comp == types.CompressionNone {
		return 0
	}
	if low, high, ok := LevelRange(comp); ok && level >= low && level <= high {
		return level
	}
	return fallbackCompressionLevel
}

func normalizeCompressionMode(raw string) string {
	switch m := strings.ToLower(raw); m {
	case "fast", "maximum", "ultra":
		return m
	}
	return "standard"
}

func threadFlag(threads int) string {
	if threads <= 0 {
		return "-T0"
	}
	return fmt.Sprintf("-T%d", threads)
}

func xzArgs(level, threads int, mode string) []string {
	flags := []string{fmt.Sprintf("-%d", level), threadFlag(threads)}
	if mode == "maximum" || mode == "ultra" {
		flags = append(flags, "--extreme")
	}
	return append(flags, "-c")
}

func zstdArgs(level, threads int) []string {
	var flags []string
	if level >= 20 {
		// Levels 20-22 need the ultra flag or zstd refuses them.
		flags = append(flags, "--ultra")
	}
	return append(flags, fmt.Sprintf("-%d", level), threadFlag(threads), "-q", "-c")
}

func (ar *Archiver) bzip2Command(ctx context.Context) *exec.Cmd {
	levelFlag := fmt.Sprintf("-%d", ar.level)
	if ar.threads > 1 {
		if _, err := ar.toolPath("pbzip2"); err == nil {
			return ar.command(ctx, "pbzip2", levelFlag, fmt.Sprintf("-p%d", ar.threads), "-c")
		}
	}
	return ar.command(ctx, "bzip2", levelFlag, "-c")
}

// CreateArchive packs sourceDir into a single archive at outputPath using
// the resolved compression, encrypting the stream when configured.
func (ar *Archiver) CreateArchive(ctx context.Context, sourceDir, outputPath string) error {
	actual := ar.ResolveCompression()
	if actual != ar.requested {
		ar.logger.Warning("Requested compression %s unavailable, using %s instead", ar.requested, actual)
	}

	threadLabel := "auto"
	if ar.threads > 0 {
		threadLabel = strconv.Itoa(ar.threads)
	}
	ar.logger.Info("Creating compressed archive with %s (level %d, mode %s, threads %s)",
		actual, ar.level, ar.CompressionMode(), threadLabel)
	ar.logger.Debug("Creating archive: %s -> %s (compression: %s)", sourceDir, outputPath, actual)

	if ar.dryRun {
		ar.logger.Info("[DRY RUN] Would create archive: %s", outputPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return ar.streamArchive(ctx, sourceDir, outputPath)
}

// wrapEncryption layers the age writer over out when encryption is on. The
// returned seal function finishes the encrypted stream and must be called
// exactly once.
func (ar *Archiver) wrapEncryption(out io.Writer) (io.Writer, func() error, error) {
	if !ar.encrypt {
		return out, nil, nil
	}
	if len(ar.recipients) == 0 {
		return nil, nil, fmt.Errorf("encryption enabled but no AGE recipients configured")
	}
	enc, err := age.Encrypt(out, ar.recipients...)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize age encryption: %w", err)
	}
	ar.logger.Debug("Encrypting archive via age (streaming)")
	return enc, enc.Close, nil
}

// streamArchive assembles the output pipeline (file, optional age layer,
// compressor) and streams the tar through it.
func (ar *Archiver) streamArchive(ctx context.Context, sourceDir, outputPath string) (err error) {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	sink, seal, err := ar.wrapEncryption(out)
	if err != nil {
		return err
	}
	// The age writer must be closed even on failure or the output file ends
	// without the final MAC chunk.
	defer func() {
		if seal == nil {
			return
		}
		closeErr := seal()
		if closeErr == nil {
			return
		}
		if err != nil {
			ar.logger.Warning("Could not finalize encrypted stream: %v", closeErr)
			return
		}
		err = fmt.Errorf("finalize encrypted stream: %w", closeErr)
	}()

	if ar.active != types.CompressionNone {
		ar.logger.Debug("Creating %s archive with level %d (mode %s)", ar.active, ar.level, ar.CompressionMode())
	}
	switch ar.active {
	case types.CompressionNone:
		ar.logger.Debug("Creating uncompressed tar archive")
		if terr := ar.streamTar(ctx, sourceDir, sink); terr != nil {
			return fmt.Errorf("write tar archive: %w", terr)
		}
		return nil
	case types.CompressionGzip:
		gz, gzErr := gzip.NewWriterLevel(sink, ar.level)
		if gzErr != nil {
			return fmt.Errorf("create gzip writer: %w", gzErr)
		}
		if terr := ar.streamTar(ctx, sourceDir, gz); terr != nil {
			_ = gz.Close()
			return fmt.Errorf("write tar stream: %w", terr)
		}
		return gz.Close()
	case types.CompressionZstd:
		proc := ar.command(ctx, "zstd", zstdArgs(ar.level, ar.threads)...)
		return ar.runCompressor(ctx, sourceDir, sink, "zstd", proc)
	case types.CompressionXZ:
		proc := ar.command(ctx, "xz", xzArgs(ar.level, ar.threads, ar.CompressionMode())...)
		return ar.runCompressor(ctx, sourceDir, sink, "xz", proc)
	case types.CompressionBzip2:
		return ar.runCompressor(ctx, sourceDir, sink, "bzip2", ar.bzip2Command(ctx))
	default:
		return fmt.Errorf("unsupported compression type: %s", ar.active)
	}
}

// runCompressor feeds the tar stream into an external compressor whose
// stdout is already pointed at the (possibly encrypted) sink.
func (ar *Archiver) runCompressor(ctx context.Context, sourceDir string, sink io.Writer, algo string, proc *exec.Cmd) error {
	tarR, tarW := io.Pipe()
	proc.Stdin, proc.Stdout = tarR, sink

	stderr, err := proc.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture %s output: %w", algo, err)
	}
	go ar.relayCompressorStderr(algo, stderr)

	if err := proc.Start(); err != nil {
		tarW.Close()
		return fmt.Errorf("start %s: %w", algo, err)
	}

	if terr := ar.streamTar(ctx, sourceDir, tarW); terr != nil {
		tarW.CloseWithError(terr)
		if proc.Process != nil {
			_ = proc.Process.Kill()
		}
		_ = proc.Wait()
		return terr
	}

	tarW.Close()
	if err := proc.Wait(); err != nil {
		return &CompressionError{Algorithm: algo, Err: err}
	}
	ar.logger.Debug("%s compression finished", strings.ToUpper(algo))
	return nil
}

// relayCompressorStderr forwards compressor diagnostics into the session log.
func (ar *Archiver) relayCompressorStderr(algo string, stderr io.Reader) {
	tag := strings.ToUpper(algo)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		ar.logger.Info("[%s] %s", tag, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		ar.logger.Debug("[%s] stderr read error: %v", tag, err)
	}
}

// streamTar walks sourceDir and writes every entry to w as a tar stream.
// Unreadable entries are logged and skipped; the rest of the tree still
// lands in the archive.
func (ar *Archiver) streamTar(ctx context.Context, sourceDir string, w io.Writer) error {
	tw := tar.NewWriter(w)
	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, walkErr error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if walkErr != nil {
			ar.logger.Warning("Error accessing path %s: %v", path, walkErr)
			return nil
		}

		rel, relErr := filepath.Rel(sourceDir, path)
		if relErr != nil {
			return relErr
		}
		// The root itself and the session marker never enter the payload.
		if rel == "." || rel == StagingMarkerName {
			return nil
		}

		return ar.appendTarEntry(tw, path, rel)
	})
	if cerr := tw.Close(); err == nil {
		err = cerr
	}
	return err
}

func (ar *Archiver) appendTarEntry(tw *tar.Writer, path, rel string) error {
	// Lstat so a symlink is archived as a link, not as its target.
	info, err := os.Lstat(path)
	if err != nil {
		ar.logger.Warning("Failed to stat path %s: %v", path, err)
		return nil
	}

	var linkTarget string
	if info.Mode()&os.ModeSymlink != 0 {
		if linkTarget, err = os.Readlink(path); err != nil {
			ar.logger.Warning("Failed to read symlink %s: %v", path, err)
			return nil
		}
	}

	// Open regular files before committing the header: a header without its
	// body would corrupt the stream.
	var body *os.File
	if info.Mode().IsRegular() {
		if body, err = os.Open(path); err != nil {
			ar.logger.Warning("Failed to open file %s: %v", path, err)
			return nil
		}
		defer body.Close()
	}

	header, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		ar.logger.Warning("Failed to create header for %s: %v", path, err)
		return nil
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		header.Uid = int(st.Uid)
		header.Gid = int(st.Gid)
		header.AccessTime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
		header.ChangeTime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
		header.ModTime = time.Unix(st.Mtim.Sec, st.Mtim.Nsec)
	} else {
		ar.logger.Warning("Could not extract uid/gid for %s, using defaults", path)
	}

	// PAX carries atime/ctime; ustar would drop them.
	header.Format = tar.FormatPAX
	header.Name = tarEntryName(rel)

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}

	switch {
	case body != nil:
		if _, err := io.Copy(tw, body); err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}
		ar.logger.Debug("Added file to archive: %s", rel)
	case info.Mode()&os.ModeSymlink != 0:
		ar.logger.Debug("Added symlink to archive: %s -> %s", rel, linkTarget)
	}
	return nil
}

// tarEntryName renders a relative path as a "./"-prefixed slash-separated
// archive entry name.
func tarEntryName(rel string) string {
	name := filepath.ToSlash(rel)
	if !strings.HasPrefix(name, "./") && !strings.HasPrefix(name, "../") {
		name = "./" + name
	}
	return name
}

var archiveExtensions = map[types.CompressionType]string{
	types.CompressionGzip:  ".tar.gz",
	types.CompressionBzip2: ".tar.bz2",
	types.CompressionXZ:    ".tar.xz",
	types.CompressionZstd:  ".tar.zst",
}

// GetArchiveExtension returns the file extension for the active compression,
// including the .age suffix when encryption is enabled.
func (ar *Archiver) GetArchiveExtension() string {
	ext, ok := archiveExtensions[ar.active]
	if !ok {
		ext = ".tar"
	}
	if !ar.encrypt {
		return ext
	}
	return ext + ".age"
}

// CompressionForArchive infers the compression type from an archive file
// name. A trailing .age suffix (streaming encryption) is ignored for the
// purpose of detection. The second return value is false when the name does
// not carry a recognized archive extension.
func CompressionForArchive(name string) (types.CompressionType, bool) {
	name = strings.TrimSuffix(name, ".age")
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return types.CompressionGzip, true
	case strings.HasSuffix(name, ".tar.bz2"):
		return types.CompressionBzip2, true
	case strings.HasSuffix(name, ".tar.xz"):
		return types.CompressionXZ, true
	case strings.HasSuffix(name, ".tar.zst"):
		return types.CompressionZstd, true
	case strings.HasSuffix(name, ".tar"):
		return types.CompressionNone, true
	default:
		return types.CompressionNone, false
	}
}

// TrimArchiveSuffix strips a recognized archive extension, including any .age
// wrapper, from name. Names without a recognized extension are returned
// unchanged, so the session base name of "homesave-h-t.tar.gz.age" and of a
// plain "homesave-h-t" directory come out the same.
func TrimArchiveSuffix(name string) string {
	if !HasArchiveExtension(name) {
		return name
	}
	name = strings.TrimSuffix(name, ".age")
	for _, ext := range []string{".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".tar.zst", ".tar"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

var compressionRatios = map[types.CompressionType]float64{
	types.CompressionGzip:  0.3,
	types.CompressionBzip2: 0.28,
	types.CompressionXZ:    0.2,
	types.CompressionZstd:  0.25,
	types.CompressionNone:  1.0,
}

// EstimateCompressionRatio returns a rough output/input size ratio for the
// active compression, used by disk space estimates.
func (ar *Archiver) EstimateCompressionRatio() float64 {
	if ratio, ok := compressionRatios[ar.active]; ok {
		return ratio
	}
	return 0.5
}

// NewDecompressionReader wraps src with a decompressor for the given
// compression type. gzip and bzip2 decode natively; xz and zstd pipe through
// their external commands. The returned finalize function must be called once
// the stream has been consumed; for external decompressors it reaps the
// process and surfaces its exit error.
func NewDecompressionReader(ctx context.Context, logger *logging.Logger, deps ArchiverDeps, comp types.CompressionType, src io.Reader) (io.Reader, func() error, error) {
	switch comp {
	case types.CompressionNone:
		return src, func() error { return nil }, nil
	case types.CompressionGzip:
		gzReader, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return gzReader, gzReader.Close, nil
	case types.CompressionBzip2:
		return bzip2.NewReader(src), func() error { return nil }, nil
	case types.CompressionZstd:
		return startDecompressor(ctx, logger, deps, src, "zstd", "-dc")
	case types.CompressionXZ:
		return startDecompressor(ctx, logger, deps, src, "xz", "-dc")
	default:
		return nil, nil, fmt.Errorf("unsupported compression type: %s", comp)
	}
}

func startDecompressor(ctx context.Context, logger *logging.Logger, deps ArchiverDeps, src io.Reader, name string, args ...string) (io.Reader, func() error, error) {
	resolve := deps.LookPath
	if resolve == nil {
		resolve = lookPath
	}
	if _, err := resolve(name); err != nil {
		return nil, nil, fmt.Errorf("%s command not available: %w", name, err)
	}

	spawn := deps.CommandContext
	if spawn == nil {
		spawn = exec.CommandContext
	}
	proc := spawn(ctx, name, args...)
	proc.Stdin = src

	var errBuf bytes.Buffer
	proc.Stderr = &errBuf

	outPipe, err := proc.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s stdout: %w", name, err)
	}
	if err := proc.Start(); err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", name, err)
	}
	logger.Debug("Decompressing via %s %s", name, strings.Join(args, " "))

	finalize := func() error {
		// Drain so Wait never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, outPipe)
		if err := proc.Wait(); err != nil {
			if msg := strings.TrimSpace(errBuf.String()); msg != "" {
				return &CompressionError{Algorithm: name, Err: fmt.Errorf("%w (output: %s)", err, msg)}
			}
			return &CompressionError{Algorithm: name, Err: err}
		}
		return nil
	}
	return outPipe, finalize, nil
}

// VerifyArchive re-reads the whole archive through the decompressor and the
// tar decoder, proving the compressed stream and every entry are intact.
func (ar *Archiver) VerifyArchive(ctx context.Context, archivePath string) error {
	ar.logger.Debug("Verifying archive: %s", archivePath)
	if ar.dryRun {
		ar.logger.Info("[DRY RUN] Would verify archive: %s", archivePath)
		return nil
	}

	switch info, err := os.Stat(archivePath); {
	case err != nil:
		return fmt.Errorf("archive not found: %w", err)
	case info.Size() == 0:
		return fmt.Errorf("archive is empty")
	default:
		ar.logger.Debug("Archive size: %d bytes", info.Size())
	}

	if ar.encrypt {
		// With streaming encryption there is no plaintext to inspect here.
		// Checksum verification at higher layers still applies.
		ar.logger.Debug("Archive verification skipped (encrypted archive)")
		return nil
	}

	fh, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer fh.Close()

	stream, finalize, err := NewDecompressionReader(ctx, ar.logger, ar.deps, ar.active, fh)
	if err != nil {
		return fmt.Errorf("open archive stream: %w", err)
	}

	entries, tarErr := scanTarEntries(ctx, stream)
	var drainErr error
	if tarErr == nil {
		// Consume trailing padding so stream checksums are actually checked.
		_, drainErr = io.Copy(io.Discard, stream)
	}
	finErr := finalize()

	switch {
	case tarErr != nil:
		return fmt.Errorf("archive verification failed: %w", tarErr)
	case drainErr != nil:
		return fmt.Errorf("archive verification failed: %w", drainErr)
	case finErr != nil:
		return fmt.Errorf("archive verification failed: %w", finErr)
	case entries == 0:
		return fmt.Errorf("archive contains no entries")
	}

	ar.logger.Debug("Archive verification passed: %d entries, tar structure valid", entries)
	return nil
}

// scanTarEntries walks the tar stream entry by entry, reading every regular
// file body in full.
func scanTarEntries(ctx context.Context, r io.Reader) (int, error) {
	tr := tar.NewReader(r)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, err
		}
		if header.Typeflag == tar.TypeReg {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return count, fmt.Errorf("read %s: %w", header.Name, err)
			}
		}
		count++
	}
	return count, nil
}

// GetArchiveSize reports the on-disk size of archivePath.
func (ar *Archiver) GetArchiveSize(archivePath string) (int64, error) {
	st, err := os.Stat(archivePath)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// FormatDuration renders a duration as seconds, minutes or hours.
func FormatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	if d >= time.Minute {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// FormatBytes renders a byte count in binary units.
func FormatBytes(n int64) string {
	const step = 1024
	if n < step {
		return fmt.Sprintf("%d B", n)
	}
	div := int64(step)
	exp := 0
	for rest := n / step; rest >= step; rest /= step {
		div *= step
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
