package types

import "time"

// ArchiveMode selects what happens to the staging tree once collection ends.
type ArchiveMode string

const (
	ArchiveModeNone   ArchiveMode = "none"   // leave the staging tree as a plain directory
	ArchiveModeSingle ArchiveMode = "single" // one compressed archive
	ArchiveModeSplit  ArchiveMode = "split"  // compressed stream cut into fixed-size shards
)

func (m ArchiveMode) String() string {
	return string(m)
}

// CompressionType names the compressor applied to the archive stream.
type CompressionType string

const (
	CompressionGzip  CompressionType = "gz"
	CompressionBzip2 CompressionType = "bz2"
	CompressionXZ    CompressionType = "xz"
	CompressionZstd  CompressionType = "zst"
	CompressionNone  CompressionType = "none"
)

func (c CompressionType) String() string {
	return string(c)
}

// BackupMetadata is the storage layer's record of a committed session.
type BackupMetadata struct {
	// BackupFile is the full path to the backup artifact: the archive, the
	// first shard, or the staging directory for uncompressed sessions.
	BackupFile string

	// Timestamp is when the backup was created.
	Timestamp time.Time

	// Size is the total artifact size in bytes.
	Size int64

	// Checksum is the SHA256 digest of the artifact.
	Checksum string

	// Compression is the compression type used.
	Compression CompressionType

	// Mode is the archive mode the session used.
	Mode ArchiveMode

	// Version is the backup format version.
	Version string
}

// LogLevel orders message severities. Higher values are chattier; a logger
// configured at level N emits messages with level <= N.
type LogLevel int

const (
	LogLevelNone     LogLevel = 0
	LogLevelCritical LogLevel = 1
	LogLevelError    LogLevel = 2
	LogLevelWarning  LogLevel = 3
	LogLevelInfo     LogLevel = 4
	LogLevelDebug    LogLevel = 5
)

// logLevelNames is indexed by the level value.
var logLevelNames = [...]string{"NONE", "CRITICAL", "ERROR", "WARNING", "INFO", "DEBUG"}

// String returns the uppercase tag used in log lines.
func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(logLevelNames) {
		return "UNKNOWN"
	}
	return logLevelNames[l]
}
