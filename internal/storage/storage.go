// Package storage manages the local backup destination: filesystem
// capability detection, artifact listing, and count-based retention.
package storage

import (
	"fmt"
	"time"
)

// FilesystemType identifies the filesystem backing the backup destination.
type FilesystemType string

// Known filesystem types, as normalized from the mount table. Behavior per
// type lives in filesystemTraits; the names here carry no semantics beyond
// identity.
const (
	FilesystemBtrfs    FilesystemType = "btrfs"
	FilesystemCIFS     FilesystemType = "cifs"
	FilesystemExFAT    FilesystemType = "exfat"
	FilesystemExt2     FilesystemType = "ext2"
	FilesystemExt3     FilesystemType = "ext3"
	FilesystemExt4     FilesystemType = "ext4"
	FilesystemFAT      FilesystemType = "fat"
	FilesystemFAT32    FilesystemType = "vfat"
	FilesystemFUSE     FilesystemType = "fuse"
	FilesystemJFS      FilesystemType = "jfs"
	FilesystemNFS      FilesystemType = "nfs"
	FilesystemNFS4     FilesystemType = "nfs4"
	FilesystemNTFS     FilesystemType = "ntfs"
	FilesystemReiserFS FilesystemType = "reiserfs"
	FilesystemSMB      FilesystemType = "smb"
	FilesystemXFS      FilesystemType = "xfs"
	FilesystemZFS      FilesystemType = "zfs"
	FilesystemUnknown  FilesystemType = "unknown"
)

// fsTraits captures how a filesystem behaves for backup purposes. The zero
// value (no ownership, local, not excluded) covers unknown types.
type fsTraits struct {
	ownership bool
	network   bool
	exclude   bool
}

var filesystemTraits = map[FilesystemType]fsTraits{
	// Local filesystems with full Unix ownership semantics.
	FilesystemBtrfs:    {ownership: true},
	FilesystemExt2:     {ownership: true},
	FilesystemExt3:     {ownership: true},
	FilesystemExt4:     {ownership: true},
	FilesystemJFS:      {ownership: true},
	FilesystemReiserFS: {ownership: true},
	FilesystemXFS:      {ownership: true},
	FilesystemZFS:      {ownership: true},

	// Interop filesystems where chown/chmod fail or silently no-op.
	FilesystemExFAT: {exclude: true},
	FilesystemFAT:   {exclude: true},
	FilesystemFAT32: {exclude: true},
	FilesystemFUSE:  {},
	FilesystemNTFS:  {exclude: true},

	// Network filesystems. Ownership depends on mount options and server
	// config, so it is probed at runtime rather than assumed here.
	FilesystemCIFS: {network: true, exclude: true},
	FilesystemNFS:  {network: true},
	FilesystemNFS4: {network: true},
	FilesystemSMB:  {network: true},
}

// SupportsUnixOwnership reports whether chown/chmod reliably stick on this
// filesystem. Network filesystems answer false here and get probed instead.
func (f FilesystemType) SupportsUnixOwnership() bool {
	return filesystemTraits[f].ownership
}

// IsNetworkFilesystem reports whether the filesystem is network-backed.
func (f FilesystemType) IsNetworkFilesystem() bool {
	return filesystemTraits[f].network
}

// ShouldAutoExclude reports whether ownership operations should be skipped
// outright, as on FAT variants and CIFS where they fail or silently no-op.
func (f FilesystemType) ShouldAutoExclude() bool {
	return filesystemTraits[f].exclude
}

func (f FilesystemType) String() string {
	return string(f)
}

// FilesystemInfo describes the filesystem found under a destination path.
type FilesystemInfo struct {
	Path       string
	MountPoint string
	Device     string

	Type              FilesystemType
	IsNetworkFS       bool
	SupportsOwnership bool
}

// RetentionSummary records the outcome of the most recent retention pass.
type RetentionSummary struct {
	BackupsRemaining int
	BackupsDeleted   int

	LogsDeleted   int
	LogsRemaining int
	HasLogInfo    bool
}

// StorageStats aggregates destination usage for reporting.
type StorageStats struct {
	TotalBackups int
	TotalSize    int64
	OldestBackup *time.Time
	NewestBackup *time.Time

	UsedSpace      int64
	TotalSpace     int64
	AvailableSpace int64

	FilesystemType FilesystemType
}

// StorageError wraps a failed destination operation with enough context to
// decide whether the run must abort.
type StorageError struct {
	Operation string // "store", "list", "delete", "apply_retention"
	Path      string
	Err       error

	Recoverable bool
	IsCritical  bool
}

func (e *StorageError) Error() string {
	sev := "WARNING"
	if e.IsCritical {
		sev = "CRITICAL"
	}
	note := ""
	if e.Recoverable {
		note = " (recoverable)"
	}
	return fmt.Sprintf("%s: storage %s operation failed for %s%s: %v",
		sev, e.Operation, e.Path, note, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
