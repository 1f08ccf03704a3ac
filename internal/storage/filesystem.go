package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/safefs"
	"github.com/tis24dev/homesave/pkg/utils"
)

// statfsTimeout bounds the liveness probe against the destination mount.
const statfsTimeout = 10 * time.Second

const mountTablePath = "/proc/mounts"

// FilesystemDetector resolves what kind of filesystem backs a destination
// path. The backup destination holds key material, so a filesystem that
// cannot enforce owner-only modes is worth a loud warning before anything
// lands on it.
type FilesystemDetector struct {
	logger *logging.Logger

	// mountPointLookup resolves the mount point a path lives on.
	// Overridable in tests.
	mountPointLookup func(string) (string, error)
}

// NewFilesystemDetector creates a detector reading the system mount table.
func NewFilesystemDetector(logger *logging.Logger) *FilesystemDetector {
	fd := &FilesystemDetector{logger: logger}
	fd.mountPointLookup = fd.getMountPoint
	return fd
}

// mountEntry is one line of /proc/mounts.
type mountEntry struct {
	device string
	point  string
	fsType string
}

// readMountTable parses /proc/mounts, decoding the octal escapes the kernel
// uses for spaces in mount paths.
func readMountTable() ([]mountEntry, error) {
	data, err := os.ReadFile(mountTablePath)
	if err != nil {
		return nil, err
	}

	var table []mountEntry
	for _, row := range strings.Split(string(data), "\n") {
		cols := strings.Fields(row)
		if len(cols) < 3 {
			continue
		}
		table = append(table, mountEntry{
			device: cols[0],
			point:  unescapeOctal(cols[1]),
			fsType: cols[2],
		})
	}
	return table, nil
}

// DetectFilesystem identifies the filesystem under path and probes ownership
// support where the static classification cannot answer.
func (fd *FilesystemDetector) DetectFilesystem(ctx context.Context, path string) (*FilesystemInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("destination does not exist: %s: %w", path, err)
	}

	mount, err := fd.mountPointLookup(path)
	if err != nil {
		return nil, fmt.Errorf("resolve mount point for %s: %w", path, err)
	}

	kind, device, err := fd.getFilesystemType(ctx, mount)
	if err != nil {
		return nil, fmt.Errorf("detect filesystem type for %s: %w", path, err)
	}

	info := &FilesystemInfo{
		Path:              path,
		Type:              kind,
		SupportsOwnership: kind.SupportsUnixOwnership(),
		IsNetworkFS:       kind.IsNetworkFilesystem(),
		MountPoint:        mount,
		Device:            device,
	}
	fd.logFilesystemInfo(info)

	// Network mounts answer the ownership question per-server, not per-type.
	if info.IsNetworkFS {
		info.SupportsOwnership = fd.testOwnershipSupport(ctx, path)
		if info.SupportsOwnership {
			fd.logger.Info("Network filesystem %s honors Unix ownership", kind)
		} else {
			fd.logger.Warning("Network filesystem %s does not honor Unix ownership", kind)
		}
	}

	if kind.ShouldAutoExclude() {
		fd.logger.Warning("Filesystem %s cannot enforce owner-only modes, backed-up key material on this destination will not be protected by file permissions", kind)
	}

	return info, nil
}

func (fd *FilesystemDetector) logFilesystemInfo(info *FilesystemInfo) {
	traits := "no ownership"
	if info.SupportsOwnership {
		traits = "supports ownership"
	}
	if info.IsNetworkFS {
		traits += ", network"
	}
	fd.logger.Debug("Path: %s -> Filesystem: %s (%s) [mount: %s]",
		info.Path, info.Type, traits, info.MountPoint)
}

// getMountPoint returns the deepest mount point containing path.
func (fd *FilesystemDetector) getMountPoint(path string) (string, error) {
	table, err := readMountTable()
	if err != nil {
		return "", err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	best := "/"
	for _, ent := range table {
		if pathWithin(abs, ent.point) && len(ent.point) > len(best) {
			best = ent.point
		}
	}
	return best, nil
}

// pathWithin reports whether path lives on the subtree rooted at mount,
// matching on path component boundaries so /mnt/foo never claims
// /mnt/foobar.
func pathWithin(path, mount string) bool {
	if mount == "/" || path == mount {
		return true
	}
	return strings.HasPrefix(path, mount+"/")
}

// getFilesystemType resolves the filesystem type string for a mount point.
// The statfs probe runs through safefs first: a dead NFS or sshfs
// destination would block a raw syscall indefinitely.
func (fd *FilesystemDetector) getFilesystemType(ctx context.Context, mount string) (FilesystemType, string, error) {
	if _, err := safefs.Statfs(ctx, mount, statfsTimeout); err != nil {
		return FilesystemUnknown, "", err
	}

	table, err := readMountTable()
	if err != nil {
		return FilesystemUnknown, "", err
	}
	for _, ent := range table {
		if ent.point == mount {
			return parseFilesystemType(ent.fsType), ent.device, nil
		}
	}
	return FilesystemUnknown, "", fmt.Errorf("filesystem type not found in %s", mountTablePath)
}

// testOwnershipSupport checks whether chown and chmod actually stick by
// round-tripping them on a scratch file under path.
func (fd *FilesystemDetector) testOwnershipSupport(ctx context.Context, path string) bool {
	probe := filepath.Join(path, ".homesave-ownership-probe-"+utils.GenerateRandomString(8))

	fh, err := os.Create(probe)
	if err != nil {
		fd.logger.Debug("ownership probe create failed: %v", err)
		return false
	}
	fh.Close()
	defer os.Remove(probe)

	if err := os.Chown(probe, os.Getuid(), os.Getgid()); err != nil {
		fd.logger.Debug("ownership probe chown failed: %v", err)
		return false
	}
	if err := os.Chmod(probe, 0o600); err != nil {
		fd.logger.Debug("ownership probe chmod failed: %v", err)
		return false
	}

	st, err := os.Stat(probe)
	if err != nil {
		return false
	}
	if perm := st.Mode().Perm(); perm != 0o600 {
		fd.logger.Debug("probe mode did not stick, got %o", perm)
		return false
	}
	return true
}

// fsTypeAliases maps the strings /proc/mounts reports to canonical types.
var fsTypeAliases = map[string]FilesystemType{
	"ext4":       FilesystemExt4,
	"ext3":       FilesystemExt3,
	"ext2":       FilesystemExt2,
	"xfs":        FilesystemXFS,
	"btrfs":      FilesystemBtrfs,
	"zfs":        FilesystemZFS,
	"jfs":        FilesystemJFS,
	"reiserfs":   FilesystemReiserFS,
	"vfat":       FilesystemFAT32,
	"fat32":      FilesystemFAT32,
	"fat":        FilesystemFAT,
	"fat16":      FilesystemFAT,
	"exfat":      FilesystemExFAT,
	"ntfs":       FilesystemNTFS,
	"ntfs-3g":    FilesystemNTFS,
	"fuse":       FilesystemFUSE,
	"fuse.sshfs": FilesystemFUSE,
	"nfs":        FilesystemNFS,
	"nfs4":       FilesystemNFS4,
	"cifs":       FilesystemCIFS,
	"smb":        FilesystemCIFS,
	"smbfs":      FilesystemCIFS,
}

func parseFilesystemType(raw string) FilesystemType {
	if kind, ok := fsTypeAliases[strings.ToLower(raw)]; ok {
		return kind
	}
	return FilesystemUnknown
}

// unescapeOctal decodes \NNN octal escapes. A backslash without three octal
// digits after it passes through untouched.
func unescapeOctal(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+3 < len(s) {
			if v, ok := octalByte(s[i+1 : i+4]); ok {
				sb.WriteByte(v)
				i += 4
				continue
			}
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}

func octalByte(digits string) (byte, bool) {
	v := 0
	for i := 0; i < len(digits); i++ {
		d := digits[i]
		if d < '0' || d > '7' {
			return 0, false
		}
		v = v*8 + int(d-'0')
	}
	return byte(v), true
}

// SetPermissions applies ownership and mode to path, degrading to warnings
// on filesystems where the operations are known to be shaky and skipping
// entirely where they cannot work at all.
func (fd *FilesystemDetector) SetPermissions(ctx context.Context, path string, uid, gid int, mode os.FileMode, fs *FilesystemInfo) error {
	if fs != nil && !fs.SupportsOwnership {
		fd.logger.Debug("Skipping chown/chmod on %s, filesystem %s has no ownership support", path, fs.Type)
		return nil
	}

	warnable := fs != nil && !fs.Type.ShouldAutoExclude()

	// A failed chown still leaves chmod worth attempting.
	if err := os.Chown(path, uid, gid); err != nil && warnable {
		fd.logger.Warning("Could not set owner on %s (filesystem %s): %v", path, fs.Type, err)
	}

	if err := os.Chmod(path, mode); err != nil {
		if warnable {
			fd.logger.Warning("Could not set mode on %s (filesystem %s): %v", path, fs.Type, err)
		}
		return err
	}
	return nil
}
