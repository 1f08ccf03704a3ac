package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"time"
)

// The temp registry tracks working directories created by backup and restore
// sessions so a later run can sweep leftovers from crashed processes. Access
// is serialized with an flock'd lock file because concurrent homesave
// invocations may register at the same time.

const tempRegistryEnvVar = "HOMESAVE_TEMP_REGISTRY_PATH"

type tempDirEntry struct {
	Path    string    `json:"path"`
	PID     int       `json:"pid"`
	Created time.Time `json:"created_at"`
}

type tempDirRegistry struct {
	path string
}

func newTempDirRegistry() *tempDirRegistry {
	return &tempDirRegistry{path: resolveRegistryPath()}
}

func resolveRegistryPath() string {
	if override := os.Getenv(tempRegistryEnvVar); override != "" {
		return override
	}
	return filepath.Join(os.TempDir(), "homesave", "temp-dirs.json")
}

// Register records a temp directory owned by this process.
func (r *tempDirRegistry) Register(path string) error {
	return r.withLock(func() error {
		records, err := r.readAll()
		if err != nil {
			return err
		}
		known := slices.ContainsFunc(records, func(rec tempDirEntry) bool {
			return rec.Path == path
		})
		if known {
			return nil
		}
		rec := tempDirEntry{Path: path, PID: os.Getpid(), Created: time.Now().UTC()}
		return r.writeAll(append(records, rec))
	})
}

// Deregister removes a temp directory entry after cleanup.
func (r *tempDirRegistry) Deregister(path string) error {
	return r.withLock(func() error {
		records, err := r.readAll()
		if err != nil {
			return err
		}
		trimmed := slices.DeleteFunc(records, func(rec tempDirEntry) bool {
			return rec.Path == path
		})
		return r.writeAll(trimmed)
	})
}

// CleanupOrphaned removes registered directories whose owning process died
// or whose entry is older than maxAge. Returns how many were removed.
func (r *tempDirRegistry) CleanupOrphaned(maxAge time.Duration) (int, error) {
	removed := 0
	err := r.withLock(func() error {
		records, err := r.readAll()
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		live := records[:0]
		for _, rec := range records {
			if !reapable(rec, now, maxAge) {
				live = append(live, rec)
				continue
			}
			if err := os.RemoveAll(rec.Path); err != nil && !os.IsNotExist(err) {
				// Keep the entry so a later sweep can retry.
				live = append(live, rec)
				continue
			}
			removed++
		}
		return r.writeAll(live)
	})
	return removed, err
}

// reapable reports whether a registered directory belongs to a dead process
// or has outlived maxAge.
func reapable(rec tempDirEntry, now time.Time, maxAge time.Duration) bool {
	if maxAge > 0 && now.Sub(rec.Created) > maxAge {
		return true
	}
	return !processAlive(rec.PID)
}

// processAlive probes a PID with signal 0. EPERM still means the process
// exists, just under another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	switch err := syscall.Kill(pid, 0); {
	case err == nil:
		return true
	case errors.Is(err, syscall.EPERM):
		return true
	}
	return false
}

func (r *tempDirRegistry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	release, err := acquireRegistryLock(r.path + ".lock")
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// acquireRegistryLock takes an exclusive flock on lockPath and returns the
// matching release function.
func acquireRegistryLock(lockPath string) (func(), error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open registry lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire registry lock: %w", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

func (r *tempDirRegistry) readAll() ([]tempDirEntry, error) {
	raw, err := os.ReadFile(r.path)
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read registry: %w", err)
	case len(raw) == 0:
		return nil, nil
	}

	var records []tempDirEntry
	if err := json.Unmarshal(raw, &records); err != nil {
		// A corrupt registry never blocks a backup; start fresh.
		return nil, nil
	}
	return records, nil
}

func (r *tempDirRegistry) writeAll(records []tempDirEntry) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	staged := r.path + ".tmp"
	if err := os.WriteFile(staged, raw, 0o600); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return os.Rename(staged, r.path)
}
