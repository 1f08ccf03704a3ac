package orchestrator

import (
	"io/fs"
	"os"
	"time"

	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
)

// FS abstracts filesystem access so workflows can run against a fake
// filesystem in tests.
type FS interface {
	Stat(name string) (os.FileInfo, error)
	Lstat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	Open(name string) (*os.File, error)
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	Create(name string) (*os.File, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	MkdirTemp(dir, pattern string) (string, error)
	Remove(name string) error
	RemoveAll(path string) error
	ReadDir(name string) ([]fs.DirEntry, error)
	Symlink(oldname, newname string) error
	Readlink(name string) (string, error)
	Rename(oldpath, newpath string) error
	Chmod(name string, mode os.FileMode) error
}

// TimeProvider abstracts the clock.
type TimeProvider interface {
	Now() time.Time
}

type osFS struct{}

func (osFS) Stat(name string) (os.FileInfo, error)      { return os.Stat(name) }
func (osFS) Lstat(name string) (os.FileInfo, error)     { return os.Lstat(name) }
func (osFS) ReadFile(name string) ([]byte, error)       { return os.ReadFile(name) }
func (osFS) Open(name string) (*os.File, error)         { return os.Open(name) }
func (osFS) Create(name string) (*os.File, error)       { return os.Create(name) }
func (osFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}
func (osFS) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}
func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (osFS) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}
func (osFS) Remove(name string) error                   { return os.Remove(name) }
func (osFS) RemoveAll(path string) error                { return os.RemoveAll(path) }
func (osFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (osFS) Symlink(oldname, newname string) error      { return os.Symlink(oldname, newname) }
func (osFS) Readlink(name string) (string, error)       { return os.Readlink(name) }
func (osFS) Rename(oldpath, newpath string) error       { return os.Rename(oldpath, newpath) }
func (osFS) Chmod(name string, mode os.FileMode) error  { return os.Chmod(name, mode) }

type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }

// Deps bundles the injectable collaborators of the orchestrator workflows.
type Deps struct {
	FS     FS
	Time   TimeProvider
	Config *config.Config
	Logger *logging.Logger
	DryRun bool
}

func defaultDeps(logger *logging.Logger, dryRun bool) Deps {
	return Deps{
		FS:     osFS{},
		Time:   systemTime{},
		Logger: logger,
		DryRun: dryRun,
	}
}

// NewWithDeps builds a Deps value from overrides, filling gaps with the
// OS-backed defaults.
func NewWithDeps(overrides Deps) Deps {
	deps := defaultDeps(overrides.Logger, overrides.DryRun)
	if overrides.FS != nil {
		deps.FS = overrides.FS
	}
	if overrides.Time != nil {
		deps.Time = overrides.Time
	}
	if overrides.Config != nil {
		deps.Config = overrides.Config
	}
	return deps
}

func copyFile(fsys FS, src, dst string) error {
	data, err := fsys.ReadFile(src)
	if err != nil {
		return err
	}
	return fsys.WriteFile(dst, data, 0o640)
}
