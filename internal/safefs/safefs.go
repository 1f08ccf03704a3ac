// Package safefs bounds the blocking filesystem calls made against
// operator-controlled paths. Home trees and backup destinations can sit on
// network mounts (NFS, sshfs, automounted shares) where a plain os.Stat
// hangs in the kernel and cannot be interrupted. Each wrapper here returns
// a timeout error instead, letting the session log the failure and keep
// going.
package safefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"
)

var (
	osStat        = os.Stat
	osReadDir     = os.ReadDir
	syscallStatfs = syscall.Statfs
)

// ErrTimeout classifies filesystem operations that did not finish in time.
var ErrTimeout = errors.New("filesystem call timed out")

// TimeoutError names the operation and path that ran out of time. The
// kernel call itself keeps running; its goroutine is abandoned.
type TimeoutError struct {
	Op      string
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "filesystem call timed out"
	}
	if e.Timeout <= 0 {
		return fmt.Sprintf("%s %s: timed out", e.Op, e.Path)
	}
	return fmt.Sprintf("%s %s: timed out after %s", e.Op, e.Path, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// bounded runs call on its own goroutine and waits for whichever happens
// first: a result, context cancellation, or the timeout. A non-positive
// timeout runs call inline with no guard at all.
func bounded[T any](ctx context.Context, op, path string, timeout time.Duration, call func() (T, error)) (T, error) {
	var none T
	if err := ctx.Err(); err != nil {
		return none, err
	}

	timeout = remainingTimeout(ctx, timeout)
	if timeout <= 0 {
		return call()
	}

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := call()
		done <- outcome{v: v, err: err}
	}()

	expiry := time.NewTimer(timeout)
	defer expiry.Stop()

	select {
	case <-ctx.Done():
		return none, ctx.Err()
	case out := <-done:
		return out.v, out.err
	case <-expiry.C:
		return none, &TimeoutError{Op: op, Path: path, Timeout: timeout}
	}
}

// remainingTimeout clamps the requested timeout to the context deadline.
func remainingTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return timeout
	}
	left := time.Until(deadline)
	switch {
	case left <= 0:
		return 0
	case left < timeout:
		return left
	}
	return timeout
}

// Stat is os.Stat bounded by the timeout.
func Stat(ctx context.Context, path string, timeout time.Duration) (fs.FileInfo, error) {
	return bounded(ctx, "stat", path, timeout, func() (fs.FileInfo, error) {
		return osStat(path)
	})
}

// ReadDir is os.ReadDir bounded by the timeout.
func ReadDir(ctx context.Context, path string, timeout time.Duration) ([]os.DirEntry, error) {
	return bounded(ctx, "readdir", path, timeout, func() ([]os.DirEntry, error) {
		return osReadDir(path)
	})
}

// Statfs is syscall.Statfs bounded by the timeout.
func Statfs(ctx context.Context, path string, timeout time.Duration) (syscall.Statfs_t, error) {
	return bounded(ctx, "statfs", path, timeout, func() (syscall.Statfs_t, error) {
		var out syscall.Statfs_t
		err := syscallStatfs(path, &out)
		return out, err
	})
}
