// Package input wraps blocking terminal reads so interactive prompts can be
// cancelled. Stdin reads cannot be interrupted portably; each read runs on
// its own goroutine and the caller waits on the context instead.
package input

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrInputAborted reports that the user broke off interactive input, either
// through Ctrl+C (context cancellation) or by closing stdin.
var ErrInputAborted = errors.New("input aborted")

// IsAborted reports whether err represents a user-initiated abort.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// closedStdinMarkers are error substrings seen when a signal handler closes
// stdin under an in-flight read. They vary by platform and Go version.
var closedStdinMarkers = []string{
	"use of closed file",
	"bad file descriptor",
	"file already closed",
}

// MapInputError folds EOF and closed-descriptor errors into ErrInputAborted.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range closedStdinMarkers {
		if strings.Contains(msg, marker) {
			return ErrInputAborted
		}
	}
	return err
}

// await runs fn on a goroutine and returns its result unless ctx finishes
// first. Cancellation maps to ErrInputAborted, a deadline to
// context.DeadlineExceeded. The reader goroutine may outlive the call; the
// buffered channel lets it exit once the blocked read eventually returns,
// though whatever it read is then discarded.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn()
		done <- outcome{value: value, err: MapInputError(err)}
	}()

	var zero T
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, context.DeadlineExceeded
		}
		return zero, ErrInputAborted
	case out := <-done:
		return out.value, out.err
	}
}

// ReadLineWithContext reads one line from reader, honoring ctx.
func ReadLineWithContext(ctx context.Context, reader *bufio.Reader) (string, error) {
	return await(ctx, func() (string, error) {
		return reader.ReadString('\n')
	})
}

// ReadPasswordWithContext reads a secret without echo, honoring ctx. The
// read function is injected so tests can avoid a real terminal.
func ReadPasswordWithContext(ctx context.Context, readPassword func(int) ([]byte, error), fd int) ([]byte, error) {
	if readPassword == nil {
		return nil, errors.New("readPassword function is nil")
	}
	return await(ctx, func() ([]byte, error) {
		return readPassword(fd)
	})
}
