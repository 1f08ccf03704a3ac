package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

var (
	execLookPath = exec.LookPath

	// runCommandWithEnv returns stdout only: command sources write their
	// output verbatim into the staging tree, so stderr must never leak
	// into it. Stderr is folded into the returned error instead.
	runCommandWithEnv = func(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		if len(extraEnv) > 0 {
			cmd.Env = append(os.Environ(), extraEnv...)
		}
		out, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
				return out, fmt.Errorf("%w: %s", err, bytes.TrimSpace(exitErr.Stderr))
			}
		}
		return out, err
	}

	// lstatFunc deliberately does not follow symlinks: a dangling link is
	// still real data worth collecting.
	lstatFunc = os.Lstat
)

// ExecutorDeps allows injecting external dependencies for the Executor.
type ExecutorDeps struct {
	LookPath          func(string) (string, error)
	RunCommandWithEnv func(context.Context, []string, string, ...string) ([]byte, error)
	Lstat             func(string) (os.FileInfo, error)
}

func defaultExecutorDeps() ExecutorDeps {
	return ExecutorDeps{
		LookPath: func(name string) (string, error) {
			return execLookPath(name)
		},
		RunCommandWithEnv: func(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error) {
			return runCommandWithEnv(ctx, extraEnv, name, args...)
		},
		Lstat: func(path string) (os.FileInfo, error) {
			return lstatFunc(path)
		},
	}
}
