package logging

import (
	"fmt"
	"time"
)

// DebugStart writes a begin marker for a traced operation and returns the
// matching end marker. Call the returned function with the operation's
// error so the end line carries the outcome and the elapsed time.
func DebugStart(logger *Logger, operation string, format string, args ...any) func(error) {
	if logger == nil {
		return func(error) {}
	}

	if detail := sprintfIfSet(format, args...); detail != "" {
		logger.Debug("Start %s: %s", operation, detail)
	} else {
		logger.Debug("Start %s", operation)
	}

	started := time.Now()
	return func(err error) {
		elapsed := time.Since(started)
		if err != nil {
			logger.Debug("End %s (error=%v, duration=%s)", operation, err, elapsed)
			return
		}
		logger.Debug("End %s (ok, duration=%s)", operation, elapsed)
	}
}

// DebugStep writes a progress marker inside a traced operation.
func DebugStep(logger *Logger, operation string, format string, args ...any) {
	if logger == nil {
		return
	}
	message := fmt.Sprintf(format, args...)
	if operation == "" {
		logger.Debug("%s", message)
		return
	}
	logger.Debug("%s: %s", operation, message)
}

func sprintfIfSet(format string, args ...any) string {
	if format == "" {
		return ""
	}
	return fmt.Sprintf(format, args...)
}
