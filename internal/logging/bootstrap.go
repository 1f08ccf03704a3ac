package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tis24dev/homesave/internal/types"
)

type bufferedLine struct {
	level  types.LogLevel
	text   string
	banner bool
}

// BootstrapLogger collects output that is produced before the session log
// file has been opened. Every line still reaches the console right away;
// once the real logger exists, Flush replays the buffer into it so the log
// file starts with the complete history of the run.
type BootstrapLogger struct {
	mu       sync.Mutex
	entries  []bufferedLine
	replayed bool
	minLevel types.LogLevel
	tee      *Logger
}

// NewBootstrapLogger returns an empty buffer that replays at INFO.
func NewBootstrapLogger() *BootstrapLogger {
	bl := &BootstrapLogger{}
	bl.minLevel = types.LogLevelInfo
	return bl
}

// SetLevel changes the threshold used when the buffer is replayed.
func (bl *BootstrapLogger) SetLevel(level types.LogLevel) {
	bl.mu.Lock()
	bl.minLevel = level
	bl.mu.Unlock()
}

// SetMirrorLogger copies every line arriving after this call into dst
// immediately, without waiting for Flush.
func (bl *BootstrapLogger) SetMirrorLogger(dst *Logger) {
	bl.mu.Lock()
	bl.tee = dst
	bl.mu.Unlock()
}

// Println emits a banner line verbatim. Banner lines are replayed even when
// the threshold would drop ordinary INFO output.
func (bl *BootstrapLogger) Println(text string) {
	fmt.Fprintln(os.Stdout, text)
	bl.record(types.LogLevelInfo, text, true)
}

// Printf emits a formatted banner line.
func (bl *BootstrapLogger) Printf(format string, args ...any) {
	bl.Println(fmt.Sprintf(format, args...))
}

// Debug buffers a debug line. Nothing is printed until the replay.
func (bl *BootstrapLogger) Debug(format string, args ...any) {
	bl.record(types.LogLevelDebug, fmt.Sprintf(format, args...), false)
}

// Info prints an informational line and buffers it.
func (bl *BootstrapLogger) Info(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stdout, line)
	bl.record(types.LogLevelInfo, line, false)
}

// Warning prints a warning on stderr and buffers it.
func (bl *BootstrapLogger) Warning(format string, args ...any) {
	bl.stderrLine(types.LogLevelWarning, fmt.Sprintf(format, args...))
}

// Error prints an error on stderr and buffers it.
func (bl *BootstrapLogger) Error(format string, args ...any) {
	bl.stderrLine(types.LogLevelError, fmt.Sprintf(format, args...))
}

func (bl *BootstrapLogger) stderrLine(level types.LogLevel, text string) {
	text = strings.TrimSuffix(text, "\n")
	fmt.Fprintln(os.Stderr, text)
	bl.record(level, text, false)
}

// record appends one line to the buffer and tees it to the mirror logger
// when one has been attached.
func (bl *BootstrapLogger) record(level types.LogLevel, text string, banner bool) {
	bl.mu.Lock()
	bl.entries = append(bl.entries, bufferedLine{level: level, text: text, banner: banner})
	tee := bl.tee
	bl.mu.Unlock()

	if tee == nil {
		return
	}
	forward(tee, level, text)
}

// Flush replays the buffer into logger exactly once. Banner lines always
// replay at INFO; leveled lines are dropped when they fall below the
// threshold set with SetLevel.
func (bl *BootstrapLogger) Flush(logger *Logger) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.replayed {
		return
	}
	bl.replayed = true

	for _, line := range bl.entries {
		if line.banner {
			logger.Info("%s", line.text)
			continue
		}
		if bl.minLevel < line.level {
			continue
		}
		forward(logger, line.level, line.text)
	}
	bl.entries = nil
}

// forward calls the logger method matching the line's level.
func forward(l *Logger, level types.LogLevel, text string) {
	switch level {
	case types.LogLevelCritical:
		l.Critical("%s", text)
	case types.LogLevelError:
		l.Error("%s", text)
	case types.LogLevelWarning:
		l.Warning("%s", text)
	case types.LogLevelDebug:
		l.Debug("%s", text)
	default:
		l.Info("%s", text)
	}
}
