// Package logging implements the session logger: timestamped lines on the
// console, an optional real-time session log file, and a derived error log
// that receives only ERROR and CRITICAL lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tis24dev/homesave/internal/types"
)

// ErrorLogSuffix is appended to the session log path to form the derived
// error log.
const ErrorLogSuffix = ".errors"

// sessionTimeFormat is the timestamp layout of every persisted log line.
const sessionTimeFormat = "2006-01-02 15:04:05"

const (
	colorReset   = "\033[0m"
	colorCyan    = "\033[36m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorRed     = "\033[31m"
	colorBoldRed = "\033[1;31m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
)

var levelColors = map[types.LogLevel]string{
	types.LogLevelDebug:    colorCyan,
	types.LogLevelInfo:     colorGreen,
	types.LogLevelWarning:  colorYellow,
	types.LogLevelError:    colorRed,
	types.LogLevelCritical: colorBoldRed,
}

// Logger writes leveled, timestamped lines to the console and, once
// OpenLogFile has been called, mirrors them into the session log.
type Logger struct {
	mu sync.Mutex

	level    types.LogLevel
	colorize bool
	output   io.Writer
	layout   string

	sessionFile *os.File
	errorFile   *os.File // derived error log, created on the first ERROR line
	errorPath   string

	warnings int64
	errors   int64
	exit     func(int)
}

// New returns a logger writing to stdout at the given level.
func New(level types.LogLevel, colorize bool) *Logger {
	return &Logger{
		level:    level,
		colorize: colorize,
		output:   os.Stdout,
		layout:   sessionTimeFormat,
		exit:     os.Exit,
	}
}

// SetOutput redirects console output. A nil writer restores stdout.
func (l *Logger) SetOutput(dst io.Writer) {
	if dst == nil {
		dst = os.Stdout
	}
	l.mu.Lock()
	l.output = dst
	l.mu.Unlock()
}

// SetLevel changes the logging threshold.
func (l *Logger) SetLevel(threshold types.LogLevel) {
	l.mu.Lock()
	l.level = threshold
	l.mu.Unlock()
}

// SetExitFunc swaps the function Fatal calls, so tests can intercept the
// exit. A nil hook restores os.Exit.
func (l *Logger) SetExitFunc(hook func(int)) {
	if hook == nil {
		hook = os.Exit
	}
	l.mu.Lock()
	l.exit = hook
	l.mu.Unlock()
}

// OpenLogFile starts mirroring log lines into the file at logPath. The file
// is opened with O_SYNC so lines survive a crash mid-run. The derived error
// log path is registered as a sibling; the file itself only appears once an
// ERROR or CRITICAL line is written.
func (l *Logger) OpenLogFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o600)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errorFile != nil {
		l.errorFile.Close()
		l.errorFile = nil
	}
	if l.sessionFile != nil {
		l.sessionFile.Close()
	}
	l.sessionFile = file
	l.errorPath = path + ErrorLogSuffix
	return nil
}

// CloseLogFile closes the session log and the derived error log if present.
func (l *Logger) CloseLogFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.errorFile != nil {
		l.errorFile.Close()
		l.errorFile = nil
	}
	if l.sessionFile == nil {
		return nil
	}

	closeErr := l.sessionFile.Close()
	l.sessionFile, l.errorPath = nil, ""
	return closeErr
}

// GetLogFilePath returns the open session log path, or "" if none.
func (l *Logger) GetLogFilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessionFile == nil {
		return ""
	}
	return l.sessionFile.Name()
}

// GetErrorLogPath returns the derived error log path, or "" while no ERROR
// line has been written.
func (l *Logger) GetErrorLogPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errorFile == nil {
		return ""
	}
	return l.errorFile.Name()
}

// UsesColor reports whether ANSI colors are enabled.
func (l *Logger) UsesColor() bool {
	return l.colorize
}

// GetLevel returns the current threshold.
func (l *Logger) GetLevel() types.LogLevel {
	l.mu.Lock()
	level := l.level
	l.mu.Unlock()
	return level
}

// emit renders one line and writes it to the console, the session log, and,
// for ERROR and CRITICAL, the derived error log. label overrides the level
// tag; labelColor overrides the level's color when colors are on.
func (l *Logger) emit(level types.LogLevel, label, labelColor, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level < level {
		return
	}

	switch {
	case level == types.LogLevelWarning:
		l.warnings++
	case level == types.LogLevelError || level == types.LogLevelCritical:
		l.errors++
	}

	tag := label
	if tag == "" {
		tag = level.String()
	}
	stamp := time.Now().Format(l.layout)
	text := fmt.Sprintf(format, args...)

	// Files always get the plain form; color codes would corrupt parsing.
	plain := fmt.Sprintf("[%s] [%s] %s\n", stamp, tag, text)

	if l.colorize {
		color := labelColor
		if color == "" {
			color = levelColors[level]
		}
		fmt.Fprintf(l.output, "[%s] [%s%s%s] %s\n", stamp, color, tag, colorReset, text)
	} else {
		fmt.Fprint(l.output, plain)
	}

	if l.sessionFile != nil {
		fmt.Fprint(l.sessionFile, plain)
	}
	if level == types.LogLevelError || level == types.LogLevelCritical {
		l.appendErrorLine(plain)
	}
}

// appendErrorLine writes a preformatted line to the derived error log,
// creating the file on first use. Caller holds l.mu.
func (l *Logger) appendErrorLine(line string) {
	if l.errorPath == "" {
		return
	}
	if l.errorFile == nil {
		file, err := os.OpenFile(l.errorPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o600)
		if err != nil {
			return
		}
		l.errorFile = file
	}
	fmt.Fprint(l.errorFile, line)
}

// labeled emits an INFO-level line under a custom tag. Safe on a nil
// receiver so optional progress markers never crash early startup paths.
func (l *Logger) labeled(label, color, format string, args ...any) {
	if l == nil {
		return
	}
	l.emit(types.LogLevelInfo, label, color, format, args...)
}

// HasWarnings reports whether any warning was logged.
func (l *Logger) HasWarnings() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warnings > 0
}

// HasErrors reports whether any error or critical message was logged.
func (l *Logger) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors > 0
}

// Debug writes a debug line.
func (l *Logger) Debug(format string, args ...any) {
	l.emit(types.LogLevelDebug, "", "", format, args...)
}

// Info writes an informational line.
func (l *Logger) Info(format string, args ...any) {
	l.emit(types.LogLevelInfo, "", "", format, args...)
}

// Warning writes a warning line.
func (l *Logger) Warning(format string, args ...any) {
	l.emit(types.LogLevelWarning, "", "", format, args...)
}

// Error writes an error line.
func (l *Logger) Error(format string, args ...any) {
	l.emit(types.LogLevelError, "", "", format, args...)
}

// Critical writes a critical line.
func (l *Logger) Critical(format string, args ...any) {
	l.emit(types.LogLevelCritical, "", "", format, args...)
}

// Success marks a completed item.
func (l *Logger) Success(format string, args ...any) {
	l.labeled("SUCCESS", colorGreen, format, args...)
}

// Phase marks a major stage of the run.
func (l *Logger) Phase(format string, args ...any) {
	l.labeled("PHASE", colorBlue, format, args...)
}

// Step marks a sequential activity inside a phase.
func (l *Logger) Step(format string, args ...any) {
	l.labeled("STEP", colorBlue, format, args...)
}

// Skip marks an element that was disabled or intentionally left out.
func (l *Logger) Skip(format string, args ...any) {
	l.labeled("SKIP", colorMagenta, format, args...)
}

// Fatal writes a critical line and exits with the given code.
func (l *Logger) Fatal(exitCode types.ExitCode, format string, args ...any) {
	l.Critical(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exit == nil {
		l.exit = os.Exit
	}
	l.exit(exitCode.Int())
}

// AppendRaw writes a line straight into the session log without echoing it
// on the console, for text that already reached the terminal before the log
// file existed.
func (l *Logger) AppendRaw(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessionFile == nil {
		return
	}
	stamp := time.Now().Format(l.layout)
	fmt.Fprintf(l.sessionFile, "[%s] [%s] %s\n", stamp, types.LogLevelInfo.String(), line)
}

var defaultLogger = New(types.LogLevelInfo, true)

// SetDefaultLogger replaces the package-level logger.
func SetDefaultLogger(l *Logger) {
	defaultLogger = l
}

// GetDefaultLogger returns the package-level logger.
func GetDefaultLogger() *Logger {
	return defaultLogger
}

// Debug writes a debug line via the default logger.
func Debug(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

// Info writes an informational line via the default logger.
func Info(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

// Success writes a SUCCESS line via the default logger.
func Success(format string, args ...any) {
	defaultLogger.Success(format, args...)
}

// Step writes a STEP line via the default logger.
func Step(format string, args ...any) {
	defaultLogger.Step(format, args...)
}

// Skip writes a SKIP line via the default logger.
func Skip(format string, args ...any) {
	defaultLogger.Skip(format, args...)
}

// Warning writes a warning line via the default logger.
func Warning(format string, args ...any) {
	defaultLogger.Warning(format, args...)
}

// Error writes an error line via the default logger.
func Error(format string, args ...any) {
	defaultLogger.Error(format, args...)
}

// Critical writes a critical line via the default logger.
func Critical(format string, args ...any) {
	defaultLogger.Critical(format, args...)
}

// Fatal writes a critical line via the default logger and exits.
func Fatal(exitCode types.ExitCode, format string, args ...any) {
	defaultLogger.Fatal(exitCode, format, args...)
}
