package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tis24dev/homesave/internal/types"
)

// newBufferedLogger returns a logger capturing console output in a buffer.
func newBufferedLogger(level types.LogLevel, useColor bool) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(level, useColor)
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestNewDefaults(t *testing.T) {
	logger := New(types.LogLevelInfo, true)

	if logger.level != types.LogLevelInfo {
		t.Errorf("level = %v, want %v", logger.level, types.LogLevelInfo)
	}
	if !logger.colorize {
		t.Error("colorize should be true")
	}
	if logger.output == nil {
		t.Error("output writer should be set")
	}
	if logger.exit == nil {
		t.Error("exit should default to os.Exit")
	}
}

func TestLevelAccessors(t *testing.T) {
	logger := New(types.LogLevelInfo, false)
	if logger.GetLevel() != types.LogLevelInfo {
		t.Fatalf("GetLevel = %v, want INFO", logger.GetLevel())
	}
	logger.SetLevel(types.LogLevelDebug)
	if logger.GetLevel() != types.LogLevelDebug {
		t.Fatalf("GetLevel = %v after SetLevel, want DEBUG", logger.GetLevel())
	}

	if !New(types.LogLevelInfo, true).UsesColor() {
		t.Error("UsesColor should report true when enabled")
	}
	if New(types.LogLevelInfo, false).UsesColor() {
		t.Error("UsesColor should report false when disabled")
	}
}

func TestThresholdFiltering(t *testing.T) {
	logger, buf := newBufferedLogger(types.LogLevelWarning, false)

	logger.Debug("below threshold debug")
	logger.Info("below threshold info")
	logger.Warning("kept warning")
	logger.Error("kept error")
	logger.Critical("kept critical")

	out := buf.String()
	for _, hidden := range []string{"below threshold debug", "below threshold info"} {
		if strings.Contains(out, hidden) {
			t.Errorf("message %q should be filtered at WARNING level", hidden)
		}
	}
	for _, kept := range []string{"kept warning", "kept error", "kept critical"} {
		if !strings.Contains(out, kept) {
			t.Errorf("message %q should pass the WARNING threshold", kept)
		}
	}
}

func TestLineShape(t *testing.T) {
	logger, buf := newBufferedLogger(types.LogLevelInfo, false)

	logger.Info("saved %d categories to %s", 4, "/backups")

	out := buf.String()
	if !strings.HasPrefix(out, "[") {
		t.Errorf("line should open with a bracketed timestamp: %q", out)
	}
	if !strings.Contains(out, "] [INFO] ") {
		t.Errorf("line should carry a bracketed level tag: %q", out)
	}
	if !strings.Contains(out, "saved 4 categories to /backups") {
		t.Errorf("line should carry the formatted message: %q", out)
	}
}

func TestLevelTags(t *testing.T) {
	logger, buf := newBufferedLogger(types.LogLevelDebug, false)

	tests := []struct {
		write func(string, ...any)
		tag   string
	}{
		{logger.Debug, "[DEBUG]"},
		{logger.Info, "[INFO]"},
		{logger.Warning, "[WARNING]"},
		{logger.Error, "[ERROR]"},
		{logger.Critical, "[CRITICAL]"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			buf.Reset()
			tt.write("probe line")
			out := buf.String()
			if !strings.Contains(out, tt.tag) {
				t.Errorf("output missing tag %s: %q", tt.tag, out)
			}
			if !strings.Contains(out, "probe line") {
				t.Errorf("output missing message: %q", out)
			}
		})
	}
}

func TestColorToggle(t *testing.T) {
	colored, colorBuf := newBufferedLogger(types.LogLevelInfo, true)
	colored.Info("tinted")
	if !strings.Contains(colorBuf.String(), "\033[") {
		t.Error("colored logger should emit ANSI escapes")
	}

	plain, plainBuf := newBufferedLogger(types.LogLevelInfo, false)
	plain.Info("plain")
	if strings.Contains(plainBuf.String(), "\033[") {
		t.Error("plain logger must not emit ANSI escapes")
	}
}

func TestLabeledHelpers(t *testing.T) {
	logger, buf := newBufferedLogger(types.LogLevelInfo, false)

	logger.Phase("collecting sources")
	logger.Step("ssh category")
	logger.Skip("keyring disabled")
	logger.Success("shell config archived")

	out := buf.String()
	for _, want := range []string{
		"[PHASE] collecting sources",
		"[STEP] ssh category",
		"[SKIP] keyring disabled",
		"[SUCCESS] shell config archived",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}

	// Labeled lines ride at INFO level and get filtered with it.
	buf.Reset()
	logger.SetLevel(types.LogLevelWarning)
	logger.Success("hidden")
	logger.Phase("hidden")
	if buf.Len() != 0 {
		t.Errorf("labeled lines should be filtered above INFO: %q", buf.String())
	}
}

func TestLabeledHelpersNilReceiver(t *testing.T) {
	var l *Logger
	l.Phase("phase")
	l.Step("step")
	l.Skip("skip")
	l.Success("success")
}

func TestLabeledColorOverrides(t *testing.T) {
	logger, buf := newBufferedLogger(types.LogLevelInfo, true)

	logger.Phase("phase msg")
	logger.Step("step msg")
	logger.Skip("skip msg")

	out := buf.String()
	if !strings.Contains(out, colorBlue) {
		t.Errorf("PHASE/STEP should use blue: %q", out)
	}
	if !strings.Contains(out, colorMagenta) {
		t.Errorf("SKIP should use magenta: %q", out)
	}
	for _, want := range []string{"PHASE", "phase msg", "STEP", "step msg", "SKIP", "skip msg"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestWarningAndErrorCounters(t *testing.T) {
	logger, _ := newBufferedLogger(types.LogLevelDebug, false)

	if logger.HasWarnings() || logger.HasErrors() {
		t.Fatal("fresh logger should have clean counters")
	}

	logger.Warning("w")
	if !logger.HasWarnings() {
		t.Error("HasWarnings should flip after a warning")
	}
	if logger.HasErrors() {
		t.Error("a warning must not flip HasErrors")
	}

	logger.Error("e")
	if !logger.HasErrors() {
		t.Error("HasErrors should flip after an error")
	}
}

func TestFilteredLinesDoNotCount(t *testing.T) {
	logger, buf := newBufferedLogger(types.LogLevelCritical, false)

	logger.Warning("suppressed")
	logger.Error("suppressed")

	if buf.Len() != 0 {
		t.Fatalf("lines above CRITICAL threshold should not print: %q", buf.String())
	}
	if logger.HasWarnings() || logger.HasErrors() {
		t.Error("suppressed lines must not increment the counters")
	}
}

func TestSetOutputNilRestoresStdout(t *testing.T) {
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(nil)
	if logger.output != os.Stdout {
		t.Fatal("SetOutput(nil) should fall back to stdout")
	}
}

func TestOpenAndCloseLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "session.log")
	logger, _ := newBufferedLogger(types.LogLevelDebug, false)

	if err := logger.OpenLogFile(logPath); err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}
	if logger.GetLogFilePath() != logPath {
		t.Fatalf("GetLogFilePath = %s, want %s", logger.GetLogFilePath(), logPath)
	}

	logger.Info("mirrored info")
	logger.Warning("mirrored warning")
	if err := logger.CloseLogFile(); err != nil {
		t.Fatalf("CloseLogFile: %v", err)
	}
	if logger.GetLogFilePath() != "" {
		t.Fatal("log path should clear after close")
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read session log: %v", err)
	}
	if !strings.Contains(string(content), "mirrored info") || !strings.Contains(string(content), "mirrored warning") {
		t.Fatalf("session log missing mirrored lines: %s", content)
	}

	if err := logger.CloseLogFile(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestOpenLogFileReopenClosesPrevious(t *testing.T) {
	tmp := t.TempDir()
	logger := New(types.LogLevelInfo, false)

	if err := logger.OpenLogFile(filepath.Join(tmp, "first.log")); err != nil {
		t.Fatalf("first open: %v", err)
	}
	firstFile := logger.sessionFile

	second := filepath.Join(tmp, "second.log")
	if err := logger.OpenLogFile(second); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if logger.GetLogFilePath() != second {
		t.Fatalf("GetLogFilePath = %s, want %s", logger.GetLogFilePath(), second)
	}

	if _, err := firstFile.Write([]byte("x")); err == nil {
		t.Error("first file should have been closed by the reopen")
	}
}

func TestErrorLogProjection(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "session.log")
	errPath := logPath + ErrorLogSuffix
	logger, _ := newBufferedLogger(types.LogLevelDebug, false)

	if err := logger.OpenLogFile(logPath); err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}

	// Lines below ERROR must not bring the error log into existence.
	logger.Info("plain info")
	logger.Warning("plain warning")
	if _, err := os.Stat(errPath); !os.IsNotExist(err) {
		t.Fatal("error log must not exist before the first ERROR line")
	}
	if logger.GetErrorLogPath() != "" {
		t.Fatal("GetErrorLogPath should be empty before the first ERROR line")
	}

	logger.Error("copy failed - disk full")
	logger.Critical("cannot continue")

	if logger.GetErrorLogPath() != errPath {
		t.Fatalf("GetErrorLogPath = %s, want %s", logger.GetErrorLogPath(), errPath)
	}
	if err := logger.CloseLogFile(); err != nil {
		t.Fatalf("CloseLogFile: %v", err)
	}

	errText, err := os.ReadFile(errPath)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(errText), "[ERROR] copy failed - disk full") {
		t.Fatalf("error log missing ERROR line: %s", errText)
	}
	if !strings.Contains(string(errText), "[CRITICAL] cannot continue") {
		t.Fatalf("error log missing CRITICAL line: %s", errText)
	}
	if strings.Contains(string(errText), "plain info") || strings.Contains(string(errText), "plain warning") {
		t.Fatalf("error log must hold only ERROR-level lines: %s", errText)
	}

	// The error log is a projection, so the main log keeps the lines too.
	mainText, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read main log: %v", err)
	}
	if !strings.Contains(string(mainText), "[ERROR] copy failed - disk full") {
		t.Fatalf("main log missing ERROR line: %s", mainText)
	}
}

func TestAppendRawWritesOnlyToLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "raw.log")
	logger, buf := newBufferedLogger(types.LogLevelInfo, false)

	// Without an open file AppendRaw does nothing.
	logger.AppendRaw("no file yet")
	if buf.Len() != 0 {
		t.Fatalf("AppendRaw must not hit the console: %q", buf.String())
	}

	if err := logger.OpenLogFile(logPath); err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}
	buf.Reset()
	logger.AppendRaw("banner line")

	if buf.Len() != 0 {
		t.Fatalf("AppendRaw must not hit the console: %q", buf.String())
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), "banner line") {
		t.Fatalf("log missing raw line: %s", content)
	}
	if !strings.Contains(string(content), types.LogLevelInfo.String()) {
		t.Fatalf("raw line should carry the INFO tag: %s", content)
	}
}

func TestFatalUsesExitFunc(t *testing.T) {
	logger, buf := newBufferedLogger(types.LogLevelDebug, false)

	var calls, code int
	logger.SetExitFunc(func(c int) {
		calls++
		code = c
	})

	logger.Fatal(types.ExitGenericError, "fatal condition")

	if calls != 1 || code != types.ExitGenericError.Int() {
		t.Fatalf("exitFunc calls=%d code=%d, want 1/%d", calls, code, types.ExitGenericError.Int())
	}
	if !strings.Contains(buf.String(), "fatal condition") {
		t.Fatalf("fatal message missing from output: %s", buf.String())
	}
}

func TestSetExitFuncNilRestoresDefault(t *testing.T) {
	logger := New(types.LogLevelInfo, false)
	logger.SetExitFunc(func(int) {})
	logger.SetExitFunc(nil)
	if logger.exit == nil {
		t.Fatal("SetExitFunc(nil) must leave a usable exit hook")
	}
}

func TestDefaultLoggerPlumbing(t *testing.T) {
	if GetDefaultLogger() == nil {
		t.Fatal("package default logger should exist")
	}

	logger, buf := newBufferedLogger(types.LogLevelDebug, false)
	SetDefaultLogger(logger)
	if GetDefaultLogger() != logger {
		t.Fatal("GetDefaultLogger should return the replacement")
	}

	Debug("d")
	Info("i")
	Success("s")
	Step("st")
	Skip("sk")
	Warning("w")
	Error("e")
	Critical("c")

	out := buf.String()
	for _, tag := range []string{"[DEBUG]", "[INFO]", "[SUCCESS]", "[STEP]", "[SKIP]", "[WARNING]", "[ERROR]", "[CRITICAL]"} {
		if !strings.Contains(out, tag) {
			t.Errorf("package-level output missing %s", tag)
		}
	}
}

func TestPackageLevelFatal(t *testing.T) {
	logger, buf := newBufferedLogger(types.LogLevelDebug, false)

	var calls, code int
	logger.SetExitFunc(func(c int) {
		calls++
		code = c
	})
	SetDefaultLogger(logger)

	Fatal(types.ExitConfigError, "package fatal")

	if calls != 1 || code != types.ExitConfigError.Int() {
		t.Fatalf("exitFunc calls=%d code=%d, want 1/%d", calls, code, types.ExitConfigError.Int())
	}
	if !strings.Contains(buf.String(), "package fatal") {
		t.Fatalf("fatal message missing: %s", buf.String())
	}
}
