package cli

import (
	"bytes"
	"flag"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/tis24dev/homesave/internal/types"
)

// parseWithArgs runs Parse against a throwaway FlagSet so tests do not
// pollute the process-wide flag registry.
func parseWithArgs(t *testing.T, argv []string) *Args {
	t.Helper()
	origCommandLine, origUsage, origArgs := flag.CommandLine, flag.Usage, os.Args
	t.Cleanup(func() {
		flag.CommandLine, flag.Usage, os.Args = origCommandLine, origUsage, origArgs
	})

	flag.CommandLine = flag.NewFlagSet(t.Name(), flag.ContinueOnError)
	flag.CommandLine.SetOutput(os.Stderr)
	flag.Usage = func() {}
	os.Args = append([]string{"test-binary"}, argv...)

	return Parse()
}

// swapFile points target (os.Stdout or os.Stderr) at a pipe and returns a
// function that stops capturing and hands back everything written.
func swapFile(t *testing.T, target **os.File) func() string {
	t.Helper()
	orig := *target
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	*target = w
	t.Cleanup(func() {
		w.Close()
		r.Close()
		*target = orig
	})
	return func() string {
		w.Close()
		captured, readErr := io.ReadAll(r)
		if readErr != nil {
			t.Fatalf("read captured stream: %v", readErr)
		}
		return string(captured)
	}
}

// interceptExit swaps osExit for a recorder and returns a pointer to the
// captured code.
func interceptExit(t *testing.T) *int {
	t.Helper()
	orig := osExit
	code := -1
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = orig })
	return &code
}

func TestStringFlagTracksExplicitSet(t *testing.T) {
	sf := newStringFlag("default")
	if sf.String() != "default" || sf.set {
		t.Fatalf("fresh flag: value=%q set=%v, want default/false", sf.String(), sf.set)
	}

	for _, v := range []string{"first", "second"} {
		if err := sf.Set(v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}
	if sf.String() != "second" || !sf.set {
		t.Fatalf("after sets: value=%q set=%v, want second/true", sf.String(), sf.set)
	}
}

func TestParseLogLevelNamesAndNumbers(t *testing.T) {
	tests := []struct {
		in   string
		want types.LogLevel
	}{
		{"debug", types.LogLevelDebug},
		{"info", types.LogLevelInfo},
		{"warning", types.LogLevelWarning},
		{"error", types.LogLevelError},
		{"critical", types.LogLevelCritical},
		{"none", types.LogLevelNone},
		{"5", types.LogLevelDebug},
		{"4", types.LogLevelInfo},
		{"3", types.LogLevelWarning},
		{"2", types.LogLevelError},
		{"1", types.LogLevelCritical},
		{"0", types.LogLevelNone},
		// Anything unrecognized, including case or whitespace variants,
		// falls back to info.
		{"invalid", types.LogLevelInfo},
		{"DEBUG", types.LogLevelInfo},
		{"Debug", types.LogLevelInfo},
		{" debug", types.LogLevelInfo},
		{"debug ", types.LogLevelInfo},
		{"", types.LogLevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDefaults(t *testing.T) {
	got := parseWithArgs(t, nil)

	if got.ConfigPath != defaultConfigPath {
		t.Fatalf("ConfigPath = %q, want %q", got.ConfigPath, defaultConfigPath)
	}
	if got.ConfigPathSource != configSourceDefault {
		t.Fatalf("ConfigPathSource = %q, want %q", got.ConfigPathSource, configSourceDefault)
	}
	if got.LogLevel != types.LogLevelNone {
		t.Fatalf("LogLevel = %v, want none so the config file decides", got.LogLevel)
	}
	if got.DryRun || got.ShowVersion || got.ShowHelp || got.ForceNewKey ||
		got.Decrypt || got.Restore || got.ForceCLI {
		t.Fatal("boolean flags must default to false")
	}
}

func TestParseLongFlags(t *testing.T) {
	got := parseWithArgs(t, []string{
		"--restore", "--decrypt", "--newkey",
		"--config", "/custom/homesave.env",
		"--log-level", "debug",
		"--dry-run", "--cli",
		"--version", "--help",
	})

	if got.ConfigPath != "/custom/homesave.env" {
		t.Fatalf("ConfigPath = %q, want /custom/homesave.env", got.ConfigPath)
	}
	if got.ConfigPathSource != configSourceFlag {
		t.Fatalf("ConfigPathSource = %q, want %q", got.ConfigPathSource, configSourceFlag)
	}
	if got.LogLevel != types.LogLevelDebug {
		t.Fatalf("LogLevel = %v, want debug", got.LogLevel)
	}
	if !got.DryRun || !got.ForceCLI || !got.ShowVersion || !got.ShowHelp ||
		!got.ForceNewKey || !got.Decrypt || !got.Restore {
		t.Fatal("expected every boolean flag to be set")
	}
}

func TestParseShorthandFlags(t *testing.T) {
	got := parseWithArgs(t, []string{"-c", "/alias/homesave.env", "-l", "warning", "-n"})

	if got.ConfigPath != "/alias/homesave.env" {
		t.Fatalf("ConfigPath = %q, want /alias/homesave.env", got.ConfigPath)
	}
	if got.LogLevel != types.LogLevelWarning {
		t.Fatalf("LogLevel = %v, want warning", got.LogLevel)
	}
	if !got.DryRun {
		t.Fatal("-n should set DryRun")
	}
}

func TestParseLastLogLevelFlagWins(t *testing.T) {
	got := parseWithArgs(t, []string{"--log-level", "debug", "-l", "warning"})
	if got.LogLevel != types.LogLevelWarning {
		t.Fatalf("LogLevel = %v, want warning (last flag wins)", got.LogLevel)
	}
}

func TestPrintHelp(t *testing.T) {
	var help bytes.Buffer
	flag.CommandLine = flag.NewFlagSet(t.Name(), flag.ContinueOnError)
	flag.CommandLine.SetOutput(&help)
	// Register a couple of flags so PrintDefaults emits content.
	flag.CommandLine.String("config", "", "Configuration file path")
	flag.CommandLine.Bool("restore", false, "Run the restore workflow")

	printHelp(&help, "homesave")
	out := help.String()
	if !strings.Contains(out, "Usage: homesave [options]") {
		t.Fatalf("help missing usage line: %q", out)
	}
	if !strings.Contains(out, "-config") || !strings.Contains(out, "-restore") {
		t.Fatalf("help missing registered options: %q", out)
	}
	if !strings.Contains(out, "Examples:") {
		t.Fatalf("help missing examples section: %q", out)
	}
}

func TestPrintVersion(t *testing.T) {
	var ver bytes.Buffer
	printVersion(&ver)
	out := ver.String()
	for _, want := range []string{"HomeSave", "Version: ", "Author: tis24dev"} {
		if !strings.Contains(out, want) {
			t.Fatalf("version output missing %q: %q", want, out)
		}
	}
}

func TestShowHelpPrintsAndExitsZero(t *testing.T) {
	exitCode := interceptExit(t)
	readStderr := swapFile(t, &os.Stderr)

	origCommandLine, origArgs := flag.CommandLine, os.Args
	flag.CommandLine = flag.NewFlagSet(t.Name(), flag.ContinueOnError)
	flag.CommandLine.SetOutput(os.Stderr)
	flag.CommandLine.Bool("restore", false, "Run the restore workflow")
	os.Args = []string{"homesave-test"}
	t.Cleanup(func() {
		flag.CommandLine, os.Args = origCommandLine, origArgs
	})

	ShowHelp()

	if out := readStderr(); !strings.Contains(out, "Usage: homesave-test [options]") {
		t.Fatalf("help output missing usage line: %q", out)
	}
	if *exitCode != 0 {
		t.Fatalf("exit code = %d, want 0", *exitCode)
	}
}

func TestShowVersionPrintsAndExitsZero(t *testing.T) {
	exitCode := interceptExit(t)
	readStdout := swapFile(t, &os.Stdout)

	ShowVersion()

	out := readStdout()
	if !strings.Contains(out, "HomeSave") || !strings.Contains(out, "Version:") {
		t.Fatalf("version output missing expected fields: %q", out)
	}
	if *exitCode != 0 {
		t.Fatalf("exit code = %d, want 0", *exitCode)
	}
}
