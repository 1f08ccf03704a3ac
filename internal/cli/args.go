package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tis24dev/homesave/internal/types"
	"github.com/tis24dev/homesave/internal/version"
)

const (
	defaultConfigPath   = "./configs/homesave.env"
	configSourceDefault = "built-in default"
	configSourceFlag    = "set with --config/-c"
)

var osExit = os.Exit

// Args carries everything read off the command line.
type Args struct {
	ConfigPath       string
	ConfigPathSource string
	LogLevel         types.LogLevel
	DryRun           bool
	ForceCLI         bool
	ShowVersion      bool
	ShowHelp         bool
	ForceNewKey      bool
	Decrypt          bool
	Restore          bool
}

// Parse reads the process command line into an Args value.
func Parse() *Args {
	a := &Args{}

	cfgFlag := newStringFlag(defaultConfigPath)
	flag.Var(cfgFlag, "config", "Configuration file path")
	flag.Var(cfgFlag, "c", "Configuration file path (shorthand)")

	var levelName string
	flag.StringVar(&levelName, "log-level", "", "Log level (debug|info|warning|error|critical)")
	flag.StringVar(&levelName, "l", "", "Log level (shorthand)")

	for _, b := range []struct {
		target *bool
		name   string
		usage  string
	}{
		{&a.DryRun, "dry-run", "Perform a dry run without making actual changes"},
		{&a.DryRun, "n", "Perform a dry run (shorthand)"},
		{&a.ForceCLI, "cli", "Use CLI prompts instead of TUI for interactive workflows (works with --restore/--decrypt/--newkey)"},
		{&a.ShowVersion, "version", "Show version information"},
		{&a.ShowVersion, "v", "Show version information (shorthand)"},
		{&a.ShowHelp, "help", "Show help message"},
		{&a.ShowHelp, "h", "Show help message (shorthand)"},
		{&a.ForceNewKey, "newkey", "Generate a new AGE key pair from a passphrase and print the recipient"},
		{&a.ForceNewKey, "age-newkey", "Alias for --newkey"},
		{&a.Decrypt, "decrypt", "Run the decrypt workflow (converts encrypted backups into plaintext backups)"},
		{&a.Restore, "restore", "Run the restore workflow (select backup, optionally decrypt, copy categories back home)"},
	} {
		flag.BoolVar(b.target, b.name, false, b.usage)
	}

	flag.Usage = func() {
		printHelp(os.Stderr, os.Args[0])
	}
	flag.Parse()

	a.ConfigPath = cfgFlag.value
	a.ConfigPathSource = configSourceDefault
	if cfgFlag.set {
		a.ConfigPathSource = configSourceFlag
	}

	// Without an explicit flag the configuration file decides the level.
	a.LogLevel = types.LogLevelNone
	if levelName != "" {
		a.LogLevel = parseLogLevel(levelName)
	}

	return a
}

// logLevelNames accepts both the symbolic names and their numeric values.
var logLevelNames = map[string]types.LogLevel{
	"debug":    types.LogLevelDebug,
	"5":        types.LogLevelDebug,
	"info":     types.LogLevelInfo,
	"4":        types.LogLevelInfo,
	"warning":  types.LogLevelWarning,
	"3":        types.LogLevelWarning,
	"error":    types.LogLevelError,
	"2":        types.LogLevelError,
	"critical": types.LogLevelCritical,
	"1":        types.LogLevelCritical,
	"none":     types.LogLevelNone,
	"0":        types.LogLevelNone,
}

func parseLogLevel(name string) types.LogLevel {
	if lv, ok := logLevelNames[name]; ok {
		return lv
	}
	return types.LogLevelInfo
}

// ShowHelp prints usage to stderr and exits 0.
func ShowHelp() {
	printHelp(os.Stderr, os.Args[0])
	osExit(0)
}

// ShowVersion prints version details to stdout and exits 0.
func ShowVersion() {
	printVersion(os.Stdout)
	osExit(0)
}

func printHelp(w io.Writer, prog string) {
	fmt.Fprintf(w, "Usage: %s [options]\n\n", prog)
	fmt.Fprintln(w, "HomeSave")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	flag.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	for _, example := range []string{
		"-c /path/to/homesave.env",
		"--dry-run --log-level debug",
		"--restore",
		"--version",
	} {
		fmt.Fprintf(w, "  %s %s\n", prog, example)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "HomeSave")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	fmt.Fprintln(w, "Author: tis24dev")
}

// stringFlag records whether the flag appeared on the command line, which a
// plain flag.StringVar cannot tell apart from an explicit default.
type stringFlag struct {
	value string
	set   bool
}

func newStringFlag(initial string) *stringFlag {
	return &stringFlag{value: initial}
}

func (f *stringFlag) String() string {
	return f.value
}

func (f *stringFlag) Set(raw string) error {
	f.value = raw
	f.set = true
	return nil
}
