package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/tis24dev/homesave/internal/checks"
	"github.com/tis24dev/homesave/internal/cli"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/orchestrator"
	"github.com/tis24dev/homesave/internal/tui"
	"github.com/tis24dev/homesave/internal/types"
	"github.com/tis24dev/homesave/internal/version"
)

const exitCodeInterrupted = 128 + int(syscall.SIGINT)

// buildTime is stamped via -ldflags "-X main.buildTime=...".
var buildTime = ""

func main() {
	os.Exit(run())
}

var closeStdinOnce sync.Once

func run() int {
	bootstrap := logging.NewBootstrapLogger()
	defer exitOnPanic(bootstrap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchShutdownSignals(cancel, bootstrap)

	// Interactive screens created later bind their shutdown to this context,
	// so a SIGINT tears down a running wizard instead of leaving the terminal
	// in raw mode.
	tui.SetAbortContext(ctx)

	args := cli.Parse()
	switch {
	case args.ShowVersion:
		cli.ShowVersion()
		return types.ExitSuccess.Int()
	case args.ShowHelp:
		cli.ShowHelp()
		return types.ExitSuccess.Int()
	}

	// Resolve the configuration path relative to the executable's base
	// directory so configs/ is found regardless of the working directory.
	resolvedConfigPath, err := resolveConfigPath(args.ConfigPath)
	if err != nil {
		bootstrap.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}
	args.ConfigPath = resolvedConfigPath

	// Standalone key generation, no backup run.
	if args.ForceNewKey {
		if err := runNewKey(ctx, args.ConfigPath, args.LogLevel, bootstrap); err != nil {
			if errors.Is(err, orchestrator.ErrAgeRecipientSetupAborted) {
				bootstrap.Info("Key setup aborted by user")
				return types.ExitSuccess.Int()
			}
			bootstrap.Error("ERROR: %v", err)
			return types.ExitConfigError.Int()
		}
		return types.ExitSuccess.Int()
	}

	cfg, err := loadConfigOrDefaults(args.ConfigPath, bootstrap)
	if err != nil {
		bootstrap.Error("ERROR: Failed to load configuration: %v", err)
		return types.ExitConfigError.Int()
	}

	dryRun := args.DryRun || cfg.DryRun

	// CLI log level wins over the configured one.
	logLevel := cfg.DebugLevel
	if args.LogLevel != types.LogLevelNone {
		logLevel = args.LogLevel
	}

	// Interactive workflows fall back to CLI prompts when no terminal is
	// attached; --cli forces them.
	useCLI := args.ForceCLI || !term.IsTerminal(int(os.Stdout.Fd()))

	switch {
	case args.Restore:
		return runRestoreFlow(ctx, cfg, bootstrap, logLevel, useCLI)
	case args.Decrypt:
		return runDecryptFlow(ctx, cfg, bootstrap, logLevel, useCLI)
	}
	return runBackupFlow(ctx, cfg, args, bootstrap, logLevel, dryRun)
}

// exitOnPanic turns an unhandled panic into the dedicated exit code, dumping
// the stack to stderr first. Must be installed with defer.
func exitOnPanic(bootstrap *logging.BootstrapLogger) {
	r := recover()
	if r == nil {
		return
	}
	bootstrap.Error("PANIC: %v", r)
	fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
	os.Exit(types.ExitPanicError.Int())
}

// watchShutdownSignals cancels the run context on SIGINT or SIGTERM. Stdin is
// closed as well so an interactive prompt blocked on a read wakes up.
func watchShutdownSignals(cancel context.CancelFunc, bootstrap *logging.BootstrapLogger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		bootstrap.Warning("\nReceived signal %v, initiating graceful shutdown...", sig)
		cancel()
		closeStdinOnce.Do(func() {
			if file := os.Stdin; file != nil {
				_ = file.Close()
			}
		})
	}()
}

// startFlowLogger opens the live session log for a workflow and replays the
// buffered bootstrap lines into it. When the session log cannot be created
// the flow continues on a console-only logger.
func startFlowLogger(flow string, level types.LogLevel, useColor bool, bootstrap *logging.BootstrapLogger) (*logging.Logger, func()) {
	logger, logPath, closeLog, err := logging.StartSessionLogger(flow, level, useColor)
	if err != nil {
		logger = logging.New(level, useColor)
		closeLog = func() {}
		if bootstrap != nil {
			bootstrap.Warning("WARNING: Unable to start %s log: %v", flow, err)
		}
	} else if bootstrap != nil {
		bootstrap.Info("%s log: %s", capitalized(flow), logPath)
	}

	logging.SetDefaultLogger(logger)
	if bootstrap != nil {
		bootstrap.SetLevel(level)
		bootstrap.Flush(logger)
	}
	return logger, closeLog
}

func capitalized(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// signatureOrNA is the build signature shown in TUI footers, which want a
// non-empty value.
func signatureOrNA() string {
	if sig := strings.TrimSpace(buildSignature()); sig != "" {
		return sig
	}
	return "n/a"
}

func dryRunSource(viaFlag bool) string {
	if viaFlag {
		return "--dry-run flag"
	}
	return "DRY_RUN config"
}

func runRestoreFlow(ctx context.Context, cfg *config.Config, bootstrap *logging.BootstrapLogger, logLevel types.LogLevel, useCLI bool) int {
	logger, closeLog := startFlowLogger("restore", logLevel, cfg.UseColor, bootstrap)
	defer closeLog()

	var err error
	if useCLI {
		logging.Info("Restore mode enabled - starting CLI workflow...")
		err = orchestrator.RunRestoreWorkflow(ctx, cfg, logger, nil)
	} else {
		logging.Info("Restore mode enabled - starting interactive workflow...")
		err = orchestrator.RunRestoreWorkflowTUI(ctx, cfg, logger, nil, signatureOrNA())
	}
	if err != nil {
		if errors.Is(err, orchestrator.ErrRestoreAborted) || errors.Is(err, orchestrator.ErrDecryptAborted) {
			logging.Info("Restore workflow aborted by user")
			return exitCodeInterrupted
		}
		logging.Error("Restore workflow failed: %v", err)
		return restoreExitCode(err)
	}

	if logger.HasWarnings() {
		logging.Warning("Restore workflow completed with warnings (see log above)")
	} else {
		logging.Info("Restore workflow completed successfully")
	}
	return types.ExitSuccess.Int()
}

func runDecryptFlow(ctx context.Context, cfg *config.Config, bootstrap *logging.BootstrapLogger, logLevel types.LogLevel, useCLI bool) int {
	logger, closeLog := startFlowLogger("decrypt", logLevel, cfg.UseColor, bootstrap)
	defer closeLog()

	var err error
	if useCLI {
		logging.Info("Decrypt mode enabled - starting CLI workflow...")
		err = orchestrator.RunDecryptWorkflow(ctx, cfg, logger)
	} else {
		logging.Info("Decrypt mode enabled - starting interactive workflow...")
		err = orchestrator.RunDecryptWorkflowTUI(ctx, cfg, logger, signatureOrNA())
	}
	if err != nil {
		if errors.Is(err, orchestrator.ErrDecryptAborted) {
			logging.Info("Decrypt workflow aborted by user")
			return types.ExitSuccess.Int()
		}
		logging.Error("Decrypt workflow failed: %v", err)
		return decryptExitCode(err)
	}

	logging.Info("Decrypt workflow completed successfully")
	return types.ExitSuccess.Int()
}

func runBackupFlow(ctx context.Context, cfg *config.Config, args *cli.Args, bootstrap *logging.BootstrapLogger, logLevel types.LogLevel, dryRun bool) int {
	bootstrap.Println("===========================================")
	bootstrap.Println("  HomeSave")
	bootstrap.Printf("  Version: %s", version.String())
	if sig := buildSignature(); sig != "" {
		bootstrap.Printf("  Build Signature: %s", sig)
	}
	bootstrap.Println("===========================================")
	bootstrap.Println("")

	if dryRun {
		bootstrap.Printf("⚠ DRY RUN MODE (enabled via %s)", dryRunSource(args.DryRun))
		bootstrap.Println("")
	}

	hostname := resolveHostname()
	startTime := time.Now()

	// The live session log lives under /tmp/homesave and is copied into the
	// configured log directory once the run completes, so a crash mid-run
	// still leaves the partial log inspectable.
	logger, closeLog := startFlowLogger("backup", logLevel, cfg.UseColor, bootstrap)
	defer closeLog()

	if dryRun {
		logging.Info("DRY RUN MODE: No actual changes will be made (enabled via %s)", dryRunSource(args.DryRun))
	}

	logging.Info("Backup enabled: %v", cfg.BackupEnabled)
	logging.Info("Debug level: %s", logLevel.String())
	logging.Info("Archive mode: %s", cfg.ArchiveMode)
	logging.Info("Compression: %s (level %d, mode %s)", cfg.CompressionType, cfg.CompressionLevel, cfg.CompressionMode)
	logging.Info("Base directory: %s", cfg.BaseDir)
	logging.Info("Home directory: %s", cfg.HomeDir)
	logging.Info("Backup destination: %s", cfg.BackupPath)
	configSource := args.ConfigPathSource
	if configSource == "" {
		configSource = "configured path"
	}
	logging.Info("Configuration file: %s (%s)", args.ConfigPath, configSource)
	fmt.Println()

	if !cfg.BackupEnabled {
		logging.Warning("Backup is disabled in configuration (BACKUP_ENABLED=false)")
		return types.ExitSuccess.Int()
	}

	logging.Step("Initializing backup orchestrator")
	orch := orchestrator.New(logger, dryRun)
	orch.SetVersion(version.String())
	orch.SetConfig(cfg)
	orch.SetStartTime(startTime)

	if err := orch.EnsureAgeRecipientsReady(ctx); err != nil {
		if errors.Is(err, orchestrator.ErrAgeRecipientSetupAborted) {
			logging.Warning("Encryption setup aborted by user. Exiting...")
			return types.ExitGenericError.Int()
		}
		logging.Error("ERROR: %v", err)
		return types.ExitConfigError.Int()
	}
	logging.Info("✓ Orchestrator initialized")
	fmt.Println()

	checkerConfig := checks.GetDefaultCheckerConfig(cfg.BackupPath, cfg.LogPath, cfg.LockPath)
	checkerConfig.MinDiskSpaceGB = cfg.MinDiskSpaceGB
	checkerConfig.DryRun = dryRun
	if err := checkerConfig.Validate(); err != nil {
		logging.Error("Invalid checker configuration: %v", err)
		return types.ExitConfigError.Int()
	}
	checker := checks.NewChecker(logger, checkerConfig)
	orch.SetChecker(checker)

	defer func() {
		if err := orch.ReleaseBackupLock(); err != nil {
			logging.Warning("Failed to release backup lock: %v", err)
		}
	}()

	if err := orch.RunPreBackupChecks(ctx); err != nil {
		logging.Error("Pre-backup validation failed: %v", err)
		return types.ExitBackupError.Int()
	}
	fmt.Println()

	logging.Step("Starting backup orchestration")
	stats, err := orch.RunBackup(ctx, hostname)
	if err != nil {
		// Log the failure before persisting so the copied log carries it.
		code := types.ExitBackupError.Int()
		var backupErr *orchestrator.BackupError
		switch {
		case ctx.Err() == context.Canceled:
			logging.Warning("Backup was canceled")
			code = exitCodeInterrupted
		case errors.As(err, &backupErr):
			logging.Error("Backup %s failed: %v", backupErr.Phase, backupErr.Err)
			code = backupErr.Code.Int()
		default:
			logging.Error("Backup orchestration failed: %v", err)
		}
		persistBackupLog(orch, hostname, startTime)
		return code
	}

	orch.LogBackupSummary(stats)
	persistBackupLog(orch, hostname, startTime)

	return stats.ExitCode
}

// persistBackupLog copies the live session log into the configured log
// directory. Failures only warn; the backup outcome already stands.
func persistBackupLog(orch *orchestrator.Orchestrator, hostname string, startTime time.Time) {
	persisted, err := orch.PersistSessionLog("backup", hostname, startTime)
	if err != nil {
		logging.Warning("Failed to persist session log: %v", err)
		return
	}
	if persisted != "" {
		logging.Info("Session log saved to %s", persisted)
	}
}

// restoreExitCode maps a restore workflow failure onto the exit code table.
func restoreExitCode(err error) int {
	var decErr *orchestrator.DecryptionError
	if errors.As(err, &decErr) {
		return types.ExitDecryptError.Int()
	}
	return types.ExitRestoreError.Int()
}

// decryptExitCode maps a decrypt workflow failure onto the exit code table.
func decryptExitCode(err error) int {
	var reErr *orchestrator.ReassemblyError
	if errors.As(err, &reErr) {
		return types.ExitRestoreError.Int()
	}
	return types.ExitDecryptError.Int()
}

// loadConfigOrDefaults loads homesave.env when present and otherwise falls
// back to built-in defaults plus environment overrides. A per-user tool must
// work out of the box without an installation step.
func loadConfigOrDefaults(configPath string, bootstrap *logging.BootstrapLogger) (*config.Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		bootstrap.Printf("Loading configuration from: %s", configPath)
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		bootstrap.Println("✓ Configuration loaded successfully")
		return cfg, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat configuration file: %w", err)
	}

	bootstrap.Printf("Configuration file not found: %s", configPath)
	bootstrap.Println("Using built-in defaults (environment variables still apply)")
	cfg, err := config.DefaultConfig()
	if err != nil {
		return nil, err
	}
	cfg.ConfigPath = configPath
	return cfg, nil
}
