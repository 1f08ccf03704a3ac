package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/orchestrator"
	"github.com/tis24dev/homesave/internal/types"
)

// runNewKey drives a standalone AGE recipient setup without running a
// backup. The wizard writes the new recipients to the identity file that
// later encrypted runs pick up.
func runNewKey(ctx context.Context, configPath string, logLevel types.LogLevel, bootstrap *logging.BootstrapLogger) error {
	if logLevel == types.LogLevelNone {
		logLevel = types.LogLevelInfo
	}
	useColor := term.IsTerminal(int(os.Stdout.Fd()))
	logger, closeLog := startFlowLogger("newkey", logLevel, useColor, bootstrap)
	defer closeLog()

	cfg, err := loadConfigOrDefaults(configPath, bootstrap)
	if err != nil {
		return err
	}

	// Key generation must run even when the current config has encryption
	// off; the point is to prepare recipients for future encrypted runs.
	cfg.EncryptArchive = true

	orch := orchestrator.New(logger, false)
	orch.SetConfig(cfg)
	orch.SetForceNewAgeRecipient(true)

	if err := orch.EnsureAgeRecipientsReady(ctx); err != nil {
		if errors.Is(err, orchestrator.ErrAgeRecipientSetupAborted) {
			return err
		}
		return fmt.Errorf("AGE setup failed: %w", err)
	}

	recipientPath := cfg.AgeRecipientFile
	if recipientPath == "" {
		recipientPath = filepath.Join(cfg.BaseDir, "identity", "age", "recipient.txt")
	}

	bootstrap.Info("✓ New AGE recipient(s) generated and saved to %s", recipientPath)
	bootstrap.Info("IMPORTANT: Keep your passphrase/private key offline and secure!")

	return nil
}
