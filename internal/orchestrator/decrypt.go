package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tis24dev/homesave/internal/backup"
	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/input"
	"github.com/tis24dev/homesave/internal/logging"
)

// ErrDecryptAborted is returned when the operator backs out of the decrypt
// workflow. Callers treat it as a clean exit, not a failure.
var ErrDecryptAborted = errors.New("decrypt aborted by user")

var titleCaser = cases.Title(language.English)

// DecryptionError reports an archive that could not be decrypted for a
// reason other than a wrong key, which is retried at the prompt instead.
type DecryptionError struct {
	Path string
	Err  error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// RunDecryptWorkflow drives the standalone decrypt flow on the terminal:
// pick an encrypted backup, reassemble it if sharded, and write the plain
// archive to a directory of the operator's choosing.
func RunDecryptWorkflow(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	ui := newCLIWorkflowUI(nil, logger)
	return runDecryptWorkflowWithUI(ctx, cfg, logger, ui)
}

// RunDecryptWorkflowTUI is the tview-based variant of RunDecryptWorkflow.
func RunDecryptWorkflowTUI(ctx context.Context, cfg *config.Config, logger *logging.Logger, buildSig string) error {
	configPath := ""
	if cfg != nil {
		configPath = cfg.ConfigPath
	}
	ui := newTUIWorkflowUI(configPath, buildSig, logger)
	return runDecryptWorkflowWithUI(ctx, cfg, logger, ui)
}

func runDecryptWorkflowWithUI(ctx context.Context, cfg *config.Config, logger *logging.Logger, ui DecryptWorkflowUI) error {
	if cfg == nil {
		return fmt.Errorf("configuration is required")
	}

	done := logging.DebugStart(logger, "decrypt", "Starting decrypt workflow against %s", cfg.BackupPath)
	var workErr error
	defer func() { done(workErr) }()

	all, err := listRestoreCandidates(cfg, logger)
	if err != nil {
		workErr = err
		return err
	}
	candidates := make([]*restoreCandidate, 0, len(all))
	for _, cand := range all {
		if cand.Encrypted {
			candidates = append(candidates, cand)
		}
	}
	if len(candidates) == 0 {
		workErr = fmt.Errorf("no encrypted backups found in %s", cfg.BackupPath)
		return workErr
	}

	cand, err := ui.SelectBackupCandidate(ctx, candidates)
	if err != nil {
		workErr = err
		return err
	}

	selection, err := LocateRestoreSource(cand.SelectionName, cfg.BackupPath)
	if err != nil {
		workErr = err
		return err
	}
	if !selection.Encrypted() {
		workErr = fmt.Errorf("%s is not encrypted", selection.BaseName)
		return workErr
	}

	workDir, cleanup, err := newRestoreWorkDir(logger)
	if err != nil {
		workErr = err
		return err
	}
	defer cleanup()

	artifact := selection.Path
	if selection.Kind == RestoreKindShardSet {
		logger.Phase("Reassembling %d shard(s) of %s", len(selection.Shards), selection.BaseName)
		artifact, err = ReassembleShards(ctx, selection, workDir, logger)
		if err != nil {
			workErr = err
			return err
		}
	}
	if _, err := verifyArtifactChecksum(ctx, logger, cfg.BackupPath, selection.BaseName, artifact); err != nil {
		if selection.Kind == RestoreKindShardSet {
			workErr = &ReassemblyError{Err: err}
			return workErr
		}
		workErr = err
		return err
	}

	defaultDir := filepath.Join(cfg.BaseDir, "decrypted")
	destDir, err := ui.PromptDestinationDir(ctx, defaultDir)
	if err != nil {
		workErr = err
		return err
	}
	if err := restoreFS.MkdirAll(destDir, 0o700); err != nil {
		workErr = fmt.Errorf("create destination directory: %w", err)
		return workErr
	}

	outName := strings.TrimSuffix(selection.BaseName, ".age")
	outPath := filepath.Join(destDir, outName)
	if _, err := restoreFS.Stat(outPath); err == nil {
		decision, newPath, err := ui.ResolveExistingPath(ctx, outPath, "decrypted archive", "")
		if err != nil {
			workErr = err
			return err
		}
		switch decision {
		case PathDecisionOverwrite:
		case PathDecisionNewPath:
			outPath = newPath
		default:
			workErr = ErrDecryptAborted
			return workErr
		}
	}

	plainTemp := filepath.Join(workDir, outName)
	if err := decryptArchiveWithSecretPrompt(ctx, ui, logger, cand.DisplayBase, artifact, plainTemp); err != nil {
		workErr = err
		return err
	}
	if err := moveFileSafe(plainTemp, outPath); err != nil {
		workErr = fmt.Errorf("move decrypted archive to %s: %w", outPath, err)
		return workErr
	}

	sum, err := backup.GenerateChecksum(ctx, logger, outPath)
	if err != nil {
		logger.Warning("Could not generate checksum for %s: %v", outPath, err)
	} else if _, err := backup.WriteChecksumFile(logger, outPath, sum); err != nil {
		logger.Warning("Could not write checksum file: %v", err)
	}

	logger.Success("Decrypted archive written to %s", outPath)
	if err := ui.ShowMessage(ctx, "Decrypt complete", fmt.Sprintf("Decrypted archive written to:\n%s", outPath)); err != nil {
		logger.Debug("Could not show completion message: %v", err)
	}
	return nil
}

// secretPromptUI is the slice of the workflow UI that the shared decrypt
// helper needs: prompting for the secret and running the decryption task.
// Both DecryptWorkflowUI and RestoreWorkflowUI satisfy it.
type secretPromptUI interface {
	TaskRunner
	PromptDecryptSecret(ctx context.Context, displayName, previousError string) (string, error)
}

// decryptArchiveWithSecretPrompt decrypts src into dst, prompting for the
// key or passphrase and retrying on a mismatch. A wrong secret loops back to
// the prompt; anything else is wrapped in DecryptionError.
func decryptArchiveWithSecretPrompt(ctx context.Context, ui secretPromptUI, logger *logging.Logger, displayName, src, dst string) error {
	promptError := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		secret, err := ui.PromptDecryptSecret(ctx, displayName, promptError)
		if err != nil {
			if errors.Is(err, ErrDecryptAborted) || errors.Is(err, input.ErrInputAborted) {
				return ErrDecryptAborted
			}
			return err
		}

		secret = strings.TrimSpace(secret)
		if secret == "" {
			resetString(&secret)
			promptError = "Input cannot be empty."
			continue
		}

		identities, err := parseIdentityInput(secret)
		resetString(&secret)
		if err != nil {
			promptError = fmt.Sprintf("Invalid key or passphrase: %v", err)
			continue
		}

		err = ui.RunTask(ctx, "Decrypting archive", fmt.Sprintf("Decrypting %s...", displayName),
			func(ctx context.Context, report ProgressReporter) error {
				return decryptWithIdentity(src, dst, identities...)
			})
		if err != nil {
			var noMatch *age.NoIdentityMatchError
			if errors.Is(err, age.ErrIncorrectIdentity) || errors.As(err, &noMatch) {
				promptError = "Provided key or passphrase does not match this archive."
				logger.Warning("Incorrect key or passphrase for %s", filepath.Base(src))
				continue
			}
			return &DecryptionError{Path: src, Err: err}
		}
		logger.Success("Decrypted %s", filepath.Base(src))
		return nil
	}
}

// parseIdentityInput turns the prompted secret into age identities. The input
// may be an AGE secret key, the path of an identity file (age format or an
// SSH private key), or a passphrase for the deterministic derivation used at
// encryption time.
func parseIdentityInput(secret string) ([]age.Identity, error) {
	if key := strings.ToUpper(secret); strings.HasPrefix(key, "AGE-SECRET-KEY-") {
		id, err := age.ParseX25519Identity(key)
		if err != nil {
			return nil, err
		}
		return []age.Identity{id}, nil
	}
	if ids, isFile, err := identitiesFromFile(secret); isFile {
		return ids, err
	}
	return deriveDeterministicIdentitiesFromPassphrase(secret)
}

// identitiesFromFile treats the input as an identity file path when it names
// an existing regular file. Both age identity files and SSH private keys are
// accepted, matching the recipient formats supported at encryption time.
func identitiesFromFile(input string) ([]age.Identity, bool, error) {
	path := strings.TrimSpace(input)
	if path == "" || strings.ContainsAny(path, "\n\x00") {
		return nil, false, nil
	}
	info, err := restoreFS.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false, nil
	}
	data, err := restoreFS.ReadFile(path)
	if err != nil {
		return nil, true, fmt.Errorf("read identity file %s: %w", path, err)
	}
	if ids, err := age.ParseIdentities(bytes.NewReader(data)); err == nil && len(ids) > 0 {
		return ids, true, nil
	}
	id, err := agessh.ParseIdentity(data)
	if err != nil {
		return nil, true, fmt.Errorf("no usable identities in %s: %w", path, err)
	}
	return []age.Identity{id}, true, nil
}

func decryptWithIdentity(src, dst string, identities ...age.Identity) error {
	enc, err := restoreFS.Open(src)
	if err != nil {
		return fmt.Errorf("open encrypted input: %w", err)
	}
	defer enc.Close()

	// Decrypt the header first so a wrong identity never leaves an empty
	// output file behind.
	plain, err := age.Decrypt(enc, identities...)
	if err != nil {
		return err
	}

	out, err := restoreFS.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, plain); err != nil {
		return fmt.Errorf("write decrypted data: %w", err)
	}
	return out.Close()
}

func parseMenuIndex(choice string, max int) (int, error) {
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > max {
		return 0, fmt.Errorf("please enter a number between 1 and %d", max)
	}
	return n - 1, nil
}

func statusFromManifest(manifest *backup.Manifest) string {
	if manifest == nil {
		return "unknown"
	}
	if strings.EqualFold(strings.TrimSpace(manifest.EncryptionMode), "age") {
		return "encrypted"
	}
	return "plain"
}

func moveFileSafe(src, dst string) error {
	if restoreFS.Rename(src, dst) == nil {
		return nil
	}
	// A cross-device rename fails; copy and remove instead.
	if err := copyFile(restoreFS, src, dst); err != nil {
		return fmt.Errorf("copy across filesystems: %w", err)
	}
	return restoreFS.Remove(src)
}
