package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"
	"unicode"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"github.com/tis24dev/homesave/internal/input"
	"github.com/tis24dev/homesave/pkg/bech32"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/term"
)

var ErrAgeRecipientSetupAborted = errors.New("encryption setup aborted by user")

// scrypt parameters for passphrase-derived keys. These cannot change without
// orphaning archives encrypted under passphrase recipients.
const (
	passphraseScryptN = 1 << 15
	passphraseScryptR = 8
	passphraseScryptP = 1
)

const (
	passphraseRecipientSalt = "homesave/age-passphrase/v1"
	minPassphraseLength     = 12
)

// passphraseSalts lists every salt ever used for passphrase-derived keys.
// New salts append here so old archives stay decryptable.
var passphraseSalts = []string{passphraseRecipientSalt}

// weakPassphrases are rejected outright regardless of the class mix.
var weakPassphrases = map[string]struct{}{
	"password": {}, "123456": {}, "123456789": {}, "qwerty": {},
	"abc123": {}, "letmein": {}, "admin": {}, "welcome": {},
	"iloveyou": {}, "monkey": {},
}

var readPassword = term.ReadPassword

// EnsureAgeRecipientsReady resolves the AGE recipient set up front so the
// interactive wizard, if needed, runs before any backup work starts.
func (o *Orchestrator) EnsureAgeRecipientsReady(ctx context.Context) error {
	if o == nil || !o.encryptionEnabled() {
		return nil
	}
	if _, err := o.prepareAgeRecipients(ctx); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) encryptionEnabled() bool {
	return o != nil && o.cfg != nil && o.cfg.EncryptArchive
}

func (o *Orchestrator) prepareAgeRecipients(ctx context.Context) ([]age.Recipient, error) {
	if !o.encryptionEnabled() {
		return nil, nil
	}
	if cached := o.ageRecipientCache; cached != nil && !o.forceNewAgeRecipient {
		return cloneRecipients(cached), nil
	}

	known, candidate, err := o.collectRecipientStrings()
	if err != nil {
		return nil, err
	}
	if len(known) == 0 {
		known, err = o.setupRecipientsInteractively(ctx, candidate)
		if err != nil {
			return nil, err
		}
	}

	parsed, err := parseRecipientStrings(known)
	if err != nil {
		return nil, err
	}
	o.ageRecipientCache, o.forceNewAgeRecipient = cloneRecipients(parsed), false
	return cloneRecipients(parsed), nil
}

// setupRecipientsInteractively runs the terminal wizard, refusing to start
// without a terminal attached on both ends.
func (o *Orchestrator) setupRecipientsInteractively(ctx context.Context, candidate string) ([]string, error) {
	if !o.isInteractiveShell() {
		o.logger.Error("Encryption setup needs a terminal. Run homesave interactively once to complete the AGE recipient setup, then re-run in automated mode.")
		o.logger.Debug("HINT Set AGE_RECIPIENT or AGE_RECIPIENT_FILE to bypass the interactive setup and re-run.")
		return nil, fmt.Errorf("age recipients not configured")
	}

	fromWizard, savedPath, err := o.runAgeSetupWizard(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if len(fromWizard) == 0 {
		return nil, fmt.Errorf("no AGE recipients configured after setup")
	}
	if o.cfg.AgeRecipientFile == "" {
		o.cfg.AgeRecipientFile = savedPath
	}
	return fromWizard, nil
}

// collectRecipientStrings merges recipients from the config with those in
// the recipient file. With forceNewAgeRecipient set, both sources are
// ignored so the wizard starts clean.
func (o *Orchestrator) collectRecipientStrings() ([]string, string, error) {
	var found []string
	if o.cfg != nil && !o.forceNewAgeRecipient {
		found = append(found, o.cfg.AgeRecipients...)
	}

	candidate := strings.TrimSpace(o.cfg.AgeRecipientFile)
	if candidate == "" {
		candidate = o.defaultAgeRecipientFile()
	}
	if candidate != "" && !o.forceNewAgeRecipient {
		fromFile, err := readRecipientFile(candidate)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, candidate, fmt.Errorf("read AGE recipients from %s: %w", candidate, err)
		}
		found = append(found, fromFile...)
	}

	return dedupeRecipientStrings(found), candidate, nil
}

func (o *Orchestrator) defaultAgeRecipientFile() string {
	if o.cfg == nil || o.cfg.BaseDir == "" {
		return ""
	}
	return filepath.Join(o.cfg.BaseDir, "identity", "age", "recipient.txt")
}

func (o *Orchestrator) isInteractiveShell() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

type wizardChoice struct {
	key   string
	label string
}

// ageWizardChoices is the menu of the terminal recipient wizard, in display
// order. The exit entry must stay last.
var ageWizardChoices = []wizardChoice{
	{"1", "Use an existing AGE public key"},
	{"2", "Generate an AGE public key from a personal passphrase (not stored on this machine)"},
	{"3", "Generate an AGE public key from an existing personal private key (not stored on this machine)"},
	{"4", "Exit setup"},
}

// runAgeSetupWizard walks the user through recipient selection on the
// terminal and persists the result. It returns the collected recipient
// strings and the file they were saved to.
func (o *Orchestrator) runAgeSetupWizard(ctx context.Context, candidate string) ([]string, string, error) {
	target := candidate
	if target == "" {
		target = o.defaultAgeRecipientFile()
	}
	o.logger.Info("Encryption setup: no AGE recipients configured yet, starting interactive wizard")
	if target == "" {
		return nil, "", fmt.Errorf("no writable location for AGE recipients")
	}

	wizardCtx, stop := wizardInterruptScope(ctx)
	defer stop()

	reader := bufio.NewReader(os.Stdin)
	if err := o.retireExistingRecipients(wizardCtx, reader, target); err != nil {
		return nil, "", err
	}

	collected, err := o.gatherWizardRecipients(wizardCtx, reader)
	if err != nil {
		return nil, "", err
	}
	if err := writeRecipientFile(target, dedupeRecipientStrings(collected)); err != nil {
		return nil, "", err
	}

	o.logger.Info("Saved AGE recipient to %s", target)
	o.logger.Info("Reminder: keep the AGE private key offline; this machine stores only recipients.")
	return collected, target, nil
}

// wizardInterruptScope derives a context cancelled by Ctrl+C so an interrupt
// exits the wizard instead of killing the process. The returned stop function
// detaches the signal handler.
func wizardInterruptScope(ctx context.Context) (context.Context, func()) {
	scoped, cancel := context.WithCancel(ctx)
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT)
	go func() {
		select {
		case <-interrupts:
			fmt.Println("\n^C detected - exiting setup...")
			cancel()
		case <-scoped.Done():
		}
	}()
	return scoped, func() {
		signal.Stop(interrupts)
		cancel()
	}
}

// gatherWizardRecipients loops the menu until the user stops adding entries.
func (o *Orchestrator) gatherWizardRecipients(ctx context.Context, reader *bufio.Reader) ([]string, error) {
	var collected []string
	for {
		value, err := o.askWizardRecipient(ctx, reader)
		if err != nil {
			return nil, err
		}
		if value != "" {
			collected = append(collected, value)
		}

		again, err := wizardConfirm(ctx, reader, "Add another recipient? [y/N]: ")
		if err != nil {
			return nil, err
		}
		if !again {
			break
		}
	}
	if len(collected) == 0 {
		return nil, fmt.Errorf("no recipients provided")
	}
	return collected, nil
}

// retireExistingRecipients handles --newkey against an already populated
// recipient file: confirm with the user, then move the old file aside.
func (o *Orchestrator) retireExistingRecipients(ctx context.Context, reader *bufio.Reader, path string) error {
	if !o.forceNewAgeRecipient || path == "" {
		return nil
	}
	switch _, err := os.Stat(path); {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("inspect existing AGE recipients at %s: %w", path, err)
	}

	fmt.Printf("WARNING: this will replace the AGE recipients stored at %s. Existing backups remain decryptable with your old private key.\n", path)
	confirm, err := wizardConfirm(ctx, reader, fmt.Sprintf("Delete %s and enter a new recipient? [y/N]: ", path))
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("operation aborted by user")
	}
	if err := backupExistingRecipientFile(path); err != nil {
		fmt.Printf("NOTE: %v\n", err)
	}
	return nil
}

// askWizardRecipient renders the menu until one recipient is produced or the
// user exits. Recoverable input mistakes loop back to the menu.
func (o *Orchestrator) askWizardRecipient(ctx context.Context, reader *bufio.Reader) (string, error) {
	exitKey := ageWizardChoices[len(ageWizardChoices)-1].key
	for {
		fmt.Println()
		for _, choice := range ageWizardChoices {
			fmt.Printf("[%s] %s\n", choice.key, choice.label)
		}

		option, err := wizardMenuChoice(ctx, reader)
		if err != nil {
			return "", err
		}
		if option == exitKey {
			return "", ErrAgeRecipientSetupAborted
		}

		value, err := o.wizardRecipientFor(ctx, reader, option)
		if err != nil {
			o.logger.Warning("Encryption setup: %v", err)
			continue
		}
		return value, nil
	}
}

func (o *Orchestrator) wizardRecipientFor(ctx context.Context, reader *bufio.Reader, option string) (string, error) {
	switch option {
	case "1":
		return promptPublicRecipient(ctx, reader)
	case "2":
		value, err := promptPassphraseRecipient(ctx)
		if err == nil {
			o.logger.Info("Derived deterministic AGE public key from passphrase (no secrets stored)")
		}
		return value, err
	case "3":
		return promptPrivateKeyRecipient(ctx)
	}
	return "", fmt.Errorf("unknown option %q", option)
}

// wizardReadLine reads a line and maps user aborts to the wizard sentinel.
func wizardReadLine(ctx context.Context, r *bufio.Reader) (string, error) {
	line, err := input.ReadLineWithContext(ctx, r)
	if input.IsAborted(err) {
		return "", ErrAgeRecipientSetupAborted
	}
	return line, err
}

// wizardReadSecret reads without echo and maps user aborts to the wizard
// sentinel.
func wizardReadSecret(ctx context.Context) ([]byte, error) {
	b, err := input.ReadPasswordWithContext(ctx, readPassword, int(os.Stdin.Fd()))
	if input.IsAborted(err) {
		return nil, ErrAgeRecipientSetupAborted
	}
	return b, err
}

func wizardMenuChoice(ctx context.Context, reader *bufio.Reader) (string, error) {
	last := ageWizardChoices[len(ageWizardChoices)-1].key
	for {
		fmt.Printf("Select an option [1-%s]: ", last)
		line, err := wizardReadLine(ctx, reader)
		if err != nil {
			return "", err
		}
		answer := strings.TrimSpace(line)
		if answer == "" {
			continue
		}
		known := slices.ContainsFunc(ageWizardChoices, func(c wizardChoice) bool {
			return c.key == answer
		})
		if known {
			return answer, nil
		}
		fmt.Printf("Please enter a number between 1 and %s.\n", last)
	}
}

func wizardConfirm(ctx context.Context, reader *bufio.Reader, prompt string) (bool, error) {
	fmt.Print(prompt)
	line, err := wizardReadLine(ctx, reader)
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func promptPublicRecipient(ctx context.Context, reader *bufio.Reader) (string, error) {
	fmt.Print("Paste the AGE public recipient (starts with \"age1\") and press Enter: ")
	line, err := wizardReadLine(ctx, reader)
	if err != nil {
		return "", err
	}
	if value := strings.TrimSpace(line); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("recipient cannot be empty")
}

func promptPrivateKeyRecipient(ctx context.Context) (string, error) {
	key, err := readTrimmedSecret(ctx, "Paste the AGE private key (not stored; input is not echoed) and press Enter: ")
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)

	if len(key) == 0 {
		return "", fmt.Errorf("private key cannot be empty")
	}
	id, err := age.ParseX25519Identity(string(key))
	if err != nil {
		return "", fmt.Errorf("parse AGE private key: %w", err)
	}
	return id.Recipient().String(), nil
}

func promptPassphraseRecipient(ctx context.Context) (string, error) {
	phrase, err := promptAndConfirmPassphrase(ctx)
	if err != nil {
		return "", err
	}
	defer resetString(&phrase)
	return deriveDeterministicRecipientFromPassphrase(phrase)
}

// promptAndConfirmPassphrase asks for the passphrase twice and enforces the
// strength policy before accepting it.
func promptAndConfirmPassphrase(ctx context.Context) (string, error) {
	first, err := readTrimmedSecret(ctx, "Enter the passphrase that will derive your AGE public key (input is not echoed): ")
	if err != nil {
		return "", err
	}
	defer zeroBytes(first)

	if len(first) == 0 {
		return "", fmt.Errorf("passphrase cannot be empty")
	}
	if err := validatePassphraseStrength(first); err != nil {
		return "", err
	}

	second, err := readTrimmedSecret(ctx, "Re-enter the passphrase to confirm: ")
	if err != nil {
		return "", err
	}
	defer zeroBytes(second)

	if len(second) == 0 {
		return "", fmt.Errorf("confirmation cannot be empty")
	}
	if !bytes.Equal(first, second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

// readTrimmedSecret prompts, reads without echo, and returns the secret with
// surrounding whitespace removed. The raw buffer is zeroed before returning.
func readTrimmedSecret(ctx context.Context, prompt string) ([]byte, error) {
	fmt.Print(prompt)
	raw, err := wizardReadSecret(ctx)
	fmt.Println()
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	out := make([]byte, len(trimmed))
	copy(out, trimmed)
	zeroBytes(raw)
	return out, nil
}

func dedupeRecipientStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func parseRecipientStrings(values []string) ([]age.Recipient, error) {
	deduped := dedupeRecipientStrings(values)
	if len(deduped) == 0 {
		return nil, fmt.Errorf("no usable AGE recipients")
	}
	out := make([]age.Recipient, 0, len(deduped))
	for _, v := range deduped {
		r, err := parseRecipientString(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// parseRecipientString accepts native age recipients and SSH public keys.
func parseRecipientString(value string) (age.Recipient, error) {
	if strings.HasPrefix(value, "age1") {
		return age.ParseX25519Recipient(value)
	}
	if strings.HasPrefix(strings.ToLower(value), "ssh-") {
		return agessh.ParseRecipient(value)
	}
	return nil, fmt.Errorf("unsupported AGE recipient format: %s", value)
}

// readRecipientFile returns the non-comment lines of a recipients file.
func readRecipientFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, raw := range strings.Split(string(data), "\n") {
		entry := strings.TrimSpace(raw)
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func writeRecipientFile(path string, entries []string) error {
	if len(entries) == 0 {
		return fmt.Errorf("refusing to write an empty recipient file")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create recipient directory %s: %w", dir, err)
	}
	payload := []byte(strings.Join(entries, "\n") + "\n")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write recipient file: %w", err)
	}
	// WriteFile mode is umask-filtered; force the final mode.
	return os.Chmod(path, 0o600)
}

func cloneRecipients(in []age.Recipient) []age.Recipient {
	if len(in) == 0 {
		return nil
	}
	return slices.Clone(in)
}

// backupExistingRecipientFile moves an old recipients file to a timestamped
// .bak sibling. When rename fails it falls back to removing the original so
// the new file can land.
func backupExistingRecipientFile(path string) error {
	if path == "" {
		return nil
	}
	switch _, err := os.Stat(path); {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	}

	stamped := fmt.Sprintf("%s.bak-%s", path, time.Now().Format("20060102-150405"))
	err := os.Rename(path, stamped)
	if err == nil {
		return nil
	}
	if removeErr := os.Remove(path); removeErr != nil {
		return fmt.Errorf("back up recipient file: %w (remove also failed: %v)", err, removeErr)
	}
	return fmt.Errorf("rename to %s failed, removed original instead: %w", filepath.Base(stamped), err)
}

// DeriveDeterministicRecipientFromPassphrase derives an AGE recipient from a
// passphrase. Exported for the TUI wizard.
func DeriveDeterministicRecipientFromPassphrase(phrase string) (string, error) {
	return deriveDeterministicRecipientFromPassphrase(phrase)
}

func deriveDeterministicRecipientFromPassphrase(phrase string) (string, error) {
	return deriveDeterministicRecipientFromPassphraseWithSalt(phrase, passphraseRecipientSalt)
}

func deriveDeterministicRecipientFromPassphraseWithSalt(phrase, salt string) (string, error) {
	scalar, err := deriveCurve25519ScalarFromPassphraseWithSalt(phrase, salt)
	if err != nil {
		return "", err
	}
	point, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("compute X25519 public key: %w", err)
	}
	encoded, err := bech32.Encode("age", point)
	if err != nil {
		return "", fmt.Errorf("encode age recipient: %w", err)
	}
	return encoded, nil
}

// clampCurve25519Scalar applies the standard X25519 clamping in place.
func clampCurve25519Scalar(k []byte) {
	if len(k) != curve25519.ScalarSize {
		return
	}
	k[0] &= 0xf8
	k[31] &= 0x7f
	k[31] |= 0x40
}

func deriveCurve25519ScalarFromPassphrase(phrase string) ([]byte, error) {
	return deriveCurve25519ScalarFromPassphraseWithSalt(phrase, passphraseRecipientSalt)
}

func deriveCurve25519ScalarFromPassphraseWithSalt(phrase, salt string) ([]byte, error) {
	scalar, err := scrypt.Key([]byte(phrase), []byte(salt), passphraseScryptN, passphraseScryptR, passphraseScryptP, curve25519.ScalarSize)
	if err != nil {
		return nil, fmt.Errorf("stretch passphrase: %w", err)
	}
	clampCurve25519Scalar(scalar)
	return scalar, nil
}

func deriveDeterministicIdentityFromPassphrase(phrase string) (age.Identity, error) {
	return deriveDeterministicIdentityFromPassphraseWithSalt(phrase, passphraseRecipientSalt)
}

func deriveDeterministicIdentityFromPassphraseWithSalt(phrase, salt string) (age.Identity, error) {
	scalar, err := deriveCurve25519ScalarFromPassphraseWithSalt(phrase, salt)
	if err != nil {
		return nil, err
	}
	encoded, err := bech32.Encode("AGE-SECRET-KEY-", scalar)
	if err != nil {
		return nil, fmt.Errorf("encode age identity: %w", err)
	}
	return age.ParseX25519Identity(strings.ToUpper(encoded))
}

// deriveDeterministicIdentitiesFromPassphrase produces one identity per
// historical salt so archives encrypted under any salt generation decrypt.
func deriveDeterministicIdentitiesFromPassphrase(phrase string) ([]age.Identity, error) {
	seen := make(map[string]struct{}, len(passphraseSalts))
	ids := make([]age.Identity, 0, len(passphraseSalts))
	for _, salt := range passphraseSalts {
		rec, err := deriveDeterministicRecipientFromPassphraseWithSalt(phrase, salt)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[rec]; dup {
			continue
		}
		id, err := deriveDeterministicIdentityFromPassphraseWithSalt(phrase, salt)
		if err != nil {
			return nil, err
		}
		seen[rec] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// validatePassphraseStrength enforces the minimum length, a three-of-four
// character class mix, and a denylist of common passwords.
func validatePassphraseStrength(pass []byte) error {
	phrase := string(pass)
	if len(phrase) < minPassphraseLength {
		return fmt.Errorf("passphrase must be at least %d characters long", minPassphraseLength)
	}
	if countCharClasses(phrase) < 3 {
		return fmt.Errorf("passphrase must mix at least three of: uppercase, lowercase, digits, symbols")
	}
	if _, weak := weakPassphrases[strings.ToLower(phrase)]; weak {
		return fmt.Errorf("passphrase is too common; choose a more unique phrase")
	}
	return nil
}

// countCharClasses reports how many of the four character classes appear in
// the phrase.
func countCharClasses(phrase string) int {
	var lower, upper, digit, symbol bool
	for _, r := range phrase {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	classes := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			classes++
		}
	}
	return classes
}
