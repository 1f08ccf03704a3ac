package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"filippo.io/age"

	"github.com/tis24dev/homesave/internal/config"
	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/types"
)

func newEncOrchestrator(cfg *config.Config) *Orchestrator {
	return &Orchestrator{cfg: cfg, logger: logging.New(types.LogLevelError, false)}
}

func TestPassphraseStrengthRules(t *testing.T) {
	cases := map[string]bool{
		"Str0ng!Passphrase":    false,
		"Short1!":              true,
		"alllowercasepassword": true,
		"Password":             true,
		"Homesave2024Backup":   false,
	}
	for phrase, wantErr := range cases {
		err := validatePassphraseStrength([]byte(phrase))
		if gotErr := err != nil; gotErr != wantErr {
			t.Errorf("validatePassphraseStrength(%q) error = %v, wantErr %v", phrase, err, wantErr)
		}
	}
}

func TestRecipientCollectionMergesSources(t *testing.T) {
	recFile := filepath.Join(t.TempDir(), "recipients.txt")
	content := "age1fromfile\n# team key\n\nssh-ed25519 AAAAC3Nzb\n"
	if err := os.WriteFile(recFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	orch := newEncOrchestrator(&config.Config{
		EncryptArchive:   true,
		AgeRecipients:    []string{" age1mainkey ", "age1mainkey"},
		AgeRecipientFile: recFile,
	})

	got, fromFile, err := orch.collectRecipientStrings()
	if err != nil {
		t.Fatalf("collectRecipientStrings() error = %v", err)
	}
	if fromFile != recFile {
		t.Errorf("candidate path = %q, want %q", fromFile, recFile)
	}
	want := []string{"age1mainkey", "age1fromfile", "ssh-ed25519 AAAAC3Nzb"}
	if !slices.Equal(got, want) {
		t.Errorf("recipients = %v, want %v", got, want)
	}
}

func TestRecipientCollectionToleratesMissingFile(t *testing.T) {
	orch := newEncOrchestrator(&config.Config{
		EncryptArchive:   true,
		AgeRecipients:    []string{"age1mainkey"},
		AgeRecipientFile: filepath.Join(t.TempDir(), "does-not-exist.txt"),
	})

	got, _, err := orch.collectRecipientStrings()
	if err != nil {
		t.Fatalf("collectRecipientStrings() error = %v", err)
	}
	if !slices.Equal(got, []string{"age1mainkey"}) {
		t.Errorf("recipients = %v, want just the config entry", got)
	}
}

func TestPreparedRecipientsComeFromCache(t *testing.T) {
	ident, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	orch := newEncOrchestrator(&config.Config{
		EncryptArchive: true,
		AgeRecipients:  []string{ident.Recipient().String()},
	})

	initial, err := orch.prepareAgeRecipients(context.Background())
	if err != nil {
		t.Fatalf("prepareAgeRecipients() error = %v", err)
	}
	if len(initial) != 1 {
		t.Fatalf("prepareAgeRecipients() returned %d recipients, want 1", len(initial))
	}

	// The cache must survive the config entries going away.
	orch.cfg.AgeRecipients = nil
	cached, err := orch.prepareAgeRecipients(context.Background())
	if err != nil {
		t.Fatalf("prepareAgeRecipients() from cache: %v", err)
	}
	if len(cached) != 1 || fmt.Sprint(cached[0]) != fmt.Sprint(initial[0]) {
		t.Errorf("cached recipients = %v, want %v", cached, initial)
	}
}

func TestPrepareAgeRecipientsNoEncryptionNoop(t *testing.T) {
	orch := newEncOrchestrator(&config.Config{EncryptArchive: false})
	got, err := orch.prepareAgeRecipients(context.Background())
	if err != nil {
		t.Fatalf("prepareAgeRecipients() error = %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil recipients when encryption disabled, got %v", got)
	}
}

func TestEnsureAgeRecipientsReadyDisabled(t *testing.T) {
	orch := newEncOrchestrator(&config.Config{EncryptArchive: false})
	if err := orch.EnsureAgeRecipientsReady(context.Background()); err != nil {
		t.Fatalf("EnsureAgeRecipientsReady() error = %v", err)
	}

	var nilOrch *Orchestrator
	if err := nilOrch.EnsureAgeRecipientsReady(context.Background()); err != nil {
		t.Fatalf("nil orchestrator should be a noop, got %v", err)
	}
}

func TestRecipientFileRoundTrip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "identity", "age", "recipient.txt")
	wantLines := []string{"age1alpha", "ssh-ed25519 BBBB9x"}
	if err := writeRecipientFile(dest, wantLines); err != nil {
		t.Fatalf("writeRecipientFile: %v", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("recipient file mode = %o, want 0600", got)
	}

	got, err := readRecipientFile(dest)
	if err != nil {
		t.Fatalf("readRecipientFile: %v", err)
	}
	if !slices.Equal(got, wantLines) {
		t.Errorf("readRecipientFile() = %v, want %v", got, wantLines)
	}
}

func TestWriteRecipientFileRejectsEmpty(t *testing.T) {
	if err := writeRecipientFile(filepath.Join(t.TempDir(), "r.txt"), nil); err == nil {
		t.Fatal("expected writeRecipientFile to fail with no recipients")
	}
}

func TestRecipientDeduplication(t *testing.T) {
	raw := []string{" age1alpha ", "", "age1alpha", "ssh-ed25519 CCC", "ssh-ed25519 CCC"}
	want := []string{"age1alpha", "ssh-ed25519 CCC"}
	if got := dedupeRecipientStrings(raw); !slices.Equal(got, want) {
		t.Errorf("dedupeRecipientStrings(%v) = %v, want %v", raw, got, want)
	}
}

func TestParseRecipientString(t *testing.T) {
	ident, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	if _, err := parseRecipientString(ident.Recipient().String()); err != nil {
		t.Errorf("valid age1 recipient rejected: %v", err)
	}
	if _, err := parseRecipientString("not-valid"); err == nil {
		t.Error("expected error for unsupported recipient format")
	}
	if _, err := parseRecipientString("age1notarealkey"); err == nil {
		t.Error("expected error for malformed age1 recipient")
	}
}

func TestParseRecipientListRejectsInvalid(t *testing.T) {
	for _, bad := range [][]string{{"not-valid"}, nil} {
		if _, err := parseRecipientStrings(bad); err == nil {
			t.Errorf("parseRecipientStrings(%v) = nil error, want failure", bad)
		}
	}
}

func TestRecipientFileBackupMovesOriginal(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "age.txt")
	if err := os.WriteFile(target, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := backupExistingRecipientFile(target); err != nil {
		t.Fatalf("backupExistingRecipientFile: %v", err)
	}
	backups, err := filepath.Glob(target + ".bak-*")
	if err != nil || len(backups) != 1 {
		t.Fatalf("timestamped copy missing: matches %v, err %v", backups, err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("original should be moved aside, stat err = %v", err)
	}

	// Missing or empty paths are noops.
	for _, noop := range []string{"", filepath.Join(dir, "missing.txt")} {
		if err := backupExistingRecipientFile(noop); err != nil {
			t.Errorf("backupExistingRecipientFile(%q) = %v, want nil", noop, err)
		}
	}
}

func TestDefaultAgeRecipientFile(t *testing.T) {
	orch := newEncOrchestrator(&config.Config{BaseDir: "/opt/homesave"})
	want := "/opt/homesave/identity/age/recipient.txt"
	if got := orch.defaultAgeRecipientFile(); got != want {
		t.Fatalf("defaultAgeRecipientFile() = %s, want %s", got, want)
	}

	orch = newEncOrchestrator(&config.Config{})
	if got := orch.defaultAgeRecipientFile(); got != "" {
		t.Fatalf("expected empty default without BaseDir, got %s", got)
	}
}

func TestDeriveDeterministicRecipientFromPassphrase(t *testing.T) {
	t.Run("deterministic output", func(t *testing.T) {
		passphrase := "TestPassphrase123!"

		rec1, err1 := deriveDeterministicRecipientFromPassphrase(passphrase)
		rec2, err2 := deriveDeterministicRecipientFromPassphrase(passphrase)

		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors: %v, %v", err1, err2)
		}
		if rec1 != rec2 {
			t.Errorf("derivation not deterministic: %q != %q", rec1, rec2)
		}
	})

	t.Run("different passphrases differ", func(t *testing.T) {
		rec1, _ := deriveDeterministicRecipientFromPassphrase("Passphrase1!")
		rec2, _ := deriveDeterministicRecipientFromPassphrase("Passphrase2!")
		if rec1 == rec2 {
			t.Error("different passphrases produced same recipient")
		}
	})

	t.Run("output starts with age1", func(t *testing.T) {
		rec, err := deriveDeterministicRecipientFromPassphrase("MyTestPass123!")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(rec, "age1") {
			t.Errorf("recipient should start with 'age1'; got %q", rec)
		}
	})

	t.Run("recipient is parseable", func(t *testing.T) {
		rec, err := deriveDeterministicRecipientFromPassphrase("MyTestPass123!")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := age.ParseX25519Recipient(rec); err != nil {
			t.Errorf("derived recipient does not parse: %v", err)
		}
	})
}

func TestDeriveDeterministicIdentityMatchesRecipient(t *testing.T) {
	passphrase := "MatchTest789!"

	identity, err := deriveDeterministicIdentityFromPassphrase(passphrase)
	if err != nil {
		t.Fatalf("identity error: %v", err)
	}
	rec, err := deriveDeterministicRecipientFromPassphrase(passphrase)
	if err != nil {
		t.Fatalf("recipient error: %v", err)
	}

	x25519, ok := identity.(*age.X25519Identity)
	if !ok {
		t.Fatalf("identity type = %T, want *age.X25519Identity", identity)
	}
	if x25519.Recipient().String() != rec {
		t.Errorf("identity.Recipient() = %q; want %q", x25519.Recipient().String(), rec)
	}
}

func TestDeriveDeterministicIdentitiesDecryptRoundTrip(t *testing.T) {
	passphrase := "RoundTrip!Pass99"

	recipientStr, err := deriveDeterministicRecipientFromPassphrase(passphrase)
	if err != nil {
		t.Fatalf("derive recipient: %v", err)
	}
	rec, err := age.ParseX25519Recipient(recipientStr)
	if err != nil {
		t.Fatalf("parse recipient: %v", err)
	}

	plaintext := []byte("the quick brown fox")
	var encrypted bytes.Buffer
	w, err := age.Encrypt(&encrypted, rec)
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		t.Fatalf("write plaintext: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close encryptor: %v", err)
	}

	identities, err := deriveDeterministicIdentitiesFromPassphrase(passphrase)
	if err != nil {
		t.Fatalf("derive identities: %v", err)
	}
	if len(identities) == 0 {
		t.Fatal("expected at least one derived identity")
	}

	r, err := age.Decrypt(&encrypted, identities...)
	if err != nil {
		t.Fatalf("age.Decrypt: %v", err)
	}
	decrypted, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read decrypted: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestClampCurve25519Scalar(t *testing.T) {
	key, err := deriveCurve25519ScalarFromPassphrase("anypass")
	if err != nil {
		t.Fatalf("derive scalar: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d; want 32", len(key))
	}
	if (key[0] & 0x07) != 0 {
		t.Error("key[0] not properly clamped")
	}
	if (key[31] & 0x80) != 0 {
		t.Error("key[31] high bit not cleared")
	}
	if (key[31] & 0x40) == 0 {
		t.Error("key[31] bit 6 not set")
	}

	// Wrong-size input must be left alone
	short := []byte{0xff, 0xff}
	clampCurve25519Scalar(short)
	if short[0] != 0xff || short[1] != 0xff {
		t.Error("clamp should not touch wrong-size slices")
	}
}

func TestCloneRecipients(t *testing.T) {
	if cloneRecipients(nil) != nil {
		t.Fatal("cloneRecipients(nil) should be nil")
	}

	ident, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	src := []age.Recipient{ident.Recipient()}
	dst := cloneRecipients(src)
	if len(dst) != 1 || dst[0] != src[0] {
		t.Fatalf("clone mismatch: %v vs %v", dst, src)
	}
	dst[0] = nil
	if src[0] == nil {
		t.Fatal("mutating clone must not affect source")
	}
}
