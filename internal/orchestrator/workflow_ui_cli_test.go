package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tis24dev/homesave/internal/category"
)

func newScriptedCLIUI(inputText string) *cliWorkflowUI {
	return newCLIWorkflowUI(bufio.NewReader(strings.NewReader(inputText)), newRestoreTestLogger())
}

func cliTestCandidates() []*restoreCandidate {
	created := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return []*restoreCandidate{
		{SelectionName: "first.tar.gz", DisplayBase: "first", CreatedAt: created, Kind: RestoreKindSingleArchive},
		{SelectionName: "second.tar.gz.age.aa", DisplayBase: "second", CreatedAt: created.Add(-time.Hour), Encrypted: true, Kind: RestoreKindShardSet},
	}
}

func TestCLISelectBackupCandidate(t *testing.T) {
	// An out-of-range choice re-prompts; "2" then picks the second entry.
	ui := newScriptedCLIUI("5\n2\n")
	cand, err := ui.SelectBackupCandidate(context.Background(), cliTestCandidates())
	if err != nil {
		t.Fatalf("SelectBackupCandidate: %v", err)
	}
	if cand.SelectionName != "second.tar.gz.age.aa" {
		t.Errorf("picked %q; want the second candidate", cand.SelectionName)
	}
}

func TestCLISelectBackupCandidateExit(t *testing.T) {
	ui := newScriptedCLIUI("0\n")
	_, err := ui.SelectBackupCandidate(context.Background(), cliTestCandidates())
	if !errors.Is(err, ErrDecryptAborted) {
		t.Fatalf("error = %v; want ErrDecryptAborted", err)
	}
}

func TestCLISelectRestoreMode(t *testing.T) {
	tests := []struct {
		input   string
		want    RestoreMode
		wantErr error
	}{
		{"1\n", RestoreModeFull, nil},
		{"2\n", RestoreModeCustom, nil},
		{"x\n1\n", RestoreModeFull, nil},
		{"0\n", "", ErrRestoreAborted},
	}
	for _, tt := range tests {
		ui := newScriptedCLIUI(tt.input)
		got, err := ui.SelectRestoreMode(context.Background())
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("input %q: error = %v; want %v", tt.input, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("input %q: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("input %q: mode = %v; want %v", tt.input, got, tt.want)
		}
	}
}

func TestCLISelectCategoriesToggleAndContinue(t *testing.T) {
	registry := category.DefaultRegistry(category.Options{})
	available := []category.Category{
		mustGetCategory(t, registry, "ssh"),
		mustGetCategory(t, registry, "shell"),
		mustGetCategory(t, registry, "git"),
	}

	// Toggle 1 and 3, then continue.
	ui := newScriptedCLIUI("1\n3\nc\n")
	picked, err := ui.SelectCategories(context.Background(), available)
	if err != nil {
		t.Fatalf("SelectCategories: %v", err)
	}
	if len(picked) != 2 || picked[0].Name != "ssh" || picked[1].Name != "git" {
		names := make([]string, len(picked))
		for i, cat := range picked {
			names[i] = cat.Name
		}
		t.Errorf("picked %v; want [ssh git]", names)
	}
}

func TestCLISelectCategoriesSelectAllAndNone(t *testing.T) {
	registry := category.DefaultRegistry(category.Options{})
	available := []category.Category{
		mustGetCategory(t, registry, "ssh"),
		mustGetCategory(t, registry, "shell"),
	}

	ui := newScriptedCLIUI("a\nc\n")
	picked, err := ui.SelectCategories(context.Background(), available)
	if err != nil {
		t.Fatalf("SelectCategories: %v", err)
	}
	if len(picked) != 2 {
		t.Errorf("select-all picked %d categories; want 2", len(picked))
	}

	// Deselect-all leaves nothing, continuing is refused until a category
	// is toggled back on.
	ui = newScriptedCLIUI("a\nn\nc\n2\nc\n")
	picked, err = ui.SelectCategories(context.Background(), available)
	if err != nil {
		t.Fatalf("SelectCategories: %v", err)
	}
	if len(picked) != 1 || picked[0].Name != "shell" {
		t.Errorf("picked %v; want [shell]", picked)
	}
}

func TestCLISelectCategoriesCancel(t *testing.T) {
	registry := category.DefaultRegistry(category.Options{})
	available := []category.Category{mustGetCategory(t, registry, "ssh")}

	ui := newScriptedCLIUI("0\n")
	_, err := ui.SelectCategories(context.Background(), available)
	if !errors.Is(err, ErrRestoreAborted) {
		t.Fatalf("error = %v; want ErrRestoreAborted", err)
	}
}

func TestCLIConfirmRestore(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"RESTORE\n", true},
		{"cancel\n", false},
		{"0\n", false},
		// Wrong casing is rejected, then the exact word is accepted.
		{"restore\nRESTORE\n", true},
	}
	for _, tt := range tests {
		ui := newScriptedCLIUI(tt.input)
		got, err := ui.ConfirmRestore(context.Background())
		if err != nil {
			t.Errorf("input %q: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("input %q: confirmed = %v; want %v", tt.input, got, tt.want)
		}
	}
}

func TestCLIPromptDestinationDir(t *testing.T) {
	ui := newScriptedCLIUI("\n")
	got, err := ui.PromptDestinationDir(context.Background(), "/backups/decrypted")
	if err != nil {
		t.Fatalf("PromptDestinationDir: %v", err)
	}
	if got != "/backups/decrypted" {
		t.Errorf("empty input = %q; want the default", got)
	}

	ui = newScriptedCLIUI("  /data/out//sub  \n")
	got, err = ui.PromptDestinationDir(context.Background(), "/backups/decrypted")
	if err != nil {
		t.Fatalf("PromptDestinationDir: %v", err)
	}
	if got != "/data/out/sub" {
		t.Errorf("custom input = %q; want cleaned /data/out/sub", got)
	}
}

func TestCLIResolveExistingPath(t *testing.T) {
	ui := newScriptedCLIUI("1\n")
	decision, _, err := ui.ResolveExistingPath(context.Background(), "/tmp/x.tar.gz", "decrypted archive", "")
	if err != nil || decision != PathDecisionOverwrite {
		t.Errorf("overwrite: decision = %v, err = %v", decision, err)
	}

	ui = newScriptedCLIUI("2\n/tmp/elsewhere.tar.gz\n")
	decision, newPath, err := ui.ResolveExistingPath(context.Background(), "/tmp/x.tar.gz", "decrypted archive", "")
	if err != nil || decision != PathDecisionNewPath {
		t.Fatalf("new path: decision = %v, err = %v", decision, err)
	}
	if newPath != "/tmp/elsewhere.tar.gz" {
		t.Errorf("newPath = %q", newPath)
	}

	ui = newScriptedCLIUI("0\n")
	decision, _, err = ui.ResolveExistingPath(context.Background(), "/tmp/x.tar.gz", "decrypted archive", "")
	if decision != PathDecisionCancel || !errors.Is(err, ErrDecryptAborted) {
		t.Errorf("cancel: decision = %v, err = %v", decision, err)
	}

	// Garbage re-prompts until a valid choice arrives.
	ui = newScriptedCLIUI("9\n1\n")
	decision, _, err = ui.ResolveExistingPath(context.Background(), "/tmp/x.tar.gz", "decrypted archive", "")
	if err != nil || decision != PathDecisionOverwrite {
		t.Errorf("retry: decision = %v, err = %v", decision, err)
	}
}

func TestCLIPromptDecryptSecret(t *testing.T) {
	restore := readPassword
	defer func() { readPassword = restore }()

	readPassword = func(int) ([]byte, error) { return []byte("  hunter2  "), nil }
	ui := newScriptedCLIUI("")
	secret, err := ui.PromptDecryptSecret(context.Background(), "backup", "")
	if err != nil {
		t.Fatalf("PromptDecryptSecret: %v", err)
	}
	if secret != "hunter2" {
		t.Errorf("secret = %q; want trimmed hunter2", secret)
	}

	readPassword = func(int) ([]byte, error) { return []byte("0"), nil }
	_, err = ui.PromptDecryptSecret(context.Background(), "backup", "")
	if !errors.Is(err, ErrDecryptAborted) {
		t.Errorf("error = %v; want ErrDecryptAborted", err)
	}

	readPassword = func(int) ([]byte, error) { return nil, nil }
	secret, err = ui.PromptDecryptSecret(context.Background(), "backup", "previous failure shown")
	if err != nil {
		t.Fatalf("PromptDecryptSecret: %v", err)
	}
	if secret != "" {
		t.Errorf("secret = %q; want empty for empty input", secret)
	}
}
