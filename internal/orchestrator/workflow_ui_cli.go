package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/homesave/internal/category"
	"github.com/tis24dev/homesave/internal/input"
	"github.com/tis24dev/homesave/internal/logging"
)

// progressRepeatInterval throttles identical progress lines so a tight
// reporting loop cannot flood the terminal.
const progressRepeatInterval = 2 * time.Second

type cliWorkflowUI struct {
	logger *logging.Logger
	reader *bufio.Reader
}

func newCLIWorkflowUI(reader *bufio.Reader, logger *logging.Logger) *cliWorkflowUI {
	ui := &cliWorkflowUI{logger: logger, reader: reader}
	if ui.reader == nil {
		ui.reader = bufio.NewReader(os.Stdin)
	}
	if ui.logger == nil {
		ui.logger = logging.GetDefaultLogger()
	}
	return ui
}

// promptLine reads one line of input and trims surrounding whitespace.
func (u *cliWorkflowUI) promptLine(ctx context.Context) (string, error) {
	line, err := input.ReadLineWithContext(ctx, u.reader)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// progressPrinter writes task progress to stderr, suppressing a message that
// repeats within progressRepeatInterval.
type progressPrinter struct {
	last     string
	lastTime time.Time
}

func (p *progressPrinter) print(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	now := time.Now()
	if message == p.last && now.Sub(p.lastTime) < progressRepeatInterval {
		return
	}
	p.last, p.lastTime = message, now
	fmt.Fprintln(os.Stderr, message)
}

func (u *cliWorkflowUI) RunTask(ctx context.Context, title, initialMessage string, run func(ctx context.Context, report ProgressReporter) error) error {
	for _, line := range []string{title, initialMessage} {
		if line = strings.TrimSpace(line); line != "" {
			fmt.Fprintln(os.Stderr, line)
		}
	}
	printer := &progressPrinter{}
	return run(ctx, printer.print)
}

// announce prints an optional title and body to the given stream.
func announce(w io.Writer, title, message string) error {
	if title = strings.TrimSpace(title); title != "" {
		fmt.Fprintf(w, "\n%s\n", title)
	}
	if message = strings.TrimSpace(message); message != "" {
		fmt.Fprintln(w, message)
	}
	return nil
}

func (u *cliWorkflowUI) ShowMessage(ctx context.Context, title, body string) error {
	return announce(os.Stdout, title, body)
}

func (u *cliWorkflowUI) ShowError(ctx context.Context, title, body string) error {
	return announce(os.Stderr, title, body)
}

func (u *cliWorkflowUI) SelectBackupCandidate(ctx context.Context, candidates []*restoreCandidate) (*restoreCandidate, error) {
	for {
		fmt.Println("\nAvailable backups:")
		for idx, cand := range candidates {
			created := cand.CreatedAt.Format("2006-01-02 15:04:05")
			status := "PLAIN"
			if cand.Encrypted {
				status = "ENCRYPTED"
			}
			fmt.Printf("  [%d] %s • %s • %s • %s\n", idx+1, created, status, titleCaser.String(cand.Kind.String()), cand.DisplayBase)
		}
		fmt.Println("  [0] Exit")

		fmt.Print("Choice: ")
		choice, err := u.promptLine(ctx)
		if err != nil {
			return nil, err
		}
		switch choice {
		case "0":
			return nil, ErrDecryptAborted
		case "":
			continue
		}
		idx, err := parseMenuIndex(choice, len(candidates))
		if err != nil {
			fmt.Println(err)
			continue
		}
		return candidates[idx], nil
	}
}

func (u *cliWorkflowUI) PromptDestinationDir(ctx context.Context, fallback string) (string, error) {
	target := strings.TrimSpace(fallback)
	if target == "" {
		target = "./decrypted"
	}
	fmt.Printf("\nDestination directory for the decrypted archive [Enter = %s]: ", target)
	answer, err := u.promptLine(ctx)
	if err != nil {
		return "", err
	}
	if answer != "" {
		target = answer
	}
	return filepath.Clean(target), nil
}

func (u *cliWorkflowUI) ResolveExistingPath(ctx context.Context, path, detail, failure string) (ExistingPathDecision, string, error) {
	if failure = strings.TrimSpace(failure); failure != "" {
		fmt.Fprintln(os.Stderr, failure)
	}

	kind := strings.TrimSpace(detail)
	if kind == "" {
		kind = "file"
	}
	fmt.Printf("%s %s already exists.\n", titleCaser.String(kind), filepath.Clean(path))
	fmt.Println("  [1] Overwrite it")
	fmt.Println("  [2] Choose another path")
	fmt.Println("  [0] Exit")

	for {
		fmt.Print("Choice: ")
		answer, err := u.promptLine(ctx)
		if err != nil {
			return PathDecisionCancel, "", err
		}
		switch answer {
		case "1":
			return PathDecisionOverwrite, "", nil
		case "2":
			fmt.Print("New path: ")
			replacement, err := u.promptLine(ctx)
			if err != nil {
				return PathDecisionCancel, "", err
			}
			if replacement == "" {
				continue
			}
			return PathDecisionNewPath, filepath.Clean(replacement), nil
		case "0":
			return PathDecisionCancel, "", ErrDecryptAborted
		default:
			fmt.Println("Please enter 1, 2 or 0.")
		}
	}
}

func (u *cliWorkflowUI) PromptDecryptSecret(ctx context.Context, label, lastError string) (string, error) {
	if lastError = strings.TrimSpace(lastError); lastError != "" {
		fmt.Fprintln(os.Stderr, lastError)
	}

	prompt := "Enter the decryption key, identity file path or passphrase (0 to exit): "
	if name := strings.TrimSpace(label); name != "" {
		prompt = fmt.Sprintf("Enter the decryption key, identity file path or passphrase for %s (0 to exit): ", name)
	}
	fmt.Print(prompt)

	secretBytes, err := input.ReadPasswordWithContext(ctx, readPassword, int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(secretBytes))
	zeroBytes(secretBytes)

	switch secret {
	case "":
		return "", nil
	case "0":
		return "", ErrDecryptAborted
	}
	return secret, nil
}

func (u *cliWorkflowUI) SelectRestoreMode(ctx context.Context) (RestoreMode, error) {
	fmt.Println()
	fmt.Println("Select restore mode:")
	fmt.Println("  [1] FULL restore - Restore every category found in the backup")
	fmt.Println("  [2] CUSTOM selection - Choose specific categories")
	fmt.Println("  [0] Cancel")
	fmt.Print("Choice: ")

	for {
		line, err := u.promptLine(ctx)
		if err != nil {
			if errors.Is(err, input.ErrInputAborted) || errors.Is(err, context.Canceled) {
				return "", ErrRestoreAborted
			}
			return "", err
		}

		switch line {
		case "1":
			return RestoreModeFull, nil
		case "2":
			return RestoreModeCustom, nil
		case "0":
			return "", ErrRestoreAborted
		default:
			fmt.Println("Invalid choice. Please try again.")
			fmt.Print("Choice: ")
		}
	}
}

func (u *cliWorkflowUI) SelectCategories(ctx context.Context, available []category.Category) ([]category.Category, error) {
	selected := make(map[int]bool)

	for {
		fmt.Println()
		fmt.Println("═══════════════════════════════════════════════════════════════")
		fmt.Println("CUSTOM CATEGORY SELECTION")
		fmt.Println("═══════════════════════════════════════════════════════════════")
		fmt.Println()

		for i, cat := range available {
			checkbox := "[ ]"
			if selected[i] {
				checkbox = "[X]"
			}
			fmt.Printf("  [%d] %s %s\n", i+1, checkbox, cat.Name)
			fmt.Printf("      %s\n", cat.Description)
		}

		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  1-9    - Toggle category selection")
		fmt.Println("  a      - Select all")
		fmt.Println("  n      - Deselect all")
		fmt.Println("  c      - Continue with selected categories")
		fmt.Println("  0      - Cancel")
		fmt.Print("\nChoice: ")

		line, err := u.promptLine(ctx)
		if err != nil {
			if errors.Is(err, input.ErrInputAborted) || errors.Is(err, context.Canceled) {
				return nil, ErrRestoreAborted
			}
			return nil, err
		}

		choice := strings.ToLower(line)
		switch choice {
		case "a":
			for i := range available {
				selected[i] = true
			}
		case "n":
			selected = make(map[int]bool)
		case "c":
			var picked []category.Category
			for i, cat := range available {
				if selected[i] {
					picked = append(picked, cat)
				}
			}
			if len(picked) == 0 {
				fmt.Println()
				fmt.Println("⚠ Warning: No categories selected. Please select at least one category.")
				continue
			}
			return picked, nil
		case "0":
			return nil, ErrRestoreAborted
		default:
			num, err := strconv.Atoi(choice)
			if err != nil || num < 1 || num > len(available) {
				fmt.Println("Invalid choice. Please try again.")
				continue
			}
			selected[num-1] = !selected[num-1]
		}
	}
}

func (u *cliWorkflowUI) ShowRestorePlan(ctx context.Context, plan *SelectiveRestoreConfig) error {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("RESTORE PLAN")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	modeName := fmt.Sprintf("CUSTOM selection (%d categories)", len(plan.Categories))
	if plan.Mode == RestoreModeFull {
		modeName = "FULL restore (all categories)"
	}
	fmt.Printf("Backup:       %s\n", plan.BackupName)
	fmt.Printf("Restore mode: %s\n", modeName)
	fmt.Printf("Destination:  %s\n", plan.HomeDir)
	fmt.Println()

	fmt.Println("Categories to restore:")
	for i, cat := range plan.Categories {
		fmt.Printf("  %d. %s\n", i+1, cat.Name)
		fmt.Printf("     %s\n", cat.Description)
	}

	fmt.Println()
	fmt.Println("Files/directories that will be restored:")
	paths := destinationPathsForPlan(plan)
	for _, p := range paths {
		fmt.Printf("  • %s\n", p)
	}

	fmt.Println()
	fmt.Println("⚠ WARNING:")
	if plan.Overwrite {
		fmt.Println("  • Existing files at these locations will be OVERWRITTEN")
	} else {
		fmt.Println("  • Existing files at these locations will be kept (skip policy)")
	}
	fmt.Println("  • Key and credential exports are staged for manual import, never applied")
	fmt.Println("  • Restored secret files are locked down to owner-only access")
	fmt.Println()
	return nil
}

// destinationPathsForPlan lists the home-relative destinations the selected
// categories may write, deduplicated and sorted for display.
func destinationPathsForPlan(plan *SelectiveRestoreConfig) []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, cat := range plan.Categories {
		for _, src := range cat.Sources {
			display := ""
			if src.Kind == category.SourceCommand {
				display = filepath.Join("<base>", "exports", src.OutputName)
			} else {
				display = filepath.Join(plan.HomeDir, src.Path)
			}
			if _, dup := seen[display]; dup {
				continue
			}
			seen[display] = struct{}{}
			paths = append(paths, display)
		}
	}
	sort.Strings(paths)
	return paths
}

func (u *cliWorkflowUI) ConfirmRestore(ctx context.Context) (bool, error) {
	for {
		fmt.Println("═══════════════════════════════════════════════════════════════")
		fmt.Print("Type 'RESTORE' to proceed or 'cancel' to abort: ")

		response, err := u.promptLine(ctx)
		if err != nil {
			if errors.Is(err, input.ErrInputAborted) || errors.Is(err, context.Canceled) {
				return false, ErrRestoreAborted
			}
			return false, err
		}

		if response == "RESTORE" {
			return true, nil
		}
		if strings.ToLower(response) == "cancel" || response == "0" {
			return false, nil
		}
		fmt.Println("Invalid input. Please type 'RESTORE' or 'cancel'.")
	}
}
