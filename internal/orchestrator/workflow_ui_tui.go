package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/homesave/internal/logging"
	"github.com/tis24dev/homesave/internal/tui"
	"github.com/tis24dev/homesave/internal/tui/components"
)

const (
	decryptWizardSubtitle = "Decrypt Backup Workflow"
	decryptNavText        = "[yellow]Navigation:[white] TAB/↑↓ to move | ENTER to select | ESC to exit screens | Mouse clicks enabled"

	pathActionOverwrite = "overwrite"
	pathActionNew       = "new"
	pathActionCancel    = "cancel"
)

var (
	newTUIApp = func() *tui.App { return tui.NewApp() }

	promptOverwriteActionFunc = promptOverwriteAction
	promptNewPathInputFunc    = promptNewPathInput
)

type tuiWorkflowUI struct {
	configPath string
	buildSig   string
	logger     *logging.Logger
	buildPage  func(title, configPath, buildSig string, content tview.Primitive) tview.Primitive

	selectedBackupSummary string
	lastPlanOverwrite     bool
}

func newTUIWorkflowUI(configPath, buildSig string, logger *logging.Logger) *tuiWorkflowUI {
	if strings.TrimSpace(buildSig) == "" {
		buildSig = "n/a"
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &tuiWorkflowUI{
		configPath: configPath,
		buildSig:   buildSig,
		logger:     logger,
		buildPage:  buildWizardPage,
	}
}

func newTUIRestoreWorkflowUI(configPath, buildSig string, logger *logging.Logger) *tuiWorkflowUI {
	ui := newTUIWorkflowUI(configPath, buildSig, logger)
	ui.buildPage = buildRestoreWizardPage
	return ui
}

func (u *tuiWorkflowUI) RunTask(ctx context.Context, title, initialMessage string, run func(ctx context.Context, report ProgressReporter) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	app := newTUIApp()

	messageView := tview.NewTextView().
		SetText(strings.TrimSpace(initialMessage)).
		SetTextAlign(tview.AlignCenter).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true)

	form := components.NewForm(app)
	form.SetOnCancel(func() {
		cancel()
		app.Stop()
	})
	form.AddCancelButton("Cancel")
	enableFormNavigation(form, nil)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messageView, 0, 1, false).
		AddItem(form.Form, 3, 0, true)

	page := u.buildPage(title, u.configPath, u.buildSig, content)
	form.SetParentView(page)

	done := make(chan struct{})
	var runErr error

	report := func(message string) {
		message = strings.TrimSpace(message)
		if message == "" {
			return
		}
		app.QueueUpdateDraw(func() {
			messageView.SetText(message)
		})
	}

	go func() {
		runErr = run(taskCtx, report)
		close(done)
		app.QueueUpdateDraw(func() {
			app.Stop()
		})
	}()

	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		cancel()
		<-done
		return err
	}

	cancel()
	<-done
	return runErr
}

func (u *tuiWorkflowUI) ShowMessage(ctx context.Context, title, message string) error {
	return u.showOKModal(title, message, tui.AccentAmber)
}

func (u *tuiWorkflowUI) ShowError(ctx context.Context, title, message string) error {
	return u.showOKModal(title, fmt.Sprintf("%s %s", tui.SymbolError, message), tui.ErrorRed)
}

func (u *tuiWorkflowUI) showOKModal(title, message string, borderColor tcell.Color) error {
	app := newTUIApp()

	modal := tview.NewModal().
		SetText(fmt.Sprintf("%s\n\n[yellow]Press ENTER to continue[white]", strings.TrimSpace(message))).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			app.Stop()
		})

	modal.SetBorder(true).
		SetTitle(fmt.Sprintf(" %s ", strings.TrimSpace(title))).
		SetTitleAlign(tview.AlignCenter).
		SetTitleColor(borderColor).
		SetBorderColor(borderColor).
		SetBackgroundColor(tcell.ColorBlack)

	page := u.buildPage(title, u.configPath, u.buildSig, modal)
	return app.SetRoot(page, true).SetFocus(modal).Run()
}

func (u *tuiWorkflowUI) SelectBackupCandidate(ctx context.Context, candidates []*restoreCandidate) (*restoreCandidate, error) {
	app := newTUIApp()
	var (
		selected *restoreCandidate
		aborted  bool
	)

	list := tview.NewList().ShowSecondaryText(false)
	list.SetMainTextColor(tcell.ColorWhite).
		SetSelectedTextColor(tcell.ColorWhite).
		SetSelectedBackgroundColor(tui.AccentAmber)

	type row struct {
		created string
		status  string
		kind    string
		base    string
	}

	rows := make([]row, len(candidates))
	var maxStatus, maxKind int

	for idx, cand := range candidates {
		created := ""
		if cand != nil && !cand.CreatedAt.IsZero() {
			created = cand.CreatedAt.Format("2006-01-02 15:04:05")
		}

		status := "PLAIN"
		if cand != nil && cand.Encrypted {
			status = "ENCRYPTED"
		}

		kind := ""
		base := ""
		if cand != nil {
			kind = titleCaser.String(cand.Kind.String())
			base = cand.DisplayBase
		}

		rows[idx] = row{
			created: created,
			status:  status,
			kind:    kind,
			base:    base,
		}

		if len(status) > maxStatus {
			maxStatus = len(status)
		}
		if len(kind) > maxKind {
			maxKind = len(kind)
		}
	}

	for idx, r := range rows {
		line := fmt.Sprintf(
			"%2d) %s  %-*s  %-*s  %s",
			idx+1,
			r.created,
			maxStatus, r.status,
			maxKind, r.kind,
			r.base,
		)
		list.AddItem(line, "", 0, nil)
	}

	list.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		if index < 0 || index >= len(candidates) {
			return
		}
		selected = candidates[index]
		u.selectedBackupSummary = backupSummaryForUI(selected)
		app.Stop()
	})
	list.SetDoneFunc(func() {
		aborted = true
		app.Stop()
	})

	form := components.NewForm(app)
	listHeight := len(candidates)
	if listHeight < 8 {
		listHeight = 8
	}
	if listHeight > 14 {
		listHeight = 14
	}
	form.Form.AddFormItem(
		components.NewListFormItem(list).
			SetLabel("Available backups").
			SetFieldHeight(listHeight),
	)
	form.Form.SetFocus(0)
	form.SetOnCancel(func() {
		aborted = true
	})
	form.AddCancelButton("Cancel")
	enableFormNavigation(form, nil)

	page := u.buildPage("Select backup", u.configPath, u.buildSig, form.Form)
	form.SetParentView(page)
	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		return nil, err
	}
	if aborted || selected == nil {
		return nil, ErrDecryptAborted
	}
	return selected, nil
}

func (u *tuiWorkflowUI) PromptDestinationDir(ctx context.Context, defaultDir string) (string, error) {
	app := newTUIApp()
	var (
		destDir   string
		cancelled bool
	)

	defaultDir = strings.TrimSpace(defaultDir)
	if defaultDir == "" {
		defaultDir = "./decrypted"
	}

	form := components.NewForm(app)
	label := "Destination directory"
	form.AddInputFieldWithValidation(label, defaultDir, 48, func(value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("destination directory cannot be empty")
		}
		return nil
	})
	form.SetOnSubmit(func(values map[string]string) error {
		destDir = strings.TrimSpace(values[label])
		return nil
	})
	form.SetOnCancel(func() {
		cancelled = true
	})
	form.AddSubmitButton("Continue")
	form.AddCancelButton("Cancel")
	enableFormNavigation(form, nil)

	page := u.buildPage("Destination directory", u.configPath, u.buildSig, form.Form)
	form.SetParentView(page)
	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		return "", err
	}
	if cancelled {
		return "", ErrDecryptAborted
	}
	return filepath.Clean(destDir), nil
}

func (u *tuiWorkflowUI) ResolveExistingPath(ctx context.Context, path, description, failure string) (ExistingPathDecision, string, error) {
	action, err := promptOverwriteActionFunc(path, description, failure, u.configPath, u.buildSig)
	if err != nil {
		return PathDecisionCancel, "", err
	}
	switch action {
	case pathActionOverwrite:
		return PathDecisionOverwrite, "", nil
	case pathActionNew:
		newPath, err := promptNewPathInputFunc(path, u.configPath, u.buildSig)
		if err != nil {
			return PathDecisionCancel, "", err
		}
		return PathDecisionNewPath, filepath.Clean(newPath), nil
	default:
		return PathDecisionCancel, "", ErrDecryptAborted
	}
}

func (u *tuiWorkflowUI) PromptDecryptSecret(ctx context.Context, displayName, previousError string) (string, error) {
	app := newTUIApp()
	var (
		secret    string
		cancelled bool
	)

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "selected backup"
	}

	infoMessage := fmt.Sprintf("Provide the AGE secret key, identity file path or passphrase for [yellow]%s[white].", name)
	if strings.TrimSpace(previousError) != "" {
		infoMessage = fmt.Sprintf("%s\n\n[red]%s[white]", infoMessage, strings.TrimSpace(previousError))
	}

	infoText := tview.NewTextView().
		SetText(infoMessage).
		SetWrap(true).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true)

	form := components.NewForm(app)
	label := "Key or passphrase:"
	form.AddPasswordField(label, 64)
	form.SetOnSubmit(func(values map[string]string) error {
		raw := strings.TrimSpace(values[label])
		if raw == "" {
			return fmt.Errorf("key or passphrase cannot be empty")
		}
		if raw == "0" {
			cancelled = true
			return nil
		}
		secret = raw
		return nil
	})
	form.SetOnCancel(func() {
		cancelled = true
	})
	form.AddSubmitButton("Continue")
	form.AddCancelButton("Cancel")
	enableFormNavigation(form, nil)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(infoText, 0, 2, false).
		AddItem(form.Form, 0, 1, true)

	page := u.buildPage("Decrypt key", u.configPath, u.buildSig, content)
	form.SetParentView(page)
	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		return "", err
	}
	if cancelled {
		return "", ErrDecryptAborted
	}
	return secret, nil
}

func backupSummaryForUI(cand *restoreCandidate) string {
	if cand == nil {
		return ""
	}

	base := strings.TrimSpace(cand.DisplayBase)
	if base == "" {
		base = strings.TrimSpace(cand.SelectionName)
	}

	created := ""
	if !cand.CreatedAt.IsZero() {
		created = cand.CreatedAt.Format("2006-01-02 15:04:05")
	}

	if base == "" {
		return created
	}
	if created == "" {
		return base
	}
	return fmt.Sprintf("%s (%s)", base, created)
}

func promptOverwriteAction(path, description, failureMessage, configPath, buildSig string) (string, error) {
	app := newTUIApp()
	var choice string

	message := fmt.Sprintf("The %s [yellow]%s[white] already exists.\nSelect how you want to proceed.", description, path)
	if strings.TrimSpace(failureMessage) != "" {
		message = fmt.Sprintf("%s\n\n[red]%s[white]", message, failureMessage)
	}
	message += "\n\n[yellow]Use ←→ or TAB to switch buttons | ENTER to confirm[white]"

	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"Overwrite", "Use different path", "Cancel"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			switch buttonLabel {
			case "Overwrite":
				choice = pathActionOverwrite
			case "Use different path":
				choice = pathActionNew
			default:
				choice = pathActionCancel
			}
			app.Stop()
		})

	modal.SetBorder(true).
		SetTitle(" Existing file ").
		SetTitleAlign(tview.AlignCenter).
		SetTitleColor(tui.WarningYellow).
		SetBorderColor(tui.WarningYellow).
		SetBackgroundColor(tcell.ColorBlack)

	wrapped := buildWizardPage("Destination path", configPath, buildSig, modal)
	if err := app.SetRoot(wrapped, true).SetFocus(modal).Run(); err != nil {
		return "", err
	}
	return choice, nil
}

func promptNewPathInput(defaultPath, configPath, buildSig string) (string, error) {
	app := newTUIApp()
	var newPath string
	var cancelled bool

	form := components.NewForm(app)
	label := "New path"
	form.AddInputFieldWithValidation(label, defaultPath, 64, func(value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("path cannot be empty")
		}
		return nil
	})
	form.SetOnSubmit(func(values map[string]string) error {
		newPath = strings.TrimSpace(values[label])
		return nil
	})
	form.SetOnCancel(func() {
		cancelled = true
	})
	form.AddSubmitButton("Continue")
	form.AddCancelButton("Cancel")

	helper := tview.NewTextView().
		SetText("Provide a writable filesystem path for the decrypted files.").
		SetWrap(true).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(helper, 3, 0, false).
		AddItem(form.Form, 0, 1, true)

	page := buildWizardPage("Choose destination path", configPath, buildSig, content)
	form.SetParentView(page)

	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		return "", err
	}
	if cancelled {
		return "", ErrDecryptAborted
	}
	return filepath.Clean(newPath), nil
}

func enableFormNavigation(form *components.Form, dropdownOpen *bool) {
	if form == nil || form.Form == nil {
		return
	}
	form.Form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event == nil {
			return event
		}
		if dropdownOpen != nil && *dropdownOpen {
			return event
		}

		formItemIndex, buttonIndex := form.Form.GetFocusedItemIndex()
		isOnButton := formItemIndex < 0 && buttonIndex >= 0
		isOnField := formItemIndex >= 0

		if isOnButton {
			switch event.Key() {
			case tcell.KeyLeft, tcell.KeyUp:
				return tcell.NewEventKey(tcell.KeyBacktab, 0, tcell.ModNone)
			case tcell.KeyRight, tcell.KeyDown:
				return tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone)
			}
		} else if isOnField {
			// If focused item is a ListFormItem, let it handle navigation internally
			if formItemIndex >= 0 {
				if _, ok := form.Form.GetFormItem(formItemIndex).(*components.ListFormItem); ok {
					return event
				}
			}
			// For other form fields, convert arrows to tab navigation
			switch event.Key() {
			case tcell.KeyUp:
				return tcell.NewEventKey(tcell.KeyBacktab, 0, tcell.ModNone)
			case tcell.KeyDown:
				return tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone)
			}
		}
		return event
	})
}

func buildWizardPage(title, configPath, buildSig string, content tview.Primitive) tview.Primitive {
	welcomeText := tview.NewTextView().
		SetText(fmt.Sprintf("Homesave - By TIS24DEV\n%s\n", decryptWizardSubtitle)).
		SetTextColor(tui.TextLight).
		SetDynamicColors(true)
	welcomeText.SetBorder(false)

	navInstructions := tview.NewTextView().
		SetText("\n" + decryptNavText).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	navInstructions.SetBorder(false)

	separator := tview.NewTextView().
		SetText(strings.Repeat("─", 80)).
		SetTextColor(tui.AccentAmber)
	separator.SetBorder(false)

	configPathText := tview.NewTextView().
		SetText(fmt.Sprintf("[yellow]Configuration file:[white] %s", configPath)).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	configPathText.SetBorder(false)

	buildSigText := tview.NewTextView().
		SetText(fmt.Sprintf("[yellow]Build Signature:[white] %s", buildSig)).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	buildSigText.SetBorder(false)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(welcomeText, 5, 0, false).
		AddItem(navInstructions, 2, 0, false).
		AddItem(separator, 1, 0, false).
		AddItem(content, 0, 1, true).
		AddItem(configPathText, 1, 0, false).
		AddItem(buildSigText, 1, 0, false)

	flex.SetBorder(true).
		SetTitle(fmt.Sprintf(" %s ", title)).
		SetTitleAlign(tview.AlignCenter).
		SetTitleColor(tui.AccentAmber).
		SetBorderColor(tui.AccentAmber).
		SetBackgroundColor(tcell.ColorBlack)

	return flex
}
