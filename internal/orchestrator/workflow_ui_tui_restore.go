package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/homesave/internal/category"
	"github.com/tis24dev/homesave/internal/tui"
	"github.com/tis24dev/homesave/internal/tui/components"
)

const (
	restoreWizardSubtitle = "Restore Backup Workflow"
	restoreNavText        = "[yellow]Navigation:[white] TAB/↑↓ to move | ENTER to select | ESC to exit screens | Mouse clicks enabled"
)

// errRestoreBackToMode signals that the operator chose "Back" on the category
// screen and wants the restore mode selection again.
var errRestoreBackToMode = errors.New("restore mode back")

var promptYesNoTUIFunc = promptYesNoTUI

func (u *tuiWorkflowUI) SelectRestoreMode(ctx context.Context) (RestoreMode, error) {
	return selectRestoreModeTUI(u.configPath, u.buildSig, u.selectedBackupSummary)
}

func (u *tuiWorkflowUI) SelectCategories(ctx context.Context, available []category.Category) ([]category.Category, error) {
	return selectCategoriesTUI(available, u.configPath, u.buildSig)
}

func (u *tuiWorkflowUI) ShowRestorePlan(ctx context.Context, plan *SelectiveRestoreConfig) error {
	u.lastPlanOverwrite = plan != nil && plan.Overwrite
	return showRestorePlanTUI(plan, u.configPath, u.buildSig)
}

func (u *tuiWorkflowUI) ConfirmRestore(ctx context.Context) (bool, error) {
	return confirmRestoreTUI(u.configPath, u.buildSig, u.lastPlanOverwrite)
}

func selectRestoreModeTUI(configPath, buildSig, backupSummary string) (RestoreMode, error) {
	app := newTUIApp()
	var selected RestoreMode
	var aborted bool

	list := tview.NewList().ShowSecondaryText(true)
	list.SetMainTextColor(tcell.ColorWhite).
		SetSelectedTextColor(tcell.ColorWhite).
		SetSelectedBackgroundColor(tui.AccentAmber)

	list.AddItem("1) FULL restore - Restore every category found in the backup", "", 0, nil)
	list.AddItem("2) CUSTOM selection - Choose specific categories", "", 0, nil)

	list.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		switch index {
		case 0:
			selected = RestoreModeFull
		case 1:
			selected = RestoreModeCustom
		default:
			selected = ""
		}
		if selected != "" {
			app.Stop()
		}
	})
	list.SetDoneFunc(func() {
		aborted = true
		app.Stop()
	})

	form := components.NewForm(app)
	listItem := components.NewListFormItem(list).
		SetLabel("Select restore mode").
		SetFieldHeight(6)
	form.Form.AddFormItem(listItem)
	form.Form.SetFocus(0)

	form.SetOnCancel(func() {
		aborted = true
	})
	form.AddCancelButton("Cancel")
	enableFormNavigation(form, nil)

	// Selected backup summary
	summaryText := strings.TrimSpace(backupSummary)
	var summaryView tview.Primitive
	if summaryText != "" {
		summary := tview.NewTextView().
			SetText(fmt.Sprintf("Selected backup: %s", summaryText)).
			SetWrap(true).
			SetTextColor(tcell.ColorWhite)
		summary.SetBorder(false)
		summaryView = summary
	} else {
		summaryView = tview.NewBox()
	}

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(summaryView, 2, 0, false).
		AddItem(form.Form, 0, 1, true)

	page := buildRestoreWizardPage("Select restore mode", configPath, buildSig, content)
	app.SetRoot(page, true).SetFocus(form.Form)
	if err := app.Run(); err != nil {
		return "", err
	}
	if aborted || selected == "" {
		return "", ErrRestoreAborted
	}
	return selected, nil
}

func selectCategoriesTUI(available []category.Category, configPath, buildSig string) ([]category.Category, error) {
	if len(available) == 0 {
		return nil, fmt.Errorf("no categories available in this backup")
	}

	app := newTUIApp()
	form := components.NewForm(app)
	var dropdownOpen bool

	// Helper text
	helper := tview.NewTextView().
		SetText("Select which categories to restore using the dropdowns below (Yes/No).").
		SetWrap(true).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true)

	// Create one dropdown per category, defaulting to "No"
	for _, cat := range available {
		dropdown := tview.NewDropDown().
			SetLabel(cat.Name).
			SetOptions([]string{"No", "Yes"}, nil).
			SetCurrentOption(0)

		dropdown.SetFieldTextColor(tcell.ColorWhite)
		dropdown.SetFieldBackgroundColor(tui.SurfaceDark)

		dropdown.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if event == nil {
				return event
			}
			switch event.Key() {
			case tcell.KeyEnter:
				dropdownOpen = !dropdownOpen
			case tcell.KeyEscape:
				dropdownOpen = false
			}
			return event
		})

		form.Form.AddFormItem(dropdown)

		if strings.TrimSpace(cat.Description) != "" {
			desc := tview.NewInputField().
				SetLabel("  └─ " + cat.Description).
				SetFieldWidth(0).
				SetText("").
				SetDisabled(true)
			form.Form.AddFormItem(desc)
		}
	}

	var chosen []category.Category
	var aborted bool
	var goBack bool

	form.SetOnSubmit(func(values map[string]string) error {
		var out []category.Category
		for _, cat := range available {
			value := strings.TrimSpace(values[cat.Name])
			if strings.EqualFold(value, "Yes") {
				out = append(out, cat)
			}
		}
		if len(out) == 0 {
			return fmt.Errorf("please select at least one category")
		}
		chosen = out
		return nil
	})
	form.SetOnCancel(func() {
		aborted = true
	})

	// Buttons: Back, Continue, Cancel
	form.Form.AddButton("Back", func() {
		goBack = true
		app.Stop()
	})
	form.AddSubmitButton("Continue")
	form.AddCancelButton("Cancel")
	enableFormNavigation(form, &dropdownOpen)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(helper, 3, 0, false).
		AddItem(form.Form, 0, 1, true)

	page := buildRestoreWizardPage("Select restore categories", configPath, buildSig, content)
	form.SetParentView(page)

	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		return nil, err
	}
	if goBack {
		return nil, errRestoreBackToMode
	}
	if aborted {
		return nil, ErrRestoreAborted
	}
	if len(chosen) == 0 {
		return nil, ErrRestoreAborted
	}
	return chosen, nil
}

func buildRestorePlanText(plan *SelectiveRestoreConfig) string {
	if plan == nil {
		return ""
	}

	var b strings.Builder

	b.WriteString("═══════════════════════════════════════════════════════════════\n")
	b.WriteString("RESTORE PLAN\n")
	b.WriteString("═══════════════════════════════════════════════════════════════\n\n")

	modeName := fmt.Sprintf("CUSTOM selection (%d categories)", len(plan.Categories))
	if plan.Mode == RestoreModeFull {
		modeName = "FULL restore (all categories)"
	}

	fmt.Fprintf(&b, "Backup:       %s\n", plan.BackupName)
	fmt.Fprintf(&b, "Restore mode: %s\n", modeName)
	fmt.Fprintf(&b, "Destination:  %s\n\n", plan.HomeDir)

	b.WriteString("Categories to restore:\n")
	for i, cat := range plan.Categories {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, cat.Name)
		fmt.Fprintf(&b, "     %s\n", cat.Description)
	}

	b.WriteString("\nFiles/directories that will be restored:\n")
	for _, path := range destinationPathsForPlan(plan) {
		fmt.Fprintf(&b, "  • %s\n", path)
	}

	b.WriteString("\n⚠ WARNING:\n")
	if plan.Overwrite {
		b.WriteString("  • Existing files at these locations will be OVERWRITTEN\n")
	} else {
		b.WriteString("  • Existing files at these locations will be kept (skip policy)\n")
	}
	b.WriteString("  • Key and credential exports are staged for manual import, never applied\n")
	b.WriteString("  • Restored secret files are locked down to owner-only access\n\n")

	return b.String()
}

func showRestorePlanTUI(plan *SelectiveRestoreConfig, configPath, buildSig string) error {
	if plan == nil {
		return fmt.Errorf("restore plan not available")
	}

	planText := buildRestorePlanText(plan)
	textView := tview.NewTextView().
		SetText(planText).
		SetScrollable(true).
		SetWrap(false).
		SetTextColor(tcell.ColorWhite)

	app := newTUIApp()
	form := components.NewForm(app)
	var proceed bool
	var aborted bool

	form.SetOnSubmit(func(values map[string]string) error {
		proceed = true
		return nil
	})
	form.SetOnCancel(func() {
		aborted = true
	})
	form.AddSubmitButton("Continue")
	form.AddCancelButton("Cancel")
	enableFormNavigation(form, nil)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, false).
		AddItem(form.Form, 3, 0, true)

	page := buildRestoreWizardPage("Restore plan", configPath, buildSig, content)
	form.SetParentView(page)

	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		return err
	}
	if aborted || !proceed {
		return ErrRestoreAborted
	}
	return nil
}

func confirmRestoreTUI(configPath, buildSig string, overwrite bool) (bool, error) {
	app := newTUIApp()
	var confirmed bool
	var aborted bool

	infoMessage := "Review the restore plan. Press [yellow]RESTORE[white] to start the restore process, or Cancel to abort.\nYou will be asked for explicit confirmation before any file is written."
	infoText := tview.NewTextView().
		SetText(infoMessage).
		SetWrap(true).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true)

	form := components.NewForm(app)
	form.SetOnSubmit(func(values map[string]string) error {
		confirmed = true
		return nil
	})
	form.SetOnCancel(func() {
		aborted = true
	})
	form.AddSubmitButton("RESTORE")
	form.AddCancelButton("Cancel")
	enableFormNavigation(form, nil)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(infoText, 3, 0, false).
		AddItem(form.Form, 0, 1, true)

	page := buildRestoreWizardPage("Confirm restore", configPath, buildSig, content)
	form.SetParentView(page)

	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		return false, err
	}
	if aborted {
		return false, ErrRestoreAborted
	}
	if !confirmed {
		return false, ErrRestoreAborted
	}
	// Second-stage explicit confirmation
	ok, err := confirmOverwriteTUI(configPath, buildSig, overwrite)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, nil
}

func confirmOverwriteTUI(configPath, buildSig string, overwrite bool) (bool, error) {
	title := "Confirm restore"
	message := "This operation will write restored files into your home directory.\nExisting files are kept (skip policy).\n\nAre you sure you want to proceed with the restore?"
	yesLabel := "Start restore"
	if overwrite {
		title = "Confirm overwrite"
		message = "This operation will overwrite existing files in your home directory.\n\nAre you sure you want to proceed with the restore?"
		yesLabel = "Overwrite and restore"
	}
	return promptYesNoTUIFunc(
		title,
		configPath,
		buildSig,
		message,
		yesLabel,
		"Cancel",
	)
}

func promptYesNoTUI(title, configPath, buildSig, message, yesLabel, noLabel string) (bool, error) {
	app := newTUIApp()
	var result bool
	var cancelled bool

	infoText := tview.NewTextView().
		SetText(message).
		SetWrap(true).
		SetTextColor(tcell.ColorWhite).
		SetDynamicColors(true)

	form := components.NewForm(app)
	form.SetOnSubmit(func(values map[string]string) error {
		result = true
		return nil
	})
	form.SetOnCancel(func() {
		cancelled = true
	})
	form.AddSubmitButton(yesLabel)
	form.AddCancelButton(noLabel)
	enableFormNavigation(form, nil)

	content := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(infoText, 0, 1, false).
		AddItem(form.Form, 3, 0, true)

	page := buildRestoreWizardPage(title, configPath, buildSig, content)
	form.SetParentView(page)

	if err := app.SetRoot(page, true).SetFocus(form.Form).Run(); err != nil {
		return false, err
	}
	if cancelled {
		return false, nil
	}
	return result, nil
}

func buildRestoreWizardPage(title, configPath, buildSig string, content tview.Primitive) tview.Primitive {
	welcomeText := tview.NewTextView().
		SetText(fmt.Sprintf("Homesave - By TIS24DEV\n%s\n", restoreWizardSubtitle)).
		SetTextColor(tui.TextLight).
		SetDynamicColors(true)
	welcomeText.SetBorder(false)

	navInstructions := tview.NewTextView().
		SetText("\n" + restoreNavText).
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
