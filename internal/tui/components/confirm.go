package components

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/homesave/internal/tui"
)

// modalCreatedHook lets tests capture modals without driving a terminal.
var modalCreatedHook func(*tview.Modal)

const continueHint = "\n\n[yellow]Press ENTER to continue[white]"

// presentModal builds a modal with the given accent color and installs it as
// the focused root primitive.
func presentModal(app *tui.App, title, message string, accent tcell.Color, buttons []string, done func(int, string)) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons(buttons).
		SetDoneFunc(done)

	if modalCreatedHook != nil {
		modalCreatedHook(modal)
	}

	modal.SetBorder(true).
		SetTitle(" " + title + " ").
		SetTitleAlign(tview.AlignCenter).
		SetTitleColor(accent).
		SetBorderColor(accent).
		SetBackgroundColor(tcell.ColorBlack)

	app.SetRoot(modal, true).SetFocus(modal)
}

// acknowledge shows a single-button modal that stops the app once dismissed.
func acknowledge(app *tui.App, title, message string, accent tcell.Color) {
	presentModal(app, title, message+continueHint, accent, []string{"OK"}, func(int, string) {
		app.Stop()
	})
}

// ShowConfirm displays a Yes/No confirmation modal. A navigation hint is
// appended unless the message already carries its own [yellow] markup.
func ShowConfirm(app *tui.App, title, message string, onYes, onNo func()) {
	if !strings.Contains(message, "[yellow]") {
		message += "\n\n[yellow]Use TAB or ←→ Arrows to switch | Press ENTER to select[white]"
	}
	presentModal(app, title, message, tui.AccentAmber, []string{"Yes", "No"}, func(_ int, label string) {
		switch {
		case label == "Yes" && onYes != nil:
			onYes()
		case label == "No" && onNo != nil:
			onNo()
		}
		app.Stop()
	})
}

// ShowInfo displays an informational modal.
func ShowInfo(app *tui.App, title, message string) {
	acknowledge(app, title, message, tui.InfoBlue)
}

// ShowSuccess displays a success modal.
func ShowSuccess(app *tui.App, title, message string) {
	acknowledge(app, title, tui.SymbolSuccess+" "+message, tui.SuccessGreen)
}

// ShowError displays an error modal.
func ShowError(app *tui.App, title, message string) {
	acknowledge(app, title, tui.SymbolError+" "+message, tui.ErrorRed)
}

// ShowWarning displays a warning modal.
func ShowWarning(app *tui.App, title, message string) {
	acknowledge(app, title, tui.SymbolWarning+" "+message, tui.WarningYellow)
}

// ShowErrorInline displays an error modal that hands focus back to the
// previous screen instead of stopping the app.
func ShowErrorInline(app *tui.App, title, message string, returnTo tview.Primitive) {
	text := tui.SymbolError + " " + message + continueHint
	presentModal(app, title, text, tui.ErrorRed, []string{"OK"}, func(int, string) {
		app.SetRoot(returnTo, true).SetFocus(returnTo)
	})
}
