package components

import (
	"strconv"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/homesave/internal/tui"
)

// ValidatorFunc checks a single field value and reports what is wrong with it.
type ValidatorFunc func(input string) error

// Form wraps tview.Form with the homesave palette and per-field validation.
// Validators run when the submit button fires, before the submit handler.
type Form struct {
	*tview.Form
	ui         *tui.App
	validators map[string][]ValidatorFunc
	submit     func(values map[string]string) error
	cancel     func()
	// parent, when set, receives focus again after an inline error modal is
	// dismissed. Without it errors stop the whole app.
	parent tview.Primitive
}

// NewForm creates an empty themed form bound to app.
func NewForm(app *tui.App) *Form {
	themed := tview.NewForm().
		SetLabelColor(tui.TextLight).
		SetFieldBackgroundColor(tui.SurfaceDark).
		SetFieldTextColor(tcell.ColorWhite).
		SetButtonsAlign(tview.AlignCenter).
		SetButtonBackgroundColor(tui.AccentAmber).
		SetButtonTextColor(tcell.ColorWhite)

	return &Form{
		Form:       themed,
		ui:         app,
		validators: make(map[string][]ValidatorFunc),
	}
}

// AddInputFieldWithValidation adds a text field whose validators run on submit.
func (fm *Form) AddInputFieldWithValidation(label, initial string, width int, validators ...ValidatorFunc) *Form {
	fm.validators[label] = validators
	fm.Form.AddInputField(label, initial, width, nil, nil)
	return fm
}

// AddPasswordField adds a masked field whose validators run on submit.
func (fm *Form) AddPasswordField(label string, width int, validators ...ValidatorFunc) *Form {
	fm.validators[label] = validators
	fm.Form.AddPasswordField(label, "", width, '*', nil)
	return fm
}

// SetOnSubmit registers the handler invoked with the validated field values.
func (fm *Form) SetOnSubmit(handler func(values map[string]string) error) *Form {
	fm.submit = handler
	return fm
}

// SetOnCancel registers the handler invoked when the cancel button fires.
func (fm *Form) SetOnCancel(handler func()) *Form {
	fm.cancel = handler
	return fm
}

// SetParentView makes error modals return focus to parent instead of
// stopping the app.
func (fm *Form) SetParentView(parent tview.Primitive) *Form {
	fm.parent = parent
	return fm
}

// showFormError routes an error through the inline modal when a parent view
// exists, otherwise through the app-terminating one.
func (fm *Form) showFormError(title, message string) {
	if fm.parent != nil {
		ShowErrorInline(fm.ui, title, message, fm.parent)
		return
	}
	ShowError(fm.ui, title, message)
}

// AddSubmitButton adds the button that validates and submits the form. The
// app stops only after a clean submit; errors keep the form alive.
func (fm *Form) AddSubmitButton(label string) *Form {
	fm.Form.AddButton(label, fm.submitPressed)
	return fm
}

func (fm *Form) submitPressed() {
	if fm.submit != nil {
		vals := fm.GetFormValues()
		if err := fm.ValidateAll(vals); err != nil {
			fm.showFormError("Validation Error", err.Error())
			return
		}
		if err := fm.submit(vals); err != nil {
			fm.showFormError("Error", err.Error())
			return
		}
	}
	fm.ui.Stop()
}

// AddCancelButton adds the button that aborts the form and stops the app.
func (fm *Form) AddCancelButton(label string) *Form {
	fm.Form.AddButton(label, fm.cancelPressed)
	return fm
}

func (fm *Form) cancelPressed() {
	if fm.cancel != nil {
		fm.cancel()
	}
	fm.ui.Stop()
}

// GetFormValues snapshots every field into a label-keyed map. Checkboxes
// stringize to "true"/"false", dropdowns to the selected option text.
func (fm *Form) GetFormValues() map[string]string {
	vals := make(map[string]string, fm.Form.GetFormItemCount())
	for i := range fm.Form.GetFormItemCount() {
		switch item := fm.Form.GetFormItem(i).(type) {
		case *tview.InputField:
			vals[item.GetLabel()] = item.GetText()
		case *tview.Checkbox:
			vals[item.GetLabel()] = strconv.FormatBool(item.IsChecked())
		case *tview.DropDown:
			_, option := item.GetCurrentOption()
			vals[item.GetLabel()] = option
		}
	}
	return vals
}

// ValidateAll runs every registered validator against the given values and
// returns the first failure.
func (fm *Form) ValidateAll(values map[string]string) error {
	for label, checks := range fm.validators {
		for _, check := range checks {
			if err := check(values[label]); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetBorderWithTitle draws an accent border with a centered padded title.
func (fm *Form) SetBorderWithTitle(title string) *Form {
	fm.Form.SetBorder(true).
		SetBorderColor(tui.AccentAmber).
		SetTitle(" " + title + " ").
		SetTitleColor(tui.AccentAmber).
		SetTitleAlign(tview.AlignCenter)
	return fm
}
