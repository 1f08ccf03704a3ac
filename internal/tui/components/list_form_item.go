package components

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/homesave/internal/tui"
)

// ListFormItem adapts a tview.List to the tview.FormItem interface so a
// scrollable list can sit between regular form fields. Arrow keys that move
// past either end hand focus to the neighboring form item instead of
// wrapping.
type ListFormItem struct {
	*tview.List
	label       string
	fieldWidth  int
	fieldHeight int
	onDone      func(tcell.Key)
	disabled    bool
	hasFocus    bool

	formBg    tcell.Color
	fieldText tcell.Color
	focusBg   tcell.Color
	blurBg    tcell.Color
}

var _ tview.FormItem = (*ListFormItem)(nil)

// NewListFormItem wraps list as a form item. A nil list gets a fresh one.
func NewListFormItem(list *tview.List) *ListFormItem {
	if list == nil {
		list = tview.NewList()
	}
	item := &ListFormItem{
		List:        list,
		fieldHeight: tview.DefaultFormFieldHeight,
		focusBg:     tui.AccentAmber,
		blurBg:      tcell.ColorDarkSlateGray,
	}
	item.List.SetInputCapture(item.inputCapture)
	return item
}

// SetLabel sets the label shown before the list inside the form.
func (li *ListFormItem) SetLabel(label string) *ListFormItem {
	li.label = label
	return li
}

// SetFieldWidth sets the width the form reserves for the list, 0 meaning
// flexible.
func (li *ListFormItem) SetFieldWidth(width int) *ListFormItem {
	li.fieldWidth = width
	return li
}

// SetFieldHeight sets the number of rows the list occupies. Non-positive
// values fall back to the tview default.
func (li *ListFormItem) SetFieldHeight(height int) *ListFormItem {
	if height <= 0 {
		height = tview.DefaultFormFieldHeight
	}
	li.fieldHeight = height
	return li
}

// GetLabel implements tview.FormItem.
func (li *ListFormItem) GetLabel() string {
	return li.label
}

// SetFormAttributes implements tview.FormItem, adopting the form's field
// colors for the list body.
func (li *ListFormItem) SetFormAttributes(labelWidth int, labelColor, bg, fieldText, fieldBg tcell.Color) tview.FormItem {
	li.formBg = bg
	li.fieldText = fieldText
	li.List.
		SetMainTextColor(fieldText).
		SetSecondaryTextColor(fieldText).
		SetBackgroundColor(bg)
	return li
}

// GetFieldWidth implements tview.FormItem.
func (li *ListFormItem) GetFieldWidth() int {
	return li.fieldWidth
}

// GetFieldHeight implements tview.FormItem.
func (li *ListFormItem) GetFieldHeight() int {
	if li.fieldHeight <= 0 {
		return tview.DefaultFormFieldHeight
	}
	return li.fieldHeight
}

// SetFinishedFunc implements tview.FormItem. The handler receives the key
// that moved focus away from the list.
func (li *ListFormItem) SetFinishedFunc(handler func(key tcell.Key)) tview.FormItem {
	li.onDone = handler
	return li
}

// SetDisabled implements tview.FormItem. A disabled item passes all input
// through untouched.
func (li *ListFormItem) SetDisabled(disabled bool) tview.FormItem {
	li.disabled = disabled
	return li
}

// atRow reports whether the list has items and the cursor sits on row.
func (li *ListFormItem) atRow(row int) bool {
	return li.List.GetItemCount() > 0 && li.List.GetCurrentItem() == row
}

func (li *ListFormItem) inputCapture(event *tcell.EventKey) *tcell.EventKey {
	if li.disabled || event == nil {
		return event
	}

	switch event.Key() {
	case tcell.KeyTab, tcell.KeyBacktab, tcell.KeyEscape:
		if li.onDone != nil {
			li.onDone(event.Key())
		}
		return nil
	case tcell.KeyUp:
		if li.onDone != nil && li.atRow(0) {
			li.onDone(tcell.KeyBacktab)
			return nil
		}
	case tcell.KeyDown:
		if li.onDone != nil && li.atRow(li.List.GetItemCount()-1) {
			li.onDone(tcell.KeyTab)
			return nil
		}
	}

	return event
}

// selectedTextColor falls back to white until SetFormAttributes has run.
func (li *ListFormItem) selectedTextColor() tcell.Color {
	if li.fieldText == 0 {
		return tcell.ColorWhite
	}
	return li.fieldText
}

// Focus highlights the selection with the accent color.
func (li *ListFormItem) Focus(delegate func(p tview.Primitive)) {
	li.hasFocus = true
	li.List.SetSelectedBackgroundColor(li.focusBg)
	li.List.SetSelectedTextColor(li.selectedTextColor())
	li.List.Focus(delegate)
}

// Blur dims the selection so the focused form field stands out.
func (li *ListFormItem) Blur() {
	li.hasFocus = false
	bg := li.formBg
	if bg == 0 {
		bg = li.blurBg
	}
	li.List.SetSelectedBackgroundColor(bg)
	li.List.SetSelectedTextColor(li.selectedTextColor())
	li.List.Blur()
}
