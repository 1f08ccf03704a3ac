package components

import (
	"reflect"
	"strings"
	"testing"
	"unsafe"

	"github.com/rivo/tview"

	"github.com/tis24dev/homesave/internal/tui"
)

// captureModal runs build with the creation hook installed and returns the
// modal it produced. Nothing is drawn; the app never runs its event loop.
func captureModal(t *testing.T, build func(a *tui.App)) *tview.Modal {
	t.Helper()
	var got *tview.Modal
	orig := modalCreatedHook
	modalCreatedHook = func(m *tview.Modal) { got = m }
	t.Cleanup(func() { modalCreatedHook = orig })

	build(tui.NewApp())
	if got == nil {
		t.Fatalf("modal was never created")
	}
	return got
}

// tview.Modal keeps its text and done callback unexported, so the tests pull
// them out with reflection.
func modalText(modal *tview.Modal) string {
	return reflect.ValueOf(modal).Elem().FieldByName("text").String()
}

func modalDone(modal *tview.Modal) func(int, string) {
	field := reflect.ValueOf(modal).Elem().FieldByName("done")
	return *(*func(int, string))(unsafe.Pointer(field.UnsafeAddr()))
}

func TestConfirmAddsNavigationHint(t *testing.T) {
	modal := captureModal(t, func(a *tui.App) {
		ShowConfirm(a, "Delete", "Remove every shard?", nil, nil)
	})
	if text := modalText(modal); !strings.Contains(text, "Use TAB or") {
		t.Fatalf("navigation hint missing from modal text: %q", text)
	}
}

func TestConfirmKeepsCallerMarkup(t *testing.T) {
	modal := captureModal(t, func(a *tui.App) {
		ShowConfirm(a, "Delete", "[yellow]Shards already gone", nil, nil)
	})
	if strings.Contains(modalText(modal), "Use TAB or") {
		t.Fatalf("default hint replaced the caller's [yellow] markup")
	}
}

func TestConfirmDispatchesByLabel(t *testing.T) {
	var confirmed, declined bool
	modal := captureModal(t, func(a *tui.App) {
		ShowConfirm(a, "Delete", "Sure?", func() { confirmed = true }, func() { declined = true })
	})
	done := modalDone(modal)

	done(0, "Yes")
	if !confirmed || declined {
		t.Fatalf("Yes press: confirmed=%v declined=%v", confirmed, declined)
	}

	confirmed = false
	done(1, "No")
	if confirmed || !declined {
		t.Fatalf("No press: confirmed=%v declined=%v", confirmed, declined)
	}
}

func TestAcknowledgeModalsCarrySymbolAndHint(t *testing.T) {
	tests := []struct {
		name string
		open func(a *tui.App)
		want string
	}{
		{"success", func(a *tui.App) { ShowSuccess(a, "Done", "Archive stored") }, tui.SymbolSuccess},
		{"error", func(a *tui.App) { ShowError(a, "Oops", "write failed") }, tui.SymbolError},
		{"warning", func(a *tui.App) { ShowWarning(a, "Warn", "Low disk space") }, tui.SymbolWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := modalText(captureModal(t, tt.open))
			if !strings.HasPrefix(text, tt.want) {
				t.Fatalf("text %q does not start with %q", text, tt.want)
			}
			if !strings.Contains(text, "Press ENTER to continue") {
				t.Fatalf("continue hint missing: %q", text)
			}
		})
	}
}

func TestInfoModalAddsContinueHint(t *testing.T) {
	modal := captureModal(t, func(a *tui.App) {
		ShowInfo(a, "Info", "Nothing to restore")
	})
	if !strings.Contains(modalText(modal), "Press ENTER to continue") {
		t.Fatalf("info modal missing continue hint")
	}
}

func TestInlineErrorReturnsFocus(t *testing.T) {
	returnTo := &recordingPrimitive{Box: tview.NewBox()}
	modal := captureModal(t, func(a *tui.App) {
		ShowErrorInline(a, "Oops", "bad selection", returnTo)
	})

	modalDone(modal)(0, "OK")
	if !returnTo.focused {
		t.Fatalf("previous primitive did not regain focus")
	}
}

type recordingPrimitive struct {
	*tview.Box
	focused bool
}

func (rp *recordingPrimitive) Focus(delegate func(p tview.Primitive)) {
	rp.focused = true
}

func (rp *recordingPrimitive) Blur() {
	rp.focused = false
}
