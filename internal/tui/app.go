package tui

import (
	"github.com/rivo/tview"
)

// App is the shared tview application shell for the restore and decrypt
// wizards. Building one applies the palette and hooks the process-wide
// abort context so Ctrl+C tears the screen down cleanly.
type App struct {
	*tview.Application
	stopHook func()
}

// NewApp returns a themed application with mouse support enabled.
func NewApp() *App {
	app := &App{Application: tview.NewApplication()}
	app.EnableMouse(true)
	applyTheme()
	bindAbortContext(app)
	return app
}

// Stop shuts the application down. Safe on a nil receiver; tests install a
// stopHook to observe the call without a real screen.
func (a *App) Stop() {
	switch {
	case a == nil:
	case a.stopHook != nil:
		a.stopHook()
	case a.Application != nil:
		a.Application.Stop()
	}
}

// SetRootWithTitle installs root as the full-screen primitive, drawing a
// titled accent border when the primitive supports it.
func (a *App) SetRootWithTitle(root tview.Primitive, title string) *App {
	if box, ok := root.(*tview.Box); ok {
		box.SetBorder(true).
			SetTitle(" " + title + " ").
			SetTitleAlign(tview.AlignCenter).
			SetTitleColor(AccentAmber).
			SetBorderColor(AccentAmber)
	}
	a.SetRoot(root, true)
	return a
}
