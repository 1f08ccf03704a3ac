package tui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Palette for the interactive wizards. The accent is deliberately warm so
// restore screens are visually distinct from the plain backup console
// output; operators should notice which mode they are in.
var (
	AccentAmber = tcell.NewRGBColor(229, 165, 10) // #E5A50A

	SurfaceDark = tcell.NewRGBColor(40, 40, 40)    // #282828
	NeutralGray = tcell.NewRGBColor(128, 128, 128) // #808080
	TextLight   = tcell.NewRGBColor(200, 200, 200) // #C8C8C8

	SuccessGreen  = tcell.NewRGBColor(34, 197, 94)  // #22C55E
	ErrorRed      = tcell.NewRGBColor(239, 68, 68)  // #EF4444
	WarningYellow = tcell.NewRGBColor(234, 179, 8)  // #EAB308
	InfoBlue      = tcell.NewRGBColor(59, 130, 246) // #3B82F6

	White     = tcell.ColorWhite
	Black     = tcell.ColorBlack
	LightGray = tcell.ColorLightGray
	DarkGray  = tcell.ColorDarkGray
)

const (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolWarning  = "⚠"
	SymbolInfo     = "ℹ"
	SymbolSelected = "▸"
	SymbolArrow    = "→"
	SymbolBullet   = "•"
	SymbolCheck    = "☑"
	SymbolUncheck  = "☐"
)

// statusStyles maps the status words used across the wizards to their
// color and symbol. Synonyms share an entry.
var statusStyles = map[string]struct {
	color  tcell.Color
	symbol string
}{
	"success":   {SuccessGreen, SymbolSuccess},
	"ok":        {SuccessGreen, SymbolSuccess},
	"done":      {SuccessGreen, SymbolSuccess},
	"completed": {SuccessGreen, SymbolSuccess},
	"error":     {ErrorRed, SymbolError},
	"failed":    {ErrorRed, SymbolError},
	"fail":      {ErrorRed, SymbolError},
	"warning":   {WarningYellow, SymbolWarning},
	"warn":      {WarningYellow, SymbolWarning},
	"info":      {InfoBlue, SymbolInfo},
	"pending":   {InfoBlue, SymbolInfo},
	"running":   {InfoBlue, SymbolInfo},
}

// StatusColor returns the palette color for a status word.
func StatusColor(status string) tcell.Color {
	if style, ok := statusStyles[strings.ToLower(status)]; ok {
		return style.color
	}
	return LightGray
}

// StatusSymbol returns the marker glyph for a status word.
func StatusSymbol(status string) string {
	if style, ok := statusStyles[strings.ToLower(status)]; ok {
		return style.symbol
	}
	return SymbolBullet
}

// applyTheme writes the palette into tview's global styles. The assignment
// is process-wide, which is fine since wizards never run concurrently.
func applyTheme() {
	tview.Styles.PrimitiveBackgroundColor = tcell.ColorBlack
	tview.Styles.ContrastBackgroundColor = tcell.ColorBlack
	tview.Styles.MoreContrastBackgroundColor = tcell.ColorDarkSlateGray
	tview.Styles.BorderColor = AccentAmber
	tview.Styles.TitleColor = AccentAmber
	tview.Styles.GraphicsColor = AccentAmber
	tview.Styles.PrimaryTextColor = tcell.ColorWhite
	tview.Styles.SecondaryTextColor = tcell.ColorLightGray
	tview.Styles.TertiaryTextColor = tcell.ColorGray
	tview.Styles.InverseTextColor = tcell.ColorBlack
	tview.Styles.ContrastSecondaryTextColor = tcell.ColorWhite
}
