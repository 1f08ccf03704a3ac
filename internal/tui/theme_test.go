package tui

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestStatusLookupsCoverSynonyms(t *testing.T) {
	tests := []struct {
		status string
		color  tcell.Color
		symbol string
	}{
		{"success", SuccessGreen, SymbolSuccess},
		{"ok", SuccessGreen, SymbolSuccess},
		{"done", SuccessGreen, SymbolSuccess},
		{"completed", SuccessGreen, SymbolSuccess},
		{"error", ErrorRed, SymbolError},
		{"failed", ErrorRed, SymbolError},
		{"fail", ErrorRed, SymbolError},
		{"warning", WarningYellow, SymbolWarning},
		{"warn", WarningYellow, SymbolWarning},
		{"info", InfoBlue, SymbolInfo},
		{"pending", InfoBlue, SymbolInfo},
		{"running", InfoBlue, SymbolInfo},
	}

	for _, tt := range tests {
		if got := StatusColor(tt.status); got != tt.color {
			t.Errorf("StatusColor(%q) = %v, want %v", tt.status, got, tt.color)
		}
		if got := StatusSymbol(tt.status); got != tt.symbol {
			t.Errorf("StatusSymbol(%q) = %q, want %q", tt.status, got, tt.symbol)
		}
	}
}

func TestStatusLookupsIgnoreCase(t *testing.T) {
	if got := StatusColor("SUCCESS"); got != SuccessGreen {
		t.Fatalf("StatusColor(SUCCESS) = %v, want %v", got, SuccessGreen)
	}
	if got := StatusSymbol("Failed"); got != SymbolError {
		t.Fatalf("StatusSymbol(Failed) = %q, want %q", got, SymbolError)
	}
}

func TestStatusLookupDefaults(t *testing.T) {
	if got := StatusColor("unrecognized"); got != LightGray {
		t.Fatalf("unknown status color = %v, want %v", got, LightGray)
	}
	if got := StatusSymbol("unrecognized"); got != SymbolBullet {
		t.Fatalf("unknown status symbol = %q, want %q", got, SymbolBullet)
	}
}
