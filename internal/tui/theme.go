package tui

import (
	"github.com/gdamore/tcell/v2"
)

// Palette
var (
	Accent      = tcell.NewRGBColor(38, 132, 255)  // #2684FF
	AccentDark  = tcell.NewRGBColor(32, 36, 44)    // #20242C
	AccentLight = tcell.NewRGBColor(200, 210, 225) // #C8D2E1

	ErrorRed = tcell.NewRGBColor(239, 68, 68) // #EF4444
)

const SymbolError = "✗"
