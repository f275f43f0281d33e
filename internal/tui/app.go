// Package tui holds the terminal UI used for interactive authentication.
package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// App wraps tview.Application with the panbackup theme.
type App struct {
	*tview.Application
	stopHook func()
}

// NewApp creates a new themed TUI application.
func NewApp() *App {
	app := &App{
		Application: tview.NewApplication(),
	}
	app.EnableMouse(true)

	tview.Styles.PrimitiveBackgroundColor = tcell.ColorBlack
	tview.Styles.ContrastBackgroundColor = tcell.ColorBlack
	tview.Styles.MoreContrastBackgroundColor = AccentDark
	tview.Styles.BorderColor = Accent
	tview.Styles.TitleColor = Accent
	tview.Styles.GraphicsColor = Accent
	tview.Styles.PrimaryTextColor = tcell.ColorWhite
	tview.Styles.SecondaryTextColor = AccentLight
	tview.Styles.TertiaryTextColor = tcell.ColorGray
	tview.Styles.InverseTextColor = tcell.ColorBlack
	tview.Styles.ContrastSecondaryTextColor = tcell.ColorWhite

	return app
}

func (a *App) Stop() {
	if a == nil {
		return
	}
	if a.stopHook != nil {
		a.stopHook()
		return
	}
	if a.Application != nil {
		a.Application.Stop()
	}
}

// SetRootWithTitle sets the root primitive with a styled title
func (a *App) SetRootWithTitle(root tview.Primitive, title string) *App {
	if box, ok := root.(interface {
		SetBorder(bool) *tview.Box
	}); ok {
		box.SetBorder(true).
			SetTitle(" " + title + " ").
			SetTitleAlign(tview.AlignCenter).
			SetTitleColor(Accent).
			SetBorderColor(Accent)
	}
	a.SetRoot(root, true)
	return a
}
