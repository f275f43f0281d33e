package components

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/panbackup/internal/tui"
)

var modalCreatedHook func(modal *tview.Modal, text string)

func newModal(title, text string, color tcell.Color, done func(int, string)) *tview.Modal {
	modal := tview.NewModal().
		SetText(text).
		AddButtons([]string{"OK"}).
		SetDoneFunc(done)
	modal.SetBorder(true).
		SetTitle(" " + title + " ").
		SetTitleAlign(tview.AlignCenter).
		SetTitleColor(color).
		SetBorderColor(color).
		SetBackgroundColor(tcell.ColorBlack)

	if modalCreatedHook != nil {
		modalCreatedHook(modal, text)
	}
	return modal
}

// ShowError displays an error modal that stops the app when dismissed.
func ShowError(app *tui.App, title, message string) {
	text := tui.SymbolError + " " + message + "\n\n[yellow]Press ENTER to continue[white]"
	modal := newModal(title, text, tui.ErrorRed, func(int, string) {
		app.Stop()
	})
	app.SetRoot(modal, true).SetFocus(modal)
}

// ShowErrorInline displays an error modal that returns to the previous screen instead of stopping the app
func ShowErrorInline(app *tui.App, title, message string, returnTo tview.Primitive) {
	text := tui.SymbolError + " " + message + "\n\n[yellow]Press ENTER to continue[white]"
	modal := newModal(title, text, tui.ErrorRed, func(int, string) {
		app.SetRoot(returnTo, true).SetFocus(returnTo)
	})
	app.SetRoot(modal, true).SetFocus(modal)
}
