// Package prompt selects how interactive authentication is presented.
package prompt

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rivo/tview"
	"golang.org/x/term"

	"github.com/tis24dev/panbackup/internal/input"
	"github.com/tis24dev/panbackup/internal/storage"
	"github.com/tis24dev/panbackup/internal/tui"
	"github.com/tis24dev/panbackup/internal/tui/components"
	"github.com/tis24dev/panbackup/internal/types"
)

const codeLabel = "Authorization code"

var isTerminal = func(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Select returns the prompter for the current terminal: the TUI when both
// stdin and stdout are terminals, the console when forceCLI is set, and nil
// when stdin is not a terminal (cron, systemd) so that backends needing
// interaction fail instead of blocking.
func Select(in, out *os.File, forceCLI bool) storage.Prompter {
	if !isTerminal(in) {
		return nil
	}
	console := input.NewConsole(in, out)
	if forceCLI || !isTerminal(out) {
		return console
	}
	return &TUI{console: console}
}

// TUI asks for authorization codes in a full-screen form. QR content is
// printed through the console since the caller keeps polling meanwhile.
type TUI struct {
	mu      sync.Mutex
	console *input.Console
	// run is replaced in tests.
	run func(app *tui.App, form *components.Form) error
}

// NewTUI creates a TUI prompter writing QR content to out.
func NewTUI(in io.Reader, out io.Writer) *TUI {
	return &TUI{console: input.NewConsole(in, out)}
}

// AuthorizationCode implements storage.Prompter.
func (p *TUI) AuthorizationCode(ctx context.Context, backend types.BackendName, authURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	app := tui.NewApp()
	var code string
	submitted := false

	help := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(true).
		SetText(fmt.Sprintf("%s needs authorization.\n\nOpen this URL in a browser, log in and allow access, then paste the code below:\n\n%s", backend, authURL))

	form := components.NewForm(app)
	form.AddInputFieldWithValidation(codeLabel, "", 48, components.NotEmpty(codeLabel))
	form.SetOnSubmit(func(values map[string]string) error {
		code = strings.TrimSpace(values[codeLabel])
		submitted = true
		return nil
	})
	form.AddSubmitButton("Continue")
	form.AddCancelButton("Cancel")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(help, 0, 1, false).
		AddItem(form, 7, 0, true)
	form.SetParentView(layout)
	app.SetRootWithTitle(layout, fmt.Sprintf("panbackup: %s authorization", backend))
	app.SetFocus(form)

	release := tui.BindContext(ctx, app)
	err := p.runApp(app, form)
	release()
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil || !submitted {
		return "", input.ErrInputAborted
	}
	return code, nil
}

func (p *TUI) runApp(app *tui.App, form *components.Form) error {
	if p.run != nil {
		return p.run(app, form)
	}
	return app.Run()
}

// ShowQRCode implements storage.Prompter.
func (p *TUI) ShowQRCode(ctx context.Context, backend types.BackendName, content string) error {
	return p.console.ShowQRCode(ctx, backend, content)
}
