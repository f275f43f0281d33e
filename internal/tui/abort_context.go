package tui

import (
	"context"
)

// BindContext stops app when ctx is cancelled (e.g. Ctrl+C while a prompt
// is shown). The returned release function must be called once the app
// has returned; after it returns the app is never stopped by ctx.
func BindContext(ctx context.Context, app *App) (release func()) {
	if ctx == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			app.Stop()
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
