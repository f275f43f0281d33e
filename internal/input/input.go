// Package input reads interactive answers from the terminal.
package input

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrInputAborted signals that interactive input was interrupted by Ctrl+C
// (context cancellation) or by stdin being closed.
var ErrInputAborted = errors.New("input aborted")

// IsAborted reports whether an operation was aborted by the user (typically via Ctrl+C),
// by checking for ErrInputAborted and context cancellation.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// MapInputError normalizes common stdin errors (EOF/closed fd) into ErrInputAborted.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "use of closed file") ||
		strings.Contains(errStr, "bad file descriptor") ||
		strings.Contains(errStr, "file already closed") {
		return ErrInputAborted
	}
	return err
}

// ReadLineWithContext reads a single line and supports cancellation. On ctx cancellation
// or stdin closure it returns ErrInputAborted. On ctx deadline it returns context.DeadlineExceeded.
func ReadLineWithContext(ctx context.Context, reader *bufio.Reader) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := reader.ReadString('\n')
		ch <- result{line: line, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", ErrInputAborted
	case res := <-ch:
		return res.line, res.err
	}
}
