package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tis24dev/panbackup/internal/types"
)

// maxCodeAttempts bounds how often an empty authorization code is re-asked.
const maxCodeAttempts = 3

// ErrEmptyCode is returned when no authorization code was entered.
var ErrEmptyCode = errors.New("no authorization code entered")

// Console asks for authorization on a plain terminal. Prompts from
// concurrent entries are serialized.
type Console struct {
	mu     sync.Mutex
	reader *bufio.Reader
	out    io.Writer
}

// NewConsole creates a Console reading answers from in and writing prompts to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{reader: bufio.NewReader(in), out: out}
}

// AuthorizationCode prints authURL and reads the code pasted by the user.
func (c *Console) AuthorizationCode(ctx context.Context, backend types.BackendName, authURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s authorization required.\n", backend)
	fmt.Fprintln(c.out, "Open this URL in a browser, log in and allow access:")
	fmt.Fprintf(c.out, "\n  %s\n\n", authURL)

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		fmt.Fprint(c.out, "Authorization code: ")
		line, err := ReadLineWithContext(ctx, c.reader)
		if err != nil {
			return "", err
		}
		if code := strings.TrimSpace(line); code != "" {
			return code, nil
		}
	}
	return "", ErrEmptyCode
}

// ShowQRCode prints the login content for the mobile app and returns
// immediately; the caller polls for the scan.
func (c *Console) ShowQRCode(ctx context.Context, backend types.BackendName, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s QR login.\n", backend)
	fmt.Fprintln(c.out, "Encode the following content as a QR code and scan it with the mobile app:")
	fmt.Fprintf(c.out, "\n  %s\n\n", content)
	fmt.Fprintln(c.out, "Waiting for confirmation...")
	return nil
}
