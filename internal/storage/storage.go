// Package storage uploads finished archives to remote cloud drives.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tis24dev/panbackup/internal/input"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/types"
)

// Backend uploads local files to one remote account.
type Backend interface {
	// Name identifies the backend in logs and the run summary.
	Name() types.BackendName

	// Upload transfers localPath to remoteDir/<basename>, creating missing
	// remote directories. remoteDir must already be placeholder-resolved.
	Upload(ctx context.Context, localPath, remoteDir string) error

	// Invalidate discards the credential that err, returned by Upload,
	// reports as rejected. It does nothing when err names no credential or
	// the credential has already been replaced.
	Invalidate(err error)
}

// Failure classes of an upload. Match them with errors.Is.
var (
	ErrAuthRejected        = errors.New("authentication rejected")
	ErrNetwork             = errors.New("network error")
	ErrQuotaOrPermission   = errors.New("quota or permission error")
	ErrProtocol            = errors.New("unexpected response")
	ErrInteractionRequired = errors.New("interactive authorization required")
)

// UploadError describes a failed backend operation.
type UploadError struct {
	Backend types.BackendName
	Kind    error
	Op      string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Backend, e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the failure class and the underlying cause.
func (e *UploadError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// credentialError attaches the credential an upload used to its auth
// rejection, so Invalidate discards exactly that credential.
type credentialError struct {
	used any
	err  error
}

func (e *credentialError) Error() string { return e.err.Error() }
func (e *credentialError) Unwrap() error { return e.err }

// withCredential tags an auth rejection with the credential that was refused.
func withCredential(used any, err error) error {
	if err == nil || !errors.Is(err, ErrAuthRejected) {
		return err
	}
	return &credentialError{used: used, err: err}
}

// rejectedCredential returns the credential err reports as refused.
func rejectedCredential[T any](err error) (T, bool) {
	var ce *credentialError
	if errors.As(err, &ce) {
		v, ok := ce.used.(T)
		return v, ok
	}
	var zero T
	return zero, false
}

// Kind returns the failure class of err, or nil when err is not an UploadError.
func Kind(err error) error {
	for _, kind := range []error{ErrAuthRejected, ErrNetwork, ErrQuotaOrPermission, ErrInteractionRequired, ErrProtocol} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Prompter collects interactive input during authorization. A nil
// Prompter means the run is non-interactive.
type Prompter interface {
	// AuthorizationCode shows authURL and returns the code the user pasted.
	AuthorizationCode(ctx context.Context, backend types.BackendName, authURL string) (string, error)

	// ShowQRCode displays the content to scan. It must return promptly;
	// the backend polls the login state itself.
	ShowQRCode(ctx context.Context, backend types.BackendName, content string) error
}

// promptError wraps a Prompter failure. An answer the user aborted also
// matches ErrInteractionRequired, so the upload is not retried into a
// second prompt.
func promptError(backend types.BackendName, op string, err error) error {
	if input.IsAborted(err) {
		err = fmt.Errorf("%w: %w", ErrInteractionRequired, err)
	}
	return &UploadError{Backend: backend, Kind: ErrAuthRejected, Op: op, Err: err}
}

const (
	defaultHTTPTimeout = 10 * time.Minute
	maxErrorBody       = 512
)

func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// httpStatusError carries a non-2xx response.
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// doRequest sends req and returns the body of a 2xx response. Transport
// failures and 5xx responses are ErrNetwork; 401 is ErrAuthRejected and
// 403 ErrQuotaOrPermission.
func doRequest(client *http.Client, logger *logging.Logger, backend types.BackendName, op string, req *http.Request) ([]byte, error) {
	logger.Debug("%s: %s %s", op, req.Method, logging.MaskURL(req.URL.String()))
	resp, err := client.Do(req)
	if err != nil {
		return nil, &UploadError{Backend: backend, Kind: ErrNetwork, Op: op, Err: maskURLError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UploadError{Backend: backend, Kind: ErrNetwork, Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	statusErr := &httpStatusError{Status: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	kind := ErrProtocol
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = ErrAuthRejected
	case resp.StatusCode == http.StatusForbidden:
		kind = ErrQuotaOrPermission
	case resp.StatusCode >= 500:
		kind = ErrNetwork
	}
	return body, &UploadError{Backend: backend, Kind: kind, Op: op, Err: statusErr}
}

// decodeJSON unmarshals body and reports malformed payloads as protocol errors.
func decodeJSON(backend types.BackendName, op string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &UploadError{Backend: backend, Kind: ErrProtocol, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// maskURLError rewrites transport errors so the request URL they quote
// no longer carries tokens.
func maskURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		masked := logging.MaskURL(urlErr.URL)
		if urlErr.Timeout() {
			return fmt.Errorf("%s %s timeout: %w", urlErr.Op, masked, urlErr.Err)
		}
		return fmt.Errorf("%s %s: %w", urlErr.Op, masked, urlErr.Err)
	}
	return err
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// remoteJoin joins a remote directory and file name with forward slashes.
func remoteJoin(dir, name string) string {
	dir = strings.TrimRight(strings.TrimSpace(dir), "/")
	if dir == "" {
		return "/" + name
	}
	if !strings.HasPrefix(dir, "/") {
		dir = "/" + dir
	}
	return dir + "/" + name
}

// splitRemoteDir returns the non-empty path segments of dir.
func splitRemoteDir(dir string) []string {
	parts := strings.Split(strings.ReplaceAll(dir, "\\", "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" && p != "." {
			out = append(out, p)
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
