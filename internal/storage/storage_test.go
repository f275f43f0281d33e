package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/types"
)

type fakePrompter struct {
	code      string
	err       error
	authURLs  []string
	qrContent []string
}

func (p *fakePrompter) AuthorizationCode(ctx context.Context, backend types.BackendName, authURL string) (string, error) {
	p.authURLs = append(p.authURLs, authURL)
	return p.code, p.err
}

func (p *fakePrompter) ShowQRCode(ctx context.Context, backend types.BackendName, content string) error {
	p.qrContent = append(p.qrContent, content)
	return p.err
}

func newTestLogger() *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(io.Discard)
	return logger
}

func TestUploadErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("errno -6")
	err := fmt.Errorf("wrapped: %w", &UploadError{Backend: types.BackendBaidu, Kind: ErrAuthRejected, Op: "precreate", Err: cause})

	if !errors.Is(err, ErrAuthRejected) {
		t.Fatal("expected ErrAuthRejected")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected underlying cause")
	}
	if errors.Is(err, ErrNetwork) {
		t.Fatal("unexpected ErrNetwork")
	}
	if Kind(err) != ErrAuthRejected {
		t.Fatalf("Kind = %v", Kind(err))
	}
	if Kind(errors.New("plain")) != nil {
		t.Fatal("plain errors have no kind")
	}
}

func TestRejectedCredentialTravelsWithAuthErrors(t *testing.T) {
	token := BaiduToken{AccessToken: "AT0"}
	rejected := withCredential(token, &UploadError{Backend: types.BackendBaidu, Kind: ErrAuthRejected, Op: "create"})

	if !errors.Is(rejected, ErrAuthRejected) {
		t.Fatal("tagged error must still match ErrAuthRejected")
	}
	if !strings.Contains(rejected.Error(), "create") || strings.Contains(rejected.Error(), "AT0") {
		t.Fatalf("unexpected message %q", rejected.Error())
	}
	got, ok := rejectedCredential[BaiduToken](fmt.Errorf("retry: %w", rejected))
	if !ok || got.AccessToken != "AT0" {
		t.Fatalf("rejectedCredential = %+v, %v", got, ok)
	}
	if _, ok := rejectedCredential[Cloud189Session](rejected); ok {
		t.Fatal("credential of another backend must not match")
	}

	network := &UploadError{Backend: types.BackendBaidu, Kind: ErrNetwork, Op: "create"}
	if withCredential(token, network) != error(network) {
		t.Fatal("only auth rejections carry the credential")
	}
	if withCredential(token, nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestDoRequestClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthRejected},
		{http.StatusForbidden, ErrQuotaOrPermission},
		{http.StatusBadGateway, ErrNetwork},
		{http.StatusServiceUnavailable, ErrNetwork},
		{http.StatusBadRequest, ErrProtocol},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"x"}`))
			}))
			defer srv.Close()

			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			_, err := doRequest(srv.Client(), newTestLogger(), types.BackendBaidu, "status", req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("status %d: got %v, want %v", tc.status, err, tc.want)
			}
		})
	}
}

func TestDoRequestTransportFailureIsNetworkAndHidesURL(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	var logs bytes.Buffer
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(&logs)

	req, _ := http.NewRequest(http.MethodGet, addr+"/file?method=list&access_token=SECRET", nil)
	_, err := doRequest(http.DefaultClient, logger, types.BackendBaidu, "list", req)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if strings.Contains(err.Error(), "SECRET") {
		t.Fatalf("error leaks the token: %v", err)
	}
	if !strings.Contains(err.Error(), "access_token=***") || !strings.Contains(err.Error(), "method=list") {
		t.Fatalf("error should quote the masked URL: %v", err)
	}
	if strings.Contains(logs.String(), "SECRET") {
		t.Fatalf("request trace leaks the token: %q", logs.String())
	}
	if !strings.Contains(logs.String(), "list: GET") || !strings.Contains(logs.String(), "access_token=***") {
		t.Fatalf("expected masked request trace, got %q", logs.String())
	}
}

func TestRemoteJoin(t *testing.T) {
	cases := []struct{ dir, name, want string }{
		{"/apps/bk", "a.tar.zst", "/apps/bk/a.tar.zst"},
		{"apps/bk/", "a.tar.zst", "/apps/bk/a.tar.zst"},
		{"", "a.tar.zst", "/a.tar.zst"},
		{"/", "a.tar.zst", "/a.tar.zst"},
	}
	for _, tc := range cases {
		if got := remoteJoin(tc.dir, tc.name); got != tc.want {
			t.Errorf("remoteJoin(%q, %q) = %q, want %q", tc.dir, tc.name, got, tc.want)
		}
	}
}

func TestSplitRemoteDir(t *testing.T) {
	got := splitRemoteDir("/backups//daily/./2024/")
	want := []string{"backups", "daily", "2024"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
