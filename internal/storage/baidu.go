package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/panbackup/internal/credential"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/types"
	"golang.org/x/oauth2"
)

const (
	baiduOAuthBaseURL = "https://openapi.baidu.com/oauth/2.0/"
	baiduAPIBaseURL   = "https://pan.baidu.com/rest/2.0/xpan/"
	baiduPCSBaseURL   = "https://d.pcs.baidu.com/rest/2.0/pcs/"

	baiduChunkSize   = 4 * 1024 * 1024
	baiduExpirySkew  = 300 * time.Second
	baiduDefaultLife = 30 * 24 * time.Hour
	baiduScope       = "basic,netdisk"
	baiduRedirectURI = "oob"

	// errno returned by file?method=create when the directory exists
	baiduErrnoExists = -8
)

// BaiduToken is the persisted OAuth state.
type BaiduToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Usable implements credential.Credential.
func (t BaiduToken) Usable(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// BaiduConfig configures the Baidu Netdisk backend.
type BaiduConfig struct {
	AppKey     string
	AppSecret  string
	TokenFile  string
	Prompter   Prompter
	HTTPClient *http.Client
	Now        func() time.Time

	// Endpoint overrides, empty for the public service.
	OAuthBaseURL string
	APIBaseURL   string
	PCSBaseURL   string
}

// Baidu uploads to Baidu Netdisk through the xpan open API.
type Baidu struct {
	logger   *logging.Logger
	client   *http.Client
	oauth    *oauth2.Config
	apiBase  string
	pcsBase  string
	prompter Prompter
	now      func() time.Time
	tokens   *credential.Cache[BaiduToken]
}

// NewBaidu creates the backend. Nothing is contacted until the first upload.
func NewBaidu(logger *logging.Logger, cfg BaiduConfig) (*Baidu, error) {
	if strings.TrimSpace(cfg.AppKey) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("baidu app key and secret are required")
	}
	if strings.TrimSpace(cfg.TokenFile) == "" {
		return nil, errors.New("baidu token file path is required")
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	oauthBase := firstNonEmpty(cfg.OAuthBaseURL, baiduOAuthBaseURL)

	b := &Baidu{
		logger: logger,
		client: newHTTPClient(cfg.HTTPClient),
		oauth: &oauth2.Config{
			ClientID:     cfg.AppKey,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  baiduRedirectURI,
			Scopes:       []string{baiduScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   oauthBase + "authorize",
				TokenURL:  oauthBase + "token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase:  firstNonEmpty(cfg.APIBaseURL, baiduAPIBaseURL),
		pcsBase:  firstNonEmpty(cfg.PCSBaseURL, baiduPCSBaseURL),
		prompter: cfg.Prompter,
		now:      now,
	}
	store := credential.NewFileStore[BaiduToken](cfg.TokenFile)
	b.tokens = credential.NewCache[BaiduToken](string(types.BackendBaidu), logger, store, b.refresh, now)
	return b, nil
}

// Name implements Backend.
func (b *Baidu) Name() types.BackendName {
	return types.BackendBaidu
}

// Invalidate implements Backend.
func (b *Baidu) Invalidate(err error) {
	if token, ok := rejectedCredential[BaiduToken](err); ok {
		b.tokens.Invalidate(token)
	}
}

// AuthorizationURL is the page where the user grants access and receives a code.
func (b *Baidu) AuthorizationURL() string {
	return b.oauth.AuthCodeURL("", oauth2.SetAuthURLParam("display", "popup"))
}

func (b *Baidu) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.client)
}

// refresh is the credential.RefreshFunc: refresh token first, interactive
// authorization as the fallback.
func (b *Baidu) refresh(ctx context.Context, prev *BaiduToken) (BaiduToken, error) {
	if prev != nil && prev.RefreshToken != "" {
		b.logger.Info("Baidu access token expired or rejected, refreshing")
		token, err := b.refreshToken(ctx, prev.RefreshToken)
		if err == nil {
			b.logger.Info("Baidu access token refreshed")
			return token, nil
		}
		if errors.Is(err, ErrNetwork) {
			return BaiduToken{}, err
		}
		b.logger.Warning("Failed to refresh Baidu token, falling back to authorization: %v", err)
	} else {
		b.logger.Info("No Baidu token found, authorization required")
	}
	return b.authorize(ctx)
}

func (b *Baidu) refreshToken(ctx context.Context, refreshToken string) (BaiduToken, error) {
	src := b.oauth.TokenSource(b.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return BaiduToken{}, b.classifyOAuthError("refresh token", err)
	}
	return b.tokenFrom(tok, refreshToken), nil
}

func (b *Baidu) authorize(ctx context.Context) (BaiduToken, error) {
	if b.prompter == nil {
		return BaiduToken{}, &UploadError{Backend: types.BackendBaidu, Kind: ErrAuthRejected, Op: "authorize", Err: ErrInteractionRequired}
	}
	code, err := b.prompter.AuthorizationCode(ctx, types.BackendBaidu, b.AuthorizationURL())
	if err != nil {
		return BaiduToken{}, promptError(types.BackendBaidu, "authorize", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return BaiduToken{}, &UploadError{Backend: types.BackendBaidu, Kind: ErrAuthRejected, Op: "authorize", Err: errors.New("empty authorization code")}
	}

	tok, err := b.oauth.Exchange(b.oauthContext(ctx), code)
	if err != nil {
		return BaiduToken{}, b.classifyOAuthError("exchange code", err)
	}
	token := b.tokenFrom(tok, "")

	info, err := b.userInfo(ctx, token.AccessToken)
	if err != nil {
		return BaiduToken{}, err
	}
	name := firstNonEmpty(info.BaiduName, info.NetdiskName, "user")
	b.logger.Info("Baidu authorization succeeded for %s", name)
	if info.Total > 0 {
		b.logger.Info("Baidu quota: %.2f GB used of %.2f GB", gib(info.Used), gib(info.Total))
	}
	return token, nil
}

func gib(n int64) float64 {
	return float64(n) / (1024 * 1024 * 1024)
}

// tokenFrom converts an oauth2 token, keeping prevRefresh when the server
// did not rotate the refresh token.
func (b *Baidu) tokenFrom(tok *oauth2.Token, prevRefresh string) BaiduToken {
	life := baiduDefaultLife
	if !tok.Expiry.IsZero() {
		life = time.Until(tok.Expiry)
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}
	return BaiduToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    b.now().Add(life - baiduExpirySkew),
	}
}

func (b *Baidu) classifyOAuthError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		kind := ErrAuthRejected
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			kind = ErrNetwork
		}
		detail := firstNonEmpty(retrieveErr.ErrorDescription, retrieveErr.ErrorCode)
		if detail == "" && retrieveErr.Response != nil {
			detail = retrieveErr.Response.Status
		}
		return &UploadError{Backend: types.BackendBaidu, Kind: kind, Op: op, Err: errors.New(detail)}
	}
	return &UploadError{Backend: types.BackendBaidu, Kind: ErrNetwork, Op: op, Err: maskURLError(err)}
}

type baiduUserInfo struct {
	Errno       int    `json:"errno"`
	BaiduName   string `json:"baidu_name"`
	NetdiskName string `json:"netdisk_name"`
	Total       int64  `json:"total"`
	Used        int64  `json:"used"`
}

func (b *Baidu) userInfo(ctx context.Context, accessToken string) (*baiduUserInfo, error) {
	const op = "verify authorization"
	q := url.Values{"method": {"uinfo"}, "access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiBase+"nas?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	body, err := doRequest(b.client, b.logger, types.BackendBaidu, op, req)
	if err != nil {
		return nil, err
	}
	var info baiduUserInfo
	if err := decodeJSON(types.BackendBaidu, op, body, &info); err != nil {
		return nil, err
	}
	if info.Errno != 0 {
		return nil, baiduErrno(op, info.Errno)
	}
	return &info, nil
}

// Upload implements Backend.
func (b *Baidu) Upload(ctx context.Context, localPath, remoteDir string) error {
	token, err := b.tokens.Get(ctx)
	if err != nil {
		return asUploadError(types.BackendBaidu, "authenticate", err)
	}
	return withCredential(token, b.upload(ctx, token, localPath, remoteDir))
}

func (b *Baidu) upload(ctx context.Context, token BaiduToken, localPath, remoteDir string) error {

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	remotePath := remoteJoin(remoteDir, filepath.Base(localPath))
	b.logger.Info("Uploading %s (%d bytes) to Baidu %s", filepath.Base(localPath), info.Size(), remotePath)

	blocks, err := baiduBlockList(localPath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", localPath, err)
	}
	blockJSON, err := json.Marshal(blocks)
	if err != nil {
		return err
	}

	if dir := remoteJoin(remoteDir, ""); dir != "/" {
		if err := b.mkdir(ctx, token.AccessToken, strings.TrimSuffix(dir, "/")); err != nil {
			return err
		}
	}

	uploadID, done, err := b.precreate(ctx, token.AccessToken, remotePath, info.Size(), string(blockJSON))
	if err != nil {
		return err
	}
	if done {
		b.logger.Info("Baidu already holds identical content for %s", remotePath)
		return nil
	}

	if err := b.uploadChunks(ctx, token.AccessToken, localPath, remotePath, uploadID, len(blocks)); err != nil {
		return err
	}
	if err := b.create(ctx, token.AccessToken, remotePath, info.Size(), uploadID, string(blockJSON)); err != nil {
		return err
	}
	b.logger.Info("Uploaded to Baidu: %s", remotePath)
	return nil
}

// baiduBlockList returns the hex MD5 of every 4 MiB chunk.
func baiduBlockList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var blocks []string
	buf := make([]byte, baiduChunkSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			sum := md5.Sum(buf[:n])
			blocks = append(blocks, hex.EncodeToString(sum[:]))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(blocks) == 0 {
		sum := md5.Sum(nil)
		blocks = append(blocks, hex.EncodeToString(sum[:]))
	}
	return blocks, nil
}

type baiduFileResponse struct {
	Errno      int    `json:"errno"`
	UploadID   string `json:"uploadid"`
	ReturnType int    `json:"return_type"`
	FsID       int64  `json:"fs_id"`
}

func (b *Baidu) fileMethod(ctx context.Context, op, method, accessToken string, form url.Values) (*baiduFileResponse, error) {
	q := url.Values{"method": {method}, "access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiBase+"file?"+q.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, err := doRequest(b.client, b.logger, types.BackendBaidu, op, req)
	if err != nil {
		return nil, err
	}
	var resp baiduFileResponse
	if err := decodeJSON(types.BackendBaidu, op, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *Baidu) mkdir(ctx context.Context, accessToken, dir string) error {
	resp, err := b.fileMethod(ctx, "create directory", "create", accessToken, url.Values{
		"path":  {dir},
		"isdir": {"1"},
		"rtype": {"0"},
	})
	if err != nil {
		return err
	}
	if resp.Errno != 0 && resp.Errno != baiduErrnoExists {
		return baiduErrno("create directory", resp.Errno)
	}
	return nil
}

func (b *Baidu) precreate(ctx context.Context, accessToken, remotePath string, size int64, blockList string) (string, bool, error) {
	resp, err := b.fileMethod(ctx, "precreate", "precreate", accessToken, url.Values{
		"path":       {remotePath},
		"size":       {strconv.FormatInt(size, 10)},
		"isdir":      {"0"},
		"autoinit":   {"1"},
		"rtype":      {"3"},
		"block_list": {blockList},
	})
	if err != nil {
		return "", false, err
	}
	if resp.Errno != 0 {
		return "", false, baiduErrno("precreate", resp.Errno)
	}
	if resp.ReturnType == 2 {
		return "", true, nil
	}
	if resp.UploadID == "" {
		return "", false, &UploadError{Backend: types.BackendBaidu, Kind: ErrProtocol, Op: "precreate", Err: errors.New("no upload id returned")}
	}
	return resp.UploadID, false, nil
}

type baiduChunkResponse struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	MD5       string `json:"md5"`
}

func (b *Baidu) uploadChunks(ctx context.Context, accessToken, localPath, remotePath, uploadID string, count int) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, baiduChunkSize)
	for i := 0; i < count; i++ {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return fmt.Errorf("read chunk %d: %w", i, err)
		}
		b.logger.Debug("Uploading Baidu chunk %d/%d", i+1, count)
		if err := b.uploadChunk(ctx, accessToken, remotePath, uploadID, i, buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Baidu) uploadChunk(ctx context.Context, accessToken, remotePath, uploadID string, seq int, data []byte) error {
	op := fmt.Sprintf("upload chunk %d", seq)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "file")
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	q := url.Values{
		"method":       {"upload"},
		"access_token": {accessToken},
		"type":         {"tmpfile"},
		"path":         {remotePath},
		"uploadid":     {uploadID},
		"partseq":      {strconv.Itoa(seq)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.pcsBase+"superfile2?"+q.Encode(), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	respBody, err := doRequest(b.client, b.logger, types.BackendBaidu, op, req)
	if err != nil {
		return err
	}
	var resp baiduChunkResponse
	if err := decodeJSON(types.BackendBaidu, op, respBody, &resp); err != nil {
		return err
	}
	if resp.ErrorCode != 0 {
		return baiduErrno(op, resp.ErrorCode)
	}
	return nil
}

func (b *Baidu) create(ctx context.Context, accessToken, remotePath string, size int64, uploadID, blockList string) error {
	resp, err := b.fileMethod(ctx, "create file", "create", accessToken, url.Values{
		"path":       {remotePath},
		"size":       {strconv.FormatInt(size, 10)},
		"isdir":      {"0"},
		"rtype":      {"3"},
		"uploadid":   {uploadID},
		"block_list": {blockList},
	})
	if err != nil {
		return err
	}
	if resp.Errno != 0 {
		return baiduErrno("create file", resp.Errno)
	}
	return nil
}

// baiduErrno maps xpan errno values to failure classes.
func baiduErrno(op string, errno int) error {
	kind := ErrProtocol
	switch errno {
	case -6, 110, 111:
		kind = ErrAuthRejected
	case -10, -7, 31218, 31064, 31062:
		kind = ErrQuotaOrPermission
	}
	return &UploadError{Backend: types.BackendBaidu, Kind: kind, Op: op, Err: fmt.Errorf("errno %d", errno)}
}

// asUploadError keeps UploadErrors intact and classifies anything else as
// an authentication failure.
func asUploadError(backend types.BackendName, op string, err error) error {
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &UploadError{Backend: backend, Kind: ErrAuthRejected, Op: op, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
