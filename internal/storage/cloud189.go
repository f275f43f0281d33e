package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tis24dev/panbackup/internal/credential"
	"github.com/tis24dev/panbackup/internal/logging"
	"github.com/tis24dev/panbackup/internal/types"
)

const (
	cloud189APIBaseURL    = "https://api.cloud.189.cn"
	cloud189UploadBaseURL = "https://upload.cloud.189.cn"
	cloud189AuthBaseURL   = "https://open.e.189.cn"

	cloud189AppID      = "8025431004"
	cloud189ClientType = "10020"
	cloud189PCClient   = "TELEPC"
	cloud189Version    = "6.2"
	cloud189ChannelID  = "web_cloud.189.cn"

	cloud189RootFolderID = "-11"
	cloud189SliceSize    = 10 * 1024 * 1024
	cloud189SessionLife  = 24 * time.Hour
	cloud189QRPoll       = 2 * time.Second
	cloud189QRTimeout    = 3 * time.Minute
)

// QR login states reported by qrcodeLoginState.do.
const (
	cloud189QRSuccess = 0
	cloud189QRWaiting = -106
	cloud189QRScanned = -11002
	cloud189QRExpired = -11001
)

// Cloud189Session is the persisted login state.
type Cloud189Session struct {
	SessionKey    string    `json:"session_key"`
	SessionSecret string    `json:"session_secret"`
	AccessToken   string    `json:"access_token,omitempty"`
	LoginName     string    `json:"login_name,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Usable implements credential.Credential.
func (s Cloud189Session) Usable(now time.Time) bool {
	return s.SessionKey != "" && s.SessionSecret != "" && now.Before(s.ExpiresAt)
}

// Cloud189Config configures the Cloud189 backend.
type Cloud189Config struct {
	Username    string
	Password    string
	UseQR       bool
	SessionFile string
	Prompter    Prompter
	HTTPClient  *http.Client
	Now         func() time.Time

	// Endpoint overrides, empty for the public service.
	APIBaseURL    string
	UploadBaseURL string
	AuthBaseURL   string

	// QRPollInterval overrides the login state polling period.
	QRPollInterval time.Duration
}

// Cloud189 uploads to China Telecom Cloud189 through the PC client API.
type Cloud189 struct {
	logger     *logging.Logger
	client     *http.Client
	username   string
	password   string
	useQR      bool
	prompter   Prompter
	now        func() time.Time
	apiBase    string
	uploadBase string
	authBase   string
	qrPoll     time.Duration
	sessions   *credential.Cache[Cloud189Session]
}

// NewCloud189 creates the backend. Nothing is contacted until the first upload.
func NewCloud189(logger *logging.Logger, cfg Cloud189Config) (*Cloud189, error) {
	if !cfg.UseQR && (strings.TrimSpace(cfg.Username) == "" || cfg.Password == "") {
		return nil, errors.New("cloud189 username and password are required unless QR login is enabled")
	}
	if strings.TrimSpace(cfg.SessionFile) == "" {
		return nil, errors.New("cloud189 session file path is required")
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	poll := cfg.QRPollInterval
	if poll <= 0 {
		poll = cloud189QRPoll
	}

	c := &Cloud189{
		logger:     logger,
		client:     newHTTPClient(cfg.HTTPClient),
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		useQR:      cfg.UseQR,
		prompter:   cfg.Prompter,
		now:        now,
		apiBase:    strings.TrimRight(firstNonEmpty(cfg.APIBaseURL, cloud189APIBaseURL), "/"),
		uploadBase: strings.TrimRight(firstNonEmpty(cfg.UploadBaseURL, cloud189UploadBaseURL), "/"),
		authBase:   strings.TrimRight(firstNonEmpty(cfg.AuthBaseURL, cloud189AuthBaseURL), "/"),
		qrPoll:     poll,
	}
	store := credential.NewFileStore[Cloud189Session](cfg.SessionFile)
	c.sessions = credential.NewCache[Cloud189Session](string(types.BackendCloud189), logger, store, c.refresh, now)
	return c, nil
}

// Name implements Backend.
func (c *Cloud189) Name() types.BackendName {
	return types.BackendCloud189
}

// Invalidate implements Backend.
func (c *Cloud189) Invalidate(err error) {
	if session, ok := rejectedCredential[Cloud189Session](err); ok {
		c.sessions.Invalidate(session)
	}
}

// cloud189Status covers the three error envelopes used across the API.
type cloud189Status struct {
	ResCode    json.RawMessage `json:"res_code"`
	ResMessage string          `json:"res_message"`
	Code       string          `json:"code"`
	Msg        string          `json:"msg"`
	ErrorCode  string          `json:"errorCode"`
	ErrorMsg   string          `json:"errorMsg"`
}

// failure returns the error code and message, or "" on success.
func (s cloud189Status) failure() (string, string) {
	if s.ErrorCode != "" {
		return s.ErrorCode, firstNonEmpty(s.ErrorMsg, s.Msg)
	}
	if s.Code != "" && !strings.EqualFold(s.Code, "SUCCESS") {
		return s.Code, firstNonEmpty(s.Msg, s.ResMessage)
	}
	if len(s.ResCode) > 0 {
		var text string
		if err := json.Unmarshal(s.ResCode, &text); err == nil {
			if text != "" && text != "0" {
				return text, s.ResMessage
			}
			return "", ""
		}
		var num int64
		if err := json.Unmarshal(s.ResCode, &num); err == nil && num != 0 {
			return strconv.FormatInt(num, 10), s.ResMessage
		}
	}
	return "", ""
}

func cloud189Kind(code string) error {
	switch code {
	case "InvalidSessionKey", "InvalidAccessToken", "UserInvalidOpenToken", "InvalidSignature":
		return ErrAuthRejected
	case "InsufficientStorageSpace", "NoPermission", "PermissionDenied":
		return ErrQuotaOrPermission
	}
	return ErrProtocol
}

// do executes req and decodes a successful body into out. Error envelopes
// are classified even when the HTTP status was already an error.
func (c *Cloud189) do(op string, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json;charset=UTF-8")
	body, err := doRequest(c.client, c.logger, types.BackendCloud189, op, req)

	var status cloud189Status
	if len(body) > 0 && json.Unmarshal(body, &status) == nil {
		if code, msg := status.failure(); code != "" {
			kind := cloud189Kind(code)
			if kind == ErrProtocol && err != nil {
				return err
			}
			return &UploadError{Backend: types.BackendCloud189, Kind: kind, Op: op, Err: fmt.Errorf("%s: %s", code, truncate(msg, maxErrorBody))}
		}
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeJSON(types.BackendCloud189, op, body, out)
}

// --- authentication ---

type cloud189SessionResponse struct {
	LoginName     string `json:"loginName"`
	SessionKey    string `json:"sessionKey"`
	SessionSecret string `json:"sessionSecret"`
	AccessToken   string `json:"accessToken"`
}

func (c *Cloud189) refresh(ctx context.Context, prev *Cloud189Session) (Cloud189Session, error) {
	if prev != nil && prev.AccessToken != "" {
		c.logger.Info("Cloud189 session expired or rejected, refreshing")
		session, err := c.sessionFromAccessToken(ctx, prev.AccessToken)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, ErrNetwork) {
			return Cloud189Session{}, err
		}
		c.logger.Warning("Failed to refresh Cloud189 session, logging in again: %v", err)
	} else {
		c.logger.Info("No Cloud189 session found, logging in")
	}

	var redirectURL string
	var err error
	if c.useQR {
		redirectURL, err = c.loginQR(ctx)
	} else {
		redirectURL, err = c.loginPassword(ctx)
	}
	if err != nil {
		return Cloud189Session{}, err
	}
	session, err := c.sessionFromRedirect(ctx, redirectURL)
	if err != nil {
		return Cloud189Session{}, err
	}
	c.logger.Info("Cloud189 login succeeded for %s", firstNonEmpty(session.LoginName, "user"))
	return session, nil
}

func (c *Cloud189) sessionQuery() url.Values {
	return url.Values{
		"appId":      {cloud189AppID},
		"clientType": {cloud189PCClient},
		"version":    {cloud189Version},
		"channelId":  {cloud189ChannelID},
		"rand":       {strconv.FormatInt(c.now().UnixMilli(), 10)},
	}
}

func (c *Cloud189) sessionFromAccessToken(ctx context.Context, accessToken string) (Cloud189Session, error) {
	q := c.sessionQuery()
	q.Set("accessToken", accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getSessionForPC.action?"+q.Encode(), nil)
	if err != nil {
		return Cloud189Session{}, err
	}
	return c.sessionRequest("refresh session", req, accessToken)
}

func (c *Cloud189) sessionFromRedirect(ctx context.Context, redirectURL string) (Cloud189Session, error) {
	form := url.Values{"redirectURL": {redirectURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/getSessionForPC.action?"+c.sessionQuery().Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return Cloud189Session{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.sessionRequest("create session", req, "")
}

func (c *Cloud189) sessionRequest(op string, req *http.Request, prevAccessToken string) (Cloud189Session, error) {
	var resp cloud189SessionResponse
	if err := c.do(op, req, &resp); err != nil {
		return Cloud189Session{}, err
	}
	if resp.SessionKey == "" || resp.SessionSecret == "" {
		return Cloud189Session{}, &UploadError{Backend: types.BackendCloud189, Kind: ErrAuthRejected, Op: op, Err: errors.New("no session returned")}
	}
	return Cloud189Session{
		SessionKey:    resp.SessionKey,
		SessionSecret: resp.SessionSecret,
		AccessToken:   firstNonEmpty(resp.AccessToken, prevAccessToken),
		LoginName:     resp.LoginName,
		ExpiresAt:     c.now().Add(cloud189SessionLife),
	}, nil
}

type cloud189EncryptConf struct {
	Result int `json:"result"`
	Data   struct {
		PubKey string `json:"pubKey"`
		Pre    string `json:"pre"`
	} `json:"data"`
}

type cloud189LoginResult struct {
	Result int    `json:"result"`
	Msg    string `json:"msg"`
	ToURL  string `json:"toUrl"`
}

func (c *Cloud189) loginPassword(ctx context.Context) (string, error) {
	const op = "password login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBase+"/api/logbox/config/encryptConf.do",
		strings.NewReader(url.Values{"appId": {cloud189AppID}}.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var conf cloud189EncryptConf
	if err := c.do(op, req, &conf); err != nil {
		return "", err
	}
	if conf.Result != 0 || conf.Data.PubKey == "" {
		return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrProtocol, Op: op, Err: errors.New("no encryption key returned")}
	}

	user, err := cloud189EncryptCredential(conf.Data.PubKey, conf.Data.Pre, c.username)
	if err != nil {
		return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrProtocol, Op: op, Err: err}
	}
	pass, err := cloud189EncryptCredential(conf.Data.PubKey, conf.Data.Pre, c.password)
	if err != nil {
		return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrProtocol, Op: op, Err: err}
	}

	form := url.Values{
		"appKey":       {cloud189AppID},
		"accountType":  {"02"},
		"userName":     {user},
		"password":     {pass},
		"validateCode": {""},
		"mailSuffix":   {"@189.cn"},
		"dynamicCheck": {"FALSE"},
		"clientType":   {cloud189ClientType},
		"cb_SaaSlogin": {"1"},
		"isOauth2":     {"false"},
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.authBase+"/api/logbox/oauth2/loginSubmit.do", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var result cloud189LoginResult
	if err := c.do(op, req, &result); err != nil {
		return "", err
	}
	if result.Result != 0 || result.ToURL == "" {
		return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrAuthRejected, Op: op, Err: fmt.Errorf("login refused: %s", firstNonEmpty(result.Msg, strconv.Itoa(result.Result)))}
	}
	return result.ToURL, nil
}

type cloud189QRCode struct {
	UUID       string `json:"uuid"`
	EncryUUID  string `json:"encryuuid"`
	EncodeUUID string `json:"encodeuuid"`
}

type cloud189QRState struct {
	Status      int    `json:"status"`
	RedirectURL string `json:"redirectUrl"`
}

func (c *Cloud189) loginQR(ctx context.Context) (string, error) {
	const op = "QR login"
	if c.prompter == nil {
		return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrAuthRejected, Op: op, Err: ErrInteractionRequired}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBase+"/api/logbox/oauth2/getUUID.do",
		strings.NewReader(url.Values{"appId": {cloud189AppID}}.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var code cloud189QRCode
	if err := c.do(op, req, &code); err != nil {
		return "", err
	}
	if code.UUID == "" || code.EncryUUID == "" {
		return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrProtocol, Op: op, Err: errors.New("no QR code returned")}
	}
	if err := c.prompter.ShowQRCode(ctx, types.BackendCloud189, code.UUID); err != nil {
		return "", promptError(types.BackendCloud189, op, err)
	}

	deadline := c.now().Add(cloud189QRTimeout)
	scanned := false
	for {
		state, err := c.qrState(ctx, code)
		if err != nil {
			return "", err
		}
		switch state.Status {
		case cloud189QRSuccess:
			return state.RedirectURL, nil
		case cloud189QRWaiting:
		case cloud189QRScanned:
			if !scanned {
				c.logger.Info("QR code scanned, confirm the login on your phone")
				scanned = true
			}
		case cloud189QRExpired:
			return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrAuthRejected, Op: op, Err: errors.New("QR code expired")}
		default:
			return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrAuthRejected, Op: op, Err: fmt.Errorf("unexpected QR state %d", state.Status)}
		}
		if c.now().After(deadline) {
			return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrAuthRejected, Op: op, Err: errors.New("timed out waiting for QR confirmation")}
		}
		if err := sleepContext(ctx, c.qrPoll); err != nil {
			return "", err
		}
	}
}

func (c *Cloud189) qrState(ctx context.Context, code cloud189QRCode) (*cloud189QRState, error) {
	now := c.now()
	form := url.Values{
		"appId":      {cloud189AppID},
		"clientType": {cloud189ClientType},
		"uuid":       {code.UUID},
		"encryuuid":  {code.EncryUUID},
		"date":       {now.Format("2006-01-02 15:04:05")},
		"timeStamp":  {strconv.FormatInt(now.UnixMilli(), 10)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBase+"/api/logbox/oauth2/qrcodeLoginState.do", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var state cloud189QRState
	if err := c.do("QR login", req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// --- signed API ---

func (c *Cloud189) signedRequest(ctx context.Context, session Cloud189Session, method, base, path string, query url.Values, body io.Reader, encryptQuery bool) (*http.Request, error) {
	var params string
	rawQuery := query.Encode()
	if encryptQuery {
		enc, err := cloud189EncryptParams(rawQuery, session.SessionSecret)
		if err != nil {
			return nil, err
		}
		params = enc
		rawQuery = "params=" + enc
	}
	target := base + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	date := c.now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	req.Header.Set("SessionKey", session.SessionKey)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Signature", cloud189Signature(session.SessionSecret, session.SessionKey, method, path, date, params))
	return req, nil
}

// flexID accepts numeric and string ids.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type cloud189Folder struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

type cloud189ListResponse struct {
	FileListAO struct {
		FolderList []cloud189Folder `json:"folderList"`
	} `json:"fileListAO"`
}

func (c *Cloud189) findFolder(ctx context.Context, session Cloud189Session, parentID, name string) (string, error) {
	q := url.Values{
		"folderId":   {parentID},
		"fileType":   {"0"},
		"mediaType":  {"0"},
		"iconOption": {"5"},
		"orderBy":    {"filename"},
		"descending": {"false"},
		"pageNum":    {"1"},
		"pageSize":   {"1000"},
	}
	req, err := c.signedRequest(ctx, session, http.MethodGet, c.apiBase, "/listFiles.action", q, nil, false)
	if err != nil {
		return "", err
	}
	var resp cloud189ListResponse
	if err := c.do("list folder", req, &resp); err != nil {
		return "", err
	}
	for _, f := range resp.FileListAO.FolderList {
		if f.Name == name {
			return string(f.ID), nil
		}
	}
	return "", nil
}

func (c *Cloud189) createFolder(ctx context.Context, session Cloud189Session, parentID, name string) (string, error) {
	form := url.Values{"parentFolderId": {parentID}, "folderName": {name}}
	req, err := c.signedRequest(ctx, session, http.MethodPost, c.apiBase, "/createFolder.action", nil, strings.NewReader(form.Encode()), false)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var folder cloud189Folder
	if err := c.do("create folder", req, &folder); err != nil {
		return "", err
	}
	if folder.ID == "" {
		return "", &UploadError{Backend: types.BackendCloud189, Kind: ErrProtocol, Op: "create folder", Err: errors.New("no folder id returned")}
	}
	return string(folder.ID), nil
}

// ensureFolder resolves remoteDir segment by segment from the root,
// creating what is missing, and returns the id of the last folder.
func (c *Cloud189) ensureFolder(ctx context.Context, session Cloud189Session, remoteDir string) (string, error) {
	id := cloud189RootFolderID
	for _, name := range splitRemoteDir(remoteDir) {
		next, err := c.findFolder(ctx, session, id, name)
		if err != nil {
			return "", err
		}
		if next == "" {
			c.logger.Debug("Creating Cloud189 folder %s", name)
			if next, err = c.createFolder(ctx, session, id, name); err != nil {
				return "", err
			}
		}
		id = next
	}
	return id, nil
}

// --- upload ---

type cloud189InitResponse struct {
	Code string `json:"code"`
	Data struct {
		UploadFileID   flexID `json:"uploadFileId"`
		FileDataExists int    `json:"fileDataExists"`
	} `json:"data"`
}

type cloud189PartURL struct {
	RequestURL    string `json:"requestURL"`
	RequestHeader string `json:"requestHeader"`
}

type cloud189URLsResponse struct {
	Code       string                     `json:"code"`
	UploadURLs map[string]cloud189PartURL `json:"uploadUrls"`
}

// Upload implements Backend.
func (c *Cloud189) Upload(ctx context.Context, localPath, remoteDir string) error {
	session, err := c.sessions.Get(ctx)
	if err != nil {
		return asUploadError(types.BackendCloud189, "authenticate", err)
	}
	return withCredential(session, c.upload(ctx, session, localPath, remoteDir))
}

func (c *Cloud189) upload(ctx context.Context, session Cloud189Session, localPath, remoteDir string) error {

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	name := filepath.Base(localPath)
	c.logger.Info("Uploading %s (%d bytes) to Cloud189 %s", name, info.Size(), remoteJoin(remoteDir, name))

	folderID, err := c.ensureFolder(ctx, session, remoteDir)
	if err != nil {
		return err
	}

	initQuery := url.Values{
		"parentFolderId": {folderID},
		"fileName":       {name},
		"fileSize":       {strconv.FormatInt(info.Size(), 10)},
		"sliceSize":      {strconv.Itoa(cloud189SliceSize)},
		"lazyCheck":      {"1"},
	}
	req, err := c.signedRequest(ctx, session, http.MethodGet, c.uploadBase, "/person/initMultiUpload", initQuery, nil, true)
	if err != nil {
		return err
	}
	var initResp cloud189InitResponse
	if err := c.do("init upload", req, &initResp); err != nil {
		return err
	}
	uploadID := string(initResp.Data.UploadFileID)
	if uploadID == "" {
		return &UploadError{Backend: types.BackendCloud189, Kind: ErrProtocol, Op: "init upload", Err: errors.New("no upload id returned")}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	whole := md5.New()
	var partMD5s []string
	buf := make([]byte, cloud189SliceSize)
	for part := 1; ; part++ {
		n, readErr := io.ReadFull(f, buf)
		if n == 0 && part > 1 {
			break
		}
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return fmt.Errorf("read part %d: %w", part, readErr)
		}
		chunk := buf[:n]
		whole.Write(chunk)
		sum := md5.Sum(chunk)
		partMD5s = append(partMD5s, strings.ToUpper(hex.EncodeToString(sum[:])))

		c.logger.Debug("Uploading Cloud189 part %d", part)
		if err := c.uploadPart(ctx, session, uploadID, part, sum[:], chunk); err != nil {
			return err
		}
		if readErr != nil {
			break
		}
	}

	fileMD5 := strings.ToUpper(hex.EncodeToString(whole.Sum(nil)))
	commitQuery := url.Values{
		"uploadFileId": {uploadID},
		"fileMd5":      {fileMD5},
		"sliceMd5":     {cloud189SliceMD5(fileMD5, partMD5s)},
		"lazyCheck":    {"1"},
		"opertype":     {"3"},
	}
	req, err = c.signedRequest(ctx, session, http.MethodGet, c.uploadBase, "/person/commitMultiUploadFile", commitQuery, nil, true)
	if err != nil {
		return err
	}
	if err := c.do("commit upload", req, nil); err != nil {
		return err
	}
	c.logger.Info("Uploaded to Cloud189: %s", remoteJoin(remoteDir, name))
	return nil
}

func (c *Cloud189) uploadPart(ctx context.Context, session Cloud189Session, uploadID string, part int, sum, data []byte) error {
	op := fmt.Sprintf("upload part %d", part)
	q := url.Values{
		"uploadFileId": {uploadID},
		"partInfo":     {fmt.Sprintf("%d-%s", part, base64.StdEncoding.EncodeToString(sum))},
	}
	req, err := c.signedRequest(ctx, session, http.MethodGet, c.uploadBase, "/person/getMultiUploadUrls", q, nil, true)
	if err != nil {
		return err
	}
	var urls cloud189URLsResponse
	if err := c.do(op, req, &urls); err != nil {
		return err
	}
	target, ok := urls.UploadURLs["partNumber_"+strconv.Itoa(part)]
	if !ok || target.RequestURL == "" {
		return &UploadError{Backend: types.BackendCloud189, Kind: ErrProtocol, Op: op, Err: fmt.Errorf("no upload url returned (got %s)", strings.Join(sortedKeys(urls.UploadURLs), ","))}
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, target.RequestURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	for k, v := range parseHeaderList(target.RequestHeader) {
		put.Header.Set(k, v)
	}
	put.ContentLength = int64(len(data))
	_, err = doRequest(c.client, c.logger, types.BackendCloud189, op, put)
	return err
}

// parseHeaderList decodes the "k=v&k2=v2" header list returned with part URLs.
// Values are kept raw because they may contain '='.
func parseHeaderList(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
