package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"refiner/internal/infra"
	"refiner/pkg/backoff"
)

// ErrMissingCredentials indicates that the B2 client was configured without keys.
var ErrMissingCredentials = errors.New("b2: key id, application key and bucket id are required")

// ErrInvalidResponse marks a 2xx body that could not be decoded. It is never retried.
var ErrInvalidResponse = errors.New("invalid response body")

// authTTL is kept below B2's 24h token lifetime.
const authTTL = 23 * time.Hour

// B2Options configures the Backblaze B2 native API client.
type B2Options struct {
	KeyID          string
	ApplicationKey string
	BucketID       string
	BucketName     string
	AuthURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	Retry          *backoff.Config
}

// B2Client stores objects through the B2 native API:
// authorize account -> get upload url -> upload file.
type B2Client struct {
	keyID      string
	appKey     string
	bucketID   string
	bucketName string
	authURL    string
	httpClient *http.Client
	logger     *infra.Logger
	retry      *backoff.Config

	mu       sync.Mutex
	auth     *b2Auth
	authedAt time.Time
	now      func() time.Time
}

type b2Auth struct {
	APIURL             string `json:"apiUrl"`
	AuthorizationToken string `json:"authorizationToken"`
	AccountID          string `json:"accountId"`
}

type b2UploadURL struct {
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

type b2File struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName"`
	ContentSHA1 string `json:"contentSha1"`
	Size        int64  `json:"contentLength"`
}

type b2Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusError is returned for non-2xx B2 responses.
type StatusError struct {
	Op     string
	Status int
	Code   string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("b2: %s: %s (%s, status %d)", e.Op, e.Detail, e.Code, e.Status)
	}
	return fmt.Sprintf("b2: %s: status %d: %s", e.Op, e.Status, e.Detail)
}

// NewB2Client constructs a client with defaults for unset options.
func NewB2Client(opts B2Options) *B2Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	authURL := strings.TrimSpace(opts.AuthURL)
	if authURL == "" {
		authURL = "https://api.backblazeb2.com/b2api/v2/b2_authorize_account"
	}
	logger := infra.LoggerOrNop(opts.Logger)
	return &B2Client{
		keyID:      strings.TrimSpace(opts.KeyID),
		appKey:     strings.TrimSpace(opts.ApplicationKey),
		bucketID:   strings.TrimSpace(opts.BucketID),
		bucketName: strings.TrimSpace(opts.BucketName),
		authURL:    authURL,
		httpClient: httpClient,
		logger:     logger,
		retry:      opts.Retry,
		now:        time.Now,
	}
}

// Configured reports whether credentials and a bucket are present.
func (c *B2Client) Configured() bool {
	return c.keyID != "" && c.appKey != "" && c.bucketID != ""
}

// Bucket returns the bucket name recorded alongside object keys.
func (c *B2Client) Bucket() string {
	return c.bucketName
}

// Put uploads data under key. Authorization and upload-url requests are
// retried; the upload itself is attempted once with a fresh upload url.
func (c *B2Client) Put(ctx context.Context, key, contentType string, data []byte) (Object, error) {
	if !c.Configured() {
		return Object{}, ErrMissingCredentials
	}
	auth, err := c.authorize(ctx)
	if err != nil {
		return Object{}, err
	}
	var upload *b2UploadURL
	err = backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		upload, err = c.getUploadURL(ctx, auth)
		return retryable(err)
	})
	if err != nil {
		c.invalidateOn(err)
		return Object{}, err
	}
	if contentType == "" {
		contentType = "b2/x-auto"
	}
	sha := contentSHA1(data)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upload.UploadURL, bytes.NewReader(data))
	if err != nil {
		return Object{}, fmt.Errorf("b2: build upload request: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Authorization", upload.AuthorizationToken)
	req.Header.Set("X-Bz-File-Name", encodeFileName(key))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Bz-Content-Sha1", sha)

	var file b2File
	if err := c.do(req, "upload_file", &file); err != nil {
		c.invalidateOn(err)
		return Object{}, err
	}
	c.logger.Debug().
		Str("key", key).
		Str("file_id", file.FileID).
		Int("bytes", len(data)).
		Msg("b2: uploaded object")
	return Object{Key: key, FileID: file.FileID, Size: int64(len(data)), SHA1: sha}, nil
}

// Delete removes a stored file version.
func (c *B2Client) Delete(ctx context.Context, obj Object) error {
	if obj.FileID == "" {
		return fmt.Errorf("b2: delete %q: missing file id", obj.Key)
	}
	auth, err := c.authorize(ctx)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"fileName": obj.Key, "fileId": obj.FileID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.APIURL+"/b2api/v2/b2_delete_file_version", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("b2: build delete request: %w", err)
	}
	req.Header.Set("Authorization", auth.AuthorizationToken)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "delete_file_version", nil)
}

func (c *B2Client) authorize(ctx context.Context) (*b2Auth, error) {
	c.mu.Lock()
	if c.auth != nil && c.now().Sub(c.authedAt) < authTTL {
		auth := c.auth
		c.mu.Unlock()
		return auth, nil
	}
	c.mu.Unlock()

	var auth b2Auth
	err := backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("b2: build authorize request: %w", err))
		}
		req.SetBasicAuth(c.keyID, c.appKey)
		return retryable(c.do(req, "authorize_account", &auth))
	})
	if err != nil {
		return nil, err
	}
	if auth.APIURL == "" || auth.AuthorizationToken == "" {
		return nil, errors.New("b2: authorize_account: empty api url or token")
	}

	c.mu.Lock()
	c.auth = &auth
	c.authedAt = c.now()
	c.mu.Unlock()
	return &auth, nil
}

func (c *B2Client) getUploadURL(ctx context.Context, auth *b2Auth) (*b2UploadURL, error) {
	body, _ := json.Marshal(map[string]string{"bucketId": c.bucketID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.APIURL+"/b2api/v2/b2_get_upload_url", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("b2: build get_upload_url request: %w", err)
	}
	req.Header.Set("Authorization", auth.AuthorizationToken)
	req.Header.Set("Content-Type", "application/json")
	var out b2UploadURL
	if err := c.do(req, "get_upload_url", &out); err != nil {
		return nil, err
	}
	if out.UploadURL == "" || out.AuthorizationToken == "" {
		return nil, errors.New("b2: get_upload_url: empty upload url or token")
	}
	return &out, nil
}

func (c *B2Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("b2: %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("b2: %s: read response: %w", op, err)
	}
	if resp.StatusCode >= 300 {
		se := &StatusError{Op: op, Status: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
		var detail b2Error
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Code != "" {
			se.Code = detail.Code
			se.Detail = detail.Message
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("b2: %s: %w: %v", op, ErrInvalidResponse, err)
	}
	return nil
}

// invalidateOn drops the cached account token after an auth failure.
func (c *B2Client) invalidateOn(err error) {
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		c.mu.Lock()
		c.auth = nil
		c.mu.Unlock()
	}
}

// retryable marks undecodable bodies and 4xx responses (other than 408/429)
// as permanent.
func retryable(err error) error {
	if errors.Is(err, ErrInvalidResponse) {
		return backoff.Permanent(err)
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 &&
		se.Status != http.StatusRequestTimeout && se.Status != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

func encodeFileName(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
