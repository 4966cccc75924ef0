package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"refiner/pkg/backoff"
)

func TestObjectKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	tests := []struct {
		name string
		file string
		want string
	}{
		{"plain", "face.jpg", "user-1/1700000000123_face.jpg"},
		{"spaces", "my face.jpg", "user-1/1700000000123_my_face.jpg"},
		{"path stripped", "../../etc/passwd", "user-1/1700000000123_passwd"},
		{"windows path", `C:\photos\me.png`, "user-1/1700000000123_me.png"},
		{"empty", "", "user-1/1700000000123_upload"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ObjectKey("user-1", at, tc.file); got != tc.want {
				t.Fatalf("ObjectKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFileStorePutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	obj, err := store.Put(context.Background(), "user-1/1_face.jpg", "image/jpeg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Key != "user-1/1_face.jpg" || obj.Size != 4 || obj.SHA1 == "" {
		t.Fatalf("unexpected object: %+v", obj)
	}
	full := filepath.Join(dir, "user-1", "1_face.jpg")
	if _, err := os.Stat(full); err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if err := store.Delete(context.Background(), obj); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(full); !os.IsNotExist(err) {
		t.Fatalf("file still present after delete")
	}
	if err := store.Delete(context.Background(), obj); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Put(context.Background(), "../outside.jpg", "", []byte("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

type b2Transport struct {
	mu           sync.Mutex
	authCalls    int
	urlCalls     int
	failAuthOnce bool
	garbledAuth  bool
	uploads      []*http.Request
	uploadBodies [][]byte
}

func (b *b2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case strings.HasSuffix(req.URL.Path, "/b2_authorize_account"):
		b.authCalls++
		if b.failAuthOnce && b.authCalls == 1 {
			return jsonResponse(http.StatusServiceUnavailable, map[string]any{"status": 503, "code": "service_unavailable", "message": "busy"}), nil
		}
		if b.garbledAuth {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("<html>maintenance</html>"))}, nil
		}
		user, pass, ok := req.BasicAuth()
		if !ok || user != "key-id" || pass != "app-key" {
			return jsonResponse(http.StatusUnauthorized, map[string]any{"status": 401, "code": "bad_auth_token", "message": "nope"}), nil
		}
		return jsonResponse(http.StatusOK, map[string]any{
			"apiUrl":             "https://api.b2.test",
			"authorizationToken": "acct-token",
			"accountId":          "acct",
		}), nil
	case strings.HasSuffix(req.URL.Path, "/b2_get_upload_url"):
		b.urlCalls++
		if req.Header.Get("Authorization") != "acct-token" {
			return jsonResponse(http.StatusUnauthorized, map[string]any{"status": 401, "code": "expired_auth_token"}), nil
		}
		return jsonResponse(http.StatusOK, map[string]any{
			"uploadUrl":          "https://pod.b2.test/upload",
			"authorizationToken": "upload-token",
		}), nil
	case req.URL.Path == "/upload":
		body, _ := io.ReadAll(req.Body)
		b.uploads = append(b.uploads, req)
		b.uploadBodies = append(b.uploadBodies, body)
		return jsonResponse(http.StatusOK, map[string]any{
			"fileId":        "file-123",
			"fileName":      req.Header.Get("X-Bz-File-Name"),
			"contentLength": len(body),
		}), nil
	}
	return jsonResponse(http.StatusNotFound, map[string]any{"code": "not_found"}), nil
}

func jsonResponse(status int, payload any) *http.Response {
	body, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func newTestB2(transport http.RoundTripper) *B2Client {
	return NewB2Client(B2Options{
		KeyID:          "key-id",
		ApplicationKey: "app-key",
		BucketID:       "bucket-id",
		BucketName:     "uploads",
		HTTPClient:     &http.Client{Transport: transport},
		Retry:          &backoff.Config{Initial: time.Millisecond, Attempts: 3},
	})
}

func TestB2PutUploadsWithChecksum(t *testing.T) {
	transport := &b2Transport{}
	client := newTestB2(transport)

	data := []byte("fake-jpeg-bytes")
	obj, err := client.Put(context.Background(), "user 1/1_face.jpg", "image/jpeg", data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.FileID != "file-123" || obj.Key != "user 1/1_face.jpg" {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if len(transport.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(transport.uploads))
	}
	up := transport.uploads[0]
	if up.Header.Get("Authorization") != "upload-token" {
		t.Fatalf("upload auth = %q", up.Header.Get("Authorization"))
	}
	if up.Header.Get("X-Bz-File-Name") != "user%201/1_face.jpg" {
		t.Fatalf("file name header = %q", up.Header.Get("X-Bz-File-Name"))
	}
	if up.Header.Get("X-Bz-Content-Sha1") != contentSHA1(data) {
		t.Fatalf("sha1 header = %q", up.Header.Get("X-Bz-Content-Sha1"))
	}
	if !bytes.Equal(transport.uploadBodies[0], data) {
		t.Fatalf("uploaded body mismatch")
	}
}

func TestB2CachesAuthorization(t *testing.T) {
	transport := &b2Transport{}
	client := newTestB2(transport)

	for i := 0; i < 2; i++ {
		if _, err := client.Put(context.Background(), "k", "", []byte("x")); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}
	if transport.authCalls != 1 {
		t.Fatalf("authCalls = %d, want 1", transport.authCalls)
	}
	if transport.urlCalls != 2 {
		t.Fatalf("urlCalls = %d, want 2 (upload urls are single use)", transport.urlCalls)
	}
}

func TestB2RetriesTransientAuthorizeFailure(t *testing.T) {
	transport := &b2Transport{failAuthOnce: true}
	client := newTestB2(transport)

	if _, err := client.Put(context.Background(), "k", "", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if transport.authCalls != 2 {
		t.Fatalf("authCalls = %d, want 2", transport.authCalls)
	}
}

func TestB2DoesNotRetryBadCredentials(t *testing.T) {
	transport := &b2Transport{}
	client := NewB2Client(B2Options{
		KeyID:          "key-id",
		ApplicationKey: "wrong",
		BucketID:       "bucket-id",
		HTTPClient:     &http.Client{Transport: transport},
		Retry:          &backoff.Config{Initial: time.Millisecond, Attempts: 3},
	})
	_, err := client.Put(context.Background(), "k", "", []byte("x"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if transport.authCalls != 1 {
		t.Fatalf("authCalls = %d, want 1", transport.authCalls)
	}
	if !strings.Contains(err.Error(), "bad_auth_token") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestB2DoesNotRetryUndecodableBody(t *testing.T) {
	transport := &b2Transport{garbledAuth: true}
	client := newTestB2(transport)

	_, err := client.Put(context.Background(), "k", "", []byte("x"))
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
	if transport.authCalls != 1 {
		t.Fatalf("authCalls = %d, want 1", transport.authCalls)
	}
}

func TestB2UnconfiguredClient(t *testing.T) {
	client := NewB2Client(B2Options{})
	if client.Configured() {
		t.Fatalf("expected unconfigured client")
	}
	if _, err := client.Put(context.Background(), "k", "", nil); err != ErrMissingCredentials {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}
