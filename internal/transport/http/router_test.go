package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"room-chat/internal/media"
	"room-chat/internal/token"
)

func newTestRouter(t *testing.T, health func() error) (*gin.Engine, *token.Issuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := token.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	blobs, err := media.NewDiskStore(t.TempDir(), "http://example.test/media")
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}

	return NewRouter(RouterConfig{Issuer: issuer, Blobs: blobs, Health: health}), issuer
}

func TestIssueToken(t *testing.T) {
	router, issuer := newTestRouter(t, nil)

	body := `{"user_id":"user-123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	claims, err := issuer.Validate(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("token user id = %q, want user-123", claims.UserID)
	}
}

func TestIssueTokenRejectsBadRequests(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"wrong content type", "text/plain", `{"user_id":"user-123"}`},
		{"malformed json", "application/json", `{"user_id":`},
		{"missing user id", "application/json", `{}`},
		{"empty user id", "application/json", `{"user_id":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestUploadAndServeImage(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", "cat.png")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	payload := []byte("not-really-a-png")
	part.Write(payload)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !strings.HasPrefix(resp.URL, "http://example.test/media/") {
		t.Fatalf("url = %q, want media base prefix", resp.URL)
	}
	if !strings.HasSuffix(resp.URL, ".png") {
		t.Errorf("url = %q, want .png extension preserved", resp.URL)
	}

	name := resp.URL[strings.LastIndex(resp.URL, "/")+1:]
	getReq := httptest.NewRequest(http.MethodGet, "/media/"+name, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("serve status = %d", getRec.Code)
	}
	if !bytes.Equal(getRec.Body.Bytes(), payload) {
		t.Error("served bytes differ from uploaded bytes")
	}
}

func TestUploadRequiresImageField(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/images", strings.NewReader(""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestServeMediaUnknownName(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/media/nope.png", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	healthy, _ := newTestRouter(t, func() error { return nil })
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", rec.Code)
	}

	sick, _ := newTestRouter(t, func() error { return errors.New("mongo down") })
	rec = httptest.NewRecorder()
	sick.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", rec.Code)
	}
}
