package acceptance

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/gowheels/account"
	"github.com/semanticallynull/gowheels/api"
	"github.com/semanticallynull/gowheels/bike"
	"github.com/semanticallynull/gowheels/internal/gowheels"
	"github.com/semanticallynull/gowheels/internal/middleware"
	"github.com/semanticallynull/gowheels/internal/o11y"
	"github.com/semanticallynull/gowheels/registration"
)

var testAuth = middleware.AuthConfig{Secret: "acceptance-secret"}

type TestServer struct {
	Router   *gin.Engine
	Upstream *gowheels.FakeClient
	Sessions *registration.MemoryStore
	Registry *prometheus.Registry
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	obs := &o11y.Observability{
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}

	upstream := gowheels.NewFakeClient()
	upstream.Secret = testAuth.Secret
	sessions := registration.NewMemoryStore(time.Hour)
	rs := registration.NewService(upstream, sessions, time.Second, logger)
	as := account.NewService(upstream, logger)
	bs := bike.NewService(upstream, logger)

	a, err := api.New(rs, as, bs, obs, testAuth, "", "")
	if err != nil {
		t.Fatalf("failed to create api: %v", err)
	}

	return &TestServer{
		Router:   a.Router(),
		Upstream: upstream,
		Sessions: sessions,
		Registry: obs.Registry,
	}
}

// Login registers an access token for userID with the fake marketplace and returns the
// Authorization header carrying it.
func (ts *TestServer) Login(t *testing.T, userID int) map[string]string {
	t.Helper()
	signed := ts.Upstream.IssueToken(jsonID(userID))
	return map[string]string{"Authorization": "Bearer " + signed}
}

func jsonID(id int) string {
	b, _ := json.Marshal(id)
	return string(b)
}

// Helper methods for making requests
func (ts *TestServer) GET(path string, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodGet, path, nil, "", headers)
}

func (ts *TestServer) POST(path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	return ts.do(http.MethodPost, path, &buf, "application/json", headers)
}

func (ts *TestServer) DELETE(path string, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodDelete, path, nil, "", headers)
}

// POSTForm sends fields and an optional file as multipart/form-data.
func (ts *TestServer) POSTForm(path string, fields map[string]string, file *formFile, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if file != nil {
		part, _ := w.CreateFormFile(file.field, file.name)
		part.Write(file.content)
	}
	w.Close()
	return ts.do(http.MethodPost, path, &buf, w.FormDataContentType(), headers)
}

type formFile struct {
	field   string
	name    string
	content []byte
}

func (ts *TestServer) do(method, path string, body io.Reader, contentType string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, w.Code, w.Body.String())
	}
}
