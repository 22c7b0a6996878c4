package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/comic-library/internal/config"
)

func newTestApplication(t *testing.T) *application {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	libraryDir := filepath.Join(dir, "comics")
	require.NoError(t, os.Mkdir(libraryDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(libraryDir, "first_issue.pdf"), []byte("%PDF-1.4\n% dummy\n"), 0o644))

	cfg := &config.Config{
		GinMode:            gin.TestMode,
		CORSAllowedOrigins: "http://localhost:5173",
		SessionCookieName:  "cl_session",
		SessionMaxLifetime: time.Hour,
		SessionIdleTimeout: 10 * time.Minute,
		SQLitePath:         filepath.Join(dir, "users.db"),
		BcryptCost:         4,
		HashConcurrency:    2,
		LibraryDir:         libraryDir,
		MetricsEnabled:     true,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := newApplication(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func serve(app *application, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	return rec
}

func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestRoutes_Health(t *testing.T) {
	app := newTestApplication(t)

	rec := serve(app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRoutes_ProtectedRedirectsToLogin(t *testing.T) {
	app := newTestApplication(t)

	for _, target := range []string{"/", "/viewer/first_issue.pdf", "/comics/first_issue.pdf"} {
		rec := serve(app, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusFound, rec.Code, target)
		assert.Equal(t, "/login", rec.Header().Get("Location"), target)
	}
}

func TestRoutes_RegisterLoginAndBrowse(t *testing.T) {
	app := newTestApplication(t)

	rec := serve(app, postForm("/register", url.Values{
		"username":        {"alice"},
		"email":           {"alice@example.com"},
		"password":        {"s3cret!"},
		"confirmPassword": {"s3cret!"},
	}))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = serve(app, postForm("/login", url.Values{
		"username": {"alice"},
		"password": {"s3cret!"},
	}))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/comics/first_issue.pdf", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = serve(app, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = serve(app, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "first issue")
}

func TestRoutes_Metrics(t *testing.T) {
	app := newTestApplication(t)

	serve(app, httptest.NewRequest(http.MethodGet, "/", nil))

	rec := serve(app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "comic_library_gate_decisions_total")
}
