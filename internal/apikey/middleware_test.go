package apikey

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(secret string) (http.Handler, *string) {
	var identity string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity = Identity(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Middleware(secret, logger)(inner), &identity
}

func TestMiddleware_ValidToken(t *testing.T) {
	h, identity := newHandler("s3cret")
	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, len(*identity) > 4 && (*identity)[:4] == "key:")
	assert.NotContains(t, *identity, "s3cret")
}

func TestMiddleware_MissingToken(t *testing.T) {
	h, _ := newHandler("s3cret")
	req := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestMiddleware_WrongToken(t *testing.T) {
	h, _ := newHandler("s3cret")
	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_NotBearer(t *testing.T) {
	h, _ := newHandler("s3cret")
	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_BypassPaths(t *testing.T) {
	h, _ := newHandler("s3cret")
	for _, path := range []string{"/", "/health", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	h, identity := newHandler("")
	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.RemoteAddr = "203.0.113.9:52100"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ip:203.0.113.9", *identity)
}

func TestMiddleware_XRealIPIdentity(t *testing.T) {
	h, identity := newHandler("")
	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("X-Real-IP", "198.51.100.7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ip:198.51.100.7", *identity)
}

func TestMiddleware_SameTokenSameIdentity(t *testing.T) {
	h, identity := newHandler("s3cret")
	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	first := *identity

	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, first, *identity)
}
