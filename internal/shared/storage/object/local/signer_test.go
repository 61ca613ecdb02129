package local

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSigner(t *testing.T) (*Signer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewSigner("http://localhost:8080/", "blob-secret")
	require.NoError(t, err)
	return s.WithClock(clock.Now), clock
}

func queryOf(t *testing.T, raw string) (string, url.Values) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return strings.TrimPrefix(u.Path, blobRoutePrefix), u.Query()
}

func TestSignerIssueAndVerify(t *testing.T) {
	s, _ := newTestSigner(t)

	raw, err := s.Issue(context.Background(), "uploads/u1/f1", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://localhost:8080/blobs/uploads/u1/f1?"))

	key, q := queryOf(t, strings.TrimPrefix(raw, "http://localhost:8080"))
	assert.NoError(t, s.Verify(key, q.Get("expires"), q.Get("signature")))
}

func TestSignerIsDeterministic(t *testing.T) {
	s, _ := newTestSigner(t)
	a, err := s.Issue(context.Background(), "uploads/u1/f1", time.Hour)
	require.NoError(t, err)
	b, err := s.Issue(context.Background(), "uploads/u1/f1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSignerRejectsExpired(t *testing.T) {
	s, clock := newTestSigner(t)

	raw, err := s.Issue(context.Background(), "uploads/u1/f1", time.Second)
	require.NoError(t, err)
	key, q := queryOf(t, strings.TrimPrefix(raw, "http://localhost:8080"))

	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, s.Verify(key, q.Get("expires"), q.Get("signature")), ErrExpired)
}

func TestSignerRejectsTampering(t *testing.T) {
	s, _ := newTestSigner(t)

	raw, err := s.Issue(context.Background(), "uploads/u1/f1", time.Hour)
	require.NoError(t, err)
	_, q := queryOf(t, strings.TrimPrefix(raw, "http://localhost:8080"))

	assert.ErrorIs(t, s.Verify("uploads/u2/f1", q.Get("expires"), q.Get("signature")), ErrInvalidSignature)
	assert.ErrorIs(t, s.Verify("uploads/u1/f1", "9999999999", q.Get("signature")), ErrInvalidSignature)
	assert.ErrorIs(t, s.Verify("uploads/u1/f1", q.Get("expires"), ""), ErrMissingSignature)
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("http://x", " ")
	assert.ErrorIs(t, err, ErrNoSecretKey)
}

func TestHandlerServesSignedBlob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := New(t.TempDir())
	s, clock := newTestSigner(t)
	_, err := store.Put(context.Background(), "uploads/u1/f1", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)

	router := gin.New()
	NewHandler(store, s).RegisterRoutes(router)

	raw, err := s.Issue(context.Background(), "uploads/u1/f1", time.Second)
	require.NoError(t, err)
	target := strings.TrimPrefix(raw, "http://localhost:8080")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "hello", resp.Body.String())

	clock.Advance(2 * time.Second)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestHandlerMissingBlob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := New(t.TempDir())
	s, _ := newTestSigner(t)

	router := gin.New()
	NewHandler(store, s).RegisterRoutes(router)

	raw, err := s.Issue(context.Background(), "uploads/u1/gone", time.Hour)
	require.NoError(t, err)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, strings.TrimPrefix(raw, "http://localhost:8080"), nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandlerRejectsUnsigned(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := New(t.TempDir())
	s, _ := newTestSigner(t)

	router := gin.New()
	NewHandler(store, s).RegisterRoutes(router)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/blobs/uploads/u1/f1", nil))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}
