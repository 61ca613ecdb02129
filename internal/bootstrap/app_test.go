package bootstrap

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filevault/internal/shared/config"
	"filevault/internal/shared/storage/object"
)

const testSecret = "integration-secret"

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := Build(config.Config{
		Env:             "dev",
		ObjectStoreType: "local",
		LocalStoreDir:   t.TempDir(),
		MetadataStore:   "memory",
		PublicBaseURL:   "http://vault.test",
		JWTSecret:       testSecret,
		CredentialTTL:   time.Hour,
		LoginRatePerMin: 600,
		LoginBurst:      50,
	})
	require.NoError(t, err)
	return app
}

func call(t *testing.T, app *App, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	return resp
}

func upload(t *testing.T, app *App, target, field, name, contentType, token string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write(data)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), v), resp.Body.String())
}

func registerAndLogin(t *testing.T, app *App, name, email string) (string, string) {
	t.Helper()
	resp := call(t, app, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "pw-" + name,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = call(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "pw-" + name,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var login struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(t, resp, &login)
	require.NotEmpty(t, login.Token)
	return login.Token, login.User.ID
}

// fetch follows an issued access URL against the app's own blob route.
func fetch(t *testing.T, app *App, rawURL string) *httptest.ResponseRecorder {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	return resp
}

func TestAnnScenario(t *testing.T) {
	app := newTestApp(t)
	annToken, annID := registerAndLogin(t, app, "Ann", "ann@example.com")

	resp := upload(t, app, "/api/upload", "file", "cv.pdf", "application/pdf", annToken, []byte("%PDF-1.4 ann"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var uploaded struct {
		File struct {
			ID       string `json:"id"`
			UserID   string `json:"userId"`
			FileSize int64  `json:"fileSize"`
		} `json:"file"`
	}
	decode(t, resp, &uploaded)
	fileID := uploaded.File.ID
	assert.Equal(t, annID, uploaded.File.UserID)
	assert.Equal(t, int64(12), uploaded.File.FileSize)

	resp = call(t, app, http.MethodGet, "/api/protected", annToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	decode(t, resp, &list)
	require.Len(t, list.Files, 1)
	assert.Equal(t, fileID, list.Files[0].ID)

	resp = call(t, app, http.MethodGet, "/api/files/"+fileID, annToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var dl struct {
		DownloadURL string `json:"downloadUrl"`
		FileName    string `json:"fileName"`
	}
	decode(t, resp, &dl)
	assert.Equal(t, "cv.pdf", dl.FileName)

	blob := fetch(t, app, dl.DownloadURL)
	require.Equal(t, http.StatusOK, blob.Code)
	assert.Equal(t, "%PDF-1.4 ann", blob.Body.String())

	tampered := fetch(t, app, dl.DownloadURL+"0")
	assert.Equal(t, http.StatusForbidden, tampered.Code)

	resp = call(t, app, http.MethodDelete, "/api/files/"+fileID, annToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = call(t, app, http.MethodGet, "/api/files/"+fileID, annToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, http.StatusNotFound, fetch(t, app, dl.DownloadURL).Code)
}

func TestOwnershipIsolationAcrossPrincipals(t *testing.T) {
	app := newTestApp(t)
	annToken, _ := registerAndLogin(t, app, "Ann", "ann@example.com")
	bobToken, _ := registerAndLogin(t, app, "Bob", "bob@example.com")

	resp := upload(t, app, "/api/upload", "file", "private.txt", "text/plain", annToken, []byte("ann only"))
	require.Equal(t, http.StatusCreated, resp.Code)
	var uploaded struct {
		File struct {
			ID string `json:"id"`
		} `json:"file"`
	}
	decode(t, resp, &uploaded)

	assert.Equal(t, http.StatusNotFound, call(t, app, http.MethodGet, "/api/files/"+uploaded.File.ID, bobToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, app, http.MethodDelete, "/api/files/"+uploaded.File.ID, bobToken, nil).Code)

	resp = call(t, app, http.MethodGet, "/api/protected", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"files":[]}`, resp.Body.String())

	assert.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/files/"+uploaded.File.ID, annToken, nil).Code)
}

func TestLegacyCredentialResolvesToSameOwner(t *testing.T) {
	app := newTestApp(t)
	annToken, annID := registerAndLogin(t, app, "Ann", "ann@example.com")
	resp := upload(t, app, "/api/upload", "file", "a.txt", "text/plain", annToken, []byte("x"))
	require.Equal(t, http.StatusCreated, resp.Code)

	legacy := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    annID,
		"email": "ann@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	legacyToken, err := legacy.SignedString([]byte(testSecret))
	require.NoError(t, err)

	resp = call(t, app, http.MethodGet, "/api/protected", legacyToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Files []json.RawMessage `json:"files"`
	}
	decode(t, resp, &list)
	assert.Len(t, list.Files, 1)

	resp = call(t, app, http.MethodGet, "/api/me", legacyToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), annID)
}

func TestAvatarReplaceEndToEnd(t *testing.T) {
	app := newTestApp(t)
	annToken, _ := registerAndLogin(t, app, "Ann", "ann@example.com")

	resp := call(t, app, http.MethodGet, "/api/profile", annToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"avatar":null`)

	for _, name := range []string{"one.png", "two.png"} {
		resp = upload(t, app, "/api/profile/avatar", "avatar", name, "image/png", annToken, []byte("\x89PNG"+name))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		time.Sleep(2 * time.Millisecond)
	}
	var avatarResp struct {
		Avatar string `json:"avatar"`
	}
	decode(t, resp, &avatarResp)
	blob := fetch(t, app, avatarResp.Avatar)
	require.Equal(t, http.StatusOK, blob.Code)
	assert.Equal(t, "\x89PNGtwo.png", blob.Body.String())

	infos, err := app.Blobs.List(t.Context(), object.AvatarsPrefix)
	require.NoError(t, err)
	assert.Len(t, infos, 1, "previous avatar is removed")

	resp = call(t, app, http.MethodGet, "/api/profile", annToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var profile struct {
		Avatar *string `json:"avatar"`
	}
	decode(t, resp, &profile)
	require.NotNil(t, profile.Avatar)
}

func TestRejectsMissingAndBadCredentials(t *testing.T) {
	app := newTestApp(t)
	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/api/protected", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/api/protected", "not-a-jwt", nil).Code)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "u1",
		"exp":    time.Now().Add(-time.Minute).Unix(),
	})
	token, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(t, app, http.MethodGet, "/api/protected", token, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	resp := call(t, app, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"metadata":"memory"`)

	resp = call(t, app, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "uploads_total")
}

func TestBuildRequiresSecretOutsideDev(t *testing.T) {
	_, err := Build(config.Config{Env: "production", LocalStoreDir: t.TempDir()})
	assert.Error(t, err)
}
