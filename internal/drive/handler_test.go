package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/andresuchdata/gdrive-helper/internal/tokenstore"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, g *fakeGoogle, store tokenstore.Store) (*mux.Router, string) {
	t.Helper()
	uploadDir := t.TempDir()
	r := mux.NewRouter()
	NewHandler(g.authorizer(), g.creds(), store, uploadDir, 10).RegisterRoutes(r)
	return r, uploadDir
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ConsentRoundTrip(t *testing.T) {
	g := newFakeGoogle(t)
	store := tokenstore.NewMemoryStore()
	r, _ := newTestRouter(t, g, store)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/auth", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	consent, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, state, cookies[0].Value)

	g.issueCode("4/xyz")
	req := httptest.NewRequest(http.MethodGet, "/api/drive/oauth2callback?code=4/xyz&state="+state, nil)
	req.AddCookie(cookies[0])
	rec = serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/auth", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"authorized"}`, rec.Body.String())
}

func TestHandler_StateCookieSecureForHTTPSRedirect(t *testing.T) {
	g := newFakeGoogle(t)

	r := mux.NewRouter()
	NewHandler(g.authorizer(), g.creds(), tokenstore.NewMemoryStore(), t.TempDir(), 10).RegisterRoutes(r)
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/auth", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.False(t, rec.Result().Cookies()[0].Secure, "plain http deployment")

	rec = serve(r, httptest.NewRequest(http.MethodGet, "https://drive.local/api/drive/auth", nil))
	require.Len(t, rec.Result().Cookies(), 1)
	assert.True(t, rec.Result().Cookies()[0].Secure, "request over TLS")

	creds := g.creds()
	creds.RedirectURI = "https://app.local/api/drive/oauth2callback"
	r = mux.NewRouter()
	NewHandler(g.authorizer(), creds, tokenstore.NewMemoryStore(), t.TempDir(), 10).RegisterRoutes(r)
	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/auth", nil))
	require.Len(t, rec.Result().Cookies(), 1)
	cookie := rec.Result().Cookies()[0]
	assert.True(t, cookie.Secure, "https redirect URI")
	assert.True(t, cookie.HttpOnly)
}

func TestHandler_CallbackRejectsStateMismatch(t *testing.T) {
	g := newFakeGoogle(t)
	store := tokenstore.NewMemoryStore()
	r, _ := newTestRouter(t, g, store)
	g.issueCode("4/xyz")

	req := httptest.NewRequest(http.MethodGet, "/api/drive/oauth2callback?code=4/xyz&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "expected"})
	rec := serve(r, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.Zero(t, g.tokenCalls.Load())
}

func TestHandler_CallbackBadCodeIsUnauthorized(t *testing.T) {
	g := newFakeGoogle(t)
	r, _ := newTestRouter(t, g, tokenstore.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/drive/oauth2callback?code=bogus&state=s", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s"})
	rec := serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "consentUrl")
}

func TestHandler_ListWithoutTokenNeedsConsent(t *testing.T) {
	g := newFakeGoogle(t)
	r, _ := newTestRouter(t, g, tokenstore.NewMemoryStore())

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/files", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, g.driveCalls.Load())
}

func TestHandler_ListFiles(t *testing.T) {
	g := newFakeGoogle(t)
	g.setFiles(14)
	g.setAccessToken("live")
	r, _ := newTestRouter(t, g, storeWith(t, validToken("live")))

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/files?pageSize=4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Files, 4)
	assert.Equal(t, "4", page.NextPageToken)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/files?pageSize=4&all=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	page = Page{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Files, 14)
	assert.Empty(t, page.NextPageToken)

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/files?pageSize=lots", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListRemoteFailureIsBadGateway(t *testing.T) {
	g := newFakeGoogle(t)
	g.setAccessToken("live")
	g.setListStatus(http.StatusInternalServerError)
	r, _ := newTestRouter(t, g, storeWith(t, validToken("live")))

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/drive/files", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remoteStatus":500`)
}

func TestHandler_Upload(t *testing.T) {
	g := newFakeGoogle(t)
	g.setAccessToken("live")
	r, uploadDir := newTestRouter(t, g, storeWith(t, validToken("live")))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("folderId", "folder-7"))
	require.NoError(t, mw.WriteField("mimeType", "text/plain"))
	part, err := mw.CreateFormFile("file", "hello.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hi there"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/drive/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(r, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, "hello.txt", resp["name"])

	up := g.lastUpload()
	assert.Equal(t, "hello.txt", up.Name)
	assert.Equal(t, []string{"folder-7"}, up.Parents)
	assert.Equal(t, "hi there", up.Body)

	entries, err := os.ReadDir(uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged upload must be removed")
}

func TestHandler_UploadRequiresFile(t *testing.T) {
	g := newFakeGoogle(t)
	r, _ := newTestRouter(t, g, storeWith(t, validToken("live")))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("folderId", "folder-7"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/drive/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(r, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, g.driveCalls.Load())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusFor(ErrConsentRequired))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(&CodeExchangeError{Reason: "x"}))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(&CredentialParseError{Field: "client_id"}))
	assert.Equal(t, http.StatusBadRequest, StatusFor(&LocalFileError{Path: "p", Err: os.ErrNotExist}))
	assert.Equal(t, http.StatusBadGateway, StatusFor(&RemoteAPIError{Status: 503, Message: "down"}))
}
