package drive

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresuchdata/gdrive-helper/internal/tokenstore"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// fakeGoogle serves a token endpoint and the two Drive endpoints used here.
type fakeGoogle struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	validCodes  map[string]bool
	accessToken string // token the Drive endpoints accept; "" accepts any
	files       []File
	listStatus  int  // non-zero forces an error response
	rejectAll   bool // every Drive call is answered with 401
	uploads     []uploadRecord

	tokenCalls   atomic.Int32
	refreshCalls atomic.Int32
	driveCalls   atomic.Int32
	nextID       atomic.Int64
}

type uploadRecord struct {
	Name     string
	Parents  []string
	MimeType string
	Body     string
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	g := &fakeGoogle{t: t, validCodes: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", g.handleToken)
	mux.HandleFunc("/", g.handleDrive)
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGoogle) creds() ClientCredentials {
	return ClientCredentials{
		ClientID:     "client-123.apps.googleusercontent.com",
		ClientSecret: "shh",
		RedirectURI:  "http://localhost:8080/api/drive/oauth2callback",
		AuthURI:      g.srv.URL + "/auth",
		TokenURI:     g.srv.URL + "/token",
	}
}

func (g *fakeGoogle) authorizer() *Authorizer {
	a := NewAuthorizer(g.srv.Client(), option.WithEndpoint(g.srv.URL+"/drive/v3/"))
	a.newState = func() string { return "state-" + strconv.FormatInt(g.nextID.Add(1), 10) }
	return a
}

func (g *fakeGoogle) issueCode(code string) {
	g.mu.Lock()
	g.validCodes[code] = true
	g.mu.Unlock()
}

func (g *fakeGoogle) setAccessToken(tok string) {
	g.mu.Lock()
	g.accessToken = tok
	g.mu.Unlock()
}

func (g *fakeGoogle) setListStatus(status int) {
	g.mu.Lock()
	g.listStatus = status
	g.mu.Unlock()
}

func (g *fakeGoogle) setRejectAll(reject bool) {
	g.mu.Lock()
	g.rejectAll = reject
	g.mu.Unlock()
}

func (g *fakeGoogle) setFiles(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files = nil
	for i := range n {
		g.files = append(g.files, File{ID: fmt.Sprintf("id-%02d", i), Name: fmt.Sprintf("file-%02d.txt", i)})
	}
}

func (g *fakeGoogle) handleToken(w http.ResponseWriter, r *http.Request) {
	g.tokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		code := r.Form.Get("code")
		g.mu.Lock()
		ok := g.validCodes[code]
		delete(g.validCodes, code) // single use
		g.mu.Unlock()
		if !ok {
			tokenError(w, "invalid_grant", "Malformed auth code.")
			return
		}
		access := "access-for-" + code
		g.setAccessToken(access)
		tokenJSON(w, access, "refresh-for-"+code)
	case "refresh_token":
		g.refreshCalls.Add(1)
		rt := r.Form.Get("refresh_token")
		if rt == "" || strings.HasPrefix(rt, "revoked") {
			tokenError(w, "invalid_grant", "Token has been expired or revoked.")
			return
		}
		access := fmt.Sprintf("refreshed-%d", g.refreshCalls.Load())
		g.setAccessToken(access)
		tokenJSON(w, access, "")
	default:
		tokenError(w, "unsupported_grant_type", "")
	}
}

func tokenJSON(w http.ResponseWriter, access, refresh string) {
	body := map[string]any{"access_token": access, "token_type": "Bearer", "expires_in": 3600}
	if refresh != "" {
		body["refresh_token"] = refresh
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func tokenError(w http.ResponseWriter, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}

func apiError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": msg},
	})
}

func (g *fakeGoogle) handleDrive(w http.ResponseWriter, r *http.Request) {
	g.driveCalls.Add(1)
	if !strings.HasSuffix(r.URL.Path, "/files") {
		http.NotFound(w, r)
		return
	}

	g.mu.Lock()
	want := g.accessToken
	reject := g.rejectAll
	g.mu.Unlock()
	if reject || (want != "" && r.Header.Get("Authorization") != "Bearer "+want) {
		apiError(w, http.StatusUnauthorized, "Request had invalid authentication credentials.")
		return
	}

	switch r.Method {
	case http.MethodGet:
		g.handleList(w, r)
	case http.MethodPost:
		g.handleUpload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *fakeGoogle) handleList(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	status := g.listStatus
	files := append([]File(nil), g.files...)
	g.mu.Unlock()

	if status != 0 {
		apiError(w, status, "Internal Error")
		return
	}
	if fields := r.URL.Query().Get("fields"); fields != listFields {
		apiError(w, http.StatusBadRequest, "unexpected fields "+fields)
		return
	}

	size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	end := min(start+size, len(files))

	body := map[string]any{"files": files[start:end]}
	if end < len(files) {
		body["nextPageToken"] = strconv.Itoa(end)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (g *fakeGoogle) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		apiError(w, http.StatusBadRequest, "expected multipart upload")
		return
	}

	reader := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := reader.NextPart()
	if err != nil {
		apiError(w, http.StatusBadRequest, "missing metadata part")
		return
	}
	var meta struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		apiError(w, http.StatusBadRequest, "bad metadata")
		return
	}
	mediaPart, err := reader.NextPart()
	if err != nil {
		apiError(w, http.StatusBadRequest, "missing media part")
		return
	}
	body, _ := io.ReadAll(mediaPart)

	g.mu.Lock()
	g.uploads = append(g.uploads, uploadRecord{
		Name:     meta.Name,
		Parents:  meta.Parents,
		MimeType: mediaPart.Header.Get("Content-Type"),
		Body:     string(body),
	})
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("uploaded-%d", g.nextID.Add(1))})
}

func (g *fakeGoogle) lastUpload() uploadRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.uploads) == 0 {
		g.t.Fatal("no uploads recorded")
	}
	return g.uploads[len(g.uploads)-1]
}

// storeWith returns a memory store holding tok.
func storeWith(t *testing.T, tok *oauth2.Token) *tokenstore.MemoryStore {
	t.Helper()
	s := tokenstore.NewMemoryStore()
	if tok != nil {
		if err := s.Save(t.Context(), tok); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func validToken(access string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

// failingTransport fails the test on any outbound request.
type failingTransport struct {
	t     *testing.T
	calls atomic.Int32
}

func (f *failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	f.t.Errorf("unexpected network call: %s %s", r.Method, r.URL)
	return nil, fmt.Errorf("network disabled in test")
}
