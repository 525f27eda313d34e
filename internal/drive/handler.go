package drive

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresuchdata/gdrive-helper/internal/tokenstore"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	stateCookie   = "gdrive_oauth_state"
	maxUploadSize = 512 << 20
)

type Handler struct {
	authorizer *Authorizer
	creds      ClientCredentials
	store      tokenstore.Store
	uploadDir  string
	pageSize   int
}

func NewHandler(authorizer *Authorizer, creds ClientCredentials, store tokenstore.Store, uploadDir string, pageSize int) *Handler {
	return &Handler{
		authorizer: authorizer,
		creds:      creds,
		store:      store,
		uploadDir:  uploadDir,
		pageSize:   pageSize,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/drive/auth", h.Authorize).Methods("GET")
	router.HandleFunc("/api/drive/oauth2callback", h.Callback).Methods("GET")
	router.HandleFunc("/api/drive/files", h.ListFiles).Methods("GET")
	router.HandleFunc("/api/drive/files", h.UploadFile).Methods("POST")
}

// Authorize redirects to the consent screen when no token is stored.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	auth, err := h.authorizer.Authorize(r.Context(), h.creds, h.store)
	if err != nil {
		writeError(w, err)
		return
	}

	if auth.NeedsConsent() {
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookie,
			Value:    auth.State,
			Path:     "/api/drive",
			MaxAge:   600,
			HttpOnly: true,
			Secure:   h.secureCookies(r),
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, auth.ConsentURL, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

// Callback receives the provider redirect and exchanges the code.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "consent denied: " + providerErr})
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(query.Get("state"))) != 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state mismatch"})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/api/drive", MaxAge: -1, HttpOnly: true, Secure: h.secureCookies(r)})

	if _, err := h.authorizer.ExchangeCode(r.Context(), h.creds, query.Get("code"), h.store); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pageSize := h.pageSize
	if raw := query.Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pageSize must be an integer"})
			return
		}
		pageSize = n
	}

	client, ok := h.client(w, r)
	if !ok {
		return
	}

	if query.Get("all") == "true" {
		files := make([]File, 0)
		for f, err := range Files(r.Context(), client, pageSize) {
			if err != nil {
				writeError(w, err)
				return
			}
			files = append(files, f)
		}
		writeJSON(w, http.StatusOK, &Page{Files: files})
		return
	}

	page, err := ListPage(r.Context(), client, pageSize, query.Get("pageToken"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// UploadFile stages the multipart "file" part on disk, uploads it and
// removes the staged copy.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form data"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer part.Close()

	name := r.FormValue("name")
	if name == "" {
		name = filepath.Base(header.Filename)
	}

	client, ok := h.client(w, r)
	if !ok {
		return
	}

	staged, err := h.stage(part)
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("failed to stage upload")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to stage upload"})
		return
	}
	defer os.Remove(staged)

	id, err := UploadFile(r.Context(), client, name, staged, r.FormValue("mimeType"), r.FormValue("folderId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "name": name})
}

func (h *Handler) client(w http.ResponseWriter, r *http.Request) (*AuthorizedClient, bool) {
	auth, err := h.authorizer.Authorize(r.Context(), h.creds, h.store)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if auth.NeedsConsent() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":      "consent required",
			"consentUrl": "/api/drive/auth",
		})
		return nil, false
	}
	return auth.Client, true
}

// secureCookies reports whether cookies must carry the Secure flag: the
// request came over TLS or the provider redirects back to an https URI.
func (h *Handler) secureCookies(r *http.Request) bool {
	return r.TLS != nil || strings.HasPrefix(strings.ToLower(h.creds.RedirectURI), "https://")
}

func (h *Handler) stage(src io.Reader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	out, err := os.CreateTemp(h.uploadDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return out.Name(), nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// StatusFor maps an error from this package to an HTTP status code.
func StatusFor(err error) int {
	var (
		credErr   *CredentialParseError
		localErr  *LocalFileError
		remoteErr *RemoteAPIError
	)
	switch {
	case errors.Is(err, ErrConsentRequired):
		return http.StatusUnauthorized
	case errors.As(err, &credErr):
		return http.StatusInternalServerError
	case errors.As(err, &localErr):
		return http.StatusBadRequest
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := map[string]any{"error": err.Error()}

	var remoteErr *RemoteAPIError
	if errors.As(err, &remoteErr) && remoteErr.Status != 0 {
		body["remoteStatus"] = remoteErr.Status
	}
	if status == http.StatusUnauthorized {
		body["consentUrl"] = "/api/drive/auth"
	}

	log.Error().Err(err).Int("status", status).Msg("drive request failed")
	writeJSON(w, status, body)
}
