package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/andresuchdata/gdrive-helper/internal/tokenstore"
	"github.com/andresuchdata/gdrive-helper/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Authorizer turns client credentials plus the token slot into an
// AuthorizedClient, or into a consent URL when no token is stored yet.
// It holds no credentials or tokens itself; every call takes them explicitly.
type Authorizer struct {
	httpClient *http.Client
	driveOpts  []option.ClientOption
	newState   func() string
}

// NewAuthorizer returns an Authorizer that sends token endpoint and Drive
// traffic through httpClient (nil means http.DefaultClient). driveOpts are
// appended when building the Drive service, e.g. option.WithEndpoint.
func NewAuthorizer(httpClient *http.Client, driveOpts ...option.ClientOption) *Authorizer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Authorizer{
		httpClient: httpClient,
		driveOpts:  driveOpts,
		newState:   uuid.NewString,
	}
}

// Authorization is the outcome of Authorize: exactly one of Client and
// ConsentURL is set.
type Authorization struct {
	Client     *AuthorizedClient
	ConsentURL string
	// State is the opaque value embedded in ConsentURL; the web layer should
	// check it on the callback.
	State string
}

func (a *Authorization) NeedsConsent() bool {
	return a.Client == nil
}

// Authorize loads the stored token and binds it to a client. If the slot is
// empty it returns a consent URL and does nothing else. It never contacts
// the provider.
func (a *Authorizer) Authorize(ctx context.Context, creds ClientCredentials, store tokenstore.Store) (*Authorization, error) {
	oc, err := BuildClient(creds)
	if err != nil {
		return nil, err
	}

	tok, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("drive: loading token: %w", err)
	}

	if tok == nil {
		state := a.newState()
		logger.Component("drive").Info().Str("client_id", oc.ClientID()).Msg("no stored token, consent required")
		return &Authorization{ConsentURL: oc.ConsentURL(state), State: state}, nil
	}

	client, err := a.bind(ctx, oc, tok)
	if err != nil {
		return nil, err
	}
	return &Authorization{Client: client}, nil
}

// ExchangeCode redeems a one-time authorization code, overwrites the stored
// token and returns a bound client. The store is only written on success.
func (a *Authorizer) ExchangeCode(ctx context.Context, creds ClientCredentials, code string, store tokenstore.Store) (*AuthorizedClient, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &CodeExchangeError{Reason: "empty authorization code", Err: errors.New("empty authorization code")}
	}

	oc, err := BuildClient(creds)
	if err != nil {
		return nil, err
	}

	tok, err := oc.config.Exchange(a.oauthContext(ctx), code)
	if err != nil {
		exErr := exchangeError(err)
		logger.Component("drive").Warn().Err(exErr).Msg("authorization code exchange failed")
		return nil, exErr
	}

	if err := store.Save(ctx, tok); err != nil {
		return nil, fmt.Errorf("drive: persisting token: %w", err)
	}
	logger.Component("drive").Info().
		Bool("refresh_token", tok.RefreshToken != "").
		Time("expiry", tok.Expiry).
		Msg("authorization code exchanged")

	return a.bind(ctx, oc, tok)
}

func (a *Authorizer) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *Authorizer) bind(ctx context.Context, oc *OAuthClient, tok *oauth2.Token) (*AuthorizedClient, error) {
	src := &refreshingSource{ctx: a.oauthContext(ctx), config: oc.config, tok: tok}

	// oauth2.NewClient would wrap src in a ReuseTokenSource, which hides
	// invalidate from the 401 retry path.
	httpClient := &http.Client{
		Transport:     &oauth2.Transport{Base: a.httpClient.Transport, Source: src},
		CheckRedirect: a.httpClient.CheckRedirect,
		Jar:           a.httpClient.Jar,
		Timeout:       a.httpClient.Timeout,
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, a.driveOpts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive: creating service: %w", err)
	}

	return &AuthorizedClient{source: src, service: svc}, nil
}

// AuthorizedClient is bound to one credential set and one token for the
// duration of a request.
type AuthorizedClient struct {
	source  *refreshingSource
	service *drive.Service
}

// Token returns a valid access token, refreshing it first if it expired.
// It fails with ErrConsentRequired when no refresh is possible.
func (c *AuthorizedClient) Token() (*oauth2.Token, error) {
	return c.source.Token()
}

// refreshingSource refreshes an expired token in memory only; the stored
// slot is left as written by ExchangeCode.
type refreshingSource struct {
	mu     sync.Mutex
	ctx    context.Context
	config *oauth2.Config
	tok    *oauth2.Token
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok.Valid() {
		return s.tok, nil
	}
	if s.tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: access token expired and no refresh token is stored", ErrConsentRequired)
	}

	fresh, err := s.config.TokenSource(s.ctx, &oauth2.Token{RefreshToken: s.tok.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: refresh rejected: %v", ErrConsentRequired, err)
		}
		return nil, fmt.Errorf("drive: refreshing access token: %w", err)
	}

	logger.Component("drive").Debug().Time("expiry", fresh.Expiry).Msg("access token refreshed")
	s.tok = fresh
	return fresh, nil
}

// invalidate drops the access token so the next Token call refreshes.
// It reports false when there is nothing to refresh with.
func (s *refreshingSource) invalidate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tok.RefreshToken == "" {
		return false
	}
	s.tok = &oauth2.Token{RefreshToken: s.tok.RefreshToken}
	return true
}
