package drive

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// Scopes requested at consent time. drive.file limits access to files the
// app created or the user opened with it.
var Scopes = []string{drive.DriveFileScope}

// ClientCredentials identifies this application to the OAuth provider.
// AuthURI and TokenURI fall back to Google's endpoints when empty.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURI      string
	TokenURI     string
}

type credentialDocument struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
	AuthURI      string   `json:"auth_uri"`
	TokenURI     string   `json:"token_uri"`
}

// ParseCredentials reads the client_secret JSON downloaded from the Google
// Cloud console. Both "installed" and "web" envelopes are accepted; the first
// redirect URI is used.
func ParseCredentials(data []byte) (ClientCredentials, error) {
	var envelope struct {
		Installed *credentialDocument `json:"installed"`
		Web       *credentialDocument `json:"web"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ClientCredentials{}, &CredentialParseError{Err: err}
	}

	doc := envelope.Installed
	if doc == nil {
		doc = envelope.Web
	}
	if doc == nil {
		return ClientCredentials{}, &CredentialParseError{Err: errors.New(`no "installed" or "web" credentials found`)}
	}

	creds := ClientCredentials{
		ClientID:     strings.TrimSpace(doc.ClientID),
		ClientSecret: strings.TrimSpace(doc.ClientSecret),
		AuthURI:      doc.AuthURI,
		TokenURI:     doc.TokenURI,
	}
	if len(doc.RedirectURIs) > 0 {
		creds.RedirectURI = strings.TrimSpace(doc.RedirectURIs[0])
	}

	if err := creds.Validate(); err != nil {
		return ClientCredentials{}, err
	}
	return creds, nil
}

// Validate checks that every required field is present.
func (c ClientCredentials) Validate() error {
	switch {
	case c.ClientID == "":
		return &CredentialParseError{Field: "client_id"}
	case c.ClientSecret == "":
		return &CredentialParseError{Field: "client_secret"}
	case c.RedirectURI == "":
		return &CredentialParseError{Field: "redirect_uri"}
	}
	return nil
}

// OAuthClient is the OAuth2 configuration built from one set of credentials.
type OAuthClient struct {
	config *oauth2.Config
}

// BuildClient validates creds and builds the OAuth2 configuration. It does
// no I/O.
func BuildClient(creds ClientCredentials) (*OAuthClient, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	endpoint := google.Endpoint
	if creds.AuthURI != "" {
		endpoint.AuthURL = creds.AuthURI
	}
	if creds.TokenURI != "" {
		endpoint.TokenURL = creds.TokenURI
	}

	return &OAuthClient{config: &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Endpoint:     endpoint,
		Scopes:       append([]string(nil), Scopes...),
	}}, nil
}

func (c *OAuthClient) ClientID() string {
	return c.config.ClientID
}

func (c *OAuthClient) RedirectURL() string {
	return c.config.RedirectURL
}

// ConsentURL returns the provider consent page URL. Offline access is
// requested so the exchange yields a refresh token.
func (c *OAuthClient) ConsentURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}
