package drive

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// ErrConsentRequired means no usable token exists: the end user must go
// through the consent screen again. Check with errors.Is.
var ErrConsentRequired = errors.New("drive: consent required")

// CredentialParseError reports a malformed or incomplete OAuth client
// credential document. Not retryable.
type CredentialParseError struct {
	Field string // empty when the document itself is malformed
	Err   error
}

func (e *CredentialParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("drive: credentials: missing %s", e.Field)
	}
	return fmt.Sprintf("drive: credentials: %v", e.Err)
}

func (e *CredentialParseError) Unwrap() error {
	return e.Err
}

// CodeExchangeError reports that the identity provider rejected an
// authorization code. The consent flow has to be restarted.
type CodeExchangeError struct {
	Status int // HTTP status from the token endpoint, 0 if unknown
	Reason string
	Err    error
}

func (e *CodeExchangeError) Error() string {
	switch {
	case e.Reason != "" && e.Status != 0:
		return fmt.Sprintf("drive: code exchange failed (HTTP %d): %s", e.Status, e.Reason)
	case e.Reason != "":
		return fmt.Sprintf("drive: code exchange failed: %s", e.Reason)
	}
	return fmt.Sprintf("drive: code exchange failed: %v", e.Err)
}

func (e *CodeExchangeError) Unwrap() error {
	return e.Err
}

func (e *CodeExchangeError) Is(target error) bool {
	return target == ErrConsentRequired
}

// RemoteAPIError wraps any failure from a Drive API call. Status is the HTTP
// status code, or 0 for transport failures.
type RemoteAPIError struct {
	Status  int
	Message string
	Err     error
}

func (e *RemoteAPIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("drive: remote call failed: %s", e.Message)
	}
	return fmt.Sprintf("drive: HTTP %d: %s", e.Status, e.Message)
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the API rejected the bearer token.
func (e *RemoteAPIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// LocalFileError reports that an upload source could not be read.
type LocalFileError struct {
	Path string
	Err  error
}

func (e *LocalFileError) Error() string {
	return fmt.Sprintf("drive: local file %s: %v", e.Path, e.Err)
}

func (e *LocalFileError) Unwrap() error {
	return e.Err
}

// remoteError converts a Drive client error into a RemoteAPIError. Token
// source failures surface through the HTTP client wrapped in url.Error, so
// consent and local file errors are passed through untouched.
func remoteError(err error) error {
	if err == nil {
		return nil
	}
	var localErr *LocalFileError
	if errors.Is(err, ErrConsentRequired) || errors.As(err, &localErr) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Code)
		}
		return &RemoteAPIError{Status: apiErr.Code, Message: msg, Err: err}
	}

	return &RemoteAPIError{Message: err.Error(), Err: err}
}

// exchangeError converts an oauth2 exchange failure. Only a response from
// the token endpoint rejecting the code is a CodeExchangeError; transport
// failures stay RemoteAPIErrors so they are not mistaken for lost consent.
func exchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return &RemoteAPIError{Message: err.Error(), Err: err}
	}

	reason := retrieveErr.ErrorCode
	if retrieveErr.ErrorDescription != "" {
		reason += ": " + retrieveErr.ErrorDescription
	}
	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &CodeExchangeError{Status: status, Reason: reason, Err: err}
}
