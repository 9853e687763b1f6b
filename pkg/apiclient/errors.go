package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors exposed by the client.
var (
	// ErrTimeout indicates a single network call exceeded the configured time budget.
	ErrTimeout = errors.New("apiclient.timeout")
	// ErrAuthorization indicates the backend rejected the credential and it could not be renewed.
	ErrAuthorization = errors.New("apiclient.unauthorized")
	// ErrUnresolvedIdentity indicates no numeric champion id could be determined.
	ErrUnresolvedIdentity = errors.New("apiclient.identity_unresolved")
	// ErrTransport indicates any other network or server failure.
	ErrTransport = errors.New("apiclient.transport")
	// ErrEmptyCredential is returned when storing an empty credential.
	ErrEmptyCredential = errors.New("apiclient.empty_credential")
	// ErrRefreshNoCredential indicates the refresh endpoint answered without an access token.
	ErrRefreshNoCredential = errors.New("apiclient.refresh.no_credential")
	// ErrMissingBaseURL is returned by New when Config.BaseURL is empty.
	ErrMissingBaseURL = errors.New("apiclient.missing_base_url")
	// ErrMissingSender is returned by NewResolver when no Sender is configured.
	ErrMissingSender = errors.New("apiclient.missing_sender")
	// ErrNoAttempts is returned by SendFirst when called without requests.
	ErrNoAttempts = errors.New("apiclient.no_attempts")
)

// StatusError describes a non-2xx backend response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (statusErr *StatusError) Error() string {
	return fmt.Sprintf("apiclient.status: %s %s returned %d", statusErr.Method, statusErr.Path, statusErr.StatusCode)
}

// Unwrap classifies the response: 401 is an authorization failure, everything else a transport failure.
func (statusErr *StatusError) Unwrap() error {
	if statusErr.StatusCode == http.StatusUnauthorized {
		return ErrAuthorization
	}
	return ErrTransport
}

var (
	// ErrMissingCredentialStore is returned when a Coordinator is built without a CredentialStore.
	ErrMissingCredentialStore = errors.New("apiclient.missing_credential_store")
	// ErrMissingRefresher is returned when a Coordinator is built without a Refresher.
	ErrMissingRefresher = errors.New("apiclient.missing_refresher")
	// ErrSignedOut is delivered to callers whose renewal settled after an explicit sign-out.
	ErrSignedOut = errors.New("apiclient.signed_out")
)
