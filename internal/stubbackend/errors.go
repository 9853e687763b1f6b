package stubbackend

import "errors"

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided value.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenEmptyOpaque indicates that the provided opaque token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")

	// ErrChampionNotFound indicates no champion matched the lookup.
	ErrChampionNotFound = errors.New("champion_directory.not_found")
	// ErrInvalidCredentials indicates the email and password did not match.
	ErrInvalidCredentials = errors.New("champion_directory.invalid_credentials")
	// ErrDuplicateChampion indicates the email or id is already registered.
	ErrDuplicateChampion = errors.New("champion_directory.duplicate")
)
