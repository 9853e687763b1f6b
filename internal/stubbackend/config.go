package stubbackend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Default settings for the development backend.
const (
	DefaultIssuer            = "championportal-stub"
	DefaultRefreshCookieName = "champion_refresh"
	DefaultAccessTTL         = 5 * time.Minute
	DefaultRefreshTTL        = 24 * time.Hour
)

var (
	errMissingSigningKey = errors.New("stub_backend.config.missing_signing_key")
	errInvalidTTL        = errors.New("stub_backend.config.invalid_ttl")
)

// ServerConfig configures token issuance and the refresh cookie.
type ServerConfig struct {
	SigningKey        []byte
	Issuer            string
	RefreshCookieName string
	CookieDomain      string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	SameSiteMode      http.SameSite
	// SecureCookies marks the refresh cookie Secure. Plain-HTTP development
	// clients never send Secure cookies back, so it is off by default.
	SecureCookies bool
}

func (configuration ServerConfig) withDefaults() (ServerConfig, error) {
	if len(configuration.SigningKey) == 0 {
		return configuration, fmt.Errorf("stub_backend.config: %w", errMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		configuration.Issuer = DefaultIssuer
	}
	if strings.TrimSpace(configuration.RefreshCookieName) == "" {
		configuration.RefreshCookieName = DefaultRefreshCookieName
	}
	if configuration.AccessTTL == 0 {
		configuration.AccessTTL = DefaultAccessTTL
	}
	if configuration.RefreshTTL == 0 {
		configuration.RefreshTTL = DefaultRefreshTTL
	}
	if configuration.AccessTTL < 0 || configuration.RefreshTTL < 0 {
		return configuration, fmt.Errorf("stub_backend.config: %w", errInvalidTTL)
	}
	if configuration.SameSiteMode == 0 {
		configuration.SameSiteMode = http.SameSiteLaxMode
	}
	return configuration, nil
}
