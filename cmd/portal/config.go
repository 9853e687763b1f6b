package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	credentialStoreMemory   = "memory"
	credentialStoreDatabase = "database"
	credentialStorePGX      = "pgx"

	configCodeUnreadableFile           = "config.unreadable_file"
	configCodeMissingBackendURL        = "config.missing_backend_url"
	configCodeInvalidBackendURL        = "config.invalid_backend_url"
	configCodeInvalidRequestTimeout    = "config.invalid_request_timeout"
	configCodeUnknownCredentialStore   = "config.unknown_credential_store"
	configCodeMissingDatabaseURL       = "config.missing_database_url"
	configCodeMissingCORSOrigins       = "config.missing_cors_allowed_origins"
	configCodeMissingStubSigningKey    = "config.missing_stub_signing_key"
	configCodeMissingStubSeedPassword  = "config.missing_stub_seed_password"
	configCodeInvalidStubSeedChampion  = "config.invalid_stub_seed_champion_id"
	configCodeInvalidStubTTL           = "config.invalid_stub_ttl"
	configCodeUninitializedGatewayConf = "config.uninitialized_gateway_config"
	configCodeUninitializedStubConf    = "config.uninitialized_stub_config"
)

// GatewayConfig is the validated configuration of the portal gateway.
type GatewayConfig struct {
	ListenAddr         string
	BackendURL         string
	RequestTimeout     time.Duration
	RefreshPath        string
	WhoAmIPath         string
	CredentialStore    string
	DatabaseURL        string
	IdentityCachePath  string
	EnableCORS         bool
	CORSAllowedOrigins []string
}

// StubConfig is the validated configuration of the development backend.
type StubConfig struct {
	ListenAddr     string
	SigningKey     []byte
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	SeedEmail      string
	SeedPassword   string
	SeedChampionID int64
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadGatewayConfig reads and validates gateway settings from viper.
func LoadGatewayConfig() (GatewayConfig, error) {
	backendURL := strings.TrimSpace(viper.GetString("backend_url"))
	if backendURL == "" {
		return GatewayConfig{}, configError(configCodeMissingBackendURL, "backend_url must be provided")
	}
	parsed, parseErr := url.Parse(backendURL)
	if parseErr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return GatewayConfig{}, configError(configCodeInvalidBackendURL, "backend_url must be an absolute http(s) URL")
	}

	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout <= 0 {
		return GatewayConfig{}, configError(configCodeInvalidRequestTimeout, "request_timeout must be greater than zero")
	}

	credentialStore := strings.ToLower(strings.TrimSpace(viper.GetString("credential_store")))
	if credentialStore == "" {
		credentialStore = credentialStoreMemory
	}
	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	switch credentialStore {
	case credentialStoreMemory:
	case credentialStoreDatabase, credentialStorePGX:
		if databaseURL == "" {
			return GatewayConfig{}, configError(configCodeMissingDatabaseURL, fmt.Sprintf("database_url must be provided for the %s credential store", credentialStore))
		}
	default:
		return GatewayConfig{}, configError(configCodeUnknownCredentialStore, fmt.Sprintf("credential_store %q must be memory, database or pgx", credentialStore))
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return GatewayConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	return GatewayConfig{
		ListenAddr:         viper.GetString("listen_addr"),
		BackendURL:         backendURL,
		RequestTimeout:     requestTimeout,
		RefreshPath:        viper.GetString("refresh_path"),
		WhoAmIPath:         viper.GetString("whoami_path"),
		CredentialStore:    credentialStore,
		DatabaseURL:        databaseURL,
		IdentityCachePath:  strings.TrimSpace(viper.GetString("identity_cache_path")),
		EnableCORS:         enableCORS,
		CORSAllowedOrigins: corsAllowedOrigins,
	}, nil
}

// LoadStubConfig reads and validates development backend settings from viper.
func LoadStubConfig() (StubConfig, error) {
	signingKey := viper.GetString("stub_signing_key")
	if signingKey == "" {
		return StubConfig{}, configError(configCodeMissingStubSigningKey, "stub_signing_key must be provided")
	}
	seedPassword := viper.GetString("stub_seed_password")
	if seedPassword == "" {
		return StubConfig{}, configError(configCodeMissingStubSeedPassword, "stub_seed_password must be provided")
	}
	seedChampionID := viper.GetInt64("stub_seed_champion_id")
	if seedChampionID <= 0 {
		return StubConfig{}, configError(configCodeInvalidStubSeedChampion, "stub_seed_champion_id must be greater than zero")
	}
	accessTTL := viper.GetDuration("stub_access_ttl")
	refreshTTL := viper.GetDuration("stub_refresh_ttl")
	if accessTTL <= 0 || refreshTTL <= 0 {
		return StubConfig{}, configError(configCodeInvalidStubTTL, "stub_access_ttl and stub_refresh_ttl must be greater than zero")
	}
	listenAddr := viper.GetString("stub_listen_addr")
	if listenAddr == "" {
		listenAddr = ":8081"
	}
	return StubConfig{
		ListenAddr:     listenAddr,
		SigningKey:     []byte(signingKey),
		AccessTTL:      accessTTL,
		RefreshTTL:     refreshTTL,
		SeedEmail:      viper.GetString("stub_seed_email"),
		SeedPassword:   seedPassword,
		SeedChampionID: seedChampionID,
	}, nil
}
