package stubbackend

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const refreshOpaqueByteLength = 32

// MemoryRefreshTokenStore keeps rotating refresh tokens in memory.
type MemoryRefreshTokenStore struct {
	mutex  sync.Mutex
	byID   map[string]*refreshRecord
	byHash map[string]string
}

type refreshRecord struct {
	tokenID         string
	championID      int64
	hash            string
	expiresUnix     int64
	revokedAtUnix   int64
	previousTokenID string
}

// NewMemoryRefreshTokenStore creates an empty store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		byID:   make(map[string]*refreshRecord),
		byHash: make(map[string]string),
	}
}

// Issue creates a new token, optionally linked to the token it replaces.
func (store *MemoryRefreshTokenStore) Issue(ctx context.Context, championID int64, expiresUnix int64, previousTokenID string) (string, string, error) {
	opaque, hashValue, err := generateRefreshOpaque()
	if err != nil {
		return "", "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID := uuid.NewString()
	store.byID[tokenID] = &refreshRecord{
		tokenID:         tokenID,
		championID:      championID,
		hash:            hashValue,
		expiresUnix:     expiresUnix,
		previousTokenID: previousTokenID,
	}
	store.byHash[hashValue] = tokenID
	return tokenID, opaque, nil
}

// Validate checks the opaque token and returns champion, token id and expiry.
func (store *MemoryRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (int64, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return 0, "", 0, fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenEmptyOpaque)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID, ok := store.byHash[hashOpaque(tokenOpaque)]
	if !ok {
		return 0, "", 0, fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenNotFound)
	}
	record := store.byID[tokenID]
	if record.revokedAtUnix != 0 {
		return 0, "", 0, fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenRevoked)
	}
	if time.Unix(record.expiresUnix, 0).Before(time.Now().UTC()) {
		return 0, "", 0, fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenExpired)
	}
	return record.championID, record.tokenID, record.expiresUnix, nil
}

// Revoke marks a token as revoked. Revoking twice is a no-op.
func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[tokenID]
	if record == nil {
		return fmt.Errorf("refresh_store.revoke: %w", ErrRefreshTokenNotFound)
	}
	if record.revokedAtUnix == 0 {
		record.revokedAtUnix = time.Now().UTC().Unix()
	}
	return nil
}

func generateRefreshOpaque() (string, string, error) {
	randomBytes := make([]byte, refreshOpaqueByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("refresh_store.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
