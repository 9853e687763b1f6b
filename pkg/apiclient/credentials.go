package apiclient

import (
	"context"
	"strings"
	"sync"
)

// CredentialStore holds the single live access credential.
//
// Get returns an empty string when no credential is present. Clear on an empty
// store is a no-op. Implementations must make a completed Set visible to the
// next Get.
type CredentialStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, credential string) error
	Clear(ctx context.Context) error
}

// MemoryCredentialStore keeps the credential for the lifetime of the process.
type MemoryCredentialStore struct {
	mutex      sync.RWMutex
	credential string
}

// NewMemoryCredentialStore constructs an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

// Get returns the current credential or an empty string.
func (store *MemoryCredentialStore) Get(ctx context.Context) (string, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.credential, nil
}

// Set replaces the current credential.
func (store *MemoryCredentialStore) Set(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return ErrEmptyCredential
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.credential = credential
	return nil
}

// Clear drops the credential.
func (store *MemoryCredentialStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.credential = ""
	return nil
}
