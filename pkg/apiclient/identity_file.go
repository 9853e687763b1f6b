package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FileIdentityCache persists the identity record as a JSON document.
type FileIdentityCache struct {
	filesystem afero.Fs
	path       string
	mutex      sync.Mutex
}

// NewFileIdentityCache constructs a cache stored at path on filesystem.
func NewFileIdentityCache(filesystem afero.Fs, path string) *FileIdentityCache {
	if filesystem == nil {
		filesystem = afero.NewOsFs()
	}
	return &FileIdentityCache{filesystem: filesystem, path: path}
}

// Load reads the record; a missing file yields a nil record.
func (cache *FileIdentityCache) Load(ctx context.Context) (map[string]any, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	payload, readErr := afero.ReadFile(cache.filesystem, cache.path)
	if errors.Is(readErr, fs.ErrNotExist) {
		return nil, nil
	}
	if readErr != nil {
		return nil, fmt.Errorf("apiclient.identity_cache.load: %w", readErr)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var record map[string]any
	if decodeErr := decoder.Decode(&record); decodeErr != nil {
		return nil, fmt.Errorf("apiclient.identity_cache.decode: %w", decodeErr)
	}
	return record, nil
}

// Store writes the record through a temporary file and a rename.
func (cache *FileIdentityCache) Store(ctx context.Context, record map[string]any) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	payload, encodeErr := json.Marshal(record)
	if encodeErr != nil {
		return fmt.Errorf("apiclient.identity_cache.encode: %w", encodeErr)
	}
	if mkdirErr := cache.filesystem.MkdirAll(filepath.Dir(cache.path), 0o700); mkdirErr != nil {
		return fmt.Errorf("apiclient.identity_cache.store: %w", mkdirErr)
	}
	temporaryPath := cache.path + ".tmp"
	if writeErr := afero.WriteFile(cache.filesystem, temporaryPath, payload, 0o600); writeErr != nil {
		return fmt.Errorf("apiclient.identity_cache.store: %w", writeErr)
	}
	if renameErr := cache.filesystem.Rename(temporaryPath, cache.path); renameErr != nil {
		return fmt.Errorf("apiclient.identity_cache.store: %w", renameErr)
	}
	return nil
}
