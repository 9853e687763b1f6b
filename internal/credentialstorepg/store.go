package credentialstorepg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tyemirov/championportal/pkg/apiclient"
)

// DefaultSlot names the row holding the credential when no slot is configured.
const DefaultSlot = "default"

// Store persists the access credential in PostgreSQL through pgx.
type Store struct {
	pool *pgxpool.Pool
	slot string
}

var _ apiclient.CredentialStore = (*Store)(nil)

// NewStore constructs a Postgres store. Call EnsureSchema first.
func NewStore(pool *pgxpool.Pool, slot string) *Store {
	if strings.TrimSpace(slot) == "" {
		slot = DefaultSlot
	}
	return &Store{pool: pool, slot: slot}
}

// Open builds a pool, ensures the schema and returns a store over it.
func Open(ctx context.Context, databaseURL string, slot string) (*Store, error) {
	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if schemaErr := EnsureSchema(ctx, pool); schemaErr != nil {
		pool.Close()
		return nil, schemaErr
	}
	return NewStore(pool, slot), nil
}

// Get returns the stored credential or an empty string.
func (store *Store) Get(ctx context.Context) (string, error) {
	var credential string
	row := store.pool.QueryRow(ctx, `
SELECT credential
FROM access_credentials
WHERE slot = $1
`, store.slot)
	if scanErr := row.Scan(&credential); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("credential_store_pg.get: %w", scanErr)
	}
	return credential, nil
}

// Set upserts the credential row.
func (store *Store) Set(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return fmt.Errorf("credential_store_pg.set: %w", apiclient.ErrEmptyCredential)
	}
	_, err := store.pool.Exec(ctx, `
INSERT INTO access_credentials (slot, credential, updated_at_unix)
VALUES ($1, $2, $3)
ON CONFLICT (slot) DO UPDATE
SET credential = EXCLUDED.credential, updated_at_unix = EXCLUDED.updated_at_unix
`, store.slot, credential, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("credential_store_pg.set: %w", err)
	}
	return nil
}

// Clear deletes the credential row. Clearing an empty slot is not an error.
func (store *Store) Clear(ctx context.Context) error {
	_, err := store.pool.Exec(ctx, `
DELETE FROM access_credentials
WHERE slot = $1
`, store.slot)
	if err != nil {
		return fmt.Errorf("credential_store_pg.clear: %w", err)
	}
	return nil
}

// Close releases the pool.
func (store *Store) Close() {
	store.pool.Close()
}
