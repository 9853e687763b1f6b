package credentialstorepg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the credential table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS access_credentials (
    slot TEXT PRIMARY KEY,
    credential TEXT NOT NULL,
    updated_at_unix BIGINT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("credential_store_pg.schema: %w", err)
	}
	return nil
}
