package stubbackend

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestMemoryRefreshTokenStoreLifecycle(t *testing.T) {
	store := NewMemoryRefreshTokenStore()
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour).Unix()

	tokenID, opaque, err := store.Issue(ctx, 7, expiry, "")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	championID, validatedID, expiresUnix, err := store.Validate(ctx, opaque)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if championID != 7 || validatedID != tokenID || expiresUnix != expiry {
		t.Fatalf("unexpected validation result: %d %s %d", championID, validatedID, expiresUnix)
	}
	if err := store.Revoke(ctx, tokenID); err != nil {
		t.Fatalf("revoke error: %v", err)
	}
	if err := store.Revoke(ctx, tokenID); err != nil {
		t.Fatalf("second revoke should be a no-op, got %v", err)
	}
	if _, _, _, err := store.Validate(ctx, opaque); !errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
	}
}

func TestMemoryRefreshTokenStoreErrors(t *testing.T) {
	store := NewMemoryRefreshTokenStore()
	ctx := context.Background()

	if _, _, _, err := store.Validate(ctx, " "); !errors.Is(err, ErrRefreshTokenEmptyOpaque) {
		t.Fatalf("expected ErrRefreshTokenEmptyOpaque, got %v", err)
	}
	if _, _, _, err := store.Validate(ctx, "unknown"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected ErrRefreshTokenNotFound, got %v", err)
	}
	if err := store.Revoke(ctx, "missing"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected ErrRefreshTokenNotFound, got %v", err)
	}
	_, opaque, err := store.Issue(ctx, 7, time.Now().Add(-time.Minute).Unix(), "")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	if _, _, _, err := store.Validate(ctx, opaque); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
	}
}

func TestInMemoryDirectory(t *testing.T) {
	directory := NewInMemoryDirectory(bcrypt.MinCost)
	ctx := context.Background()
	if err := directory.Register(Champion{ID: 3, Email: "Cy@Example.com"}, "secret"); err != nil {
		t.Fatalf("register error: %v", err)
	}
	if err := directory.Register(Champion{ID: 4, Email: "cy@example.com"}, "other"); !errors.Is(err, ErrDuplicateChampion) {
		t.Fatalf("expected ErrDuplicateChampion, got %v", err)
	}
	if err := directory.Register(Champion{ID: 0, Email: "zero@example.com"}, "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for non-positive id, got %v", err)
	}

	champion, err := directory.Authenticate(ctx, " cy@example.com", "secret")
	if err != nil {
		t.Fatalf("authenticate error: %v", err)
	}
	if champion.ID != 3 || champion.Email != "cy@example.com" {
		t.Fatalf("unexpected champion: %+v", champion)
	}
	if _, err := directory.Authenticate(ctx, "cy@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := directory.Lookup(ctx, 99); !errors.Is(err, ErrChampionNotFound) {
		t.Fatalf("expected ErrChampionNotFound, got %v", err)
	}
}
