package apiclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryCredentialStoreLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryCredentialStore()

	credential, err := store.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, credential)

	require.NoError(t, store.Set(ctx, "token-1"))
	credential, err = store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "token-1", credential)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx), "clearing an empty store must be a no-op")
	credential, err = store.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, credential)
}

func TestMemoryCredentialStoreRejectsEmptyCredential(t *testing.T) {
	t.Parallel()
	store := NewMemoryCredentialStore()
	err := store.Set(context.Background(), "   ")
	require.True(t, errors.Is(err, ErrEmptyCredential), "expected ErrEmptyCredential, got %v", err)
}

func TestClientSignOutIsIdempotent(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t, "valid", "renewed")
	client, store, _ := newTestClient(t, backend, 0)

	var hookCalls int
	client.OnSignOut(func() { hookCalls++ })

	require.NoError(t, client.SignOut(context.Background()))
	require.NoError(t, client.SignIn(context.Background(), "valid"))
	require.NoError(t, client.SignOut(context.Background()))
	require.NoError(t, client.SignOut(context.Background()))

	credential, err := store.Get(context.Background())
	require.NoError(t, err)
	require.Empty(t, credential)
	require.Equal(t, 3, hookCalls)
}
