package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseda-hg/tasksync/internal/db"
)

func newTestCredentials(t *testing.T) (*Credentials, *db.Store) {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	store := db.NewStore(sqlDB)
	return New(store), store
}

func TestLoadWithoutStoredToken(t *testing.T) {
	creds, _ := newTestCredentials(t)
	require.NoError(t, creds.Load(context.Background(), ""))
	assert.False(t, creds.Authenticated())
}

func TestSetPersistsAndClearRemoves(t *testing.T) {
	ctx := context.Background()
	creds, store := newTestCredentials(t)

	require.Error(t, creds.Set(ctx, " "))
	require.NoError(t, creds.Set(ctx, "abc"))
	assert.Equal(t, "abc", creds.Token())

	reloaded := New(store)
	require.NoError(t, reloaded.Load(ctx, ""))
	assert.Equal(t, "abc", reloaded.Token())

	require.NoError(t, creds.Clear(ctx))
	assert.False(t, creds.Authenticated())
	stored, err := store.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestOverrideWinsAndIsNotStored(t *testing.T) {
	ctx := context.Background()
	creds, store := newTestCredentials(t)
	require.NoError(t, store.SaveToken(ctx, "stored"))

	require.NoError(t, creds.Load(ctx, "from-env"))
	assert.Equal(t, "from-env", creds.Token())
	assert.True(t, creds.Overridden())

	stored, err := store.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stored", stored)
}
