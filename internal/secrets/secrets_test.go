package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := Key{Cluster: "prod", Kind: KindPassword}

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, key, "hunter2"))
	v, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	require.NoError(t, s.Set(ctx, Key{Cluster: "prod", Kind: KindKeyPassphrase}, "pp"))
	require.NoError(t, DeleteCluster(ctx, s, "prod"))

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, key), ErrNotFound)

	// Deleting a cluster without secrets is not an error.
	assert.NoError(t, DeleteCluster(ctx, s, "nothing-here"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	exerciseStore(t, NewKeyringStore("kafkaconsole-test"))
}

func TestNew(t *testing.T) {
	s, err := New(BackendMemory)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New("")
	require.NoError(t, err)
	assert.IsType(t, &KeyringStore{}, s)

	_, err = New("vault")
	assert.ErrorContains(t, err, "unknown secret backend")
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "prod/key-passphrase", Key{Cluster: "prod", Kind: KindKeyPassphrase}.String())
}
