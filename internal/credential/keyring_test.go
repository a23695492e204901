package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T, items ...keyring.Item) {
	t.Helper()
	ring := keyring.NewArrayKeyring(items)
	prev := open
	open = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { open = prev })
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "FIELDPARTNER_REMOTE_TOKEN", EnvVar(KeyRemoteToken))
	assert.Equal(t, "FIELDPARTNER_SYNC_PASSWORD", EnvVar(KeySyncPassword))
}

func TestGetPrefersEnvironment(t *testing.T) {
	useArrayKeyring(t, keyring.Item{Key: KeyRemoteToken, Data: []byte("from-keyring")})

	got, err := Get(KeyRemoteToken)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", got)

	t.Setenv(EnvVar(KeyRemoteToken), "from-env")
	got, err = Get(KeyRemoteToken)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}

func TestSetGetDelete(t *testing.T) {
	useArrayKeyring(t)
	t.Setenv(EnvVar(KeySyncPassword), "")

	require.NoError(t, Set(KeySyncPassword, "s3cret"))
	got, err := Get(KeySyncPassword)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	require.NoError(t, Delete(KeySyncPassword))
	_, err = Get(KeySyncPassword)
	require.ErrorIs(t, err, ErrNotFound)

	got, err = Optional(KeySyncPassword)
	require.NoError(t, err)
	assert.Empty(t, got)
}
