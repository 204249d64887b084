package keystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_CreatesThenUnlocks(t *testing.T) {
	dir := t.TempDir()

	v := New(dir, "dpapi")
	assert.False(t, v.Exists())
	assert.False(t, v.Unlocked())

	res := v.Initialize(context.Background())
	require.True(t, res.Success, res.Error)
	assert.True(t, v.Exists())
	assert.True(t, v.Unlocked())

	info, err := os.Stat(filepath.Join(dir, identityFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	sealed, err := v.Seal([]byte("session-token"))
	require.NoError(t, err)

	// A second process reopens the same key.
	again := New(dir, "dpapi")
	res = again.Initialize(context.Background())
	require.True(t, res.Success, res.Error)

	plain, err := again.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "session-token", string(plain))
}

func TestInitialize_Idempotent(t *testing.T) {
	v := New(t.TempDir(), "keychain")
	require.True(t, v.Initialize(context.Background()).Success)
	require.True(t, v.Initialize(context.Background()).Success)
}

func TestInitialize_MissingIdentityFails(t *testing.T) {
	dir := t.TempDir()
	require.True(t, New(dir, "keychain").Initialize(context.Background()).Success)
	require.NoError(t, os.Remove(filepath.Join(dir, identityFile)))

	res := New(dir, "keychain").Initialize(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "keychain access failed")
	assert.Contains(t, res.Error, "identity missing")
}

func TestInitialize_WrongIdentityFails(t *testing.T) {
	dir := t.TempDir()
	require.True(t, New(dir, "keychain").Initialize(context.Background()).Success)

	other := t.TempDir()
	require.True(t, New(other, "keychain").Initialize(context.Background()).Success)
	id, err := os.ReadFile(filepath.Join(other, identityFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, identityFile), id, 0o600))

	res := New(dir, "keychain").Initialize(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "decrypt data key")
}

func TestInitialize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New(t.TempDir(), "dpapi").Initialize(ctx)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestSealOpen_Locked(t *testing.T) {
	v := New(t.TempDir(), "dpapi")
	_, err := v.Seal([]byte("x"))
	assert.ErrorIs(t, err, ErrLocked)
	_, err = v.Open([]byte("x"))
	assert.ErrorIs(t, err, ErrLocked)
}

func TestOpen_Tampered(t *testing.T) {
	v := New(t.TempDir(), "dpapi")
	require.True(t, v.Initialize(context.Background()).Success)

	sealed, err := v.Seal([]byte("secret"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = v.Open(sealed)
	assert.Error(t, err)

	_, err = v.Open([]byte{1, 2, 3})
	assert.Error(t, err)
}
