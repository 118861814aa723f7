package peervault_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/robcohen/peervault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSecretStoreLoadReturnsNotExistBeforeFirstSave(t *testing.T) {
	dir := t.TempDir()
	store := peervault.NewFileSecretStore(filepath.Join(dir, "secret.key"))

	_, err := store.Load()
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileSecretStoreSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := peervault.NewFileSecretStore(filepath.Join(dir, "nested", "secret.key"))

	var key peervault.SecretKey
	for i := range key {
		key[i] = byte(i)
	}
	require.NoError(t, store.Save(key))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, key, loaded)
}

func TestFileSecretStoreSaveWritesRestrictivePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.key")
	store := peervault.NewFileSecretStore(path)

	var key peervault.SecretKey
	require.NoError(t, store.Save(key))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileSecretStoreLoadRejectsWrongSizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.key")
	require.NoError(t, os.WriteFile(path, []byte("too-short"), 0600))

	store := peervault.NewFileSecretStore(path)
	_, err := store.Load()
	assert.Error(t, err)
}
