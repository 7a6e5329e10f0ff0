package storage

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveReadDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), WithFileMode(0o600))
	require.NoError(t, err)

	_, err = store.Save("session.json", []byte(`{"token":"t"}`))
	require.NoError(t, err)

	data, err := store.Read("session.json")
	require.NoError(t, err)
	assert.Equal(t, `{"token":"t"}`, string(data))

	info, err := os.Stat(filepath.Join(store.baseDir, "session.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete("session.json"))
	require.NoError(t, store.Delete("session.json"))
	_, err = store.Read("session.json")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLocalStorageSaveStreamLimit(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, n, err := store.SaveStream("reports/a/photo.jpg", strings.NewReader("12345"), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, _, err = store.SaveStream("reports/a/big.jpg", bytes.NewReader(make([]byte, 11)), 10)
	require.ErrorIs(t, err, ErrTooLarge)
	_, err = os.Stat(filepath.Join(store.baseDir, "reports/a/big.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorageRejectsEscapes(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("../outside.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrOutsideBase)
	_, err = store.Open("/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideBase)
}
