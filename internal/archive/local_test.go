package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalProviderSavesDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	provider, err := NewLocalProvider(dir)
	require.NoError(t, err)

	data := []byte("article body")
	require.NoError(t, provider.Save(context.Background(), "documents/abc123.txt", data))

	got, err := os.ReadFile(filepath.Join(dir, "documents", "abc123.txt"))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestLocalProviderCreatesBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "archive")
	_, err := NewLocalProvider(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLocalProviderRejectsEscapingNames(t *testing.T) {
	t.Parallel()

	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	err = provider.Save(context.Background(), "../outside.txt", []byte("x"))
	require.Error(t, err)
}

func TestLocalProviderRejectsEmptyName(t *testing.T) {
	t.Parallel()

	provider, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	require.Error(t, provider.Save(context.Background(), "  ", []byte("x")))
}
