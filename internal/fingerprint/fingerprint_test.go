package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbimport/importsvc/internal/errorsx"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestHashIsStableAcrossRescans(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "01.flac"), 100)
	writeFile(t, filepath.Join(dir, "02.flac"), 200)

	fp := New(nil, 0)
	h1, isAlbum1, err := fp.Hash(dir)
	require.NoError(t, err)
	assert.True(t, isAlbum1)

	fp2 := New(nil, 0)
	h2, _, err := fp2.Hash(dir)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashChangesOnFileAdd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "01.flac"), 100)

	fp := New(nil, 0)
	h1, _, err := fp.Hash(dir)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "02.flac"), 50)
	fp.Invalidate(dir)
	h2, _, err := fp.Hash(dir)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestNonAudioFilesExcluded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "01.flac"), 100)
	writeFile(t, filepath.Join(dir, "cover.jpg"), 999)

	fp := New(nil, 0)
	h1, _, err := fp.Hash(dir)
	require.NoError(t, err)

	dir2 := t.TempDir()
	writeFile(t, filepath.Join(dir2, "01.flac"), 100)

	fp2 := New(nil, 0)
	h2, _, err := fp2.Hash(dir2)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestDotfilesExcluded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "01.flac"), 100)
	writeFile(t, filepath.Join(dir, ".DS_Store.flac"), 999)

	fp := New(nil, 0)
	h1, isAlbum, err := fp.Hash(dir)
	require.NoError(t, err)
	assert.True(t, isAlbum)

	dir2 := t.TempDir()
	writeFile(t, filepath.Join(dir2, "01.flac"), 100)

	h2, _, err := New(nil, 0).Hash(dir2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestMultiDiscFolderClassifiesAsAlbum(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "CD1", "01.flac"), 100)
	writeFile(t, filepath.Join(dir, "Disc 2", "01.flac"), 100)

	fp := New(nil, 0)
	_, isAlbum, err := fp.Hash(dir)
	require.NoError(t, err)
	assert.True(t, isAlbum)
}

func TestMultiDiscFolderMissingAudioInOneDiscIsNotAlbum(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "CD1", "01.flac"), 100)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "CD2"), 0o755))

	fp := New(nil, 0)
	_, isAlbum, err := fp.Hash(dir)
	require.NoError(t, err)
	assert.False(t, isAlbum)
}

func TestNonAlbumFolderWithUnrelatedSubdir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "artwork", "front.jpg"), 999)

	fp := New(nil, 0)
	_, isAlbum, err := fp.Hash(dir)
	require.NoError(t, err)
	assert.False(t, isAlbum)
}

func TestMissingPathIsNotFoundError(t *testing.T) {
	fp := New(nil, 0)
	_, _, err := fp.Hash("/no/such/path/exists")
	require.Error(t, err)
	assert.True(t, errorsx.Is(err, errorsx.KindNotFound))
}

func TestCacheEvictsOldestWhenOverLimit(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	dir3 := t.TempDir()
	writeFile(t, filepath.Join(dir1, "01.flac"), 1)
	writeFile(t, filepath.Join(dir2, "01.flac"), 1)
	writeFile(t, filepath.Join(dir3, "01.flac"), 1)

	fp := New(nil, 2)
	fp.Hash(dir1)
	fp.Hash(dir2)
	fp.Hash(dir3)

	_, ok := fp.cacheGet(dir1)
	assert.False(t, ok, "dir1 should have been evicted")
	_, ok = fp.cacheGet(dir3)
	assert.True(t, ok)
}
