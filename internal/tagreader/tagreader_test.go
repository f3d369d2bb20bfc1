package tagreader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbimport/importsvc/internal/fingerprint"
)

func TestReadTasksGroupsFilesByDirectory(t *testing.T) {
	root := t.TempDir()
	albumA := filepath.Join(root, "Artist", "Album A")
	albumB := filepath.Join(root, "Artist", "Album B")
	require.NoError(t, os.MkdirAll(albumA, 0o755))
	require.NoError(t, os.MkdirAll(albumB, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(albumA, "01.mp3"), []byte("not really audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(albumA, "02.mp3"), []byte("not really audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(albumB, "01.flac"), []byte("not really audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(albumA, "cover.jpg"), []byte("image"), 0o644))

	r := New(fingerprint.New(nil, 16))
	handles, err := r.ReadTasks(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, handles, 2)

	assert.Equal(t, albumA, handles[0].TopPath)
	assert.Len(t, handles[0].Paths, 2)
	assert.Equal(t, albumB, handles[1].TopPath)
	assert.Len(t, handles[1].Paths, 1)
}

func TestReadTasksReturnsEmptyForFolderWithNoAudio(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))

	r := New(fingerprint.New(nil, 16))
	handles, err := r.ReadTasks(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestReadItemFallsBackToFilenameWhenTagsUnreadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	require.NoError(t, os.WriteFile(path, []byte("garbage, not a real audio container"), 0o644))

	item, meta, err := readItem(path)
	require.NoError(t, err)
	assert.Equal(t, path, item.Path)
	assert.Equal(t, "track.mp3", item.Title)
	assert.Equal(t, "", meta.Artist)
}

func TestMoverMovesFileAcrossDirectories(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.mp3")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	dst := filepath.Join(root, "nested", "dst.mp3")

	require.NoError(t, Mover{}.Move(src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}
