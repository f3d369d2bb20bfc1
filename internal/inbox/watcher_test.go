package inbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbimport/importsvc/internal/fingerprint"
	"github.com/orbimport/importsvc/pkg/config"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestIsDotfileDetectsLeadingDot(t *testing.T) {
	assert.True(t, isDotfile("/inbox/artist/.DS_Store"))
	assert.False(t, isDotfile("/inbox/artist/album/01.flac"))
}

func TestResolveAlbumFolderFindsContainingAlbum(t *testing.T) {
	root := t.TempDir()
	album := filepath.Join(root, "Artist", "Album")
	writeFile(t, filepath.Join(album, "01.flac"), 100)
	writeFile(t, filepath.Join(album, "02.flac"), 100)

	w := &Watcher{fp: fingerprint.New(nil, 0)}

	got, ok := w.resolveAlbumFolder(filepath.Join(album, "01.flac"), root)
	require.True(t, ok)
	assert.Equal(t, album, got)
}

func TestResolveAlbumFolderDropsWhenNoAncestorQualifies(t *testing.T) {
	root := t.TempDir()
	loose := filepath.Join(root, "Artist")
	writeFile(t, filepath.Join(loose, "notes.txt"), 10)

	w := &Watcher{fp: fingerprint.New(nil, 0)}

	_, ok := w.resolveAlbumFolder(filepath.Join(loose, "notes.txt"), root)
	assert.False(t, ok)
}

func TestDecideEnqueueNoSessionAlwaysEnqueues(t *testing.T) {
	assert.True(t, decideEnqueue(config.AutotagAuto, true, "h1", ""))
	assert.True(t, decideEnqueue(config.AutotagBootleg, true, "h1", ""))
	assert.True(t, decideEnqueue(config.AutotagPreview, true, "h1", ""))
}

func TestDecideEnqueuePreviewOnHashChange(t *testing.T) {
	assert.True(t, decideEnqueue(config.AutotagPreview, false, "h2", "h1"))
	assert.False(t, decideEnqueue(config.AutotagPreview, false, "h1", "h1"))
}

func TestDecideEnqueueAutoIgnoresHashChangeWhenSessionExists(t *testing.T) {
	assert.False(t, decideEnqueue(config.AutotagAuto, false, "h2", "h1"))
	assert.False(t, decideEnqueue(config.AutotagBootleg, false, "h2", "h1"))
}
