// Package tagreader implements the "opaque tagging library" read_tasks +
// group_albums pair that spec.md §4.A/§4.E leaves black-boxed: a
// variants.TaskReader backed by per-file tag extraction and a
// variants.FileMover backed by the local filesystem.
package tagreader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dhowden/tag"

	"github.com/orbimport/importsvc/internal/fingerprint"
	"github.com/orbimport/importsvc/internal/importstate"
)

// Reader groups audio files under a folder into one TaskHandle per album,
// the same per-track tag read the teacher's cmd/ingest does, but
// collecting tasks in memory instead of upserting rows.
type Reader struct {
	fp *fingerprint.Fingerprinter
}

// New builds a Reader over fp's audio-extension set, so the reader and the
// fingerprinter agree on what counts as an audio file.
func New(fp *fingerprint.Fingerprinter) *Reader {
	return &Reader{fp: fp}
}

// ReadTasks implements variants.TaskReader: one task per directory at any
// depth under folderPath (folderPath itself included) that directly
// contains audio files.
func (r *Reader) ReadTasks(ctx context.Context, folderPath string) ([]importstate.TaskHandle, error) {
	groups := map[string][]string{}

	err := filepath.WalkDir(folderPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() || !r.fp.IsAudioFile(path) {
			return nil
		}
		dir := filepath.Dir(path)
		groups[dir] = append(groups[dir], path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tagreader: walk %s: %w", folderPath, err)
	}

	dirs := make([]string, 0, len(groups))
	for dir := range groups {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	handles := make([]importstate.TaskHandle, 0, len(dirs))
	for _, dir := range dirs {
		paths := groups[dir]
		sort.Strings(paths)
		handle, err := r.buildHandle(dir, paths)
		if err != nil {
			return nil, err
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

func (r *Reader) buildHandle(dir string, paths []string) (importstate.TaskHandle, error) {
	items := make([]importstate.ItemInfo, 0, len(paths))
	var firstMeta importstate.Metadata

	for i, p := range paths {
		item, meta, err := readItem(p)
		if err != nil {
			return importstate.TaskHandle{}, fmt.Errorf("tagreader: read %s: %w", p, err)
		}
		items = append(items, item)
		if i == 0 {
			firstMeta = meta
		}
	}

	return importstate.TaskHandle{
		TopPath:  dir,
		Paths:    paths,
		Items:    items,
		Metadata: firstMeta,
	}, nil
}

func readItem(path string) (importstate.ItemInfo, importstate.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return importstate.ItemInfo{}, importstate.Metadata{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// Unreadable tags still yield a task entry keyed on the filename,
		// matching the bootleg variant's "whatever metadata exists, as-is"
		// posture — a track with no tags is not a reason to drop the file.
		item := importstate.ItemInfo{Path: path, Title: filepath.Base(path), Format: filepath.Ext(path)}
		return item, importstate.Metadata{}, nil
	}

	track, _ := m.Track()
	disc, _ := m.Disc()
	albumArtist := m.AlbumArtist()
	if albumArtist == "" {
		albumArtist = m.Artist()
	}
	if disc == 0 {
		disc = 1
	}

	item := importstate.ItemInfo{
		Path:        path,
		Title:       m.Title(),
		Artist:      m.Artist(),
		Album:       m.Album(),
		AlbumArtist: albumArtist,
		TrackNumber: track,
		DiscNumber:  disc,
		Format:      string(m.FileType()),
	}
	meta := importstate.Metadata{
		Artist:      m.Artist(),
		Album:       m.Album(),
		AlbumArtist: albumArtist,
		Year:        m.Year(),
	}
	return item, meta, nil
}

// Mover implements variants.FileMover over the local filesystem (the
// manipulate_files stage's actual move), falling back to copy+remove when
// the rename crosses a filesystem boundary.
type Mover struct{}

// Move relocates a file from oldPath to newPath, creating any missing
// parent directories.
func (Mover) Move(oldPath, newPath string) error {
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("tagreader: mkdir %s: %w", filepath.Dir(newPath), err)
	}
	if err := os.Rename(oldPath, newPath); err == nil {
		return nil
	}
	return copyThenRemove(oldPath, newPath)
}

func copyThenRemove(oldPath, newPath string) error {
	src, err := os.Open(oldPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(newPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := dst.ReadFrom(src); err != nil {
		return fmt.Errorf("tagreader: copy %s -> %s: %w", oldPath, newPath, err)
	}
	return os.Remove(oldPath)
}
