// Package library implements component J: a narrow, typed facade over the
// music-library catalog for candidate lookup, duplicate detection, commit,
// removal, and the plugin event channel of §6.1.
package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orbimport/importsvc/internal/errorsx"
	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/pkg/objstore"
	"github.com/orbimport/importsvc/pkg/store"
)

// DuplicateKeys is the default metadata-key list candidate duplicate
// lookups use (§4.B: "e.g. {albumartist, album}", §6.5).
var DuplicateKeys = []string{"albumartist", "album"}

// EventKind enumerates the named library plugin events of §6.1.
type EventKind string

const (
	EventImportBegin         EventKind = "import_begin"
	EventImportTaskCreated   EventKind = "import_task_created"
	EventImportTaskStart     EventKind = "import_task_start"
	EventImportTaskBeforeChoice EventKind = "import_task_before_choice"
	EventImportTaskChoice    EventKind = "import_task_choice"
	EventImportTaskApply     EventKind = "import_task_apply"
	EventItemRemoved         EventKind = "item_removed"
	EventAlbumRemoved        EventKind = "album_removed"
	EventCliExit             EventKind = "cli_exit"
)

// EventHandler receives library plugin events. The return value is treated
// as additional-candidate offers only when the event is
// EventImportTaskBeforeChoice (§6.1); it is ignored for every other event.
type EventHandler func(ctx context.Context, kind EventKind, session *importstate.SessionState, task *importstate.TaskState) ([]*importstate.CandidateState, error)

// Plugins dispatches library events to zero or more registered handlers,
// in registration order (§4.J Library.Plugins.Send, §6.1).
type Plugins struct {
	handlers []EventHandler
}

// Register adds a handler. Handlers are opaque to the core: it never
// inspects what they do, only whether they return an error.
func (p *Plugins) Register(h EventHandler) { p.handlers = append(p.handlers, h) }

// Send dispatches an event to every registered handler in order, collecting
// any candidate offers returned for import_task_before_choice.
func (p *Plugins) Send(ctx context.Context, kind EventKind, session *importstate.SessionState, task *importstate.TaskState) ([]*importstate.CandidateState, error) {
	var offers []*importstate.CandidateState
	for _, h := range p.handlers {
		out, err := h(ctx, kind, session, task)
		if err != nil {
			return nil, fmt.Errorf("library: plugin handler for %s: %w", kind, err)
		}
		if kind == EventImportTaskBeforeChoice {
			offers = append(offers, out...)
		}
	}
	return offers, nil
}

// Library is an opened handle to the catalog rooted at Path (§4.J
// Lib.Open).
type Library struct {
	Path    string
	store   *store.Store
	obj     objstore.ObjectStore
	Plugins Plugins
}

// Lib opens (or attaches to) the catalog backing store. In this
// implementation the catalog lives in the same Postgres database as the
// session store, so Open is a thin wrapper binding a root path to the
// shared handles rather than a separate connection (§4.J: "the music
// library database (opaque store...)" is satisfied by pkg/store's
// minimal-catalog tables).
func Lib(path string, db *store.Store, obj objstore.ObjectStore) *Library {
	return &Library{Path: path, store: db, obj: obj}
}

// QueryDuplicateAlbumIDs implements importstate.DuplicateQuerier, used by
// CandidateState.IdentifyDuplicates (§4.B). keys is accepted for interface
// parity with the spec's configurable key list but this implementation
// only supports the {albumartist, album} pair (§6.5 default), matching the
// Open Question decision recorded in DESIGN.md that asis bypasses the
// check entirely rather than this adapter needing to generalize further.
func (l *Library) QueryDuplicateAlbumIDs(albumArtist, album string, keys []string) ([]string, error) {
	return l.store.QueryDuplicateAlbumIDs(context.Background(), albumArtist, album)
}

// AlbumIsSubsetOfPaths reports whether every track path under albumID is
// already among paths — the re-import case IdentifyDuplicates excludes.
func (l *Library) AlbumIsSubsetOfPaths(albumID string, paths []string) (bool, error) {
	albumPaths, err := l.store.AlbumPaths(context.Background(), albumID)
	if err != nil {
		return false, err
	}
	if len(albumPaths) == 0 {
		return false, nil
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	for _, p := range albumPaths {
		if _, ok := set[p]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// QueryDuplicates implements §4.J's Library.QueryDuplicates(candidate,
// keys) -> []Album, returning the full album rows rather than bare ids so
// callers building a user-facing conflict report don't need a second
// round trip.
func (l *Library) QueryDuplicates(ctx context.Context, candidate *importstate.CandidateState, keys []string) ([]store.Album, error) {
	ids, err := l.store.QueryDuplicateAlbumIDs(ctx, candidate.Album.Artist, candidate.Album.Album)
	if err != nil {
		return nil, err
	}
	albums := make([]store.Album, 0, len(ids))
	for _, id := range ids {
		a, err := l.store.GetAlbum(ctx, id)
		if err != nil {
			continue
		}
		albums = append(albums, a)
	}
	return albums, nil
}

// QueryAlbum returns the catalog row for albumID, propagating pgx.ErrNoRows
// unwrapped so callers (Undo's integrity check) can distinguish "missing"
// from other failures.
func (l *Library) QueryAlbum(ctx context.Context, albumID string) (store.Album, error) {
	return l.store.GetAlbum(ctx, albumID)
}

// CommitImport writes the chosen candidate's album/tracks into the catalog
// and returns the committed items, honoring dupAction for any duplicates
// already recorded on the candidate (§4.J, §4.E ImportChosen duplicate
// semantics).
func (l *Library) CommitImport(ctx context.Context, task *importstate.TaskState, candidate *importstate.CandidateState, dupAction importstate.DuplicateAction) ([]importstate.ItemInfo, string, error) {
	if len(candidate.DuplicateIDs) > 0 {
		switch dupAction {
		case importstate.DupSkip:
			return nil, "", nil
		case importstate.DupAsk:
			return nil, "", errorsx.InvalidUsage("duplicate_action 'ask' requires interactive resolution, which the core does not provide")
		case importstate.DupRemove:
			for _, id := range candidate.DuplicateIDs {
				if err := l.Remove(ctx, id, false); err != nil {
					return nil, "", fmt.Errorf("remove conflicting album %s: %w", id, err)
				}
			}
		case importstate.DupKeep, importstate.DupMerge:
			// fall through to commit; merge additionally unions items,
			// which for this narrow adapter means simply not deleting
			// the prior album row before the upsert below.
		}
	}

	artistID := deterministicID("artist:" + candidate.Album.Artist)
	if _, err := l.store.UpsertArtist(ctx, store.Artist{ID: artistID, Name: candidate.Album.Artist}); err != nil {
		return nil, "", fmt.Errorf("upsert artist: %w", err)
	}

	albumID := candidate.Album.AlbumID
	if albumID == "" {
		albumID = deterministicID("album:" + candidate.Album.Artist + ":" + candidate.Album.Album)
	}
	if _, err := l.store.UpsertAlbum(ctx, store.Album{
		ID:          albumID,
		ArtistID:    artistID,
		Title:       candidate.Album.Album,
		ReleaseYear: candidate.Album.Year,
		Label:       candidate.Album.Label,
	}); err != nil {
		return nil, "", fmt.Errorf("upsert album: %w", err)
	}

	items := make([]importstate.ItemInfo, 0, len(candidate.Mapping))
	for itemIdx, trackIdx := range candidate.Mapping {
		if itemIdx < 0 || itemIdx >= len(task.Handle.Items) {
			continue
		}
		item := task.Handle.Items[itemIdx]
		var trackInfo importstate.TrackInfo
		if trackIdx >= 0 && trackIdx < len(candidate.Album.Tracks) {
			trackInfo = candidate.Album.Tracks[trackIdx]
		}
		trackID := trackInfo.TrackID
		if trackID == "" {
			trackID = deterministicID("track:" + item.Path)
		}
		if _, err := l.store.UpsertTrack(ctx, store.Track{
			ID:          trackID,
			AlbumID:     albumID,
			Title:       coalesce(trackInfo.Title, item.Title),
			TrackNumber: coalesceInt(trackInfo.TrackNumber, item.TrackNumber),
			DiscNumber:  coalesceInt(trackInfo.DiscNumber, item.DiscNumber),
			Path:        item.Path,
			DurationSec: item.DurationSec,
		}); err != nil {
			return nil, "", fmt.Errorf("upsert track: %w", err)
		}
		items = append(items, item)
	}
	return items, albumID, nil
}

// Remove deletes a catalog album and, if deleteFiles is set, archives its
// audio files to object storage before removing them from disk (§4.J
// Library.Remove). Archiving rather than bare deletion gives undo's
// move-back path something to restore from if move_files_back_or_delete's
// "delete" branch was chosen in error.
func (l *Library) Remove(ctx context.Context, albumID string, deleteFiles bool) error {
	paths, err := l.store.AlbumPaths(ctx, albumID)
	if err != nil {
		return fmt.Errorf("list album paths: %w", err)
	}
	if deleteFiles && l.obj != nil {
		for _, p := range paths {
			if err := archiveBeforeDelete(ctx, l.obj, p); err != nil {
				return fmt.Errorf("archive %s before delete: %w", p, err)
			}
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s: %w", p, err)
			}
		}
	}
	return l.store.RemoveAlbum(ctx, albumID)
}

// MoveBack restores item to dest, the inverse of the file move ImportChosen
// performs (§4.J Library.MoveBack, used by undo).
func (l *Library) MoveBack(item importstate.ItemInfo, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir dest: %w", err)
	}
	if err := os.Rename(item.Path, dest); err != nil {
		return fmt.Errorf("move %s back to %s: %w", item.Path, dest, err)
	}
	return nil
}

func archiveBeforeDelete(ctx context.Context, obj objstore.ObjectStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	key := "archive/" + filepath.Base(path)
	return obj.Put(ctx, key, f, info.Size())
}

func deterministicID(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:8])
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func coalesceInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
