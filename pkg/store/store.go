// Package store implements the durable store of spec §4.C: sessions keyed
// by (folder_hash, folder_revision), with the supporting folder and
// minimal-catalog tables internal/library queries against.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds the connection pool. Services receive a Store; tests can
// substitute a mock of the narrower interfaces that consume it.
type Store struct {
	pool *pgxpool.Pool
}

// Connect connects to Postgres using the given DSN and returns a Store.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that Postgres is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ErrNoCurrentSession is returned by CurrentSession when a folder hash has
// never had a session persisted.
var ErrNoCurrentSession = errors.New("store: no session for folder hash")

// UpsertFolder inserts a folder record or, on hash conflict, replaces the
// path (§3 FolderRecord: "newest path wins on conflict").
func (s *Store) UpsertFolder(ctx context.Context, f FolderRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO folder (hash, full_path, is_album) VALUES ($1, $2, $3)
ON CONFLICT (hash) DO UPDATE SET full_path = EXCLUDED.full_path, is_album = EXCLUDED.is_album`,
		f.Hash, f.FullPath, f.IsAlbum)
	return err
}

// GetFolder returns the folder record for a hash.
func (s *Store) GetFolder(ctx context.Context, hash string) (FolderRow, error) {
	var f FolderRow
	err := s.pool.QueryRow(ctx, `SELECT hash, full_path, is_album FROM folder WHERE hash = $1`, hash).
		Scan(&f.Hash, &f.FullPath, &f.IsAlbum)
	return f, err
}

// NextRevision returns max(folder_revision)+1 for a folder hash, or 1 if no
// session exists yet (§4.C revisioning rule).
func (s *Store) NextRevision(ctx context.Context, folderHash string) (int, error) {
	var max sql.NullInt64
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(folder_revision) FROM session WHERE folder_hash = $1`, folderHash).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// InsertSession persists a new SessionRow, assuming FolderRevision has
// already been computed via NextRevision.
func (s *Store) InsertSession(ctx context.Context, row SessionRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session (id, folder_hash, folder_revision, progress, exc_blob, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.ID, row.FolderHash, row.FolderRevision, row.Progress, row.ExcBlob, row.CreatedAt, row.UpdatedAt)
	return err
}

// UpdateSession persists progress/exc changes to an existing session row.
func (s *Store) UpdateSession(ctx context.Context, row SessionRow) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE session SET progress = $2, exc_blob = $3, updated_at = $4 WHERE id = $1`,
		row.ID, row.Progress, row.ExcBlob, row.UpdatedAt)
	return err
}

// CurrentSession returns the highest-revision session for a folder hash
// (§3 invariant 2: "higher revision is the current session for that hash").
func (s *Store) CurrentSession(ctx context.Context, folderHash string) (SessionRow, error) {
	var row SessionRow
	err := s.pool.QueryRow(ctx,
		`SELECT id, folder_hash, folder_revision, progress, exc_blob, created_at, updated_at
FROM session WHERE folder_hash = $1 ORDER BY folder_revision DESC LIMIT 1`, folderHash).
		Scan(&row.ID, &row.FolderHash, &row.FolderRevision, &row.Progress, &row.ExcBlob, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRow{}, ErrNoCurrentSession
	}
	return row, err
}

// CurrentSessionByPath returns the highest-revision session for whichever
// folder hash is currently associated with full_path — used by the inbox
// watcher, which only knows a path, to find the last session run over that
// folder regardless of whether its content hash has since changed.
func (s *Store) CurrentSessionByPath(ctx context.Context, fullPath string) (SessionRow, error) {
	var row SessionRow
	err := s.pool.QueryRow(ctx,
		`SELECT s.id, s.folder_hash, s.folder_revision, s.progress, s.exc_blob, s.created_at, s.updated_at
FROM session s JOIN folder f ON f.hash = s.folder_hash
WHERE f.full_path = $1 ORDER BY s.folder_revision DESC LIMIT 1`, fullPath).
		Scan(&row.ID, &row.FolderHash, &row.FolderRevision, &row.Progress, &row.ExcBlob, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRow{}, ErrNoCurrentSession
	}
	return row, err
}

// GetSession returns a session row by id.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRow, error) {
	var row SessionRow
	err := s.pool.QueryRow(ctx,
		`SELECT id, folder_hash, folder_revision, progress, exc_blob, created_at, updated_at
FROM session WHERE id = $1`, id).
		Scan(&row.ID, &row.FolderHash, &row.FolderRevision, &row.Progress, &row.ExcBlob, &row.CreatedAt, &row.UpdatedAt)
	return row, err
}

// InsertTask persists a new TaskRow.
func (s *Store) InsertTask(ctx context.Context, row TaskRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task (id, session_id, progress, items_blob, paths_blob, old_paths_blob, choice_flag, cur_artist, cur_album, committed_album_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.ID, row.SessionID, row.Progress, row.ItemsBlob, row.PathsBlob, row.OldPathsBlob, row.ChoiceFlag, row.CurArtist, row.CurAlbum, row.CommittedAlbumID)
	return err
}

// UpdateTask persists mutable fields of an existing TaskRow.
func (s *Store) UpdateTask(ctx context.Context, row TaskRow) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE task SET progress = $2, old_paths_blob = $3, choice_flag = $4, committed_album_id = $5 WHERE id = $1`,
		row.ID, row.Progress, row.OldPathsBlob, row.ChoiceFlag, row.CommittedAlbumID)
	return err
}

// ListTasks returns every task row for a session, ordered by task id
// (ids are random UUIDs, so this is not insertion order).
func (s *Store) ListTasks(ctx context.Context, sessionID string) ([]TaskRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, progress, items_blob, paths_blob, old_paths_blob, choice_flag, cur_artist, cur_album, committed_album_id
FROM task WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var t TaskRow
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Progress, &t.ItemsBlob, &t.PathsBlob, &t.OldPathsBlob, &t.ChoiceFlag, &t.CurArtist, &t.CurAlbum, &t.CommittedAlbumID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertCandidate persists a new CandidateRow.
func (s *Store) InsertCandidate(ctx context.Context, row CandidateRow) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO candidate (id, task_id, match_blob, duplicate_ids) VALUES ($1, $2, $3, $4)`,
		row.ID, row.TaskID, row.MatchBlob, row.DuplicateIDs)
	return err
}

// UpdateCandidateDuplicateIDs persists the result of IdentifyDuplicates.
func (s *Store) UpdateCandidateDuplicateIDs(ctx context.Context, id string, duplicateIDs []string) error {
	_, err := s.pool.Exec(ctx, `UPDATE candidate SET duplicate_ids = $2 WHERE id = $1`, id, duplicateIDs)
	return err
}

// ListCandidates returns every candidate row for a task.
func (s *Store) ListCandidates(ctx context.Context, taskID string) ([]CandidateRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, match_blob, duplicate_ids FROM candidate WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CandidateRow
	for rows.Next() {
		var c CandidateRow
		if err := rows.Scan(&c.ID, &c.TaskID, &c.MatchBlob, &c.DuplicateIDs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- minimal catalog surface backing internal/library ---

// UpsertArtist inserts or updates an artist.
func (s *Store) UpsertArtist(ctx context.Context, a Artist) (Artist, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO artist (id, name, mbid) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, mbid = EXCLUDED.mbid
RETURNING id, name, mbid`,
		a.ID, a.Name, a.Mbid)
	var mbid sql.NullString
	err := row.Scan(&a.ID, &a.Name, &mbid)
	a.Mbid = mbid.String
	return a, err
}

// UpsertAlbum inserts or updates an album.
func (s *Store) UpsertAlbum(ctx context.Context, a Album) (Album, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO album (id, artist_id, title, release_year, label, mbid) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET artist_id = EXCLUDED.artist_id, title = EXCLUDED.title, release_year = EXCLUDED.release_year, label = EXCLUDED.label, mbid = EXCLUDED.mbid
RETURNING id, artist_id, title, release_year, label, mbid`,
		a.ID, a.ArtistID, a.Title, a.ReleaseYear, a.Label, a.Mbid)
	var artistID, label, mbid sql.NullString
	var releaseYear sql.NullInt64
	err := row.Scan(&a.ID, &artistID, &a.Title, &releaseYear, &label, &mbid)
	a.ArtistID = artistID.String
	a.ReleaseYear = int(releaseYear.Int64)
	a.Label = label.String
	a.Mbid = mbid.String
	return a, err
}

// GetAlbum returns an album by id.
func (s *Store) GetAlbum(ctx context.Context, id string) (Album, error) {
	var a Album
	var artistID, label, mbid sql.NullString
	var releaseYear sql.NullInt64
	err := s.pool.QueryRow(ctx,
		`SELECT al.id, al.artist_id, COALESCE(ar.name, ''), al.title, al.release_year, al.label, al.mbid
FROM album al LEFT JOIN artist ar ON ar.id = al.artist_id WHERE al.id = $1`, id).
		Scan(&a.ID, &artistID, &a.ArtistName, &a.Title, &releaseYear, &label, &mbid)
	a.ArtistID = artistID.String
	a.ReleaseYear = int(releaseYear.Int64)
	a.Label = label.String
	a.Mbid = mbid.String
	return a, err
}

// UpsertTrack inserts or updates a track.
func (s *Store) UpsertTrack(ctx context.Context, t Track) (Track, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO track (id, album_id, title, track_number, disc_number, path, duration_sec)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET album_id = EXCLUDED.album_id, title = EXCLUDED.title, track_number = EXCLUDED.track_number, disc_number = EXCLUDED.disc_number, path = EXCLUDED.path, duration_sec = EXCLUDED.duration_sec
RETURNING id, album_id, title, track_number, disc_number, path, duration_sec`,
		t.ID, t.AlbumID, t.Title, t.TrackNumber, t.DiscNumber, t.Path, t.DurationSec)
	var albumID sql.NullString
	var trackNumber sql.NullInt64
	var durationSec sql.NullFloat64
	err := row.Scan(&t.ID, &albumID, &t.Title, &trackNumber, &t.DiscNumber, &t.Path, &durationSec)
	t.AlbumID = albumID.String
	t.TrackNumber = int(trackNumber.Int64)
	t.DurationSec = durationSec.Float64
	return t, err
}

// QueryDuplicateAlbumIDs returns album ids whose artist+title match,
// implementing the key-list lookup internal/library.Library exposes to
// CandidateState.IdentifyDuplicates (§4.B, §4.J). Only the
// {albumartist, album} key pair is modeled, matching the config default
// (§6.5); unsupported keys are ignored.
func (s *Store) QueryDuplicateAlbumIDs(ctx context.Context, albumArtist, album string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT al.id FROM album al
JOIN artist ar ON ar.id = al.artist_id
WHERE lower(ar.name) = lower($1) AND lower(al.title) = lower($2)`,
		albumArtist, album)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AlbumPaths returns the on-disk paths of every track in an album, used to
// detect the re-import case (existing album's files are a subset of the
// task's items).
func (s *Store) AlbumPaths(ctx context.Context, albumID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT path FROM track WHERE album_id = $1`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// RemoveAlbum deletes an album and its tracks (library adapter's Remove,
// after the caller has archived the audio files to object storage).
func (s *Store) RemoveAlbum(ctx context.Context, albumID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM album WHERE id = $1`, albumID)
	return err
}
