package store

import "time"

// FolderRow is the persisted form of a Folder (§3 FolderRecord): hash is
// the primary key, so the same content under different paths resolves to
// one record; the newest path wins on conflict.
type FolderRow struct {
	Hash     string `json:"hash"`
	FullPath string `json:"full_path"`
	IsAlbum  bool   `json:"is_album"`
}

// SessionRow is the persisted form of a SessionState (§4.C).
type SessionRow struct {
	ID             string     `json:"id"`
	FolderHash     string     `json:"folder_hash"`
	FolderRevision int        `json:"folder_revision"`
	Progress       int        `json:"progress"`
	ExcBlob        []byte     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TaskRow is the persisted form of a TaskState (§4.C).
type TaskRow struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	Progress      int    `json:"progress"`
	ItemsBlob     []byte `json:"-"`
	PathsBlob     []byte `json:"-"`
	OldPathsBlob  []byte `json:"-"`
	ChoiceFlag       string `json:"choice_flag"`
	CurArtist        string `json:"cur_artist"`
	CurAlbum         string `json:"cur_album"`
	CommittedAlbumID string `json:"committed_album_id"`
}

// CandidateRow is the persisted form of a CandidateState (§4.C).
type CandidateRow struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"task_id"`
	MatchBlob     []byte   `json:"-"`
	DuplicateIDs  []string `json:"duplicate_ids"`
}

// Artist, Album, and Track back the minimal library surface internal/library
// queries against for duplicate detection and commit (§4.J). These are
// deliberately narrow compared to a full catalog schema — the real catalog
// lives in the opaque out-of-scope library the core only calls through
// internal/library.DuplicateQuerier / CommitTarget.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mbid string `json:"mbid,omitempty"`
}

type Album struct {
	ID          string `json:"id"`
	ArtistID    string `json:"artist_id"`
	ArtistName  string `json:"artist_name"`
	Title       string `json:"title"`
	ReleaseYear int    `json:"release_year,omitempty"`
	Label       string `json:"label,omitempty"`
	Mbid        string `json:"mbid,omitempty"`
}

type Track struct {
	ID          string  `json:"id"`
	AlbumID     string  `json:"album_id"`
	Title       string  `json:"title"`
	TrackNumber int     `json:"track_number"`
	DiscNumber  int      `json:"disc_number"`
	Path        string  `json:"path"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}
