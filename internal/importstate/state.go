// Package importstate implements the SessionState/TaskState/CandidateState
// data model of spec §3-§4.B: the in-memory representation manipulated by
// stage workers, its invariants, and its schema-versioned serialization.
package importstate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orbimport/importsvc/internal/errorsx"
)

// CandidateState is one potential match for a task (§3).
type CandidateState struct {
	ID   string
	Type MatchType

	Album AlbumInfo
	Track TrackInfo

	Distance     float64
	Penalties    []string
	Mapping      map[int]int // local item index -> match track index
	DuplicateIDs []string
	IsAsis       bool

	CreatedAt time.Time
}

// IsAsisID reports whether id is a synthetic asis-candidate id.
func IsAsisID(id string) bool {
	return len(id) >= len(AsisCandidatePrefix) && id[:len(AsisCandidatePrefix)] == AsisCandidatePrefix
}

// TaskState is one album-scope work item within a session (§3).
type TaskState struct {
	ID       string
	Handle   TaskHandle
	Progress Progress

	Candidates        []*CandidateState
	ChosenCandidateID *string
	OldPaths          []string // set only after a file move (§3)
	CommittedAlbumID  string   // catalog album id written by CommitImport; undo's remove_library_entries key

	DuplicateAction DuplicateAction
	SearchIDs       []string
	SearchArtist    string
	SearchAlbum     string

	asisBuilt bool
}

// SetProgress advances the task's progress. p must be >= the current
// progress; violating this is a programming error per spec §4.B, not a
// recoverable runtime condition, so it panics (mirroring the source's
// "programming error" framing rather than returning an *errorsx.Error).
func (t *TaskState) SetProgress(p Progress) {
	if p < t.Progress {
		panic(fmt.Sprintf("importstate: task %s progress regression %s -> %s", t.ID, t.Progress, p))
	}
	t.Progress = p
}

// ResetProgress sets the task's progress without the forward-only check
// SetProgress enforces. The only legitimate caller is Undo: a successful
// deletion moves a task from IMPORT_COMPLETED back down to
// DELETION_COMPLETED so the folder can be re-imported from scratch (§4.E).
func (t *TaskState) ResetProgress(p Progress) {
	t.Progress = p
}

// AsisCandidate returns the synthetic "asis" candidate derived from
// on-disk metadata, constructing it once per task lifetime (§4.B).
func (t *TaskState) AsisCandidate() *CandidateState {
	for _, c := range t.Candidates {
		if c.IsAsis {
			return c
		}
	}
	mapping := make(map[int]int, len(t.Handle.Items))
	tracks := make([]TrackInfo, len(t.Handle.Items))
	for i, item := range t.Handle.Items {
		mapping[i] = i
		tracks[i] = TrackInfo{
			Title:       item.Title,
			Artist:      item.Artist,
			TrackNumber: item.TrackNumber,
			DiscNumber:  item.DiscNumber,
			Length:      item.DurationSec,
		}
	}
	c := &CandidateState{
		ID:     AsisCandidatePrefix + uuid.NewString(),
		Type:   MatchAlbum,
		IsAsis: true,
		Album: AlbumInfo{
			Album:  t.Handle.Metadata.Album,
			Artist: t.Handle.Metadata.AlbumArtist,
			Year:   t.Handle.Metadata.Year,
			Tracks: tracks,
		},
		Mapping:   mapping,
		CreatedAt: time.Now(),
	}
	t.Candidates = append(t.Candidates, c)
	t.asisBuilt = true
	return c
}

// AddCandidate appends a non-asis candidate, deduplicating by match id
// (§4.E AddCandidates: "merges new candidates into each task, deduplicated
// by match id").
func (t *TaskState) AddCandidate(c *CandidateState) (added bool) {
	for _, existing := range t.Candidates {
		if existing.Album.AlbumID != "" && existing.Album.AlbumID == c.Album.AlbumID {
			return false
		}
		if existing.Track.TrackID != "" && existing.Track.TrackID == c.Track.TrackID {
			return false
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	t.Candidates = append(t.Candidates, c)
	return true
}

// Candidate looks up a candidate by id within this task.
func (t *TaskState) Candidate(id string) (*CandidateState, bool) {
	for _, c := range t.Candidates {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// DuplicateQuerier is the narrow slice of the library adapter (§4.J) that
// candidate.IdentifyDuplicates needs: a duplicate lookup keyed by a
// configurable metadata-key list, and a check for the re-import case
// (existing items are a subset of this task's items).
type DuplicateQuerier interface {
	QueryDuplicateAlbumIDs(albumArtist, album string, keys []string) ([]string, error)
	AlbumIsSubsetOfPaths(albumID string, paths []string) (bool, error)
}

// IdentifyDuplicates runs the library's duplicate query using the
// candidate's metadata and a configurable key list, excluding albums whose
// files are a subset of this task's items (the re-import case). Per the
// Open Question decision in DESIGN.md, the asis candidate bypasses
// duplicate detection entirely.
func (c *CandidateState) IdentifyDuplicates(lib DuplicateQuerier, task *TaskState, keys []string) error {
	if c.IsAsis {
		c.DuplicateIDs = nil
		return nil
	}
	ids, err := lib.QueryDuplicateAlbumIDs(c.Album.Artist, c.Album.Album, keys)
	if err != nil {
		return err
	}
	var kept []string
	for _, id := range ids {
		isReimport, err := lib.AlbumIsSubsetOfPaths(id, task.Handle.Paths)
		if err != nil {
			return err
		}
		if !isReimport {
			kept = append(kept, id)
		}
	}
	c.DuplicateIDs = kept
	return nil
}

// SessionState is one execution of the import pipeline over one Folder
// (§3).
type SessionState struct {
	ID             string
	FolderHash     string
	FolderPath     string
	FolderRevision int

	Tasks []*TaskState

	Exc error // serialized error or nil (§3 invariant 8)

	CreatedAt time.Time
	UpdatedAt time.Time

	taskByKey map[string]*TaskState
}

// NewSession constructs a SessionState with an empty task list, snapshotting
// the folder's hash and path (§4.B NewSession).
func NewSession(folderHash, folderPath string) *SessionState {
	now := time.Now()
	return &SessionState{
		ID:         uuid.NewString(),
		FolderHash: folderHash,
		FolderPath: folderPath,
		CreatedAt:  now,
		UpdatedAt:  now,
		taskByKey:  make(map[string]*TaskState),
	}
}

// UpsertTask is idempotent by handle identity: it returns the existing
// task if one with the same handle already exists, or appends and returns
// a new one (§4.B, §8 idempotence property).
func (s *SessionState) UpsertTask(handle TaskHandle) *TaskState {
	if s.taskByKey == nil {
		s.taskByKey = make(map[string]*TaskState)
		for _, t := range s.Tasks {
			s.taskByKey[t.Handle.key()] = t
		}
	}
	k := handle.key()
	if t, ok := s.taskByKey[k]; ok {
		return t
	}
	t := &TaskState{ID: uuid.NewString(), Handle: handle}
	s.Tasks = append(s.Tasks, t)
	s.taskByKey[k] = t
	s.UpdatedAt = time.Now()
	return t
}

// Progress returns the minimum over task progresses, or NotStarted if the
// session has no tasks (§4.B, §3 invariant 1).
func (s *SessionState) Progress() Progress {
	ps := make([]Progress, len(s.Tasks))
	for i, t := range s.Tasks {
		ps[i] = t.Progress
	}
	return MinProgress(ps)
}

// Completed reports whether every task has reached the given terminal
// progress (IMPORT_COMPLETED for import variants, PREVIEW_COMPLETED for
// preview-only variants, DELETION_COMPLETED for undo) (§4.B).
func (s *SessionState) Completed(terminal Progress) bool {
	if len(s.Tasks) == 0 {
		return false
	}
	for _, t := range s.Tasks {
		if t.Progress < terminal {
			return false
		}
	}
	return true
}

// Fail assigns exc to the session, precluding further stage advancement
// (§3 invariant 8, §7 propagation policy).
func (s *SessionState) Fail(err error) {
	s.Exc = err
	s.UpdatedAt = time.Now()
}

// ClearFailure clears exc on a successful completion (§7 Recoverability).
func (s *SessionState) ClearFailure() {
	s.Exc = nil
	s.UpdatedAt = time.Now()
}

// Task looks up a task by id.
func (s *SessionState) Task(id string) (*TaskState, error) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, errorsx.NotFound("no task %q in session %s", id, s.ID)
}
