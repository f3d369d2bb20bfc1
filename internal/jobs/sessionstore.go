package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/pkg/rkeys"
	"github.com/orbimport/importsvc/pkg/store"
)

// currentSessionCacheTTL bounds how long rkeys.CurrentSession may serve a
// stale session id before falling back to Postgres — short enough that a
// missed cache invalidation self-heals quickly, long enough to absorb the
// repeated Load calls one job run makes.
const currentSessionCacheTTL = 10 * time.Minute

// repo persists/loads a *importstate.SessionState against pkg/store's
// row-level schema (§4.C), owning the JSON marshaling the row blobs hide.
// It lives alongside the dispatcher rather than in pkg/store because the
// SessionState<->row mapping is a domain concern, not a storage concern.
// rdb caches folder_hash -> current session id (rkeys.CurrentSession) so
// repeated Load calls against a busy folder skip the revision lookup
// query; it is advisory only, Postgres remains authoritative.
type repo struct {
	db  *store.Store
	rdb *redis.Client
}

func newRepo(db *store.Store, rdb *redis.Client) *repo { return &repo{db: db, rdb: rdb} }

func (r *repo) cacheCurrentSession(ctx context.Context, folderHash, sessionID string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Set(ctx, rkeys.CurrentSession(folderHash), sessionID, currentSessionCacheTTL).Err(); err != nil {
		slog.Warn("jobs: failed to cache current session id", "folder_hash", folderHash, "err", err)
	}
}

// Create snapshots a brand-new session: upserts its folder row, computes
// the next revision, and inserts the session row (no tasks yet — those
// come from the first BuildTasks call).
func (r *repo) Create(ctx context.Context, session *importstate.SessionState) error {
	if _, err := r.db.UpsertFolder(ctx, store.FolderRow{Hash: session.FolderHash, FullPath: session.FolderPath}); err != nil {
		return fmt.Errorf("jobs: upsert folder: %w", err)
	}
	rev, err := r.db.NextRevision(ctx, session.FolderHash)
	if err != nil {
		return fmt.Errorf("jobs: next revision: %w", err)
	}
	session.FolderRevision = rev
	if err := r.db.InsertSession(ctx, store.SessionRow{
		ID:             session.ID,
		FolderHash:     session.FolderHash,
		FolderRevision: session.FolderRevision,
		Progress:       int(session.Progress()),
		CreatedAt:      session.CreatedAt,
		UpdatedAt:      session.UpdatedAt,
	}); err != nil {
		return err
	}
	r.cacheCurrentSession(ctx, session.FolderHash, session.ID)
	return nil
}

// Save persists the session row plus every task and candidate it owns.
// Each task/candidate is inserted, or, when the insert fails, has its
// mutable columns updated (no diffing) — sessions are
// short-lived and owned by exactly one worker at a time (§3 invariant 7),
// so there is no concurrent writer to race against.
func (r *repo) Save(ctx context.Context, session *importstate.SessionState) error {
	var excBlob []byte
	if session.Exc != nil {
		b, err := json.Marshal(session.Exc.Error())
		if err == nil {
			excBlob = b
		}
	}
	if err := r.db.UpdateSession(ctx, store.SessionRow{
		ID:        session.ID,
		Progress:  int(session.Progress()),
		ExcBlob:   excBlob,
		UpdatedAt: session.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("jobs: update session: %w", err)
	}
	for _, task := range session.Tasks {
		if err := r.saveTask(ctx, session.ID, task); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) saveTask(ctx context.Context, sessionID string, task *importstate.TaskState) error {
	itemsBlob, err := json.Marshal(task.Handle.Items)
	if err != nil {
		return fmt.Errorf("jobs: marshal task items: %w", err)
	}
	pathsBlob, err := json.Marshal(task.Handle.Paths)
	if err != nil {
		return fmt.Errorf("jobs: marshal task paths: %w", err)
	}
	oldPathsBlob, err := json.Marshal(task.OldPaths)
	if err != nil {
		return fmt.Errorf("jobs: marshal task old paths: %w", err)
	}
	choice := ""
	if task.ChosenCandidateID != nil {
		choice = *task.ChosenCandidateID
	}
	row := store.TaskRow{
		ID:               task.ID,
		SessionID:        sessionID,
		Progress:         int(task.Progress),
		ItemsBlob:        itemsBlob,
		PathsBlob:        pathsBlob,
		OldPathsBlob:     oldPathsBlob,
		ChoiceFlag:       choice,
		CurArtist:        task.Handle.Metadata.AlbumArtist,
		CurAlbum:         task.Handle.Metadata.Album,
		CommittedAlbumID: task.CommittedAlbumID,
	}
	if err := r.db.InsertTask(ctx, row); err != nil {
		if err := r.db.UpdateTask(ctx, row); err != nil {
			return fmt.Errorf("jobs: upsert task: %w", err)
		}
	}
	for _, c := range task.Candidates {
		if err := r.saveCandidate(ctx, task.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) saveCandidate(ctx context.Context, taskID string, c *importstate.CandidateState) error {
	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("jobs: marshal candidate: %w", err)
	}
	if err := r.db.InsertCandidate(ctx, store.CandidateRow{
		ID:           c.ID,
		TaskID:       taskID,
		MatchBlob:    blob,
		DuplicateIDs: c.DuplicateIDs,
	}); err != nil {
		if err := r.db.UpdateCandidateDuplicateIDs(ctx, c.ID, c.DuplicateIDs); err != nil {
			return fmt.Errorf("jobs: upsert candidate: %w", err)
		}
	}
	return nil
}

// Load reconstructs a SessionState from its persisted rows, by the
// session's folder hash's current (highest-revision) row. It tries the
// rkeys.CurrentSession cache first, falling back to (and repopulating
// from) Postgres's revision query on a miss.
func (r *repo) Load(ctx context.Context, folderHash string) (*importstate.SessionState, error) {
	row, err := r.currentSessionRow(ctx, folderHash)
	if err != nil {
		return nil, err
	}
	folder, err := r.db.GetFolder(ctx, folderHash)
	if err != nil {
		return nil, fmt.Errorf("jobs: get folder: %w", err)
	}

	session := importstate.NewSession(folderHash, folder.FullPath)
	session.ID = row.ID
	session.FolderRevision = row.FolderRevision
	session.CreatedAt = row.CreatedAt
	session.UpdatedAt = row.UpdatedAt

	taskRows, err := r.db.ListTasks(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("jobs: list tasks: %w", err)
	}
	for _, tr := range taskRows {
		task, err := r.loadTask(ctx, tr)
		if err != nil {
			return nil, err
		}
		session.Tasks = append(session.Tasks, task)
	}
	return session, nil
}

// currentSessionRow resolves a folder hash's current session row, via the
// cached session id when present and valid, falling back to the
// authoritative revision query otherwise.
func (r *repo) currentSessionRow(ctx context.Context, folderHash string) (store.SessionRow, error) {
	if r.rdb != nil {
		if id, err := r.rdb.Get(ctx, rkeys.CurrentSession(folderHash)).Result(); err == nil {
			if row, err := r.db.GetSession(ctx, id); err == nil {
				return row, nil
			}
		}
	}
	row, err := r.db.CurrentSession(ctx, folderHash)
	if err != nil {
		return store.SessionRow{}, err
	}
	r.cacheCurrentSession(ctx, folderHash, row.ID)
	return row, nil
}

func (r *repo) loadTask(ctx context.Context, tr store.TaskRow) (*importstate.TaskState, error) {
	var items []importstate.ItemInfo
	if len(tr.ItemsBlob) > 0 {
		if err := json.Unmarshal(tr.ItemsBlob, &items); err != nil {
			return nil, fmt.Errorf("jobs: unmarshal task items: %w", err)
		}
	}
	var paths []string
	if len(tr.PathsBlob) > 0 {
		if err := json.Unmarshal(tr.PathsBlob, &paths); err != nil {
			return nil, fmt.Errorf("jobs: unmarshal task paths: %w", err)
		}
	}
	var oldPaths []string
	if len(tr.OldPathsBlob) > 0 {
		if err := json.Unmarshal(tr.OldPathsBlob, &oldPaths); err != nil {
			return nil, fmt.Errorf("jobs: unmarshal task old paths: %w", err)
		}
	}

	task := &importstate.TaskState{
		ID:       tr.ID,
		Progress: importstate.Progress(tr.Progress),
		OldPaths: oldPaths,
		Handle: importstate.TaskHandle{
			Items: items,
			Paths: paths,
			Metadata: importstate.Metadata{
				AlbumArtist: tr.CurArtist,
				Album:       tr.CurAlbum,
			},
		},
	}
	if tr.ChoiceFlag != "" {
		choice := tr.ChoiceFlag
		task.ChosenCandidateID = &choice
	}
	task.CommittedAlbumID = tr.CommittedAlbumID

	candRows, err := r.db.ListCandidates(ctx, tr.ID)
	if err != nil {
		return nil, fmt.Errorf("jobs: list candidates: %w", err)
	}
	for _, cr := range candRows {
		var c importstate.CandidateState
		if err := json.Unmarshal(cr.MatchBlob, &c); err != nil {
			return nil, fmt.Errorf("jobs: unmarshal candidate: %w", err)
		}
		c.DuplicateIDs = cr.DuplicateIDs
		task.Candidates = append(task.Candidates, &c)
	}
	return task, nil
}
