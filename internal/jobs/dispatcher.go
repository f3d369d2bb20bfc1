// Package jobs implements component F: the two-queue job dispatcher over
// asynq, the closed set of enqueue entry points, and the
// exception-as-value wrapper every worker function runs under (§4.F).
// Each handler sends its before/after folder status inline; no FAILED
// status is sent when a handler fails, and no PENDING status is sent at
// enqueue time.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/orbimport/importsvc/internal/errorsx"
	"github.com/orbimport/importsvc/internal/folderstatus"
	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/internal/library"
	"github.com/orbimport/importsvc/internal/pipeline"
	"github.com/orbimport/importsvc/internal/variants"
	"github.com/orbimport/importsvc/pkg/store"
)

// Dispatcher owns the asynq client used by the enqueue entry points and
// the dependencies every handler needs to run a session variant to
// completion.
type Dispatcher struct {
	client *asynq.Client
	repo   *repo
	lib    *library.Library
	status *folderstatus.Broadcaster

	searcher    variants.CandidateSearcher
	reader      variants.TaskReader
	mover       variants.FileMover
	libraryRoot string
}

// New builds a Dispatcher over an already-connected asynq.Client. rdb
// backs the repo's rkeys.CurrentSession cache; pass nil to disable it.
func New(client *asynq.Client, db *store.Store, rdb *redis.Client, lib *library.Library, status *folderstatus.Broadcaster, searcher variants.CandidateSearcher, reader variants.TaskReader, mover variants.FileMover, libraryRoot string) *Dispatcher {
	return &Dispatcher{
		client:      client,
		repo:        newRepo(db, rdb),
		lib:         lib,
		status:      status,
		searcher:    searcher,
		reader:      reader,
		mover:       mover,
		libraryRoot: libraryRoot,
	}
}

// Config returns the asynq.Config the worker process should start its
// asynq.Server with: the two named queues of §4.F, preview weighted 5:1
// above import. Concurrency is left at asynq's default, so several import
// tasks can run at the same time.
func Config() asynq.Config {
	return asynq.Config{
		Queues: map[string]int{
			QueuePreview: 5,
			QueueImport:  1,
		},
	}
}

// LoadSession returns the current persisted session for a folder hash, for
// read-only status queries (e.g. the HTTP session-state endpoint).
func (d *Dispatcher) LoadSession(ctx context.Context, folderHash string) (*importstate.SessionState, error) {
	return d.repo.Load(ctx, folderHash)
}

// RegisterHandlers wires every EnqueueKind's handler onto mux (the worker
// process calls this once before starting its asynq.Server).
func (d *Dispatcher) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(typePreview, d.handlePreview)
	mux.HandleFunc(typePreviewAddCandidates, d.handleAddCandidates)
	mux.HandleFunc(typeImportCandidate, d.handleImportCandidate)
	mux.HandleFunc(typeImportAuto, d.handleImportAuto)
	mux.HandleFunc(typeImportBootleg, d.handleImportBootleg)
	mux.HandleFunc(typeImportUndo, d.handleImportUndo)
}

func enqueue(ctx context.Context, client *asynq.Client, taskType, queue string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal payload: %w", err)
	}
	info, err := client.EnqueueContext(ctx, asynq.NewTask(taskType, b), asynq.Queue(queue))
	if err != nil {
		return "", fmt.Errorf("jobs: enqueue %s: %w", taskType, err)
	}
	return info.ID, nil
}

// EnqueuePreview enqueues PREVIEW (§4.F).
func (d *Dispatcher) EnqueuePreview(ctx context.Context, hash, path string) (string, error) {
	return enqueue(ctx, d.client, typePreview, QueuePreview, previewPayload{JobMeta{FolderHash: hash, FolderPath: path}})
}

// EnqueuePreviewAddCandidates enqueues PREVIEW_ADD_CANDIDATES (§4.F).
func (d *Dispatcher) EnqueuePreviewAddCandidates(ctx context.Context, hash, path string, searchIDs []string, searchArtist, searchAlbum string) (string, error) {
	return enqueue(ctx, d.client, typePreviewAddCandidates, QueuePreview, addCandidatesPayload{
		JobMeta:      JobMeta{FolderHash: hash, FolderPath: path},
		SearchIDs:    searchIDs,
		SearchArtist: searchArtist,
		SearchAlbum:  searchAlbum,
	})
}

// EnqueueImportCandidate enqueues IMPORT_CANDIDATE (§4.F).
func (d *Dispatcher) EnqueueImportCandidate(ctx context.Context, hash, path string, candidateIDs, duplicateActions map[string]string) (string, error) {
	return enqueue(ctx, d.client, typeImportCandidate, QueueImport, importCandidatePayload{
		JobMeta:          JobMeta{FolderHash: hash, FolderPath: path},
		CandidateIDs:     candidateIDs,
		DuplicateActions: duplicateActions,
	})
}

// EnqueueImportAuto enqueues IMPORT_AUTO (§4.F). The preview→import
// dependency is satisfied within a single handler (handleImportAuto) — if
// preview fails the handler returns before ImportChosen ever runs, giving
// the same "import never runs if preview fails" guarantee a two-job
// dependency chain would, without asynq task-dependency machinery this
// pack does not otherwise use.
func (d *Dispatcher) EnqueueImportAuto(ctx context.Context, hash, path string, threshold float64, duplicateActions map[string]string) (string, error) {
	return enqueue(ctx, d.client, typeImportAuto, QueueImport, importAutoPayload{
		JobMeta:          JobMeta{FolderHash: hash, FolderPath: path},
		ImportThreshold:  threshold,
		DuplicateActions: duplicateActions,
	})
}

// EnqueueImportBootleg enqueues IMPORT_BOOTLEG (§4.F).
func (d *Dispatcher) EnqueueImportBootleg(ctx context.Context, hash, path string) (string, error) {
	return enqueue(ctx, d.client, typeImportBootleg, QueueImport, importBootlegPayload{JobMeta{FolderHash: hash, FolderPath: path}})
}

// EnqueueImportUndo enqueues IMPORT_UNDO (§4.F).
func (d *Dispatcher) EnqueueImportUndo(ctx context.Context, hash, path string, deleteFiles bool) (string, error) {
	return enqueue(ctx, d.client, typeImportUndo, QueueImport, importUndoPayload{
		JobMeta:     JobMeta{FolderHash: hash, FolderPath: path},
		DeleteFiles: deleteFiles,
	})
}

// runGuarded wraps a worker body with the exception-as-value protocol
// (§4.F): a typed *errorsx.Error is persisted to the session and returned
// as the job's result via nil (asynq sees success — the failure lives in
// session.Exc), while an infrastructure error propagates unwrapped so
// asynq's normal retry applies.
func runGuarded(ctx context.Context, session *importstate.SessionState, repo *repo, fn func() error) error {
	err := fn()
	if err == nil {
		return repo.Save(ctx, session)
	}
	var typed *errorsx.Error
	if !errors.As(err, &typed) {
		// Not one of the taxonomy's kinds — treat as an infrastructure
		// failure and let asynq retry rather than recording it on the
		// session.
		return err
	}
	session.Fail(err)
	if saveErr := repo.Save(ctx, session); saveErr != nil {
		slog.Error("jobs: failed to persist session failure", "session", session.ID, "err", saveErr)
	}
	return nil
}

func runPreviewOrder(ctx context.Context, order *pipeline.StageOrder, tasks []*importstate.TaskState) error {
	producer := pipeline.NewSliceProducer(tasks)
	return pipeline.Run(ctx, producer, order, func(ctx context.Context, tasks []*importstate.TaskState) error {
		return nil
	})
}

func (d *Dispatcher) handlePreview(ctx context.Context, t *asynq.Task) error {
	var p previewPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("jobs: unmarshal preview payload: %w", err)
	}

	session := importstate.NewSession(p.FolderHash, p.FolderPath)
	if err := d.repo.Create(ctx, session); err != nil {
		return fmt.Errorf("jobs: create session: %w", err)
	}

	return runGuarded(ctx, session, d.repo, func() error {
		d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Previewing, nil)
		if _, err := variants.BuildTasks(ctx, d.reader, session, p.FolderPath); err != nil {
			return err
		}
		order := variants.Preview(d.searcher, d.lib)
		if err := runPreviewOrder(ctx, order, session.Tasks); err != nil {
			return err
		}
		return d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Tagged, nil)
	})
}

func (d *Dispatcher) handleAddCandidates(ctx context.Context, t *asynq.Task) error {
	var p addCandidatesPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("jobs: unmarshal add_candidates payload: %w", err)
	}
	session, err := d.repo.Load(ctx, p.FolderHash)
	if err != nil {
		return fmt.Errorf("jobs: load session: %w", err)
	}
	return runGuarded(ctx, session, d.repo, func() error {
		return variants.AddCandidates(ctx, d.searcher, session, p.SearchIDs, p.SearchArtist, p.SearchAlbum)
	})
}

func (d *Dispatcher) handleImportCandidate(ctx context.Context, t *asynq.Task) error {
	var p importCandidatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("jobs: unmarshal import_candidate payload: %w", err)
	}
	session, err := d.repo.Load(ctx, p.FolderHash)
	if err != nil {
		return fmt.Errorf("jobs: load session: %w", err)
	}
	return runGuarded(ctx, session, d.repo, func() error {
		d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Importing, nil)
		err := variants.ImportChosen(ctx, d.lib, d.mover, session, toChoices(p.CandidateIDs), toDupActions(p.DuplicateActions), d.libraryRoot)
		if err != nil {
			return err
		}
		return d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Imported, nil)
	})
}

func (d *Dispatcher) handleImportAuto(ctx context.Context, t *asynq.Task) error {
	var p importAutoPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("jobs: unmarshal import_auto payload: %w", err)
	}

	session := importstate.NewSession(p.FolderHash, p.FolderPath)
	if err := d.repo.Create(ctx, session); err != nil {
		return fmt.Errorf("jobs: create session: %w", err)
	}

	return runGuarded(ctx, session, d.repo, func() error {
		d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Previewing, nil)
		if _, err := variants.BuildTasks(ctx, d.reader, session, p.FolderPath); err != nil {
			return err
		}
		order := variants.Preview(d.searcher, d.lib)
		if err := runPreviewOrder(ctx, order, session.Tasks); err != nil {
			// Preview failed: the import half never runs (§4.F IMPORT_AUTO
			// "preview job's id is a dependency of the import job").
			return err
		}
		d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Importing, nil)
		if err := variants.RunImportAuto(ctx, d.lib, d.mover, session, p.ImportThreshold, toDupActions(p.DuplicateActions), d.libraryRoot); err != nil {
			return err
		}
		return d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Imported, nil)
	})
}

func (d *Dispatcher) handleImportBootleg(ctx context.Context, t *asynq.Task) error {
	var p importBootlegPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("jobs: unmarshal import_bootleg payload: %w", err)
	}

	session, err := d.repo.Load(ctx, p.FolderHash)
	if err != nil {
		session = importstate.NewSession(p.FolderHash, p.FolderPath)
		if err := d.repo.Create(ctx, session); err != nil {
			return fmt.Errorf("jobs: create session: %w", err)
		}
	}

	return runGuarded(ctx, session, d.repo, func() error {
		d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Importing, nil)
		err := variants.ImportBootleg(ctx, d.reader, d.lib, d.mover, session, p.FolderPath, d.libraryRoot)
		if err != nil {
			return err
		}
		return d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Imported, nil)
	})
}

func (d *Dispatcher) handleImportUndo(ctx context.Context, t *asynq.Task) error {
	var p importUndoPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("jobs: unmarshal import_undo payload: %w", err)
	}
	session, err := d.repo.Load(ctx, p.FolderHash)
	if err != nil {
		return fmt.Errorf("jobs: load session: %w", err)
	}
	return runGuarded(ctx, session, d.repo, func() error {
		d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Deleting, nil)
		if err := variants.Undo(ctx, d.lib, session, p.DeleteFiles); err != nil {
			return err
		}
		return d.status.Send(ctx, p.FolderHash, p.FolderPath, folderstatus.Deleted, nil)
	})
}

func toChoices(m map[string]string) variants.CandidateChoices {
	out := make(variants.CandidateChoices, len(m))
	for k, v := range m {
		out[k] = importstate.CandidateChoice(v)
	}
	return out
}

func toDupActions(m map[string]string) variants.DuplicateActions {
	out := make(variants.DuplicateActions, len(m))
	for k, v := range m {
		out[k] = importstate.DuplicateAction(v)
	}
	return out
}
