package variants

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/orbimport/importsvc/internal/errorsx"
	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/internal/library"
)

// CandidateChoices maps a task id to a CandidateChoice. The wildcard key
// "*" applies to every task; explicit task-id entries override it (§4.E).
type CandidateChoices map[string]importstate.CandidateChoice

// DuplicateActions maps a task id to a DuplicateAction, with the same
// wildcard-then-override rule as CandidateChoices (§4.E).
type DuplicateActions map[string]importstate.DuplicateAction

func (c CandidateChoices) resolve(taskID string) (importstate.CandidateChoice, bool) {
	if v, ok := c[taskID]; ok {
		return v, true
	}
	v, ok := c["*"]
	return v, ok
}

func (d DuplicateActions) resolve(taskID string) importstate.DuplicateAction {
	if v, ok := d[taskID]; ok {
		return v
	}
	if v, ok := d["*"]; ok {
		return v
	}
	return importstate.DupAsk
}

// FileMover abstracts the on-disk move manipulate_files performs, so tests
// can substitute an in-memory fake instead of touching the filesystem.
type FileMover interface {
	Move(oldPath, newPath string) error
}

// ImportChosen runs `set_choices -> apply -> manipulate_files ->
// set_progress(IMPORT_COMPLETED)` over every task in a completed preview
// session (§4.E). Precondition: every task at PREVIEW_COMPLETED; a task at
// any other progress (including an already imported one) returns an
// InvalidUsage error "Cannot redo imports. Try undo and/or retag!". Commits are
// per-task (Open Question decision, DESIGN.md): one task's failure does
// not roll back another's.
func ImportChosen(ctx context.Context, lib *library.Library, mover FileMover, session *importstate.SessionState, choices CandidateChoices, dupActions DuplicateActions, libraryRoot string) error {
	for _, task := range session.Tasks {
		if task.Progress != importstate.PreviewCompleted {
			return errorsx.InvalidUsage("Cannot redo imports. Try undo and/or retag!")
		}
	}
	return runImport(ctx, lib, mover, session, choices, dupActions, libraryRoot)
}

// runImport is the shared commit loop behind ImportChosen and
// ImportBootleg; the two differ only in precondition (bootleg never went
// through preview, so it skips the PREVIEW_COMPLETED check).
func runImport(ctx context.Context, lib *library.Library, mover FileMover, session *importstate.SessionState, choices CandidateChoices, dupActions DuplicateActions, libraryRoot string) error {
	for _, task := range session.Tasks {
		choice, ok := choices.resolve(task.ID)
		if !ok {
			continue
		}
		if err := importOneTask(ctx, lib, mover, session, task, choice, dupActions.resolve(task.ID), libraryRoot); err != nil {
			session.Fail(err)
			return err
		}
	}
	session.ClearFailure()
	return nil
}

func importOneTask(ctx context.Context, lib *library.Library, mover FileMover, session *importstate.SessionState, task *importstate.TaskState, choice importstate.CandidateChoice, dupAction importstate.DuplicateAction, libraryRoot string) error {
	if _, err := lib.Plugins.Send(ctx, library.EventImportTaskBeforeChoice, session, task); err != nil {
		return err
	}

	candidate, err := resolveChoice(task, choice)
	if err != nil {
		return err
	}
	task.ChosenCandidateID = &candidate.ID
	task.DuplicateAction = dupAction
	task.SetProgress(importstate.EarlyImporting)

	if _, err := lib.Plugins.Send(ctx, library.EventImportTaskChoice, session, task); err != nil {
		return err
	}

	task.SetProgress(importstate.Importing)
	items, albumID, err := lib.CommitImport(ctx, task, candidate, dupAction)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if items == nil && dupAction == importstate.DupSkip {
		task.SetProgress(importstate.ImportCompleted)
		return nil
	}
	task.CommittedAlbumID = albumID

	if _, err := lib.Plugins.Send(ctx, library.EventImportTaskApply, session, task); err != nil {
		return err
	}

	task.SetProgress(importstate.ManipulatingFiles)
	oldPaths := make([]string, len(items))
	for i, item := range items {
		dest := filepath.Join(libraryRoot, candidate.Album.Artist, candidate.Album.Album, filepath.Base(item.Path))
		if err := mover.Move(item.Path, dest); err != nil {
			return fmt.Errorf("manipulate_files: move %s: %w", item.Path, err)
		}
		oldPaths[i] = item.Path
	}
	task.OldPaths = oldPaths

	task.SetProgress(importstate.ImportCompleted)
	return nil
}

func resolveChoice(task *importstate.TaskState, choice importstate.CandidateChoice) (*importstate.CandidateState, error) {
	switch choice {
	case importstate.ChoiceAsis:
		return task.AsisCandidate(), nil
	case importstate.ChoiceBest:
		return bestCandidate(task)
	default:
		c, ok := task.Candidate(string(choice))
		if !ok {
			return nil, errorsx.NotFound("candidate %q not found in task %s", choice, task.ID)
		}
		return c, nil
	}
}

func bestCandidate(task *importstate.TaskState) (*importstate.CandidateState, error) {
	var best *importstate.CandidateState
	for _, c := range task.Candidates {
		if c.IsAsis {
			continue
		}
		if best == nil || c.Distance < best.Distance {
			best = c
		}
	}
	if best == nil {
		return nil, errorsx.NoCandidatesFound("no non-asis candidates available for task %s", task.ID)
	}
	return best, nil
}
