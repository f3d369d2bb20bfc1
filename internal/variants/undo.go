package variants

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/orbimport/importsvc/internal/errorsx"
	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/internal/library"
)

// Undo runs `remove_library_entries -> move_files_back_or_delete(delete_files)
// -> set_progress(DELETION_COMPLETED)` over every task of a session that
// finished ImportChosen/ImportAuto/ImportBootleg (§4.E). Precondition:
// session progress == IMPORT_COMPLETED and every task carries old_paths
// populated by the import it is undoing; a task with a chosen candidate but
// no recorded catalog entry means the catalog and the session have drifted,
// which is an IntegrityException rather than a silent no-op (§4.E, §7).
func Undo(ctx context.Context, lib *library.Library, session *importstate.SessionState, deleteFiles bool) error {
	if session.Progress() != importstate.ImportCompleted {
		return errorsx.InvalidUsage("Cannot undo if never imported")
	}

	for _, task := range session.Tasks {
		if err := undoOneTask(ctx, lib, session, task, deleteFiles); err != nil {
			session.Fail(err)
			return err
		}
	}
	session.ClearFailure()
	return nil
}

func undoOneTask(ctx context.Context, lib *library.Library, session *importstate.SessionState, task *importstate.TaskState, deleteFiles bool) error {
	if task.CommittedAlbumID == "" {
		// Task never wrote a catalog row (e.g. it was skipped via
		// duplicate_action=skip) — nothing to remove or move back.
		return nil
	}

	task.SetProgress(importstate.Deleting)

	if _, err := lib.QueryAlbum(ctx, task.CommittedAlbumID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errorsx.Integrity("album %s is missing from the catalog but task %s records it as imported", task.CommittedAlbumID, task.ID)
		}
		return fmt.Errorf("remove_library_entries: look up album %s: %w", task.CommittedAlbumID, err)
	}

	if err := lib.Remove(ctx, task.CommittedAlbumID, deleteFiles); err != nil {
		return fmt.Errorf("remove_library_entries: %w", err)
	}
	if _, err := lib.Plugins.Send(ctx, library.EventAlbumRemoved, session, task); err != nil {
		return err
	}

	if !deleteFiles {
		for i, item := range task.Handle.Items {
			if i >= len(task.OldPaths) {
				break
			}
			if err := lib.MoveBack(item, task.OldPaths[i]); err != nil {
				return fmt.Errorf("move_files_back_or_delete: %w", err)
			}
			if _, err := lib.Plugins.Send(ctx, library.EventItemRemoved, session, task); err != nil {
				return err
			}
		}
	}

	task.ResetProgress(importstate.DeletionCompleted)
	return nil
}
