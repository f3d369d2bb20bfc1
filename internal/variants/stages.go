// Package variants implements component E: the stage lists for the six
// session variants (preview, add-candidates, import-chosen, import-auto,
// import-bootleg, undo) and the rules distinguishing them.
package variants

import (
	"context"
	"fmt"

	"github.com/orbimport/importsvc/internal/errorsx"
	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/internal/library"
	"github.com/orbimport/importsvc/internal/pipeline"
)

// CandidateSearcher is the narrow capability AddCandidates and the
// candidate-lookup stages in Preview/ImportAuto need: a targeted search
// returning candidate matches for a task's metadata. It is implemented by
// internal/mbcandidates and mocked in tests.
type CandidateSearcher interface {
	Search(ctx context.Context, artist, album string, searchIDs []string) ([]*importstate.CandidateState, error)
}

// TaskReader produces the initial task list for a folder (the opaque
// tagging library's read_tasks + group_albums stages, §4.A/§4.E). The
// implementation in internal/tagreader walks the folder and groups files
// into one TaskHandle per directory that directly holds audio files, so
// each disc subfolder of a multi-disc album becomes its own task; the
// fingerprinter is used only to decide what counts as an audio file.
type TaskReader interface {
	ReadTasks(ctx context.Context, folderPath string) ([]importstate.TaskHandle, error)
}

// BuildTasks runs the reader directly (outside the stage protocol, since
// it is the producer rather than a transform stage) and upserts the
// resulting handles into session, returning the tasks in reader order —
// this is the Preview/ImportBootleg variants' read_tasks + group_albums
// pair (§4.E).
func BuildTasks(ctx context.Context, reader TaskReader, session *importstate.SessionState, folderPath string) ([]*importstate.TaskState, error) {
	handles, err := reader.ReadTasks(ctx, folderPath)
	if err != nil {
		return nil, fmt.Errorf("variants: read_tasks: %w", err)
	}
	tasks := make([]*importstate.TaskState, 0, len(handles))
	for _, h := range handles {
		t := session.UpsertTask(h)
		t.SetProgress(importstate.ReadingFiles)
		t.SetProgress(importstate.GroupingAlbums)
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func lookupCandidatesStage(searcher CandidateSearcher) pipeline.Stage {
	return pipeline.NewStageFunc("lookup_candidates", func(ctx context.Context, task *importstate.TaskState) ([]*importstate.TaskState, error) {
		task.SetProgress(importstate.LookingUpCandidates)
		task.AsisCandidate()
		found, err := searcher.Search(ctx, task.Handle.Metadata.AlbumArtist, task.Handle.Metadata.Album, task.SearchIDs)
		if err != nil {
			return nil, fmt.Errorf("lookup_candidates: %w", err)
		}
		for _, c := range found {
			task.AddCandidate(c)
		}
		return []*importstate.TaskState{task}, nil
	})
}

func identifyDuplicatesStage(lib importstate.DuplicateQuerier) pipeline.Stage {
	return pipeline.NewStageFunc("identify_duplicates", func(ctx context.Context, task *importstate.TaskState) ([]*importstate.TaskState, error) {
		task.SetProgress(importstate.IdentifyingDuplicates)
		for _, c := range task.Candidates {
			if err := c.IdentifyDuplicates(lib, task, library.DuplicateKeys); err != nil {
				return nil, fmt.Errorf("identify_duplicates: %w", err)
			}
		}
		return []*importstate.TaskState{task}, nil
	})
}

// Preview assembles `read_tasks -> [group_albums] -> lookup_candidates ->
// identify_duplicates -> set_progress(PREVIEW_COMPLETED)` (§4.E). The
// producer side (read_tasks/group_albums) runs via BuildTasks before this
// StageOrder executes, since it materializes the task list rather than
// transforming an existing one.
func Preview(searcher CandidateSearcher, lib importstate.DuplicateQuerier) *pipeline.StageOrder {
	return pipeline.NewStageOrder(
		lookupCandidatesStage(searcher),
		identifyDuplicatesStage(lib),
		pipeline.SetProgress("complete", importstate.PreviewCompleted, nil),
	)
}

// AddCandidates runs a targeted lookup for each search spec and merges new
// candidates into each task, deduplicated by match id (§4.E). Precondition:
// session progress >= PREVIEW_COMPLETED.
func AddCandidates(ctx context.Context, searcher CandidateSearcher, session *importstate.SessionState, searchIDs []string, searchArtist, searchAlbum string) error {
	if session.Progress() < importstate.PreviewCompleted {
		return errorsx.InvalidUsage("session %s has not completed preview (progress=%s)", session.ID, session.Progress())
	}
	for _, task := range session.Tasks {
		artist := searchArtist
		if artist == "" {
			artist = task.Handle.Metadata.AlbumArtist
		}
		album := searchAlbum
		if album == "" {
			album = task.Handle.Metadata.Album
		}
		found, err := searcher.Search(ctx, artist, album, searchIDs)
		if err != nil {
			return fmt.Errorf("variants: add_candidates search: %w", err)
		}
		for _, c := range found {
			task.AddCandidate(c)
		}
	}
	return nil
}
