package variants

import (
	"context"
	"fmt"

	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/internal/library"
)

// ImportBootleg runs `read_tasks -> group_albums -> choose asis for every
// task -> apply -> manipulate_files` with no metadata lookup (§4.E). It
// does not create the session: the dispatcher entry point constructs it
// and passes it in.
func ImportBootleg(ctx context.Context, reader TaskReader, lib *library.Library, mover FileMover, session *importstate.SessionState, folderPath, libraryRoot string) error {
	tasks, err := BuildTasks(ctx, reader, session, folderPath)
	if err != nil {
		return fmt.Errorf("import_bootleg: %w", err)
	}

	for _, t := range tasks {
		t.SetProgress(importstate.PreviewCompleted)
	}

	choices := CandidateChoices{"*": importstate.ChoiceAsis}
	return runImport(ctx, lib, mover, session, choices, DuplicateActions{"*": importstate.DupKeep}, libraryRoot)
}
