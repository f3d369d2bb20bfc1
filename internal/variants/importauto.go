package variants

import (
	"context"

	"github.com/orbimport/importsvc/internal/errorsx"
	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/internal/library"
)

// ImportAutoThresholdFailed is the terminal failure a task records when its
// chosen candidate's distance exceeds the configured threshold (§4.E
// ImportAuto: "the task terminates in FAILED and the session stores the
// failure").
type ImportAutoThresholdFailed struct {
	TaskID   string
	Distance float64
	Threshold float64
}

func (e *ImportAutoThresholdFailed) Error() string {
	return "import_auto: candidate distance exceeds threshold for task " + e.TaskID
}

// ApplyAutoChoices selects BEST for every task whose top candidate's
// distance is <= threshold, producing the CandidateChoices ImportChosen
// needs; a task that fails the threshold check is left unset and reported
// in the returned failures slice so the caller can fail the session
// without aborting tasks that did pass (§4.E: "If threshold-check fails,
// the task terminates in FAILED").
func ApplyAutoChoices(session *importstate.SessionState, threshold float64) (CandidateChoices, []*ImportAutoThresholdFailed) {
	choices := make(CandidateChoices, len(session.Tasks))
	var failures []*ImportAutoThresholdFailed

	for _, task := range session.Tasks {
		best, err := bestCandidate(task)
		if err != nil || best.Distance > threshold {
			d := -1.0
			if best != nil {
				d = best.Distance
			}
			failures = append(failures, &ImportAutoThresholdFailed{TaskID: task.ID, Distance: d, Threshold: threshold})
			continue
		}
		choices[task.ID] = importstate.CandidateChoice(best.ID)
	}
	return choices, failures
}

// RunImportAuto is the import half of IMPORT_AUTO: the caller runs Preview
// first and calls it only if preview succeeded (internal/jobs does both
// halves in one handler). It applies threshold-gated BEST choices, runs
// ImportChosen for the tasks that passed, moves the tasks that failed the
// threshold to MATCH_THRESHOLD, and then returns a NoCandidatesFound error
// for the first failure, which the dispatcher stores on the session.
func RunImportAuto(ctx context.Context, lib *library.Library, mover FileMover, session *importstate.SessionState, threshold float64, dupActions DuplicateActions, libraryRoot string) error {
	choices, failures := ApplyAutoChoices(session, threshold)
	if len(choices) > 0 {
		if err := ImportChosen(ctx, lib, mover, session, choices, dupActions, libraryRoot); err != nil {
			return err
		}
	}
	for _, f := range failures {
		task, err := session.Task(f.TaskID)
		if err != nil {
			continue
		}
		task.SetProgress(importstate.MatchThreshold)
	}
	if len(failures) > 0 {
		f := failures[0]
		return errorsx.NoCandidatesFound("%s (distance %.3f, threshold %.3f)", f.Error(), f.Distance, f.Threshold).Wrap(f)
	}
	return nil
}
