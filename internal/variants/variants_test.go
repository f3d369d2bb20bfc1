package variants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbimport/importsvc/internal/importstate"
)

func TestCandidateChoicesResolveWildcardThenOverride(t *testing.T) {
	c := CandidateChoices{"*": importstate.ChoiceAsis, "t2": importstate.ChoiceBest}

	v, ok := c.resolve("t1")
	require.True(t, ok)
	assert.Equal(t, importstate.ChoiceAsis, v)

	v, ok = c.resolve("t2")
	require.True(t, ok)
	assert.Equal(t, importstate.ChoiceBest, v)
}

func TestCandidateChoicesResolveMissingIsSkipped(t *testing.T) {
	c := CandidateChoices{"t2": importstate.ChoiceBest}
	_, ok := c.resolve("t1")
	assert.False(t, ok)
}

func TestDuplicateActionsResolveDefaultsToAsk(t *testing.T) {
	var d DuplicateActions
	assert.Equal(t, importstate.DupAsk, d.resolve("t1"))

	d = DuplicateActions{"*": importstate.DupKeep, "t2": importstate.DupSkip}
	assert.Equal(t, importstate.DupKeep, d.resolve("t1"))
	assert.Equal(t, importstate.DupSkip, d.resolve("t2"))
}

func taskWithCandidates(candidates ...*importstate.CandidateState) *importstate.TaskState {
	t := &importstate.TaskState{ID: "t1"}
	for _, c := range candidates {
		t.AddCandidate(c)
	}
	return t
}

func TestBestCandidatePicksLowestDistanceExcludingAsis(t *testing.T) {
	task := taskWithCandidates(
		&importstate.CandidateState{ID: "asis-1", IsAsis: true, Distance: 0},
		&importstate.CandidateState{ID: "c1", Distance: 0.4, Album: importstate.AlbumInfo{AlbumID: "c1"}},
		&importstate.CandidateState{ID: "c2", Distance: 0.1, Album: importstate.AlbumInfo{AlbumID: "c2"}},
	)

	best, err := bestCandidate(task)
	require.NoError(t, err)
	assert.Equal(t, "c2", best.ID)
}

func TestBestCandidateErrorsWithNoNonAsisCandidates(t *testing.T) {
	task := taskWithCandidates(&importstate.CandidateState{ID: "asis-1", IsAsis: true})
	_, err := bestCandidate(task)
	assert.Error(t, err)
}

func TestResolveChoiceAsis(t *testing.T) {
	task := &importstate.TaskState{
		ID:     "t1",
		Handle: importstate.TaskHandle{Items: []importstate.ItemInfo{{Path: "a.mp3"}}},
	}
	c, err := resolveChoice(task, importstate.ChoiceAsis)
	require.NoError(t, err)
	assert.True(t, c.IsAsis)
}

func TestResolveChoiceExplicitID(t *testing.T) {
	task := taskWithCandidates(&importstate.CandidateState{ID: "c1", Album: importstate.AlbumInfo{AlbumID: "c1"}})
	c, err := resolveChoice(task, importstate.CandidateChoice("c1"))
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
}

func TestResolveChoiceUnknownIDErrors(t *testing.T) {
	task := taskWithCandidates(&importstate.CandidateState{ID: "c1", Album: importstate.AlbumInfo{AlbumID: "c1"}})
	_, err := resolveChoice(task, importstate.CandidateChoice("missing"))
	assert.Error(t, err)
}

func TestApplyAutoChoicesSplitsByThreshold(t *testing.T) {
	session := importstate.NewSession("hash", "/music")
	good := session.UpsertTask(importstate.TaskHandle{TopPath: "/music/good"})
	good.AddCandidate(&importstate.CandidateState{ID: "g1", Distance: 0.05, Album: importstate.AlbumInfo{AlbumID: "g1"}})
	bad := session.UpsertTask(importstate.TaskHandle{TopPath: "/music/bad"})
	bad.AddCandidate(&importstate.CandidateState{ID: "b1", Distance: 0.9, Album: importstate.AlbumInfo{AlbumID: "b1"}})

	choices, failures := ApplyAutoChoices(session, 0.2)

	require.Len(t, failures, 1)
	assert.Equal(t, bad.ID, failures[0].TaskID)
	c, ok := choices[good.ID]
	require.True(t, ok)
	assert.Equal(t, importstate.CandidateChoice("g1"), c)
	_, ok = choices[bad.ID]
	assert.False(t, ok)
}

func TestBuildTasksAdvancesProgress(t *testing.T) {
	session := importstate.NewSession("hash", "/music")
	reader := fakeTaskReader{handles: []importstate.TaskHandle{{TopPath: "/music/a", Paths: []string{"/music/a/1.mp3"}}}}

	tasks, err := BuildTasks(context.Background(), reader, session, "/music")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, importstate.GroupingAlbums, tasks[0].Progress)
}

type fakeTaskReader struct {
	handles []importstate.TaskHandle
	err     error
}

func (f fakeTaskReader) ReadTasks(ctx context.Context, folderPath string) ([]importstate.TaskHandle, error) {
	return f.handles, f.err
}
