package importstate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handleFor(top string, paths ...string) TaskHandle {
	items := make([]ItemInfo, len(paths))
	for i, p := range paths {
		items[i] = ItemInfo{Path: p, Title: "t" + itoa(i)}
	}
	return TaskHandle{TopPath: top, Paths: paths, Items: items, Metadata: Metadata{Artist: "A", Album: "B"}}
}

func TestNewSessionEmptyProgressIsNotStarted(t *testing.T) {
	s := NewSession("h1", "/inbox/a")
	assert.Equal(t, NotStarted, s.Progress())
	assert.False(t, s.Completed(PreviewCompleted))
}

func TestUpsertTaskIdempotentByHandleIdentity(t *testing.T) {
	s := NewSession("h1", "/inbox/a")
	h := handleFor("/inbox/a", "/inbox/a/01.flac", "/inbox/a/02.flac")

	t1 := s.UpsertTask(h)
	t2 := s.UpsertTask(h)

	assert.Same(t, t1, t2)
	assert.Len(t, s.Tasks, 1)
}

func TestUpsertTaskDistinctHandlesAppend(t *testing.T) {
	s := NewSession("h1", "/inbox/a")
	s.UpsertTask(handleFor("/inbox/a/disc1", "/inbox/a/disc1/01.flac"))
	s.UpsertTask(handleFor("/inbox/a/disc2", "/inbox/a/disc2/01.flac"))
	assert.Len(t, s.Tasks, 2)
}

func TestSessionProgressIsMinOfTasks(t *testing.T) {
	s := NewSession("h1", "/inbox/a")
	t1 := s.UpsertTask(handleFor("/inbox/a/1", "/inbox/a/1/01.flac"))
	t2 := s.UpsertTask(handleFor("/inbox/a/2", "/inbox/a/2/01.flac"))

	t1.SetProgress(Importing)
	t2.SetProgress(ReadingFiles)

	assert.Equal(t, ReadingFiles, s.Progress())
}

func TestSetProgressRegressionPanics(t *testing.T) {
	task := &TaskState{}
	task.SetProgress(GroupingAlbums)
	assert.Panics(t, func() { task.SetProgress(ReadingFiles) })
}

func TestSetProgressSameValueIsFine(t *testing.T) {
	task := &TaskState{}
	task.SetProgress(GroupingAlbums)
	assert.NotPanics(t, func() { task.SetProgress(GroupingAlbums) })
}

func TestAsisCandidateConstructedOnce(t *testing.T) {
	task := &TaskState{Handle: handleFor("/inbox/a", "/inbox/a/01.flac")}
	c1 := task.AsisCandidate()
	c2 := task.AsisCandidate()

	assert.Same(t, c1, c2)
	assert.Len(t, task.Candidates, 1)
	assert.True(t, strings.HasPrefix(c1.ID, AsisCandidatePrefix))
	assert.True(t, IsAsisID(c1.ID))
}

func TestAsisCandidateMapsEveryItem(t *testing.T) {
	task := &TaskState{Handle: handleFor("/inbox/a", "/inbox/a/01.flac", "/inbox/a/02.flac")}
	c := task.AsisCandidate()
	require.Len(t, c.Mapping, 2)
	assert.Equal(t, 0, c.Mapping[0])
	assert.Equal(t, 1, c.Mapping[1])
}

func TestAddCandidateDeduplicatesByAlbumID(t *testing.T) {
	task := &TaskState{}
	added1 := task.AddCandidate(&CandidateState{Album: AlbumInfo{AlbumID: "mb-1"}})
	added2 := task.AddCandidate(&CandidateState{Album: AlbumInfo{AlbumID: "mb-1"}})

	assert.True(t, added1)
	assert.False(t, added2)
	assert.Len(t, task.Candidates, 1)
}

func TestCandidateLookup(t *testing.T) {
	task := &TaskState{}
	task.AddCandidate(&CandidateState{ID: "c1"})
	c, ok := task.Candidate("c1")
	assert.True(t, ok)
	assert.Equal(t, "c1", c.ID)

	_, ok = task.Candidate("missing")
	assert.False(t, ok)
}

type fakeDuplicateQuerier struct {
	ids        []string
	subsetOf   map[string]bool
	err        error
}

func (f *fakeDuplicateQuerier) QueryDuplicateAlbumIDs(albumArtist, album string, keys []string) ([]string, error) {
	return f.ids, f.err
}

func (f *fakeDuplicateQuerier) AlbumIsSubsetOfPaths(albumID string, paths []string) (bool, error) {
	return f.subsetOf[albumID], nil
}

func TestIdentifyDuplicatesSkipsReimports(t *testing.T) {
	task := &TaskState{Handle: handleFor("/inbox/a", "/inbox/a/01.flac")}
	lib := &fakeDuplicateQuerier{ids: []string{"dup-1", "dup-2"}, subsetOf: map[string]bool{"dup-2": true}}
	c := &CandidateState{Album: AlbumInfo{Artist: "A", Album: "B"}}

	err := c.IdentifyDuplicates(lib, task, []string{"albumartist", "album"})

	require.NoError(t, err)
	assert.Equal(t, []string{"dup-1"}, c.DuplicateIDs)
}

func TestIdentifyDuplicatesBypassedForAsis(t *testing.T) {
	task := &TaskState{Handle: handleFor("/inbox/a", "/inbox/a/01.flac")}
	c := task.AsisCandidate()
	lib := &fakeDuplicateQuerier{ids: []string{"dup-1"}}

	err := c.IdentifyDuplicates(lib, task, []string{"albumartist", "album"})

	require.NoError(t, err)
	assert.Empty(t, c.DuplicateIDs)
}

func TestSessionFailSetsAndClearsExc(t *testing.T) {
	s := NewSession("h1", "/inbox/a")
	s.Fail(assertErr)
	assert.Error(t, s.Exc)
	s.ClearFailure()
	assert.NoError(t, s.Exc)
}

var assertErr = &testError{}

type testError struct{}

func (*testError) Error() string { return "boom" }

func TestSessionCompletedRequiresAllTasksAtTerminal(t *testing.T) {
	s := NewSession("h1", "/inbox/a")
	t1 := s.UpsertTask(handleFor("/inbox/a/1", "/inbox/a/1/01.flac"))
	t2 := s.UpsertTask(handleFor("/inbox/a/2", "/inbox/a/2/01.flac"))

	t1.SetProgress(ImportCompleted)
	assert.False(t, s.Completed(ImportCompleted))

	t2.SetProgress(ImportCompleted)
	assert.True(t, s.Completed(ImportCompleted))
}

func TestProgressStringClampsOutOfRange(t *testing.T) {
	assert.Equal(t, "NOT_STARTED", Progress(-5).String())
	assert.Equal(t, "DELETING", Progress(999).String())
}

func TestProgressAddClamps(t *testing.T) {
	assert.Equal(t, NotStarted, NotStarted.Add(-3))
	assert.Equal(t, Deleting, Deleting.Add(3))
}

func TestMinProgressEmpty(t *testing.T) {
	assert.Equal(t, NotStarted, MinProgress(nil))
}

func TestSerializeCarriesCoreFields(t *testing.T) {
	s := NewSession("h1", "/inbox/a")
	s.FolderRevision = 2
	task := s.UpsertTask(handleFor("/inbox/a", "/inbox/a/01.flac"))
	task.AsisCandidate()
	task.SetProgress(PreviewCompleted)

	wire := Serialize(s, PreviewCompleted, "done", "")

	assert.Equal(t, s.ID, wire.ID)
	assert.Equal(t, "h1", wire.FolderHash)
	assert.Equal(t, 2, wire.FolderRevision)
	assert.True(t, wire.Completed)
	require.Len(t, wire.Tasks, 1)
	assert.NotEmpty(t, wire.Tasks[0].AsisCandidate)
	assert.True(t, strings.HasPrefix(wire.Tasks[0].AsisCandidate, AsisCandidatePrefix))
}

func TestEncodeDecodeBytesRoundTrip(t *testing.T) {
	s, isB64 := EncodeBytes([]byte("hello"))
	assert.False(t, isB64)
	back, err := DecodeBytes(s, isB64)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(back))

	nonUTF8 := []byte{0xff, 0xfe, 0x00}
	s2, isB64_2 := EncodeBytes(nonUTF8)
	assert.True(t, isB64_2)
	back2, err := DecodeBytes(s2, isB64_2)
	require.NoError(t, err)
	assert.Equal(t, nonUTF8, back2)
}
