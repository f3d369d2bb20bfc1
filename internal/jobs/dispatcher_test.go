package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbimport/importsvc/internal/importstate"
)

func TestImportCandidatePayloadRoundTrips(t *testing.T) {
	p := importCandidatePayload{
		JobMeta:          JobMeta{FolderHash: "h1", FolderPath: "/music/a"},
		CandidateIDs:     map[string]string{"t1": "cand-1", "t2": "asis"},
		DuplicateActions: map[string]string{"t1": "keep"},
	}
	b, err := json.Marshal(p)
	require.NoError(t, err)

	var got importCandidatePayload
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, p, got)
}

func TestImportAutoPayloadRoundTrips(t *testing.T) {
	p := importAutoPayload{
		JobMeta:          JobMeta{FolderHash: "h2", FolderPath: "/music/b"},
		ImportThreshold:  0.15,
		DuplicateActions: map[string]string{"t1": "skip"},
	}
	b, err := json.Marshal(p)
	require.NoError(t, err)

	var got importAutoPayload
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, p, got)
}

func TestToChoicesConvertsStringMap(t *testing.T) {
	got := toChoices(map[string]string{"t1": "asis", "t2": "mbid-123"})
	assert.Equal(t, importstate.CandidateChoice("asis"), got["t1"])
	assert.Equal(t, importstate.CandidateChoice("mbid-123"), got["t2"])
}

func TestToDupActionsConvertsStringMap(t *testing.T) {
	got := toDupActions(map[string]string{"t1": "keep", "t2": "skip"})
	assert.Equal(t, importstate.DupKeep, got["t1"])
	assert.Equal(t, importstate.DupSkip, got["t2"])
}

func TestEnqueueKindsMapToDistinctTaskTypes(t *testing.T) {
	types := []string{
		typePreview,
		typePreviewAddCandidates,
		typeImportCandidate,
		typeImportAuto,
		typeImportBootleg,
		typeImportUndo,
	}
	seen := make(map[string]bool, len(types))
	for _, tt := range types {
		assert.False(t, seen[tt], "duplicate task type %q", tt)
		seen[tt] = true
	}
}

func TestQueueNamesAreDistinct(t *testing.T) {
	assert.NotEqual(t, QueuePreview, QueueImport)
}
