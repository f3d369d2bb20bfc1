package importstate

// ItemInfo is the on-disk metadata for one audio file belonging to a task,
// as read by the (opaque, out-of-scope) tagging library. Modeled per
// SPEC_FULL §3 as a concrete struct carrying just the fields the core
// round-trips.
type ItemInfo struct {
	Path        string  `json:"path"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album"`
	AlbumArtist string  `json:"album_artist"`
	TrackNumber int     `json:"track_number"`
	DiscNumber  int     `json:"disc_number"`
	DurationSec float64 `json:"duration_sec"`
	Format      string  `json:"format"`
}

// Metadata is the "current_metadata" field of §6.4's SerializedTaskState —
// the task's on-disk metadata viewed as one album-level record.
type Metadata struct {
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtist string `json:"album_artist"`
	Year        int    `json:"year,omitempty"`
}

// AlbumInfo is an album-level candidate match payload (§3 CandidateState,
// §6.4 AlbumInfo).
type AlbumInfo struct {
	AlbumID     string      `json:"album_id"`
	Album       string      `json:"album"`
	Artist      string      `json:"artist"`
	ArtistID    string      `json:"artist_id,omitempty"`
	Year        int         `json:"year,omitempty"`
	Label       string      `json:"label,omitempty"`
	MediumCount int         `json:"medium_count,omitempty"`
	Tracks      []TrackInfo `json:"tracks,omitempty"`
}

// TrackInfo is a track-level candidate match payload (§3 CandidateState,
// §6.4 TrackInfo).
type TrackInfo struct {
	TrackID     string  `json:"track_id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	TrackNumber int     `json:"track_number"`
	DiscNumber  int     `json:"disc_number"`
	Length      float64 `json:"length,omitempty"`
}

// MatchType distinguishes an album-level candidate from a bare track-level
// one (§6.4 SerializedCandidateState.type).
type MatchType string

const (
	MatchAlbum MatchType = "album"
	MatchTrack MatchType = "track"
)

// TaskHandle is the opaque identity of one album-candidate-group as seen
// by the (out-of-scope) tagging library: its top path and the ordered
// paths of its items. Two handles are the same task iff TopPath and the
// joined Paths are equal — this is what UpsertTask dedupes on.
type TaskHandle struct {
	TopPath  string
	Paths    []string
	Items    []ItemInfo
	Metadata Metadata
}

func (h TaskHandle) key() string {
	k := h.TopPath + "\x00"
	for _, p := range h.Paths {
		k += p + "\x00"
	}
	return k
}

// DuplicateAction is the per-task policy for resolving a candidate that
// matches an existing library entry (§4.E ImportChosen, §GLOSSARY).
type DuplicateAction string

const (
	DupAsk    DuplicateAction = "ask"
	DupSkip   DuplicateAction = "skip"
	DupKeep   DuplicateAction = "keep"
	DupRemove DuplicateAction = "remove"
	DupMerge  DuplicateAction = "merge"
)

// CandidateChoice is how a caller selects a candidate for a task in
// ImportChosen (§4.E): either an explicit candidate id, or one of the two
// sentinels.
type CandidateChoice string

const (
	ChoiceBest CandidateChoice = "BEST"
	ChoiceAsis CandidateChoice = "ASIS"
)

// AsisCandidatePrefix is the literal prefix every synthetic candidate id
// begins with (§3 invariant 6, §8 testable property 6).
const AsisCandidatePrefix = "asis-"
