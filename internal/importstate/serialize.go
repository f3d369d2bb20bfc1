package importstate

import (
	"encoding/base64"
	"unicode/utf8"

	"github.com/orbimport/importsvc/internal/errorsx"
)

// SchemaVersion identifies the shape of the Serialized* structs below. Keys
// are kept stable across versions; this only bumps when a key's meaning
// changes incompatibly (§6.4: "Schema (keys stable across versions)").
const SchemaVersion = 1

// SerializedProgressState is the status field of SerializedSessionState.
type SerializedProgressState struct {
	Progress   string `json:"progress"`
	Message    string `json:"message,omitempty"`
	PluginName string `json:"plugin_name,omitempty"`
}

// SerializedCandidateState is the wire form of a CandidateState (§6.4).
type SerializedCandidateState struct {
	ID           string         `json:"id"`
	DuplicateIDs []string       `json:"duplicate_ids"`
	Type         MatchType      `json:"type"`
	Penalties    []string       `json:"penalties"`
	Distance     float64        `json:"distance"`
	Info         any            `json:"info"`
	Tracks       []TrackInfo    `json:"tracks,omitempty"`
	Mapping      map[string]int `json:"mapping"`
}

// SerializedTaskState is the wire form of a TaskState (§6.4).
type SerializedTaskState struct {
	ID               string                     `json:"id"`
	TopPath          string                     `json:"toppath,omitempty"`
	Paths            []string                   `json:"paths"`
	Items            []ItemInfo                 `json:"items"`
	CurrentMetadata  Metadata                   `json:"current_metadata"`
	Candidates       []SerializedCandidateState `json:"candidates"`
	DuplicateAction  string                     `json:"duplicate_action,omitempty"`
	CurrentCandidate string                     `json:"current_candidate_id,omitempty"`
	Completed        bool                       `json:"completed"`
	AsisCandidate    string                     `json:"asis_candidate"`
}

// SerializedSessionState is the wire form of a SessionState (§6.4).
type SerializedSessionState struct {
	SchemaVersion  int                           `json:"schema_version"`
	ID             string                        `json:"id"`
	FolderHash     string                        `json:"folder_hash"`
	FolderPath     string                        `json:"folder_path"`
	FolderRevision int                           `json:"folder_revision"`
	Status         SerializedProgressState       `json:"status"`
	Tasks          []SerializedTaskState         `json:"tasks"`
	Completed      bool                          `json:"completed"`
	Exc            *errorsx.SerializedException `json:"exc,omitempty"`
}

// encodeMapping flattens an item-index -> track-index map to the
// JSON-object-compatible string-keyed form (§6.1 "flattened to integer-index
// maps" — JSON object keys are always strings, so int keys are stringified).
func encodeMapping(m map[int]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[itoa(k)] = v
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// candidateInfo selects the album-or-track payload per the candidate's
// Type, matching §6.4's `info: AlbumInfo|TrackInfo` union.
func candidateInfo(c *CandidateState) any {
	if c.Type == MatchTrack {
		return c.Track
	}
	return c.Album
}

func serializeCandidate(c *CandidateState) SerializedCandidateState {
	return SerializedCandidateState{
		ID:           c.ID,
		DuplicateIDs: orEmptyStrings(c.DuplicateIDs),
		Type:         c.Type,
		Penalties:    orEmptyStrings(c.Penalties),
		Distance:     c.Distance,
		Info:         candidateInfo(c),
		Tracks:       c.Album.Tracks,
		Mapping:      encodeMapping(c.Mapping),
	}
}

func orEmptyStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// SerializeTask converts a TaskState to its wire form. completed reports
// the task's terminal-progress status relative to the session variant's
// terminal progress, since a bare TaskState does not know its variant.
func SerializeTask(t *TaskState, completed bool) SerializedTaskState {
	candidates := make([]SerializedCandidateState, len(t.Candidates))
	asisID := ""
	for i, c := range t.Candidates {
		candidates[i] = serializeCandidate(c)
		if c.IsAsis {
			asisID = c.ID
		}
	}
	current := ""
	if t.ChosenCandidateID != nil {
		current = *t.ChosenCandidateID
	}
	return SerializedTaskState{
		ID:               t.ID,
		TopPath:          t.Handle.TopPath,
		Paths:            t.Handle.Paths,
		Items:            t.Handle.Items,
		CurrentMetadata:  t.Handle.Metadata,
		Candidates:       candidates,
		DuplicateAction:  string(t.DuplicateAction),
		CurrentCandidate: current,
		Completed:        completed,
		AsisCandidate:    asisID,
	}
}

// Serialize converts a SessionState to its wire form. terminal is the
// progress value the active variant treats as "done" (PreviewCompleted,
// ImportCompleted, or DeletionCompleted); message/pluginName surface the
// most recent stage's human-readable status line, if any.
func Serialize(s *SessionState, terminal Progress, message, pluginName string) *SerializedSessionState {
	tasks := make([]SerializedTaskState, len(s.Tasks))
	for i, t := range s.Tasks {
		tasks[i] = SerializeTask(t, t.Progress >= terminal)
	}
	return &SerializedSessionState{
		SchemaVersion:  SchemaVersion,
		ID:             s.ID,
		FolderHash:     s.FolderHash,
		FolderPath:     s.FolderPath,
		FolderRevision: s.FolderRevision,
		Status: SerializedProgressState{
			Progress:   s.Progress().String(),
			Message:    message,
			PluginName: pluginName,
		},
		Tasks:     tasks,
		Completed: s.Completed(terminal),
		Exc:       errorsx.Serialize(s.Exc),
	}
}

// EncodeBytes implements §3's "bytes fields encode as UTF-8 if decodable
// else base64" rule for any raw byte payload a future item/track field may
// carry (e.g. embedded artwork). Callers store the returned flag alongside
// the string to know how to decode it back.
func EncodeBytes(b []byte) (s string, base64Encoded bool) {
	if utf8.Valid(b) {
		return string(b), false
	}
	return base64.StdEncoding.EncodeToString(b), true
}

// DecodeBytes reverses EncodeBytes.
func DecodeBytes(s string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(s), nil
	}
	return base64.StdEncoding.DecodeString(s)
}
