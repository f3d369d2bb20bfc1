package jobs

// EnqueueKind is the closed set of entry points the dispatcher exposes
// (§4.F).
type EnqueueKind string

const (
	KindPreview               EnqueueKind = "PREVIEW"
	KindPreviewAddCandidates  EnqueueKind = "PREVIEW_ADD_CANDIDATES"
	KindImportCandidate       EnqueueKind = "IMPORT_CANDIDATE"
	KindImportAuto            EnqueueKind = "IMPORT_AUTO"
	KindImportBootleg         EnqueueKind = "IMPORT_BOOTLEG"
	KindImportUndo            EnqueueKind = "IMPORT_UNDO"
)

// Task type names registered on the asynq.ServeMux — one per EnqueueKind,
// grouped by queue (§4.F: preview/import queues).
const (
	typePreview              = "preview:run"
	typePreviewAddCandidates = "preview:add_candidates"
	typeImportCandidate      = "import:candidate"
	typeImportAuto           = "import:auto"
	typeImportBootleg        = "import:bootleg"
	typeImportUndo           = "import:undo"
)

const (
	// QueuePreview runs with higher concurrency; workers only read here.
	QueuePreview = "preview"
	// QueueImport carries the library-writing jobs (§4.F). Config gives it
	// a lower priority weight than QueuePreview but does not cap its
	// concurrency, so import tasks are not serialized by this package.
	QueueImport = "import"
)

// JobMeta identifies the folder a job operates on (§4.F "jobs carry
// JobMeta").
type JobMeta struct {
	FolderHash string `json:"folder_hash"`
	FolderPath string `json:"folder_path"`
}

type previewPayload struct {
	JobMeta
}

type addCandidatesPayload struct {
	JobMeta
	SearchIDs   []string `json:"search_ids,omitempty"`
	SearchArtist string  `json:"search_artist,omitempty"`
	SearchAlbum  string  `json:"search_album,omitempty"`
}

type importCandidatePayload struct {
	JobMeta
	CandidateIDs     map[string]string `json:"candidate_ids"`
	DuplicateActions map[string]string `json:"duplicate_actions"`
}

type importAutoPayload struct {
	JobMeta
	ImportThreshold  float64           `json:"import_threshold"`
	DuplicateActions map[string]string `json:"duplicate_actions"`
}

type importBootlegPayload struct {
	JobMeta
}

type importUndoPayload struct {
	JobMeta
	DeleteFiles bool `json:"delete_files"`
}
