package importstate

// Progress is the totally ordered enum of spec §3. Arithmetic moves up or
// down the ordinal and clamps at both ends.
type Progress int

const (
	NotStarted Progress = iota
	ReadingFiles
	GroupingAlbums
	LookingUpCandidates
	IdentifyingDuplicates
	PreviewCompleted
	DeletionCompleted
	OfferingMatches
	MatchThreshold
	WaitingForUserSelection
	EarlyImporting
	Importing
	ManipulatingFiles
	ImportCompleted
	Deleting

	progressCount
)

var progressNames = [...]string{
	"NOT_STARTED",
	"READING_FILES",
	"GROUPING_ALBUMS",
	"LOOKING_UP_CANDIDATES",
	"IDENTIFYING_DUPLICATES",
	"PREVIEW_COMPLETED",
	"DELETION_COMPLETED",
	"OFFERING_MATCHES",
	"MATCH_THRESHOLD",
	"WAITING_FOR_USER_SELECTION",
	"EARLY_IMPORTING",
	"IMPORTING",
	"MANIPULATING_FILES",
	"IMPORT_COMPLETED",
	"DELETING",
}

func (p Progress) String() string {
	if p < 0 {
		return progressNames[0]
	}
	if int(p) >= len(progressNames) {
		return progressNames[len(progressNames)-1]
	}
	return progressNames[p]
}

// Add moves p by n ordinal steps, clamping to [NotStarted, Deleting].
func (p Progress) Add(n int) Progress {
	v := int(p) + n
	if v < int(NotStarted) {
		v = int(NotStarted)
	}
	if v > int(Deleting) {
		v = int(Deleting)
	}
	return Progress(v)
}

// MinProgress returns the lowest of the given progresses, or NotStarted
// when ps is empty (spec §3 SessionState.Progress: "min of task
// progresses").
func MinProgress(ps []Progress) Progress {
	if len(ps) == 0 {
		return NotStarted
	}
	min := ps[0]
	for _, p := range ps[1:] {
		if p < min {
			min = p
		}
	}
	return min
}
