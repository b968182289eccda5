package index

// Stage is a step of an index run as reported to progress consumers.
type Stage string

const (
	StageListing   Stage = "listing"
	StageFetching  Stage = "fetching"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageComplete  Stage = "complete"
)

// Progress is one progress update. Current counts finished documents out of
// Total documents that need work.
type Progress struct {
	RunID   string
	Stage   Stage
	Current int
	Total   int
	DocPath string
	State   DocState
	Err     error
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)
