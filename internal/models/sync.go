package models

// SyncStatus is the outcome of syncing one file.
type SyncStatus string

const (
	SyncAdded   SyncStatus = "added"
	SyncUpdated SyncStatus = "updated"
	SyncSkipped SyncStatus = "skipped"
	SyncRemoved SyncStatus = "removed"
	SyncFailed  SyncStatus = "failed"
)

// SyncResult describes what happened to one file.
type SyncResult struct {
	Path      string     `json:"path"`
	Status    SyncStatus `json:"status"`
	Functions int        `json:"functions"`
	Reason    string     `json:"reason,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// FileInput is one file of a batch with its already extracted functions.
type FileInput struct {
	Path      string
	Functions []FunctionSpan
	// Err is set when extraction failed; the file is reported as failed without touching the index.
	Err error
}

// BatchSummary aggregates a batch sync.
type BatchSummary struct {
	RunID   string        `json:"run_id"`
	Added   int           `json:"added"`
	Updated int           `json:"updated"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Results []*SyncResult `json:"results"`
	// Fatal is set when a whole-index error stopped the batch.
	Fatal string `json:"fatal,omitempty"`
}

// Record tallies r into the summary.
func (b *BatchSummary) Record(r *SyncResult) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case SyncAdded:
		b.Added++
	case SyncUpdated:
		b.Updated++
	case SyncSkipped:
		b.Skipped++
	case SyncFailed:
		b.Failed++
	}
}

// ReconcileReport lists what ReconcileOrphans repaired.
type ReconcileReport struct {
	OrphanVectors  int      `json:"orphan_vectors"`
	MissingFiles   []string `json:"missing_files,omitempty"`
	DanglingFiles  []string `json:"dangling_files,omitempty"`
	CorruptRecords []string `json:"corrupt_records,omitempty"`
}

// Changed reports whether anything was repaired.
func (r *ReconcileReport) Changed() bool {
	return r.OrphanVectors > 0 || len(r.MissingFiles) > 0 || len(r.DanglingFiles) > 0 || len(r.CorruptRecords) > 0
}

// Stats summarizes an index for status output.
type Stats struct {
	Files         int    `json:"files"`
	Vectors       int    `json:"vectors"`
	NextVectorID  uint64 `json:"next_vector_id"`
	ModelName     string `json:"model_name"`
	Dimensions    int    `json:"dimensions"`
	IndexType     string `json:"index_type"`
	Backend       string `json:"backend"`
	DiskUsage     int64  `json:"disk_usage_bytes"`
	SchemaVersion int    `json:"schema_version"`
}
