package domain

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunPartial || s == RunFailed
}

type IngestionRun struct {
	RunID            string     `json:"run_id"`
	Dataset          string     `json:"dataset"`
	Status           RunStatus  `json:"status"`
	EnabledBackends  []Backend  `json:"enabled_backends"`
	CaseCount        int        `json:"case_count"`
	StructuredWrites int        `json:"structured_writes"`
	DocumentWrites   int        `json:"document_writes"`
	SearchWrites     int        `json:"search_writes"`
	RetryCount       int        `json:"retry_count"`
	LastError        string     `json:"last_error,omitempty"`
	DryRun           bool       `json:"dry_run"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Writes returns the successful write counter for a backend.
func (r *IngestionRun) Writes(b Backend) int {
	switch b {
	case BackendStructured:
		return r.StructuredWrites
	case BackendDocument:
		return r.DocumentWrites
	case BackendSearch:
		return r.SearchWrites
	default:
		return 0
	}
}

func (r *IngestionRun) TotalWrites() int {
	return r.StructuredWrites + r.DocumentWrites + r.SearchWrites
}

// FinalStatus derives the terminal status from the counters. outstanding is the
// number of live retry entries tagged with the run.
func (r *IngestionRun) FinalStatus(outstanding int) RunStatus {
	if r.CaseCount == 0 {
		if r.LastError != "" && r.TotalWrites() == 0 {
			return RunFailed
		}
		return RunSucceeded
	}
	if r.TotalWrites() == 0 {
		return RunFailed
	}
	if outstanding > 0 {
		return RunPartial
	}
	for _, b := range r.EnabledBackends {
		if r.Writes(b) < r.CaseCount {
			return RunPartial
		}
	}
	return RunSucceeded
}

type RunEventKind string

const (
	EventWriteSucceeded RunEventKind = "write_succeeded"
	EventWriteEnqueued  RunEventKind = "write_enqueued"
	EventWriteDropped   RunEventKind = "write_dropped"
	EventCaseRejected   RunEventKind = "case_rejected"
	EventRetryReplayed  RunEventKind = "retry_replayed"
)

// RunEvent is one append-only entry of the run's outcome log.
type RunEvent struct {
	RunID     string       `json:"run_id"`
	CaseID    string       `json:"case_id,omitempty"`
	Backend   Backend      `json:"backend,omitempty"`
	Kind      RunEventKind `json:"kind"`
	Detail    string       `json:"detail,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
