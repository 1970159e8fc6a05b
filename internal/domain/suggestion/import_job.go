package suggestion

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job may move from s to next. PENDING may
// fail directly when the input is rejected before any batch is dispatched.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Predecessors lists the statuses from which next is reachable.
func Predecessors(next Status) []Status {
	var out []Status
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// ImportJob is the durable record of one import. LeaseExpiresAt is pushed
// forward by the process running the job; a non-terminal job whose lease has
// passed was abandoned.
type ImportJob struct {
	ID             string
	GroupID        string
	SourcePath     string
	Status         Status
	BatchSize      int
	TotalRows      *int64
	ProcessedRows  int64
	FailedRows     int64
	SkippedRows    int64
	ErrorMessage   *string
	HeartbeatAt    *time.Time
	LeaseExpiresAt *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewImportJob(id, groupID, sourcePath string, batchSize int) ImportJob {
	return ImportJob{
		ID:         id,
		GroupID:    groupID,
		SourcePath: sourcePath,
		Status:     StatusPending,
		BatchSize:  batchSize,
	}
}

// StatusEvent is published once per processed job. Consumers must treat it
// as at-least-once and deduplicate on JobID.
type StatusEvent struct {
	JobID       string   `json:"jobId"`
	GroupID     string   `json:"groupId"`
	Status      Status   `json:"status"`
	Processed   int64    `json:"processed"`
	Total       int64    `json:"total"`
	SuccessList []string `json:"successList"`
	FailedList  []string `json:"failedList"`
}
