package suggestion

import (
	"context"
	"time"
)

// JobStateStore keeps durable job counters. Every method must be atomic with
// respect to concurrent callers working on the same job.
type JobStateStore interface {
	Ensure(ctx context.Context, job ImportJob) error
	Get(ctx context.Context, jobID string) (*ImportJob, error)
	MarkProcessing(ctx context.Context, jobID string) error
	AddProcessed(ctx context.Context, jobID string, rows int64) error
	AddFailed(ctx context.Context, jobID string, rows int64) error
	SetTotals(ctx context.Context, jobID string, total, skipped int64) error
	Finalize(ctx context.Context, jobID string, status Status, errorMessage *string) error

	// Heartbeat extends the lease of a PENDING or PROCESSING job.
	Heartbeat(ctx context.Context, jobID string, leaseDuration time.Duration) error
	// ExpireLeases fails every non-terminal job whose lease has passed,
	// except the jobs in keep, and returns them as stored after the update.
	ExpireLeases(ctx context.Context, keep []string, reason string) ([]ImportJob, error)
}

type StatusPublisher interface {
	Publish(ctx context.Context, event StatusEvent) error
}

// WriteOutcome describes one committed batch.
type WriteOutcome struct {
	Rows     int
	Affected int64
	Attempts int
}

// BatchWriter stores a batch of suggestions of one group durably.
type BatchWriter interface {
	Write(ctx context.Context, batch []MatchSuggestion, groupID string) (WriteOutcome, error)
}
