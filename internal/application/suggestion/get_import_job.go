package suggestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

type GetImportJobInput struct {
	ID string
}

type GetImportJobOutput struct {
	ID            string     `json:"id"`
	GroupID       string     `json:"group_id"`
	SourcePath    string     `json:"source_path"`
	Status        string     `json:"status"`
	BatchSize     int        `json:"batch_size"`
	TotalRows     *int64     `json:"total_rows"`
	ProcessedRows int64      `json:"processed_rows"`
	FailedRows    int64      `json:"failed_rows"`
	SkippedRows   int64      `json:"skipped_rows"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type GetImportJob interface {
	Execute(ctx context.Context, in GetImportJobInput) (GetImportJobOutput, error)
}

type importJobReader interface {
	Get(ctx context.Context, jobID string) (*domain.ImportJob, error)
}

type getImportJob struct {
	repo importJobReader
}

func NewGetImportJob(repo importJobReader) GetImportJob {
	return &getImportJob{repo: repo}
}

func (uc *getImportJob) Execute(ctx context.Context, in GetImportJobInput) (GetImportJobOutput, error) {
	if _, err := uuid.Parse(in.ID); err != nil {
		return GetImportJobOutput{}, ErrInvalidJobID
	}

	job, err := uc.repo.Get(ctx, in.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return GetImportJobOutput{}, ErrImportJobNotFound
		}
		return GetImportJobOutput{}, fmt.Errorf("%w: %v", ErrGetImportJob, err)
	}

	return GetImportJobOutput{
		ID:            job.ID,
		GroupID:       job.GroupID,
		SourcePath:    job.SourcePath,
		Status:        string(job.Status),
		BatchSize:     job.BatchSize,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		FailedRows:    job.FailedRows,
		SkippedRows:   job.SkippedRows,
		ErrorMessage:  job.ErrorMessage,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}, nil
}
