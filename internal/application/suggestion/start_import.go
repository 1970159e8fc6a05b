package suggestion

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
)

type StartImportInput struct {
	SourcePath string
	GroupID    string
	BatchSize  int
}

type StartImportOutput struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type StartImport interface {
	Execute(ctx context.Context, in StartImportInput) (StartImportOutput, error)
}

type importSubmitter interface {
	Submit(ctx context.Context, in SubmitInput) (Submission, error)
}

type startImport struct {
	submitter importSubmitter
}

func NewStartImport(submitter importSubmitter) StartImport {
	return &startImport{submitter: submitter}
}

func (uc *startImport) Execute(ctx context.Context, in StartImportInput) (StartImportOutput, error) {
	sub, err := uc.submitter.Submit(ctx, SubmitInput{
		SourcePath: in.SourcePath,
		GroupID:    in.GroupID,
		BatchSize:  in.BatchSize,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidImportSource),
			errors.Is(err, ErrInvalidGroupID),
			errors.Is(err, ErrSubmitImport),
			errors.Is(err, ErrDuplicateImport),
			errors.Is(err, domain.ErrUnavailable):
			return StartImportOutput{}, err
		}
		return StartImportOutput{}, fmt.Errorf("%w: %v", ErrSubmitImport, err)
	}

	return StartImportOutput{
		JobID:  sub.JobID,
		Status: string(sub.Status),
	}, nil
}
