package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportJobRepository is the gorm-backed job state store. Every mutation is
// a single guarded UPDATE so concurrent batch workers never lose counts.
type ImportJobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewImportJobRepository(db *gorm.DB) *ImportJobRepository {
	return &ImportJobRepository{db: db, now: time.Now}
}

var _ domain.JobStateStore = (*ImportJobRepository)(nil)

// Migrate creates or updates the tables owned by the importer.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&models.ImportJob{}, &models.MatchSuggestion{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (r *ImportJobRepository) Ensure(ctx context.Context, job domain.ImportJob) error {
	now := r.now().UTC()
	row := models.ImportJob{
		ID:         job.ID,
		GroupID:    job.GroupID,
		SourcePath: job.SourcePath,
		Status:     string(domain.StatusPending),
		BatchSize:  job.BatchSize,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if job.LeaseExpiresAt != nil {
		lease := job.LeaseExpiresAt.UTC()
		row.HeartbeatAt = &now
		row.LeaseExpiresAt = &lease
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("ensure import job: %w", err)
	}
	return nil
}

func (r *ImportJobRepository) Get(ctx context.Context, jobID string) (*domain.ImportJob, error) {
	var row models.ImportJob
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get import job: %w", err)
	}
	job := toDomainJob(row)
	return &job, nil
}

func (r *ImportJobRepository) MarkProcessing(ctx context.Context, jobID string) error {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", jobID, statusStrings(domain.Predecessors(domain.StatusProcessing))).
		Updates(map[string]any{
			"status":     string(domain.StatusProcessing),
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark import job processing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.noRowsError(ctx, jobID, domain.StatusProcessing)
	}
	return nil
}

func (r *ImportJobRepository) AddProcessed(ctx context.Context, jobID string, rows int64) error {
	return r.addCounter(ctx, jobID, "processed_rows", rows)
}

func (r *ImportJobRepository) AddFailed(ctx context.Context, jobID string, rows int64) error {
	return r.addCounter(ctx, jobID, "failed_rows", rows)
}

func (r *ImportJobRepository) addCounter(ctx context.Context, jobID, column string, rows int64) error {
	if rows <= 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ? AND status = ?", jobID, string(domain.StatusProcessing)).
		Updates(map[string]any{
			column:       gorm.Expr(column+" + ?", rows),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("add %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.noRowsError(ctx, jobID, domain.StatusProcessing)
	}
	return nil
}

// SetTotals writes total_rows and skipped_rows. It succeeds at most once per
// job.
func (r *ImportJobRepository) SetTotals(ctx context.Context, jobID string, total, skipped int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ? AND total_rows IS NULL AND processed_rows <= ?", jobID, total).
		Updates(map[string]any{
			"total_rows":   total,
			"skipped_rows": skipped,
			"updated_at":   r.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("set import job totals: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("%w: totals already set or below processed rows", domain.ErrInvalidTransition)
	}
	return nil
}

func (r *ImportJobRepository) Finalize(ctx context.Context, jobID string, status domain.Status, errorMessage *string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", domain.ErrInvalidTransition, status)
	}
	now := r.now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", jobID, statusStrings(domain.Predecessors(status))).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errorMessage,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("finalize import job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.noRowsError(ctx, jobID, status)
	}
	return nil
}

func (r *ImportJobRepository) Heartbeat(ctx context.Context, jobID string, leaseDuration time.Duration) error {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", jobID, statusStrings(activeStatuses)).
		Updates(map[string]any{
			"heartbeat_at":     now,
			"lease_expires_at": now.Add(leaseDuration),
		})
	if res.Error != nil {
		return fmt.Errorf("heartbeat import job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.noRowsError(ctx, jobID, domain.StatusProcessing)
	}
	return nil
}

// ExpireLeases fails abandoned jobs in one UPDATE ... RETURNING, so two
// instances sweeping at once never report the same job twice.
func (r *ImportJobRepository) ExpireLeases(ctx context.Context, keep []string, reason string) ([]domain.ImportJob, error) {
	now := r.now().UTC()
	var rows []models.ImportJob
	q := r.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("status IN ? AND lease_expires_at < ?", statusStrings(activeStatuses), now)
	if len(keep) > 0 {
		q = q.Where("id NOT IN ?", keep)
	}
	res := q.Updates(map[string]any{
		"status":        string(domain.StatusFailed),
		"error_message": reason,
		"completed_at":  now,
		"updated_at":    now,
	})
	if res.Error != nil {
		return nil, fmt.Errorf("expire import job leases: %w", res.Error)
	}

	jobs := make([]domain.ImportJob, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, toDomainJob(row))
	}
	return jobs, nil
}

var activeStatuses = []domain.Status{domain.StatusPending, domain.StatusProcessing}

func (r *ImportJobRepository) noRowsError(ctx context.Context, jobID string, next domain.Status) error {
	job, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, next)
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func toDomainJob(row models.ImportJob) domain.ImportJob {
	return domain.ImportJob{
		ID:             row.ID,
		GroupID:        row.GroupID,
		SourcePath:     row.SourcePath,
		Status:         domain.Status(row.Status),
		BatchSize:      row.BatchSize,
		TotalRows:      row.TotalRows,
		ProcessedRows:  row.ProcessedRows,
		FailedRows:     row.FailedRows,
		SkippedRows:    row.SkippedRows,
		ErrorMessage:   row.ErrorMessage,
		HeartbeatAt:    row.HeartbeatAt,
		LeaseExpiresAt: row.LeaseExpiresAt,
		StartedAt:      row.StartedAt,
		CompletedAt:    row.CompletedAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}
