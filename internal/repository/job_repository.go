package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRepository owns the durable analysis job queue. All job mutation goes
// through its atomic operations; workers never touch rows directly.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Enqueue submits one (record, operation) unit of work. If a row already
// exists for the pair it is reopened: status back to PENDING, retry count
// reset, priority raised to the max of old and new. The returned job carries
// the surviving row id, so repeated submission never creates a duplicate.
func (r *JobRepository) Enqueue(ctx context.Context, recordID string, op domain.OperationType, priority, maxRetries int) (*domain.AnalysisJob, error) {
	if recordID == "" {
		return nil, domain.Permanentf("record id must not be empty")
	}
	if !op.Valid() {
		return nil, domain.Permanentf("unknown operation type %q", op)
	}

	now := time.Now()
	job := &domain.AnalysisJob{
		ID:            uuid.New().String(),
		RecordID:      recordID,
		OperationType: op,
		Priority:      priority,
		Status:        domain.JobStatusPending,
		MaxRetries:    maxRetries,
		NotBefore:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Upsert on the (record_id, operation_type) uniqueness constraint. The
	// CASE expression keeps the higher of the stored and submitted priority;
	// `excluded` is understood by both SQLite and PostgreSQL.
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "record_id"}, {Name: "operation_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":        domain.JobStatusPending,
			"retry_count":   0,
			"error_message": "",
			"not_before":    now,
			"updated_at":    now,
			"priority":      gorm.Expr("CASE WHEN excluded.priority > analysis_jobs.priority THEN excluded.priority ELSE analysis_jobs.priority END"),
		}),
	}).Create(job).Error
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	// The insert id is discarded on conflict; reload to get the surviving row.
	return r.GetByRecordOperation(ctx, recordID, op)
}

// ClaimBatch atomically selects up to limit runnable PENDING jobs ordered by
// priority descending then created_at ascending, transitions them to
// PROCESSING, and returns them. On PostgreSQL the select takes row locks with
// SKIP LOCKED so concurrent dispatcher instances never claim the same job;
// on SQLite the write transaction itself serializes claimers.
func (r *JobRepository) ClaimBatch(ctx context.Context, limit int) ([]domain.AnalysisJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []domain.AnalysisJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		query := tx.Where("status = ? AND not_before <= ?", domain.JobStatusPending, now).
			Order("priority DESC").
			Order("created_at ASC").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []domain.AnalysisJob
		if err := query.Find(&candidates).Error; err != nil {
			return fmt.Errorf("failed to select pending jobs: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}

		ids := make([]string, 0, len(candidates))
		for _, j := range candidates {
			ids = append(ids, j.ID)
		}

		// The status guard keeps the update a no-op for any row another
		// claimer got to first.
		res := tx.Model(&domain.AnalysisJob{}).
			Where("id IN ? AND status = ?", ids, domain.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     domain.JobStatusProcessing,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to claim jobs: %w", res.Error)
		}

		for i := range candidates {
			candidates[i].Status = domain.JobStatusProcessing
			candidates[i].UpdatedAt = now
		}
		claimed = candidates
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted transitions a PROCESSING job to COMPLETED, storing the
// serialized result on the row.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID, result string) error {
	return r.markFrom(ctx, jobID, map[string]interface{}{
		"status":        domain.JobStatusCompleted,
		"result":        result,
		"error_message": "",
	})
}

// MarkFailed transitions a PROCESSING job to terminal FAILED with the error
// message that exhausted it.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	return r.markFrom(ctx, jobID, map[string]interface{}{
		"status":        domain.JobStatusFailed,
		"error_message": errMsg,
	})
}

// MarkRetry returns a PROCESSING job to PENDING with an incremented retry
// count; the job is not claimable again before notBefore.
func (r *JobRepository) MarkRetry(ctx context.Context, jobID, errMsg string, notBefore time.Time) error {
	return r.markFrom(ctx, jobID, map[string]interface{}{
		"status":        domain.JobStatusPending,
		"error_message": errMsg,
		"retry_count":   gorm.Expr("retry_count + 1"),
		"not_before":    notBefore,
	})
}

// markFrom applies updates to a job that must currently be PROCESSING.
// Unknown ids surface domain.ErrJobNotFound rather than being ignored.
func (r *JobRepository) markFrom(ctx context.Context, jobID string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check job %s: %w", jobID, err)
		}
		if count == 0 {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("job %s is not in PROCESSING", jobID)
	}
	return nil
}

// GetByID retrieves a job by its surrogate id.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	var job domain.AnalysisJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetByRecordOperation retrieves the job for a (record, operation) pair.
func (r *JobRepository) GetByRecordOperation(ctx context.Context, recordID string, op domain.OperationType) (*domain.AnalysisJob, error) {
	var job domain.AnalysisJob
	if err := r.db.WithContext(ctx).First(&job, "record_id = ? AND operation_type = ?", recordID, op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// CountByStatus counts jobs in the given status.
func (r *JobRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ReleaseStuck requeues PROCESSING jobs whose last update is older than the
// lease horizon, so a crashed dispatcher cannot strand work. Returns the
// number of jobs released.
func (r *JobRepository) ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).
		Where("status = ? AND updated_at < ?", domain.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusPending,
			"not_before": time.Now(),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release stuck jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
