package domain

import "time"

// JobStatus represents the lifecycle state of an analysis job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// OperationType identifies the kind of analysis performed on a record.
type OperationType string

const (
	OperationClassify     OperationType = "CLASSIFY"
	OperationDraft        OperationType = "DRAFT"
	OperationSentiment    OperationType = "SENTIMENT"
	OperationExtractTasks OperationType = "EXTRACT_TASKS"
)

// Valid reports whether the operation type is one of the known variants.
func (op OperationType) Valid() bool {
	switch op {
	case OperationClassify, OperationDraft, OperationSentiment, OperationExtractTasks:
		return true
	}
	return false
}

// AnalysisJob represents one (record, operation) unit of work tracked through
// the PENDING -> PROCESSING -> COMPLETED/FAILED state machine. The unique
// index on (record_id, operation_type) guarantees at most one row per pair;
// re-submission reopens the existing row instead of creating a duplicate.
type AnalysisJob struct {
	ID            string        `gorm:"type:text;primaryKey" json:"id"`
	RecordID      string        `gorm:"type:text;not null;uniqueIndex:idx_jobs_record_op" json:"record_id"`
	OperationType OperationType `gorm:"type:text;not null;uniqueIndex:idx_jobs_record_op" json:"operation_type"`
	Priority      int           `gorm:"default:0;index:idx_jobs_claim" json:"priority"`
	Status        JobStatus     `gorm:"type:text;default:PENDING;index:idx_jobs_claim" json:"status"`
	RetryCount    int           `gorm:"default:0" json:"retry_count"`
	MaxRetries    int           `gorm:"default:3" json:"max_retries"`
	NotBefore     time.Time     `json:"not_before"`
	ErrorMessage  string        `gorm:"type:text" json:"error_message,omitempty"`
	Result        string        `gorm:"type:text" json:"result,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TableName returns the database table name for AnalysisJob.
func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}
