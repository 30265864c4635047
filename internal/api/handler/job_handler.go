package handler

import (
	"errors"
	"net/http"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/dubaigit/task-mail-sub001/internal/logger"
	"github.com/dubaigit/task-mail-sub001/internal/repository"
	"github.com/gin-gonic/gin"
)

// JobHandler handles job submission and status endpoints.
type JobHandler struct {
	jobs       *repository.JobRepository
	maxRetries int
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobs: job repository instance.
//   - maxRetries: default retry budget applied to enqueued jobs.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs *repository.JobRepository, maxRetries int) *JobHandler {
	return &JobHandler{jobs: jobs, maxRetries: maxRetries}
}

// EnqueueRequest represents one job submission.
type EnqueueRequest struct {
	RecordID      string `json:"record_id" binding:"required"`
	OperationType string `json:"operation_type" binding:"required"`
	Priority      int    `json:"priority"`
}

// BulkEnqueueRequest represents a bulk job submission.
type BulkEnqueueRequest struct {
	Jobs []EnqueueRequest `json:"jobs" binding:"required,min=1,max=1000"`
}

// BulkEnqueueItem is the per-item outcome of a bulk submission.
type BulkEnqueueItem struct {
	RecordID      string `json:"record_id"`
	OperationType string `json:"operation_type"`
	JobID         string `json:"job_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Enqueue handles POST /api/v1/jobs.
func (h *JobHandler) Enqueue(c *gin.Context) {
	ctx := c.Request.Context()

	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.Enqueue(ctx, req.RecordID, domain.OperationType(req.OperationType), req.Priority, h.maxRetries)
	if err != nil {
		if domain.IsPermanent(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.CtxError(ctx, "Failed to enqueue job: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// EnqueueBulk handles POST /api/v1/jobs/bulk. Each item is enqueued
// idempotently; one item's failure does not reject the rest.
func (h *JobHandler) EnqueueBulk(c *gin.Context) {
	ctx := c.Request.Context()

	var req BulkEnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]BulkEnqueueItem, 0, len(req.Jobs))
	for _, r := range req.Jobs {
		item := BulkEnqueueItem{RecordID: r.RecordID, OperationType: r.OperationType}
		job, err := h.jobs.Enqueue(ctx, r.RecordID, domain.OperationType(r.OperationType), r.Priority, h.maxRetries)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.JobID = job.ID
		}
		items = append(items, item)
	}

	c.JSON(http.StatusAccepted, gin.H{"results": items})
}

// StatusResponse is the job status view returned to operators.
type StatusResponse struct {
	ID            string `json:"id"`
	RecordID      string `json:"record_id"`
	OperationType string `json:"operation_type"`
	Status        string `json:"status"`
	Priority      int    `json:"priority"`
	RetryCount    int    `json:"retry_count"`
	MaxRetries    int    `json:"max_retries"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Result        string `json:"result,omitempty"`
}

// GetByID handles GET /api/v1/jobs/:id.
func (h *JobHandler) GetByID(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, statusView(job))
}

// Query handles GET /api/v1/jobs?record_id=&operation_type=.
func (h *JobHandler) Query(c *gin.Context) {
	recordID := c.Query("record_id")
	op := domain.OperationType(c.Query("operation_type"))
	if recordID == "" || !op.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "record_id and a valid operation_type are required"})
		return
	}

	job, err := h.jobs.GetByRecordOperation(c.Request.Context(), recordID, op)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, statusView(job))
}

func statusView(job *domain.AnalysisJob) StatusResponse {
	return StatusResponse{
		ID:            job.ID,
		RecordID:      job.RecordID,
		OperationType: string(job.OperationType),
		Status:        string(job.Status),
		Priority:      job.Priority,
		RetryCount:    job.RetryCount,
		MaxRetries:    job.MaxRetries,
		ErrorMessage:  job.ErrorMessage,
		Result:        job.Result,
	}
}
