package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/dubaigit/task-mail-sub001/internal/logger"
	"github.com/dubaigit/task-mail-sub001/internal/metrics"
	"github.com/dubaigit/task-mail-sub001/internal/source"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// JobQueue is the dispatcher's contract with the durable queue, implemented
// by repository.JobRepository.
type JobQueue interface {
	ClaimBatch(ctx context.Context, limit int) ([]domain.AnalysisJob, error)
	MarkCompleted(ctx context.Context, jobID, result string) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
	MarkRetry(ctx context.Context, jobID, errMsg string, notBefore time.Time) error
	CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error)
	ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ResultCache is the dispatcher's contract with the result cache,
// implemented by cache.Store.
type ResultCache interface {
	Get(ctx context.Context, content string, op domain.OperationType, model string) (string, bool)
	Put(ctx context.Context, content string, op domain.OperationType, model, value string) error
}

// AnalysisClient is the dispatcher's contract with the analysis adapter,
// implemented by Analyzer.
type AnalysisClient interface {
	Analyze(ctx context.Context, op domain.OperationType, content string) (*domain.ProcessingResult, error)
	ModelFor(op domain.OperationType) string
}

// DispatcherConfig holds dispatcher tuning knobs.
type DispatcherConfig struct {
	MaxConcurrent int           // upper bound on in-flight analysis calls
	BatchSize     int           // sub-batch size within one tick
	PollBatchSize int           // jobs claimed per tick
	PollInterval  time.Duration // tick period
	StuckAfter    time.Duration // lease horizon for requeueing stranded jobs; 0 disables
}

// Dispatcher drives the pipeline: each tick it claims a batch of pending
// jobs, runs them through cache and analyzer under a shared concurrency
// bound, and folds every outcome back into the queue. One job's failure
// never aborts its siblings or the scheduling loop.
type Dispatcher struct {
	id       string
	queue    JobQueue
	cache    ResultCache
	analyzer AnalysisClient
	src      source.MessageSource
	retry    *RetryPolicy
	metrics  *metrics.Collector
	log      *logger.Logger
	sem      *semaphore.Weighted
	cfg      DispatcherConfig
}

// NewDispatcher creates a Dispatcher. The semaphore is shared across all
// sub-batches of all ticks, so at most MaxConcurrent analysis calls are in
// flight regardless of batch shape.
func NewDispatcher(
	queue JobQueue,
	resultCache ResultCache,
	analyzer AnalysisClient,
	src source.MessageSource,
	retry *RetryPolicy,
	collector *metrics.Collector,
	log *logger.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = cfg.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	id := uuid.New().String()
	return &Dispatcher{
		id:       id,
		queue:    queue,
		cache:    resultCache,
		analyzer: analyzer,
		src:      src,
		retry:    retry,
		metrics:  collector,
		log:      log.WithField(logger.FieldDispatcher, id),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:      cfg,
	}
}

// Run executes the periodic scheduling loop until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.WithFields(logger.Fields{
		"poll_interval":  d.cfg.PollInterval.String(),
		"max_concurrent": d.cfg.MaxConcurrent,
		"batch_size":     d.cfg.BatchSize,
	}).Info("Dispatcher started")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	// First tick immediately rather than one interval in.
	d.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick claims one poll batch and settles every job in it. Exported so a
// worker process or test can drive the dispatcher without the ticker.
func (d *Dispatcher) Tick(ctx context.Context) {
	if d.cfg.StuckAfter > 0 {
		released, err := d.queue.ReleaseStuck(ctx, d.cfg.StuckAfter)
		if err != nil {
			d.log.WithError(err).Warn("Failed to release stuck jobs")
		} else if released > 0 {
			d.log.WithField(logger.FieldCount, released).Warn("Requeued stuck jobs")
		}
	}

	jobs, err := d.queue.ClaimBatch(ctx, d.cfg.PollBatchSize)
	if err != nil {
		d.log.WithError(err).Error("Failed to claim batch")
		return
	}

	if depth, err := d.queue.CountByStatus(ctx, domain.JobStatusPending); err == nil {
		d.metrics.SetQueueDepth(depth)
	}

	if len(jobs) == 0 {
		return
	}
	d.log.WithField(logger.FieldCount, len(jobs)).Info("Claimed batch")

	for start := 0; start < len(jobs); start += d.cfg.BatchSize {
		end := start + d.cfg.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		d.settleBatch(ctx, jobs[start:end])
	}
}

// settleBatch runs one sub-batch concurrently and waits for every job to
// settle. Outcomes are independent: settle all, not fail fast.
func (d *Dispatcher) settleBatch(ctx context.Context, batch []domain.AnalysisJob) {
	done := make(chan struct{}, len(batch))
	for i := range batch {
		job := batch[i]
		if err := d.sem.Acquire(ctx, 1); err != nil {
			// Shutdown mid-batch: leave the job PROCESSING for stuck-job
			// recovery to requeue.
			done <- struct{}{}
			continue
		}
		go func() {
			defer func() { done <- struct{}{} }()
			defer d.sem.Release(1)
			d.processJob(ctx, &job)
		}()
	}
	for range batch {
		<-done
	}
}

// processJob executes a single claimed job end to end: fetch content, consult
// the cache, call the analyzer on a miss, and record the outcome. Panics are
// converted into job failures so they cannot take down the loop.
func (d *Dispatcher) processJob(ctx context.Context, job *domain.AnalysisJob) {
	start := time.Now()
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:     job.ID,
		logger.FieldRecordID:  job.RecordID,
		logger.FieldOperation: string(job.OperationType),
	})

	// Tracks whether the cache was consulted, so failures before the lookup
	// never count against the hit rate.
	cacheRes := metrics.CacheSkipped

	defer func() {
		if r := recover(); r != nil {
			d.settleFailure(ctx, job, domain.Transientf("job panicked: %v", r), cacheRes, start)
		}
	}()

	content, err := d.src.GetContent(ctx, job.RecordID)
	if err != nil {
		d.settleFailure(ctx, job, err, cacheRes, start)
		return
	}

	model := d.analyzer.ModelFor(job.OperationType)
	if value, hit := d.cache.Get(ctx, content, job.OperationType, model); hit {
		d.settleSuccess(ctx, job, value, metrics.CacheHit, start)
		return
	}
	cacheRes = metrics.CacheMiss

	result, err := d.analyzer.Analyze(ctx, job.OperationType, content)
	if err != nil {
		d.settleFailure(ctx, job, err, cacheRes, start)
		return
	}

	encoded, err := result.Encode()
	if err != nil {
		d.settleFailure(ctx, job, domain.Permanentf("failed to encode result: %w", err), cacheRes, start)
		return
	}

	if err := d.cache.Put(ctx, content, job.OperationType, result.ModelUsed, encoded); err != nil {
		logger.CtxWarn(ctx, "Failed to cache result: %v", err)
	}

	d.settleSuccess(ctx, job, encoded, metrics.CacheMiss, start)
}

func (d *Dispatcher) settleSuccess(ctx context.Context, job *domain.AnalysisJob, result string, cacheRes metrics.CacheResult, start time.Time) {
	latency := time.Since(start)
	if err := d.queue.MarkCompleted(ctx, job.ID, result); err != nil {
		logger.CtxError(ctx, "Failed to mark job completed: %v", err)
		return
	}
	d.metrics.RecordJob(metrics.OutcomeCompleted, cacheRes, latency)
	logger.With(logger.Fields{
		logger.FieldDurationMs: latency.Milliseconds(),
		logger.FieldCacheHit:   cacheRes == metrics.CacheHit,
	}).Info(ctx, "Job completed")
}

func (d *Dispatcher) settleFailure(ctx context.Context, job *domain.AnalysisJob, jobErr error, cacheRes metrics.CacheResult, start time.Time) {
	latency := time.Since(start)
	d.metrics.RecordError(!domain.IsPermanent(jobErr))

	decision := d.retry.Decide(job, jobErr)
	if decision.Retry {
		notBefore := time.Now().Add(decision.Delay)
		if err := d.queue.MarkRetry(ctx, job.ID, jobErr.Error(), notBefore); err != nil {
			logger.CtxError(ctx, "Failed to mark job for retry: %v", err)
			return
		}
		d.metrics.RecordJob(metrics.OutcomeRetried, cacheRes, latency)
		logger.With(logger.Fields{
			logger.FieldDurationMs: latency.Milliseconds(),
			"retry_count":          job.RetryCount + 1,
			"retry_delay":          decision.Delay.String(),
		}).Warn(ctx, "Job failed, scheduled for retry: %v", jobErr)
		return
	}

	if err := d.queue.MarkFailed(ctx, job.ID, jobErr.Error()); err != nil {
		logger.CtxError(ctx, "Failed to mark job failed: %v", err)
		return
	}
	d.metrics.RecordJob(metrics.OutcomeFailed, cacheRes, latency)
	logger.With(logger.Fields{
		logger.FieldDurationMs: latency.Milliseconds(),
		"retry_count":          job.RetryCount,
	}).Error(ctx, "Job failed terminally: %v", jobErr)
}

// String identifies the dispatcher instance.
func (d *Dispatcher) String() string {
	return fmt.Sprintf("dispatcher(%s)", d.id)
}
