package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
	"github.com/panjf2000/ants/v2"
)

const (
	// MaxRetries is the maximum number of attempts for a failing job
	MaxRetries = 3
)

// IngestionJobRepository defines the job persistence the worker needs
type IngestionJobRepository interface {
	// ClaimPending moves up to limit pending jobs to processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.IngestionJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.IngestionJobStatus, errMsg string) error
	IncrementRetries(ctx context.Context, id string) error
}

// KnowledgeProcessor runs the ingestion pipeline for one knowledge item
type KnowledgeProcessor interface {
	Process(ctx context.Context, knowledgeID string) (*domain.IngestionResult, error)
}

// IngestionWorker claims ingestion jobs and runs them on a bounded goroutine
// pool. Each job touches a different knowledge item.
type IngestionWorker struct {
	repo      IngestionJobRepository
	processor KnowledgeProcessor
	pool      *ants.Pool
	claimSize int
	logger    *slog.Logger
}

// NewIngestionWorker creates a worker running at most concurrency jobs at once.
func NewIngestionWorker(repo IngestionJobRepository, processor KnowledgeProcessor, concurrency int) (*IngestionWorker, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &IngestionWorker{
		repo:      repo,
		processor: processor,
		pool:      pool,
		claimSize: concurrency,
		logger:    slog.Default().With("component", "ingestion-worker"),
	}, nil
}

// Release frees the goroutine pool.
func (w *IngestionWorker) Release() {
	w.pool.Release()
}

// ProcessJobs implements the JobProcessor interface. It returns once every
// claimed job has finished.
func (w *IngestionWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, w.claimSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	w.logger.Info("processing pending ingestion jobs", "count", len(jobs))

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		err := w.pool.Submit(func() {
			defer wg.Done()
			if err := w.processJob(ctx, job); err != nil {
				w.logger.Error("error processing job", "job_id", job.ID, "err", err)
			}
		})
		if err != nil {
			wg.Done()
			w.logger.Error("failed to submit job", "job_id", job.ID, "err", err)
			if uerr := w.repo.UpdateStatus(ctx, job.ID, domain.IngestionJobStatusPending, ""); uerr != nil {
				w.logger.Error("failed to release job", "job_id", job.ID, "err", uerr)
			}
		}
	}
	wg.Wait()

	return nil
}

func (w *IngestionWorker) processJob(ctx context.Context, job *domain.IngestionJob) error {
	w.logger.Info("processing job", "job_id", job.ID, "knowledge_id", job.KnowledgeID)

	ctx, tx := telemetry.StartJob(ctx, job.ID, job.KnowledgeID)
	defer tx.End()

	result, err := w.processor.Process(ctx, job.KnowledgeID)
	if err != nil {
		tx.SetError(err)
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestionJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	vectors := 0
	if result != nil {
		vectors = result.TotalVectors
	}
	w.logger.Info("job completed", "job_id", job.ID, "vectors", vectors)
	return nil
}

// retryable reports whether another attempt could succeed. Bad input and
// items that no longer exist fail at once.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	for _, code := range []string{domain.ErrCodeValidation, domain.ErrCodeNotFound, domain.ErrCodeSkippableItem} {
		if domain.HasCode(err, code) {
			return false
		}
	}
	return true
}

// handleJobFailure handles a failed job with retry logic
func (w *IngestionWorker) handleJobFailure(ctx context.Context, job *domain.IngestionJob, jobErr error) error {
	w.logger.Warn("job failed", "job_id", job.ID, "err", jobErr)

	if !retryable(jobErr) {
		telemetry.CaptureError(ctx, jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestionJobStatusFailed, jobErr.Error()); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		w.logger.Warn("job exceeded max retries, marking as failed", "job_id", job.ID, "max_retries", MaxRetries)
		telemetry.CaptureError(ctx, jobErr)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestionJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	w.logger.Info("job will be retried", "job_id", job.ID, "attempt", job.Retries+1, "max_retries", MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.IngestionJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
