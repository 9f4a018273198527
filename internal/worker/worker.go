// Package worker implements the fetch job execution loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/metrics"
)

// Processor runs one queued job to a terminal state.
type Processor interface {
	Process(ctx context.Context, jobID string) (gitmeta.Job, error)
}

// Worker consumes queue items and executes jobs.
type Worker struct {
	queue     gitmeta.Queue
	processor Processor
	logger    *zap.Logger
}

// New constructs a Worker.
func New(queue gitmeta.Queue, processor Processor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		processor: processor,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processItem(ctx, item)
	}
}

func (w *Worker) processItem(ctx context.Context, item gitmeta.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	job, err := w.processor.Process(ctx, item.JobID)
	switch {
	case err == nil:
		metrics.ObserveJob(string(job.State))
		metrics.ObserveReposFetched(string(job.Platform), recordCount(job))
		w.logger.Info("job completed",
			zap.String("job_id", item.JobID),
			zap.String("platform", string(job.Platform)),
			zap.Int("records", recordCount(job)))
	case errors.Is(err, context.Canceled):
		// A stop request finalizes the job itself; shutdown leaves it
		// to be resumed.
		if ctx.Err() != nil {
			w.logger.Info("job interrupted by shutdown", zap.String("job_id", item.JobID))
			return
		}
		metrics.ObserveJob(string(gitmeta.JobStateStopped))
		w.logger.Info("job canceled", zap.String("job_id", item.JobID))
	default:
		metrics.ObserveJob(string(gitmeta.JobStateFailure))
		w.logger.Error("job failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

func recordCount(job gitmeta.Job) int {
	if job.RawResult != nil {
		return job.RawResult.RepoCount
	}
	return len(job.Repos)
}
