package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// Process executes one queued job to a terminal state and returns the
// job as last persisted. It is called from worker goroutines. A run
// cancelled through StopJob returns the job untouched together with the
// context error; the stop path owns the final state in that case.
func (s *Service) Process(ctx context.Context, jobID string) (gitmeta.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return gitmeta.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &runHandle{cancel: cancel, done: make(chan struct{})}
	s.registerRun(jobID, handle)
	defer func() {
		s.releaseRun(jobID, handle)
		cancel()
		close(handle.done)
	}()

	runErr := s.runJob(runCtx, &job)
	if runErr == nil {
		return job, nil
	}
	if runCtx.Err() != nil {
		return job, runCtx.Err()
	}

	gitmeta.AppendLog(ctx, s.jobLog, jobID, gitmeta.LogInfo, fmt.Sprintf("Processing error: %v", runErr))
	if err := s.finalize(ctx, &job, gitmeta.JobStateFailure, "Failed", nil); err != nil {
		s.logger.Warn("Finalize failed job", zap.String("job_id", jobID), zap.Error(err))
	}
	s.logger.Error("Job failure", zap.String("job_id", jobID), zap.Error(runErr))
	return job, fmt.Errorf("Processing failure: %w", runErr)
}

// runJob resolves the fetcher and executes the job according to its
// mode, finalizing it as successful when the fetch completes.
func (s *Service) runJob(ctx context.Context, job *gitmeta.Job) error {
	fetcher, err := s.fetchers.Get(job.Platform)
	if err != nil {
		return fmt.Errorf("Unsupported platform: %s", job.Platform)
	}
	gitmeta.AppendLog(ctx, s.jobLog, job.ID, gitmeta.LogInfo,
		fmt.Sprintf("Starting %s mode processing", job.Mode))

	switch job.Mode {
	case gitmeta.ModeAssistant:
		if job.Settings == nil {
			return errors.New("Assistant mode requires fetcher settings and requested fields")
		}
		repos, err := fetcher.FetchRepos(ctx, buildFetchSpec(*job), s.jobLog, job.ID)
		if err != nil {
			return err
		}
		return s.finalize(ctx, job, gitmeta.JobStateSuccessful, "Completed", repos)
	case gitmeta.ModeExpert:
		raw, err := fetcher.FetchRaw(ctx, job.RawQuery, s.jobLog, job.ID)
		if err != nil {
			return err
		}
		job.RawResult = &raw
		message := fmt.Sprintf("Completed with %d repositories", raw.RepoCount)
		return s.finalize(ctx, job, gitmeta.JobStateSuccessful, message, nil)
	default:
		return fmt.Errorf("Invalid mode: %s", job.Mode)
	}
}

func buildFetchSpec(job gitmeta.Job) gitmeta.FetchSpec {
	return gitmeta.FetchSpec{
		RepoCount:           job.Settings.RepoCount,
		MaxMergeRequests:    job.Settings.MaxMergeRequests,
		SearchTerm:          job.Settings.SearchTerm,
		ProgrammingLanguage: job.Settings.ProgrammingLanguage,
		Fields:              job.RequestedFields,
	}
}
