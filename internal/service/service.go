// Package service implements the fetch job lifecycle: creation,
// validation, queued execution, stopping, export, and plugin runs. All
// state transitions and the exact job log wording live here; transports
// stay thin.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/clock/system"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/export"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/id/uuid"
)

// Sentinels for errors.Is matching; the concrete errors carry the
// user-facing message.
var (
	// ErrInvalidInput marks requests rejected before touching job state.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState marks lifecycle transitions the current job state
	// does not allow.
	ErrInvalidState = errors.New("invalid job state")
)

type invalidInputError struct {
	message string
}

func (e *invalidInputError) Error() string { return e.message }

func (e *invalidInputError) Is(target error) bool { return target == ErrInvalidInput }

type stateError struct {
	message string
}

func (e *stateError) Error() string { return e.message }

func (e *stateError) Is(target error) bool { return target == ErrInvalidState }

type notFoundError struct {
	message string
}

func (e *notFoundError) Error() string { return e.message }

func (e *notFoundError) Is(target error) bool { return target == gitmeta.ErrJobNotFound }

// FetcherRegistry resolves platforms to fetchers and lists the
// platforms that have one.
type FetcherRegistry interface {
	Get(platform gitmeta.Platform) (gitmeta.Fetcher, error)
	Platforms() []gitmeta.Platform
}

// PluginRegistry resolves plugin names and lists them in registration
// order.
type PluginRegistry interface {
	Get(name string) (gitmeta.Plugin, error)
	Names() []string
}

// Config wires the service's collaborators. Clock, IDs, and Logger
// default to the system clock, UUID generation, and a no-op logger.
type Config struct {
	Store      gitmeta.JobStore
	Queue      gitmeta.Queue
	JobLog     gitmeta.JobLog
	Fetchers   FetcherRegistry
	Plugins    PluginRegistry
	Exporter   *export.Exporter
	Publisher  gitmeta.Publisher
	EventTopic string
	Clock      gitmeta.Clock
	IDs        gitmeta.IDGenerator
	Logger     *zap.Logger
}

// Service owns the fetch job lifecycle.
type Service struct {
	store      gitmeta.JobStore
	queue      gitmeta.Queue
	jobLog     gitmeta.JobLog
	fetchers   FetcherRegistry
	plugins    PluginRegistry
	exporter   *export.Exporter
	publisher  gitmeta.Publisher
	eventTopic string
	clock      gitmeta.Clock
	ids        gitmeta.IDGenerator
	logger     *zap.Logger

	mu      sync.Mutex
	running map[string]*runHandle
}

// runHandle tracks one in-flight job execution so a stop request can
// cancel it and wait until the worker has let go of the job.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Service from the config.
func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = "job-events"
	}
	return &Service{
		store:      cfg.Store,
		queue:      cfg.Queue,
		jobLog:     cfg.JobLog,
		fetchers:   cfg.Fetchers,
		plugins:    cfg.Plugins,
		exporter:   cfg.Exporter,
		publisher:  cfg.Publisher,
		eventTopic: cfg.EventTopic,
		clock:      cfg.Clock,
		ids:        cfg.IDs,
		logger:     cfg.Logger,
		running:    make(map[string]*runHandle),
	}
}

// CreateJobInput carries the fields accepted when creating a job.
type CreateJobInput struct {
	Name            string
	Mode            gitmeta.JobMode
	Platform        gitmeta.Platform
	Settings        *gitmeta.FetchSettings
	RequestedFields []gitmeta.RequestedField
	RawQuery        string
}

// UpdateJobInput carries a partial job update; nil fields are left
// unchanged.
type UpdateJobInput struct {
	JobID           string
	Name            *string
	Mode            *gitmeta.JobMode
	Platform        *gitmeta.Platform
	Settings        *gitmeta.FetchSettings
	RequestedFields []gitmeta.RequestedField
	RawQuery        *string
}

var defaultMergeRequestSubfields = []string{"authorName", "createdAt", "description", "title"}

// flattenRequestedFields converts structured requested fields into the
// flat dotted names the fetchers consume. A mergeRequests entry without
// subfields expands to the full default subfield set.
func flattenRequestedFields(fields []gitmeta.RequestedField) []string {
	flattened := make([]string, 0, len(fields))
	for _, field := range fields {
		if field.Field == "mergeRequests" {
			subs := field.Subfields
			if len(subs) == 0 {
				subs = defaultMergeRequestSubfields
			}
			for _, sub := range subs {
				flattened = append(flattened, "mergeRequests."+sub)
			}
			continue
		}
		flattened = append(flattened, field.Field)
	}
	return flattened
}

// CreateJob validates mode requirements and persists a new job in the
// created state.
func (s *Service) CreateJob(ctx context.Context, input CreateJobInput) (gitmeta.Job, error) {
	var fields []string
	switch input.Mode {
	case gitmeta.ModeAssistant:
		if input.Settings == nil || len(input.RequestedFields) == 0 {
			return gitmeta.Job{}, &invalidInputError{message: "Assistant mode requires fetcher settings and requested fields"}
		}
		fields = flattenRequestedFields(input.RequestedFields)
	case gitmeta.ModeExpert:
		if input.RawQuery == "" {
			return gitmeta.Job{}, &invalidInputError{message: "Expert mode requires a raw query"}
		}
	}

	id, err := s.ids.NewID()
	if err != nil {
		return gitmeta.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := gitmeta.Job{
		ID:        id,
		Name:      input.Name,
		Mode:      input.Mode,
		Platform:  input.Platform,
		State:     gitmeta.JobStateCreated,
		Submitted: s.clock.Now(),
		Settings:  input.Settings,
	}
	if input.Mode == gitmeta.ModeAssistant {
		job.RequestedFields = fields
	}
	if input.Mode == gitmeta.ModeExpert {
		job.RawQuery = input.RawQuery
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return gitmeta.Job{}, fmt.Errorf("create job: %w", err)
	}
	gitmeta.AppendLog(ctx, s.jobLog, job.ID, gitmeta.LogInfo, "Job created")
	s.logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.String("mode", string(job.Mode)),
		zap.String("platform", string(job.Platform)))
	return job, nil
}

// StartJob transitions a job to running and enqueues it for execution.
// Failed and stopped jobs may be started again; successful ones may not.
func (s *Service) StartJob(ctx context.Context, jobID string) (gitmeta.Job, error) {
	job, err := s.validatedJob(ctx, jobID, "", gitmeta.JobStateSuccessful)
	if err != nil {
		return gitmeta.Job{}, err
	}
	if job.State == gitmeta.JobStateFailure || job.State == gitmeta.JobStateStopped {
		gitmeta.AppendLog(ctx, s.jobLog, jobID, gitmeta.LogInfo, "Job resumed")
	}

	now := s.clock.Now()
	job.State = gitmeta.JobStateRunning
	job.Started = &now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return gitmeta.Job{}, fmt.Errorf("update job: %w", err)
	}
	gitmeta.AppendLog(ctx, s.jobLog, jobID, gitmeta.LogInfo, "Execution started")

	item := gitmeta.QueueItem{JobID: jobID, Attempt: 1, Submitted: now.Unix()}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return gitmeta.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("Job queued", zap.String("job_id", jobID), zap.String("platform", string(job.Platform)))
	return s.loadJob(ctx, jobID)
}

// StopJob cancels a running job's execution, waits for the worker to let
// go, and finalizes the job as stopped.
func (s *Service) StopJob(ctx context.Context, jobID string) (gitmeta.Job, error) {
	job, err := s.validatedJob(ctx, jobID, gitmeta.JobStateRunning, "")
	if err != nil {
		return gitmeta.Job{}, err
	}
	s.cancelRun(ctx, jobID)

	if err := s.finalize(ctx, &job, gitmeta.JobStateStopped, "Job was stopped by the user", nil); err != nil {
		return gitmeta.Job{}, err
	}
	gitmeta.AppendLog(ctx, s.jobLog, jobID, gitmeta.LogInfo, "Execution stopped")
	s.logger.Info("Job stopped", zap.String("job_id", jobID))
	return s.loadJob(ctx, jobID)
}

// DeleteJob removes a job that is not currently running.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.validatedJob(ctx, jobID, "", gitmeta.JobStateRunning); err != nil {
		return err
	}
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.logger.Info("Job deleted", zap.String("job_id", jobID))
	return nil
}

// UpdateJob applies a partial configuration update and resets the job to
// the created state. Completed jobs cannot be modified.
func (s *Service) UpdateJob(ctx context.Context, input UpdateJobInput) (gitmeta.Job, error) {
	job, err := s.validatedJob(ctx, input.JobID, "", gitmeta.JobStateRunning)
	if err != nil {
		return gitmeta.Job{}, err
	}
	if job.State == gitmeta.JobStateSuccessful {
		return gitmeta.Job{}, &invalidInputError{message: "Cannot modify completed jobs"}
	}

	if input.Name != nil {
		job.Name = *input.Name
	}
	if input.Mode != nil {
		job.Mode = *input.Mode
	}
	if input.Platform != nil {
		job.Platform = *input.Platform
	}
	if input.Settings != nil {
		job.Settings = input.Settings
	}
	if input.RequestedFields != nil {
		job.RequestedFields = flattenRequestedFields(input.RequestedFields)
	}
	if input.RawQuery != nil {
		job.RawQuery = *input.RawQuery
	}
	job.State = gitmeta.JobStateCreated

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return gitmeta.Job{}, fmt.Errorf("update job: %w", err)
	}
	gitmeta.AppendLog(ctx, s.jobLog, input.JobID, gitmeta.LogInfo, "Configuration updated and reset")
	s.logger.Info("Job updated", zap.String("job_id", input.JobID))
	return s.loadJob(ctx, input.JobID)
}

// ExportJob renders the repository data of a successful job as a CSV
// artifact.
func (s *Service) ExportJob(ctx context.Context, jobID string) (export.Artifact, error) {
	job, err := s.validatedJob(ctx, jobID, gitmeta.JobStateSuccessful, "")
	if err != nil {
		return export.Artifact{}, err
	}
	if len(job.Repos) == 0 {
		return export.Artifact{}, &invalidInputError{message: "No repository data available for this job."}
	}
	artifact, err := s.exporter.ExportRepos(ctx, job)
	if err != nil {
		return export.Artifact{}, err
	}
	s.logger.Info("Job exported",
		zap.String("job_id", jobID),
		zap.String("file", artifact.Name),
		zap.Int("bytes", artifact.Size))
	return artifact, nil
}

// RunPlugin executes a registered plugin against a successful job.
func (s *Service) RunPlugin(ctx context.Context, jobID, pluginName string) (gitmeta.PluginResult, error) {
	job, err := s.validatedJob(ctx, jobID, gitmeta.JobStateSuccessful, "")
	if err != nil {
		return gitmeta.PluginResult{}, err
	}
	result, err := s.executePlugin(ctx, job, pluginName)
	if err != nil {
		gitmeta.AppendLog(ctx, s.jobLog, jobID, gitmeta.LogInfo,
			fmt.Sprintf("Plugin '%s' execution failed: %v", pluginName, err))
		return gitmeta.PluginResult{}, fmt.Errorf("Plugin execution failed: %w", err)
	}
	gitmeta.AppendLog(ctx, s.jobLog, jobID, gitmeta.LogInfo,
		fmt.Sprintf("Plugin '%s' executed successfully.", pluginName))
	return result, nil
}

func (s *Service) executePlugin(ctx context.Context, job gitmeta.Job, name string) (gitmeta.PluginResult, error) {
	p, err := s.plugins.Get(name)
	if err != nil {
		return gitmeta.PluginResult{}, err
	}
	return p.Execute(ctx, job)
}

// validatedJob loads a job and checks its state against an allowed
// and/or disallowed state; passing validation is recorded in the job log.
func (s *Service) validatedJob(ctx context.Context, jobID string, allowed, disallowed gitmeta.JobState) (gitmeta.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, gitmeta.ErrJobNotFound) {
			return gitmeta.Job{}, &notFoundError{message: fmt.Sprintf("Job %s not found", jobID)}
		}
		return gitmeta.Job{}, fmt.Errorf("load job: %w", err)
	}
	if allowed != "" && job.State != allowed {
		return gitmeta.Job{}, &stateError{message: fmt.Sprintf("Invalid state: %s, required %s", job.State, allowed)}
	}
	if disallowed != "" && job.State == disallowed {
		return gitmeta.Job{}, &stateError{message: fmt.Sprintf("Job in forbidden state: %s", disallowed)}
	}
	gitmeta.AppendLog(ctx, s.jobLog, jobID, gitmeta.LogInfo, "Validation passed")
	return job, nil
}

// finalize stamps a terminal state and execution time onto the job,
// persists it, and publishes the lifecycle event. When repos is non-nil
// it becomes the job's repository data and the log message carries the
// record count.
func (s *Service) finalize(ctx context.Context, job *gitmeta.Job, state gitmeta.JobState, message string, repos []gitmeta.RepoRecord) error {
	if job.Started == nil {
		return errors.New("Cannot finalize unstarted job")
	}
	now := s.clock.Now()
	job.State = state
	job.Finished = &now
	seconds := now.Sub(*job.Started).Seconds()
	job.ExecutionSeconds = &seconds
	if repos != nil {
		job.Repos = repos
		message = fmt.Sprintf("%s with %d repositories", message, len(repos))
	}
	gitmeta.AppendLog(ctx, s.jobLog, job.ID, gitmeta.LogInfo, fmt.Sprintf("%s (%vs)", message, seconds))
	if err := s.store.UpdateJob(ctx, *job); err != nil {
		return fmt.Errorf("finalize job %s: %w", job.ID, err)
	}
	s.publishEvent(ctx, *job)
	return nil
}

// jobEvent is the lifecycle message published on job completion.
type jobEvent struct {
	JobID            string  `json:"job_id"`
	State            string  `json:"state"`
	Platform         string  `json:"platform"`
	Records          int     `json:"records"`
	ExecutionSeconds float64 `json:"execution_seconds"`
}

func (s *Service) publishEvent(ctx context.Context, job gitmeta.Job) {
	if s.publisher == nil {
		return
	}
	records := len(job.Repos)
	if job.RawResult != nil {
		records = job.RawResult.RepoCount
	}
	event := jobEvent{
		JobID:    job.ID,
		State:    string(job.State),
		Platform: string(job.Platform),
		Records:  records,
	}
	if job.ExecutionSeconds != nil {
		event.ExecutionSeconds = *job.ExecutionSeconds
	}
	if _, err := s.publisher.Publish(ctx, s.eventTopic, event); err != nil {
		s.logger.Warn("Publish job event failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Service) loadJob(ctx context.Context, jobID string) (gitmeta.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return gitmeta.Job{}, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (s *Service) registerRun(jobID string, handle *runHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobID] = handle
}

// releaseRun drops the handle registered for jobID if it is still the
// given one; a newer run for the same job keeps its own registration.
func (s *Service) releaseRun(jobID string, handle *runHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[jobID] == handle {
		delete(s.running, jobID)
	}
}

// cancelRun cancels the in-flight execution of jobID, if any, and waits
// until the worker has finished or the caller's context expires.
func (s *Service) cancelRun(ctx context.Context, jobID string) {
	s.mu.Lock()
	handle, ok := s.running[jobID]
	if ok {
		delete(s.running, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	handle.cancel()
	select {
	case <-handle.done:
	case <-ctx.Done():
	}
}
