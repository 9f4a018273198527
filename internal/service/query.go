package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/joblog"
)

// GetJob returns one job. Unless includeDebug is set, DEBUG lines are
// stripped from the returned log.
func (s *Service) GetJob(ctx context.Context, jobID string, includeDebug bool) (gitmeta.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, gitmeta.ErrJobNotFound) {
			return gitmeta.Job{}, &notFoundError{message: fmt.Sprintf("No job found with the given ID: %s", jobID)}
		}
		return gitmeta.Job{}, fmt.Errorf("load job: %w", err)
	}
	if !includeDebug {
		job.Log = stripDebugLines(job.Log)
	}
	return job, nil
}

// ListJobs returns every job, oldest first. Unless includeDebug is set,
// DEBUG lines are stripped from each job's log.
func (s *Service) ListJobs(ctx context.Context, includeDebug bool) ([]gitmeta.Job, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if !includeDebug {
		for i := range jobs {
			jobs[i].Log = stripDebugLines(jobs[i].Log)
		}
	}
	return jobs, nil
}

func stripDebugLines(lines []string) []string {
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		if joblog.IsDebugLine(line) {
			continue
		}
		filtered = append(filtered, line)
	}
	return filtered
}

// SupportedPlatforms lists the platforms a fetcher is configured for.
// Platforms without credentials are absent even though the job API
// accepts their names.
func (s *Service) SupportedPlatforms() []gitmeta.Platform {
	return s.fetchers.Platforms()
}

// PluginInfo describes one registered plugin.
type PluginInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Plugins lists the registered plugins in registration order.
func (s *Service) Plugins() []PluginInfo {
	names := s.plugins.Names()
	infos := make([]PluginInfo, 0, len(names))
	for _, name := range names {
		p, err := s.plugins.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, PluginInfo{Name: p.Name(), Description: p.Description()})
	}
	return infos
}

// DebugRawQuery runs a raw platform query without creating a job. Meant
// for interactive debugging of query syntax.
func (s *Service) DebugRawQuery(ctx context.Context, platform gitmeta.Platform, query string) (gitmeta.RawResult, error) {
	if strings.TrimSpace(query) == "" {
		s.logger.Error("Empty query received")
		return gitmeta.RawResult{}, &invalidInputError{message: "Query cannot be empty"}
	}
	fetcher, err := s.fetchers.Get(platform)
	if err != nil {
		s.logger.Error("Unsupported platform", zap.String("platform", string(platform)))
		return gitmeta.RawResult{}, &invalidInputError{message: fmt.Sprintf("No fetcher for %s", platform)}
	}
	result, err := fetcher.FetchRaw(ctx, query, nil, "")
	if err != nil {
		s.logger.Error("Query failure", zap.String("query", truncateQuery(query)), zap.Error(err))
		return gitmeta.RawResult{}, fmt.Errorf("Query execution failed: %w", err)
	}
	s.logger.Info("Raw query executed successfully")
	return result, nil
}

func truncateQuery(query string) string {
	const limit = 100
	if len(query) <= limit {
		return query
	}
	return query[:limit] + "..."
}
