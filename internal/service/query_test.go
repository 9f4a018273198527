package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/plugin"
)

func TestGetJobFiltersDebugLines(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())
	job := createAssistantJob(t, env)

	ctx := context.Background()
	require.NoError(t, env.store.AppendLog(ctx, job.ID, "2024-05-17T14:30:00.000000 - INFO - Job created"))
	require.NoError(t, env.store.AppendLog(ctx, job.ID, "2024-05-17T14:30:01.500000 - DEBUG - Query payload dumped"))

	filtered, err := env.service.GetJob(ctx, job.ID, false)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-05-17T14:30:00.000000 - INFO - Job created"}, filtered.Log)

	full, err := env.service.GetJob(ctx, job.ID, true)
	require.NoError(t, err)
	require.Len(t, full.Log, 2)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())

	_, err := env.service.GetJob(context.Background(), "nope", false)
	require.EqualError(t, err, "No job found with the given ID: nope")
	require.ErrorIs(t, err, gitmeta.ErrJobNotFound)
}

func TestListJobsFiltersDebugLines(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())
	first := createAssistantJob(t, env)
	second := createAssistantJob(t, env)

	ctx := context.Background()
	require.NoError(t, env.store.AppendLog(ctx, first.ID, "2024-05-17T14:30:00.000000 - DEBUG - Token budget snapshot"))
	require.NoError(t, env.store.AppendLog(ctx, second.ID, "2024-05-17T14:30:00.000000 - INFO - Job created"))

	jobs, err := env.service.ListJobs(ctx, false)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	byID := make(map[string]gitmeta.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	require.NotNil(t, byID[first.ID].Log)
	require.Empty(t, byID[first.ID].Log)
	require.Equal(t, []string{"2024-05-17T14:30:00.000000 - INFO - Job created"}, byID[second.ID].Log)
}

func TestExportJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())
	job := seedSuccessfulJob(t, env, []gitmeta.RepoRecord{
		{Name: strPtr("alpha"), Languages: []string{"Go"}},
	})

	artifact, err := env.service.ExportJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, "fetch_job_job-1_20240517_1430.csv", artifact.Name)
	require.Equal(t, "http://localhost:8080/files/fetch_job_job-1_20240517_1430.csv", artifact.URL)
	require.NotZero(t, artifact.Size)
}

func TestExportJobWithoutRepos(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())
	job := seedSuccessfulJob(t, env, nil)

	_, err := env.service.ExportJob(context.Background(), job.ID)
	require.EqualError(t, err, "No repository data available for this job.")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestExportJobRequiresSuccess(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())
	job := createAssistantJob(t, env)

	_, err := env.service.ExportJob(context.Background(), job.ID)
	require.EqualError(t, err, "Invalid state: created, required successful")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRunPlugin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())
	job := seedSuccessfulJob(t, env, []gitmeta.RepoRecord{
		{Name: strPtr("alpha"), Languages: []string{"Go"}},
		{Name: strPtr("beta"), Languages: []string{"Go"}},
	})

	result, err := env.service.RunPlugin(context.Background(), job.ID, "LANGUAGE_METRICS")
	require.NoError(t, err)
	require.Equal(t, "Language plugin CSVs exported.", result.Message)
	require.Len(t, result.URLs, 1)
	require.Equal(t, "language_metrics_csv", result.URLs[0].Name)
	require.Equal(t, "http://localhost:8080/files/language_metrics_job-1.csv", result.URLs[0].URL)

	messages := env.log.messages()
	require.Contains(t, messages, "Validation passed")
	require.Contains(t, messages, "Plugin 'LANGUAGE_METRICS' executed successfully.")
}

func TestRunPluginUnknownName(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())
	job := seedSuccessfulJob(t, env, []gitmeta.RepoRecord{{Name: strPtr("alpha")}})

	_, err := env.service.RunPlugin(context.Background(), job.ID, "NOPE")
	require.EqualError(t, err, "Plugin execution failed: Plugin 'NOPE' not found.")
	require.ErrorIs(t, err, plugin.ErrNotFound)
	require.Contains(t, env.log.messages(), "Plugin 'NOPE' execution failed: Plugin 'NOPE' not found.")
}

func TestPlugins(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())

	infos := env.service.Plugins()
	require.Equal(t, []PluginInfo{{
		Name:        "LANGUAGE_METRICS",
		Description: "Calculates statistics for each programming language across the fetched repositories",
	}}, infos)
}

func TestDebugRawQuery(t *testing.T) {
	t.Parallel()
	stub := githubFetcher()
	stub.raw = gitmeta.RawResult{Response: json.RawMessage(`{"data":{}}`), RepoCount: 3}
	env := newTestEnv(t, stub)

	raw, err := env.service.DebugRawQuery(context.Background(), gitmeta.PlatformGitHub, "query { viewer { login } }")
	require.NoError(t, err)
	require.Equal(t, 3, raw.RepoCount)
	require.Equal(t, "query { viewer { login } }", stub.query())
}

func TestDebugRawQueryRejectsEmptyQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())

	_, err := env.service.DebugRawQuery(context.Background(), gitmeta.PlatformGitHub, "   ")
	require.EqualError(t, err, "Query cannot be empty")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestDebugRawQueryUnknownPlatform(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, githubFetcher())

	_, err := env.service.DebugRawQuery(context.Background(), gitmeta.PlatformBitbucket, "query {}")
	require.EqualError(t, err, "No fetcher for bitbucket")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestDebugRawQueryFetchFailure(t *testing.T) {
	t.Parallel()
	stub := githubFetcher()
	stub.err = errors.New("boom")
	env := newTestEnv(t, stub)

	_, err := env.service.DebugRawQuery(context.Background(), gitmeta.PlatformGitHub, "query {}")
	require.EqualError(t, err, "Query execution failed: boom")
}
