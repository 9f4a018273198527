// Package gitmeta defines core types shared across subsystems.
package gitmeta

import (
	"encoding/json"
	"time"
)

// Platform identifies a supported git hosting provider.
type Platform string

// Platform values persisted in the job store.
const (
	PlatformGitHub    Platform = "github"
	PlatformGitLab    Platform = "gitlab"
	PlatformBitbucket Platform = "bitbucket"
)

// Valid reports whether p names a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformGitHub, PlatformGitLab, PlatformBitbucket:
		return true
	}
	return false
}

// JobState represents the lifecycle state of a fetch job.
type JobState string

// Job state values persisted in the job store.
const (
	JobStateCreated    JobState = "created"
	JobStateRunning    JobState = "running"
	JobStateSuccessful JobState = "successful"
	JobStateStopped    JobState = "stopped"
	JobStateFailure    JobState = "failure"
)

// Valid reports whether s names a known job state.
func (s JobState) Valid() bool {
	switch s {
	case JobStateCreated, JobStateRunning, JobStateSuccessful, JobStateStopped, JobStateFailure:
		return true
	}
	return false
}

// JobMode selects how a job builds its platform queries.
type JobMode string

// Assistant mode builds queries from typed settings; expert mode runs a
// caller-supplied raw query verbatim.
const (
	ModeAssistant JobMode = "assistant"
	ModeExpert    JobMode = "expert"
)

// LogLevel classifies a job log line.
type LogLevel string

// Log levels embedded in persisted job log lines.
const (
	LogDebug   LogLevel = "DEBUG"
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// FetchSettings captures per-job query knobs requested by the client.
type FetchSettings struct {
	RepoCount           int    `json:"repo_count"`
	MaxMergeRequests    int    `json:"max_merge_requests"`
	SearchTerm          string `json:"search_term,omitempty"`
	ProgrammingLanguage string `json:"programming_language,omitempty"`
}

// RequestedField names a repository field the client wants populated,
// optionally narrowed to subfields (merge requests).
type RequestedField struct {
	Field     string   `json:"field"`
	Subfields []string `json:"subfields,omitempty"`
}

// MergeRequest holds the requested subset of merge request metadata.
// Nil means the field was never requested; a pointer to the zero value
// means it was requested but absent in the provider response.
type MergeRequest struct {
	AuthorName  *string `json:"author_name,omitempty"`
	CreatedAt   *string `json:"created_at,omitempty"`
	Description *string `json:"description,omitempty"`
	Title       *string `json:"title,omitempty"`
}

// RepoRecord holds the requested subset of repository metadata. The same
// nil-versus-zero convention as MergeRequest applies to every field; the
// slices use omitzero so a requested-but-empty list still serializes as [].
type RepoRecord struct {
	Name          *string        `json:"name,omitempty"`
	FullName      *string        `json:"full_name,omitempty"`
	Description   *string        `json:"description,omitempty"`
	StarCount     *int           `json:"star_count,omitempty"`
	CreatedAt     *string        `json:"created_at,omitempty"`
	UpdatedAt     *string        `json:"updated_at,omitempty"`
	Languages     []string       `json:"languages,omitzero"`
	MergeRequests []MergeRequest `json:"merge_requests,omitzero"`
}

// Job represents the metadata persisted for each submitted fetch request.
type Job struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Mode             JobMode        `json:"mode"`
	Platform         Platform       `json:"platform"`
	State            JobState       `json:"state"`
	Submitted        time.Time      `json:"submitted_at"`
	Started          *time.Time     `json:"started_at,omitempty"`
	Finished         *time.Time     `json:"finished_at,omitempty"`
	ExecutionSeconds *float64       `json:"execution_seconds,omitempty"`
	Settings         *FetchSettings `json:"settings,omitempty"`
	RequestedFields  []string       `json:"requested_fields,omitempty"`
	RawQuery         string         `json:"raw_query,omitempty"`
	RawResult        *RawResult     `json:"raw_result,omitempty"`
	Repos            []RepoRecord   `json:"repos,omitempty"`
	Log              []string       `json:"log,omitempty"`
}

// FetchSpec captures everything a fetcher needs to run an assistant-mode job.
type FetchSpec struct {
	RepoCount           int
	MaxMergeRequests    int
	SearchTerm          string
	ProgrammingLanguage string
	Fields              []string
}

// RawResult is returned by expert-mode raw query execution. Duration is
// in seconds to match the job execution time unit.
type RawResult struct {
	Response  json.RawMessage `json:"response"`
	RepoCount int             `json:"repo_count"`
	Duration  float64         `json:"duration"`
}

// PluginURL points at an artifact produced by a plugin run.
type PluginURL struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PluginResult is returned by a plugin execution.
type PluginResult struct {
	URLs    []PluginURL `json:"urls"`
	Message string      `json:"message"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Attempt   int
	Submitted int64
}
