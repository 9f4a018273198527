package gitmeta

import (
	"context"
	"io"
	"time"
)

// JobStore persists job metadata and logs. UpdateJob never touches the
// stored log; lines only grow through AppendLog, so callers holding a
// stale job value cannot wipe lines appended since it was loaded.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	AppendLog(ctx context.Context, jobID string, line string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// JobLog appends a line to a job's execution log. Implementations fan the
// line out to the store and the process logger.
type JobLog interface {
	Append(ctx context.Context, jobID string, level LogLevel, message string)
}

// AppendLog writes to the job log when one is attached. Fetch paths run
// with or without a job behind them, so a nil log is fine.
func AppendLog(ctx context.Context, log JobLog, jobID string, level LogLevel, message string) {
	if log == nil {
		return
	}
	log.Append(ctx, jobID, level, message)
}

// Fetcher retrieves repository metadata from one platform.
type Fetcher interface {
	Platform() Platform
	FetchRepos(ctx context.Context, spec FetchSpec, log JobLog, jobID string) ([]RepoRecord, error)
	FetchRaw(ctx context.Context, query string, log JobLog, jobID string) (RawResult, error)
}

// Plugin post-processes the repository data of a finished job.
type Plugin interface {
	Name() string
	Description() string
	Execute(ctx context.Context, job Job) (PluginResult, error)
}

// Queue provides enqueue/dequeue semantics for fetch jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
