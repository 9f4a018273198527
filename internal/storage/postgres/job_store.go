// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// JobStoreConfig controls the Postgres connection pool used for jobs.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists jobs in a single table; result and log payloads live
// in JSONB columns.
type JobStore struct {
	pool  dbConn
	table string
}

// NewJobStore connects a pool using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool dbConn, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	mode TEXT NOT NULL,
	platform TEXT NOT NULL,
	state TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	execution_seconds DOUBLE PRECISION,
	settings JSONB,
	requested_fields JSONB,
	raw_query TEXT NOT NULL DEFAULT '',
	raw_result JSONB,
	repos JSONB,
	log JSONB NOT NULL DEFAULT '[]'::jsonb
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

const jobColumns = `id, name, mode, platform, state, submitted_at, started_at, finished_at, execution_seconds, settings, requested_fields, raw_query, raw_result, repos, log`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job gitmeta.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	logJSON := []byte("[]")
	if job.Log != nil {
		logJSON, err = json.Marshal(job.Log)
		if err != nil {
			return fmt.Errorf("marshal log: %w", err)
		}
	}
	args = append(args, logJSON)
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		s.table, jobColumns)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob replaces a stored job row. The log column is left untouched;
// log lines only ever grow through AppendLog, so a caller holding a stale
// job value cannot wipe lines appended since it was loaded.
func (s *JobStore) UpdateJob(ctx context.Context, job gitmeta.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET name=$2, mode=$3, platform=$4, state=$5, submitted_at=$6,
started_at=$7, finished_at=$8, execution_seconds=$9, settings=$10, requested_fields=$11,
raw_query=$12, raw_result=$13, repos=$14 WHERE id=$1`, s.table)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, gitmeta.ErrJobNotFound)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (gitmeta.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return gitmeta.Job{}, fmt.Errorf("get job %s: %w", jobID, gitmeta.ErrJobNotFound)
	}
	if err != nil {
		return gitmeta.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns every job ordered by submission time, oldest first.
func (s *JobStore) ListJobs(ctx context.Context) ([]gitmeta.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY submitted_at, id`, jobColumns, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []gitmeta.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job row.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete job %s: %w", jobID, gitmeta.ErrJobNotFound)
	}
	return nil
}

// AppendLog appends one rendered line to the job's log array.
func (s *JobStore) AppendLog(ctx context.Context, jobID, line string) error {
	entry, err := json.Marshal([]string{line})
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET log = log || $2::jsonb WHERE id=$1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, entry)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append log for job %s: %w", jobID, gitmeta.ErrJobNotFound)
	}
	return nil
}

func jobArgs(job gitmeta.Job) ([]any, error) {
	settings, err := marshalNullable(job.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	fields, err := marshalNullable(job.RequestedFields)
	if err != nil {
		return nil, fmt.Errorf("marshal requested fields: %w", err)
	}
	rawResult, err := marshalNullable(job.RawResult)
	if err != nil {
		return nil, fmt.Errorf("marshal raw result: %w", err)
	}
	repos, err := marshalNullable(job.Repos)
	if err != nil {
		return nil, fmt.Errorf("marshal repos: %w", err)
	}
	return []any{
		job.ID,
		job.Name,
		string(job.Mode),
		string(job.Platform),
		string(job.State),
		job.Submitted,
		job.Started,
		job.Finished,
		job.ExecutionSeconds,
		settings,
		fields,
		job.RawQuery,
		rawResult,
		repos,
	}, nil
}

// marshalNullable keeps empty payloads as SQL NULL instead of JSON null.
func marshalNullable(value any) ([]byte, error) {
	switch v := value.(type) {
	case *gitmeta.FetchSettings:
		if v == nil {
			return nil, nil
		}
	case *gitmeta.RawResult:
		if v == nil {
			return nil, nil
		}
	case []string:
		if v == nil {
			return nil, nil
		}
	case []gitmeta.RepoRecord:
		if v == nil {
			return nil, nil
		}
	}
	return json.Marshal(value)
}

func scanJob(row pgx.Row) (gitmeta.Job, error) {
	var (
		job       gitmeta.Job
		mode      string
		platform  string
		state     string
		settings  []byte
		fields    []byte
		rawResult []byte
		repos     []byte
		logLines  []byte
	)
	err := row.Scan(
		&job.ID,
		&job.Name,
		&mode,
		&platform,
		&state,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ExecutionSeconds,
		&settings,
		&fields,
		&job.RawQuery,
		&rawResult,
		&repos,
		&logLines,
	)
	if err != nil {
		return gitmeta.Job{}, err
	}
	job.Mode = gitmeta.JobMode(mode)
	job.Platform = gitmeta.Platform(platform)
	job.State = gitmeta.JobState(state)
	if len(settings) > 0 {
		job.Settings = &gitmeta.FetchSettings{}
		if err := json.Unmarshal(settings, job.Settings); err != nil {
			return gitmeta.Job{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &job.RequestedFields); err != nil {
			return gitmeta.Job{}, fmt.Errorf("decode requested fields: %w", err)
		}
	}
	if len(rawResult) > 0 {
		job.RawResult = &gitmeta.RawResult{}
		if err := json.Unmarshal(rawResult, job.RawResult); err != nil {
			return gitmeta.Job{}, fmt.Errorf("decode raw result: %w", err)
		}
	}
	if len(repos) > 0 {
		if err := json.Unmarshal(repos, &job.Repos); err != nil {
			return gitmeta.Job{}, fmt.Errorf("decode repos: %w", err)
		}
	}
	if len(logLines) > 0 {
		if err := json.Unmarshal(logLines, &job.Log); err != nil {
			return gitmeta.Job{}, fmt.Errorf("decode log: %w", err)
		}
	}
	return job, nil
}
