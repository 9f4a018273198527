package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

func sampleJob() gitmeta.Job {
	return gitmeta.Job{
		ID:        "j1",
		Name:      "crawl tools",
		Mode:      gitmeta.ModeAssistant,
		Platform:  gitmeta.PlatformGitHub,
		State:     gitmeta.JobStateCreated,
		Submitted: time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC),
		Settings: &gitmeta.FetchSettings{
			RepoCount:        2,
			MaxMergeRequests: 3,
			SearchTerm:       "cli",
		},
		RequestedFields: []string{"name", "starCount"},
		Log:             []string{"2024-05-17T14:30:00.000000 - INFO - Job created"},
	}
}

// sampleJobArgs mirrors the positional order of the update statement; the
// insert statement adds the rendered log as a final argument.
func sampleJobArgs(t *testing.T, job gitmeta.Job) []any {
	t.Helper()
	settings, err := json.Marshal(job.Settings)
	require.NoError(t, err)
	fields, err := json.Marshal(job.RequestedFields)
	require.NoError(t, err)
	return []any{
		job.ID, job.Name, string(job.Mode), string(job.Platform), string(job.State),
		job.Submitted, (*time.Time)(nil), (*time.Time)(nil), (*float64)(nil),
		settings, fields, "", []byte(nil), []byte(nil),
	}
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *JobStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewJobStoreWithPool(mock, "jobs")
	require.NoError(t, err)
	return mock, store
}

func TestCreateJob(t *testing.T) {
	mock, store := newMockStore(t)
	job := sampleJob()

	logJSON, err := json.Marshal(job.Log)
	require.NoError(t, err)
	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(append(sampleJobArgs(t, job), logJSON)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJob(t *testing.T) {
	mock, store := newMockStore(t)
	job := sampleJob()

	mock.ExpectExec("UPDATE jobs SET name").
		WithArgs(sampleJobArgs(t, job)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobNotFound(t *testing.T) {
	mock, store := newMockStore(t)
	job := sampleJob()

	mock.ExpectExec("UPDATE jobs SET name").
		WithArgs(sampleJobArgs(t, job)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJob(context.Background(), job)
	require.ErrorIs(t, err, gitmeta.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func jobColumnNames() []string {
	return []string{
		"id", "name", "mode", "platform", "state", "submitted_at", "started_at",
		"finished_at", "execution_seconds", "settings", "requested_fields",
		"raw_query", "raw_result", "repos", "log",
	}
}

func TestGetJob(t *testing.T) {
	mock, store := newMockStore(t)

	submitted := time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC)
	started := submitted.Add(time.Second)
	finished := submitted.Add(3 * time.Second)
	execSeconds := 2.0
	settingsJSON := []byte(`{"repo_count":2,"max_merge_requests":3}`)
	fieldsJSON := []byte(`["name","starCount"]`)
	reposJSON := []byte(`[{"name":"alpha","star_count":12}]`)
	logJSON := []byte(`["2024-05-17T14:30:00.000000 - INFO - Job created"]`)

	rows := pgxmock.NewRows(jobColumnNames()).AddRow(
		"j1", "crawl tools", "assistant", "github", "successful",
		submitted, &started, &finished, &execSeconds,
		settingsJSON, fieldsJSON, "", []byte(nil), reposJSON, logJSON,
	)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("j1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, "j1", job.ID)
	require.Equal(t, gitmeta.ModeAssistant, job.Mode)
	require.Equal(t, gitmeta.JobStateSuccessful, job.State)
	require.NotNil(t, job.Started)
	require.Equal(t, started, *job.Started)
	require.NotNil(t, job.ExecutionSeconds)
	require.Equal(t, 2.0, *job.ExecutionSeconds)
	require.NotNil(t, job.Settings)
	require.Equal(t, 2, job.Settings.RepoCount)
	require.Equal(t, []string{"name", "starCount"}, job.RequestedFields)
	require.Len(t, job.Repos, 1)
	require.Equal(t, "alpha", *job.Repos[0].Name)
	require.Equal(t, 12, *job.Repos[0].StarCount)
	require.Len(t, job.Log, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, gitmeta.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobs(t *testing.T) {
	mock, store := newMockStore(t)

	first := time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC)
	second := first.Add(time.Minute)
	rows := pgxmock.NewRows(jobColumnNames()).
		AddRow("j1", "one", "assistant", "github", "created", first,
			(*time.Time)(nil), (*time.Time)(nil), (*float64)(nil),
			[]byte(nil), []byte(nil), "", []byte(nil), []byte(nil), []byte(`[]`)).
		AddRow("j2", "two", "expert", "gitlab", "created", second,
			(*time.Time)(nil), (*time.Time)(nil), (*float64)(nil),
			[]byte(nil), []byte(nil), "query { }", []byte(nil), []byte(nil), []byte(`[]`))
	mock.ExpectQuery("SELECT (.+) FROM jobs ORDER BY submitted_at").
		WillReturnRows(rows)

	jobs, err := store.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "j1", jobs[0].ID)
	require.Equal(t, "j2", jobs[1].ID)
	require.Equal(t, gitmeta.ModeExpert, jobs[1].Mode)
	require.Equal(t, "query { }", jobs[1].RawQuery)
	require.Nil(t, jobs[0].Settings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteJobNotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("DELETE FROM jobs").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteJob(context.Background(), "missing")
	require.ErrorIs(t, err, gitmeta.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLog(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET log").
		WithArgs("j1", []byte(`["2024-05-17T14:30:01.000000 - INFO - Execution started"]`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.AppendLog(context.Background(), "j1", "2024-05-17T14:30:01.000000 - INFO - Execution started")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLogNotFound(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET log").
		WithArgs("missing", []byte(`["line"]`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.AppendLog(context.Background(), "missing", "line")
	require.ErrorIs(t, err, gitmeta.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewJobStoreWithPoolRejectsBadTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "jobs; drop table jobs")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid table name")
}
