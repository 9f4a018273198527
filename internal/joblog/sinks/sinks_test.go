package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/joblog"
)

type stubJobStore struct {
	gitmeta.JobStore

	lines   map[string][]string
	failFor string
}

func newStubJobStore() *stubJobStore {
	return &stubJobStore{lines: make(map[string][]string)}
}

func (s *stubJobStore) AppendLog(_ context.Context, jobID, line string) error {
	if jobID == s.failFor {
		return errors.New("job not found")
	}
	s.lines[jobID] = append(s.lines[jobID], line)
	return nil
}

func event(jobID, message string) joblog.Event {
	return joblog.Event{
		JobID:   jobID,
		TS:      time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC),
		Level:   gitmeta.LogInfo,
		Message: message,
	}
}

func TestStoreSinkPersistsLines(t *testing.T) {
	t.Parallel()

	store := newStubJobStore()
	sink := NewStoreSink(store, zap.NewNop())

	batch := []joblog.Event{event("job-1", "Job created"), event("job-1", "Execution started")}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{
		"2024-05-17T14:30:00.000000 - INFO - Job created",
		"2024-05-17T14:30:00.000000 - INFO - Execution started",
	}, store.lines["job-1"])
}

func TestStoreSinkKeepsGoingOnFailure(t *testing.T) {
	t.Parallel()

	store := newStubJobStore()
	store.failFor = "gone"
	sink := NewStoreSink(store, zap.NewNop())

	batch := []joblog.Event{event("gone", "orphan line"), event("job-2", "still lands")}
	err := sink.Consume(context.Background(), batch)
	require.Error(t, err)
	require.Contains(t, err.Error(), "append log for job gone")
	require.Len(t, store.lines["job-2"], 1)
}

func TestLogSinkHandlesAllLevels(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(zap.NewNop())
	batch := []joblog.Event{
		{JobID: "j", TS: time.Now(), Level: gitmeta.LogDebug, Message: "d"},
		{JobID: "j", TS: time.Now(), Level: gitmeta.LogInfo, Message: "i"},
		{JobID: "j", TS: time.Now(), Level: gitmeta.LogWarning, Message: "w"},
		{JobID: "j", TS: time.Now(), Level: gitmeta.LogError, Message: "e"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	sink := NewPrometheusSink()
	batch := []joblog.Event{event("job-1", "one"), event("job-1", "two")}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))
}
