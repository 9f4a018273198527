package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := gitmeta.Job{
		ID:        "job-1",
		Name:      "crawl tools",
		Mode:      gitmeta.ModeAssistant,
		Platform:  gitmeta.PlatformGitHub,
		State:     gitmeta.JobStateCreated,
		Submitted: time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC),
		Settings:  &gitmeta.FetchSettings{RepoCount: 2},
	}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}

	job.State = gitmeta.JobStateRunning
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	if err := store.AppendLog(ctx, job.ID, "2024-05-17T14:30:01.000000 - INFO - Execution started"); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}

	// Updating with a stale job value must not wipe appended log lines.
	job.Name = "crawl tools v2"
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.State != gitmeta.JobStateRunning || got.Name != "crawl tools v2" || len(got.Log) != 1 {
		t.Fatalf("unexpected job after update: %+v", got)
	}

	got.Log[0] = "modified"
	got.Settings.RepoCount = 99
	if store.jobs[job.ID].Log[0] != "2024-05-17T14:30:01.000000 - INFO - Execution started" {
		t.Fatal("expected GetJob to return a copy of the log")
	}
	if store.jobs[job.ID].Settings.RepoCount != 2 {
		t.Fatal("expected GetJob to return a copy of the settings")
	}

	if err := store.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if _, err := store.GetJob(ctx, job.ID); !errors.Is(err, gitmeta.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	if err := store.UpdateJob(ctx, gitmeta.Job{ID: "nope"}); !errors.Is(err, gitmeta.ErrJobNotFound) {
		t.Fatalf("UpdateJob: expected ErrJobNotFound, got %v", err)
	}
	if err := store.DeleteJob(ctx, "nope"); !errors.Is(err, gitmeta.ErrJobNotFound) {
		t.Fatalf("DeleteJob: expected ErrJobNotFound, got %v", err)
	}
	if err := store.AppendLog(ctx, "nope", "line"); !errors.Is(err, gitmeta.ErrJobNotFound) {
		t.Fatalf("AppendLog: expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreListOrder(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC)

	jobs := []gitmeta.Job{
		{ID: "b", Submitted: base.Add(time.Minute)},
		{ID: "c", Submitted: base},
		{ID: "a", Submitted: base},
	}
	for _, job := range jobs {
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob(%s) error = %v", job.ID, err)
		}
	}

	listed, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	var ids []string
	for _, job := range listed {
		ids = append(ids, job.ID)
	}
	want := []string{"a", "c", "b"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("unexpected order: got %v want %v", ids, want)
		}
	}
}
