package parse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// TestBatchSize pins the clamped batch sizing formula.
func TestBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		totalNodes int
		repoCount  int
		want       int
	}{
		{totalNodes: 100, repoCount: 1000, want: 5},
		{totalNodes: 200, repoCount: 10, want: 20},
		{totalNodes: 60, repoCount: 40, want: 15},
		{totalNodes: 3, repoCount: 5, want: 5},
		{totalNodes: 0, repoCount: 100, want: 5},
		{totalNodes: 18, repoCount: 0, want: 18},
	}
	for _, tt := range tests {
		got := BatchSize(tt.totalNodes, tt.repoCount)
		require.Equal(t, tt.want, got, "BatchSize(%d, %d)", tt.totalNodes, tt.repoCount)
	}
}

// TestParseKeepsOrderAndDropsBadNodes verifies per-node failures are
// logged and dropped while survivors keep input order.
func TestParseKeepsOrderAndDropsBadNodes(t *testing.T) {
	t.Parallel()

	nodes := make([]any, 0, 12)
	for i := 0; i < 12; i++ {
		if i == 4 {
			nodes = append(nodes, "junk entry")
			continue
		}
		nodes = append(nodes, map[string]any{"name": fmt.Sprintf("repo-%02d", i)})
	}

	parser := NewBatchParser(4)
	log := newBatchLog()
	records := parser.Parse(context.Background(), nodes, 10, func(node map[string]any) (gitmeta.RepoRecord, error) {
		name := node["name"].(string)
		return gitmeta.RepoRecord{Name: &name}, nil
	}, log, "job-1")

	require.Len(t, records, 11)
	for i := 1; i < len(records); i++ {
		require.Less(t, *records[i-1].Name, *records[i].Name, "order must follow input")
	}
	require.True(t, log.contains("Skipping invalid repository node"))
	require.True(t, log.contains("Successfully parsed 11 nodes."))
}

// TestParseEmptyNodes short-circuits with a warning.
func TestParseEmptyNodes(t *testing.T) {
	t.Parallel()

	parser := NewBatchParser(4)
	log := newBatchLog()
	records := parser.Parse(context.Background(), nil, 10, func(map[string]any) (gitmeta.RepoRecord, error) {
		return gitmeta.RepoRecord{}, nil
	}, log, "job-2")

	require.Empty(t, records)
	require.True(t, log.contains("No valid nodes to parse."))
}

// TestParseFuncErrorsAreDropped routes parse errors into the job log.
func TestParseFuncErrorsAreDropped(t *testing.T) {
	t.Parallel()

	nodes := []any{
		map[string]any{"name": "good"},
		map[string]any{"name": "bad"},
	}
	parser := NewBatchParser(1)
	log := newBatchLog()
	records := parser.Parse(context.Background(), nodes, 1, func(node map[string]any) (gitmeta.RepoRecord, error) {
		if node["name"] == "bad" {
			return gitmeta.RepoRecord{}, errors.New("boom")
		}
		name := node["name"].(string)
		return gitmeta.RepoRecord{Name: &name}, nil
	}, log, "job-3")

	require.Len(t, records, 1)
	require.True(t, log.contains("Error parsing node: boom"))
}

// TestParseProgressLogging emits the batching header and a completion line.
func TestParseProgressLogging(t *testing.T) {
	t.Parallel()

	nodes := make([]any, 10)
	for i := range nodes {
		nodes[i] = map[string]any{"name": "x"}
	}
	parser := NewBatchParser(2)
	log := newBatchLog()
	parser.Parse(context.Background(), nodes, 10, func(map[string]any) (gitmeta.RepoRecord, error) {
		return gitmeta.RepoRecord{}, nil
	}, log, "job-4")

	require.True(t, log.contains("Processing 10 nodes in batches of"))
	require.True(t, log.contains("Processing progress: 100% (10/10) completed."))
}

// TestProgressTrackerSteps fires on the first update, new deciles and completion.
func TestProgressTrackerSteps(t *testing.T) {
	t.Parallel()

	tracker := newProgressTracker()

	message, logged := tracker.step("Processing", 1, 100)
	require.True(t, logged, "first update reports the opening decile")
	require.Equal(t, "Processing progress: 1% (1/100) completed.", message)

	_, logged = tracker.step("Processing", 9, 100)
	require.False(t, logged, "same decile must not repeat")

	message, logged = tracker.step("Processing", 10, 100)
	require.True(t, logged)
	require.Equal(t, "Processing progress: 10% (10/100) completed.", message)

	message, logged = tracker.step("Processing", 100, 100)
	require.True(t, logged)
	require.Equal(t, "Processing progress: 100% (100/100) completed.", message)
}

// TestProgress clamps overshoot and refuses empty stages.
func TestProgress(t *testing.T) {
	t.Parallel()

	_, ok := Progress("Fetching", 1, 0)
	require.False(t, ok)

	message, ok := Progress("Fetching", 120, 100)
	require.True(t, ok)
	require.Equal(t, "Fetching progress: 100% (100/100) completed.", message)
}

type batchLog struct {
	mu    sync.Mutex
	lines []string
}

func newBatchLog() *batchLog {
	return &batchLog{}
}

func (b *batchLog) Append(_ context.Context, _ string, level gitmeta.LogLevel, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, string(level)+" "+message)
}

func (b *batchLog) contains(fragment string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range b.lines {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}
