package parse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// ParseFunc turns one response node into a record. Platform fetchers embed
// their merge request extraction here.
type ParseFunc func(node map[string]any) (gitmeta.RepoRecord, error)

// BatchParser parses response nodes in concurrent batches, logging
// progress into the job log at ten percent steps.
type BatchParser struct {
	maxConcurrent int
}

// NewBatchParser bounds parsing concurrency; values below one fall back
// to serial parsing.
func NewBatchParser(maxConcurrent int) *BatchParser {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BatchParser{maxConcurrent: maxConcurrent}
}

// BatchSize balances batch count against node volume: roughly one batch
// per ten requested repos, clamped to [5, 20] nodes per batch.
func BatchSize(totalNodes, repoCount int) int {
	divisor := repoCount / 10
	if divisor < 1 {
		divisor = 1
	}
	size := totalNodes / divisor
	if size > 20 {
		size = 20
	}
	if size < 5 {
		size = 5
	}
	return size
}

// Parse runs parse over every node. Nodes that fail are logged and
// dropped; the returned records keep the input order.
func (b *BatchParser) Parse(ctx context.Context, nodes []any, repoCount int, parse ParseFunc, log gitmeta.JobLog, jobID string) []gitmeta.RepoRecord {
	if len(nodes) == 0 {
		appendLog(ctx, log, jobID, gitmeta.LogWarning, "No valid nodes to parse.")
		return []gitmeta.RepoRecord{}
	}

	batchSize := BatchSize(len(nodes), repoCount)
	appendLog(ctx, log, jobID, gitmeta.LogDebug,
		fmt.Sprintf("Processing %d nodes in batches of %d.", len(nodes), batchSize))

	results := make([]gitmeta.RepoRecord, len(nodes))
	valid := make([]bool, len(nodes))
	var done atomic.Int64
	progress := newProgressTracker()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.maxConcurrent)
	for start := 0; start < len(nodes); start += batchSize {
		end := start + batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		group.Go(func() error {
			for i := start; i < end; i++ {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				record, ok := b.parseNode(groupCtx, nodes[i], parse, log, jobID)
				if ok {
					results[i] = record
					valid[i] = true
				}
				current := int(done.Add(1))
				if message, shouldLog := progress.step("Processing", current, len(nodes)); shouldLog {
					appendLog(groupCtx, log, jobID, gitmeta.LogInfo, message)
				}
			}
			return nil
		})
	}
	_ = group.Wait()

	parsed := make([]gitmeta.RepoRecord, 0, len(nodes))
	for i, ok := range valid {
		if ok {
			parsed = append(parsed, results[i])
		}
	}
	appendLog(ctx, log, jobID, gitmeta.LogInfo, fmt.Sprintf("Successfully parsed %d nodes.", len(parsed)))
	return parsed
}

func (b *BatchParser) parseNode(ctx context.Context, raw any, parse ParseFunc, log gitmeta.JobLog, jobID string) (gitmeta.RepoRecord, bool) {
	node, ok := raw.(map[string]any)
	if !ok {
		appendLog(ctx, log, jobID, gitmeta.LogWarning,
			fmt.Sprintf("Skipping invalid repository node: %v", raw))
		return gitmeta.RepoRecord{}, false
	}
	record, err := parse(node)
	if err != nil {
		appendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Error parsing node: %v. Node data: %v", err, node))
		return gitmeta.RepoRecord{}, false
	}
	return record, true
}

// Progress formats a stage progress line. The boolean is false when there
// is nothing sensible to report, so callers can log unconditionally per
// page without dividing by zero.
func Progress(stage string, current, total int) (string, bool) {
	if total <= 0 {
		return "", false
	}
	percent := float64(current) / float64(total) * 100
	if percent > 100 {
		percent = 100
	}
	shown := current
	if shown > total {
		shown = total
	}
	return fmt.Sprintf("%s progress: %.0f%% (%d/%d) completed.", stage, percent, shown, total), true
}

// progressTracker emits a line whenever completion crosses another ten
// percent step, plus one final line at full completion.
type progressTracker struct {
	mu   sync.Mutex
	last int
}

func newProgressTracker() *progressTracker {
	return &progressTracker{last: -1}
}

func (t *progressTracker) step(stage string, current, total int) (string, bool) {
	if total <= 0 {
		return "", false
	}
	percent := float64(current) / float64(total) * 100
	decile := int(percent/10) * 10
	if decile > 100 {
		decile = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if decile <= t.last && current != total {
		return "", false
	}
	t.last = decile
	return Progress(stage, current, total)
}

func appendLog(ctx context.Context, log gitmeta.JobLog, jobID string, level gitmeta.LogLevel, message string) {
	if log == nil {
		return
	}
	log.Append(ctx, jobID, level, message)
}
