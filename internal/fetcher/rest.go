package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/request"
)

// FetchPageFunc performs one REST page request.
type FetchPageFunc func(ctx context.Context, url string) (*request.Response, error)

// LinkPaginator follows "next" links through a REST collection, honoring
// the provider's rate limit headers between pages. Any page failure
// aborts the whole run; partial results are never returned.
type LinkPaginator struct {
	// ResultsKey names the array holding each page's items.
	ResultsKey string
}

// Collect fetches pages starting at startURL until limit items are
// gathered or no next link remains.
func (p *LinkPaginator) Collect(ctx context.Context, startURL string, limit int, fetch FetchPageFunc, log gitmeta.JobLog, jobID string) ([]any, error) {
	results := make([]any, 0, limit)
	pageURL := startURL
	page := 1

	for pageURL != "" && len(results) < limit {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogDebug,
			fmt.Sprintf("Fetching page %d: %s", page, pageURL))
		batch, next, err := p.fetchPage(ctx, pageURL, fetch, log, jobID)
		if err != nil {
			gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
				fmt.Sprintf("Pagination aborted at page %d: %v", page, err))
			return nil, err
		}
		if remaining := limit - len(results); len(batch) > remaining {
			batch = batch[:remaining]
		}
		results = append(results, batch...)
		pageURL = next
		page++
	}
	return results, nil
}

func (p *LinkPaginator) fetchPage(ctx context.Context, pageURL string, fetch FetchPageFunc, log gitmeta.JobLog, jobID string) ([]any, string, error) {
	resp, err := fetch(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, "", fmt.Errorf("decode page response: %w", err)
	}
	values, ok := payload[p.ResultsKey].([]any)
	if !ok {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Unexpected response structure: %v", payload))
		return nil, "", fmt.Errorf("response is missing the expected %q key", p.ResultsKey)
	}
	next, _ := payload["next"].(string)
	if err := p.applyRateLimits(ctx, resp.Header, log, jobID); err != nil {
		return nil, "", err
	}
	return values, next, nil
}

// applyRateLimits pauses until the provider's window resets when the
// response says no requests remain.
func (p *LinkPaginator) applyRateLimits(ctx context.Context, header http.Header, log gitmeta.JobLog, jobID string) error {
	remaining := header.Get("X-RateLimit-Remaining")
	reset := header.Get("X-RateLimit-Reset")
	if remaining != "0" || reset == "" {
		return nil
	}
	epoch, err := strconv.ParseFloat(reset, 64)
	if err != nil {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError, "Invalid rate limit reset time received.")
		return nil
	}
	wait := time.Until(time.Unix(0, int64(epoch*float64(time.Second))))
	if wait <= 0 {
		return nil
	}
	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogWarning,
		fmt.Sprintf("Rate limit reached. Waiting for %.2f seconds.", wait.Seconds()))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
