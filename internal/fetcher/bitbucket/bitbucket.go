// Package bitbucket fetches repository metadata through the Bitbucket
// REST API, authenticating with OAuth2 client credentials.
package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/fetcher"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/fieldmap"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/metrics"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/parse"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/request"
)

var repoMapping = fieldmap.Mapping{
	"name":        "name",
	"fullName":    "full_name",
	"description": "description",
	"createdAt":   "created_on",
	"updatedAt":   "updated_on",
	"languages":   "language",
}

var mrMapping = fieldmap.Mapping{
	"authorName":  "author.display_name",
	"description": "summary.raw",
	"createdAt":   "created_on",
	"title":       "title",
}

// Config carries the Bitbucket endpoints and OAuth2 client credentials.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	// ResultsKey names the array holding page items; empty means "values".
	ResultsKey string
	// PageSize sets the pagelen request parameter; zero leaves the API
	// default in place.
	PageSize int
}

// Fetcher implements gitmeta.Fetcher for Bitbucket. The platform speaks
// REST only, so raw GraphQL queries always fail.
type Fetcher struct {
	cfg   Config
	exec  *request.Executor
	pacer *request.Pacer
	batch *parse.BatchParser
	pages fetcher.LinkPaginator

	mu            sync.Mutex
	tokens        oauth2.TokenSource
	authenticated bool
}

// New builds a Bitbucket fetcher.
func New(cfg Config, exec *request.Executor, pacer *request.Pacer, batch *parse.BatchParser) *Fetcher {
	if cfg.ResultsKey == "" {
		cfg.ResultsKey = "values"
	}
	return &Fetcher{
		cfg:   cfg,
		exec:  exec,
		pacer: pacer,
		batch: batch,
		pages: fetcher.LinkPaginator{ResultsKey: cfg.ResultsKey},
	}
}

// Platform identifies this fetcher in the registry.
func (f *Fetcher) Platform() gitmeta.Platform { return gitmeta.PlatformBitbucket }

// FetchRepos lists repositories page by page and, when merge request
// fields were requested, pulls each repository's pull requests through
// its links entry.
func (f *Fetcher) FetchRepos(ctx context.Context, spec gitmeta.FetchSpec, log gitmeta.JobLog, jobID string) ([]gitmeta.RepoRecord, error) {
	token, err := f.accessToken(ctx, log, jobID)
	if err != nil {
		return nil, err
	}

	listURL := f.repositoriesURL(spec)
	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, "Fetching repositories from Bitbucket: "+listURL)
	start := time.Now()

	values, err := f.pages.Collect(ctx, listURL, spec.RepoCount, func(ctx context.Context, pageURL string) (*request.Response, error) {
		return f.get(ctx, pageURL, token)
	}, log, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repositories: %w", err)
	}

	parser := parse.NewRepoParser(repoMapping, mrMapping, spec.Fields)
	records := f.batch.Parse(ctx, values, spec.RepoCount, func(node map[string]any) (gitmeta.RepoRecord, error) {
		record := parser.Repo(node)
		if parser.WantsMergeRequests() {
			nodes, err := f.fetchMergeRequests(ctx, node, token, spec.MaxMergeRequests, log, jobID)
			if err != nil {
				return gitmeta.RepoRecord{}, err
			}
			record.MergeRequests = parser.MergeRequests(nodes)
		}
		return record, nil
	}, log, jobID)

	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo,
		fmt.Sprintf("Fetched and parsed %d repositories in %.2f seconds.", len(records), time.Since(start).Seconds()))
	metrics.ObserveReposFetched(string(f.Platform()), len(records))
	return records, nil
}

// FetchRaw always fails; Bitbucket has no GraphQL endpoint.
func (f *Fetcher) FetchRaw(ctx context.Context, _ string, log gitmeta.JobLog, jobID string) (gitmeta.RawResult, error) {
	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError, "Raw GraphQL queries not supported for Bitbucket.")
	return gitmeta.RawResult{}, fmt.Errorf("%w for Bitbucket", gitmeta.ErrRawQueryUnsupported)
}

// accessToken returns a valid OAuth2 token, authenticating on first use.
// The token source refreshes expired tokens on its own afterwards.
func (f *Fetcher) accessToken(ctx context.Context, log gitmeta.JobLog, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tokens == nil {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, "Authenticating with OAuth2...")
		creds := &clientcredentials.Config{
			ClientID:     f.cfg.ClientID,
			ClientSecret: f.cfg.ClientSecret,
			TokenURL:     f.cfg.TokenURL,
		}
		f.tokens = creds.TokenSource(context.Background())
	}
	token, err := f.tokens.Token()
	if err != nil {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError, fmt.Sprintf("Authentication failed: %v", err))
		return "", fmt.Errorf("oauth2 authentication: %w", err)
	}
	if token.AccessToken == "" {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError, "Authentication failed: No access token received.")
		return "", errors.New("authentication failed: no access token received")
	}
	if !f.authenticated {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, "Successfully authenticated.")
		f.authenticated = true
	}
	return token.AccessToken, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL, token string) (*request.Response, error) {
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)
	return f.exec.Do(ctx, request.Request{Method: http.MethodGet, URL: rawURL, Header: header})
}

// repositoriesURL builds the listing URL. Filter values stay quoted and
// unescaped the way the Bitbucket query grammar expects them.
func (f *Fetcher) repositoriesURL(spec gitmeta.FetchSpec) string {
	var parts []string
	if spec.SearchTerm != "" {
		parts = append(parts, fmt.Sprintf("name~%q", spec.SearchTerm))
	}
	if spec.ProgrammingLanguage != "" {
		parts = append(parts, fmt.Sprintf("language~%q", spec.ProgrammingLanguage))
	}
	listURL := fmt.Sprintf("%s/repositories?role=member&q=%s", f.cfg.BaseURL, strings.Join(parts, "&"))
	return withPageLen(listURL, f.cfg.PageSize)
}

// fetchMergeRequests follows the repository's pullrequests link, capped
// at maxMRs entries. A repository without that link simply has none to
// report.
func (f *Fetcher) fetchMergeRequests(ctx context.Context, node map[string]any, token string, maxMRs int, log gitmeta.JobLog, jobID string) ([]any, error) {
	linkURL := pullRequestsLink(node)
	if linkURL == "" {
		return nil, nil
	}
	linkURL = withPageLen(linkURL, maxMRs)
	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogDebug, "Fetching merge requests from: "+linkURL)
	resp, err := f.get(ctx, linkURL, token)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode merge requests response: %w", err)
	}
	values, _ := payload[f.cfg.ResultsKey].([]any)
	if maxMRs > 0 && len(values) > maxMRs {
		values = values[:maxMRs]
	}
	return values, nil
}

// withPageLen appends the pagelen parameter to a URL that may or may not
// already carry a query string.
func withPageLen(rawURL string, n int) string {
	if n <= 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spagelen=%d", rawURL, sep, n)
}

func pullRequestsLink(node map[string]any) string {
	links, ok := node["links"].(map[string]any)
	if !ok {
		return ""
	}
	pullRequests, ok := links["pullrequests"].(map[string]any)
	if !ok {
		return ""
	}
	href, _ := pullRequests["href"].(string)
	return href
}
