// Package github fetches repository metadata through the GitHub GraphQL
// search API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/fetcher"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/fieldmap"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/metrics"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/parse"
)

const (
	// maxPageSize is the most repositories one search page may carry.
	maxPageSize = 50
	// maxReposPerQuery is GitHub's hard cap on results per search; going
	// past it needs the search reissued under another sort mode.
	maxReposPerQuery = 1000

	mrNodeName    = "pullRequests"
	switchMessage = "GitHub API-Limit reached - Switching to the next sort mode to fetch more repositories."
)

// sortModes are cycled to reach past the per-search result cap. Each mode
// surfaces a different slice of the result space.
var sortModes = []string{
	"stars-desc",
	"updated-desc",
	"forks-desc",
	"help-wanted-issues-desc",
	"best-match",
	"stars-asc",
	"updated-asc",
	"forks-asc",
}

var repoMapping = fieldmap.Mapping{
	"name":        "name",
	"fullName":    "nameWithOwner",
	"description": "description",
	"starCount":   "stargazerCount",
	"createdAt":   "createdAt",
	"updatedAt":   "updatedAt",
	"languages":   "primaryLanguage.name",
}

var mrMapping = fieldmap.Mapping{
	"authorName":  "author.login",
	"createdAt":   "createdAt",
	"description": "bodyText",
	"title":       "title",
}

// errNoRepositories means the search matched nothing at all.
var errNoRepositories = errors.New("no repositories found")

// Fetcher implements gitmeta.Fetcher for GitHub.
type Fetcher struct {
	client *fetcher.GraphQLClient
	batch  *parse.BatchParser
}

// New builds a GitHub fetcher over the shared GraphQL client.
func New(client *fetcher.GraphQLClient, batch *parse.BatchParser) *Fetcher {
	return &Fetcher{client: client, batch: batch}
}

// Platform identifies this fetcher in the registry.
func (f *Fetcher) Platform() gitmeta.Platform { return gitmeta.PlatformGitHub }

// FetchRepos searches GitHub and parses the requested fields out of the
// result nodes.
func (f *Fetcher) FetchRepos(ctx context.Context, spec gitmeta.FetchSpec, log gitmeta.JobLog, jobID string) ([]gitmeta.RepoRecord, error) {
	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, "Fetching repositories from GitHub...")
	start := time.Now()

	paginator := fetcher.CursorPaginator{
		SortModes:     sortModes,
		InitialMode:   "stars-desc",
		WindowCap:     maxReposPerQuery,
		SwitchMessage: switchMessage,
	}
	nodes, err := paginator.Collect(ctx, spec.RepoCount, func(ctx context.Context, sortMode, cursor string) (fetcher.Page, error) {
		query := f.buildQuery(spec, sortMode, cursor)
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogDebug,
			fmt.Sprintf("GraphQL Query (sort: %s):\n%s", sortMode, fetcher.FormatQuery(query)))
		body, err := f.client.Query(ctx, query, log, jobID)
		if err != nil {
			return fetcher.Page{}, err
		}
		return extractSearch(ctx, body, log, jobID)
	}, log, jobID)
	if err != nil {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Error during repository fetch: %v", err))
		return nil, fmt.Errorf("failed to fetch projects: %w", err)
	}
	if len(nodes) == 0 {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError, "No repositories found.")
		return nil, fmt.Errorf("failed to fetch projects: %w", errNoRepositories)
	}

	parser := parse.NewRepoParser(repoMapping, mrMapping, spec.Fields)
	records := f.batch.Parse(ctx, nodes, spec.RepoCount, func(node map[string]any) (gitmeta.RepoRecord, error) {
		record := parser.Repo(node)
		if parser.WantsMergeRequests() {
			record.MergeRequests = parser.MergeRequests(mergeRequestNodes(node))
		}
		return record, nil
	}, log, jobID)

	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo,
		fmt.Sprintf("Fetched and parsed %d repositories in %.2f seconds.", len(records), time.Since(start).Seconds()))
	metrics.ObserveReposFetched(string(f.Platform()), len(records))
	return records, nil
}

// FetchRaw runs an expert-mode query verbatim and reports how many search
// result edges came back.
func (f *Fetcher) FetchRaw(ctx context.Context, query string, log gitmeta.JobLog, jobID string) (gitmeta.RawResult, error) {
	if strings.TrimSpace(query) == "" {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError, "Received an empty raw query.")
		return gitmeta.RawResult{}, errors.New("the raw query must not be empty")
	}

	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, "Executing raw GraphQL query on GitHub...")
	result, err := f.rawQuery(ctx, query, log, jobID)
	if err != nil {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Error executing raw query: %v", err))
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogDebug, "Failed raw query: "+query)
		return gitmeta.RawResult{}, fmt.Errorf("failed to execute raw query on GitHub: %w", err)
	}
	return result, nil
}

func (f *Fetcher) rawQuery(ctx context.Context, query string, log gitmeta.JobLog, jobID string) (gitmeta.RawResult, error) {
	start := time.Now()
	body, err := f.client.Query(ctx, query, log, jobID)
	if err != nil {
		return gitmeta.RawResult{}, err
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Unexpected response format: %v", body))
		return gitmeta.RawResult{}, errors.New("invalid response structure from GitHub API")
	}

	count := 0
	if search, ok := data["search"].(map[string]any); ok {
		if edges, ok := search["edges"].([]any); ok {
			count = len(edges)
		}
	}
	duration := time.Since(start).Seconds()

	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo,
		fmt.Sprintf("Raw query executed successfully. Retrieved %d repositories in %.2f seconds.", count, duration))
	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogDebug, fmt.Sprintf("Raw query response: %v", body))

	raw, err := json.Marshal(body)
	if err != nil {
		return gitmeta.RawResult{}, fmt.Errorf("encode raw response: %w", err)
	}
	return gitmeta.RawResult{Response: raw, RepoCount: count, Duration: duration}, nil
}

// buildQuery renders one search page query with the requested field
// selections inlined.
func (f *Fetcher) buildQuery(spec gitmeta.FetchSpec, sortMode, cursor string) string {
	repoFields, mrSubfields := fetcher.SplitFields(spec.Fields)
	selections := fetcher.MapFields(repoMapping, repoFields)
	if len(mrSubfields) > 0 {
		selections = append(selections, fetcher.BuildMergeRequestsQuery(
			mrNodeName, spec.MaxMergeRequests, fetcher.MapFields(mrMapping, mrSubfields)))
	}

	after := ""
	if cursor != "" {
		after = fmt.Sprintf(", after: %q", cursor)
	}
	pageSize := spec.RepoCount
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return fmt.Sprintf(`{
	search(query: "%s sort:%s" type: REPOSITORY first: %d%s) {
		edges {
			node {
				... on Repository {
					%s
				}
			}
		}
		pageInfo {
			hasNextPage
			endCursor
		}
	}
}`, buildFilters(spec), sortMode, pageSize, after, strings.Join(selections, "\n"))
}

// buildFilters assembles the search qualifier string. With no term and no
// language the match-everything qualifier keeps the search valid.
func buildFilters(spec gitmeta.FetchSpec) string {
	var filters []string
	if spec.SearchTerm != "" {
		filters = append(filters, spec.SearchTerm)
	}
	if spec.ProgrammingLanguage != "" {
		filters = append(filters, "language:"+spec.ProgrammingLanguage)
	}
	if len(filters) == 0 {
		filters = append(filters, "stars:>=0")
	}
	return strings.Join(filters, " ")
}

// extractSearch pulls the repository nodes and cursor state out of one
// search response.
func extractSearch(ctx context.Context, body map[string]any, log gitmeta.JobLog, jobID string) (fetcher.Page, error) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Invalid response structure: %v", body))
		return fetcher.Page{}, errors.New("invalid response structure")
	}
	search, ok := data["search"].(map[string]any)
	if !ok {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Invalid response structure: %v", body))
		return fetcher.Page{}, errors.New("invalid response structure")
	}

	edges, _ := search["edges"].([]any)
	nodes := make([]any, 0, len(edges))
	for _, raw := range edges {
		edge, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		node, ok := edge["node"].(map[string]any)
		if !ok {
			gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogWarning,
				fmt.Sprintf("Skipping invalid repository node: %v", edge["node"]))
			continue
		}
		nodes = append(nodes, node)
	}

	page := fetcher.Page{Nodes: nodes}
	if pageInfo, ok := search["pageInfo"].(map[string]any); ok {
		page.HasNext, _ = pageInfo["hasNextPage"].(bool)
		page.EndCursor, _ = pageInfo["endCursor"].(string)
	}
	return page, nil
}

// mergeRequestNodes digs the nested pull request nodes out of a
// repository node. Missing levels yield an empty list, so a repository
// without pull requests still gets the requested subfields as empties.
func mergeRequestNodes(node map[string]any) []any {
	wrapper, ok := node[mrNodeName].(map[string]any)
	if !ok {
		return nil
	}
	nodes, _ := wrapper["nodes"].([]any)
	return nodes
}
