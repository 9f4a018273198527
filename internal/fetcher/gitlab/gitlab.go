// Package gitlab fetches project metadata through the GitLab GraphQL API.
package gitlab

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

const mrNodeName = "mergeRequests"

var repoMapping = fieldmap.Mapping{
	"name":        "name",
	"fullName":    "fullPath",
	"description": "description",
	"starCount":   "starCount",
	"createdAt":   "createdAt",
	"updatedAt":   "updatedAt",
	"languages":   "languages.name",
}

var mrMapping = fieldmap.Mapping{
	"authorName":  "author.name",
	"createdAt":   "createdAt",
	"description": "description",
	"title":       "title",
}

var errNoRepositories = errors.New("no repositories found")

// Fetcher implements gitmeta.Fetcher for GitLab.
type Fetcher struct {
	client *fetcher.GraphQLClient
	batch  *parse.BatchParser
}

// New builds a GitLab fetcher over the shared GraphQL client.
func New(client *fetcher.GraphQLClient, batch *parse.BatchParser) *Fetcher {
	return &Fetcher{client: client, batch: batch}
}

// Platform identifies this fetcher in the registry.
func (f *Fetcher) Platform() gitmeta.Platform { return gitmeta.PlatformGitLab }

// FetchRepos pages through the projects connection and parses the
// requested fields out of every node. GitLab has no per-search result
// cap, so pagination is a plain cursor walk.
func (f *Fetcher) FetchRepos(ctx context.Context, spec gitmeta.FetchSpec, log gitmeta.JobLog, jobID string) ([]gitmeta.RepoRecord, error) {
	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, "Fetching repositories from GitLab...")
	start := time.Now()

	var paginator fetcher.CursorPaginator
	nodes, err := paginator.Collect(ctx, spec.RepoCount, func(ctx context.Context, _, cursor string) (fetcher.Page, error) {
		query := f.buildQuery(spec, cursor)
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogDebug,
			"GraphQL Query:\n"+fetcher.FormatQuery(query))
		body, err := f.client.Query(ctx, query, log, jobID)
		if err != nil {
			return fetcher.Page{}, err
		}
		return extractProjects(ctx, body, log, jobID)
	}, log, jobID)
	if err == nil && len(nodes) == 0 {
		err = errNoRepositories
	}
	if err != nil {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Failed to fetch repositories: %v", err))
		return nil, fmt.Errorf("failed to fetch repositories: %w", err)
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

// FetchRaw runs an expert-mode query verbatim and reports how many
// project nodes came back.
func (f *Fetcher) FetchRaw(ctx context.Context, query string, log gitmeta.JobLog, jobID string) (gitmeta.RawResult, error) {
	if strings.TrimSpace(query) == "" {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError, "Received an empty raw query.")
		return gitmeta.RawResult{}, errors.New("the raw query must not be empty")
	}

	gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, "Executing raw GraphQL query on GitLab...")
	start := time.Now()
	body, err := f.client.Query(ctx, query, log, jobID)
	if err != nil {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Error executing raw query on GitLab: %v", err))
		return gitmeta.RawResult{}, fmt.Errorf("failed to execute raw query on GitLab: %w", err)
	}

	count := 0
	if data, ok := body["data"].(map[string]any); ok {
		if projects, ok := data["projects"].(map[string]any); ok {
			if nodes, ok := projects["nodes"].([]any); ok {
				count = len(nodes)
			}
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

// buildQuery renders one projects page query. Search and language filters
// are included only when set.
func (f *Fetcher) buildQuery(spec gitmeta.FetchSpec, cursor string) string {
	repoFields, mrSubfields := fetcher.SplitFields(spec.Fields)
	selections := fetcher.MapFields(repoMapping, repoFields)
	if len(mrSubfields) > 0 {
		selections = append(selections, fetcher.BuildMergeRequestsQuery(
			mrNodeName, spec.MaxMergeRequests, fetcher.MapFields(mrMapping, mrSubfields)))
	}

	args := fmt.Sprintf("first: %d", spec.RepoCount)
	if cursor != "" {
		args += fmt.Sprintf(", after: %q", cursor)
	}
	if spec.SearchTerm != "" {
		args += fmt.Sprintf(", search: %q", spec.SearchTerm)
	}
	if spec.ProgrammingLanguage != "" {
		args += fmt.Sprintf(", programmingLanguageName: %q", spec.ProgrammingLanguage)
	}

	return fmt.Sprintf(`{
	projects(%s) {
		nodes {
			%s
		}
		pageInfo {
			hasNextPage
			endCursor
		}
	}
}`, args, strings.Join(selections, "\n"))
}

// extractProjects pulls the project nodes and cursor state out of one
// response.
func extractProjects(ctx context.Context, body map[string]any, log gitmeta.JobLog, jobID string) (fetcher.Page, error) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Invalid response structure: %v", body))
		return fetcher.Page{}, errors.New("invalid response structure")
	}
	projects, ok := data["projects"].(map[string]any)
	if !ok {
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError,
			fmt.Sprintf("Invalid response structure: %v", body))
		return fetcher.Page{}, errors.New("invalid response structure")
	}
	rawNodes, present := projects["nodes"]
	nodes, ok := rawNodes.([]any)
	if present && !ok {
		return fetcher.Page{}, errors.New("expected 'nodes' to be a list")
	}

	page := fetcher.Page{Nodes: nodes}
	if pageInfo, ok := projects["pageInfo"].(map[string]any); ok {
		page.HasNext, _ = pageInfo["hasNextPage"].(bool)
		page.EndCursor, _ = pageInfo["endCursor"].(string)
	}
	return page, nil
}

// mergeRequestNodes digs the nested merge request nodes out of a project
// node.
func mergeRequestNodes(node map[string]any) []any {
	wrapper, ok := node[mrNodeName].(map[string]any)
	if !ok {
		return nil
	}
	nodes, _ := wrapper["nodes"].([]any)
	return nodes
}
