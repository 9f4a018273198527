package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/fieldmap"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/parse"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/request"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/rotation"
)

// mergeRequestsPrefix marks requested fields that belong to the nested
// merge request selection.
const mergeRequestsPrefix = "mergeRequests."

// GraphQLClient posts queries to one GraphQL endpoint, rotating tokens
// from the platform pool. A response that carries an "errors" array fails
// the call even on HTTP 200, because providers report rate limiting and
// authentication problems there and rotation bans on those.
type GraphQLClient struct {
	endpoint string
	exec     *request.Executor
	rotator  *rotation.Driver
	pacer    *request.Pacer
}

// NewGraphQLClient wires a client for one endpoint. The pacer may be nil
// when request spacing is not wanted.
func NewGraphQLClient(endpoint string, exec *request.Executor, rotator *rotation.Driver, pacer *request.Pacer) *GraphQLClient {
	return &GraphQLClient{endpoint: endpoint, exec: exec, rotator: rotator, pacer: pacer}
}

// Endpoint returns the configured GraphQL URL.
func (c *GraphQLClient) Endpoint() string { return c.endpoint }

// Query executes one GraphQL query and returns the decoded response body,
// including its top-level "data" key.
func (c *GraphQLClient) Query(ctx context.Context, query string, log gitmeta.JobLog, jobID string) (map[string]any, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("encode graphql request: %w", err)
	}

	var body map[string]any
	err = c.rotator.Do(ctx, log, jobID, func(token string) error {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx, c.endpoint); err != nil {
				return err
			}
		}
		header := make(http.Header)
		header.Set("Authorization", "Bearer "+token)
		header.Set("Content-Type", "application/json")
		resp, err := c.exec.Do(ctx, request.Request{
			Method: http.MethodPost,
			URL:    c.endpoint,
			Header: header,
			Body:   payload,
		})
		if err != nil {
			return err
		}
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogDebug,
			fmt.Sprintf("Request to %s completed in %.2fs", c.endpoint, resp.Duration.Seconds()))

		var decoded map[string]any
		if err := json.Unmarshal(resp.Body, &decoded); err != nil {
			return fmt.Errorf("decode graphql response: %w", err)
		}
		if details := graphQLErrors(decoded); details != "" {
			gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogError, "GraphQL API returned errors:\n"+details)
			return errors.New(details)
		}
		body = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// graphQLErrors joins the messages of a response-level errors array. The
// message text is kept verbatim so rotation's ban markers can match it.
func graphQLErrors(body map[string]any) string {
	raw, ok := body["errors"].([]any)
	if !ok || len(raw) == 0 {
		return ""
	}
	details := make([]string, 0, len(raw))
	for _, entry := range raw {
		if errMap, ok := entry.(map[string]any); ok {
			if message, ok := errMap["message"].(string); ok && message != "" {
				details = append(details, message)
				continue
			}
		}
		details = append(details, fmt.Sprint(entry))
	}
	return strings.Join(details, "\n")
}

// Page is one page of provider nodes plus the cursor state after it.
type Page struct {
	Nodes     []any
	HasNext   bool
	EndCursor string
}

// PageFunc fetches one page for the given sort mode and cursor. The mode
// is empty for providers without sort cycling.
type PageFunc func(ctx context.Context, sortMode, cursor string) (Page, error)

// CursorPaginator drives cursor pagination. Providers that cap how deep a
// single search may page (GitHub stops at 1000 results) get the search
// reissued under the next sort mode from a fresh cursor, which reaches
// past the cap at the price of possible duplicates. The zero value is
// plain pagination without a cap.
type CursorPaginator struct {
	SortModes     []string
	InitialMode   string
	WindowCap     int
	SwitchMessage string
}

// Collect gathers up to limit nodes. After one full cycle through the
// sort modes without filling the limit, collection stops with what was
// found rather than reissuing the same searches forever.
func (p *CursorPaginator) Collect(ctx context.Context, limit int, fetch PageFunc, log gitmeta.JobLog, jobID string) ([]any, error) {
	if limit <= 0 {
		return []any{}, nil
	}
	all := make([]any, 0, limit)
	cursor := ""
	cycling := p.WindowCap > 0 && len(p.SortModes) > 0 && limit > p.WindowCap
	iteration := 0

	for len(all) < limit {
		mode := p.InitialMode
		if iteration > 0 {
			mode = p.SortModes[iteration%len(p.SortModes)]
			gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogDebug,
				fmt.Sprintf("Starting iteration %d for fetching repositories.", iteration))
		}

		window := limit - len(all)
		if p.WindowCap > 0 && window > p.WindowCap {
			window = p.WindowCap
		}
		fetched := 0
		for fetched < window {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			page, err := fetch(ctx, mode, cursor)
			if err != nil {
				return nil, err
			}
			if len(page.Nodes) == 0 {
				gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogWarning, "No more repositories found.")
				break
			}
			all = append(all, page.Nodes...)
			fetched += len(page.Nodes)
			if message, ok := parse.Progress("Fetching", len(all), limit); ok {
				gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, message)
			}
			if !page.HasNext {
				break
			}
			cursor = page.EndCursor
		}

		if len(all) >= limit || !cycling {
			break
		}
		if iteration >= len(p.SortModes) {
			gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogWarning,
				"All sort modes exhausted - stopping with the repositories found so far.")
			break
		}
		iteration++
		cursor = ""
		gitmeta.AppendLog(ctx, log, jobID, gitmeta.LogInfo, p.SwitchMessage)
	}

	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SplitFields separates plain repository fields from the subfields
// requested under "mergeRequests.".
func SplitFields(fields []string) (repoFields, mrSubfields []string) {
	for _, field := range fields {
		if strings.HasPrefix(field, mergeRequestsPrefix) {
			mrSubfields = append(mrSubfields, strings.TrimPrefix(field, mergeRequestsPrefix))
			continue
		}
		repoFields = append(repoFields, field)
	}
	return repoFields, mrSubfields
}

// MapFields renders GraphQL selections for the requested fields using the
// platform mapping. A dotted path expands to a nested block, so
// "primaryLanguage.name" becomes "primaryLanguage { name }". Fields the
// mapping does not know are skipped.
func MapFields(mapping fieldmap.Mapping, fields []string) []string {
	selections := make([]string, 0, len(fields))
	for _, field := range fields {
		path, ok := mapping[field]
		if !ok {
			continue
		}
		if top, nested, found := strings.Cut(path, "."); found {
			selections = append(selections, fmt.Sprintf("%s { %s }", top, nested))
			continue
		}
		selections = append(selections, path)
	}
	return selections
}

// BuildMergeRequestsQuery renders the nested merge request selection of a
// repository query.
func BuildMergeRequestsQuery(nodeName string, maxMRs int, selections []string) string {
	return fmt.Sprintf("%s(first: %d) { nodes { %s } }", nodeName, maxMRs, strings.Join(selections, " "))
}

// FormatQuery reindents a GraphQL query so it stays readable in job logs.
func FormatQuery(query string) string {
	query = strings.TrimSpace(query)
	query = strings.ReplaceAll(query, "{", "{\n")
	query = strings.ReplaceAll(query, "}", "\n}\n")

	var formatted []string
	depth := 0
	for _, line := range strings.Split(query, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "}") && depth > 0 {
			depth--
		}
		formatted = append(formatted, strings.Repeat("    ", depth)+line)
		if strings.HasSuffix(line, "{") {
			depth++
		}
	}
	return strings.Join(formatted, "\n")
}
