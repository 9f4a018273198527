package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/export"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

type jobEnvelope struct {
	Job gitmeta.Job `json:"job"`
}

type jobListEnvelope struct {
	Jobs []gitmeta.Job `json:"jobs"`
}

type logsEnvelope struct {
	JobID string   `json:"job_id"`
	Log   []string `json:"log"`
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Create and control fetch jobs",
	}
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsGetCmd())
	cmd.AddCommand(newJobsCreateCmd())
	cmd.AddCommand(newJobsStartCmd())
	cmd.AddCommand(newJobsStopCmd())
	cmd.AddCommand(newJobsDeleteCmd())
	cmd.AddCommand(newJobsLogsCmd())
	cmd.AddCommand(newJobsExportCmd())
	cmd.AddCommand(newJobsPluginCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs known to the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newAPIClient(serverURL, apiKey)
			query := url.Values{}
			if state != "" {
				query.Set("state", state)
			}
			var envelope jobListEnvelope
			if err := client.get(cmd.Context(), "/api/v1/jobs", query, &envelope); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(envelope.Jobs)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Mode", "Platform", "State", "Submitted", "Records"})
			for _, job := range envelope.Jobs {
				table.Append([]string{
					job.ID,
					job.Name,
					string(job.Mode),
					string(job.Platform),
					string(job.State),
					job.Submitted.Format(time.RFC3339),
					strconv.Itoa(recordCount(job)),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only list jobs in this state")
	return cmd
}

func newJobsGetCmd() *cobra.Command {
	var includeDebug bool
	cmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL, apiKey)
			query := url.Values{}
			if includeDebug {
				query.Set("include_debug", "true")
			}
			var envelope jobEnvelope
			if err := client.get(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0]), query, &envelope); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(envelope.Job)
			}
			renderJobDetail(envelope.Job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeDebug, "debug", false, "include debug log lines")
	return cmd
}

func newJobsCreateCmd() *cobra.Command {
	var (
		name      string
		mode      string
		platform  string
		search    string
		language  string
		repoCount int
		maxMRs    int
		fields    string
		query     string
		queryFile string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a fetch job",
		Long: `Creates a job without starting it. Assistant mode takes fetcher
settings and a field list; expert mode takes a raw GraphQL query via
--query or --query-file. Merge request fields use dotted notation, e.g.
--fields name,starCount,mergeRequests.title,mergeRequests.state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rawQuery := query
			if queryFile != "" {
				data, err := os.ReadFile(queryFile)
				if err != nil {
					return fmt.Errorf("read query file: %w", err)
				}
				rawQuery = string(data)
			}

			body := map[string]any{
				"name":     name,
				"mode":     mode,
				"platform": platform,
			}
			switch mode {
			case "assistant":
				body["settings"] = gitmeta.FetchSettings{
					RepoCount:           repoCount,
					MaxMergeRequests:    maxMRs,
					SearchTerm:          search,
					ProgrammingLanguage: language,
				}
				body["requested_fields"] = parseFieldList(fields)
			case "expert":
				body["raw_query"] = rawQuery
			}

			client := newAPIClient(serverURL, apiKey)
			var envelope jobEnvelope
			if err := client.post(cmd.Context(), "/api/v1/jobs", body, &envelope); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(envelope.Job)
			}
			fmt.Printf("Created job %s (%s)\n", envelope.Job.ID, envelope.Job.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&mode, "mode", "assistant", "job mode (assistant or expert)")
	cmd.Flags().StringVar(&platform, "platform", "github", "target platform")
	cmd.Flags().StringVar(&search, "search", "", "repository search term")
	cmd.Flags().StringVar(&language, "language", "", "programming language filter")
	cmd.Flags().IntVar(&repoCount, "repo-count", 10, "number of repositories to fetch")
	cmd.Flags().IntVar(&maxMRs, "max-merge-requests", 0, "merge requests per repository")
	cmd.Flags().StringVar(&fields, "fields", "name", "comma-separated requested fields")
	cmd.Flags().StringVar(&query, "query", "", "raw GraphQL query for expert mode")
	cmd.Flags().StringVar(&queryFile, "query-file", "", "file holding the raw GraphQL query")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newJobsStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <job-id>",
		Short: "Queue a job for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL, apiKey)
			var envelope jobEnvelope
			if err := client.post(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0])+"/start", nil, &envelope); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(envelope.Job)
			}
			fmt.Printf("Job %s is %s\n", envelope.Job.ID, envelope.Job.State)
			return nil
		},
	}
}

func newJobsStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL, apiKey)
			var envelope jobEnvelope
			if err := client.post(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0])+"/stop", nil, &envelope); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(envelope.Job)
			}
			fmt.Printf("Job %s is %s\n", envelope.Job.ID, envelope.Job.State)
			return nil
		},
	}
}

func newJobsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL, apiKey)
			var result struct {
				JobID  string `json:"job_id"`
				Status string `json:"status"`
			}
			if err := client.delete(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0]), &result); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(result)
			}
			fmt.Printf("Job %s deleted\n", result.JobID)
			return nil
		},
	}
}

func newJobsLogsCmd() *cobra.Command {
	var includeDebug bool
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print a job's log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL, apiKey)
			query := url.Values{}
			if includeDebug {
				query.Set("include_debug", "true")
			}
			var envelope logsEnvelope
			if err := client.get(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0])+"/logs", query, &envelope); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(envelope)
			}
			for _, line := range envelope.Log {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeDebug, "debug", false, "include debug log lines")
	return cmd
}

func newJobsExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <job-id>",
		Short: "Export a successful job's repositories as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL, apiKey)
			var artifact export.Artifact
			if err := client.post(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0])+"/export", nil, &artifact); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(artifact)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Name", "URL", "Checksum", "Size"})
			table.Append([]string{artifact.Name, artifact.URL, artifact.Checksum, strconv.Itoa(artifact.Size)})
			table.Render()
			return nil
		},
	}
}

func newJobsPluginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugin <job-id> <plugin-name>",
		Short: "Run a plugin against a successful job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(serverURL, apiKey)
			path := "/api/v1/jobs/" + url.PathEscape(args[0]) + "/plugins/" + url.PathEscape(args[1])
			var result gitmeta.PluginResult
			if err := client.post(cmd.Context(), path, nil, &result); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(result)
			}
			fmt.Println(result.Message)
			for _, u := range result.URLs {
				fmt.Printf("  %s: %s\n", u.Name, u.URL)
			}
			return nil
		},
	}
}

func newPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List the platforms the server knows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newAPIClient(serverURL, apiKey)
			var envelope struct {
				Platforms []gitmeta.Platform `json:"platforms"`
			}
			if err := client.get(cmd.Context(), "/api/v1/platforms", nil, &envelope); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(envelope.Platforms)
			}
			for _, platform := range envelope.Platforms {
				fmt.Println(platform)
			}
			return nil
		},
	}
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the plugins the server offers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newAPIClient(serverURL, apiKey)
			var envelope struct {
				Plugins []struct {
					Name        string `json:"name"`
					Description string `json:"description"`
				} `json:"plugins"`
			}
			if err := client.get(cmd.Context(), "/api/v1/plugins", nil, &envelope); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(envelope.Plugins)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Name", "Description"})
			for _, plugin := range envelope.Plugins {
				table.Append([]string{plugin.Name, plugin.Description})
			}
			table.Render()
			return nil
		},
	}
}

func newRawCmd() *cobra.Command {
	var queryFile string
	cmd := &cobra.Command{
		Use:   "raw <platform> [query]",
		Short: "Run a raw GraphQL query without creating a job",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 2 {
				query = args[1]
			}
			if queryFile != "" {
				data, err := os.ReadFile(queryFile)
				if err != nil {
					return fmt.Errorf("read query file: %w", err)
				}
				query = string(data)
			}

			client := newAPIClient(serverURL, apiKey)
			body := map[string]string{"platform": args[0], "query": query}
			var result gitmeta.RawResult
			if err := client.post(cmd.Context(), "/api/v1/debug/raw", body, &result); err != nil {
				return err
			}
			if outputJSON {
				return printJSON(result)
			}
			fmt.Println(string(result.Response))
			fmt.Printf("%d repositories in %.2fs\n", result.RepoCount, result.Duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&queryFile, "query-file", "", "file holding the raw GraphQL query")
	return cmd
}

// parseFieldList turns "name,starCount,mergeRequests.title" into the
// nested shape the API expects, grouping dotted entries under their head
// field.
func parseFieldList(raw string) []gitmeta.RequestedField {
	var fields []gitmeta.RequestedField
	index := map[string]int{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		head, sub, nested := strings.Cut(part, ".")
		i, seen := index[head]
		if !seen {
			i = len(fields)
			index[head] = i
			fields = append(fields, gitmeta.RequestedField{Field: head})
		}
		if nested {
			fields[i].Subfields = append(fields[i].Subfields, sub)
		}
	}
	return fields
}

func recordCount(job gitmeta.Job) int {
	if job.RawResult != nil {
		return job.RawResult.RepoCount
	}
	return len(job.Repos)
}

func renderJobDetail(job gitmeta.Job) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"ID", job.ID})
	table.Append([]string{"Name", job.Name})
	table.Append([]string{"Mode", string(job.Mode)})
	table.Append([]string{"Platform", string(job.Platform)})
	table.Append([]string{"State", string(job.State)})
	table.Append([]string{"Submitted", job.Submitted.Format(time.RFC3339)})
	table.Append([]string{"Started", fmtTime(job.Started)})
	table.Append([]string{"Finished", fmtTime(job.Finished)})
	if job.ExecutionSeconds != nil {
		table.Append([]string{"Execution", fmt.Sprintf("%.2fs", *job.ExecutionSeconds)})
	}
	table.Append([]string{"Records", strconv.Itoa(recordCount(job))})
	if len(job.RequestedFields) > 0 {
		table.Append([]string{"Fields", strings.Join(job.RequestedFields, ", ")})
	}
	if job.Settings != nil {
		table.Append([]string{"Search", job.Settings.SearchTerm})
		table.Append([]string{"Language", job.Settings.ProgrammingLanguage})
	}
	table.Render()

	if len(job.Log) > 0 {
		fmt.Println()
		for _, line := range job.Log {
			fmt.Println(line)
		}
	}
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
