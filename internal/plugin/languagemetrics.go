package plugin

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/export"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// LanguageMetrics aggregates per-language statistics across the fetched
// repositories of a job and exports them as CSV artifacts: one file with
// usage metrics per language, and one with pairwise language combinations
// when any repository uses more than one language.
type LanguageMetrics struct {
	exporter *export.Exporter
}

// NewLanguageMetrics builds the plugin around the given exporter.
func NewLanguageMetrics(exporter *export.Exporter) *LanguageMetrics {
	return &LanguageMetrics{exporter: exporter}
}

func (p *LanguageMetrics) Name() string { return "LANGUAGE_METRICS" }

func (p *LanguageMetrics) Description() string {
	return "Calculates statistics for each programming language across the fetched repositories"
}

// Execute computes the language statistics and uploads the CSV files.
func (p *LanguageMetrics) Execute(ctx context.Context, job gitmeta.Job) (gitmeta.PluginResult, error) {
	if len(job.Repos) == 0 {
		return gitmeta.PluginResult{
			URLs:    []gitmeta.PluginURL{},
			Message: "No repository data available.",
		}, nil
	}

	stats := collectLanguageStats(job.Repos)

	name := fmt.Sprintf("language_metrics_%s.csv", job.ID)
	metrics, err := p.exporter.ExportTable(ctx, job.ID, name, stats.metricsTable())
	if err != nil {
		return gitmeta.PluginResult{}, fmt.Errorf("export language metrics: %w", err)
	}
	urls := []gitmeta.PluginURL{{Name: "language_metrics_csv", URL: metrics.URL}}
	message := "Language plugin CSVs exported."

	if combinations := stats.combinationsTable(); combinations.Len() > 0 {
		name := fmt.Sprintf("language_combinations_%s.csv", job.ID)
		artifact, err := p.exporter.ExportTable(ctx, job.ID, name, combinations)
		if err != nil {
			return gitmeta.PluginResult{}, fmt.Errorf("export language combinations: %w", err)
		}
		urls = append(urls, gitmeta.PluginURL{Name: "combination_csv", URL: artifact.URL})
		message += " Language combination CSV exported."
	}

	return gitmeta.PluginResult{URLs: urls, Message: message}, nil
}

type languagePair struct {
	first  string
	second string
}

// languageStats accumulates counters per language. The order slices record
// first appearance so ties keep a deterministic ordering after sorting.
type languageStats struct {
	order         []string
	repos         map[string]map[string]struct{}
	mentions      map[string]int
	single        map[string]int
	multi         map[string]int
	pairOrder     []languagePair
	pairCount     map[languagePair]int
	totalRepos    int
	totalMentions int
}

func collectLanguageStats(records []gitmeta.RepoRecord) *languageStats {
	s := &languageStats{
		repos:     make(map[string]map[string]struct{}),
		mentions:  make(map[string]int),
		single:    make(map[string]int),
		multi:     make(map[string]int),
		pairCount: make(map[languagePair]int),
	}
	for _, record := range records {
		s.totalRepos++
		name := "unknown"
		if record.Name != nil {
			name = *record.Name
		}
		for _, language := range record.Languages {
			s.totalMentions++
			if _, ok := s.repos[language]; !ok {
				s.repos[language] = make(map[string]struct{})
				s.order = append(s.order, language)
			}
			s.repos[language][name] = struct{}{}
			s.mentions[language]++
			if len(record.Languages) == 1 {
				s.single[language]++
			} else {
				s.multi[language]++
			}
		}
		unique := uniqueSorted(record.Languages)
		for i := 0; i < len(unique); i++ {
			for j := i + 1; j < len(unique); j++ {
				pair := languagePair{first: unique[i], second: unique[j]}
				if _, ok := s.pairCount[pair]; !ok {
					s.pairOrder = append(s.pairOrder, pair)
				}
				s.pairCount[pair]++
			}
		}
	}
	return s
}

// metricsTable renders one row per language, most-used first. Languages
// tied on repository count keep their first-appearance order.
func (s *languageStats) metricsTable() *export.Table {
	languages := append([]string(nil), s.order...)
	sort.SliceStable(languages, func(i, j int) bool {
		return len(s.repos[languages[i]]) > len(s.repos[languages[j]])
	})
	table := export.NewTable()
	for _, language := range languages {
		repoCount := len(s.repos[language])
		row := export.NewRow()
		row.Set("language", language)
		row.Set("repoCount", strconv.Itoa(repoCount))
		row.Set("percentOfRepos", formatPercent(float64(repoCount)/float64(s.totalRepos)*100))
		row.Set("percentOfMentions", formatPercent(float64(s.mentions[language])/float64(s.totalMentions)*100))
		row.Set("singleLanguageRepoCount", strconv.Itoa(s.single[language]))
		row.Set("multiLanguageRepoCount", strconv.Itoa(s.multi[language]))
		table.Append(row)
	}
	return table
}

// combinationsTable renders one row per language pair, most frequent
// first, with first-appearance order breaking ties.
func (s *languageStats) combinationsTable() *export.Table {
	pairs := append([]languagePair(nil), s.pairOrder...)
	sort.SliceStable(pairs, func(i, j int) bool {
		return s.pairCount[pairs[i]] > s.pairCount[pairs[j]]
	})
	table := export.NewTable()
	for _, pair := range pairs {
		row := export.NewRow()
		row.Set("language1", pair.first)
		row.Set("language2", pair.second)
		row.Set("combinationCount", strconv.Itoa(s.pairCount[pair]))
		table.Append(row)
	}
	return table
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}
	sort.Strings(unique)
	return unique
}

// formatPercent rounds to two decimals but always keeps at least one
// decimal place, so whole numbers render as "50.0 %" rather than "50 %".
func formatPercent(value float64) string {
	rounded := math.Round(value*100) / 100
	s := strconv.FormatFloat(rounded, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + " %"
}
