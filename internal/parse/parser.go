// Package parse turns decoded provider response nodes into typed records.
package parse

import (
	"github.com/Timothy-Git/GitMetadataCrawler/internal/fieldmap"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// RepoParser resolves repository and merge request nodes for one platform
// and one requested-field set.
type RepoParser struct {
	fields   *fieldmap.Parser
	mrFields *fieldmap.Parser
	wantMRs  bool
}

// NewRepoParser builds a parser from the platform's two path mappings and
// the flat requested fields. Merge request subfields are everything under
// the "mergeRequests." prefix.
func NewRepoParser(repoMapping, mrMapping fieldmap.Mapping, requestedFields []string) *RepoParser {
	subfields := fieldmap.Subfields(requestedFields, "mergeRequests")
	return &RepoParser{
		fields:   fieldmap.NewParser(repoMapping, requestedFields),
		mrFields: fieldmap.NewParser(mrMapping, subfields),
		wantMRs:  len(subfields) > 0,
	}
}

// WantsMergeRequests reports whether any merge request subfield was
// requested.
func (p *RepoParser) WantsMergeRequests() bool {
	return p.wantMRs
}

// Repo resolves the scalar and list fields of one repository node.
func (p *RepoParser) Repo(node map[string]any) gitmeta.RepoRecord {
	return gitmeta.RepoRecord{
		Name:        p.fields.StringField(node, "name"),
		FullName:    p.fields.StringField(node, "fullName"),
		Description: p.fields.StringField(node, "description"),
		StarCount:   p.fields.IntField(node, "starCount"),
		CreatedAt:   p.fields.StringField(node, "createdAt"),
		UpdatedAt:   p.fields.StringField(node, "updatedAt"),
		Languages:   p.fields.StringListField(node, "languages"),
	}
}

// MergeRequest resolves one merge request node.
func (p *RepoParser) MergeRequest(node map[string]any) gitmeta.MergeRequest {
	return gitmeta.MergeRequest{
		AuthorName:  p.mrFields.StringField(node, "authorName"),
		Title:       p.mrFields.StringField(node, "title"),
		Description: p.mrFields.StringField(node, "description"),
		CreatedAt:   p.mrFields.StringField(node, "createdAt"),
	}
}

// MergeRequests resolves a list of merge request nodes, skipping entries
// that are not objects.
func (p *RepoParser) MergeRequests(nodes []any) []gitmeta.MergeRequest {
	requests := make([]gitmeta.MergeRequest, 0, len(nodes))
	for _, raw := range nodes {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		requests = append(requests, p.MergeRequest(node))
	}
	return requests
}
