// Package export renders job results as semicolon-separated CSV artifacts
// and uploads them through the configured blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// Spreadsheet tools sniff this prefix to pick UTF-8 over the locale default.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const contentType = "text/csv; charset=utf-8"

// ObjectPrefix is the object key prefix every artifact is written under.
// The file download route resolves names against the same location.
const ObjectPrefix = "exports"

// ErrNoData is returned when a job has nothing to export.
var ErrNoData = errors.New("no data available for export")

// Row is one flattened CSV row. Columns keep insertion order so the
// rendered header follows the record layout instead of map iteration.
type Row struct {
	columns []string
	values  map[string]string
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{values: make(map[string]string)}
}

// Set stores a cell. Re-setting a column overwrites the value but keeps
// its original position.
func (r *Row) Set(column, value string) {
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// FlattenRecord turns one repository record into a flat row. Nested merge
// requests become indexed dotted columns (merge_requests_1.title), list
// entries become indexed columns (languages_1), and unset fields are
// left out entirely.
func FlattenRecord(record gitmeta.RepoRecord) *Row {
	row := NewRow()
	setString(row, "name", record.Name)
	setString(row, "full_name", record.FullName)
	setString(row, "description", record.Description)
	if record.StarCount != nil {
		row.Set("star_count", strconv.Itoa(*record.StarCount))
	}
	setString(row, "created_at", record.CreatedAt)
	setString(row, "updated_at", record.UpdatedAt)
	for i, language := range record.Languages {
		row.Set(fmt.Sprintf("languages_%d", i+1), language)
	}
	for i, mr := range record.MergeRequests {
		prefix := fmt.Sprintf("merge_requests_%d.", i+1)
		setString(row, prefix+"author_name", mr.AuthorName)
		setString(row, prefix+"created_at", mr.CreatedAt)
		setString(row, prefix+"description", mr.Description)
		setString(row, prefix+"title", mr.Title)
	}
	return row
}

func setString(row *Row, column string, value *string) {
	if value == nil {
		return
	}
	row.Set(column, *value)
}

// Table collects rows and renders them as CSV. The header is the union of
// all row columns in first-appearance order; cells a row never set render
// empty.
type Table struct {
	columns []string
	seen    map[string]struct{}
	rows    []*Row
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{seen: make(map[string]struct{})}
}

// Append adds a row and registers its columns.
func (t *Table) Append(row *Row) {
	for _, column := range row.columns {
		if _, ok := t.seen[column]; !ok {
			t.seen[column] = struct{}{}
			t.columns = append(t.columns, column)
		}
	}
	t.rows = append(t.rows, row)
}

// Len reports the number of appended rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// CSV renders the table with a semicolon separator and a UTF-8 BOM.
func (t *Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if err := w.Write(t.columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	cells := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, column := range t.columns {
			cells[i] = row.values[column]
		}
		if err := w.Write(cells); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Artifact describes one uploaded export file.
type Artifact struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	URL      string `json:"url"`
	Checksum string `json:"checksum"`
	Size     int    `json:"size"`
}

// Exporter uploads rendered CSV files and hands back download metadata.
type Exporter struct {
	store     gitmeta.BlobStore
	hasher    gitmeta.Hasher
	clock     gitmeta.Clock
	publicURL string
}

// New builds an exporter. publicURL is the externally reachable base the
// file download route is served under.
func New(store gitmeta.BlobStore, hasher gitmeta.Hasher, clock gitmeta.Clock, publicURL string) *Exporter {
	return &Exporter{store: store, hasher: hasher, clock: clock, publicURL: publicURL}
}

// ExportRepos renders and uploads the repository records of one job.
func (e *Exporter) ExportRepos(ctx context.Context, job gitmeta.Job) (Artifact, error) {
	if len(job.Repos) == 0 {
		return Artifact{}, fmt.Errorf("no repository data available for export: %w", ErrNoData)
	}
	table := NewTable()
	for _, record := range job.Repos {
		table.Append(FlattenRecord(record))
	}
	name := fmt.Sprintf("fetch_job_%s_%s.csv", job.ID, e.timestamp())
	return e.upload(ctx, name, table)
}

// ExportTable uploads plugin-generated tabular data. fileName is optional;
// when set it is used verbatim apart from ensuring a .csv extension.
func (e *Exporter) ExportTable(ctx context.Context, jobID, fileName string, table *Table) (Artifact, error) {
	if table == nil || table.Len() == 0 {
		return Artifact{}, ErrNoData
	}
	name := fileName
	if name == "" {
		name = fmt.Sprintf("plugin_data_%s_%s.csv", jobID, e.timestamp())
	} else if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		name += ".csv"
	}
	return e.upload(ctx, name, table)
}

// FileURL builds the public download URL for an exported file name.
func FileURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/files/" + name
}

func (e *Exporter) timestamp() string {
	return e.clock.Now().Format("20060102_1504")
}

func (e *Exporter) upload(ctx context.Context, name string, table *Table) (Artifact, error) {
	content, err := table.CSV()
	if err != nil {
		return Artifact{}, err
	}
	uri, err := e.store.PutObject(ctx, path.Join(ObjectPrefix, name), contentType, bytes.NewReader(content))
	if err != nil {
		return Artifact{}, fmt.Errorf("upload export: %w", err)
	}
	checksum, err := e.hasher.Hash(content)
	if err != nil {
		return Artifact{}, fmt.Errorf("hash export: %w", err)
	}
	return Artifact{
		Name:     name,
		URI:      uri,
		URL:      FileURL(e.publicURL, name),
		Checksum: checksum,
		Size:     len(content),
	}, nil
}
