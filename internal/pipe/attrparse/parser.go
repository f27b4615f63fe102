// Package attrparse parses a pipe's attribute document: a TOML file
// declaring its identity, columns, dtypes, indices, and parameters.
// This is the on-disk format used by `mrsm register pipes --from-file`
// and by fixtures in tests.
//
// Adapted from the teacher's internal/parser/toml package, which
// parsed a SQL schema (database/tables/columns) from TOML; the shape
// here (decode into an intermediate document struct, then convert into
// the domain type) is the same, applied to pipe attributes instead of
// table schemas.
package attrparse

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"mrsm/internal/dtype"
	"mrsm/internal/pipe"
)

// document is the top-level TOML document shape.
type document struct {
	Pipe       pipeSection            `toml:"pipe"`
	Columns    map[string]string      `toml:"columns"`
	Dtypes     map[string]string      `toml:"dtypes"`
	Indices    map[string][]string    `toml:"indices"`
	Parameters parametersSection      `toml:"parameters"`
}

type pipeSection struct {
	Connector string `toml:"connector"`
	Metric    string `toml:"metric"`
	Location  string `toml:"location"`
	Instance  string `toml:"instance"`
	Target    string `toml:"target"`
}

type parametersSection struct {
	Upsert           bool     `toml:"upsert"`
	Autoincrement    bool     `toml:"autoincrement"`
	Static           bool     `toml:"static"`
	Enforce          *bool    `toml:"enforce"`
	NullIndices      bool     `toml:"null_indices"`
	VerifyChunkMin   int      `toml:"verify_chunk_minutes"`
	FetchBacktrackMin int     `toml:"fetch_backtrack_minutes"`
	Tags             []string `toml:"tags"`
	Children         []string `toml:"children"`
	Parents          []string `toml:"parents"`
	Schema           string   `toml:"schema"`
	IndexTemplate    string   `toml:"index_template"`
}

// ParseFile opens path and parses it as a pipe attribute document.
func ParseFile(path string) (*pipe.Pipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("attrparse: open file %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a pipe attribute document from r.
func Parse(r io.Reader) (*pipe.Pipe, error) {
	var doc document
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("attrparse: decode error: %w", err)
	}
	return convert(&doc)
}

func convert(doc *document) (*pipe.Pipe, error) {
	if doc.Pipe.Connector == "" || doc.Pipe.Metric == "" {
		return nil, fmt.Errorf("attrparse: [pipe] connector and metric are required")
	}

	dtypes := make(map[string]dtype.Dtype, len(doc.Dtypes))
	for col, raw := range doc.Dtypes {
		d, err := dtype.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("attrparse: dtype of column %q: %w", col, err)
		}
		dtypes[col] = d
	}

	p := &pipe.Pipe{
		Keys: pipe.Keys{
			Connector: doc.Pipe.Connector,
			Metric:    doc.Pipe.Metric,
			Location:  doc.Pipe.Location,
			Instance:  doc.Pipe.Instance,
		},
		Columns: doc.Columns,
		Indices: doc.Indices,
		Dtypes:  dtypes,
		Target:  doc.Pipe.Target,
		Parameters: pipe.Parameters{
			Upsert:        doc.Parameters.Upsert,
			Autoincrement: doc.Parameters.Autoincrement,
			Static:        doc.Parameters.Static,
			Enforce:       doc.Parameters.Enforce,
			NullIndices:   doc.Parameters.NullIndices,
			Verify:        pipe.VerifyParameters{ChunkMinutes: doc.Parameters.VerifyChunkMin},
			Fetch:         pipe.FetchParameters{BacktrackMinutes: doc.Parameters.FetchBacktrackMin},
			Tags:          doc.Parameters.Tags,
			Children:      doc.Parameters.Children,
			Parents:       doc.Parameters.Parents,
			Schema:        doc.Parameters.Schema,
			IndexTemplate: doc.Parameters.IndexTemplate,
		},
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
