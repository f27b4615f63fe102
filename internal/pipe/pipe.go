// Package pipe implements the Pipe data model of spec section 3:
// identity, attributes (columns/indices/dtypes/target/parameters), and
// a locally TTL-cached view of the parameters the registry holds.
package pipe

import (
	"fmt"
	"sort"
	"strings"

	"mrsm/internal/dtype"
)

// Recognized column roles (spec section 3, "columns").
const (
	RoleDatetime = "datetime"
	RolePrimary  = "primary"
)

// reservedIndexName is the composite index covering the full index
// set when upsert is true (spec section 3, "indices").
const reservedIndexName = "unique"

// Keys is the identity triple plus the bound instance, spec section 3
// invariant 1: "The identity triple, plus instance_keys, uniquely
// addresses a pipe in the registry."
type Keys struct {
	Connector string
	Metric    string
	Location  string // may be empty: "no location"
	Instance  string
}

// String renders the identity as a stable, sortable key.
func (k Keys) String() string {
	return fmt.Sprintf("%s:%s:%s@%s", k.Connector, k.Metric, k.Location, k.Instance)
}

// Pipe is the full in-memory representation of spec section 3's Pipe.
type Pipe struct {
	Keys Keys

	// Columns maps semantic index roles to physical column names.
	// Any value appearing here is an index column.
	Columns map[string]string

	// Indices maps a composite index name to its ordered columns. If
	// empty, indices are synthesized from Columns on demand (see
	// SynthesizeIndices).
	Indices map[string][]string

	// Dtypes maps physical column name to its logical dtype.
	Dtypes map[string]dtype.Dtype

	// Target is the physical table name. Empty means "derive from Keys".
	Target string

	Parameters Parameters
}

// DefaultTarget derives the default physical table name from the
// identity triple when Target is unset.
func (p *Pipe) DefaultTarget() string {
	if p.Target != "" {
		return p.Target
	}
	loc := p.Keys.Location
	if loc == "" {
		return fmt.Sprintf("%s_%s", p.Keys.Connector, p.Keys.Metric)
	}
	return fmt.Sprintf("%s_%s_%s", p.Keys.Connector, p.Keys.Metric, loc)
}

// DatetimeColumn returns the physical column bound to the datetime
// role, and whether one is set.
func (p *Pipe) DatetimeColumn() (string, bool) {
	c, ok := p.Columns[RoleDatetime]
	return c, ok && c != ""
}

// PrimaryColumn returns the physical column bound to the primary role,
// and whether one is set.
func (p *Pipe) PrimaryColumn() (string, bool) {
	c, ok := p.Columns[RolePrimary]
	return c, ok && c != ""
}

// IndexColumns returns every physical column referenced by Columns,
// deduplicated, in a stable (role-name-sorted) order. Per spec section
// 3: "Any value appearing here is an index column."
func (p *Pipe) IndexColumns() []string {
	roles := make([]string, 0, len(p.Columns))
	for role := range p.Columns {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	seen := make(map[string]bool, len(roles))
	cols := make([]string, 0, len(roles))
	for _, role := range roles {
		c := p.Columns[role]
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cols = append(cols, c)
	}
	return cols
}

// SynthesizeIndices returns p.Indices if non-empty, otherwise builds
// indices from Columns: one single-column index per role, plus the
// reserved "unique" composite over the full index set when Upsert is
// true (spec section 3, "indices").
func (p *Pipe) SynthesizeIndices() map[string][]string {
	if len(p.Indices) > 0 {
		return p.Indices
	}

	out := make(map[string][]string, len(p.Columns)+1)
	for role, col := range p.Columns {
		if col == "" {
			continue
		}
		out[role] = []string{col}
	}

	if p.Parameters.Upsert {
		out[reservedIndexName] = p.IndexColumns()
	}

	return out
}

// IndexName formats an index name using Parameters.IndexTemplate
// (default "IX_{target}_{column_names}"), per spec section 6.
func (p *Pipe) IndexName(indexKind string, columns []string) string {
	template := p.Parameters.IndexTemplate
	if template == "" {
		template = "IX_{target}_{column_names}"
	}
	name := strings.NewReplacer(
		"{target}", p.DefaultTarget(),
		"{column_names}", strings.Join(columns, "_"),
	).Replace(template)

	if indexKind == reservedIndexName {
		return "UQ_" + strings.TrimPrefix(name, "IX_")
	}
	return name
}

// Validate checks the structural invariants of spec section 3 that do
// not require talking to an instance (invariant 3 and 4's "issues
// values" behavior is enforced by the sync pipeline, not here).
func (p *Pipe) Validate() error {
	if p.Keys.Connector == "" || p.Keys.Metric == "" {
		return fmt.Errorf("pipe %s: connector and metric keys are required", p.Keys)
	}
	if p.Keys.Instance == "" {
		return fmt.Errorf("pipe %s: instance key is required", p.Keys)
	}

	if dtCol, ok := p.DatetimeColumn(); ok {
		d, hasDtype := p.Dtypes[dtCol]
		if hasDtype && !d.IsDatetime() && d.Kind != dtype.KindInt {
			return fmt.Errorf("pipe %s: datetime column %q must be a timestamp or an int dtype, got %q", p.Keys, dtCol, d)
		}
	}

	return nil
}
