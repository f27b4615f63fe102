package pipe

// Parameters is the pipe's free-form metadata, spec section 3. Fields
// named explicitly in the spec get typed struct fields; anything else
// a plugin or user attaches lives in Extra.
type Parameters struct {
	Upsert        bool `json:"upsert,omitempty"`
	Autoincrement bool `json:"autoincrement,omitempty"`
	Static        bool `json:"static,omitempty"`
	Enforce       *bool `json:"enforce,omitempty"` // default true; pointer so "unset" is distinguishable
	NullIndices   bool `json:"null_indices,omitempty"`

	Verify VerifyParameters `json:"verify,omitempty"`
	Fetch  FetchParameters  `json:"fetch,omitempty"`

	Tags     []string `json:"tags,omitempty"`
	Children []string `json:"children,omitempty"` // pipe-key references
	Parents  []string `json:"parents,omitempty"`

	Schema        string `json:"schema,omitempty"`
	IndexTemplate string `json:"index_template,omitempty"`

	// SourceQuery is the defining SELECT for a pipe whose connector and
	// instance coincide (spec section 4.5, the in-place fast path): the
	// pipeline wraps this as a sub-CTE rather than materializing rows
	// client-side.
	SourceQuery string `json:"source_query,omitempty"`

	Extra map[string]any `json:"-"`
}

// VerifyParameters groups the verify-related tunables.
type VerifyParameters struct {
	ChunkMinutes int `json:"chunk_minutes,omitempty"`
}

// FetchParameters groups the fetch-related tunables.
type FetchParameters struct {
	BacktrackMinutes int `json:"backtrack_minutes,omitempty"`
}

// EnforceDtypes reports whether incoming dtypes should be coerced,
// defaulting to true per spec section 3: "enforce (bool — coerce
// incoming dtypes; default true)."
func (p Parameters) EnforceDtypes() bool {
	if p.Enforce == nil {
		return true
	}
	return *p.Enforce
}

// BacktrackMinutes resolves the effective backtrack window, defaulting
// to 1440 (spec section 4.4 step 2).
func (p Parameters) BacktrackMinutes() int {
	if p.Fetch.BacktrackMinutes > 0 {
		return p.Fetch.BacktrackMinutes
	}
	return 1440
}

// VerifyChunkMinutes resolves the effective verify chunk size in
// minutes, defaulting to 1440 (one day) when unset.
func (p Parameters) VerifyChunkMinutes() int {
	if p.Verify.ChunkMinutes > 0 {
		return p.Verify.ChunkMinutes
	}
	return 1440
}

// HasTag reports whether tag is present in Tags.
func (p Parameters) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
