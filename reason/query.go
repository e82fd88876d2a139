package reason

import (
	"fmt"

	"github.com/strandlabs/mnemo-go-sdk/memory"
)

// Constraints narrow which memories a reasoning execution may consider.
// All constraints combine conjunctively; zero values are not applied.
type Constraints struct {
	MemoryTypes   []memory.Type `json:"memory_types,omitempty"`
	EntityTypes   []string      `json:"entity_types,omitempty"`
	Relationships []string      `json:"relationships,omitempty"`
	MinConfidence float64       `json:"min_confidence,omitempty"`
	TimeRangeDays int           `json:"time_range_days,omitempty"`

	ToolSuccessOnly    bool    `json:"tool_success_only,omitempty"`
	MinToolSuccessRate float64 `json:"min_tool_success_rate,omitempty"`
}

func (c Constraints) filterParams() memory.FilterParams {
	p := memory.FilterParams{
		MemoryTypes:        c.MemoryTypes,
		EntityTypes:        c.EntityTypes,
		Relationships:      c.Relationships,
		TimeRangeDays:      c.TimeRangeDays,
		ToolSuccessOnly:    c.ToolSuccessOnly,
		MinToolSuccessRate: c.MinToolSuccessRate,
	}
	if c.MinConfidence > 0 {
		mc := c.MinConfidence
		p.MinConfidence = &mc
	}
	return p
}

// followsRelation reports whether traversal may follow an edge of the
// given relation type.
func (c Constraints) followsRelation(rel string) bool {
	if len(c.Relationships) == 0 {
		return true
	}
	for _, r := range c.Relationships {
		if r == rel {
			return true
		}
	}
	return false
}

// Query is a structured reasoning request.
type Query struct {
	Scope       string      `json:"scope"`
	Goal        string      `json:"goal"`
	Constraints Constraints `json:"constraints"`

	// Depth is the graph-traversal hop limit, in [1,5].
	Depth int `json:"reasoning_depth"`
	// MaxResults caps the ranked candidate set, in [1,100].
	MaxResults int `json:"max_results"`

	IncludeToolStats bool `json:"include_tool_stats,omitempty"`
	WriteDerived     bool `json:"write_derived,omitempty"`
}

// Validate checks range constraints. The engine rejects invalid queries
// before any step runs.
func (q *Query) Validate() error {
	if q.Goal == "" {
		return fmt.Errorf("query: empty goal")
	}
	if q.Depth < 1 || q.Depth > 5 {
		return fmt.Errorf("query: reasoning depth %d outside [1,5]", q.Depth)
	}
	if q.MaxResults < 1 || q.MaxResults > 100 {
		return fmt.Errorf("query: max results %d outside [1,100]", q.MaxResults)
	}
	if q.Constraints.MinConfidence < 0 || q.Constraints.MinConfidence > 1 {
		return fmt.Errorf("query: min confidence %v outside [0,1]", q.Constraints.MinConfidence)
	}
	for _, mt := range q.Constraints.MemoryTypes {
		if !mt.Valid() {
			return fmt.Errorf("query: unknown memory type %q", mt)
		}
	}
	return nil
}
