package memory

import (
	"fmt"
	"time"
)

// Type classifies what kind of fact a memory item holds.
type Type string

const (
	TypeProfile   Type = "profile"
	TypeEvent     Type = "event"
	TypeKnowledge Type = "knowledge"
	TypeBehavior  Type = "behavior"
	TypeSkill     Type = "skill"
	TypeTool      Type = "tool"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypeProfile, TypeEvent, TypeKnowledge, TypeBehavior, TypeSkill, TypeTool:
		return true
	}
	return false
}

// Types lists all valid memory types.
func Types() []Type {
	return []Type{TypeProfile, TypeEvent, TypeKnowledge, TypeBehavior, TypeSkill, TypeTool}
}

// Item is a single stored memory.
//
// Items are deduplicated per scope by ContentHash: upserting a second item
// whose summary normalizes to the same text with the same type reinforces
// the existing item (ReinforcementCount increments, LastReinforcedAt moves
// forward) instead of inserting a duplicate. Items are never hard-deleted
// by this layer; backends may soft-delete.
type Item struct {
	ID         string `json:"id"`
	Scope      string `json:"scope"`
	ResourceID string `json:"resource_id,omitempty"`
	Type       Type   `json:"memory_type"`
	Summary    string `json:"summary"`

	// Embedding is nil until an embedder has processed the summary.
	// Rankers skip items with nil embeddings; they are never scored as zero.
	Embedding []float32 `json:"embedding,omitempty"`

	// HappenedAt is when the remembered event occurred, if known.
	// Time-range filters fall back to CreatedAt when it is nil.
	HappenedAt *time.Time `json:"happened_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	// Confidence is the extraction confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Entities are the entity-type tags this item mentions.
	Entities []string `json:"entities,omitempty"`

	ContentHash        string     `json:"content_hash,omitempty"`
	ReinforcementCount int        `json:"reinforcement_count"`
	LastReinforcedAt   *time.Time `json:"last_reinforced_at,omitempty"`

	// Metadata holds caller-defined fields without polluting the core
	// field namespace.
	Metadata map[string]any `json:"metadata,omitempty"`

	// ToolCalls is the append-only call history. Only items of TypeTool
	// carry one.
	ToolCalls []ToolCallResult `json:"tool_calls,omitempty"`
}

// AppendToolCall appends a call result to the item's history, computing the
// result's dedup hash if unset. Only tool items accept call history.
func (it *Item) AppendToolCall(tc ToolCallResult) error {
	if it.Type != TypeTool {
		return fmt.Errorf("append tool call: item %s has type %q, want %q", it.ID, it.Type, TypeTool)
	}
	if tc.Hash == "" {
		tc.Hash = tc.ComputeHash()
	}
	it.ToolCalls = append(it.ToolCalls, tc)
	return nil
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (it *Item) Clone() *Item {
	cp := *it
	if it.Embedding != nil {
		cp.Embedding = append([]float32(nil), it.Embedding...)
	}
	if it.Entities != nil {
		cp.Entities = append([]string(nil), it.Entities...)
	}
	if it.HappenedAt != nil {
		t := *it.HappenedAt
		cp.HappenedAt = &t
	}
	if it.LastReinforcedAt != nil {
		t := *it.LastReinforcedAt
		cp.LastReinforcedAt = &t
	}
	if it.Metadata != nil {
		cp.Metadata = make(map[string]any, len(it.Metadata))
		for k, v := range it.Metadata {
			cp.Metadata[k] = v
		}
	}
	if it.ToolCalls != nil {
		cp.ToolCalls = append([]ToolCallResult(nil), it.ToolCalls...)
	}
	return &cp
}

// ToolSuccessRate returns the success rate over the item's full call
// history, and false when the item has no calls.
func (it *Item) ToolSuccessRate() (float64, bool) {
	if len(it.ToolCalls) == 0 {
		return 0, false
	}
	ok := 0
	for _, tc := range it.ToolCalls {
		if tc.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(it.ToolCalls)), true
}

// Category groups items under a named heading. Names are unique per scope,
// compared case-insensitively.
type Category struct {
	ID          string    `json:"id"`
	Scope       string    `json:"scope"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CategoryItem links an item to a category. The (item, category) pair is
// unique per scope.
type CategoryItem struct {
	ItemID     string    `json:"item_id"`
	CategoryID string    `json:"category_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Resource is an external artifact a memory was extracted from.
type Resource struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	URL       string    `json:"url"`
	Modality  string    `json:"modality"`
	LocalPath string    `json:"local_path,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Edge is a directed, typed relationship between two memory items.
type Edge struct {
	Relation string `json:"relation"`
	EntityID string `json:"entity_id"`
}

// Relation vocabulary for graph links between items.
const (
	RelRelatesTo   = "relates_to"
	RelContradicts = "contradicts"
	RelDependsOn   = "depends_on"
	RelRefines     = "refines"
	RelDerivedFrom = "derived_from"
)

// ValidRelation reports whether rel is part of the link vocabulary.
func ValidRelation(rel string) bool {
	switch rel {
	case RelRelatesTo, RelContradicts, RelDependsOn, RelRefines, RelDerivedFrom:
		return true
	}
	return false
}
