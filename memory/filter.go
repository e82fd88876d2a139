package memory

import (
	"fmt"
	"time"
)

// FilterParams selects items from a store. Filters combine conjunctively;
// a zero-value field is not applied.
type FilterParams struct {
	// MemoryTypes restricts to items of any listed type.
	MemoryTypes []Type
	// EntityTypes requires at least one matching entity tag.
	EntityTypes []string
	// Relationships constrains which edge types graph traversal follows.
	// It does not filter items directly; stores carry it through so the
	// reasoning engine can apply it during traversal.
	Relationships []string
	// MinConfidence excludes items below the threshold. Nil means no
	// confidence filter; zero is a legal explicit threshold.
	MinConfidence *float64
	// TimeRangeDays keeps items whose HappenedAt (or CreatedAt when
	// HappenedAt is unset) falls within the last N days. Zero disables.
	TimeRangeDays int
	// ToolSuccessOnly excludes tool items whose overall success rate is
	// below MinToolSuccessRate. Non-tool items are unaffected.
	ToolSuccessOnly    bool
	MinToolSuccessRate float64
}

// ParseFilterParams builds FilterParams from a loosely typed map, rejecting
// unknown keys with a descriptive error rather than silently ignoring them.
func ParseFilterParams(raw map[string]any) (FilterParams, error) {
	var p FilterParams
	for key, val := range raw {
		switch key {
		case "memory_types":
			types, err := toStringSlice(val)
			if err != nil {
				return p, fmt.Errorf("filter field %q: %w", key, err)
			}
			for _, s := range types {
				t := Type(s)
				if !t.Valid() {
					return p, fmt.Errorf("filter field %q: unknown memory type %q", key, s)
				}
				p.MemoryTypes = append(p.MemoryTypes, t)
			}
		case "entity_types":
			vals, err := toStringSlice(val)
			if err != nil {
				return p, fmt.Errorf("filter field %q: %w", key, err)
			}
			p.EntityTypes = vals
		case "relationships":
			vals, err := toStringSlice(val)
			if err != nil {
				return p, fmt.Errorf("filter field %q: %w", key, err)
			}
			p.Relationships = vals
		case "min_confidence":
			f, err := toFloat(val)
			if err != nil {
				return p, fmt.Errorf("filter field %q: %w", key, err)
			}
			if f < 0 || f > 1 {
				return p, fmt.Errorf("filter field %q: %v outside [0,1]", key, f)
			}
			p.MinConfidence = &f
		case "time_range_days":
			f, err := toFloat(val)
			if err != nil {
				return p, fmt.Errorf("filter field %q: %w", key, err)
			}
			p.TimeRangeDays = int(f)
		case "tool_success_only":
			b, ok := val.(bool)
			if !ok {
				return p, fmt.Errorf("filter field %q: want bool, got %T", key, val)
			}
			p.ToolSuccessOnly = b
		case "min_tool_success_rate":
			f, err := toFloat(val)
			if err != nil {
				return p, fmt.Errorf("filter field %q: %w", key, err)
			}
			p.MinToolSuccessRate = f
		default:
			return p, fmt.Errorf("unknown filter field %q", key)
		}
	}
	return p, nil
}

// Match reports whether the item passes every applied filter, evaluated
// at the given time. Shared by store implementations so they agree on
// filter semantics.
func (p FilterParams) Match(it *Item, now time.Time) bool {
	if len(p.MemoryTypes) > 0 && !containsType(p.MemoryTypes, it.Type) {
		return false
	}
	if len(p.EntityTypes) > 0 && !intersects(p.EntityTypes, it.Entities) {
		return false
	}
	if p.MinConfidence != nil && it.Confidence < *p.MinConfidence {
		return false
	}
	if p.TimeRangeDays > 0 {
		ts := it.CreatedAt
		if it.HappenedAt != nil {
			ts = *it.HappenedAt
		}
		cutoff := now.AddDate(0, 0, -p.TimeRangeDays)
		if ts.Before(cutoff) {
			return false
		}
	}
	if p.ToolSuccessOnly && it.Type == TypeTool {
		rate, ok := it.ToolSuccessRate()
		if !ok || rate < p.MinToolSuccessRate {
			return false
		}
	}
	return true
}

func containsType(types []Type, t Type) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func intersects(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

func toStringSlice(val any) ([]string, error) {
	switch v := val.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("want string element, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want string list, got %T", val)
	}
}

func toFloat(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("want number, got %T", val)
	}
}
