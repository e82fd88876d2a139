package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/strandlabs/mnemo-go-sdk/memory"
)

func TestUpsertDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	first, wasNew, err := s.Upsert(ctx, "u1", &memory.Item{
		Type:    memory.TypeProfile,
		Summary: "Jack lives in London",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !wasNew {
		t.Fatal("first upsert should insert")
	}
	if first.ReinforcementCount != 1 {
		t.Errorf("ReinforcementCount = %d, want 1", first.ReinforcementCount)
	}

	// Different casing and whitespace normalize to the same hash.
	second, wasNew, err := s.Upsert(ctx, "u1", &memory.Item{
		Type:    memory.TypeProfile,
		Summary: "jack  LIVES  in london",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if wasNew {
		t.Error("duplicate summary should reinforce, not insert")
	}
	if second.ID != first.ID {
		t.Errorf("reinforced item ID = %s, want %s", second.ID, first.ID)
	}
	if second.ReinforcementCount != 2 {
		t.Errorf("ReinforcementCount = %d, want 2", second.ReinforcementCount)
	}
	if second.LastReinforcedAt == nil {
		t.Error("LastReinforcedAt should be set on reinforcement")
	}

	// Same summary, different type: a distinct item.
	_, wasNew, err = s.Upsert(ctx, "u1", &memory.Item{
		Type:    memory.TypeKnowledge,
		Summary: "Jack lives in London",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !wasNew {
		t.Error("same summary with a different type should insert")
	}
}

func TestUpsertScopeIsolation(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	_, wasNew, _ := s.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeProfile, Summary: "likes coffee"})
	if !wasNew {
		t.Fatal("first insert in u1")
	}
	_, wasNew, _ = s.Upsert(ctx, "u2", &memory.Item{Type: memory.TypeProfile, Summary: "likes coffee"})
	if !wasNew {
		t.Error("same content in another scope must not deduplicate across scopes")
	}
}

func TestUpsertInvalidType(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if _, _, err := s.Upsert(ctx, "u1", &memory.Item{Type: "spell", Summary: "x"}); err == nil {
		t.Error("invalid memory type should be rejected")
	}
}

func TestFilterConjunctive(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	old := time.Now().UTC().AddDate(0, 0, -90)
	items := []*memory.Item{
		{Type: memory.TypeProfile, Summary: "likes tea", Confidence: 0.9, Entities: []string{"person"}},
		{Type: memory.TypeEvent, Summary: "met alice", Confidence: 0.8, HappenedAt: &old},
		{Type: memory.TypeEvent, Summary: "met bob", Confidence: 0.4},
	}
	for _, it := range items {
		if _, _, err := s.Upsert(ctx, "u1", it); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	minConf := 0.5
	got, err := s.Filter(ctx, "u1", memory.FilterParams{
		MemoryTypes:   []memory.Type{memory.TypeEvent},
		MinConfidence: &minConf,
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "met alice" {
		t.Errorf("filter returned %d items, want just 'met alice'", len(got))
	}

	// Time range excludes the 90-day-old event via HappenedAt.
	got, err = s.Filter(ctx, "u1", memory.FilterParams{
		MemoryTypes:   []memory.Type{memory.TypeEvent},
		TimeRangeDays: 30,
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "met bob" {
		t.Errorf("time filter: got %d items", len(got))
	}

	// Empty params match everything, in insertion order.
	got, _ = s.Filter(ctx, "u1", memory.FilterParams{})
	if len(got) != 3 || got[0].Summary != "likes tea" {
		t.Errorf("empty filter: got %d items, first %q", len(got), got[0].Summary)
	}
}

func TestFilterToolSuccess(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	flaky, _, _ := s.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeTool, Summary: "flaky api"})
	solid, _, _ := s.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeTool, Summary: "solid api"})
	s.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeProfile, Summary: "likes tea"})

	for i := 0; i < 4; i++ {
		s.AppendToolCall(ctx, "u1", flaky.ID, memory.ToolCallResult{Tool: "flaky", Success: i == 0, TokenCost: memory.TokenCostUnknown})
		s.AppendToolCall(ctx, "u1", solid.ID, memory.ToolCallResult{Tool: "solid", Success: true, TokenCost: memory.TokenCostUnknown})
	}

	got, err := s.Filter(ctx, "u1", memory.FilterParams{
		ToolSuccessOnly:    true,
		MinToolSuccessRate: 0.8,
	})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	// Non-tool item passes untouched; flaky tool is excluded.
	if len(got) != 2 {
		t.Fatalf("got %d items, want 2", len(got))
	}
	for _, it := range got {
		if it.ID == flaky.ID {
			t.Error("flaky tool should be excluded by success-rate filter")
		}
	}
}

func TestConcurrentReinforcement(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeProfile, Summary: "concurrent fact"})
		}()
	}
	wg.Wait()

	got, _ := s.Filter(ctx, "u1", memory.FilterParams{})
	if len(got) != 1 {
		t.Fatalf("got %d items, want 1", len(got))
	}
	if got[0].ReinforcementCount != writers {
		t.Errorf("ReinforcementCount = %d, want %d (lost update)", got[0].ReinforcementCount, writers)
	}
}

func TestCategoriesUniquePerScope(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	c1, wasNew, err := s.UpsertCategory(ctx, "u1", &memory.Category{Name: "Work"})
	if err != nil || !wasNew {
		t.Fatalf("first category: new=%v err=%v", wasNew, err)
	}
	c2, wasNew, err := s.UpsertCategory(ctx, "u1", &memory.Category{Name: "work"})
	if err != nil {
		t.Fatalf("second category: %v", err)
	}
	if wasNew || c2.ID != c1.ID {
		t.Error("category names must be unique per scope, case-insensitive")
	}

	it, _, _ := s.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeEvent, Summary: "standup at 10"})
	if err := s.Attach(ctx, "u1", it.ID, c1.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}
	// Duplicate pair is a no-op.
	if err := s.Attach(ctx, "u1", it.ID, c1.ID); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	cats, err := s.CategoriesFor(ctx, "u1", it.ID)
	if err != nil {
		t.Fatalf("categories for: %v", err)
	}
	if len(cats) != 1 || cats[0].Name != "Work" {
		t.Errorf("CategoriesFor = %v", cats)
	}
}

func TestLinksAndNeighbors(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	a, _, _ := s.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeKnowledge, Summary: "go is compiled"})
	b, _, _ := s.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeKnowledge, Summary: "compiled languages are fast"})

	if err := s.AddLink(ctx, "u1", a.ID, b.ID, memory.RelRelatesTo); err != nil {
		t.Fatalf("add link: %v", err)
	}
	if err := s.AddLink(ctx, "u1", a.ID, b.ID, "sibling_of"); err == nil {
		t.Error("invalid relation should be rejected")
	}

	edges, err := s.Neighbors(ctx, "u1", a.ID, 1)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(edges) != 1 || edges[0].EntityID != b.ID || edges[0].Relation != memory.RelRelatesTo {
		t.Errorf("Neighbors = %v", edges)
	}
}

func TestGetAndResources(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	if _, err := s.Get(ctx, "u1", "nope"); err != memory.ErrNotFound {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	r := &memory.Resource{URL: "https://example.com/doc.pdf", Modality: "document"}
	if err := s.PutResource(ctx, "u1", r); err != nil {
		t.Fatalf("put resource: %v", err)
	}
	got, err := s.GetResource(ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if got.URL != r.URL {
		t.Errorf("resource URL = %q", got.URL)
	}
}
