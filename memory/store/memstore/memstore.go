// Package memstore provides the in-memory reference implementation of the
// memory.Store contract, including the optional Linker graph surface.
//
// Each scope gets its own shard guarded by a scope-local RWMutex: writers
// within a scope are serialized (no lost reinforcement increments), readers
// run concurrently and receive deep-copied snapshots, and operations on
// different scopes never block each other.
package memstore

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/mnemo-go-sdk/memory"
)

// MemStore is an in-memory memory.Store.
type MemStore struct {
	mu     sync.RWMutex
	scopes map[string]*shard
	config *memory.Config
}

// shard holds one scope's data. Its mutex is the single-writer boundary
// for that scope.
type shard struct {
	mu         sync.RWMutex
	order      []string // insertion order of item IDs
	items      map[string]*memory.Item
	byHash     map[string]string // content hash -> item ID
	categories map[string]*memory.Category
	catByName  map[string]string          // lower(name) -> category ID
	attached   map[string]map[string]bool // item ID -> set of category IDs
	resources  map[string]*memory.Resource
	links      map[string][]memory.Edge // from item ID -> outgoing edges
}

// New creates an empty store. A nil config uses memory.DefaultConfig.
func New(config *memory.Config) *MemStore {
	if config == nil {
		config = memory.DefaultConfig
	}
	return &MemStore{
		scopes: make(map[string]*shard),
		config: config,
	}
}

func (s *MemStore) shardFor(scope string) *shard {
	s.mu.RLock()
	sh, ok := s.scopes[scope]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.scopes[scope]; ok {
		return sh
	}
	sh = &shard{
		items:      make(map[string]*memory.Item),
		byHash:     make(map[string]string),
		categories: make(map[string]*memory.Category),
		catByName:  make(map[string]string),
		attached:   make(map[string]map[string]bool),
		resources:  make(map[string]*memory.Resource),
		links:      make(map[string][]memory.Edge),
	}
	s.scopes[scope] = sh
	return sh
}

// Upsert inserts the item or reinforces the existing item with the same
// content hash in the scope.
func (s *MemStore) Upsert(ctx context.Context, scope string, it *memory.Item) (*memory.Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !it.Type.Valid() {
		return nil, false, fmt.Errorf("upsert: invalid memory type %q", it.Type)
	}

	hash := memory.ContentHashN(it.Summary, it.Type, s.config.HashLength)
	now := time.Now().UTC()

	sh := s.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existingID, ok := sh.byHash[hash]; ok {
		existing := sh.items[existingID]
		existing.ReinforcementCount++
		existing.LastReinforcedAt = &now
		if existing.Embedding == nil && it.Embedding != nil {
			existing.Embedding = append([]float32(nil), it.Embedding...)
		}
		log.Printf("[STORE] Reinforced %s (count=%d, scope=%s)", existingID, existing.ReinforcementCount, scope)
		return existing.Clone(), false, nil
	}

	stored := it.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Scope = scope
	stored.ContentHash = hash
	stored.ReinforcementCount = 1
	stored.LastReinforcedAt = &now
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	sh.items[stored.ID] = stored
	sh.byHash[hash] = stored.ID
	sh.order = append(sh.order, stored.ID)
	log.Printf("[STORE] Stored %s (type=%s, scope=%s)", stored.ID, stored.Type, scope)
	return stored.Clone(), true, nil
}

// Get retrieves an item by ID.
func (s *MemStore) Get(ctx context.Context, scope, id string) (*memory.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(scope)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	it, ok := sh.items[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return it.Clone(), nil
}

// Filter returns matching items in insertion order. Results are deep
// copies, so a concurrent writer can never expose a half-written item.
func (s *MemStore) Filter(ctx context.Context, scope string, p memory.FilterParams) ([]*memory.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	sh := s.shardFor(scope)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var out []*memory.Item
	for _, id := range sh.order {
		it := sh.items[id]
		if p.Match(it, now) {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

// AppendToolCall appends a call result to a tool item's history.
func (s *MemStore) AppendToolCall(ctx context.Context, scope, id string, tc memory.ToolCallResult) (*memory.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	if err := it.AppendToolCall(tc); err != nil {
		return nil, err
	}
	return it.Clone(), nil
}

// UpsertCategory inserts a category or returns the existing one with the
// same case-insensitive name.
func (s *MemStore) UpsertCategory(ctx context.Context, scope string, c *memory.Category) (*memory.Category, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, false, fmt.Errorf("upsert category: empty name")
	}
	nameKey := strings.ToLower(c.Name)

	sh := s.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if id, ok := sh.catByName[nameKey]; ok {
		existing := *sh.categories[id]
		return &existing, false, nil
	}

	stored := *c
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Scope = scope
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	sh.categories[stored.ID] = &stored
	sh.catByName[nameKey] = stored.ID
	cp := stored
	return &cp, true, nil
}

// Attach links an item to a category; duplicate pairs are a no-op.
func (s *MemStore) Attach(ctx context.Context, scope, itemID, categoryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.items[itemID]; !ok {
		return fmt.Errorf("attach item %s: %w", itemID, memory.ErrNotFound)
	}
	if _, ok := sh.categories[categoryID]; !ok {
		return fmt.Errorf("attach category %s: %w", categoryID, memory.ErrNotFound)
	}
	set := sh.attached[itemID]
	if set == nil {
		set = make(map[string]bool)
		sh.attached[itemID] = set
	}
	set[categoryID] = true
	return nil
}

// CategoriesFor lists the categories an item is attached to.
func (s *MemStore) CategoriesFor(ctx context.Context, scope, itemID string) ([]*memory.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(scope)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var out []*memory.Category
	for catID := range sh.attached[itemID] {
		if c, ok := sh.categories[catID]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PutResource registers an external resource.
func (s *MemStore) PutResource(ctx context.Context, scope string, r *memory.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	stored := *r
	stored.Scope = scope
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	sh.resources[stored.ID] = &stored
	return nil
}

// GetResource retrieves a resource by ID.
func (s *MemStore) GetResource(ctx context.Context, scope, id string) (*memory.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(scope)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	r, ok := sh.resources[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// AddLink records a typed edge between two items.
func (s *MemStore) AddLink(ctx context.Context, scope, fromID, toID, relation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !memory.ValidRelation(relation) {
		return fmt.Errorf("add link: invalid relation %q", relation)
	}
	sh := s.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.items[fromID]; !ok {
		return fmt.Errorf("link from %s: %w", fromID, memory.ErrNotFound)
	}
	if _, ok := sh.items[toID]; !ok {
		return fmt.Errorf("link to %s: %w", toID, memory.ErrNotFound)
	}
	for _, e := range sh.links[fromID] {
		if e.EntityID == toID && e.Relation == relation {
			return nil
		}
	}
	sh.links[fromID] = append(sh.links[fromID], memory.Edge{Relation: relation, EntityID: toID})
	return nil
}

// Neighbors returns the outgoing edges of an item. The hop argument is
// unused here; the in-memory graph does not prune by distance.
func (s *MemStore) Neighbors(ctx context.Context, scope, id string, hop int) ([]memory.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(scope)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return append([]memory.Edge(nil), sh.links[id]...), nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
