package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when an item, category, or resource
// does not exist in the requested scope.
var ErrNotFound = errors.New("memory: not found")

// Store is the persistence contract for memory items and their satellite
// entities. Implementations: memstore (in-memory reference), sqlite.
//
// Concurrency contract: mutating operations are serialized per scope
// (single writer at a time for a logical scope key), so reinforcement
// increments never race. Readers may run concurrently with each other and
// always observe consistent snapshots, never half-written items.
type Store interface {
	// Upsert inserts the item or, when an item with the same content hash
	// already exists in the scope, reinforces it instead. Returns the
	// stored item and whether it was newly inserted.
	Upsert(ctx context.Context, scope string, it *Item) (*Item, bool, error)

	// Get retrieves an item by ID.
	Get(ctx context.Context, scope, id string) (*Item, error)

	// Filter returns items passing every applied filter, in insertion
	// order. Unknown filter keys are rejected by ParseFilterParams before
	// a FilterParams ever reaches the store.
	Filter(ctx context.Context, scope string, p FilterParams) ([]*Item, error)

	// AppendToolCall appends a call result to a tool item's history.
	AppendToolCall(ctx context.Context, scope, id string, tc ToolCallResult) (*Item, error)

	// UpsertCategory inserts a category or returns the existing one with
	// the same case-insensitive name in the scope.
	UpsertCategory(ctx context.Context, scope string, c *Category) (*Category, bool, error)

	// Attach links an item to a category. Duplicate pairs are a no-op.
	Attach(ctx context.Context, scope, itemID, categoryID string) error

	// CategoriesFor lists the categories an item is attached to.
	CategoriesFor(ctx context.Context, scope, itemID string) ([]*Category, error)

	// PutResource registers an external resource.
	PutResource(ctx context.Context, scope string, r *Resource) error

	// GetResource retrieves a resource by ID.
	GetResource(ctx context.Context, scope, id string) (*Resource, error)

	// Close releases backend resources.
	Close() error
}

// Linker is the optional graph surface a store may expose. Stores that
// implement it can back the reasoning engine's traversal step directly.
type Linker interface {
	// AddLink records a typed edge between two items in the scope.
	AddLink(ctx context.Context, scope, fromID, toID, relation string) error

	// Neighbors returns the outgoing edges of an item. hop is the
	// traversal depth the caller is at, for implementations that prune
	// by distance.
	Neighbors(ctx context.Context, scope, id string, hop int) ([]Edge, error)
}

// Embedder converts text to fixed-dimension vectors. The dimension is
// deterministic per deployment.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// IndexHit is one result from a vector index search.
type IndexHit struct {
	ID         string
	Similarity float64
}

// Index is an approximate vector search surface used to pre-select
// candidates before exact scoring. Implementation: index/chromem.
type Index interface {
	Add(ctx context.Context, scope, id string, embedding []float32) error
	Search(ctx context.Context, scope string, embedding []float32, k int) ([]IndexHit, error)
}
