// Package chromem adapts chromem-go, a pure Go embedded vector
// database, as a similarity index for memory items. The index stores
// only IDs and embeddings; the authoritative item data lives in the
// backing store.
package chromem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/strandlabs/mnemo-go-sdk/memory"
)

// Index maintains one chromem collection per scope.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

var _ memory.Index = (*Index)(nil)

// New creates an empty in-memory index.
func New() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

func (x *Index) collectionFor(scope string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, exists := x.collections[scope]
	x.mu.RUnlock()
	if exists {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := x.collections[scope]; exists {
		return col, nil
	}

	name := fmt.Sprintf("scope_%s", scope)
	if scope == "" {
		name = "global"
	}
	col, err := x.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[scope] = col
	return col, nil
}

// Add indexes an embedding under the given scope and item ID.
// Re-adding an ID replaces its embedding.
func (x *Index) Add(ctx context.Context, scope, id string, embedding []float32) error {
	if id == "" {
		return fmt.Errorf("index add: empty id")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("index add: empty embedding")
	}
	col, err := x.collectionFor(scope)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: embedding,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search returns up to limit item IDs ordered by cosine similarity.
// An empty or missing collection yields no hits rather than an error.
func (x *Index) Search(ctx context.Context, scope string, embedding []float32, limit int) ([]memory.IndexHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	col, err := x.collectionFor(scope)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size. Retry with
	// smaller limits until the query fits.
	var results []chromem.Result
	for n := limit; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, embedding, n, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if n == 1 {
				log.Printf("[INDEX] collection for scope=%s is empty", scope)
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]memory.IndexHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, memory.IndexHit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "nResults must be") || strings.Contains(s, "number of documents")
}
