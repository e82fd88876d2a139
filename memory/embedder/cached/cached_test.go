package cached

import (
	"context"
	"testing"

	"github.com/strandlabs/mnemo-go-sdk/memory/embedder/mock"
)

// countingEmbedder tracks how many times the inner embedder is hit.
type countingEmbedder struct {
	inner *mock.Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestCachedEmbedderHits(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{inner: mock.New()}
	e, err := New(inner, 128)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer e.Close()

	first, err := e.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	e.Wait() // ristretto admits asynchronously

	second, err := e.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1 (second call served from cache)", inner.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cached vector differs from original")
		}
	}

	if _, err := e.Embed(ctx, "different text"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2 after a distinct text", inner.calls)
	}
}

func TestCachedEmbedderDimensions(t *testing.T) {
	e, err := New(mock.NewWithDimensions(64), 16)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer e.Close()
	if e.Dimensions() != 64 {
		t.Errorf("Dimensions = %d, want 64", e.Dimensions())
	}
}
