package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || req.Prompt != "hello" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e, err := New(Config{BaseURL: srv.URL, Model: "test-model", Dimensions: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vec = %v", vec)
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := New(Config{BaseURL: srv.URL, Model: "m", Dimensions: 3})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("server error should surface")
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1, 2}})
	}))
	defer srv.Close()

	e, _ := New(Config{BaseURL: srv.URL, Model: "m", Dimensions: 3})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("dimension mismatch should be rejected")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Model: "m"}); err == nil {
		t.Error("missing BaseURL should be rejected")
	}
	if _, err := New(Config{BaseURL: "http://x"}); err == nil {
		t.Error("missing Model should be rejected")
	}
}
