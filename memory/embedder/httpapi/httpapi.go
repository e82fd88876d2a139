// Package httpapi provides an Embedder backed by an HTTP embedding
// service speaking the Ollama-style JSON protocol:
//
//	POST {base}/api/embeddings {"model": "...", "prompt": "..."}
//	=> {"embedding": [ ... ]}
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures the HTTP embedder.
type Config struct {
	// BaseURL of the service, e.g. "http://localhost:11434".
	BaseURL string
	// Model name the service should embed with.
	Model string
	// Dimensions the model produces.
	Dimensions int
	// Timeout per request. Defaults to 30s.
	Timeout time.Duration
}

// Embedder calls a remote embedding service.
type Embedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// New creates an HTTP embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("httpapi embedder: BaseURL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("httpapi embedder: Model is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Embedder{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		dims:    cfg.Dimensions,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Embed posts the text to the service and returns the vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed request: status %d: %s", resp.StatusCode, snippet)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embed response: empty embedding")
	}
	if e.dims > 0 && len(out.Embedding) != e.dims {
		return nil, fmt.Errorf("embed response: got %d dimensions, want %d", len(out.Embedding), e.dims)
	}
	return out.Embedding, nil
}

// Dimensions returns the configured embedding size.
func (e *Embedder) Dimensions() int {
	return e.dims
}
