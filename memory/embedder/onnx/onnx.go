//go:build onnx

// Package onnx provides a local embedder running a sentence-transformer
// model (e.g. all-MiniLM-L6-v2) through ONNX Runtime. Tokenization is
// injected so the adapter stays model-agnostic.
//
// The package is behind the "onnx" build tag because it needs the ONNX
// Runtime shared library installed on the host.
package onnx

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Tokenizer converts text to model token IDs, including any special
// tokens ([CLS]/[SEP] for BERT-family models).
type Tokenizer interface {
	Tokenize(text string) []int64
}

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the .onnx model file.
	ModelPath string
	// LibraryPath is the path to libonnxruntime.so.
	LibraryPath string
	// Tokenizer produces the model's input IDs.
	Tokenizer Tokenizer
	// Dimensions is the output vector size. Default 384.
	Dimensions int
	// MaxSequenceLength bounds the input. Default 128.
	MaxSequenceLength int
}

// Embedder runs a local ONNX sentence-transformer.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxSeqLen  int

	// ONNX sessions are not documented as goroutine-safe; serialize runs.
	mu sync.Mutex
}

// New initializes the runtime and loads the model.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx embedder: ModelPath is required")
	}
	if cfg.Tokenizer == nil {
		return nil, fmt.Errorf("onnx embedder: Tokenizer is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequenceLength == 0 {
		cfg.MaxSequenceLength = 128
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Embedder{
		session:    session,
		tokenizer:  cfg.Tokenizer,
		dimensions: cfg.Dimensions,
		maxSeqLen:  cfg.MaxSequenceLength,
	}, nil
}

// Embed tokenizes the text, runs the model, mean-pools the attended
// hidden states, and L2-normalizes the result.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := e.tokenizer.Tokenize(text)
	if len(tokens) > e.maxSeqLen {
		tokens = tokens[:e.maxSeqLen]
	}

	inputIDs := make([]int64, e.maxSeqLen)
	attentionMask := make([]int64, e.maxSeqLen)
	tokenTypeIDs := make([]int64, e.maxSeqLen)
	for i, tok := range tokens {
		inputIDs[i] = tok
		attentionMask[i] = 1
	}

	shape := ort.NewShape(1, int64(e.maxSeqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typesTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typesTensor.Destroy()

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsTensor, maskTensor, typesTensor}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx inference: unexpected output type %T", outputs[0])
	}
	return e.pool(hidden, attentionMask)
}

// pool mean-pools [1, seq, hidden] over attended positions, or passes a
// pre-pooled [1, hidden] output through, then normalizes.
func (e *Embedder) pool(hidden *ort.Tensor[float32], attentionMask []int64) ([]float32, error) {
	data := hidden.GetData()
	shape := hidden.GetShape()

	vec := make([]float32, e.dimensions)
	switch len(shape) {
	case 2:
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("onnx output: got %d values, want %d", len(data), e.dimensions)
		}
		copy(vec, data[:e.dimensions])
	case 3:
		seqLen, hiddenSize := int(shape[1]), int(shape[2])
		if hiddenSize != e.dimensions {
			return nil, fmt.Errorf("onnx output: hidden size %d, want %d", hiddenSize, e.dimensions)
		}
		if seqLen > len(attentionMask) {
			seqLen = len(attentionMask)
		}
		attended := 0
		for i := 0; i < seqLen; i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			for j := 0; j < hiddenSize; j++ {
				vec[j] += data[i*hiddenSize+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("onnx output: no attended tokens")
		}
		for j := range vec {
			vec[j] /= float32(attended)
		}
	default:
		return nil, fmt.Errorf("onnx output: unexpected shape %v", shape)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
