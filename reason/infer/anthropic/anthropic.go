// Package anthropic adapts the Anthropic Messages API as a reasoning
// inferencer. Prompts go out as a single user message; the response's
// text blocks are concatenated and returned verbatim for the engine's
// JSON parser.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = anthropic.ModelClaudeSonnet4_20250514

// DefaultMaxTokens bounds the response size. Inference output is a
// compact JSON document, so this is generous.
const DefaultMaxTokens = 4096

// Config configures the inferencer.
type Config struct {
	Model     anthropic.Model
	MaxTokens int64
	// System is an optional system prompt prepended to every call.
	System string
}

// Inferencer calls the Anthropic Messages API.
type Inferencer struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
}

// New wraps an Anthropic client. The client carries its own API key and
// retry configuration.
func New(client *anthropic.Client, cfg Config) *Inferencer {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Inferencer{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		system:    cfg.System,
	}
}

// Infer sends the prompt and returns the concatenated text blocks of
// the response.
func (i *Inferencer) Infer(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     i.model,
		MaxTokens: i.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if i.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: i.system}}
	}

	resp, err := i.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("anthropic messages: response contained no text blocks")
	}
	return text, nil
}
