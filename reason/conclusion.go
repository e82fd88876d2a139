package reason

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InferenceType classifies how a conclusion was derived.
type InferenceType string

const (
	InferenceDeduction     InferenceType = "deduction"
	InferenceInduction     InferenceType = "induction"
	InferenceSummarization InferenceType = "summarization"
	InferenceAnalogy       InferenceType = "analogy"
	InferenceAggregation   InferenceType = "aggregation"
)

// Valid reports whether t is a known inference type.
func (t InferenceType) Valid() bool {
	switch t {
	case InferenceDeduction, InferenceInduction, InferenceSummarization,
		InferenceAnalogy, InferenceAggregation:
		return true
	}
	return false
}

// Conclusion is one derived statement with its provenance.
type Conclusion struct {
	Content         string        `json:"content"`
	InferenceType   InferenceType `json:"inference_type"`
	Confidence      float64       `json:"confidence"`
	Reasoning       string        `json:"reasoning,omitempty"`
	SourceMemoryIDs []string      `json:"source_memory_ids,omitempty"`

	// Issues holds annotations from the consistency check. The check may
	// downgrade Confidence and append here; it never removes a conclusion.
	Issues []string `json:"issues,omitempty"`
}

// inferenceResult is the structured payload the inference capability must
// return, as JSON.
type inferenceResult struct {
	Conclusions          []Conclusion `json:"conclusions"`
	Answer               string       `json:"answer"`
	InsufficientEvidence bool         `json:"insufficient_evidence"`
	MissingInformation   []string     `json:"missing_information"`
}

// verifyResult is the consistency check's structured payload.
type verifyResult struct {
	Valid      bool     `json:"valid"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

// parseInferenceResult decodes the model's output, tolerating markdown
// code fences and prose around the JSON object.
func parseInferenceResult(raw string) (*inferenceResult, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var res inferenceResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("decode inference result: %w", err)
	}
	for i := range res.Conclusions {
		c := &res.Conclusions[i]
		if !c.InferenceType.Valid() {
			c.InferenceType = InferenceDeduction
		}
		c.Confidence = clamp01(c.Confidence)
	}
	return &res, nil
}

func parseVerifyResult(raw string) (*verifyResult, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var res verifyResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("decode verify result: %w", err)
	}
	res.Confidence = clamp01(res.Confidence)
	return &res, nil
}

// extractJSON returns the outermost {...} object in raw.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in inference output: %.120q", raw)
	}
	return raw[start : end+1], nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
