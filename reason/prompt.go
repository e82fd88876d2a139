package reason

import (
	"fmt"
	"strings"

	"github.com/strandlabs/mnemo-go-sdk/memory"
	"github.com/strandlabs/mnemo-go-sdk/rank"
)

// buildInferencePrompt assembles the evidence block and the JSON schema
// instructions for the inference capability.
func buildInferencePrompt(q *Query, ranked []rank.Scored, byID map[string]*memory.Item, stats map[string]memory.ToolStats) string {
	var b strings.Builder

	b.WriteString("You are a reasoning engine over an agent's memory.\n")
	b.WriteString("Derive conclusions strictly from the evidence below.\n\n")
	fmt.Fprintf(&b, "GOAL: %s\n\n", q.Goal)

	b.WriteString("MEMORIES (ranked by relevance):\n")
	for i, sc := range ranked {
		it := byID[sc.ID]
		if it == nil {
			continue
		}
		fmt.Fprintf(&b, "%d. [id=%s type=%s score=%.3f] %s\n", i+1, it.ID, it.Type, sc.Score, it.Summary)
		if st, ok := stats[it.ID]; ok {
			fmt.Fprintf(&b, "   tool stats: success_rate=%.2f avg_time=%.2fs avg_score=%.2f (last %d of %d calls)\n",
				st.SuccessRate, st.AvgTimeCost, st.AvgScore, st.RecentCallsAnalyzed, st.TotalCalls)
		}
	}

	b.WriteString(`
Respond with a single JSON object, no surrounding prose:
{
  "conclusions": [
    {
      "content": "the derived statement",
      "inference_type": "deduction|induction|summarization|analogy|aggregation",
      "confidence": 0.0,
      "reasoning": "why the evidence supports this",
      "source_memory_ids": ["id", "..."]
    }
  ],
  "answer": "direct answer to the goal, or empty if not answerable",
  "insufficient_evidence": false,
  "missing_information": ["what else would be needed"]
}
`)
	return b.String()
}

// buildVerifyPrompt asks the capability to independently re-evaluate one
// conclusion against the same evidence.
func buildVerifyPrompt(c Conclusion, byID map[string]*memory.Item) string {
	var b strings.Builder

	b.WriteString("Re-evaluate whether this conclusion is consistent with the evidence.\n\n")
	fmt.Fprintf(&b, "CONCLUSION: %s\n", c.Content)
	fmt.Fprintf(&b, "CLAIMED CONFIDENCE: %.2f\n\nEVIDENCE:\n", c.Confidence)
	for _, id := range c.SourceMemoryIDs {
		if it := byID[id]; it != nil {
			fmt.Fprintf(&b, "- [%s] %s\n", it.ID, it.Summary)
		}
	}

	b.WriteString(`
Respond with a single JSON object, no surrounding prose:
{"valid": true, "confidence": 0.0, "issues": ["any inconsistency found"]}
`)
	return b.String()
}

// graphContext renders traversal additions for the trace payload.
func graphContext(added []memory.Edge) []string {
	out := make([]string, 0, len(added))
	for _, e := range added {
		out = append(out, e.Relation+" -> "+e.EntityID)
	}
	return out
}
