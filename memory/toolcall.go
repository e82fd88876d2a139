package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// TokenCostUnknown marks a tool call whose token cost was not reported.
// Calls carrying it are excluded from AvgTokenCost.
const TokenCostUnknown = -1

// ToolCallResult records one invocation of an external tool. A result is
// immutable once its Hash is set.
type ToolCallResult struct {
	Tool    string         `json:"tool"`
	Input   map[string]any `json:"input,omitempty"`
	Output  string         `json:"output"`
	Success bool           `json:"success"`

	// TimeCost is wall-clock duration in seconds.
	TimeCost float64 `json:"time_cost"`
	// TokenCost is the LLM token spend, or TokenCostUnknown.
	TokenCost int `json:"token_cost"`
	// Score is a quality score in [0,1].
	Score float64 `json:"score"`

	Hash     string    `json:"hash,omitempty"`
	CalledAt time.Time `json:"called_at"`
}

// ComputeHash derives the dedup hash from the tool name, the sorted-key
// serialization of the input, and the output. encoding/json marshals map
// keys in sorted order, which gives the canonical form directly.
func (tc ToolCallResult) ComputeHash() string {
	in, err := json.Marshal(tc.Input)
	if err != nil {
		in = []byte(fmt.Sprintf("%v", tc.Input))
	}
	return truncatedSHA256(tc.Tool + "|" + string(in) + "|" + tc.Output)
}

// ToolStats summarizes recent tool behavior for one tool item.
type ToolStats struct {
	TotalCalls          int     `json:"total_calls"`
	RecentCallsAnalyzed int     `json:"recent_calls_analyzed"`
	AvgTimeCost         float64 `json:"avg_time_cost"`
	SuccessRate         float64 `json:"success_rate"`
	AvgScore            float64 `json:"avg_score"`
	AvgTokenCost        float64 `json:"avg_token_cost"`
}

// ToolStatistics computes stats over the last recentN entries of the item's
// call history. The window is deliberate: tool reliability drifts over
// time, so recent behavior matters more than the historical average.
// An empty history yields the zero ToolStats, not an error.
func ToolStatistics(it *Item, recentN int) ToolStats {
	st := ToolStats{TotalCalls: len(it.ToolCalls)}
	if len(it.ToolCalls) == 0 || recentN <= 0 {
		return st
	}

	calls := it.ToolCalls
	if len(calls) > recentN {
		calls = calls[len(calls)-recentN:]
	}
	st.RecentCallsAnalyzed = len(calls)

	var timeSum, scoreSum float64
	var tokenSum, tokenKnown, okCount int
	for _, tc := range calls {
		timeSum += tc.TimeCost
		scoreSum += tc.Score
		if tc.Success {
			okCount++
		}
		if tc.TokenCost != TokenCostUnknown {
			tokenSum += tc.TokenCost
			tokenKnown++
		}
	}

	n := float64(len(calls))
	st.AvgTimeCost = timeSum / n
	st.AvgScore = scoreSum / n
	st.SuccessRate = float64(okCount) / n
	if tokenKnown > 0 {
		st.AvgTokenCost = float64(tokenSum) / float64(tokenKnown)
	}
	return st
}
