// Package rank implements the scoring and top-k retrieval primitives:
// cosine similarity and salience-aware ranking.
//
// Salience blends three signals: semantic similarity to the query,
// repetition frequency (logarithmic in reinforcement count), and recency
// (exponential half-life decay since last reinforcement). A memory that
// has never been reinforced has ln(0+1) = 0 reinforcement factor and so
// zero salience regardless of similarity. That is a documented property of
// the formula, not a bug: callers must reinforce a memory at least once
// before it can rank in salience mode.
//
// Every function in this package is pure, deterministic, and free of
// shared state, so calls are safe from any number of goroutines.
package rank

import (
	"math"
	"sort"
	"time"
)

// epsilon guards the cosine denominator against zero vectors.
const epsilon = 1e-9

// Doc is one corpus entry for ranking. Vector may be nil for items not yet
// embedded; such entries are skipped, never scored as zero.
type Doc struct {
	ID               string
	Vector           []float32
	Reinforcement    int
	LastReinforcedAt *time.Time
}

// Scored pairs a document ID with its ranking score.
type Scored struct {
	ID    string
	Score float64
}

// Cosine returns dot(a,b) / (|a||b| + epsilon). The result is symmetric
// and approximately within [-1,1]. Zero-length or mismatched-length
// vectors yield a stable 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + epsilon)
}

// RecencyFactor computes the exponential half-life decay for a memory last
// reinforced at last, evaluated at now: exactly 0.5 when the elapsed days
// equal decayDays. A nil last yields the neutral constant 0.5.
func RecencyFactor(last *time.Time, now time.Time, decayDays float64) float64 {
	if last == nil {
		return 0.5
	}
	days := now.Sub(*last).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-math.Ln2 * days / decayDays)
}

// Salience is similarity x ln(reinforcement+1) x recency decay, evaluated
// at now. The result is unclamped and negative when similarity is negative.
func Salience(similarity float64, reinforcement int, last *time.Time, now time.Time, decayDays float64) float64 {
	reinforcementFactor := math.Log(float64(reinforcement) + 1)
	return similarity * reinforcementFactor * RecencyFactor(last, now, decayDays)
}

// TopKCosine ranks docs against query by cosine similarity and returns the
// top k, sorted non-increasing. Entries with nil vectors are skipped. Ties
// preserve corpus order (stable sort, no secondary key), so output is
// deterministic for a given input order. k <= 0 is treated as an empty
// request and returns nil; this clamping choice is deliberate and tested.
func TopKCosine(query []float32, docs []Doc, k int) []Scored {
	return topK(docs, k, func(d Doc) float64 {
		return Cosine(query, d.Vector)
	})
}

// TopKSalience ranks docs against query by salience, evaluated at now with
// the given half-life. Skip, ordering, and k semantics match TopKCosine.
func TopKSalience(query []float32, docs []Doc, k int, now time.Time, decayDays float64) []Scored {
	return topK(docs, k, func(d Doc) float64 {
		return Salience(Cosine(query, d.Vector), d.Reinforcement, d.LastReinforcedAt, now, decayDays)
	})
}

func topK(docs []Doc, k int, score func(Doc) float64) []Scored {
	if k <= 0 {
		return nil
	}
	scored := make([]Scored, 0, len(docs))
	for _, d := range docs {
		if len(d.Vector) == 0 {
			continue
		}
		scored = append(scored, Scored{ID: d.ID, Score: score(d)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
