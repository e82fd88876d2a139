// Package reason implements the reasoning state machine: a structured
// query is answered by retrieving and filtering memories, traversing graph
// relationships, ranking candidates by cosine or salience, delegating to an
// external inference capability, optionally re-checking each conclusion,
// and writing accepted conclusions back as derived knowledge memories.
//
// Every execution produces exactly one Trace recording each step in order.
// External capability failures are recorded as failed steps and terminate
// the execution gracefully with a nil final answer; the partial trace is
// always returned to the caller, never discarded.
package reason

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/strandlabs/mnemo-go-sdk/memory"
	"github.com/strandlabs/mnemo-go-sdk/rank"
)

// Inferencer is the external LLM inference capability. Implementations
// must return content parseable as the JSON conclusion schema (see
// buildInferencePrompt). Adapter: infer/anthropic.
type Inferencer interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// Graph is the external knowledge-graph traversal capability. Stores that
// implement memory.Linker satisfy it directly.
type Graph interface {
	Neighbors(ctx context.Context, scope, entityID string, hop int) ([]memory.Edge, error)
}

// Config holds engine tuning. Construct once, treat as immutable.
type Config struct {
	// StepTimeout bounds each external capability call. A timed-out step
	// is recorded as failed rather than hanging the execution. Zero
	// disables the per-step bound (the caller's ctx still applies).
	StepTimeout time.Duration

	// RecencyDecayDays is the salience half-life used during scoring.
	RecencyDecayDays float64

	// MinAcceptConfidence is the floor a conclusion must meet before
	// write-back persists it as a derived memory.
	MinAcceptConfidence float64

	// VerifyConclusions enables the consistency-check step.
	VerifyConclusions bool

	// IndexThreshold is the candidate count above which the engine uses
	// the vector index (when configured) to pre-select candidates before
	// exact scoring.
	IndexThreshold int

	// ToolStatsWindow is how many trailing calls tool statistics cover.
	ToolStatsWindow int
}

// DefaultConfig returns the engine defaults.
var DefaultConfig = &Config{
	StepTimeout:         30 * time.Second,
	RecencyDecayDays:    30.0,
	MinAcceptConfidence: 0.6,
	VerifyConclusions:   false,
	IndexThreshold:      256,
	ToolStatsWindow:     20,
}

// Engine orchestrates reasoning executions. It holds no per-execution
// state, so concurrent Run calls over different scopes never block each
// other.
type Engine struct {
	store      memory.Store
	embedder   memory.Embedder
	inferencer Inferencer
	graph      Graph
	index      memory.Index
	config     *Config
}

// Option configures the engine.
type Option func(*Engine)

// WithGraph sets the knowledge-graph traversal capability.
func WithGraph(g Graph) Option {
	return func(e *Engine) { e.graph = g }
}

// WithIndex sets a vector index for candidate pre-selection.
func WithIndex(ix memory.Index) Option {
	return func(e *Engine) { e.index = ix }
}

// NewEngine creates an engine. A nil config uses DefaultConfig. When the
// store implements memory.Linker and no explicit graph is configured, the
// store backs traversal itself.
func NewEngine(store memory.Store, embedder memory.Embedder, inferencer Inferencer, config *Config, opts ...Option) *Engine {
	if config == nil {
		config = DefaultConfig
	}
	e := &Engine{
		store:      store,
		embedder:   embedder,
		inferencer: inferencer,
		config:     config,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.graph == nil {
		if g, ok := store.(Graph); ok {
			e.graph = g
		}
	}
	return e
}

// Run executes the reasoning state machine for q. The returned error is
// non-nil only for an invalid query; capability failures are reported
// through the trace (failed step, nil FinalAnswer) so the step history
// survives for debugging. Cancelling ctx propagates to the in-flight
// capability call and fails the current step.
func (e *Engine) Run(ctx context.Context, q *Query) (*Trace, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	trace := newTrace(q)
	log.Printf("[REASON] %s: start (scope=%s, depth=%d, max=%d)", trace.ID, q.Scope, q.Depth, q.MaxResults)

	// retrieve
	fp := q.Constraints.filterParams()
	items, err := e.retrieve(ctx, q.Scope, fp)
	if err != nil {
		return e.abort(trace, StepRetrieve, q.Constraints, err), nil
	}
	toolStats := make(map[string]memory.ToolStats)
	if q.IncludeToolStats {
		for _, it := range items {
			if it.Type == memory.TypeTool {
				toolStats[it.ID] = memory.ToolStatistics(it, e.config.ToolStatsWindow)
			}
		}
	}
	trace.addStep(StepRetrieve, q.Constraints, map[string]any{"retrieved": len(items)}, 1.0)

	candidates := items
	byID := make(map[string]*memory.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	// traverse
	if e.graph != nil && len(items) > 0 {
		added, err := e.traverse(ctx, q, byID, &candidates)
		if err != nil {
			return e.abort(trace, StepTraverse, map[string]any{"depth": q.Depth}, err), nil
		}
		trace.addStep(StepTraverse,
			map[string]any{"depth": q.Depth},
			map[string]any{"added": len(added), "edges": graphContext(added)}, 1.0)
	}
	trace.TotalMemoriesConsidered = len(candidates)

	// filter + score
	goalVec, err := e.embedGoal(ctx, q.Goal)
	if err != nil {
		return e.abort(trace, StepScore, q.Goal, err), nil
	}
	candidates = e.preselect(ctx, trace, q, goalVec, candidates, byID)
	ranked, mode := e.score(q, goalVec, candidates)
	trace.addStep(StepScore,
		map[string]any{"mode": mode, "k": q.MaxResults},
		ranked, 1.0)

	// infer
	prompt := buildInferencePrompt(q, ranked, byID, toolStats)
	raw, err := e.infer(ctx, prompt)
	if err != nil {
		return e.abort(trace, StepInfer, map[string]any{"memories": len(ranked)}, err), nil
	}
	res, err := parseInferenceResult(raw)
	if err != nil {
		return e.abort(trace, StepInfer, map[string]any{"memories": len(ranked)}, err), nil
	}
	trace.addStep(StepInfer, map[string]any{"memories": len(ranked)}, res, avgConfidence(res.Conclusions))
	trace.Conclusions = res.Conclusions
	trace.InsufficientEvidence = res.InsufficientEvidence
	trace.MissingInformation = res.MissingInformation

	// verify (optional): annotates and downgrades, never discards
	if e.config.VerifyConclusions && len(trace.Conclusions) > 0 {
		if err := e.verify(ctx, trace, byID); err != nil {
			return e.abort(trace, StepVerify, len(trace.Conclusions), err), nil
		}
	}

	// write
	if q.WriteDerived {
		created, err := e.writeDerived(ctx, q, trace.Conclusions)
		// Items persisted before a partial failure are real; the trace
		// must account for them either way.
		trace.DerivedMemoriesCreated = created
		if err != nil {
			return e.abort(trace, StepWrite, map[string]any{"created": created}, err), nil
		}
		trace.addStep(StepWrite,
			map[string]any{"threshold": e.config.MinAcceptConfidence},
			map[string]any{"created": created}, 1.0)
	}

	answer := res.Answer
	trace.finalize(&answer)
	log.Printf("[REASON] %s: done (%d steps, %d conclusions, %v)",
		trace.ID, len(trace.Steps), len(trace.Conclusions), trace.Elapsed)
	return trace, nil
}

// abort records the failed step, seals the trace with a nil answer, and
// returns it. The partial step history is preserved for debugging.
func (e *Engine) abort(trace *Trace, action StepAction, input any, err error) *Trace {
	log.Printf("[REASON] %s: %s failed: %v", trace.ID, action, err)
	trace.failStep(action, input, err)
	trace.finalize(nil)
	return trace
}

func (e *Engine) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.StepTimeout > 0 {
		return context.WithTimeout(ctx, e.config.StepTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) retrieve(ctx context.Context, scope string, fp memory.FilterParams) ([]*memory.Item, error) {
	stepCtx, cancel := e.stepContext(ctx)
	defer cancel()
	items, err := e.store.Filter(stepCtx, scope, fp)
	if err != nil {
		return nil, fmt.Errorf("filter store: %w", err)
	}
	return items, nil
}

// traverse expands candidates by following graph edges breadth-first up to
// q.Depth hops. The visited set is keyed by entity ID, so cyclic graphs
// terminate. Edge types outside the constraint's relationship list are not
// followed.
func (e *Engine) traverse(ctx context.Context, q *Query, byID map[string]*memory.Item, candidates *[]*memory.Item) ([]memory.Edge, error) {
	stepCtx, cancel := e.stepContext(ctx)
	defer cancel()

	visited := make(map[string]bool, len(byID))
	frontier := make([]string, 0, len(byID))
	for id := range byID {
		visited[id] = true
		frontier = append(frontier, id)
	}

	var added []memory.Edge
	for hop := 1; hop <= q.Depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			edges, err := e.graph.Neighbors(stepCtx, q.Scope, id, hop)
			if err != nil {
				return nil, fmt.Errorf("graph neighbors of %s at hop %d: %w", id, hop, err)
			}
			for _, edge := range edges {
				if !q.Constraints.followsRelation(edge.Relation) {
					continue
				}
				if visited[edge.EntityID] {
					continue
				}
				visited[edge.EntityID] = true
				next = append(next, edge.EntityID)

				it, err := e.store.Get(stepCtx, q.Scope, edge.EntityID)
				if errors.Is(err, memory.ErrNotFound) {
					continue // edge into an entity this store does not hold
				}
				if err != nil {
					return nil, fmt.Errorf("fetch neighbor %s: %w", edge.EntityID, err)
				}
				byID[it.ID] = it
				*candidates = append(*candidates, it)
				added = append(added, edge)
			}
		}
		frontier = next
	}
	return added, nil
}

func (e *Engine) embedGoal(ctx context.Context, goal string) ([]float32, error) {
	stepCtx, cancel := e.stepContext(ctx)
	defer cancel()
	vec, err := e.embedder.Embed(stepCtx, goal)
	if err != nil {
		return nil, fmt.Errorf("embed goal: %w", err)
	}
	return vec, nil
}

// preselect narrows large candidate sets through the vector index before
// exact scoring. The index is an optimization, not a capability: on index
// failure the engine records the narrowing as skipped and scores the full
// set instead of terminating.
func (e *Engine) preselect(ctx context.Context, trace *Trace, q *Query, goalVec []float32, candidates []*memory.Item, byID map[string]*memory.Item) []*memory.Item {
	if e.index == nil || len(candidates) <= e.config.IndexThreshold {
		trace.addStep(StepFilter,
			map[string]any{"candidates": len(candidates)},
			map[string]any{"kept": len(candidates), "index_used": false}, 1.0)
		return candidates
	}

	stepCtx, cancel := e.stepContext(ctx)
	defer cancel()

	hits, err := e.index.Search(stepCtx, q.Scope, goalVec, q.MaxResults*4)
	if err != nil {
		log.Printf("[REASON] %s: index preselect failed, scoring full set: %v", trace.ID, err)
		trace.addStep(StepFilter,
			map[string]any{"candidates": len(candidates)},
			map[string]any{"kept": len(candidates), "index_used": false, "index_error": err.Error()}, 1.0)
		return candidates
	}

	inCandidates := make(map[string]bool, len(candidates))
	for _, it := range candidates {
		inCandidates[it.ID] = true
	}
	kept := make([]*memory.Item, 0, len(hits))
	for _, h := range hits {
		if inCandidates[h.ID] {
			kept = append(kept, byID[h.ID])
		}
	}
	trace.addStep(StepFilter,
		map[string]any{"candidates": len(candidates)},
		map[string]any{"kept": len(kept), "index_used": true}, 1.0)
	return kept
}

// score ranks candidates against the goal embedding: salience mode when
// reinforcement data is present, plain cosine otherwise.
func (e *Engine) score(q *Query, goalVec []float32, candidates []*memory.Item) ([]rank.Scored, string) {
	docs := make([]rank.Doc, 0, len(candidates))
	salienceMode := false
	for _, it := range candidates {
		if it.ReinforcementCount > 0 {
			salienceMode = true
		}
		docs = append(docs, rank.Doc{
			ID:               it.ID,
			Vector:           it.Embedding,
			Reinforcement:    it.ReinforcementCount,
			LastReinforcedAt: it.LastReinforcedAt,
		})
	}
	if salienceMode {
		return rank.TopKSalience(goalVec, docs, q.MaxResults, time.Now().UTC(), e.config.RecencyDecayDays), "salience"
	}
	return rank.TopKCosine(goalVec, docs, q.MaxResults), "cosine"
}

func (e *Engine) infer(ctx context.Context, prompt string) (string, error) {
	stepCtx, cancel := e.stepContext(ctx)
	defer cancel()
	out, err := e.inferencer.Infer(stepCtx, prompt)
	if err != nil {
		return "", fmt.Errorf("inference: %w", err)
	}
	return out, nil
}

// verify independently re-evaluates each conclusion. Invalid or weaker
// verdicts downgrade confidence and append issues; conclusions are never
// removed.
func (e *Engine) verify(ctx context.Context, trace *Trace, byID map[string]*memory.Item) error {
	downgraded := 0
	for i := range trace.Conclusions {
		c := &trace.Conclusions[i]

		stepCtx, cancel := e.stepContext(ctx)
		raw, err := e.inferencer.Infer(stepCtx, buildVerifyPrompt(*c, byID))
		cancel()
		if err != nil {
			return fmt.Errorf("verify conclusion %d: %w", i, err)
		}
		vr, err := parseVerifyResult(raw)
		if err != nil {
			return fmt.Errorf("verify conclusion %d: %w", i, err)
		}

		if !vr.Valid || vr.Confidence < c.Confidence {
			if vr.Confidence < c.Confidence {
				c.Confidence = vr.Confidence
			}
			downgraded++
		}
		c.Issues = append(c.Issues, vr.Issues...)
	}
	trace.addStep(StepVerify,
		map[string]any{"conclusions": len(trace.Conclusions)},
		map[string]any{"downgraded": downgraded}, avgConfidence(trace.Conclusions))
	return nil
}

// writeDerived persists accepted conclusions as knowledge items and, when
// the store supports links, connects them to their source memories.
func (e *Engine) writeDerived(ctx context.Context, q *Query, conclusions []Conclusion) (int, error) {
	stepCtx, cancel := e.stepContext(ctx)
	defer cancel()

	linker, _ := e.store.(memory.Linker)
	created := 0
	for _, c := range conclusions {
		if c.Confidence < e.config.MinAcceptConfidence {
			continue
		}
		emb, err := e.embedder.Embed(stepCtx, c.Content)
		if err != nil {
			return created, fmt.Errorf("embed conclusion: %w", err)
		}
		item := &memory.Item{
			Type:       memory.TypeKnowledge,
			Summary:    c.Content,
			Embedding:  emb,
			Confidence: c.Confidence,
			Metadata: map[string]any{
				"derived":        true,
				"inference_type": string(c.InferenceType),
				"reasoning":      c.Reasoning,
			},
		}
		stored, wasNew, err := e.store.Upsert(stepCtx, q.Scope, item)
		if err != nil {
			return created, fmt.Errorf("persist conclusion: %w", err)
		}
		if wasNew {
			created++
		}
		if e.index != nil {
			if err := e.index.Add(stepCtx, q.Scope, stored.ID, emb); err != nil {
				log.Printf("[REASON] index add for %s failed: %v", stored.ID, err)
			}
		}
		if linker != nil {
			for _, src := range c.SourceMemoryIDs {
				if err := linker.AddLink(stepCtx, q.Scope, stored.ID, src, memory.RelDerivedFrom); err != nil {
					log.Printf("[REASON] provenance link %s -> %s failed: %v", stored.ID, src, err)
				}
			}
		}
	}
	return created, nil
}

func avgConfidence(cs []Conclusion) float64 {
	if len(cs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cs {
		sum += c.Confidence
	}
	return sum / float64(len(cs))
}
