package reason_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/strandlabs/mnemo-go-sdk/memory"
	"github.com/strandlabs/mnemo-go-sdk/memory/embedder/mock"
	"github.com/strandlabs/mnemo-go-sdk/memory/store/memstore"
	"github.com/strandlabs/mnemo-go-sdk/reason"
)

// scriptedInferencer replays canned outputs in order, repeating the last.
type scriptedInferencer struct {
	outputs []string
	err     error
	calls   int
}

func (s *scriptedInferencer) Infer(ctx context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	i := s.calls
	if i >= len(s.outputs) {
		i = len(s.outputs) - 1
	}
	s.calls++
	return s.outputs[i], nil
}

// blockingInferencer never answers; it waits for cancellation.
type blockingInferencer struct{}

func (blockingInferencer) Infer(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func inferenceJSON(t *testing.T, answer string, conclusions ...reason.Conclusion) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"conclusions":           conclusions,
		"answer":                answer,
		"insufficient_evidence": false,
		"missing_information":   []string{},
	})
	if err != nil {
		t.Fatalf("marshal inference fixture: %v", err)
	}
	return string(b)
}

func seededStore(t *testing.T, ctx context.Context, emb memory.Embedder) (*memstore.MemStore, []*memory.Item) {
	t.Helper()
	s := memstore.New(nil)
	summaries := []string{
		"Jack lives in London",
		"Jack works as a data engineer",
		"Jack mentioned he dislikes early meetings",
	}
	var items []*memory.Item
	for _, sum := range summaries {
		vec, err := emb.Embed(ctx, sum)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		it, _, err := s.Upsert(ctx, "u1", &memory.Item{
			Type:       memory.TypeProfile,
			Summary:    sum,
			Embedding:  vec,
			Confidence: 0.9,
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		items = append(items, it)
	}
	return s, items
}

func baseQuery() *reason.Query {
	return &reason.Query{
		Scope:      "u1",
		Goal:       "where does Jack live?",
		Depth:      2,
		MaxResults: 10,
	}
}

func TestRunWriteDerived(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, items := seededStore(t, ctx, emb)

	inf := &scriptedInferencer{outputs: []string{inferenceJSON(t, "Jack lives in London.", reason.Conclusion{
		Content:         "Jack is based in the UK",
		InferenceType:   reason.InferenceDeduction,
		Confidence:      0.9,
		Reasoning:       "London is in the UK",
		SourceMemoryIDs: []string{items[0].ID},
	})}}

	engine := reason.NewEngine(store, emb, inf, nil)
	q := baseQuery()
	q.WriteDerived = true

	trace, err := engine.Run(ctx, q)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if trace.FinalAnswer == nil || *trace.FinalAnswer != "Jack lives in London." {
		t.Errorf("FinalAnswer = %v", trace.FinalAnswer)
	}
	if trace.Failed() {
		t.Errorf("no step should fail: %+v", trace.Steps)
	}
	if trace.DerivedMemoriesCreated != 1 {
		t.Errorf("DerivedMemoriesCreated = %d, want 1", trace.DerivedMemoriesCreated)
	}
	if trace.TotalMemoriesConsidered != 3 {
		t.Errorf("TotalMemoriesConsidered = %d, want 3", trace.TotalMemoriesConsidered)
	}

	// The derived knowledge item landed in the store.
	derived, err := store.Filter(ctx, "u1", memory.FilterParams{
		MemoryTypes: []memory.Type{memory.TypeKnowledge},
	})
	if err != nil {
		t.Fatalf("filter derived: %v", err)
	}
	if len(derived) != 1 || derived[0].Summary != "Jack is based in the UK" {
		t.Fatalf("derived items = %v", derived)
	}
	// With provenance link back to the source memory.
	edges, err := store.Neighbors(ctx, "u1", derived[0].ID, 1)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(edges) != 1 || edges[0].Relation != memory.RelDerivedFrom || edges[0].EntityID != items[0].ID {
		t.Errorf("provenance edges = %v", edges)
	}
}

func TestRunStepOrder(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, _ := seededStore(t, ctx, emb)
	inf := &scriptedInferencer{outputs: []string{inferenceJSON(t, "ok")}}

	trace, err := reason.NewEngine(store, emb, inf, nil).Run(ctx, baseQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var got []reason.StepAction
	for _, s := range trace.Steps {
		got = append(got, s.Action)
	}
	want := []reason.StepAction{
		reason.StepRetrieve, reason.StepTraverse, reason.StepFilter,
		reason.StepScore, reason.StepInfer,
	}
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunInferenceFailure(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, _ := seededStore(t, ctx, emb)
	inf := &scriptedInferencer{err: fmt.Errorf("model unavailable")}

	trace, err := reason.NewEngine(store, emb, inf, nil).Run(ctx, baseQuery())
	if err != nil {
		t.Fatalf("capability failure must not surface as an error: %v", err)
	}
	if trace.FinalAnswer != nil {
		t.Errorf("FinalAnswer = %v, want nil", *trace.FinalAnswer)
	}
	if !trace.Failed() {
		t.Error("trace should record a failed step")
	}
	last := trace.LastStep()
	if last == nil || last.Action != reason.StepInfer || !last.Failed {
		t.Errorf("last step = %+v, want failed infer", last)
	}
	// Partial history before the failure survives.
	if trace.Steps[0].Action != reason.StepRetrieve {
		t.Errorf("first step = %s, want retrieve", trace.Steps[0].Action)
	}
}

func TestRunMalformedInferenceOutput(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, _ := seededStore(t, ctx, emb)
	inf := &scriptedInferencer{outputs: []string{"I cannot answer in JSON, sorry."}}

	trace, err := reason.NewEngine(store, emb, inf, nil).Run(ctx, baseQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if trace.FinalAnswer != nil || !trace.Failed() {
		t.Error("unparseable inference output should fail the infer step")
	}
}

func TestRunFencedJSONAccepted(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, _ := seededStore(t, ctx, emb)
	fenced := "```json\n" + inferenceJSON(t, "fenced answer") + "\n```"
	inf := &scriptedInferencer{outputs: []string{fenced}}

	trace, err := reason.NewEngine(store, emb, inf, nil).Run(ctx, baseQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if trace.FinalAnswer == nil || *trace.FinalAnswer != "fenced answer" {
		t.Errorf("FinalAnswer = %v, want fenced answer", trace.FinalAnswer)
	}
}

func TestRunCyclicGraphTerminates(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store := memstore.New(nil)

	embed := func(s string) []float32 {
		v, _ := emb.Embed(ctx, s)
		return v
	}
	a, _, _ := store.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeEvent, Summary: "deployed v2 on friday", Embedding: embed("deployed v2 on friday")})
	b, _, _ := store.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeKnowledge, Summary: "v2 contains the retry fix", Embedding: embed("v2 contains the retry fix")})
	c, _, _ := store.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeKnowledge, Summary: "retry fix closes incident 42", Embedding: embed("retry fix closes incident 42")})

	// a -> b -> c -> a is a cycle; traversal must terminate via the
	// visited set, not loop.
	store.AddLink(ctx, "u1", a.ID, b.ID, memory.RelRelatesTo)
	store.AddLink(ctx, "u1", b.ID, c.ID, memory.RelDependsOn)
	store.AddLink(ctx, "u1", c.ID, a.ID, memory.RelRelatesTo)

	inf := &scriptedInferencer{outputs: []string{inferenceJSON(t, "v2 shipped the retry fix")}}
	engine := reason.NewEngine(store, emb, inf, nil)

	q := &reason.Query{
		Scope:      "u1",
		Goal:       "what shipped on friday?",
		Depth:      3,
		MaxResults: 10,
		Constraints: reason.Constraints{
			MemoryTypes: []memory.Type{memory.TypeEvent}, // only a retrieved directly
		},
	}

	done := make(chan *reason.Trace, 1)
	go func() {
		trace, err := engine.Run(ctx, q)
		if err != nil {
			t.Errorf("run: %v", err)
		}
		done <- trace
	}()

	var trace *reason.Trace
	select {
	case trace = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cyclic graph traversal did not terminate")
	}

	if trace.Failed() {
		t.Fatalf("trace failed: %+v", trace.Steps)
	}
	// b and c reached through traversal despite the type filter.
	if trace.TotalMemoriesConsidered != 3 {
		t.Errorf("TotalMemoriesConsidered = %d, want 3", trace.TotalMemoriesConsidered)
	}
}

func TestRunRelationshipConstraint(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store := memstore.New(nil)

	embed := func(s string) []float32 {
		v, _ := emb.Embed(ctx, s)
		return v
	}
	a, _, _ := store.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeEvent, Summary: "root event", Embedding: embed("root event")})
	b, _, _ := store.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeKnowledge, Summary: "followed fact", Embedding: embed("followed fact")})
	c, _, _ := store.Upsert(ctx, "u1", &memory.Item{Type: memory.TypeKnowledge, Summary: "ignored fact", Embedding: embed("ignored fact")})
	store.AddLink(ctx, "u1", a.ID, b.ID, memory.RelDependsOn)
	store.AddLink(ctx, "u1", a.ID, c.ID, memory.RelContradicts)

	inf := &scriptedInferencer{outputs: []string{inferenceJSON(t, "ok")}}
	q := &reason.Query{
		Scope:      "u1",
		Goal:       "trace the root event",
		Depth:      1,
		MaxResults: 10,
		Constraints: reason.Constraints{
			MemoryTypes:   []memory.Type{memory.TypeEvent},
			Relationships: []string{memory.RelDependsOn},
		},
	}
	trace, err := reason.NewEngine(store, emb, inf, nil).Run(ctx, q)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Only the depends_on edge is followed: a + b.
	if trace.TotalMemoriesConsidered != 2 {
		t.Errorf("TotalMemoriesConsidered = %d, want 2", trace.TotalMemoriesConsidered)
	}
}

func TestRunVerifyDowngradesNeverDiscards(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, items := seededStore(t, ctx, emb)

	inf := &scriptedInferencer{outputs: []string{
		inferenceJSON(t, "answer", reason.Conclusion{
			Content:         "Jack enjoys mornings",
			InferenceType:   reason.InferenceInduction,
			Confidence:      0.9,
			SourceMemoryIDs: []string{items[2].ID},
		}),
		`{"valid": false, "confidence": 0.3, "issues": ["contradicts the dislike of early meetings"]}`,
	}}

	cfg := *reason.DefaultConfig
	cfg.VerifyConclusions = true
	trace, err := reason.NewEngine(store, emb, inf, &cfg).Run(ctx, baseQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(trace.Conclusions) != 1 {
		t.Fatalf("verification must annotate, never discard: %d conclusions", len(trace.Conclusions))
	}
	c := trace.Conclusions[0]
	if c.Confidence != 0.3 {
		t.Errorf("Confidence = %v, want downgraded 0.3", c.Confidence)
	}
	if len(c.Issues) != 1 {
		t.Errorf("Issues = %v, want the flagged inconsistency", c.Issues)
	}
}

func TestRunWriteBelowThresholdSkipped(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, _ := seededStore(t, ctx, emb)

	inf := &scriptedInferencer{outputs: []string{inferenceJSON(t, "answer", reason.Conclusion{
		Content:       "a shaky guess",
		InferenceType: reason.InferenceAnalogy,
		Confidence:    0.2,
	})}}

	q := baseQuery()
	q.WriteDerived = true
	trace, err := reason.NewEngine(store, emb, inf, nil).Run(ctx, q)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if trace.DerivedMemoriesCreated != 0 {
		t.Errorf("DerivedMemoriesCreated = %d, want 0 below acceptance threshold", trace.DerivedMemoriesCreated)
	}
}

// failAfterEmbedder delegates to an inner embedder for the first n calls,
// then fails.
type failAfterEmbedder struct {
	inner memory.Embedder
	n     int
	calls int
}

func (e *failAfterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.calls > e.n {
		return nil, fmt.Errorf("embedding service unavailable")
	}
	return e.inner.Embed(ctx, text)
}

func (e *failAfterEmbedder) Dimensions() int { return e.inner.Dimensions() }

func TestRunWritePartialFailureCountsPersisted(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, items := seededStore(t, ctx, emb)

	inf := &scriptedInferencer{outputs: []string{inferenceJSON(t, "answer",
		reason.Conclusion{
			Content:         "Jack is based in the UK",
			InferenceType:   reason.InferenceDeduction,
			Confidence:      0.9,
			SourceMemoryIDs: []string{items[0].ID},
		},
		reason.Conclusion{
			Content:       "Jack prefers afternoon meetings",
			InferenceType: reason.InferenceInduction,
			Confidence:    0.8,
		},
	)}}

	// Call 1 embeds the goal, call 2 the first conclusion; the second
	// conclusion's embedding fails mid-write.
	flaky := &failAfterEmbedder{inner: emb, n: 2}
	q := baseQuery()
	q.WriteDerived = true

	trace, err := reason.NewEngine(store, flaky, inf, nil).Run(ctx, q)
	if err != nil {
		t.Fatalf("capability failure must not surface as an error: %v", err)
	}
	if trace.FinalAnswer != nil {
		t.Errorf("FinalAnswer = %v, want nil", *trace.FinalAnswer)
	}
	last := trace.LastStep()
	if last == nil || last.Action != reason.StepWrite || !last.Failed {
		t.Fatalf("last step = %+v, want failed write", last)
	}

	// The first conclusion was persisted before the failure; the trace
	// must account for it.
	if trace.DerivedMemoriesCreated != 1 {
		t.Errorf("DerivedMemoriesCreated = %d, want 1", trace.DerivedMemoriesCreated)
	}
	derived, err := store.Filter(ctx, "u1", memory.FilterParams{
		MemoryTypes: []memory.Type{memory.TypeKnowledge},
	})
	if err != nil {
		t.Fatalf("filter derived: %v", err)
	}
	if len(derived) != 1 || derived[0].Summary != "Jack is based in the UK" {
		t.Fatalf("derived items = %v", derived)
	}
}

func TestRunStepTimeout(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, _ := seededStore(t, ctx, emb)

	cfg := *reason.DefaultConfig
	cfg.StepTimeout = 20 * time.Millisecond
	trace, err := reason.NewEngine(store, emb, blockingInferencer{}, &cfg).Run(ctx, baseQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if trace.FinalAnswer != nil {
		t.Error("timed-out inference should yield nil FinalAnswer")
	}
	last := trace.LastStep()
	if last == nil || last.Action != reason.StepInfer || !last.Failed {
		t.Errorf("last step = %+v, want failed infer on timeout", last)
	}
}

func TestRunCancellation(t *testing.T) {
	emb := mock.New()
	bg := context.Background()
	store, _ := seededStore(t, bg, emb)

	ctx, cancel := context.WithCancel(bg)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	cfg := *reason.DefaultConfig
	cfg.StepTimeout = 0 // only the caller's ctx bounds the call
	trace, err := reason.NewEngine(store, emb, blockingInferencer{}, &cfg).Run(ctx, baseQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if trace.FinalAnswer != nil || !trace.Failed() {
		t.Error("cancellation should fail the in-flight step and finalize with nil answer")
	}
}

func TestRunInvalidQuery(t *testing.T) {
	emb := mock.New()
	store := memstore.New(nil)
	engine := reason.NewEngine(store, emb, &scriptedInferencer{outputs: []string{"{}"}}, nil)

	bad := []*reason.Query{
		{Scope: "u1", Goal: "", Depth: 1, MaxResults: 10},
		{Scope: "u1", Goal: "g", Depth: 0, MaxResults: 10},
		{Scope: "u1", Goal: "g", Depth: 6, MaxResults: 10},
		{Scope: "u1", Goal: "g", Depth: 1, MaxResults: 0},
		{Scope: "u1", Goal: "g", Depth: 1, MaxResults: 101},
		{Scope: "u1", Goal: "g", Depth: 1, MaxResults: 10, Constraints: reason.Constraints{MinConfidence: 1.2}},
	}
	for i, q := range bad {
		if _, err := engine.Run(context.Background(), q); err == nil {
			t.Errorf("query %d should be rejected", i)
		}
	}
}

func TestScoreModeRecorded(t *testing.T) {
	ctx := context.Background()
	emb := mock.New()
	store, _ := seededStore(t, ctx, emb)
	inf := &scriptedInferencer{outputs: []string{inferenceJSON(t, "ok")}}

	trace, err := reason.NewEngine(store, emb, inf, nil).Run(ctx, baseQuery())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, s := range trace.Steps {
		if s.Action == reason.StepScore {
			in, ok := s.Input.(map[string]any)
			if !ok {
				t.Fatalf("score input payload = %T", s.Input)
			}
			// Store-managed items carry reinforcement counts, so the
			// engine must pick salience mode.
			if in["mode"] != "salience" {
				t.Errorf("score mode = %v, want salience", in["mode"])
			}
			return
		}
	}
	t.Fatal("no score step recorded")
}
