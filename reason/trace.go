package reason

import (
	"time"

	"github.com/google/uuid"
)

// StepAction identifies a reasoning state-machine step.
type StepAction string

const (
	StepRetrieve StepAction = "retrieve"
	StepTraverse StepAction = "traverse"
	StepFilter   StepAction = "filter"
	StepScore    StepAction = "score"
	StepInfer    StepAction = "infer"
	StepVerify   StepAction = "verify"
	StepWrite    StepAction = "write"
)

// Step is one recorded state transition. Steps are appended in execution
// order whether they succeed or fail; a failed external capability leaves
// a Failed step behind rather than discarding the trace, which is what
// makes reasoning chains debuggable after the fact.
type Step struct {
	Action     StepAction `json:"action"`
	Input      any        `json:"input,omitempty"`
	Output     any        `json:"output,omitempty"`
	Confidence float64    `json:"confidence"`
	Failed     bool       `json:"failed,omitempty"`
	Err        string     `json:"error,omitempty"`
	At         time.Time  `json:"at"`
}

// Trace is the ordered, auditable log of one reasoning execution. It is
// append-only while the engine runs and immutable once finalized.
type Trace struct {
	ID    string `json:"id"`
	Query *Query `json:"query"`
	Steps []Step `json:"steps"`

	// FinalAnswer is nil when the execution terminated on a failed step.
	FinalAnswer          *string      `json:"final_answer"`
	Conclusions          []Conclusion `json:"conclusions,omitempty"`
	InsufficientEvidence bool         `json:"insufficient_evidence,omitempty"`
	MissingInformation   []string     `json:"missing_information,omitempty"`

	DerivedMemoriesCreated  int `json:"derived_memories_created"`
	TotalMemoriesConsidered int `json:"total_memories_considered"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`

	finalized bool
}

func newTrace(q *Query) *Trace {
	return &Trace{
		ID:        uuid.New().String(),
		Query:     q,
		StartedAt: time.Now().UTC(),
	}
}

func (t *Trace) addStep(action StepAction, input, output any, confidence float64) {
	if t.finalized {
		return
	}
	t.Steps = append(t.Steps, Step{
		Action:     action,
		Input:      input,
		Output:     output,
		Confidence: confidence,
		At:         time.Now().UTC(),
	})
}

func (t *Trace) failStep(action StepAction, input any, err error) {
	if t.finalized {
		return
	}
	t.Steps = append(t.Steps, Step{
		Action: action,
		Input:  input,
		Failed: true,
		Err:    err.Error(),
		At:     time.Now().UTC(),
	})
}

// finalize seals the trace. answer stays nil on failure paths.
func (t *Trace) finalize(answer *string) {
	if t.finalized {
		return
	}
	t.FinalAnswer = answer
	t.Elapsed = time.Since(t.StartedAt)
	t.finalized = true
}

// Failed reports whether any recorded step failed.
func (t *Trace) Failed() bool {
	for _, s := range t.Steps {
		if s.Failed {
			return true
		}
	}
	return false
}

// LastStep returns the most recent step, or nil for an empty trace.
func (t *Trace) LastStep() *Step {
	if len(t.Steps) == 0 {
		return nil
	}
	return &t.Steps[len(t.Steps)-1]
}
