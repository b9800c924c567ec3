package stage

import "fmt"

// Outcome is the terminal status of one stage attempt. "started" is
// the non-terminal marker row in stage history.
type Outcome string

// Attempt outcomes.
const (
	OutcomeStarted Outcome = "started"
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// ParseOutcome converts a canonical outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeStarted, OutcomePassed, OutcomeFailed, OutcomeError:
		return Outcome(s), nil
	default:
		return "", fmt.Errorf("unknown outcome: %q", s)
	}
}

// IsSuccess reports whether the outcome advances the pipeline.
func (o Outcome) IsSuccess() bool { return o == OutcomePassed }

// IsTerminal reports whether the outcome ends an attempt.
func (o Outcome) IsTerminal() bool { return o != OutcomeStarted }

// Artifact is one typed output produced by a stage attempt.
type Artifact struct {
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is the structured outcome of one skill invocation.
type Result struct {
	Outcome    Outcome    `json:"outcome"`
	Feedback   string     `json:"feedback,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
	Transcript string     `json:"transcript,omitempty"`
}

// Passed builds a successful result.
func Passed(artifacts ...Artifact) Result {
	return Result{Outcome: OutcomePassed, Artifacts: artifacts}
}

// Failed builds a failed result with worker feedback.
func Failed(feedback string, artifacts ...Artifact) Result {
	return Result{Outcome: OutcomeFailed, Feedback: feedback, Artifacts: artifacts}
}

// Errored builds an errored result (infrastructure failure, not a
// quality failure; still counts against the attempt budget).
func Errored(feedback string) Result {
	return Result{Outcome: OutcomeError, Feedback: feedback}
}
