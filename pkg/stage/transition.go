package stage

// TransitionKind is the machine's decision for a completed attempt.
type TransitionKind string

// Transition kinds.
const (
	TransitionAdvance  TransitionKind = "advance"
	TransitionComplete TransitionKind = "complete"
	TransitionRetry    TransitionKind = "retry"
	TransitionBlock    TransitionKind = "block"
	TransitionNoOp     TransitionKind = "noop"
)

// Transition is the decision plus, for Advance and Retry, the target
// stage. A retry of a verification stage loops back to implement;
// the verifier's feedback is only actionable by changing the
// implementation.
type Transition struct {
	Kind TransitionKind
	Next Stage // set for TransitionAdvance and TransitionRetry
}

// EventType returns the execution event type recorded for this
// transition.
func (t Transition) EventType() string {
	switch t.Kind {
	case TransitionAdvance:
		return "transition_advance"
	case TransitionComplete:
		return "transition_finalize"
	case TransitionRetry:
		return "transition_retry"
	case TransitionBlock:
		return "transition_blocked"
	default:
		return "transition_noop"
	}
}

// Decide is the pure transition function over
// (current stage, result, attempt number, max attempts):
//
//   - success on a non-final executable stage advances;
//   - success on the final executable stage completes;
//   - failure below the attempt budget retries, looping back to
//     implement when a verification stage rejected the work;
//   - failure at or above the budget blocks;
//   - a terminal stage is a no-op.
//
// A "started" result never yields a transition; callers must pass a
// terminal outcome. Decide treats it as a block so the breach is
// loud rather than silently advancing.
func Decide(current Stage, result Result, attempt, maxAttempts int) Transition {
	if current.IsTerminal() {
		return Transition{Kind: TransitionNoOp}
	}
	if !result.Outcome.IsTerminal() {
		return Transition{Kind: TransitionBlock}
	}
	if result.Outcome.IsSuccess() {
		if current.IsLastExecutable() {
			return Transition{Kind: TransitionComplete}
		}
		next, _ := current.Next()
		return Transition{Kind: TransitionAdvance, Next: next}
	}
	if attempt < maxAttempts {
		return Transition{Kind: TransitionRetry, Next: retryTarget(current)}
	}
	return Transition{Kind: TransitionBlock}
}

// retryTarget picks the stage a retry resumes at. Contract failures
// redo the contract; everything from implement onward loops back to
// implement.
func retryTarget(current Stage) Stage {
	if current == RustContract {
		return RustContract
	}
	return Implement
}
