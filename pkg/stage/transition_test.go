package stage_test

import (
	"testing"

	"swarm/pkg/stage"
)

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name     string
		current  stage.Stage
		result   stage.Result
		attempt  int
		max      int
		want     stage.TransitionKind
		wantNext stage.Stage
	}{
		{"contract pass advances", stage.RustContract, stage.Passed(), 1, 3, stage.TransitionAdvance, stage.Implement},
		{"implement pass advances", stage.Implement, stage.Passed(), 1, 3, stage.TransitionAdvance, stage.QAEnforcer},
		{"qa pass advances", stage.QAEnforcer, stage.Passed(), 2, 3, stage.TransitionAdvance, stage.RedQueen},
		{"red-queen pass completes", stage.RedQueen, stage.Passed(), 1, 3, stage.TransitionComplete, ""},
		{"contract failure retries contract", stage.RustContract, stage.Failed("bad contract"), 1, 3, stage.TransitionRetry, stage.RustContract},
		{"qa failure loops back to implement", stage.QAEnforcer, stage.Failed("fail-1"), 1, 3, stage.TransitionRetry, stage.Implement},
		{"red-queen failure loops back to implement", stage.RedQueen, stage.Failed("fail-2"), 2, 3, stage.TransitionRetry, stage.Implement},
		{"failure at budget blocks", stage.QAEnforcer, stage.Failed("fail-3"), 3, 3, stage.TransitionBlock, ""},
		{"failure above budget blocks", stage.Implement, stage.Failed("x"), 4, 3, stage.TransitionBlock, ""},
		{"error counts as failure", stage.Implement, stage.Errored("oom"), 3, 3, stage.TransitionBlock, ""},
		{"error below budget retries", stage.Implement, stage.Errored("oom"), 1, 3, stage.TransitionRetry, stage.Implement},
		{"done is noop", stage.Done, stage.Passed(), 1, 3, stage.TransitionNoOp, ""},
		{"started never transitions", stage.Implement, stage.Result{Outcome: stage.OutcomeStarted}, 1, 3, stage.TransitionBlock, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stage.Decide(tc.current, tc.result, tc.attempt, tc.max)
			if got.Kind != tc.want {
				t.Errorf("Decide(%s, %s, %d/%d) = %s, want %s",
					tc.current, tc.result.Outcome, tc.attempt, tc.max, got.Kind, tc.want)
			}
			if got.Next != tc.wantNext {
				t.Errorf("next = %q, want %q", got.Next, tc.wantNext)
			}
		})
	}
}

func TestStageOrdering(t *testing.T) {
	order := []stage.Stage{stage.RustContract, stage.Implement, stage.QAEnforcer, stage.RedQueen, stage.Done}
	for i := 0; i < len(order)-1; i++ {
		next, ok := order[i].Next()
		if !ok || next != order[i+1] {
			t.Errorf("%s.Next() = %s, %v; want %s", order[i], next, ok, order[i+1])
		}
	}
	if _, ok := stage.Done.Next(); ok {
		t.Error("done must have no successor")
	}
	if !stage.Done.IsTerminal() || stage.RedQueen.IsTerminal() {
		t.Error("terminal classification wrong")
	}
	if !stage.RedQueen.IsLastExecutable() {
		t.Error("red-queen must be the last executable stage")
	}
}

func TestParseStageAndOutcome(t *testing.T) {
	for _, s := range []string{"rust-contract", "implement", "qa-enforcer", "red-queen", "done"} {
		if _, err := stage.Parse(s); err != nil {
			t.Errorf("Parse(%q): %v", s, err)
		}
	}
	if _, err := stage.Parse("implementation"); err == nil {
		t.Error(`"implementation" is not a canonical stage value`)
	}
	if _, err := stage.ParseOutcome("passed"); err != nil {
		t.Error("passed must parse")
	}
	if _, err := stage.ParseOutcome("success"); err == nil {
		t.Error(`"success" is not a canonical outcome`)
	}
}

func TestTransitionEventTypes(t *testing.T) {
	cases := map[stage.TransitionKind]string{
		stage.TransitionAdvance:  "transition_advance",
		stage.TransitionComplete: "transition_finalize",
		stage.TransitionRetry:    "transition_retry",
		stage.TransitionBlock:    "transition_blocked",
		stage.TransitionNoOp:     "transition_noop",
	}
	for kind, want := range cases {
		if got := (stage.Transition{Kind: kind}).EventType(); got != want {
			t.Errorf("EventType(%s) = %q, want %q", kind, got, want)
		}
	}
}
