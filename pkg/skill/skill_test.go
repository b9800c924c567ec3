package skill

import (
	"context"
	"strings"
	"testing"

	"swarm/pkg/stage"
)

func TestSubstitute(t *testing.T) {
	got := Substitute("br show {bead_id} --agent {agent_id}", "bead-42", 7)
	if got != "br show bead-42 --agent 7" {
		t.Errorf("Substitute = %q", got)
	}
	if got := Substitute("make check", "bead-1", 1); got != "make check" {
		t.Errorf("no placeholders must pass through: %q", got)
	}
}

func TestRunCapturesTranscriptAndExit(t *testing.T) {
	r := NewExecRunner(5000)

	pass, err := r.Run(context.Background(), Invocation{
		Stage: stage.Implement, BeadID: "bead-1", Command: "echo done",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !pass.Result.Outcome.IsSuccess() {
		t.Errorf("exit 0 must pass, got %s", pass.Result.Outcome)
	}
	if !strings.Contains(pass.Result.Transcript, "done") {
		t.Errorf("transcript lost: %q", pass.Result.Transcript)
	}

	fail, err := r.Run(context.Background(), Invocation{
		Stage: stage.QAEnforcer, BeadID: "bead-1", Command: "echo boom; exit 3",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fail.Result.Outcome != stage.OutcomeFailed {
		t.Errorf("exit 3 must fail, got %s", fail.Result.Outcome)
	}
	if !strings.Contains(fail.Result.Feedback, "exited 3") {
		t.Errorf("feedback = %q", fail.Result.Feedback)
	}
}

func TestRunProducesTypedArtifacts(t *testing.T) {
	r := NewExecRunner(5000)

	cases := []struct {
		stage   stage.Stage
		command string
		want    []string
	}{
		{stage.RustContract, "echo contract body", []string{"contract_document"}},
		{stage.Implement, "echo diff body", []string{"implementation_code"}},
		{stage.QAEnforcer, "echo 42 tests passed", []string{"test_output"}},
		{stage.QAEnforcer, "echo 1 test failed; exit 1", []string{"test_output", "failure_details"}},
		{stage.RedQueen, "echo gates green", []string{"quality_gate_report"}},
		{stage.RedQueen, "echo found a hole; exit 1", []string{"adversarial_report"}},
	}
	for _, tc := range cases {
		out, err := r.Run(context.Background(), Invocation{
			Stage: tc.stage, BeadID: "bead-1", Command: tc.command,
		})
		if err != nil {
			t.Fatalf("%s: Run: %v", tc.stage, err)
		}
		var types []string
		for _, a := range out.Result.Artifacts {
			types = append(types, a.Type)
			if a.Content != out.Result.Transcript {
				t.Errorf("%s: artifact %s content != transcript", tc.stage, a.Type)
			}
		}
		if strings.Join(types, ",") != strings.Join(tc.want, ",") {
			t.Errorf("%s (%s): artifact types = %v, want %v", tc.stage, tc.command, types, tc.want)
		}
	}
}

func TestFailedContractProducesNoArtifacts(t *testing.T) {
	r := NewExecRunner(5000)
	out, err := r.Run(context.Background(), Invocation{
		Stage: stage.RustContract, BeadID: "bead-1", Command: "echo nope; exit 1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Result.Artifacts) != 0 {
		t.Errorf("failed contract stage yielded %v", out.Result.Artifacts)
	}
}

func TestRunTimeout(t *testing.T) {
	r := NewExecRunner(100)
	out, err := r.Run(context.Background(), Invocation{
		Stage: stage.RedQueen, BeadID: "bead-1", Command: "sleep 5",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.TimedOut {
		t.Fatal("deadline must mark the outcome timed out")
	}
	if out.Result.Outcome != stage.OutcomeFailed {
		t.Errorf("timeout outcome = %s, want failed", out.Result.Outcome)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	r := NewExecRunner(1000)
	if _, err := r.Run(context.Background(), Invocation{Stage: stage.Implement}); err == nil {
		t.Fatal("empty command must error")
	}
}

func TestDiagnoseCategories(t *testing.T) {
	cases := []struct {
		name string
		out  Outcome
		want string
	}{
		{"timeout wins", Outcome{TimedOut: true,
			Result: stage.Result{Outcome: stage.OutcomeFailed, Transcript: "--- FAIL: TestX"}}, CategoryTimeout},
		{"compile before test", Outcome{
			Result: stage.Result{Outcome: stage.OutcomeFailed,
				Transcript: "error[E0425]: cannot find value\ntest result: FAILED"}}, CategoryCompileError},
		{"test failure", Outcome{
			Result: stage.Result{Outcome: stage.OutcomeFailed,
				Transcript: "running 8 tests\ntest result: FAILED. 1 failed"}}, CategoryTestFailure},
		{"fallback", Outcome{
			Result: stage.Result{Outcome: stage.OutcomeFailed, Transcript: "something odd"}}, CategoryStageFailure},
	}
	for _, tc := range cases {
		d := Diagnose(tc.out, "bead-9")
		if d == nil {
			t.Fatalf("%s: nil diagnostics", tc.name)
		}
		if d.Category != tc.want {
			t.Errorf("%s: category = %s, want %s", tc.name, d.Category, tc.want)
		}
		if !d.Retryable {
			t.Errorf("%s: must be retryable", tc.name)
		}
		if !strings.Contains(d.NextCommand, "bead-9") {
			t.Errorf("%s: next command = %q", tc.name, d.NextCommand)
		}
	}

	if d := Diagnose(Outcome{Result: stage.Passed()}, "bead-9"); d != nil {
		t.Errorf("passing outcome must not diagnose, got %+v", d)
	}
}

func TestLanderRetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	l := NewLander("test -f " + dir + "/flag || { touch " + dir + "/flag; exit 1; }")
	l.Backoff = 0

	_, attempts, err := l.Land(context.Background())
	if err != nil {
		t.Fatalf("Land: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestLanderExhaustsAttempts(t *testing.T) {
	l := NewLander("exit 1")
	l.MaxAttempts = 2
	l.Backoff = 0
	_, attempts, err := l.Land(context.Background())
	if err == nil {
		t.Fatal("permanent failure must error")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
