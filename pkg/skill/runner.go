// Package skill executes stage skills: the external commands that do
// the actual contract, implementation, QA, and adversarial work. The
// coordinator only observes their exit status and output; everything
// durable goes through the store.
package skill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"swarm/pkg/protocol"
	"swarm/pkg/stage"
)

// Invocation is one skill run: the shell command after substitution,
// plus its stage coordinates for logging.
type Invocation struct {
	Stage   stage.Stage
	BeadID  string
	AgentID int
	Command string
}

// Outcome is what a runner observed: the process result mapped to a
// stage outcome, the combined transcript, and wall time.
type Outcome struct {
	Result     stage.Result
	DurationMS int64
	TimedOut   bool
}

// Runner executes a skill invocation. Implementations must honor ctx
// cancellation and never panic on command failure.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}

// ExecRunner runs skills through the shell with a per-run timeout.
type ExecRunner struct {
	Shell     string
	TimeoutMS int
}

// NewExecRunner builds a runner with the given skill timeout.
func NewExecRunner(timeoutMS int) *ExecRunner {
	return &ExecRunner{Shell: "/bin/sh", TimeoutMS: timeoutMS}
}

// Substitute expands {bead_id} and {agent_id} placeholders in a
// configured stage command.
func Substitute(command, beadID string, agentID int) string {
	out := strings.ReplaceAll(command, "{bead_id}", beadID)
	out = strings.ReplaceAll(out, "{agent_id}", fmt.Sprintf("%d", agentID))
	return out
}

// Run executes the invocation. Exit zero is a pass; non-zero is a
// fail with the transcript as feedback; a killed deadline is a
// timeout outcome, still a fail for transition purposes.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	if inv.Command == "" {
		return Outcome{}, protocol.New(protocol.KindStage,
			"stage %s has no configured command", inv.Stage)
	}
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if r.TimeoutMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(r.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	var buf bytes.Buffer
	cmd := exec.CommandContext(runCtx, shell, "-c", inv.Command)
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started).Milliseconds()
	transcript := buf.String()

	out := Outcome{DurationMS: elapsed}
	switch {
	case err == nil:
		out.Result = stage.Passed()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.TimedOut = true
		out.Result = stage.Failed(
			fmt.Sprintf("stage %s timed out after %dms", inv.Stage, elapsed))
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.Result = stage.Failed(
				fmt.Sprintf("stage %s exited %d", inv.Stage, exitErr.ExitCode()))
		} else {
			// Command never started; this is an environment error,
			// not a quality failure.
			out.Result = stage.Errored(err.Error())
		}
	}
	out.Result.Transcript = transcript
	out.Result.Artifacts = stageArtifacts(inv.Stage, out.Result)
	return out, nil
}

// stageArtifacts derives each stage's typed outputs from its
// transcript. Skills write to stdout/stderr rather than structured
// files, so the full log stands in as the artifact body.
func stageArtifacts(st stage.Stage, res stage.Result) []stage.Artifact {
	if res.Transcript == "" {
		return nil
	}
	passed := res.Outcome.IsSuccess()
	switch st {
	case stage.RustContract:
		if passed {
			return []stage.Artifact{{Type: "contract_document", Content: res.Transcript}}
		}
	case stage.Implement:
		if passed {
			return []stage.Artifact{{Type: "implementation_code", Content: res.Transcript}}
		}
	case stage.QAEnforcer:
		arts := []stage.Artifact{{Type: "test_output", Content: res.Transcript}}
		if !passed {
			arts = append(arts, stage.Artifact{Type: "failure_details", Content: res.Transcript})
		}
		return arts
	case stage.RedQueen:
		if passed {
			return []stage.Artifact{{Type: "quality_gate_report", Content: res.Transcript}}
		}
		return []stage.Artifact{{Type: "adversarial_report", Content: res.Transcript}}
	}
	return nil
}
