package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"swarm/pkg/protocol"
	"swarm/pkg/skill"
	"swarm/pkg/stage"
	"swarm/pkg/store"
)

// stageReport is one executed stage in a pipeline response.
type stageReport struct {
	Stage      string `json:"stage"`
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"`
	Transition string `json:"transition"`
	DurationMS int64  `json:"duration_ms"`
	Feedback   string `json:"feedback,omitempty"`
	Landed     bool   `json:"landed,omitempty"`
}

// handleAgent drives the full pipeline for one worker: claim (or
// resume the active claim), then execute stages until the bead
// completes, blocks, or landing fails.
func handleAgent(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workerID, perr := req.WorkerArg("agent_id", "id")
	if perr != nil {
		return nil, parseErr(perr)
	}

	if req.Dry {
		return dryPlan("agent",
			step("claim or resume a bead for worker %d", workerID),
			step("run stages %v with retry budget %d", stage.Executable, c.Cfg.MaxAttempts),
			step("land and finalize on red-queen pass"),
		), nil
	}

	beadID, err := c.ensureClaim(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if beadID == "" {
		return &result{
			data: map[string]any{"worker": workerID, "claimed": false},
			next: "swarm status",
		}, nil
	}

	reports, final, err := c.runPipeline(ctx, workerID, beadID)
	if err != nil {
		return nil, err
	}
	return &result{
		data: map[string]any{
			"worker":  workerID,
			"bead_id": beadID,
			"stages":  reports,
			"final":   final,
		},
		next:    nextAfterPipeline(final, beadID),
		changes: map[string]any{"bead": beadID, "final": final, "stages_run": len(reports)},
	}, nil
}

// handleRunOnce executes a single claim-and-one-stage cycle.
func handleRunOnce(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workerID, perr := req.WorkerArg("agent_id", "id")
	if perr != nil {
		return nil, parseErr(perr)
	}

	if req.Dry {
		return dryPlan("run-once",
			step("claim or resume a bead for worker %d", workerID),
			step("execute exactly one stage and apply its transition"),
		), nil
	}

	beadID, err := c.ensureClaim(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if beadID == "" {
		return &result{
			data: map[string]any{"worker": workerID, "claimed": false},
			next: "swarm status",
		}, nil
	}

	st, err := c.workerStage(ctx, workerID)
	if err != nil {
		return nil, err
	}
	rep, tr, err := c.runOneStage(ctx, workerID, beadID, st)
	if err != nil {
		return nil, err
	}
	final := string(tr.Kind)
	return &result{
		data: map[string]any{
			"worker": workerID, "bead_id": beadID, "stage": rep, "final": final,
		},
		next:    nextAfterPipeline(final, beadID),
		changes: map[string]any{"bead": beadID, "stage_run": rep.Stage, "transition": final},
	}, nil
}

// handleSmoke runs a synthetic single-worker end-to-end pass: seed
// one smoke bead, claim it with worker 1, and drive the pipeline.
func handleSmoke(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	if req.Dry {
		return dryPlan("smoke",
			step("seed one synthetic bead"),
			step("register worker 1 and claim the bead"),
			step("drive the pipeline to completion"),
		), nil
	}

	beadID := "smoke-" + uuid.NewString()
	if _, err := c.Store.EnqueueBeads(ctx, []store.BeadInput{{
		BeadID: beadID, Priority: c.Cfg.ClaimLabel, Title: "smoke test bead",
	}}); err != nil {
		return nil, err
	}
	if _, err := c.Store.RegisterWorkers(ctx, 1); err != nil {
		return nil, err
	}
	if _, err := c.Store.Assign(ctx, 1, beadID, c.Cfg.LeaseMS); err != nil {
		return nil, err
	}

	reports, final, err := c.runPipeline(ctx, 1, beadID)
	if err != nil {
		return nil, err
	}
	return &result{
		data: map[string]any{
			"bead_id": beadID, "stages": reports, "final": final,
			"passed": final == string(stage.TransitionComplete),
		},
		next:    "swarm status",
		changes: map[string]any{"smoke_bead": beadID, "final": final},
	}, nil
}

// ensureClaim returns the worker's bead, claiming a new one when
// idle. Empty string means the backlog had nothing to offer.
func (c *Coordinator) ensureClaim(ctx context.Context, workerID int) (string, error) {
	claim, err := c.Store.ActiveClaim(ctx, workerID)
	if err != nil {
		return "", err
	}
	if claim == nil {
		claim, err = c.Store.ClaimNext(ctx, workerID, c.Cfg.ClaimLabel, c.Cfg.LeaseMS)
		if err != nil {
			return "", err
		}
	}
	if claim == nil {
		return "", nil
	}
	return claim.BeadID, nil
}

func (c *Coordinator) workerStage(ctx context.Context, workerID int) (stage.Stage, error) {
	worker, err := c.Store.GetWorker(ctx, workerID)
	if err != nil {
		return "", err
	}
	if worker.CurrentStage == nil {
		return stage.RustContract, nil
	}
	return stage.Parse(*worker.CurrentStage)
}

// runPipeline executes stages until a terminal transition. The
// iteration bound covers every stage at its full retry budget plus
// slack; exceeding it means the machine is looping, which is an
// invariant breach, not a retry.
func (c *Coordinator) runPipeline(ctx context.Context, workerID int, beadID string) ([]stageReport, string, error) {
	budget := len(stage.Executable)*(c.Cfg.MaxAttempts+1) + 2
	var reports []stageReport

	for i := 0; i < budget; i++ {
		st, err := c.workerStage(ctx, workerID)
		if err != nil {
			return nil, "", err
		}
		rep, tr, err := c.runOneStage(ctx, workerID, beadID, st)
		if err != nil {
			return nil, "", err
		}
		reports = append(reports, rep)

		switch tr.Kind {
		case stage.TransitionComplete:
			if !rep.Landed {
				return reports, "landing_failed", nil
			}
			return reports, string(stage.TransitionComplete), nil
		case stage.TransitionBlock, stage.TransitionNoOp:
			return reports, string(tr.Kind), nil
		}
	}
	return nil, "", protocol.New(protocol.KindInternal,
		"pipeline for bead %s exceeded its iteration budget", beadID)
}

// runOneStage executes one stage attempt end to end: history row,
// skill invocation, artifacts, events, transition.
func (c *Coordinator) runOneStage(ctx context.Context, workerID int, beadID string, st stage.Stage) (stageReport, stage.Transition, error) {
	var rep stageReport

	attempt, err := c.Store.StartAttempt(ctx, workerID, beadID, st)
	if err != nil {
		return rep, stage.Transition{}, err
	}
	// Every event this attempt emits is caused by its history row.
	causation := fmt.Sprintf("%d", attempt.ID)
	if _, err := c.Store.AppendEvent(ctx, store.EventInput{
		Type: "stage_started", BeadID: beadID, AgentID: workerID, Stage: st.String(),
		CausationID: causation,
	}); err != nil {
		return rep, stage.Transition{}, err
	}

	command := skill.Substitute(c.Cfg.Stages.Command(st.String()), beadID, workerID)
	out, err := c.Runner.Run(ctx, skill.Invocation{
		Stage: st, BeadID: beadID, AgentID: workerID, Command: command,
	})
	if err != nil {
		return rep, stage.Transition{}, err
	}
	out.Result.Feedback = redactText(out.Result.Feedback)

	if err := c.Store.CompleteAttempt(ctx, attempt.ID, out.Result, out.DurationMS); err != nil {
		return rep, stage.Transition{}, err
	}
	if out.Result.Transcript != "" {
		if _, err := c.Store.StoreArtifact(ctx, attempt.ID, "stage_log", out.Result.Transcript, nil); err != nil {
			return rep, stage.Transition{}, err
		}
	}
	for _, a := range out.Result.Artifacts {
		var meta json.RawMessage
		if a.Metadata != nil {
			meta, _ = json.Marshal(a.Metadata)
		}
		if _, err := c.Store.StoreArtifact(ctx, attempt.ID, a.Type, a.Content, meta); err != nil {
			return rep, stage.Transition{}, err
		}
	}

	diag := skill.Diagnose(out, beadID)
	if _, err := c.Store.AppendEvent(ctx, store.EventInput{
		Type: "stage_completed", BeadID: beadID, AgentID: workerID, Stage: st.String(),
		CausationID: causation,
		Diagnostics: diag,
		Payload: map[string]any{
			"attempt": attempt.AttemptNumber, "outcome": out.Result.Outcome,
			"duration_ms": out.DurationMS,
		},
	}); err != nil {
		return rep, stage.Transition{}, err
	}

	tr := stage.Decide(st, out.Result, attempt.AttemptNumber, c.Cfg.MaxAttempts)

	rep = stageReport{
		Stage:      st.String(),
		Attempt:    attempt.AttemptNumber,
		Outcome:    string(out.Result.Outcome),
		Transition: string(tr.Kind),
		DurationMS: out.DurationMS,
		Feedback:   out.Result.Feedback,
	}

	if tr.Kind == stage.TransitionRetry {
		if err := c.publishRetryPacket(ctx, attempt, out.Result.Feedback, diag); err != nil {
			return rep, tr, err
		}
	}

	if tr.Kind == stage.TransitionComplete {
		landed, err := c.land(ctx, workerID, beadID, attempt.ID)
		if err != nil {
			return rep, tr, err
		}
		rep.Landed = landed
		if !landed {
			// Bead stays in_progress; the worker can retry landing.
			return rep, tr, nil
		}
	}

	if err := c.Store.ApplyTransition(ctx, workerID, beadID, tr, out.Result.Feedback); err != nil {
		return rep, tr, err
	}
	if _, err := c.Store.AppendEvent(ctx, store.EventInput{
		Type: tr.EventType(), BeadID: beadID, AgentID: workerID, Stage: st.String(),
		CausationID: causation,
		Diagnostics: diag,
		Payload:     map[string]any{"attempt": attempt.AttemptNumber, "next": tr.Next},
	}); err != nil {
		return rep, tr, err
	}
	return rep, tr, nil
}

// land runs the landing executor and records the outcome. A failed
// push parks the worker waiting at red-queen with the reason as
// feedback, leaves a failure_details artifact and a retryable
// transition_retry/landing_sync event pair, and never finalizes the
// bead.
func (c *Coordinator) land(ctx context.Context, workerID int, beadID string, attemptID int64) (bool, error) {
	if c.Lander == nil {
		return false, protocol.New(protocol.KindConfig, "no landing executor configured")
	}
	transcript, attempts, err := c.Lander.Land(ctx)
	if err != nil {
		reason := redactText(err.Error())
		details := transcript
		if details == "" {
			details = reason
		}
		if _, aerr := c.Store.StoreArtifact(ctx, attemptID, "failure_details", details, nil); aerr != nil {
			return false, aerr
		}
		if serr := c.Store.MarkLandingRetryable(ctx, workerID, reason); serr != nil {
			return false, serr
		}
		diag := &store.Diagnostics{
			Category:    skill.CategoryLandingFailure,
			Retryable:   true,
			NextCommand: fmt.Sprintf("swarm agent --id %d", workerID),
			Detail:      reason,
		}
		// Causation ids derived from the reason keep a replayed
		// failure from appending the same pair twice.
		if _, _, eerr := c.Store.AppendEventIfAbsent(ctx, store.EventInput{
			Type: "transition_retry", BeadID: beadID, AgentID: workerID,
			Stage:       stage.RedQueen.String(),
			CausationID: landingCausation("landing-retry", reason),
			Diagnostics: diag,
			Payload:     map[string]any{"transition": "retry", "next": stage.RedQueen},
		}); eerr != nil {
			return false, eerr
		}
		if _, _, eerr := c.Store.AppendEventIfAbsent(ctx, store.EventInput{
			Type: "landing_sync", BeadID: beadID, AgentID: workerID,
			CausationID: landingCausation("landing-sync:retry_scheduled", reason),
			Diagnostics: diag,
			Payload:     map[string]any{"push": false, "attempts": attempts},
		}); eerr != nil {
			return false, eerr
		}
		c.Log.Warn("landing failed", "bead", beadID, "attempts", attempts, "err", err)
		return false, nil
	}

	if _, err := c.Store.AppendEvent(ctx, store.EventInput{
		Type: "landing_sync", BeadID: beadID, AgentID: workerID,
		Payload: map[string]any{"push": true, "attempts": attempts},
	}); err != nil {
		return false, err
	}
	return true, nil
}

// publishRetryPacket stores the self-sufficient retry context for
// the next attempt: the verifier's feedback, the remaining budget,
// the failure classification, and references to the key artifacts
// with explicit missing markers.
func (c *Coordinator) publishRetryPacket(ctx context.Context, attempt *store.Attempt, feedback string, diag *store.Diagnostics) error {
	refs := make([]map[string]any, 0, 3)
	for _, t := range []string{"contract_document", "implementation_code", "test_output"} {
		latest, err := c.Store.LatestArtifact(ctx, attempt.BeadID, t)
		if err != nil {
			return err
		}
		if latest == nil {
			refs = append(refs, map[string]any{"type": t, "missing": true})
			continue
		}
		refs = append(refs, map[string]any{
			"type": t, "artifact_id": latest.ArtifactID, "content_hash": latest.ContentHash,
		})
	}
	remaining := c.Cfg.MaxAttempts - attempt.AttemptNumber
	if remaining < 0 {
		remaining = 0
	}
	fields := map[string]any{
		"bead_id":            attempt.BeadID,
		"agent_id":           attempt.AgentID,
		"failed_stage":       attempt.Stage,
		"attempt":            attempt.AttemptNumber,
		"max_attempts":       c.Cfg.MaxAttempts,
		"remaining_attempts": remaining,
		"feedback":           feedback,
		"artifact_refs":      refs,
	}
	if diag != nil {
		fields["failure_category"] = diag.Category
		fields["retryable"] = diag.Retryable
		fields["next_command"] = diag.NextCommand
	}
	packet, err := json.Marshal(fields)
	if err != nil {
		return protocol.Wrap(protocol.KindSerialization, err, "encode retry packet")
	}
	var meta json.RawMessage
	if diag != nil {
		meta, _ = json.Marshal(map[string]any{
			"stage": attempt.Stage, "attempt": attempt.AttemptNumber,
			"failure_category": diag.Category,
		})
	}
	_, err = c.Store.StoreArtifact(ctx, attempt.ID, "retry_packet", string(packet), meta)
	return err
}

// landingCausation builds a deterministic causation id from a
// failure reason, so repeated failures with the same reason collapse
// onto one event.
func landingCausation(prefix, reason string) string {
	slug := strings.Join(strings.Fields(strings.ToLower(reason)), "-")
	return prefix + ":" + slug
}

func nextAfterPipeline(final, beadID string) string {
	switch final {
	case string(stage.TransitionComplete):
		return "swarm status"
	case string(stage.TransitionBlock):
		return fmt.Sprintf("swarm resume-context --bead-id %s", beadID)
	case "landing_failed":
		return fmt.Sprintf("swarm artifacts --bead-id %s --type failure_details", beadID)
	default:
		return "swarm monitor --view active"
	}
}
