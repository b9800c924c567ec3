package runtime

import (
	"context"
	"fmt"

	"swarm/pkg/eventlog"
	"swarm/pkg/protocol"
	"swarm/pkg/stage"
	"swarm/pkg/store"
)

// handlers is the closed dispatch table. Aliases share one handler.
var handlers = map[string]handlerFunc{
	"doctor":         handleDoctor,
	"help":           handleHelp,
	"?":              handleHelp,
	"status":         handleStatus,
	"state":          handleState,
	"init":           handleInit,
	"init-db":        handleInit,
	"init-local-db":  handleInit,
	"bootstrap":      handleInit,
	"register":       handleRegister,
	"next":           handleNext,
	"claim-next":     handleClaimNext,
	"assign":         handleAssign,
	"release":        handleRelease,
	"heartbeat":      handleHeartbeat,
	"agent":          handleAgent,
	"run-once":       handleRunOnce,
	"smoke":          handleSmoke,
	"monitor":        handleMonitor,
	"history":        handleHistory,
	"artifacts":      handleArtifacts,
	"resume":         handleResume,
	"resume-context": handleResumeContext,
	"qa":             handleQA,
	"lock":           handleLock,
	"unlock":         handleUnlock,
	"broadcast":      handleBroadcast,
	"agents":         handleAgents,
	"prompt":         handlePrompt,
	"spawn-prompts":  handleSpawnPrompts,
	"load-profile":   handleLoadProfile,
}

// handleBatch calls back into dispatch, so naming it in the handlers
// literal would make the table's initializer depend on itself.
func init() {
	handlers["batch"] = handleBatch
}

func handleHelp(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	return &result{
		data: map[string]any{
			"commands":    CommandNames(),
			"error_codes": protocol.ErrorCodes,
			"examples": []string{
				`{"cmd":"claim-next","agent_id":1}`,
				`{"cmd":"history","bead_id":"b1","limit":50}`,
				`{"cmd":"batch","ops":[{"cmd":"status"},{"cmd":"agents"}]}`,
			},
		},
		next: "swarm status",
	}, nil
}

func handleStatus(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	agents, err := c.Store.WorkerCounts(ctx)
	if err != nil {
		return nil, err
	}
	beads, err := c.Store.BacklogCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &result{
		data: map[string]any{"agents": agents, "beads": beads},
		next: "swarm agents",
	}, nil
}

func handleState(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	cfg, err := c.Store.LoadSwarmConfig(ctx)
	if err != nil {
		return nil, err
	}
	workers, err := c.Store.ActiveWorkers(ctx)
	if err != nil {
		return nil, err
	}
	beads, err := c.Store.BacklogCounts(ctx)
	if err != nil {
		return nil, err
	}
	locks, err := c.Store.ListLocks(ctx)
	if err != nil {
		return nil, err
	}
	audit, err := c.Store.RecentAudit(ctx, 20)
	if err != nil {
		return nil, err
	}
	return &result{
		data: map[string]any{
			"config":       cfg,
			"workers":      workers,
			"beads":        beads,
			"locks":        locks,
			"recent_audit": audit,
		},
		next: "swarm monitor --view active",
	}, nil
}

func handleInit(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	seed, ok, perr := req.OptionalIntArg("seed_agents")
	if perr != nil {
		return nil, parseErr(perr)
	}
	if ok && seed < 0 {
		return nil, parseErr(protocol.InvalidValue("seed_agents", "must be >= 0"))
	}
	if !ok {
		seed = int64(c.Cfg.MaxAgents)
	}
	maxAgents, _, perr := req.OptionalIntArg("max_agents")
	if perr != nil {
		return nil, parseErr(perr)
	}
	maxAttempts, _, perr := req.OptionalIntArg("max_attempts")
	if perr != nil {
		return nil, parseErr(perr)
	}
	claimLabel, perr := req.OptionalStringArg("claim_label")
	if perr != nil {
		return nil, parseErr(perr)
	}

	if req.Dry {
		return dryPlan("init",
			step("apply schema and read views"),
			step("seed %d worker rows", seed),
			step("mark the swarm running"),
		), nil
	}

	if err := c.Store.InitSchema(ctx); err != nil {
		return nil, err
	}
	if maxAgents > 0 || maxAttempts > 0 || claimLabel != "" {
		if err := c.Store.UpdateLimits(ctx, int(maxAgents), int(maxAttempts), claimLabel); err != nil {
			return nil, err
		}
	}
	created := 0
	if seed > 0 {
		var err error
		created, err = c.Store.RegisterWorkers(ctx, int(seed))
		if err != nil {
			return nil, err
		}
	}
	if err := c.Store.SetSwarmStatus(ctx, "running"); err != nil {
		return nil, err
	}
	return &result{
		data:    map[string]any{"schema": "applied", "workers_created": created},
		next:    "swarm register",
		changes: map[string]any{"schema": "applied", "workers_created": created},
	}, nil
}

func handleRegister(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	count, ok, perr := req.OptionalIntArg("count")
	if perr != nil {
		return nil, parseErr(perr)
	}
	if !ok {
		count = int64(c.Cfg.MaxAgents)
	}
	if count < 1 {
		return nil, parseErr(protocol.InvalidValue("count", "must be >= 1"))
	}

	if req.Dry {
		return dryPlan("register", step("ensure worker rows 1..%d exist", count)), nil
	}

	created, err := c.Store.RegisterWorkers(ctx, int(count))
	if err != nil {
		return nil, err
	}
	return &result{
		data:    map[string]any{"requested": count, "created": created},
		next:    "swarm claim-next --agent-id 1",
		changes: map[string]any{"workers_created": created},
	}, nil
}

func handleNext(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	label, perr := req.OptionalStringArg("label")
	if perr != nil {
		return nil, parseErr(perr)
	}
	if label == "" {
		label = c.Cfg.ClaimLabel
	}
	bead, err := c.Store.NextRecommendation(ctx, label)
	if err != nil {
		return nil, err
	}
	if bead == nil {
		return &result{
			data: map[string]any{"bead": nil, "label": label},
			next: "swarm status",
		}, nil
	}
	return &result{
		data: map[string]any{"bead": bead, "label": label},
		next: fmt.Sprintf("swarm assign --bead-id %s", bead.BeadID),
	}, nil
}

func handleClaimNext(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workerID, perr := req.WorkerArg("agent_id", "id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	label, perr := req.OptionalStringArg("label")
	if perr != nil {
		return nil, parseErr(perr)
	}
	if label == "" {
		label = c.Cfg.ClaimLabel
	}
	leaseMS, perr := leaseArg(req, c)
	if perr != nil {
		return nil, parseErr(perr)
	}

	if req.Dry {
		return dryPlan("claim-next",
			step("recover expired leases"),
			step("select oldest pending %s bead with skip-locked", label),
			step("claim it for worker %d with a %dms lease", workerID, leaseMS),
		), nil
	}

	claim, err := c.Store.ClaimNext(ctx, workerID, label, leaseMS)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return &result{
			data: map[string]any{"claimed": false, "label": label},
			next: "swarm status",
		}, nil
	}
	return &result{
		data: map[string]any{
			"claimed":          true,
			"bead_id":          claim.BeadID,
			"claim":            claim,
			"lease_expires_at": claim.LeaseExpiresAt,
		},
		next:    fmt.Sprintf("swarm agent --id %d", workerID),
		changes: map[string]any{"claimed_bead": claim.BeadID, "worker": workerID},
	}, nil
}

func handleAssign(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workerID, perr := req.WorkerArg("agent_id", "id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	beadID, perr := req.BeadIDArg("bead_id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	leaseMS, perr := leaseArg(req, c)
	if perr != nil {
		return nil, parseErr(perr)
	}

	if req.Dry {
		return dryPlan("assign",
			step("verify bead %s is pending", beadID),
			step("claim it for worker %d with a %dms lease", workerID, leaseMS),
		), nil
	}

	claim, err := c.Store.Assign(ctx, workerID, beadID, leaseMS)
	if err != nil {
		return nil, err
	}
	return &result{
		data:    map[string]any{"claim": claim},
		next:    fmt.Sprintf("swarm agent --id %d", workerID),
		changes: map[string]any{"claimed_bead": beadID, "worker": workerID},
	}, nil
}

func handleRelease(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workerID, perr := req.WorkerArg("agent_id", "id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	force := false
	if raw, ok := req.Args["force"]; ok {
		b, isBool := raw.(bool)
		if !isBool {
			return nil, parseErr(protocol.InvalidType("force", "bool", "other"))
		}
		force = b
	}

	if req.Dry {
		return dryPlan("release",
			step("find worker %d's active claim", workerID),
			step("release it (force=%v) and reset the worker", force),
		), nil
	}

	beadID, err := c.Store.Release(ctx, workerID, force)
	if err != nil {
		return nil, err
	}
	return &result{
		data:    map[string]any{"released": beadID, "forced": force},
		next:    "swarm status",
		changes: map[string]any{"released_bead": beadID, "worker": workerID},
	}, nil
}

func handleHeartbeat(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workerID, perr := req.WorkerArg("agent_id", "id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	beadID, perr := req.BeadIDArg("bead_id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	extendMS, ok, perr := req.OptionalIntArg("extend_ms")
	if perr != nil {
		return nil, parseErr(perr)
	}
	if !ok {
		extendMS = int64(c.Cfg.LeaseMS)
	}
	if extendMS < 1 {
		return nil, parseErr(protocol.InvalidValue("extend_ms", "must be >= 1"))
	}

	if req.Dry {
		return dryPlan("heartbeat",
			step("extend worker %d's lease on %s by %dms", workerID, beadID, extendMS),
		), nil
	}

	expires, err := c.Store.Heartbeat(ctx, workerID, beadID, int(extendMS))
	if err != nil {
		return nil, err
	}
	return &result{
		data:    map[string]any{"lease_expires_at": expires},
		next:    fmt.Sprintf("swarm agent --id %d", workerID),
		changes: map[string]any{"heartbeat_bead": beadID, "worker": workerID},
	}, nil
}

func handleMonitor(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	view, perr := req.OptionalStringArg("view")
	if perr != nil {
		return nil, parseErr(perr)
	}
	if view == "" {
		view = "active"
	}
	limit, perr := req.LimitArg("limit", 100)
	if perr != nil {
		return nil, parseErr(perr)
	}

	switch view {
	case "active":
		workers, err := c.Store.ActiveWorkers(ctx)
		if err != nil {
			return nil, err
		}
		return &result{data: map[string]any{"view": view, "workers": workers}, next: "swarm status"}, nil
	case "progress":
		beads, err := c.Store.BacklogCounts(ctx)
		if err != nil {
			return nil, err
		}
		return &result{data: map[string]any{"view": view, "beads": beads}, next: "swarm status"}, nil
	case "failures":
		events, err := c.Events.Query(ctx, eventlog.QueryOpts{
			EventType: "transition_blocked", Limit: int(limit),
		})
		if err != nil {
			return nil, err
		}
		return &result{data: map[string]any{"view": view, "events": events}, next: "swarm resume"}, nil
	case "messages":
		msgs, err := c.Store.UnreadMessages(ctx, 0, int(limit))
		if err != nil {
			return nil, err
		}
		return &result{data: map[string]any{"view": view, "messages": msgs}, next: "swarm status"}, nil
	default:
		return nil, parseErr(protocol.InvalidValue("view",
			"must be one of active, progress, failures, messages"))
	}
}

func handleHistory(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	beadID, perr := req.OptionalStringArg("bead_id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	eventType, perr := req.OptionalStringArg("event_type")
	if perr != nil {
		return nil, parseErr(perr)
	}
	limit, perr := req.LimitArg("limit", eventlog.DefaultLimit)
	if perr != nil {
		return nil, parseErr(perr)
	}
	sinceSeq, _, perr := req.OptionalIntArg("since_seq")
	if perr != nil {
		return nil, parseErr(perr)
	}

	if limit == 0 {
		return &result{data: map[string]any{"events": []store.Event{}}, next: "swarm status"}, nil
	}

	events, err := c.Events.Query(ctx, eventlog.QueryOpts{
		BeadID:    beadID,
		EventType: eventType,
		SinceSeq:  sinceSeq,
		Limit:     int(limit),
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []store.Event{}
	}
	return &result{
		data: map[string]any{"events": events, "count": len(events)},
		next: "swarm status",
	}, nil
}

func handleArtifacts(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	beadID, perr := req.BeadIDArg("bead_id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	artifactType, perr := req.OptionalStringArg("artifact_type")
	if perr != nil {
		return nil, parseErr(perr)
	}
	limit, perr := req.LimitArg("limit", 100)
	if perr != nil {
		return nil, parseErr(perr)
	}

	artifacts, err := c.Store.ListArtifacts(ctx, beadID, artifactType, int(limit))
	if err != nil {
		return nil, err
	}
	if artifacts == nil {
		artifacts = []store.BeadArtifact{}
	}
	return &result{
		data: map[string]any{"bead_id": beadID, "artifacts": artifacts},
		next: fmt.Sprintf("swarm resume-context --bead-id %s", beadID),
	}, nil
}

func handleResume(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workers, err := c.Store.Resumable(ctx)
	if err != nil {
		return nil, err
	}
	if workers == nil {
		workers = []store.Worker{}
	}
	next := "swarm status"
	if len(workers) > 0 && workers[0].BeadID != nil {
		next = fmt.Sprintf("swarm resume-context --bead-id %s", *workers[0].BeadID)
	}
	return &result{
		data: map[string]any{"resumable": workers},
		next: next,
	}, nil
}

func handleQA(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	checks := []map[string]any{}
	ok := true

	schema, err := c.Store.SchemaPresent(ctx)
	checks = append(checks, check("schema_present", err == nil && schema, errMsg(err)))
	ok = ok && err == nil && schema

	// Invariant: every working worker must hold a live claim.
	workers, err := c.Store.ActiveWorkers(ctx)
	if err != nil {
		checks = append(checks, check("workers_consistent", false, err.Error()))
		ok = false
	} else {
		orphans := 0
		for _, w := range workers {
			if w.Status == "working" && (w.BeadID == nil || w.LeaseExpiresAt == nil) {
				orphans++
			}
		}
		checks = append(checks, check("workers_consistent", orphans == 0,
			fmt.Sprintf("%d working workers without a live claim", orphans)))
		ok = ok && orphans == 0
	}

	return &result{
		data: map[string]any{"ok": ok, "checks": checks},
		next: "swarm doctor",
	}, nil
}

func handleLock(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	resource, perr := req.StringArg("resource")
	if perr != nil {
		return nil, parseErr(perr)
	}
	holder, perr := req.StringArg("holder")
	if perr != nil {
		return nil, parseErr(perr)
	}
	ttlMS, ok, perr := req.OptionalIntArg("ttl_ms")
	if perr != nil {
		return nil, parseErr(perr)
	}
	if !ok {
		ttlMS = 60000
	}

	if req.Dry {
		return dryPlan("lock",
			step("sweep expired locks"),
			step("acquire %s for %s with %dms ttl", resource, holder, ttlMS),
		), nil
	}

	lock, err := c.Store.AcquireLock(ctx, resource, holder, int(ttlMS))
	if err != nil {
		return nil, err
	}
	return &result{
		data:    map[string]any{"lock": lock},
		next:    fmt.Sprintf(`swarm unlock --resource %s --holder %s`, resource, holder),
		changes: map[string]any{"locked": resource},
	}, nil
}

func handleUnlock(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	resource, perr := req.StringArg("resource")
	if perr != nil {
		return nil, parseErr(perr)
	}
	holder, perr := req.StringArg("holder")
	if perr != nil {
		return nil, parseErr(perr)
	}

	if req.Dry {
		return dryPlan("unlock", step("release %s if held by %s", resource, holder)), nil
	}

	released, err := c.Store.ReleaseLock(ctx, resource, holder)
	if err != nil {
		return nil, err
	}
	return &result{
		data:    map[string]any{"released": released},
		next:    "swarm state",
		changes: map[string]any{"unlocked": resource},
	}, nil
}

func handleBroadcast(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	from, perr := req.WorkerArg("from")
	if perr != nil {
		return nil, parseErr(perr)
	}
	subject, perr := req.StringArg("subject")
	if perr != nil {
		return nil, parseErr(perr)
	}
	body, perr := req.OptionalStringArg("body")
	if perr != nil {
		return nil, parseErr(perr)
	}
	msgType, perr := req.OptionalStringArg("message_type")
	if perr != nil {
		return nil, parseErr(perr)
	}
	if msgType == "" {
		msgType = "broadcast"
	}
	beadID, perr := req.OptionalStringArg("bead_id")
	if perr != nil {
		return nil, parseErr(perr)
	}

	if req.Dry {
		return dryPlan("broadcast",
			step("record broadcast message from worker %d", from),
			step("sweep locks held by worker %d", from),
		), nil
	}

	id, err := c.Store.SendMessage(ctx, from, 0, beadID, msgType, subject, body, nil)
	if err != nil {
		return nil, err
	}
	// A broadcast usually precedes teardown; drop this worker's locks
	// so nothing stays wedged behind it.
	swept, err := c.Store.ReleaseHolderLocks(ctx, fmt.Sprintf("agent-%d", from))
	if err != nil {
		return nil, err
	}
	return &result{
		data:    map[string]any{"message_id": id, "locks_swept": swept},
		next:    "swarm monitor --view messages",
		changes: map[string]any{"broadcast_id": id, "locks_swept": swept},
	}, nil
}

func handleAgents(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workers, err := c.Store.ActiveWorkers(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := c.Store.WorkerCounts(ctx)
	if err != nil {
		return nil, err
	}
	if workers == nil {
		workers = []store.ActiveWorker{}
	}
	return &result{
		data: map[string]any{"active": workers, "counts": counts},
		next: "swarm monitor --view active",
	}, nil
}

// handleResumeContext builds the deep per-bead projection defined
// for crash hand-off: identity, timeline, the newest artifact of
// each key type, worker feedback, and the derived next stage.
func handleResumeContext(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	beadID, perr := req.BeadIDArg("bead_id")
	if perr != nil {
		return nil, parseErr(perr)
	}
	limit, perr := req.LimitArg("limit", 100)
	if perr != nil {
		return nil, parseErr(perr)
	}

	bead, err := c.Store.GetBead(ctx, beadID)
	if err != nil {
		return nil, err
	}
	timeline, err := c.Store.History(ctx, beadID, int(limit))
	if err != nil {
		return nil, err
	}

	nextStage, err := c.deriveNextStage(ctx, beadID)
	if err != nil {
		return nil, err
	}

	contract, err := c.Store.LatestArtifact(ctx, beadID, "contract_document")
	if err != nil {
		return nil, err
	}
	implementation, err := c.Store.LatestArtifact(ctx, beadID, "implementation_code")
	if err != nil {
		return nil, err
	}
	failure, err := c.Store.LatestArtifact(ctx, beadID, "failure_details")
	if err != nil {
		return nil, err
	}

	// Stages past the contract need the contract document to be
	// self-sufficient; its absence is a broken prerequisite, not a
	// missing row.
	if nextStage != stage.RustContract && nextStage != stage.Done && contract == nil {
		return nil, protocol.New(protocol.KindSerialization,
			"bead %s has no contract_document artifact; rerun rust-contract first", beadID)
	}

	feedback := ""
	workers, err := c.Store.ActiveWorkers(ctx)
	if err != nil {
		return nil, err
	}
	nextCommand := "swarm claim-next --agent-id 1"
	for _, w := range workers {
		if w.BeadID != nil && *w.BeadID == beadID {
			if w.Feedback != nil {
				feedback = *w.Feedback
			}
			nextCommand = fmt.Sprintf("swarm agent --id %d", w.AgentID)
			break
		}
	}
	if nextStage == stage.Done {
		nextCommand = "swarm status"
	}

	payload := map[string]any{
		"bead_id":      bead.BeadID,
		"status":       bead.Status,
		"timeline":     timelineOf(timeline),
		"next_stage":   nextStage.String(),
		"next_command": nextCommand,
		"feedback":     feedback,
	}
	if contract != nil {
		payload["latest_contract"] = contract
	}
	if implementation != nil {
		payload["latest_implementation"] = implementation
	}
	if failure != nil {
		payload["latest_failure"] = failure
	}

	return &result{data: payload, next: nextCommand}, nil
}

// deriveNextStage replays the stage machine over recorded attempts:
// the first executable stage whose latest attempt is not a pass is
// where work resumes, honoring the retry loop-back.
func (c *Coordinator) deriveNextStage(ctx context.Context, beadID string) (stage.Stage, error) {
	for _, st := range stage.Executable {
		latest, err := c.Store.LatestAttempt(ctx, beadID, st)
		if err != nil {
			return "", err
		}
		if latest == nil || latest.Status == string(stage.OutcomeStarted) {
			return st, nil
		}
		if latest.Status == string(stage.OutcomePassed) {
			continue
		}
		// Latest attempt failed: resume at the retry target.
		count, err := c.Store.AttemptCount(ctx, beadID, st)
		if err != nil {
			return "", err
		}
		tr := stage.Decide(st, stage.Failed(""), count, c.Cfg.MaxAttempts)
		if tr.Kind == stage.TransitionRetry {
			return tr.Next, nil
		}
		return st, nil
	}
	return stage.Done, nil
}

type timelineEntry struct {
	Stage       string  `json:"stage"`
	Attempt     int     `json:"attempt"`
	Outcome     string  `json:"outcome"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

func timelineOf(attempts []store.Attempt) []timelineEntry {
	out := make([]timelineEntry, 0, len(attempts))
	for _, a := range attempts {
		e := timelineEntry{
			Stage:     a.Stage,
			Attempt:   a.AttemptNumber,
			Outcome:   a.Status,
			StartedAt: a.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}
		if a.CompletedAt != nil {
			s := a.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
			e.CompletedAt = &s
		}
		out = append(out, e)
	}
	return out
}

// leaseArg reads an optional lease_ms argument, defaulting to the
// configured lease.
func leaseArg(req *protocol.Request, c *Coordinator) (int, *protocol.ParseError) {
	leaseMS, ok, perr := req.OptionalIntArg("lease_ms")
	if perr != nil {
		return 0, perr
	}
	if !ok {
		return c.Cfg.LeaseMS, nil
	}
	if leaseMS < 1 {
		return 0, protocol.InvalidValue("lease_ms", "must be >= 1")
	}
	return int(leaseMS), nil
}

// dryPlan builds the uniform dry-run payload: ordered steps, zero
// mutations.
func dryPlan(cmd string, steps ...string) *result {
	return &result{
		data: map[string]any{
			"dry":  true,
			"plan": map[string]any{"cmd": cmd, "steps": steps},
		},
		next: "rerun without dry to execute",
	}
}

func step(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func check(name string, ok bool, msg string) map[string]any {
	if ok {
		msg = "ok"
	}
	return map[string]any{"name": name, "ok": ok, "msg": msg}
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
