package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"swarm/pkg/protocol"
)

// promptTemplate is the canonical agent prompt. {agent_id} is
// substituted per worker; the resume block is appended when the
// worker holds a bead.
const promptTemplate = `You are swarm worker {agent_id}.

Protocol: send one JSON object per line on stdin, read one envelope
per line on stdout. Always pass your id.

Work loop:
  1. {"cmd":"claim-next","agent_id":{agent_id}}
  2. {"cmd":"agent","id":{agent_id}}        # runs the stage pipeline
  3. {"cmd":"heartbeat","agent_id":{agent_id},"bead_id":"<bead>"}  # while working
  4. on conflict or block: {"cmd":"resume-context","bead_id":"<bead>"}

Never fabricate stage results; failures carry feedback you must act
on before retrying. Release with force only when blocked:
{"cmd":"release","agent_id":{agent_id},"force":true}.
`

func renderPrompt(workerID int) string {
	return strings.ReplaceAll(promptTemplate, "{agent_id}", fmt.Sprintf("%d", workerID))
}

func handlePrompt(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	workerID, perr := req.WorkerArg("agent_id", "id")
	if perr != nil {
		return nil, parseErr(perr)
	}

	prompt := renderPrompt(workerID)

	// Append the resume hand-off when the worker was mid-flight.
	rc, err := c.Store.BuildResumeContext(ctx, workerID, 50)
	if err == nil && rc.Bead != nil {
		prompt += fmt.Sprintf("\nResume: you hold bead %s (status %s", rc.Bead.BeadID, rc.Bead.Status)
		if rc.Worker.CurrentStage != nil {
			prompt += ", stage " + *rc.Worker.CurrentStage
		}
		prompt += fmt.Sprintf(", attempt %d).\n", rc.Worker.Attempt)
		if rc.RetryPacket != nil {
			prompt += "A retry packet is stored; fetch it with:\n"
			prompt += fmt.Sprintf(`{"cmd":"artifacts","bead_id":"%s","artifact_type":"retry_packet"}`+"\n", rc.Bead.BeadID)
		}
	}

	return &result{
		data: map[string]any{"agent_id": workerID, "prompt": prompt},
		next: fmt.Sprintf("swarm agent --id %d", workerID),
	}, nil
}

// handleSpawnPrompts materializes one prompt file per worker under
// dir, for tooling that launches agents from disk.
func handleSpawnPrompts(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	dir, perr := req.StringArg("dir")
	if perr != nil {
		return nil, parseErr(perr)
	}
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
		return dryPlan("spawn-prompts",
			step("create %s", dir),
			step("write agent-1.md .. agent-%d.md", count),
		), nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, protocol.Wrap(protocol.KindDependency, err, "create prompt dir %s", dir)
	}
	written := make([]string, 0, count)
	for id := 1; id <= int(count); id++ {
		path := filepath.Join(dir, fmt.Sprintf("agent-%d.md", id))
		if err := os.WriteFile(path, []byte(renderPrompt(id)), 0o644); err != nil {
			return nil, protocol.Wrap(protocol.KindDependency, err, "write %s", path)
		}
		written = append(written, path)
	}
	return &result{
		data:    map[string]any{"dir": dir, "files": written},
		next:    "swarm register",
		changes: map[string]any{"prompts_written": len(written)},
	}, nil
}
