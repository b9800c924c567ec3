package store

import (
	"context"
	"time"
)

// FailedFeedback is the newest failure feedback per (bead, stage),
// from v_failed_feedback.
type FailedFeedback struct {
	BeadID        string     `json:"bead_id"`
	Stage         string     `json:"stage"`
	AttemptNumber int        `json:"attempt_number"`
	Feedback      *string    `json:"feedback,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ResumeContext reconstructs everything a restarted worker needs to
// continue: its state row, claim, bead, stage timeline position, and
// the newest retry packet if one was published.
type ResumeContext struct {
	Worker       *Worker          `json:"worker"`
	Claim        *Claim           `json:"claim,omitempty"`
	Bead         *Bead            `json:"bead,omitempty"`
	AttemptCount int              `json:"attempt_count"`
	History      []Attempt        `json:"history,omitempty"`
	Feedback     []FailedFeedback `json:"failed_feedback,omitempty"`
	RetryPacket  *BeadArtifact    `json:"retry_packet,omitempty"`
}

// Resumable lists the workers that were mid-flight: holding a bead
// in working, waiting, or error state.
func (d *DB) Resumable(ctx context.Context) ([]Worker, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT a.agent_id, a.bead_id, a.current_stage, a.stage_started_at,
		        a.status, a.implementation_attempt, a.feedback, a.last_update
		 FROM agent_state a
		 JOIN v_resumable r ON r.agent_id = a.agent_id
		 ORDER BY a.agent_id`)
	if err != nil {
		return nil, storeErr(err, "list resumable workers")
	}
	defer rows.Close()

	var out []Worker
	for rows.Next() {
		var w Worker
		if err := rows.Scan(&w.AgentID, &w.BeadID, &w.CurrentStage, &w.StageStartedAt,
			&w.Status, &w.Attempt, &w.Feedback, &w.LastUpdate); err != nil {
			return nil, storeErr(err, "scan resumable worker")
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate resumable workers")
	}
	return out, nil
}

// BuildResumeContext assembles the full projection for one worker.
// A worker with no bead yields a context with only the worker row.
func (d *DB) BuildResumeContext(ctx context.Context, workerID, historyLimit int) (*ResumeContext, error) {
	worker, err := d.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	rc := &ResumeContext{Worker: worker}
	if worker.BeadID == nil {
		return rc, nil
	}
	beadID := *worker.BeadID

	if rc.Claim, err = d.ActiveClaim(ctx, workerID); err != nil {
		return nil, err
	}
	if rc.Bead, err = d.GetBead(ctx, beadID); err != nil {
		return nil, err
	}
	if rc.History, err = d.History(ctx, beadID, historyLimit); err != nil {
		return nil, err
	}
	rc.AttemptCount = len(rc.History)
	if rc.Feedback, err = d.failedFeedback(ctx, beadID); err != nil {
		return nil, err
	}
	if rc.RetryPacket, err = d.LatestArtifact(ctx, beadID, "retry_packet"); err != nil {
		return nil, err
	}
	return rc, nil
}

func (d *DB) failedFeedback(ctx context.Context, beadID string) ([]FailedFeedback, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT bead_id, stage, attempt_number, feedback, completed_at
		 FROM v_failed_feedback
		 WHERE bead_id = $1
		 ORDER BY stage`, beadID)
	if err != nil {
		return nil, storeErr(err, "load failure feedback")
	}
	defer rows.Close()

	var out []FailedFeedback
	for rows.Next() {
		var f FailedFeedback
		if err := rows.Scan(&f.BeadID, &f.Stage, &f.AttemptNumber, &f.Feedback, &f.CompletedAt); err != nil {
			return nil, storeErr(err, "scan failure feedback")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate failure feedback")
	}
	return out, nil
}
