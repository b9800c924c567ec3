package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"swarm/pkg/protocol"
	"swarm/pkg/stage"
)

// Attempt is one row of stage_history: a single execution of a stage
// skill against a bead.
type Attempt struct {
	ID            int64      `json:"id"`
	AgentID       int        `json:"agent_id"`
	BeadID        string     `json:"bead_id"`
	Stage         string     `json:"stage"`
	AttemptNumber int        `json:"attempt_number"`
	Status        string     `json:"status"`
	Result        *string    `json:"result,omitempty"`
	Feedback      *string    `json:"feedback,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMS    *int64     `json:"duration_ms,omitempty"`
}

const attemptColumns = `id, agent_id, bead_id, stage, attempt_number, status,
	result, feedback, started_at, completed_at, duration_ms`

func scanAttempt(sc interface{ Scan(dest ...any) error }) (*Attempt, error) {
	var a Attempt
	err := sc.Scan(&a.ID, &a.AgentID, &a.BeadID, &a.Stage, &a.AttemptNumber,
		&a.Status, &a.Result, &a.Feedback, &a.StartedAt, &a.CompletedAt, &a.DurationMS)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// StartAttempt opens the next attempt of a stage for a bead. Attempt
// numbers are dense per (bead, stage) starting at 1; the worker's
// stage pointer and clock are refreshed in the same transaction. The
// caller must hold a live claim on the bead.
func (d *DB) StartAttempt(ctx context.Context, workerID int, beadID string, st stage.Stage) (*Attempt, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if st.IsTerminal() {
		return nil, protocol.New(protocol.KindStage, "stage %s is terminal, nothing to run", st)
	}

	var attempt *Attempt
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireLiveClaim(ctx, tx, workerID, beadID); err != nil {
			return err
		}

		var err error
		attempt, err = scanAttempt(tx.QueryRowContext(ctx,
			`INSERT INTO stage_history (agent_id, bead_id, stage, attempt_number, status)
			 SELECT $1, $2, $3, COALESCE(MAX(attempt_number), 0) + 1, 'started'
			 FROM stage_history
			 WHERE bead_id = $2 AND stage = $3
			 RETURNING `+attemptColumns, workerID, beadID, st.String()))
		if err != nil {
			return storeErr(err, "open stage attempt")
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_state
			 SET current_stage = $2, stage_started_at = NOW(), status = 'working',
			     last_update = NOW()
			 WHERE agent_id = $1`, workerID, st.String()); err != nil {
			return storeErr(err, "point worker at stage")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// CompleteAttempt closes an open attempt with its outcome, feedback,
// transcript, and wall time. Closing an already-closed attempt is a
// conflict.
func (d *DB) CompleteAttempt(ctx context.Context, attemptID int64, res stage.Result, durationMS int64) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if res.Outcome == stage.OutcomeStarted {
		return protocol.New(protocol.KindStage, "attempt %d cannot complete as started", attemptID)
	}
	if durationMS < 0 {
		durationMS = 0
	}

	tag, err := d.db.ExecContext(ctx,
		`UPDATE stage_history
		 SET status = $2, result = $3, feedback = NULLIF($4, ''),
		     transcript = NULLIF($5, ''), completed_at = NOW(), duration_ms = $6
		 WHERE id = $1 AND status = 'started'`,
		attemptID, string(res.Outcome), string(res.Outcome), res.Feedback, res.Transcript, durationMS)
	if err != nil {
		return storeErr(err, "close stage attempt")
	}
	n, err := tag.RowsAffected()
	if err != nil {
		return storeErr(err, "close stage attempt")
	}
	if n == 0 {
		return protocol.New(protocol.KindStage, "attempt %d is not open", attemptID)
	}
	return nil
}

// AttemptCount returns how many attempts of a stage have run for a
// bead, open or closed.
func (d *DB) AttemptCount(ctx context.Context, beadID string, st stage.Stage) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stage_history WHERE bead_id = $1 AND stage = $2`,
		beadID, st.String()).Scan(&n)
	if err != nil {
		return 0, storeErr(err, "count attempts")
	}
	return n, nil
}

// ApplyTransition moves durable state per a decided transition, all
// in one transaction so readers never see a half-applied move.
//
//   - advance: worker to the next stage, retry counter and feedback
//     cleared
//   - retry: worker parked waiting at the retry stage, counter
//     bumped, feedback recorded
//   - block: claim and bead blocked, worker parked in error with the
//     feedback
//   - complete: bead done and landed, claim completed, worker idle
//   - noop: nothing
func (d *DB) ApplyTransition(ctx context.Context, workerID int, beadID string, tr stage.Transition, feedback string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	return d.withTx(ctx, func(tx *sql.Tx) error {
		switch tr.Kind {
		case stage.TransitionNoOp:
			return nil

		case stage.TransitionAdvance:
			if err := requireLiveClaim(ctx, tx, workerID, beadID); err != nil {
				return err
			}
			// The attempt counter and feedback survive an advance; they
			// reset only when a claim is acquired or the bead completes.
			_, err := tx.ExecContext(ctx,
				`UPDATE agent_state
				 SET current_stage = $2, stage_started_at = NOW(), status = 'working',
				     last_update = NOW()
				 WHERE agent_id = $1`, workerID, tr.Next.String())
			if err != nil {
				return storeErr(err, "advance worker")
			}
			return nil

		case stage.TransitionRetry:
			if err := requireLiveClaim(ctx, tx, workerID, beadID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE agent_state
				 SET current_stage = $2,
				     implementation_attempt = implementation_attempt + 1,
				     feedback = NULLIF($3, ''), stage_started_at = NOW(),
				     status = 'waiting', last_update = NOW()
				 WHERE agent_id = $1`, workerID, tr.Next.String(), feedback)
			if err != nil {
				return storeErr(err, "record retry")
			}
			return nil

		case stage.TransitionBlock:
			if _, err := tx.ExecContext(ctx,
				`UPDATE bead_claims SET status = 'blocked'
				 WHERE bead_id = $1 AND claimed_by = $2 AND status = 'in_progress'`,
				beadID, workerID); err != nil {
				return storeErr(err, "block claim")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE bead_backlog SET status = 'blocked' WHERE bead_id = $1`, beadID); err != nil {
				return storeErr(err, "block bead")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE agent_state
				 SET status = 'error', feedback = NULLIF($2, ''), last_update = NOW()
				 WHERE agent_id = $1`, workerID, feedback); err != nil {
				return storeErr(err, "park worker in error")
			}
			return nil

		case stage.TransitionComplete:
			if err := requireLiveClaim(ctx, tx, workerID, beadID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE bead_claims SET status = 'completed'
				 WHERE bead_id = $1 AND claimed_by = $2`, beadID, workerID); err != nil {
				return storeErr(err, "complete claim")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE bead_backlog SET status = 'completed' WHERE bead_id = $1`, beadID); err != nil {
				return storeErr(err, "complete bead")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE agent_state
				 SET bead_id = NULL, current_stage = NULL, stage_started_at = NULL,
				     status = 'idle', implementation_attempt = 0, feedback = NULL,
				     last_update = NOW()
				 WHERE agent_id = $1`, workerID); err != nil {
				return storeErr(err, "idle worker after completion")
			}
			return nil

		default:
			return protocol.New(protocol.KindInternal, "unknown transition %q", tr.Kind)
		}
	})
}

// MarkLandingRetryable parks a worker whose red-queen pass could not
// be pushed: the worker waits at red-queen with the failure reason as
// feedback, keeping its claim, so the next agent run retries the
// stage and the landing.
func (d *DB) MarkLandingRetryable(ctx context.Context, workerID int, reason string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	_, err := d.db.ExecContext(ctx,
		`UPDATE agent_state
		 SET status = 'waiting', current_stage = 'red-queen',
		     feedback = NULLIF($2, ''), last_update = NOW()
		 WHERE agent_id = $1`, workerID, reason)
	if err != nil {
		return storeErr(err, "mark landing retryable")
	}
	return nil
}

// History returns the stage timeline for a bead, oldest first,
// capped at limit rows.
func (d *DB) History(ctx context.Context, beadID string, limit int) ([]Attempt, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+attemptColumns+`
		 FROM stage_history
		 WHERE bead_id = $1
		 ORDER BY started_at ASC, id ASC
		 LIMIT $2`, beadID, limit)
	if err != nil {
		return nil, storeErr(err, "load stage history")
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, storeErr(err, "scan stage history row")
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate stage history")
	}
	return out, nil
}

// LatestAttempt returns the newest attempt of a stage for a bead, or
// nil when the stage has never run.
func (d *DB) LatestAttempt(ctx context.Context, beadID string, st stage.Stage) (*Attempt, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	a, err := scanAttempt(d.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+`
		 FROM stage_history
		 WHERE bead_id = $1 AND stage = $2
		 ORDER BY attempt_number DESC
		 LIMIT 1`, beadID, st.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "load latest attempt")
	}
	return a, nil
}

// requireLiveClaim fails with a conflict unless the worker holds an
// unexpired in_progress claim on the bead.
func requireLiveClaim(ctx context.Context, q querier, workerID int, beadID string) error {
	var ok bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM bead_claims
		     WHERE bead_id = $1 AND claimed_by = $2
		       AND status = 'in_progress' AND lease_expires_at > NOW()
		 )`, beadID, workerID).Scan(&ok)
	if err != nil {
		return storeErr(err, "verify claim")
	}
	if !ok {
		return protocol.New(protocol.KindWorker,
			"worker %d holds no live claim on bead %s", workerID, beadID)
	}
	return nil
}
