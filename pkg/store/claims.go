package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"swarm/pkg/protocol"
	"swarm/pkg/stage"
)

// Claim is an exclusive, time-bounded lease of a bead by a worker.
type Claim struct {
	BeadID         string    `json:"bead_id"`
	ClaimedBy      int       `json:"claimed_by"`
	Status         string    `json:"status"`
	ClaimedAt      time.Time `json:"claimed_at"`
	HeartbeatAt    time.Time `json:"heartbeat_at"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

const claimColumns = `bead_id, claimed_by, status, claimed_at, heartbeat_at, lease_expires_at`

func scanClaim(row *sql.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.BeadID, &c.ClaimedBy, &c.Status, &c.ClaimedAt, &c.HeartbeatAt, &c.LeaseExpiresAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClaimNext acquires the oldest pending bead at the given priority
// for the worker. The selection runs under FOR UPDATE SKIP LOCKED so
// concurrent claimers never observe the same candidate. If the worker
// already holds a live claim the existing claim is returned
// (idempotent reclaim). Expired leases are recovered before
// selection. Returns (nil, nil) when the backlog has no eligible
// bead.
func (d *DB) ClaimNext(ctx context.Context, workerID int, priority string, leaseMS int) (*Claim, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if _, err := d.recoverExpiredLocked(ctx); err != nil {
		return nil, err
	}

	var claim *Claim
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := workerExists(ctx, tx, workerID); err != nil {
			return err
		}

		existing, err := scanClaim(tx.QueryRowContext(ctx,
			`SELECT `+claimColumns+`
			 FROM bead_claims
			 WHERE claimed_by = $1 AND status = 'in_progress' AND lease_expires_at > NOW()
			 FOR UPDATE`, workerID))
		switch {
		case err == nil:
			claim = existing
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return storeErr(err, "inspect existing claim")
		}

		var beadID string
		err = tx.QueryRowContext(ctx,
			`SELECT bead_id
			 FROM bead_backlog
			 WHERE status = 'pending' AND priority = $1
			 ORDER BY created_at ASC, bead_id ASC
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`, priority).Scan(&beadID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storeErr(err, "select claim candidate")
		}

		claim, err = d.acquire(ctx, tx, workerID, beadID, leaseMS)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// Assign claims a specific pending bead for a worker, bypassing the
// priority queue but not the locking discipline.
func (d *DB) Assign(ctx context.Context, workerID int, beadID string, leaseMS int) (*Claim, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if _, err := d.recoverExpiredLocked(ctx); err != nil {
		return nil, err
	}

	var claim *Claim
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if err := workerExists(ctx, tx, workerID); err != nil {
			return err
		}

		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM bead_backlog WHERE bead_id = $1 FOR UPDATE`, beadID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.New(protocol.KindBead, "bead %s not found", beadID)
		}
		if err != nil {
			return storeErr(err, "lock backlog bead")
		}
		if status != "pending" {
			return protocol.New(protocol.KindStage, "bead %s is %s, not pending", beadID, status)
		}

		claim, err = d.acquire(ctx, tx, workerID, beadID, leaseMS)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// acquire flips the bead to in_progress, inserts the claim, and
// points the worker at rust-contract. Claim first, worker second, in
// the caller's transaction.
func (d *DB) acquire(ctx context.Context, tx *sql.Tx, workerID int, beadID string, leaseMS int) (*Claim, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE bead_backlog SET status = 'in_progress' WHERE bead_id = $1`, beadID); err != nil {
		return nil, storeErr(err, "mark bead in_progress")
	}

	claim, err := scanClaim(tx.QueryRowContext(ctx,
		`INSERT INTO bead_claims (bead_id, claimed_by, status, lease_expires_at)
		 VALUES ($1, $2, 'in_progress', NOW() + ($3 * INTERVAL '1 millisecond'))
		 RETURNING `+claimColumns, beadID, workerID, leaseMS))
	if err != nil {
		return nil, storeErr(err, "insert claim")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE agent_state
		 SET bead_id = $2, current_stage = $3, stage_started_at = NOW(),
		     status = 'working', implementation_attempt = 0, feedback = NULL,
		     last_update = NOW()
		 WHERE agent_id = $1`, workerID, beadID, stage.RustContract.String()); err != nil {
		return nil, storeErr(err, "point worker at claim")
	}

	return claim, nil
}

// Heartbeat refreshes the worker's lease. Extension is monotonic: it
// never shortens the lease. A missing or expired claim is a
// conflict, and expired claims are recovered before the check so the
// conflict is immediate rather than racing the sweeper.
func (d *DB) Heartbeat(ctx context.Context, workerID int, beadID string, extensionMS int) (time.Time, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if _, err := d.recoverExpiredLocked(ctx); err != nil {
		return time.Time{}, err
	}

	var expires time.Time
	err := d.db.QueryRowContext(ctx,
		`UPDATE bead_claims
		 SET heartbeat_at = NOW(),
		     lease_expires_at = GREATEST(lease_expires_at, NOW() + ($3 * INTERVAL '1 millisecond'))
		 WHERE bead_id = $1 AND claimed_by = $2
		   AND status = 'in_progress' AND lease_expires_at > NOW()
		 RETURNING lease_expires_at`, beadID, workerID, extensionMS).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, protocol.New(protocol.KindWorker,
			"worker %d holds no live claim on bead %s", workerID, beadID)
	}
	if err != nil {
		return time.Time{}, storeErr(err, "heartbeat claim")
	}
	return expires, nil
}

// RecoverExpired deletes every expired claim, returns its bead to
// pending, and resets the owning worker to idle. Returns the number
// of recovered claims. Safe under concurrency: the expired set is
// taken FOR UPDATE SKIP LOCKED.
func (d *DB) RecoverExpired(ctx context.Context) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	return d.recoverExpiredLocked(ctx)
}

func (d *DB) recoverExpiredLocked(ctx context.Context) (int, error) {
	recovered := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT bead_id, claimed_by
			 FROM bead_claims
			 WHERE status = 'in_progress' AND lease_expires_at <= NOW()
			 FOR UPDATE SKIP LOCKED`)
		if err != nil {
			return storeErr(err, "scan expired leases")
		}
		type expired struct {
			beadID   string
			workerID int
		}
		var stale []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.beadID, &e.workerID); err != nil {
				rows.Close()
				return storeErr(err, "scan expired lease row")
			}
			stale = append(stale, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return storeErr(err, "iterate expired leases")
		}

		for _, e := range stale {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM bead_claims WHERE bead_id = $1 AND claimed_by = $2`,
				e.beadID, e.workerID); err != nil {
				return storeErr(err, "delete expired claim")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE bead_backlog SET status = 'pending'
				 WHERE bead_id = $1 AND status = 'in_progress'`, e.beadID); err != nil {
				return storeErr(err, "return bead to pending")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE agent_state
				 SET bead_id = NULL, current_stage = NULL, stage_started_at = NULL,
				     status = 'idle', implementation_attempt = 0, feedback = NULL,
				     last_update = NOW()
				 WHERE agent_id = $1 AND bead_id = $2`, e.workerID, e.beadID); err != nil {
				return storeErr(err, "reset worker after expiry")
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

// Release frees a worker's active claim. A clean release returns the
// bead to pending; force marks the claim and bead blocked. The
// worker is reset either way.
func (d *DB) Release(ctx context.Context, workerID int, force bool) (string, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var beadID string
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT bead_id FROM bead_claims
			 WHERE claimed_by = $1 AND status = 'in_progress'
			 FOR UPDATE`, workerID).Scan(&beadID)
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.New(protocol.KindWorker, "worker %d holds no active claim", workerID)
		}
		if err != nil {
			return storeErr(err, "find active claim")
		}

		if force {
			if _, err := tx.ExecContext(ctx,
				`UPDATE bead_claims SET status = 'blocked'
				 WHERE bead_id = $1 AND claimed_by = $2`, beadID, workerID); err != nil {
				return storeErr(err, "block claim")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE bead_backlog SET status = 'blocked' WHERE bead_id = $1`, beadID); err != nil {
				return storeErr(err, "block bead")
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM bead_claims WHERE bead_id = $1 AND claimed_by = $2`,
				beadID, workerID); err != nil {
				return storeErr(err, "delete claim")
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE bead_backlog SET status = 'pending' WHERE bead_id = $1`, beadID); err != nil {
				return storeErr(err, "return bead to pending")
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_state
			 SET bead_id = NULL, current_stage = NULL, stage_started_at = NULL,
			     status = 'idle', implementation_attempt = 0, feedback = NULL,
			     last_update = NOW()
			 WHERE agent_id = $1`, workerID); err != nil {
			return storeErr(err, "reset worker")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return beadID, nil
}

// ActiveClaim returns the worker's live claim, or nil.
func (d *DB) ActiveClaim(ctx context.Context, workerID int) (*Claim, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	claim, err := scanClaim(d.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+`
		 FROM bead_claims
		 WHERE claimed_by = $1 AND status = 'in_progress'`, workerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "load active claim")
	}
	return claim, nil
}

func workerExists(ctx context.Context, q querier, workerID int) error {
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM agent_state WHERE agent_id = $1)`, workerID).Scan(&exists); err != nil {
		return storeErr(err, "check worker")
	}
	if !exists {
		return protocol.New(protocol.KindBead, "worker %d not found; register workers first", workerID)
	}
	return nil
}
