package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"swarm/pkg/protocol"
)

// Worker is one agent_state row.
type Worker struct {
	AgentID        int        `json:"agent_id"`
	BeadID         *string    `json:"bead_id,omitempty"`
	CurrentStage   *string    `json:"current_stage,omitempty"`
	StageStartedAt *time.Time `json:"stage_started_at,omitempty"`
	Status         string     `json:"status"`
	Attempt        int        `json:"implementation_attempt"`
	Feedback       *string    `json:"feedback,omitempty"`
	LastUpdate     time.Time  `json:"last_update"`
}

// ActiveWorker joins a working agent with its claim lease, from
// v_active_agents.
type ActiveWorker struct {
	Worker
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// RegisterWorkers ensures agent_state rows exist for ids 1..count.
// Existing rows are untouched; registering a smaller count never
// deletes workers. Returns how many rows were created.
func (d *DB) RegisterWorkers(ctx context.Context, count int) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if count < 1 {
		return 0, protocol.New(protocol.KindSerialization, "worker count %d must be >= 1", count)
	}

	created := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for id := 1; id <= count; id++ {
			tag, err := tx.ExecContext(ctx,
				`INSERT INTO agent_state (agent_id) VALUES ($1)
				 ON CONFLICT (agent_id) DO NOTHING`, id)
			if err != nil {
				return storeErr(err, "register worker %d", id)
			}
			if n, err := tag.RowsAffected(); err == nil && n > 0 {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// GetWorker loads one agent_state row.
func (d *DB) GetWorker(ctx context.Context, workerID int) (*Worker, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var w Worker
	err := d.db.QueryRowContext(ctx,
		`SELECT agent_id, bead_id, current_stage, stage_started_at, status,
		        implementation_attempt, feedback, last_update
		 FROM agent_state WHERE agent_id = $1`, workerID).
		Scan(&w.AgentID, &w.BeadID, &w.CurrentStage, &w.StageStartedAt,
			&w.Status, &w.Attempt, &w.Feedback, &w.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		// KindBead carries the NOTFOUND wire code; worker lookups
		// share it rather than minting a second not-found kind.
		return nil, protocol.New(protocol.KindBead, "worker %d not found", workerID)
	}
	if err != nil {
		return nil, storeErr(err, "load worker")
	}
	return &w, nil
}

// ActiveWorkers lists the non-idle agents with their lease state.
func (d *DB) ActiveWorkers(ctx context.Context) ([]ActiveWorker, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT agent_id, bead_id, current_stage, stage_started_at, status,
		        implementation_attempt, feedback, last_update,
		        heartbeat_at, lease_expires_at
		 FROM v_active_agents
		 ORDER BY agent_id`)
	if err != nil {
		return nil, storeErr(err, "list active workers")
	}
	defer rows.Close()

	var out []ActiveWorker
	for rows.Next() {
		var w ActiveWorker
		if err := rows.Scan(&w.AgentID, &w.BeadID, &w.CurrentStage, &w.StageStartedAt,
			&w.Status, &w.Attempt, &w.Feedback, &w.LastUpdate,
			&w.HeartbeatAt, &w.LeaseExpiresAt); err != nil {
			return nil, storeErr(err, "scan active worker")
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate active workers")
	}
	return out, nil
}

// WorkerCounts returns agent counts by status.
func (d *DB) WorkerCounts(ctx context.Context) (map[string]int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM agent_state GROUP BY status`)
	if err != nil {
		return nil, storeErr(err, "count workers")
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storeErr(err, "scan worker count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate worker counts")
	}
	return counts, nil
}
