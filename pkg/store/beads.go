package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"swarm/pkg/protocol"
)

// Bead is one backlog work item.
type Bead struct {
	BeadID    string    `json:"bead_id"`
	Priority  string    `json:"priority"`
	Status    string    `json:"status"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// BeadInput seeds or refreshes a backlog row.
type BeadInput struct {
	BeadID   string
	Priority string
	Title    string
}

// EnqueueBeads upserts backlog rows. New beads arrive pending;
// existing rows keep their status and refresh priority and title
// only. Returns how many rows were newly inserted.
func (d *DB) EnqueueBeads(ctx context.Context, beads []BeadInput) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	inserted := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, b := range beads {
			if b.BeadID == "" {
				return protocol.New(protocol.KindSerialization, "bead id is empty")
			}
			priority := b.Priority
			if priority == "" {
				priority = "p0"
			}
			var isNew bool
			err := tx.QueryRowContext(ctx,
				`INSERT INTO bead_backlog (bead_id, priority, title)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (bead_id) DO UPDATE
				     SET priority = EXCLUDED.priority, title = EXCLUDED.title
				 RETURNING (xmax = 0)`, b.BeadID, priority, b.Title).Scan(&isNew)
			if err != nil {
				return storeErr(err, "enqueue bead %s", b.BeadID)
			}
			if isNew {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetBead loads one backlog row.
func (d *DB) GetBead(ctx context.Context, beadID string) (*Bead, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var b Bead
	err := d.db.QueryRowContext(ctx,
		`SELECT bead_id, priority, status, title, created_at
		 FROM bead_backlog WHERE bead_id = $1`, beadID).
		Scan(&b.BeadID, &b.Priority, &b.Status, &b.Title, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.New(protocol.KindBead, "bead %s not found", beadID)
	}
	if err != nil {
		return nil, storeErr(err, "load bead")
	}
	return &b, nil
}

// NextRecommendation returns the bead ClaimNext would pick for the
// given priority, without claiming it. Nil when the queue is empty.
func (d *DB) NextRecommendation(ctx context.Context, priority string) (*Bead, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var b Bead
	err := d.db.QueryRowContext(ctx,
		`SELECT bead_id, priority, status, title, created_at
		 FROM bead_backlog
		 WHERE status = 'pending' AND priority = $1
		 ORDER BY created_at ASC, bead_id ASC
		 LIMIT 1`, priority).
		Scan(&b.BeadID, &b.Priority, &b.Status, &b.Title, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "peek claim queue")
	}
	return &b, nil
}

// BacklogCounts returns bead counts by status, from the progress
// view.
func (d *DB) BacklogCounts(ctx context.Context) (map[string]int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `SELECT status, beads FROM v_swarm_progress`)
	if err != nil {
		return nil, storeErr(err, "load backlog counts")
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storeErr(err, "scan backlog count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate backlog counts")
	}
	return counts, nil
}
