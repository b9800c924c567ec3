// Package eventlog provides read-only access to the execution event
// stream. It is the query side of the log: the monitor, resume, and
// history commands read through it and nothing here ever writes.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"swarm/pkg/store"
)

// Result caps. A query never returns more than MaxLimit rows.
const (
	DefaultLimit = 200
	MaxLimit     = 10000
)

// QueryOpts specifies filter criteria for reading events.
type QueryOpts struct {
	// BeadID filters events to a single bead.
	BeadID string

	// AgentID filters events to a single worker (0 = any).
	AgentID int

	// EventType filters to one event type (e.g. "transition_retry").
	EventType string

	// SinceSeq returns only events with seq strictly greater, for
	// incremental tailing.
	SinceSeq int64

	// After / Before bound created_at (inclusive).
	After  *time.Time
	Before *time.Time

	// Limit restricts the number of results; 0 means DefaultLimit,
	// values above MaxLimit are clamped.
	Limit int
}

// Reader reads the execution event stream.
type Reader struct {
	db *sql.DB
}

// NewReader wraps the coordinator's pool. The reader holds no state
// of its own and is safe for concurrent use.
func NewReader(db *store.DB) *Reader {
	return &Reader{db: db.Conn()}
}

// Query retrieves events matching opts in sequence order, oldest
// first, so a consumer can replay per-bead history deterministically.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]store.Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		var e store.Event
		var dCat, dNext, dDetail *string
		var dRetry *bool
		err := rows.Scan(
			&e.Seq, &e.SchemaVersion, &e.Type, &e.EntityID,
			&e.BeadID, &e.AgentID, &e.Stage, &e.CausationID,
			&dCat, &dRetry, &dNext, &dDetail,
			&e.Payload, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if dCat != nil {
			d := store.Diagnostics{Category: *dCat}
			if dRetry != nil {
				d.Retryable = *dRetry
			}
			if dNext != nil {
				d.NextCommand = *dNext
			}
			if dDetail != nil {
				d.Detail = *dDetail
			}
			e.Diagnostics = &d
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := `SELECT seq, schema_version, event_type, entity_id,
	       bead_id, agent_id, stage, causation_id,
	       diagnostics_category, diagnostics_retryable,
	       diagnostics_next_command, diagnostics_detail,
	       payload, created_at
	FROM execution_events WHERE TRUE`

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.BeadID != "" {
		conditions = append(conditions, "bead_id = "+arg(opts.BeadID))
	}
	if opts.AgentID > 0 {
		conditions = append(conditions, "agent_id = "+arg(opts.AgentID))
	}
	if opts.EventType != "" {
		conditions = append(conditions, "event_type = "+arg(opts.EventType))
	}
	if opts.SinceSeq > 0 {
		conditions = append(conditions, "seq > "+arg(opts.SinceSeq))
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= "+arg(*opts.After))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= "+arg(*opts.Before))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY seq ASC"

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	return query, args
}
