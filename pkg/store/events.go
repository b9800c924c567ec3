package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// EventSchemaVersion stamps every appended event row.
const EventSchemaVersion = 1

// Diagnostics classifies a failure for operators: the category, its
// retryability, a suggested next command, and free-form detail.
type Diagnostics struct {
	Category    string `json:"category"`
	Retryable   bool   `json:"retryable"`
	NextCommand string `json:"next_command,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Event is one appended execution_events row.
type Event struct {
	Seq           int64           `json:"seq"`
	SchemaVersion int             `json:"schema_version"`
	Type          string          `json:"event_type"`
	EntityID      string          `json:"entity_id"`
	BeadID        *string         `json:"bead_id,omitempty"`
	AgentID       *int            `json:"agent_id,omitempty"`
	Stage         *string         `json:"stage,omitempty"`
	CausationID   *string         `json:"causation_id,omitempty"`
	Diagnostics   *Diagnostics    `json:"diagnostics,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EventInput is the caller-facing shape of a new event. EntityID
// defaults to BeadID when unset.
type EventInput struct {
	Type        string
	EntityID    string
	BeadID      string
	AgentID     int
	Stage       string
	CausationID string
	Diagnostics *Diagnostics
	Payload     any
}

// AppendEvent appends one row to the execution event stream and
// returns its sequence number. The stream is append-only; nothing in
// this package updates or deletes event rows.
func (d *DB) AppendEvent(ctx context.Context, in EventInput) (int64, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	entity := in.EntityID
	if entity == "" {
		entity = in.BeadID
	}

	payload := []byte(`{}`)
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return 0, storeErr(err, "encode event payload")
		}
		payload = raw
	}

	var beadID, stg, causation *string
	if in.BeadID != "" {
		beadID = &in.BeadID
	}
	if in.Stage != "" {
		stg = &in.Stage
	}
	if in.CausationID != "" {
		causation = &in.CausationID
	}
	var agentID *int
	if in.AgentID > 0 {
		agentID = &in.AgentID
	}

	var dCat, dNext, dDetail *string
	var dRetry *bool
	if in.Diagnostics != nil {
		dCat = &in.Diagnostics.Category
		dRetry = &in.Diagnostics.Retryable
		if in.Diagnostics.NextCommand != "" {
			dNext = &in.Diagnostics.NextCommand
		}
		if in.Diagnostics.Detail != "" {
			dDetail = &in.Diagnostics.Detail
		}
	}

	var seq int64
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO execution_events (
		     schema_version, event_type, entity_id, bead_id, agent_id, stage,
		     causation_id, diagnostics_category, diagnostics_retryable,
		     diagnostics_next_command, diagnostics_detail, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING seq`,
		EventSchemaVersion, in.Type, entity, beadID, agentID, stg,
		causation, dCat, dRetry, dNext, dDetail, payload).Scan(&seq)
	if err != nil {
		return 0, storeErr(err, "append event %s", in.Type)
	}
	return seq, nil
}

// AppendEventIfAbsent appends unless an event with the same bead,
// type, and causation id already exists. Landing retries use it so a
// replayed failure with the same reason yields one event, not many.
func (d *DB) AppendEventIfAbsent(ctx context.Context, in EventInput) (int64, bool, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if in.CausationID != "" {
		var seq int64
		err := d.db.QueryRowContext(ctx,
			`SELECT seq FROM execution_events
			 WHERE bead_id = $1 AND event_type = $2 AND causation_id = $3
			 ORDER BY seq ASC LIMIT 1`,
			in.BeadID, in.Type, in.CausationID).Scan(&seq)
		if err == nil {
			return seq, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, false, storeErr(err, "look up event %s", in.Type)
		}
	}
	seq, err := d.AppendEvent(ctx, in)
	return seq, err == nil, err
}
