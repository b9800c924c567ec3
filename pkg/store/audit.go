package store

import (
	"context"
	"encoding/json"
	"time"
)

// AuditEntry is one command_audit row: the request as accepted, its
// outcome, and a summary of durable changes it caused.
type AuditEntry struct {
	ID        int64           `json:"id"`
	TS        time.Time       `json:"ts"`
	Cmd       string          `json:"cmd"`
	RID       *string         `json:"rid,omitempty"`
	Args      json.RawMessage `json:"args"`
	OK        bool            `json:"ok"`
	MS        int64           `json:"ms"`
	ErrorCode *string         `json:"error_code,omitempty"`
	Changes   json.RawMessage `json:"changes"`
}

// RecordAudit appends one audit row. Args must already be redacted
// by the caller; the store never inspects them.
func (d *DB) RecordAudit(ctx context.Context, cmd, rid string, args json.RawMessage, ok bool, ms int64, errorCode string, changes json.RawMessage) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if len(changes) == 0 {
		changes = json.RawMessage(`{}`)
	}
	if ms < 0 {
		ms = 0
	}
	var ridPtr, codePtr *string
	if rid != "" {
		ridPtr = &rid
	}
	if errorCode != "" {
		codePtr = &errorCode
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO command_audit (cmd, rid, args, ok, ms, error_code, changes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cmd, ridPtr, args, ok, ms, codePtr, changes)
	if err != nil {
		return storeErr(err, "record audit for %s", cmd)
	}
	return nil
}

// RecentAudit returns the newest audit rows, newest first.
func (d *DB) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, ts, cmd, rid, args, ok, ms, error_code, changes
		 FROM command_audit
		 ORDER BY id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, storeErr(err, "list audit rows")
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Cmd, &e.RID, &e.Args, &e.OK, &e.MS,
			&e.ErrorCode, &e.Changes); err != nil {
			return nil, storeErr(err, "scan audit row")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate audit rows")
	}
	return out, nil
}
