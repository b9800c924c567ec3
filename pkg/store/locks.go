package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"swarm/pkg/protocol"
)

// Lock is a named advisory lock row.
type Lock struct {
	Resource   string    `json:"resource"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	UntilAt    time.Time `json:"until_at"`
}

// AcquireLock takes a named lock for ttlMS. Expired rows are swept
// first, so a dead holder never wedges a resource. A live lock held
// by someone else is BUSY; re-acquiring one's own lock extends it.
func (d *DB) AcquireLock(ctx context.Context, resource, holder string, ttlMS int) (*Lock, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if resource == "" || holder == "" {
		return nil, protocol.New(protocol.KindSerialization, "lock resource and holder are required")
	}
	if ttlMS < 1 {
		return nil, protocol.New(protocol.KindSerialization, "lock ttl %dms must be >= 1", ttlMS)
	}

	var lock *Lock
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM resource_locks WHERE until_at <= NOW()`); err != nil {
			return storeErr(err, "sweep expired locks")
		}

		var l Lock
		err := tx.QueryRowContext(ctx,
			`INSERT INTO resource_locks (resource, holder, until_at)
			 VALUES ($1, $2, NOW() + ($3 * INTERVAL '1 millisecond'))
			 ON CONFLICT (resource) DO UPDATE
			     SET until_at = EXCLUDED.until_at, acquired_at = NOW()
			 WHERE resource_locks.holder = EXCLUDED.holder
			 RETURNING resource, holder, acquired_at, until_at`,
			resource, holder, ttlMS).
			Scan(&l.Resource, &l.Holder, &l.AcquiredAt, &l.UntilAt)
		if errors.Is(err, sql.ErrNoRows) {
			var current string
			if qerr := tx.QueryRowContext(ctx,
				`SELECT holder FROM resource_locks WHERE resource = $1`, resource).
				Scan(&current); qerr == nil {
				return protocol.New(protocol.KindBusy, "resource %s is locked by %s", resource, current)
			}
			return protocol.New(protocol.KindBusy, "resource %s is locked", resource)
		}
		if err != nil {
			return storeErr(err, "acquire lock %s", resource)
		}
		lock = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// ReleaseLock drops a lock. Only the holder may release it; a
// missing lock is not an error.
func (d *DB) ReleaseLock(ctx context.Context, resource, holder string) (bool, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	released := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT holder FROM resource_locks WHERE resource = $1 FOR UPDATE`, resource).
			Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storeErr(err, "inspect lock %s", resource)
		}
		if current != holder {
			return protocol.New(protocol.KindUnauthorized,
				"resource %s is held by %s, not %s", resource, current, holder)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM resource_locks WHERE resource = $1`, resource); err != nil {
			return storeErr(err, "release lock %s", resource)
		}
		released = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

// ReleaseHolderLocks drops every lock a holder still has. Used by
// the broadcast sweep when a worker is torn down.
func (d *DB) ReleaseHolderLocks(ctx context.Context, holder string) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tag, err := d.db.ExecContext(ctx,
		`DELETE FROM resource_locks WHERE holder = $1`, holder)
	if err != nil {
		return 0, storeErr(err, "release locks for %s", holder)
	}
	n, err := tag.RowsAffected()
	if err != nil {
		return 0, storeErr(err, "release locks for %s", holder)
	}
	return int(n), nil
}

// ListLocks returns live locks, soonest expiry first.
func (d *DB) ListLocks(ctx context.Context) ([]Lock, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT resource, holder, acquired_at, until_at
		 FROM resource_locks
		 WHERE until_at > NOW()
		 ORDER BY until_at ASC, resource ASC`)
	if err != nil {
		return nil, storeErr(err, "list locks")
	}
	defer rows.Close()

	var out []Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.Resource, &l.Holder, &l.AcquiredAt, &l.UntilAt); err != nil {
			return nil, storeErr(err, "scan lock row")
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate locks")
	}
	return out, nil
}
