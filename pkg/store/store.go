// Package store is the Postgres persistence layer of the coordinator.
// It owns the schema, the connection pool, and every read and write
// against durable state. All cross-process mutual exclusion lives
// here, in transactional SQL, never in process memory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"

	"swarm/pkg/protocol"
)

// DB wraps the pooled connection with the coordinator's operations.
type DB struct {
	db        *sql.DB
	timeoutMS int
}

// querier is satisfied by both *sql.DB and *sql.Tx so write paths can
// run inside or outside an explicit transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open validates the URL, opens a bounded pool, and verifies
// connectivity within timeoutMS (already clamped by config). The
// timeout is applied to the pool itself via per-call contexts, and
// failures are classified: invalid URL is a config error, exceeded
// deadline is a timeout, refused connections and failed
// authentication are distinct store errors. Elapsed time on failure
// is reported in the error message.
func Open(rawURL string, timeoutMS int) (*DB, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", rawURL)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindConfig, err, "open database")
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classifyConnectError(err, time.Since(started))
	}

	return &DB{db: db, timeoutMS: timeoutMS}, nil
}

// validateURL rejects malformed database URLs before any dial.
func validateURL(rawURL string) error {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return protocol.New(protocol.KindConfig, "database URL is empty; set DATABASE_URL or database_url")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return protocol.Wrap(protocol.KindConfig, err, "invalid database URL")
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return protocol.New(protocol.KindConfig, "database URL scheme %q is not postgres", parsed.Scheme)
	}
	if parsed.Host == "" {
		return protocol.New(protocol.KindConfig, "database URL has no host")
	}
	return nil
}

func classifyConnectError(err error, elapsed time.Duration) error {
	ms := elapsed.Milliseconds()

	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.Wrap(protocol.KindTimeout, err, "database connect timed out after %dms", ms)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// SQLSTATE class 28 is invalid authorization.
		if strings.HasPrefix(pgErr.Code, "28") {
			return protocol.Wrap(protocol.KindStore, err, "database authentication failed after %dms", ms)
		}
	}
	if strings.Contains(err.Error(), "connection refused") {
		return protocol.Wrap(protocol.KindStore, err, "database connection refused after %dms", ms)
	}
	return protocol.Wrap(protocol.KindStore, err, "database connect failed after %dms", ms)
}

// Conn exposes the underlying pool for read-only consumers such as
// the event log reader.
func (d *DB) Conn() *sql.DB {
	return d.db
}

// Close releases the pool. Safe on a nil receiver.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// opCtx derives the per-request store deadline.
func (d *DB) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(d.timeoutMS)*time.Millisecond)
}

// withTx runs fn in a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.Wrap(protocol.KindStore, err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return protocol.Wrap(protocol.KindStore, err, "commit tx")
	}
	return nil
}

// storeErr converts a database error to the taxonomy, keeping
// timeouts distinguishable.
func storeErr(err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.Wrap(protocol.KindTimeout, err, format, args...)
	}
	return protocol.Wrap(protocol.KindStore, err, format, args...)
}

// MaskURL hides the password component of a database URL for logs,
// doctor output, and audit rows.
func MaskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable>"
	}
	if parsed.User == nil {
		return rawURL
	}
	if _, has := parsed.User.Password(); !has {
		return rawURL
	}
	// Splice the mask in by hand; rebuilding through url.UserPassword
	// would percent-encode the asterisks.
	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd < 0 {
		return "<unparseable>"
	}
	rest := rawURL[schemeEnd+3:]
	at := strings.Index(rest, "@")
	if at < 0 {
		return rawURL
	}
	colon := strings.Index(rest[:at], ":")
	if colon < 0 {
		return rawURL
	}
	return rawURL[:schemeEnd+3] + rest[:colon] + ":********" + rest[at:]
}
