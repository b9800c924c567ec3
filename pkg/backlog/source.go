// Package backlog imports work items from a beads database into the
// coordinator's backlog table. The beads tool keeps its queue in
// SQLite; this package reads it without writing, and can watch the
// file for changes.
package backlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // SQLite driver

	"swarm/pkg/store"
)

// Item is one importable bead from the source database.
type Item struct {
	ID       string
	Title    string
	Priority string
}

// SQLiteSource reads ready beads from a beads database file.
type SQLiteSource struct {
	db   *sql.DB
	path string
}

// OpenSource opens the beads database read-only. The file must
// already exist; the coordinator never creates it.
func OpenSource(path string) (*SQLiteSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("beads database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open beads database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping beads database: %w", err)
	}
	return &SQLiteSource{db: db, path: path}, nil
}

// Close releases the connection. Safe to call multiple times.
func (s *SQLiteSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the source database file path.
func (s *SQLiteSource) Path() string {
	return s.path
}

// Ready lists the beads eligible for import: open issues, oldest
// first. Priority is carried through as a label (p0..p3); rows with
// no priority default to p0.
func (s *SQLiteSource) Ready(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(title, ''), COALESCE(priority, 'p0')
		 FROM beads
		 WHERE status IN ('open', 'ready')
		 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ready beads: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Title, &it.Priority); err != nil {
			return nil, fmt.Errorf("scan bead: %w", err)
		}
		if it.Priority == "" {
			it.Priority = "p0"
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate beads: %w", err)
	}
	return items, nil
}

// Sync imports every ready bead into the coordinator's backlog.
// Existing rows keep their status; only new beads are counted.
func (s *SQLiteSource) Sync(ctx context.Context, db *store.DB) (int, error) {
	items, err := s.Ready(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	inputs := make([]store.BeadInput, 0, len(items))
	for _, it := range items {
		inputs = append(inputs, store.BeadInput{
			BeadID:   it.ID,
			Priority: it.Priority,
			Title:    it.Title,
		})
	}
	return db.EnqueueBeads(ctx, inputs)
}
