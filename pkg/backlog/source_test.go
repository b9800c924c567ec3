package backlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func seedBeadsDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beads.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer db.Close()

	ddl := `CREATE TABLE beads (
	    id TEXT PRIMARY KEY,
	    title TEXT,
	    priority TEXT,
	    status TEXT NOT NULL,
	    created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	if _, err := db.Exec(ddl); err != nil {
		t.Fatalf("create beads table: %v", err)
	}
	rows := []struct {
		id, title, priority, status, created string
	}{
		{"bead-b", "older open", "p1", "open", "2026-08-01 10:00:00"},
		{"bead-a", "newer ready", "", "ready", "2026-08-02 10:00:00"},
		{"bead-c", "already done", "p0", "closed", "2026-08-01 09:00:00"},
	}
	for _, r := range rows {
		_, err := db.Exec(
			`INSERT INTO beads (id, title, priority, status, created_at) VALUES (?, ?, NULLIF(?, ''), ?, ?)`,
			r.id, r.title, r.priority, r.status, r.created)
		if err != nil {
			t.Fatalf("seed bead %s: %v", r.id, err)
		}
	}
	return path
}

func TestOpenSourceMissingFile(t *testing.T) {
	if _, err := OpenSource(filepath.Join(t.TempDir(), "absent.db")); err == nil {
		t.Fatal("missing beads database must error")
	}
}

func TestReadyFiltersAndOrders(t *testing.T) {
	src, err := OpenSource(seedBeadsDB(t))
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer src.Close()

	items, err := src.Ready(context.Background())
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ready beads = %d, want 2", len(items))
	}
	if items[0].ID != "bead-b" || items[1].ID != "bead-a" {
		t.Errorf("order = %s, %s; want oldest first", items[0].ID, items[1].ID)
	}
	if items[1].Priority != "p0" {
		t.Errorf("missing priority must default to p0, got %q", items[1].Priority)
	}
	if items[0].Priority != "p1" {
		t.Errorf("priority lost: %q", items[0].Priority)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	src, err := OpenSource(seedBeadsDB(t))
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	_ = src.Close()
}
