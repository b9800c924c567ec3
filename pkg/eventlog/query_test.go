package eventlog

import (
	"strings"
	"testing"
	"time"
)

func TestBuildQueryNoFilters(t *testing.T) {
	query, args := buildQuery(QueryOpts{})
	if len(args) != 0 {
		t.Errorf("no filters must bind no args, got %v", args)
	}
	if !strings.Contains(query, "ORDER BY seq ASC") {
		t.Error("events must come back in sequence order")
	}
	if !strings.Contains(query, "LIMIT 200") {
		t.Errorf("default limit missing: %s", query)
	}
}

func TestBuildQueryAllFilters(t *testing.T) {
	after := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	before := after.Add(24 * time.Hour)
	query, args := buildQuery(QueryOpts{
		BeadID:    "bead-7",
		AgentID:   3,
		EventType: "transition_retry",
		SinceSeq:  42,
		After:     &after,
		Before:    &before,
		Limit:     50,
	})

	want := []string{
		"bead_id = $1",
		"agent_id = $2",
		"event_type = $3",
		"seq > $4",
		"created_at >= $5",
		"created_at <= $6",
		"LIMIT 50",
	}
	for _, w := range want {
		if !strings.Contains(query, w) {
			t.Errorf("query missing %q: %s", w, query)
		}
	}
	if len(args) != 6 {
		t.Fatalf("args = %d, want 6", len(args))
	}
	if args[0] != "bead-7" || args[1] != 3 || args[2] != "transition_retry" {
		t.Errorf("args bound out of order: %v", args)
	}
	if args[3] != int64(42) {
		t.Errorf("since seq arg = %v", args[3])
	}
}

func TestBuildQueryClampsLimit(t *testing.T) {
	query, _ := buildQuery(QueryOpts{Limit: MaxLimit + 1})
	if !strings.Contains(query, "LIMIT 10000") {
		t.Errorf("limit must clamp to %d: %s", MaxLimit, query)
	}
	query, _ = buildQuery(QueryOpts{Limit: -5})
	if !strings.Contains(query, "LIMIT 200") {
		t.Errorf("negative limit must fall back to default: %s", query)
	}
}
