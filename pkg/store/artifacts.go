package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"swarm/pkg/protocol"
)

// Artifact types accepted by StoreArtifact. Mirrors the schema CHECK.
var ArtifactTypes = []string{
	"contract_document", "implementation_code", "test_results",
	"test_output", "failure_details", "stage_log",
	"retry_packet", "adversarial_report", "quality_gate_report",
}

// StoredArtifact is a persisted, content-addressed stage output.
type StoredArtifact struct {
	ID             int64           `json:"id"`
	StageHistoryID int64           `json:"stage_history_id"`
	Type           string          `json:"artifact_type"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	ContentHash    string          `json:"content_hash"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BeadArtifact is an artifact joined with its attempt coordinates,
// as read back from v_bead_artifacts.
type BeadArtifact struct {
	BeadID        string          `json:"bead_id"`
	Stage         string          `json:"stage"`
	AttemptNumber int             `json:"attempt_number"`
	ArtifactID    int64           `json:"artifact_id"`
	Type          string          `json:"artifact_type"`
	Content       string          `json:"content"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	ContentHash   string          `json:"content_hash"`
	CreatedAt     time.Time       `json:"created_at"`
}

// HashContent returns the lowercase hex sha256 of an artifact body.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func validArtifactType(t string) bool {
	for _, known := range ArtifactTypes {
		if t == known {
			return true
		}
	}
	return false
}

// StoreArtifact attaches content to a stage attempt. Storage is
// content addressed: re-publishing identical content under the same
// attempt and type returns the existing row unchanged.
func (d *DB) StoreArtifact(ctx context.Context, attemptID int64, artifactType, content string, metadata json.RawMessage) (*StoredArtifact, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if !validArtifactType(artifactType) {
		return nil, protocol.New(protocol.KindSerialization, "unknown artifact type %q", artifactType)
	}
	if content == "" {
		return nil, protocol.New(protocol.KindSerialization, "artifact content is empty")
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	hash := HashContent(content)

	var a StoredArtifact
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO stage_artifacts (stage_history_id, artifact_type, content, metadata, content_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (stage_history_id, artifact_type, content_hash) DO UPDATE
		     SET content_hash = stage_artifacts.content_hash
		 RETURNING id, stage_history_id, artifact_type, content, metadata, content_hash, created_at`,
		attemptID, artifactType, content, metadata, hash).
		Scan(&a.ID, &a.StageHistoryID, &a.Type, &a.Content, &a.Metadata, &a.ContentHash, &a.CreatedAt)
	if err != nil {
		return nil, storeErr(err, "store artifact for attempt %d", attemptID)
	}
	return &a, nil
}

// ListArtifacts returns every artifact for a bead in attempt order,
// then by type within an attempt. An optional type filter narrows
// the result.
func (d *DB) ListArtifacts(ctx context.Context, beadID, artifactType string, limit int) ([]BeadArtifact, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if artifactType != "" && !validArtifactType(artifactType) {
		return nil, protocol.New(protocol.KindSerialization, "unknown artifact type %q", artifactType)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT bead_id, stage, attempt_number, artifact_id, artifact_type,
		        content, metadata, content_hash, created_at
		 FROM v_bead_artifacts
		 WHERE bead_id = $1 AND ($2 = '' OR artifact_type = $2)
		 ORDER BY started_at ASC, artifact_type ASC, artifact_id ASC
		 LIMIT $3`, beadID, artifactType, limit)
	if err != nil {
		return nil, storeErr(err, "list artifacts")
	}
	defer rows.Close()

	var out []BeadArtifact
	for rows.Next() {
		var a BeadArtifact
		if err := rows.Scan(&a.BeadID, &a.Stage, &a.AttemptNumber, &a.ArtifactID,
			&a.Type, &a.Content, &a.Metadata, &a.ContentHash, &a.CreatedAt); err != nil {
			return nil, storeErr(err, "scan artifact row")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate artifacts")
	}
	return out, nil
}

// LatestArtifact returns the newest artifact of a type for a bead,
// or nil when none exists.
func (d *DB) LatestArtifact(ctx context.Context, beadID, artifactType string) (*BeadArtifact, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var a BeadArtifact
	err := d.db.QueryRowContext(ctx,
		`SELECT bead_id, stage, attempt_number, artifact_id, artifact_type,
		        content, metadata, content_hash, created_at
		 FROM v_bead_artifacts
		 WHERE bead_id = $1 AND artifact_type = $2
		 ORDER BY created_at DESC, artifact_id DESC
		 LIMIT 1`, beadID, artifactType).
		Scan(&a.BeadID, &a.Stage, &a.AttemptNumber, &a.ArtifactID,
			&a.Type, &a.Content, &a.Metadata, &a.ContentHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "load latest artifact")
	}
	return &a, nil
}
