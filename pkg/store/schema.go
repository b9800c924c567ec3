package store

import "context"

// SchemaDDL defines the Postgres schema for the coordinator. Primary
// invariants are enforced here: closed status/stage/outcome sets via
// CHECK constraints, at most one active claim per bead via a partial
// unique index, worker.bead_id validated by a composite foreign key
// onto its claim, and deduplicated artifacts via a unique
// (attempt, type, hash) triple. InitSchema is idempotent.
const SchemaDDL = `
-- Work items. The backlog source upserts rows; the claim engine owns
-- status transitions.
CREATE TABLE IF NOT EXISTS bead_backlog (
    bead_id TEXT PRIMARY KEY CHECK (char_length(bead_id) BETWEEN 1 AND 255),
    priority TEXT NOT NULL DEFAULT 'p0',
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'in_progress', 'completed', 'blocked')),
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Claim queue scan: oldest pending bead at a given priority.
CREATE INDEX IF NOT EXISTS idx_backlog_claim_queue
    ON bead_backlog (priority, created_at, bead_id)
    WHERE status = 'pending';

-- Exclusive, time-bounded leases. One active claim per bead, one per
-- worker.
CREATE TABLE IF NOT EXISTS bead_claims (
    bead_id TEXT NOT NULL REFERENCES bead_backlog (bead_id),
    claimed_by INTEGER NOT NULL CHECK (claimed_by >= 1),
    status TEXT NOT NULL DEFAULT 'in_progress'
        CHECK (status IN ('in_progress', 'completed', 'blocked')),
    claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    lease_expires_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (bead_id, claimed_by)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_one_active_per_bead
    ON bead_claims (bead_id)
    WHERE status = 'in_progress';

CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_one_active_per_worker
    ON bead_claims (claimed_by)
    WHERE status = 'in_progress';

-- Stale-lease sweep.
CREATE INDEX IF NOT EXISTS idx_claims_lease_expiry
    ON bead_claims (lease_expires_at)
    WHERE status = 'in_progress';

-- Worker state. bead_id is a cached reference validated against the
-- owning claim by the composite foreign key.
CREATE TABLE IF NOT EXISTS agent_state (
    agent_id INTEGER PRIMARY KEY CHECK (agent_id >= 1),
    bead_id TEXT,
    current_stage TEXT
        CHECK (current_stage IN ('rust-contract', 'implement', 'qa-enforcer', 'red-queen', 'done')),
    stage_started_at TIMESTAMPTZ,
    status TEXT NOT NULL DEFAULT 'idle'
        CHECK (status IN ('idle', 'working', 'waiting', 'error', 'done')),
    implementation_attempt INTEGER NOT NULL DEFAULT 0 CHECK (implementation_attempt >= 0),
    feedback TEXT,
    last_update TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT fk_agent_claim FOREIGN KEY (bead_id, agent_id)
        REFERENCES bead_claims (bead_id, claimed_by)
        DEFERRABLE INITIALLY DEFERRED,
    CONSTRAINT working_requires_bead CHECK (status <> 'working' OR bead_id IS NOT NULL)
);

-- One row per stage attempt. Attempt numbers are a dense sequence
-- per (bead, stage) starting at 1.
CREATE TABLE IF NOT EXISTS stage_history (
    id BIGSERIAL PRIMARY KEY,
    agent_id INTEGER NOT NULL CHECK (agent_id >= 1),
    bead_id TEXT NOT NULL REFERENCES bead_backlog (bead_id),
    stage TEXT NOT NULL
        CHECK (stage IN ('rust-contract', 'implement', 'qa-enforcer', 'red-queen')),
    attempt_number INTEGER NOT NULL CHECK (attempt_number >= 1),
    status TEXT NOT NULL DEFAULT 'started'
        CHECK (status IN ('started', 'passed', 'failed', 'error')),
    result TEXT,
    feedback TEXT,
    transcript TEXT,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    duration_ms BIGINT CHECK (duration_ms >= 0),
    UNIQUE (bead_id, stage, attempt_number)
);

-- Per-bead stage timeline retrieval.
CREATE INDEX IF NOT EXISTS idx_stage_history_bead_timeline
    ON stage_history (bead_id, started_at, id);

-- Content-addressed per-attempt artifacts; re-publishing the same
-- content is a no-op.
CREATE TABLE IF NOT EXISTS stage_artifacts (
    id BIGSERIAL PRIMARY KEY,
    stage_history_id BIGINT NOT NULL REFERENCES stage_history (id) ON DELETE CASCADE,
    artifact_type TEXT NOT NULL
        CHECK (artifact_type IN (
            'contract_document', 'implementation_code', 'test_results',
            'test_output', 'failure_details', 'stage_log',
            'retry_packet', 'adversarial_report')),
    content TEXT NOT NULL,
    metadata JSONB,
    content_hash TEXT NOT NULL CHECK (content_hash ~ '^[0-9a-f]{64}$'),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (stage_history_id, artifact_type, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_by_type
    ON stage_artifacts (artifact_type, stage_history_id);

-- Append-only, schema-versioned event stream. seq is globally
-- monotonic, which makes per-bead ordering strict.
CREATE TABLE IF NOT EXISTS execution_events (
    seq BIGSERIAL PRIMARY KEY,
    schema_version INTEGER NOT NULL CHECK (schema_version >= 1),
    event_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    bead_id TEXT,
    agent_id INTEGER,
    stage TEXT,
    causation_id TEXT,
    diagnostics_category TEXT,
    diagnostics_retryable BOOLEAN,
    diagnostics_next_command TEXT,
    diagnostics_detail TEXT,
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_events_bead_seq
    ON execution_events (bead_id, seq);

-- One row per accepted request.
CREATE TABLE IF NOT EXISTS command_audit (
    id BIGSERIAL PRIMARY KEY,
    ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    cmd TEXT NOT NULL,
    rid TEXT,
    args JSONB NOT NULL DEFAULT '{}'::jsonb,
    ok BOOLEAN NOT NULL,
    ms BIGINT NOT NULL CHECK (ms >= 0),
    error_code TEXT,
    changes JSONB NOT NULL DEFAULT '{}'::jsonb
);

-- Directed inter-agent messages.
CREATE TABLE IF NOT EXISTS agent_messages (
    id BIGSERIAL PRIMARY KEY,
    from_agent INTEGER NOT NULL,
    to_agent INTEGER,
    bead_id TEXT,
    message_type TEXT NOT NULL,
    subject TEXT NOT NULL,
    body TEXT NOT NULL,
    metadata JSONB,
    read BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_unread
    ON agent_messages (to_agent, created_at)
    WHERE NOT read;

-- Named advisory locks with TTL. Expired rows are swept by any
-- caller attempting acquire.
CREATE TABLE IF NOT EXISTS resource_locks (
    resource TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    acquired_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    until_at TIMESTAMPTZ NOT NULL
);

-- Singleton configuration row.
CREATE TABLE IF NOT EXISTS swarm_config (
    id BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
    max_agents INTEGER NOT NULL DEFAULT 12 CHECK (max_agents >= 0),
    max_implementation_attempts INTEGER NOT NULL DEFAULT 3 CHECK (max_implementation_attempts >= 1),
    claim_label TEXT NOT NULL DEFAULT 'p0',
    swarm_status TEXT NOT NULL DEFAULT 'stopped'
        CHECK (swarm_status IN ('stopped', 'running', 'draining')),
    swarm_started_at TIMESTAMPTZ
);

INSERT INTO swarm_config (id) VALUES (TRUE) ON CONFLICT (id) DO NOTHING;
`

// ViewDDL defines the denormalized read models.
const ViewDDL = `
CREATE OR REPLACE VIEW v_active_agents AS
SELECT a.agent_id, a.bead_id, a.current_stage, a.stage_started_at,
       a.status, a.implementation_attempt, a.feedback, a.last_update,
       c.heartbeat_at, c.lease_expires_at
FROM agent_state a
LEFT JOIN bead_claims c
       ON c.bead_id = a.bead_id AND c.claimed_by = a.agent_id AND c.status = 'in_progress'
WHERE a.status IN ('working', 'waiting', 'error');

CREATE OR REPLACE VIEW v_swarm_progress AS
SELECT status, COUNT(*) AS beads
FROM bead_backlog
GROUP BY status;

CREATE OR REPLACE VIEW v_failed_feedback AS
SELECT DISTINCT ON (bead_id, stage)
       bead_id, stage, attempt_number, feedback, completed_at
FROM stage_history
WHERE status IN ('failed', 'error')
ORDER BY bead_id, stage, attempt_number DESC;

CREATE OR REPLACE VIEW v_bead_artifacts AS
SELECT h.bead_id, h.stage, h.attempt_number, h.started_at,
       a.id AS artifact_id, a.artifact_type, a.content, a.metadata,
       a.content_hash, a.created_at
FROM stage_artifacts a
JOIN stage_history h ON h.id = a.stage_history_id;

CREATE OR REPLACE VIEW v_unread_messages AS
SELECT id, from_agent, to_agent, bead_id, message_type, subject, body, created_at
FROM agent_messages
WHERE NOT read;

CREATE OR REPLACE VIEW v_resumable AS
SELECT a.agent_id, a.bead_id, a.current_stage, a.status,
       a.implementation_attempt, a.feedback
FROM agent_state a
WHERE a.bead_id IS NOT NULL
  AND a.status IN ('working', 'waiting', 'error');
`

// InitSchema applies the schema and views. Applying twice is a
// no-op.
func (d *DB) InitSchema(ctx context.Context) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	if _, err := d.db.ExecContext(ctx, SchemaDDL); err != nil {
		return storeErr(err, "apply schema")
	}
	if _, err := d.db.ExecContext(ctx, ViewDDL); err != nil {
		return storeErr(err, "apply read views")
	}
	return nil
}

// SchemaPresent reports whether the core tables exist.
func (d *DB) SchemaPresent(ctx context.Context) (bool, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	var present bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM information_schema.tables
		     WHERE table_name = 'bead_claims'
		 )`).Scan(&present)
	if err != nil {
		return false, storeErr(err, "check schema presence")
	}
	return present, nil
}
