package store

import (
	"context"
	"time"

	"swarm/pkg/protocol"
)

// SwarmConfig is the singleton durable configuration row. It wins
// over file and environment values once the schema is initialized.
type SwarmConfig struct {
	MaxAgents      int        `json:"max_agents"`
	MaxAttempts    int        `json:"max_implementation_attempts"`
	ClaimLabel     string     `json:"claim_label"`
	SwarmStatus    string     `json:"swarm_status"`
	SwarmStartedAt *time.Time `json:"swarm_started_at,omitempty"`
}

// LoadSwarmConfig reads the singleton row.
func (d *DB) LoadSwarmConfig(ctx context.Context) (*SwarmConfig, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var c SwarmConfig
	err := d.db.QueryRowContext(ctx,
		`SELECT max_agents, max_implementation_attempts, claim_label,
		        swarm_status, swarm_started_at
		 FROM swarm_config WHERE id`).
		Scan(&c.MaxAgents, &c.MaxAttempts, &c.ClaimLabel, &c.SwarmStatus, &c.SwarmStartedAt)
	if err != nil {
		return nil, storeErr(err, "load swarm config")
	}
	return &c, nil
}

// SetSwarmStatus moves the swarm between stopped, running, and
// draining. Entering running stamps swarm_started_at.
func (d *DB) SetSwarmStatus(ctx context.Context, status string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	switch status {
	case "stopped", "running", "draining":
	default:
		return protocol.New(protocol.KindSerialization, "unknown swarm status %q", status)
	}

	_, err := d.db.ExecContext(ctx,
		`UPDATE swarm_config
		 SET swarm_status = $1,
		     swarm_started_at = CASE WHEN $1 = 'running' THEN NOW() ELSE swarm_started_at END
		 WHERE id`, status)
	if err != nil {
		return storeErr(err, "set swarm status")
	}
	return nil
}

// UpdateLimits adjusts the durable limits. Zero values leave a field
// unchanged.
func (d *DB) UpdateLimits(ctx context.Context, maxAgents, maxAttempts int, claimLabel string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if maxAgents < 0 {
		return protocol.New(protocol.KindSerialization, "max_agents %d must be >= 0", maxAgents)
	}
	_, err := d.db.ExecContext(ctx,
		`UPDATE swarm_config
		 SET max_agents = CASE WHEN $1 > 0 THEN $1 ELSE max_agents END,
		     max_implementation_attempts = CASE WHEN $2 > 0 THEN $2 ELSE max_implementation_attempts END,
		     claim_label = CASE WHEN $3 <> '' THEN $3 ELSE claim_label END
		 WHERE id`, maxAgents, maxAttempts, claimLabel)
	if err != nil {
		return storeErr(err, "update swarm limits")
	}
	return nil
}
