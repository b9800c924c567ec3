package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"swarm/pkg/protocol"
)

// Message is a directed or broadcast inter-agent note.
type Message struct {
	ID        int64           `json:"id"`
	FromAgent int             `json:"from_agent"`
	ToAgent   *int            `json:"to_agent,omitempty"`
	BeadID    *string         `json:"bead_id,omitempty"`
	Type      string          `json:"message_type"`
	Subject   string          `json:"subject"`
	Body      string          `json:"body"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

// SendMessage records a message. toAgent 0 means broadcast (visible
// to every agent).
func (d *DB) SendMessage(ctx context.Context, fromAgent, toAgent int, beadID, msgType, subject, body string, metadata json.RawMessage) (int64, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if msgType == "" || subject == "" {
		return 0, protocol.New(protocol.KindSerialization, "message type and subject are required")
	}
	var to *int
	if toAgent > 0 {
		to = &toAgent
	}
	var bead *string
	if beadID != "" {
		bead = &beadID
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	var id int64
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO agent_messages (from_agent, to_agent, bead_id, message_type, subject, body, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		fromAgent, to, bead, msgType, subject, body, metadata).Scan(&id)
	if err != nil {
		return 0, storeErr(err, "send message")
	}
	return id, nil
}

// UnreadMessages returns the unread messages addressed to an agent,
// including broadcasts, oldest first.
func (d *DB) UnreadMessages(ctx context.Context, agentID, limit int) ([]Message, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, from_agent, to_agent, bead_id, message_type, subject, body,
		        metadata, read, created_at
		 FROM agent_messages
		 WHERE NOT read AND (to_agent IS NULL OR to_agent = $1)
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, storeErr(err, "list unread messages")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.FromAgent, &m.ToAgent, &m.BeadID, &m.Type,
			&m.Subject, &m.Body, &m.Metadata, &m.Read, &m.CreatedAt); err != nil {
			return nil, storeErr(err, "scan message row")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "iterate messages")
	}
	return out, nil
}

// MarkMessagesRead flags messages as read and returns how many
// flipped.
func (d *DB) MarkMessagesRead(ctx context.Context, ids []int64) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if len(ids) == 0 {
		return 0, nil
	}
	marked := 0
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			tag, err := tx.ExecContext(ctx,
				`UPDATE agent_messages SET read = TRUE WHERE id = $1 AND NOT read`, id)
			if err != nil {
				return storeErr(err, "mark message %d read", id)
			}
			if n, err := tag.RowsAffected(); err == nil && n > 0 {
				marked++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}
