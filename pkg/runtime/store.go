// Package runtime is the coordinator's request plane: it parses
// protocol lines, dispatches commands, wraps every request in an
// audit scope, and drives the stage pipeline through the skill
// runner. Handlers reach durable state only through the Store
// capability, which keeps them table-testable without Postgres.
package runtime

import (
	"context"
	"encoding/json"
	"time"

	"swarm/pkg/eventlog"
	"swarm/pkg/stage"
	"swarm/pkg/store"
)

// Store is the durable-state capability handlers depend on.
// *store.DB is the production implementation.
type Store interface {
	InitSchema(ctx context.Context) error
	SchemaPresent(ctx context.Context) (bool, error)

	EnqueueBeads(ctx context.Context, beads []store.BeadInput) (int, error)
	GetBead(ctx context.Context, beadID string) (*store.Bead, error)
	NextRecommendation(ctx context.Context, priority string) (*store.Bead, error)
	BacklogCounts(ctx context.Context) (map[string]int, error)

	RegisterWorkers(ctx context.Context, count int) (int, error)
	GetWorker(ctx context.Context, workerID int) (*store.Worker, error)
	ActiveWorkers(ctx context.Context) ([]store.ActiveWorker, error)
	WorkerCounts(ctx context.Context) (map[string]int, error)

	ClaimNext(ctx context.Context, workerID int, priority string, leaseMS int) (*store.Claim, error)
	Assign(ctx context.Context, workerID int, beadID string, leaseMS int) (*store.Claim, error)
	Heartbeat(ctx context.Context, workerID int, beadID string, extensionMS int) (time.Time, error)
	RecoverExpired(ctx context.Context) (int, error)
	Release(ctx context.Context, workerID int, force bool) (string, error)
	ActiveClaim(ctx context.Context, workerID int) (*store.Claim, error)

	StartAttempt(ctx context.Context, workerID int, beadID string, st stage.Stage) (*store.Attempt, error)
	CompleteAttempt(ctx context.Context, attemptID int64, res stage.Result, durationMS int64) error
	AttemptCount(ctx context.Context, beadID string, st stage.Stage) (int, error)
	ApplyTransition(ctx context.Context, workerID int, beadID string, tr stage.Transition, feedback string) error
	MarkLandingRetryable(ctx context.Context, workerID int, reason string) error
	History(ctx context.Context, beadID string, limit int) ([]store.Attempt, error)
	LatestAttempt(ctx context.Context, beadID string, st stage.Stage) (*store.Attempt, error)

	StoreArtifact(ctx context.Context, attemptID int64, artifactType, content string, metadata json.RawMessage) (*store.StoredArtifact, error)
	ListArtifacts(ctx context.Context, beadID, artifactType string, limit int) ([]store.BeadArtifact, error)
	LatestArtifact(ctx context.Context, beadID, artifactType string) (*store.BeadArtifact, error)

	AppendEvent(ctx context.Context, in store.EventInput) (int64, error)
	AppendEventIfAbsent(ctx context.Context, in store.EventInput) (int64, bool, error)
	RecordAudit(ctx context.Context, cmd, rid string, args json.RawMessage, ok bool, ms int64, errorCode string, changes json.RawMessage) error
	RecentAudit(ctx context.Context, limit int) ([]store.AuditEntry, error)

	AcquireLock(ctx context.Context, resource, holder string, ttlMS int) (*store.Lock, error)
	ReleaseLock(ctx context.Context, resource, holder string) (bool, error)
	ReleaseHolderLocks(ctx context.Context, holder string) (int, error)
	ListLocks(ctx context.Context) ([]store.Lock, error)

	SendMessage(ctx context.Context, fromAgent, toAgent int, beadID, msgType, subject, body string, metadata json.RawMessage) (int64, error)
	UnreadMessages(ctx context.Context, agentID, limit int) ([]store.Message, error)
	MarkMessagesRead(ctx context.Context, ids []int64) (int, error)

	LoadSwarmConfig(ctx context.Context) (*store.SwarmConfig, error)
	SetSwarmStatus(ctx context.Context, status string) error
	UpdateLimits(ctx context.Context, maxAgents, maxAttempts int, claimLabel string) error

	Resumable(ctx context.Context) ([]store.Worker, error)
	BuildResumeContext(ctx context.Context, workerID, historyLimit int) (*store.ResumeContext, error)
}

var _ Store = (*store.DB)(nil)

// EventQuerier reads the execution event stream; *eventlog.Reader is
// the production implementation.
type EventQuerier interface {
	Query(ctx context.Context, opts eventlog.QueryOpts) ([]store.Event, error)
}

var _ EventQuerier = (*eventlog.Reader)(nil)
