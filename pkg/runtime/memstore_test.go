package runtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"swarm/pkg/eventlog"
	"swarm/pkg/protocol"
	"swarm/pkg/stage"
	"swarm/pkg/store"
)

// memStore is an in-memory Store for handler tests. It mirrors the
// transactional semantics the Postgres layer provides: one active
// claim per bead and per worker, dense attempt numbering, idempotent
// artifact inserts, monotonic event sequence.
type memStore struct {
	mu        sync.Mutex
	clock     func() time.Time
	beads     map[string]*store.Bead
	claims    map[string]*store.Claim
	workers   map[int]*store.Worker
	history   []*store.Attempt
	artifacts []store.BeadArtifact
	events    []store.Event
	audits    []store.AuditEntry
	locks     map[string]store.Lock
	messages  []store.Message
	cfg       store.SwarmConfig
	schema    bool
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		clock:   time.Now,
		beads:   map[string]*store.Bead{},
		claims:  map[string]*store.Claim{},
		workers: map[int]*store.Worker{},
		locks:   map[string]store.Lock{},
		cfg: store.SwarmConfig{
			MaxAgents: 12, MaxAttempts: 3, ClaimLabel: "p0", SwarmStatus: "stopped",
		},
	}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) InitSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema = true
	return nil
}

func (m *memStore) SchemaPresent(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schema, nil
}

func (m *memStore) EnqueueBeads(ctx context.Context, beads []store.BeadInput) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, b := range beads {
		if existing, ok := m.beads[b.BeadID]; ok {
			existing.Priority = b.Priority
			existing.Title = b.Title
			continue
		}
		m.beads[b.BeadID] = &store.Bead{
			BeadID: b.BeadID, Priority: b.Priority, Status: "pending",
			Title: b.Title, CreatedAt: m.clock(),
		}
		inserted++
	}
	return inserted, nil
}

func (m *memStore) GetBead(ctx context.Context, beadID string) (*store.Bead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beads[beadID]
	if !ok {
		return nil, protocol.New(protocol.KindBead, "bead %s not found", beadID)
	}
	copied := *b
	return &copied, nil
}

func (m *memStore) NextRecommendation(ctx context.Context, priority string) (*store.Bead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.oldestPending(priority)
	if b == nil {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (m *memStore) oldestPending(priority string) *store.Bead {
	var best *store.Bead
	for _, b := range m.beads {
		if b.Status != "pending" || b.Priority != priority {
			continue
		}
		if best == nil || b.CreatedAt.Before(best.CreatedAt) ||
			(b.CreatedAt.Equal(best.CreatedAt) && b.BeadID < best.BeadID) {
			best = b
		}
	}
	return best
}

func (m *memStore) BacklogCounts(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, b := range m.beads {
		counts[b.Status]++
	}
	return counts, nil
}

func (m *memStore) RegisterWorkers(ctx context.Context, count int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for id := 1; id <= count; id++ {
		if _, ok := m.workers[id]; ok {
			continue
		}
		m.workers[id] = &store.Worker{AgentID: id, Status: "idle", LastUpdate: m.clock()}
		created++
	}
	return created, nil
}

func (m *memStore) GetWorker(ctx context.Context, workerID int) (*store.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return nil, protocol.New(protocol.KindBead, "worker %d not found", workerID)
	}
	copied := *w
	return &copied, nil
}

func (m *memStore) ActiveWorkers(ctx context.Context) ([]store.ActiveWorker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ActiveWorker
	for _, w := range m.workers {
		if w.Status == "idle" || w.Status == "done" {
			continue
		}
		aw := store.ActiveWorker{Worker: *w}
		if w.BeadID != nil {
			if c, ok := m.claims[*w.BeadID]; ok && c.Status == "in_progress" {
				hb, lease := c.HeartbeatAt, c.LeaseExpiresAt
				aw.HeartbeatAt, aw.LeaseExpiresAt = &hb, &lease
			}
		}
		out = append(out, aw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (m *memStore) WorkerCounts(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, w := range m.workers {
		counts[w.Status]++
	}
	return counts, nil
}

func (m *memStore) recoverExpired() int {
	now := m.clock()
	recovered := 0
	for beadID, c := range m.claims {
		if c.Status != "in_progress" || c.LeaseExpiresAt.After(now) {
			continue
		}
		delete(m.claims, beadID)
		if b, ok := m.beads[beadID]; ok && b.Status == "in_progress" {
			b.Status = "pending"
		}
		if w, ok := m.workers[c.ClaimedBy]; ok && w.BeadID != nil && *w.BeadID == beadID {
			m.resetWorker(w)
		}
		recovered++
	}
	return recovered
}

func (m *memStore) resetWorker(w *store.Worker) {
	w.BeadID, w.CurrentStage, w.StageStartedAt, w.Feedback = nil, nil, nil, nil
	w.Status = "idle"
	w.Attempt = 0
	w.LastUpdate = m.clock()
}

func (m *memStore) liveClaimFor(workerID int) *store.Claim {
	now := m.clock()
	for _, c := range m.claims {
		if c.ClaimedBy == workerID && c.Status == "in_progress" && c.LeaseExpiresAt.After(now) {
			return c
		}
	}
	return nil
}

func (m *memStore) acquire(workerID int, bead *store.Bead, leaseMS int) *store.Claim {
	now := m.clock()
	claim := &store.Claim{
		BeadID: bead.BeadID, ClaimedBy: workerID, Status: "in_progress",
		ClaimedAt: now, HeartbeatAt: now,
		LeaseExpiresAt: now.Add(time.Duration(leaseMS) * time.Millisecond),
	}
	bead.Status = "in_progress"
	m.claims[bead.BeadID] = claim
	w := m.workers[workerID]
	beadID := bead.BeadID
	st := stage.RustContract.String()
	w.BeadID, w.CurrentStage = &beadID, &st
	started := now
	w.StageStartedAt = &started
	w.Status = "working"
	w.Attempt = 0
	w.Feedback = nil
	copied := *claim
	return &copied
}

func (m *memStore) ClaimNext(ctx context.Context, workerID int, priority string, leaseMS int) (*store.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverExpired()
	if _, ok := m.workers[workerID]; !ok {
		return nil, protocol.New(protocol.KindBead, "worker %d not found; register workers first", workerID)
	}
	if existing := m.liveClaimFor(workerID); existing != nil {
		copied := *existing
		return &copied, nil
	}
	bead := m.oldestPending(priority)
	if bead == nil {
		return nil, nil
	}
	return m.acquire(workerID, bead, leaseMS), nil
}

func (m *memStore) Assign(ctx context.Context, workerID int, beadID string, leaseMS int) (*store.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverExpired()
	if _, ok := m.workers[workerID]; !ok {
		return nil, protocol.New(protocol.KindBead, "worker %d not found; register workers first", workerID)
	}
	bead, ok := m.beads[beadID]
	if !ok {
		return nil, protocol.New(protocol.KindBead, "bead %s not found", beadID)
	}
	if bead.Status != "pending" {
		return nil, protocol.New(protocol.KindStage, "bead %s is %s, not pending", beadID, bead.Status)
	}
	return m.acquire(workerID, bead, leaseMS), nil
}

func (m *memStore) Heartbeat(ctx context.Context, workerID int, beadID string, extensionMS int) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoverExpired()
	c, ok := m.claims[beadID]
	now := m.clock()
	if !ok || c.ClaimedBy != workerID || c.Status != "in_progress" || !c.LeaseExpiresAt.After(now) {
		return time.Time{}, protocol.New(protocol.KindWorker,
			"worker %d holds no live claim on bead %s", workerID, beadID)
	}
	c.HeartbeatAt = now
	proposed := now.Add(time.Duration(extensionMS) * time.Millisecond)
	if proposed.After(c.LeaseExpiresAt) {
		c.LeaseExpiresAt = proposed
	}
	return c.LeaseExpiresAt, nil
}

func (m *memStore) RecoverExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recoverExpired(), nil
}

func (m *memStore) Release(ctx context.Context, workerID int, force bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.liveClaimFor(workerID)
	if c == nil {
		return "", protocol.New(protocol.KindWorker, "worker %d holds no active claim", workerID)
	}
	beadID := c.BeadID
	if force {
		c.Status = "blocked"
		m.beads[beadID].Status = "blocked"
	} else {
		delete(m.claims, beadID)
		m.beads[beadID].Status = "pending"
	}
	m.resetWorker(m.workers[workerID])
	return beadID, nil
}

func (m *memStore) ActiveClaim(ctx context.Context, workerID int) (*store.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.claims {
		if c.ClaimedBy == workerID && c.Status == "in_progress" {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) StartAttempt(ctx context.Context, workerID int, beadID string, st stage.Stage) (*store.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.liveClaimFor(workerID); c == nil || c.BeadID != beadID {
		return nil, protocol.New(protocol.KindWorker,
			"worker %d holds no live claim on bead %s", workerID, beadID)
	}
	number := 1
	for _, a := range m.history {
		if a.BeadID == beadID && a.Stage == st.String() && a.AttemptNumber >= number {
			number = a.AttemptNumber + 1
		}
	}
	attempt := &store.Attempt{
		ID: m.id(), AgentID: workerID, BeadID: beadID, Stage: st.String(),
		AttemptNumber: number, Status: "started", StartedAt: m.clock(),
	}
	m.history = append(m.history, attempt)
	w := m.workers[workerID]
	s := st.String()
	now := m.clock()
	w.CurrentStage, w.StageStartedAt, w.Status = &s, &now, "working"
	copied := *attempt
	return &copied, nil
}

func (m *memStore) CompleteAttempt(ctx context.Context, attemptID int64, res stage.Result, durationMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.history {
		if a.ID != attemptID {
			continue
		}
		if a.Status != "started" {
			return protocol.New(protocol.KindStage, "attempt %d is not open", attemptID)
		}
		a.Status = string(res.Outcome)
		outcome := string(res.Outcome)
		a.Result = &outcome
		if res.Feedback != "" {
			fb := res.Feedback
			a.Feedback = &fb
		}
		now := m.clock()
		a.CompletedAt = &now
		a.DurationMS = &durationMS
		return nil
	}
	return protocol.New(protocol.KindStage, "attempt %d is not open", attemptID)
}

func (m *memStore) AttemptCount(ctx context.Context, beadID string, st stage.Stage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.history {
		if a.BeadID == beadID && a.Stage == st.String() {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ApplyTransition(ctx context.Context, workerID int, beadID string, tr stage.Transition, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workers[workerID]
	now := m.clock()
	switch tr.Kind {
	case stage.TransitionNoOp:
		return nil
	case stage.TransitionAdvance:
		s := tr.Next.String()
		w.CurrentStage, w.StageStartedAt, w.Status = &s, &now, "working"
	case stage.TransitionRetry:
		s := tr.Next.String()
		w.CurrentStage, w.StageStartedAt, w.Status = &s, &now, "waiting"
		w.Attempt++
		if feedback != "" {
			fb := feedback
			w.Feedback = &fb
		}
	case stage.TransitionBlock:
		if c, ok := m.claims[beadID]; ok && c.ClaimedBy == workerID {
			c.Status = "blocked"
		}
		m.beads[beadID].Status = "blocked"
		w.Status = "error"
		if feedback != "" {
			fb := feedback
			w.Feedback = &fb
		}
	case stage.TransitionComplete:
		if c, ok := m.claims[beadID]; ok {
			c.Status = "completed"
		}
		m.beads[beadID].Status = "completed"
		m.resetWorker(w)
	}
	w.LastUpdate = now
	return nil
}

func (m *memStore) MarkLandingRetryable(ctx context.Context, workerID int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return protocol.New(protocol.KindBead, "worker %d not found", workerID)
	}
	s := stage.RedQueen.String()
	w.CurrentStage = &s
	w.Status = "waiting"
	w.Feedback = nil
	if reason != "" {
		fb := reason
		w.Feedback = &fb
	}
	w.LastUpdate = m.clock()
	return nil
}

func (m *memStore) History(ctx context.Context, beadID string, limit int) ([]store.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Attempt
	for _, a := range m.history {
		if a.BeadID == beadID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LatestAttempt(ctx context.Context, beadID string, st stage.Stage) (*store.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *store.Attempt
	for _, a := range m.history {
		if a.BeadID != beadID || a.Stage != st.String() {
			continue
		}
		if latest == nil || a.AttemptNumber > latest.AttemptNumber {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memStore) StoreArtifact(ctx context.Context, attemptID int64, artifactType, content string, metadata json.RawMessage) (*store.StoredArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var attempt *store.Attempt
	for _, a := range m.history {
		if a.ID == attemptID {
			attempt = a
			break
		}
	}
	if attempt == nil {
		return nil, protocol.New(protocol.KindStage, "attempt %d not found", attemptID)
	}
	hash := store.HashContent(content)
	for _, existing := range m.artifacts {
		if existing.Stage == attempt.Stage && existing.AttemptNumber == attempt.AttemptNumber &&
			existing.BeadID == attempt.BeadID && existing.Type == artifactType &&
			existing.ContentHash == hash {
			return &store.StoredArtifact{
				ID: existing.ArtifactID, Type: existing.Type,
				Content: existing.Content, ContentHash: existing.ContentHash,
			}, nil
		}
	}
	art := store.BeadArtifact{
		BeadID: attempt.BeadID, Stage: attempt.Stage, AttemptNumber: attempt.AttemptNumber,
		ArtifactID: m.id(), Type: artifactType, Content: content, Metadata: metadata,
		ContentHash: hash, CreatedAt: m.clock(),
	}
	m.artifacts = append(m.artifacts, art)
	return &store.StoredArtifact{
		ID: art.ArtifactID, Type: art.Type, Content: art.Content,
		ContentHash: art.ContentHash, CreatedAt: art.CreatedAt,
	}, nil
}

func (m *memStore) ListArtifacts(ctx context.Context, beadID, artifactType string, limit int) ([]store.BeadArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.BeadArtifact
	for _, a := range m.artifacts {
		if a.BeadID != beadID {
			continue
		}
		if artifactType != "" && a.Type != artifactType {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttemptNumber != out[j].AttemptNumber {
			return out[i].AttemptNumber < out[j].AttemptNumber
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ArtifactID < out[j].ArtifactID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LatestArtifact(ctx context.Context, beadID, artifactType string) (*store.BeadArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *store.BeadArtifact
	for i := range m.artifacts {
		a := &m.artifacts[i]
		if a.BeadID != beadID || a.Type != artifactType {
			continue
		}
		if latest == nil || a.ArtifactID > latest.ArtifactID {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memStore) AppendEvent(ctx context.Context, in store.EventInput) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := int64(len(m.events) + 1)
	e := store.Event{
		Seq: seq, SchemaVersion: store.EventSchemaVersion, Type: in.Type,
		EntityID: in.EntityID, Diagnostics: in.Diagnostics, CreatedAt: m.clock(),
	}
	if e.EntityID == "" {
		e.EntityID = in.BeadID
	}
	if in.BeadID != "" {
		b := in.BeadID
		e.BeadID = &b
	}
	if in.AgentID > 0 {
		a := in.AgentID
		e.AgentID = &a
	}
	if in.Stage != "" {
		s := in.Stage
		e.Stage = &s
	}
	if in.CausationID != "" {
		c := in.CausationID
		e.CausationID = &c
	}
	if in.Payload != nil {
		raw, _ := json.Marshal(in.Payload)
		e.Payload = raw
	}
	m.events = append(m.events, e)
	return seq, nil
}

func (m *memStore) AppendEventIfAbsent(ctx context.Context, in store.EventInput) (int64, bool, error) {
	if in.CausationID != "" {
		m.mu.Lock()
		for _, e := range m.events {
			if e.Type == in.Type && e.BeadID != nil && *e.BeadID == in.BeadID &&
				e.CausationID != nil && *e.CausationID == in.CausationID {
				m.mu.Unlock()
				return e.Seq, false, nil
			}
		}
		m.mu.Unlock()
	}
	seq, err := m.AppendEvent(ctx, in)
	return seq, err == nil, err
}

func (m *memStore) Query(ctx context.Context, opts eventlog.QueryOpts) ([]store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := opts.Limit
	if limit <= 0 {
		limit = eventlog.DefaultLimit
	}
	var out []store.Event
	for _, e := range m.events {
		if opts.BeadID != "" && (e.BeadID == nil || *e.BeadID != opts.BeadID) {
			continue
		}
		if opts.EventType != "" && e.Type != opts.EventType {
			continue
		}
		if opts.SinceSeq > 0 && e.Seq <= opts.SinceSeq {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) RecordAudit(ctx context.Context, cmd, rid string, args json.RawMessage, ok bool, ms int64, errorCode string, changes json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := store.AuditEntry{
		ID: m.id(), TS: m.clock(), Cmd: cmd, Args: args, OK: ok, MS: ms, Changes: changes,
	}
	if rid != "" {
		entry.RID = &rid
	}
	if errorCode != "" {
		entry.ErrorCode = &errorCode
	}
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) RecentAudit(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.AuditEntry, 0, limit)
	for i := len(m.audits) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audits[i])
	}
	return out, nil
}

func (m *memStore) AcquireLock(ctx context.Context, resource, holder string, ttlMS int) (*store.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if l, ok := m.locks[resource]; ok && l.UntilAt.After(now) && l.Holder != holder {
		return nil, protocol.New(protocol.KindBusy, "resource %s is locked by %s", resource, l.Holder)
	}
	l := store.Lock{
		Resource: resource, Holder: holder, AcquiredAt: now,
		UntilAt: now.Add(time.Duration(ttlMS) * time.Millisecond),
	}
	m.locks[resource] = l
	return &l, nil
}

func (m *memStore) ReleaseLock(ctx context.Context, resource, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[resource]
	if !ok {
		return false, nil
	}
	if l.Holder != holder {
		return false, protocol.New(protocol.KindUnauthorized,
			"resource %s is held by %s, not %s", resource, l.Holder, holder)
	}
	delete(m.locks, resource)
	return true, nil
}

func (m *memStore) ReleaseHolderLocks(ctx context.Context, holder string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for resource, l := range m.locks {
		if l.Holder == holder {
			delete(m.locks, resource)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListLocks(ctx context.Context) ([]store.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Lock
	now := m.clock()
	for _, l := range m.locks {
		if l.UntilAt.After(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out, nil
}

func (m *memStore) SendMessage(ctx context.Context, fromAgent, toAgent int, beadID, msgType, subject, body string, metadata json.RawMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := store.Message{
		ID: m.id(), FromAgent: fromAgent, Type: msgType, Subject: subject,
		Body: body, Metadata: metadata, CreatedAt: m.clock(),
	}
	if toAgent > 0 {
		msg.ToAgent = &toAgent
	}
	if beadID != "" {
		msg.BeadID = &beadID
	}
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

func (m *memStore) UnreadMessages(ctx context.Context, agentID, limit int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, msg := range m.messages {
		if msg.Read {
			continue
		}
		if msg.ToAgent != nil && agentID > 0 && *msg.ToAgent != agentID {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkMessagesRead(ctx context.Context, ids []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.messages {
		for _, id := range ids {
			if m.messages[i].ID == id && !m.messages[i].Read {
				m.messages[i].Read = true
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) LoadSwarmConfig(ctx context.Context) (*store.SwarmConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := m.cfg
	return &copied, nil
}

func (m *memStore) SetSwarmStatus(ctx context.Context, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.SwarmStatus = status
	return nil
}

func (m *memStore) UpdateLimits(ctx context.Context, maxAgents, maxAttempts int, claimLabel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxAgents > 0 {
		m.cfg.MaxAgents = maxAgents
	}
	if maxAttempts > 0 {
		m.cfg.MaxAttempts = maxAttempts
	}
	if claimLabel != "" {
		m.cfg.ClaimLabel = claimLabel
	}
	return nil
}

func (m *memStore) Resumable(ctx context.Context) ([]store.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Worker
	for _, w := range m.workers {
		if w.BeadID != nil && (w.Status == "working" || w.Status == "waiting" || w.Status == "error") {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (m *memStore) BuildResumeContext(ctx context.Context, workerID, historyLimit int) (*store.ResumeContext, error) {
	worker, err := m.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	rc := &store.ResumeContext{Worker: worker}
	if worker.BeadID == nil {
		return rc, nil
	}
	rc.Bead, _ = m.GetBead(ctx, *worker.BeadID)
	rc.Claim, _ = m.ActiveClaim(ctx, workerID)
	rc.History, _ = m.History(ctx, *worker.BeadID, historyLimit)
	rc.AttemptCount = len(rc.History)
	rc.RetryPacket, _ = m.LatestArtifact(ctx, *worker.BeadID, "retry_packet")
	return rc, nil
}

var _ Store = (*memStore)(nil)
var _ EventQuerier = (*memStore)(nil)
