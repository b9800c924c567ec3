package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"swarm/pkg/config"
	"swarm/pkg/protocol"
	"swarm/pkg/skill"
)

// Coordinator wires the request plane together: durable state, the
// event reader, configuration, and the external collaborators.
type Coordinator struct {
	Store  Store
	Events EventQuerier
	Cfg    config.Config
	Runner skill.Runner
	Lander *skill.Lander
	Log    *slog.Logger
}

// New builds a coordinator. A nil logger falls back to slog.Default.
func New(st Store, events EventQuerier, cfg config.Config, runner skill.Runner, lander *skill.Lander, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{Store: st, Events: events, Cfg: cfg, Runner: runner, Lander: lander, Log: log}
}

// result is what a handler produces on success.
type result struct {
	data    any
	next    string
	changes map[string]any
}

type handlerFunc func(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error)

// Handle runs one parsed request end to end: argument checks,
// handler dispatch, state summary, and exactly one audit row. The
// returned envelope is always complete and single-line encodable.
func (c *Coordinator) Handle(ctx context.Context, req *protocol.Request) *protocol.Envelope {
	started := time.Now()

	env, changes := c.dispatch(ctx, req)
	ms := time.Since(started).Milliseconds()
	env.WithMS(ms)

	if err := c.writeAudit(ctx, req, env, ms, changes); err != nil {
		if env.OK {
			// The command succeeded but its audit row did not land;
			// surface that rather than pretend the trail is intact.
			return protocol.FailureFrom(req.RID, protocol.Wrap(
				protocol.KindInternal, err, "command succeeded but audit write failed")).
				WithFix("check database health with: swarm doctor").
				WithMS(ms)
		}
		c.Log.Error("audit write failed on failing command",
			"cmd", req.Cmd, "rid", req.RID, "err", err)
	}
	return env
}

func (c *Coordinator) dispatch(ctx context.Context, req *protocol.Request) (*protocol.Envelope, map[string]any) {
	if !KnownCommand(req.Cmd) {
		env := protocol.Failure(req.RID, protocol.CodeInvalid,
			"unknown command "+strconvQuote(req.Cmd)).
			WithFix("run: swarm help")
		env.Exit = protocol.KindSerialization.ExitCode()
		return env, nil
	}
	if perr := checkArgs(req); perr != nil {
		return c.parseFailure(req, perr), nil
	}

	handler := handlers[req.Cmd]
	res, err := handler(ctx, c, req)
	if err != nil {
		var perr *protocol.ParseError
		if errors.As(err, &perr) {
			return c.parseFailure(req, perr), nil
		}
		return protocol.FailureFrom(req.RID, err), nil
	}

	env := protocol.Success(req.RID, res.data)
	if res.next != "" {
		env.WithNext(res.next)
	}
	env.WithState(c.stateSummary(ctx))
	return env, res.changes
}

// parseFailure converts a typed parse error into the INVALID
// envelope with ctx pointing at the offending field.
func (c *Coordinator) parseFailure(req *protocol.Request, perr *protocol.ParseError) *protocol.Envelope {
	env := protocol.Failure(req.RID, protocol.CodeInvalid, perr.Error())
	env.Exit = protocol.KindSerialization.ExitCode()
	if perr.Field != "" {
		env.WithCtx(map[string]any{"field": perr.Field, "reason": perr.Reason})
		env.WithFix("correct field " + strconvQuote(perr.Field) + " and resend")
	}
	return env
}

// stateSummary computes the envelope's worker snapshot. Failures
// (schema not applied yet) degrade to zeros rather than failing the
// command that succeeded.
func (c *Coordinator) stateSummary(ctx context.Context) protocol.StateSummary {
	counts, err := c.Store.WorkerCounts(ctx)
	if err != nil {
		return protocol.StateSummary{}
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return protocol.StateSummary{
		Total:  total,
		Active: counts["working"] + counts["waiting"],
	}
}

func (c *Coordinator) writeAudit(ctx context.Context, req *protocol.Request, env *protocol.Envelope, ms int64, changes map[string]any) error {
	args, err := json.Marshal(Redact(req.Args))
	if err != nil {
		args = json.RawMessage(`{}`)
	}
	if req.Dry {
		changes = nil
	}
	changesRaw := json.RawMessage(`{}`)
	if len(changes) > 0 {
		if raw, err := json.Marshal(changes); err == nil {
			changesRaw = raw
		}
	}
	errorCode := ""
	if env.Err != nil {
		errorCode = env.Err.Code
	}
	return c.Store.RecordAudit(ctx, req.Cmd, req.RID, args, env.OK, ms, errorCode, changesRaw)
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// batchItem is one sub-command outcome; its index matches the input
// position.
type batchItem struct {
	Index int              `json:"i"`
	OK    bool             `json:"ok"`
	D     any              `json:"d,omitempty"`
	Err   *protocol.ErrObj `json:"err,omitempty"`
}

// handleBatch executes ops in order. Item failures are captured in
// place and never abort the batch; only a malformed ops payload is
// rejected up front.
func handleBatch(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	rawOps, ok := req.Args["ops"]
	if !ok {
		return nil, parseErr(protocol.MissingField("ops"))
	}
	list, ok := rawOps.([]any)
	if !ok {
		return nil, parseErr(protocol.InvalidType("ops", "array", "other"))
	}

	started := time.Now()
	items := make([]batchItem, 0, len(list))
	pass, fail := 0, 0
	changes := map[string]any{}

	for i, rawOp := range list {
		opMap, ok := rawOp.(map[string]any)
		if !ok {
			return nil, parseErr(protocol.InvalidValue("ops",
				"every op must be an object with a cmd field"))
		}
		line, err := json.Marshal(opMap)
		if err != nil {
			return nil, parseErr(protocol.InvalidValue("ops", "op is not serializable"))
		}
		sub, perr := protocol.ParseRequest(line)
		if perr != nil {
			return nil, parseErr(protocol.InvalidValue("ops", perr.Error()))
		}
		if sub.Cmd == "batch" {
			return nil, parseErr(protocol.InvalidValue("ops", "batch may not nest"))
		}
		sub.Dry = sub.Dry || req.Dry

		env, subChanges := c.dispatch(ctx, sub)
		item := batchItem{Index: i, OK: env.OK}
		if env.OK {
			item.D = env.D
			pass++
			for k, v := range subChanges {
				changes[k] = v
			}
		} else {
			item.Err = env.Err
			fail++
		}
		items = append(items, item)
	}

	return &result{
		data: map[string]any{
			"items": items,
			"summary": map[string]any{
				"total":      len(items),
				"pass":       pass,
				"fail":       fail,
				"elapsed_ms": time.Since(started).Milliseconds(),
			},
		},
		next:    "swarm status",
		changes: changes,
	}, nil
}

// parseErr converts a ParseError into a taxonomy error so it
// surfaces as INVALID.
func parseErr(perr *protocol.ParseError) error {
	return protocol.Wrap(protocol.KindSerialization, perr, "%s", perr.Error())
}
