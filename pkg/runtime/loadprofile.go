package runtime

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"swarm/pkg/protocol"
	"swarm/pkg/store"
)

// loadProfile is the YAML shape of a load plan file.
type loadProfile struct {
	Beads  int    `yaml:"beads"`
	Agents int    `yaml:"agents"`
	Rounds int    `yaml:"rounds"`
	Prefix string `yaml:"prefix"`
	Label  string `yaml:"label"`
	Title  string `yaml:"title"`
}

// handleLoadProfile seeds synthetic backlog load and optionally runs
// claim rounds against it, reporting claim/empty counts and claim
// latency percentiles. The profile comes from a YAML plan file, inline
// arguments, or both; inline arguments win.
func handleLoadProfile(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	profile := loadProfile{Prefix: "load", Label: c.Cfg.ClaimLabel, Title: "synthetic load bead"}

	if path, perr := req.OptionalStringArg("plan_file"); perr != nil {
		return nil, parseErr(perr)
	} else if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, protocol.Wrap(protocol.KindConfig, err, "read plan file %s", path)
		}
		if err := yaml.Unmarshal(raw, &profile); err != nil {
			return nil, protocol.Wrap(protocol.KindConfig, err, "parse plan file %s", path)
		}
	}

	if n, ok, perr := req.OptionalIntArg("beads"); perr != nil {
		return nil, parseErr(perr)
	} else if ok {
		profile.Beads = int(n)
	}
	if n, ok, perr := req.OptionalIntArg("agents"); perr != nil {
		return nil, parseErr(perr)
	} else if ok {
		profile.Agents = int(n)
	}
	if n, ok, perr := req.OptionalIntArg("rounds"); perr != nil {
		return nil, parseErr(perr)
	} else if ok {
		profile.Rounds = int(n)
	}
	if prefix, perr := req.OptionalStringArg("prefix"); perr != nil {
		return nil, parseErr(perr)
	} else if prefix != "" {
		profile.Prefix = prefix
	}
	if label, perr := req.OptionalStringArg("label"); perr != nil {
		return nil, parseErr(perr)
	} else if label != "" {
		profile.Label = label
	}

	if profile.Beads < 1 {
		return nil, parseErr(protocol.InvalidValue("beads", "must be >= 1"))
	}
	if profile.Beads > protocol.MaxHistoryLimit {
		return nil, parseErr(protocol.InvalidValue("beads",
			fmt.Sprintf("must be at most %d", protocol.MaxHistoryLimit)))
	}
	if profile.Agents < 0 {
		return nil, parseErr(protocol.InvalidValue("agents", "must be >= 0"))
	}
	if profile.Rounds < 0 {
		return nil, parseErr(protocol.InvalidValue("rounds", "must be >= 0"))
	}

	if req.Dry {
		steps := []string{
			step("generate %d beads with prefix %s at %s", profile.Beads, profile.Prefix, profile.Label),
		}
		if profile.Agents > 0 && profile.Rounds > 0 {
			steps = append(steps,
				step("register %d workers", profile.Agents),
				step("run %d claim rounds and report latency percentiles", profile.Rounds))
		}
		return dryPlan("load-profile", steps...), nil
	}

	inputs := make([]store.BeadInput, 0, profile.Beads)
	ids := make([]string, 0, profile.Beads)
	for i := 0; i < profile.Beads; i++ {
		id := fmt.Sprintf("%s-%s", profile.Prefix, uuid.NewString())
		ids = append(ids, id)
		inputs = append(inputs, store.BeadInput{
			BeadID:   id,
			Priority: profile.Label,
			Title:    fmt.Sprintf("%s %d/%d", profile.Title, i+1, profile.Beads),
		})
	}
	inserted, err := c.Store.EnqueueBeads(ctx, inputs)
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"inserted": inserted, "label": profile.Label, "bead_ids": ids,
	}
	changes := map[string]any{"beads_inserted": inserted}

	if profile.Agents > 0 && profile.Rounds > 0 {
		rounds, err := c.runClaimRounds(ctx, profile)
		if err != nil {
			return nil, err
		}
		data["rounds"] = rounds
		changes["claims_run"] = rounds["claimed"]
	}

	return &result{
		data:    data,
		next:    "swarm claim-next --agent-id 1",
		changes: changes,
	}, nil
}

// runClaimRounds hammers the claim path: every agent claims and
// releases once per round, so the numbers measure contention on the
// skip-locked selection rather than pipeline execution.
func (c *Coordinator) runClaimRounds(ctx context.Context, profile loadProfile) (map[string]any, error) {
	if _, err := c.Store.RegisterWorkers(ctx, profile.Agents); err != nil {
		return nil, err
	}

	claimed, empty := 0, 0
	var latencies []time.Duration
	for round := 0; round < profile.Rounds; round++ {
		for agent := 1; agent <= profile.Agents; agent++ {
			started := time.Now()
			claim, err := c.Store.ClaimNext(ctx, agent, profile.Label, c.Cfg.LeaseMS)
			latencies = append(latencies, time.Since(started))
			if err != nil {
				return nil, err
			}
			if claim == nil {
				empty++
				continue
			}
			claimed++
			if _, err := c.Store.Release(ctx, agent, false); err != nil {
				return nil, err
			}
		}
	}

	return map[string]any{
		"agents":  profile.Agents,
		"rounds":  profile.Rounds,
		"claimed": claimed,
		"empty":   empty,
		"p50_ms":  percentileMS(latencies, 50),
		"p95_ms":  percentileMS(latencies, 95),
	}, nil
}

func percentileMS(latencies []time.Duration, pct int) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (pct*len(sorted) + 99) / 100
	if idx > 0 {
		idx--
	}
	return float64(sorted[idx].Microseconds()) / 1000
}
