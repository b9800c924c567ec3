package runtime

import (
	"fmt"
	"sort"

	"swarm/pkg/protocol"
)

// allowedArgs is the closed per-command argument surface. A request
// carrying any key outside its command's set is rejected before the
// handler runs, so typos fail loudly instead of being ignored.
var allowedArgs = map[string]map[string]bool{
	"doctor":        argSet(),
	"help":          argSet(),
	"?":             argSet(),
	"status":        argSet(),
	"state":         argSet(),
	"init":          argSet("seed_agents", "max_agents", "max_attempts", "claim_label"),
	"init-db":       argSet("seed_agents", "max_agents", "max_attempts", "claim_label"),
	"init-local-db": argSet("seed_agents", "max_agents", "max_attempts", "claim_label"),
	"bootstrap":     argSet("seed_agents", "max_agents", "max_attempts", "claim_label"),
	"register":      argSet("count"),
	"next":          argSet("label"),
	"claim-next":    argSet("agent_id", "id", "label", "lease_ms"),
	"assign":        argSet("agent_id", "id", "bead_id", "lease_ms"),
	"release":       argSet("agent_id", "id", "force"),
	"heartbeat":     argSet("agent_id", "id", "bead_id", "extend_ms"),
	"agent":         argSet("agent_id", "id"),
	"run-once":      argSet("agent_id", "id"),
	"smoke":         argSet(),
	"monitor":       argSet("view", "limit"),
	"history":       argSet("bead_id", "limit", "event_type", "since_seq"),
	"artifacts":     argSet("bead_id", "artifact_type", "limit"),
	"resume":        argSet(),
	"resume-context": argSet(
		"bead_id", "limit"),
	"qa":            argSet(),
	"lock":          argSet("resource", "holder", "ttl_ms"),
	"unlock":        argSet("resource", "holder"),
	"broadcast":     argSet("from", "subject", "body", "message_type", "bead_id"),
	"agents":        argSet(),
	"prompt":        argSet("agent_id", "id"),
	"spawn-prompts": argSet("dir", "count"),
	"load-profile":  argSet("beads", "agents", "rounds", "prefix", "label", "plan_file"),
	"batch":         argSet("ops"),
}

func argSet(keys ...string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// KnownCommand reports whether cmd is in the dispatch table.
func KnownCommand(cmd string) bool {
	_, ok := allowedArgs[cmd]
	return ok
}

// CommandNames returns the sorted command list for help output.
func CommandNames() []string {
	names := make([]string, 0, len(allowedArgs))
	for name := range allowedArgs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkArgs rejects unknown argument keys for a known command.
func checkArgs(req *protocol.Request) *protocol.ParseError {
	allowed := allowedArgs[req.Cmd]
	for key := range req.Args {
		if !allowed[key] {
			return protocol.InvalidValue(key,
				fmt.Sprintf("unknown argument for %q", req.Cmd))
		}
	}
	return nil
}
