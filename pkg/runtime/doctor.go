package runtime

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"swarm/pkg/protocol"
	"swarm/pkg/store"
)

// handleDoctor runs the health checks and reports each one
// individually; the command itself succeeds even when checks fail so
// the operator always sees the full list.
func handleDoctor(ctx context.Context, c *Coordinator, req *protocol.Request) (*result, error) {
	checks := []map[string]any{}
	allOK := true
	add := func(name string, ok bool, msg string) {
		checks = append(checks, check(name, ok, msg))
		allOK = allOK && ok
	}

	add("database_url", c.Cfg.DatabaseURL != "",
		"set DATABASE_URL or database_url in .swarm/config.toml")
	if c.Cfg.DatabaseURL != "" {
		add("database_url_masked", true, store.MaskURL(c.Cfg.DatabaseURL))
	}

	schema, err := c.Store.SchemaPresent(ctx)
	switch {
	case err != nil:
		add("database_reachable", false, err.Error())
		add("schema_present", false, "unreachable")
	case !schema:
		add("database_reachable", true, "")
		add("schema_present", false, "run: swarm init-db")
	default:
		add("database_reachable", true, "")
		add("schema_present", true, "")
		if _, err := c.Store.LoadSwarmConfig(ctx); err != nil {
			add("swarm_config", false, err.Error())
		} else {
			add("swarm_config", true, "")
		}
	}

	for _, st := range []string{"rust-contract", "implement", "qa-enforcer", "red-queen"} {
		add("stage_cmd_"+st, c.Cfg.Stages.Command(st) != "",
			"configure [stages] in .swarm/config.toml")
	}
	add("land_cmd", c.Cfg.LandCommand != "", "configure land_cmd")

	// The skill and land commands run through the shell; their leading
	// binaries must resolve on PATH.
	seen := map[string]bool{}
	commands := []string{c.Cfg.LandCommand}
	for _, st := range []string{"rust-contract", "implement", "qa-enforcer", "red-queen"} {
		commands = append(commands, c.Cfg.Stages.Command(st))
	}
	for _, command := range commands {
		bin := firstWord(command)
		if bin == "" || seen[bin] {
			continue
		}
		seen[bin] = true
		_, err := exec.LookPath(bin)
		add("binary_"+bin, err == nil, "install "+bin+" and ensure it is on PATH")
	}

	if c.Cfg.BeadsDBPath != "" {
		_, err := os.Stat(c.Cfg.BeadsDBPath)
		add("beads_db", err == nil, "backlog source file not found: "+c.Cfg.BeadsDBPath)
	}

	next := "swarm status"
	if !allOK {
		next = "swarm init-db"
	}
	return &result{
		data: map[string]any{"ok": allOK, "checks": checks},
		next: next,
	}, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
