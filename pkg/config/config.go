// Package config loads coordinator configuration from
// .swarm/config.toml with environment overrides. Unset values fall
// back to documented defaults; the connect timeout is always clamped
// to its legal range.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"swarm/pkg/protocol"
)

// Connect timeout bounds in milliseconds.
const (
	DefaultConnectTimeoutMS = 3000
	MinConnectTimeoutMS     = 100
	MaxConnectTimeoutMS     = 30000
)

// Defaults for the coordinator limits.
const (
	DefaultMaxAgents     = 12
	DefaultMaxAttempts   = 3
	DefaultClaimLabel    = "p0"
	DefaultSkillTimeout  = 3000
	DefaultLeaseMS       = 5 * 60 * 1000
	DefaultConfigPath    = ".swarm/config.toml"
	DefaultBeadsDBSuffix = ".beads/beads.db"
)

// StageCommands maps each executable stage to the shell command that
// runs its skill. {bead_id} is substituted before execution.
type StageCommands struct {
	RustContract string `toml:"rust_contract_cmd"`
	Implement    string `toml:"implement_cmd"`
	QAEnforcer   string `toml:"qa_enforcer_cmd"`
	RedQueen     string `toml:"red_queen_cmd"`
}

// Config is the full coordinator configuration surface.
type Config struct {
	DatabaseURL      string        `toml:"database_url"`
	ConnectTimeoutMS int           `toml:"connect_timeout_ms"`
	MaxAgents        int           `toml:"max_agents"`
	MaxAttempts      int           `toml:"max_implementation_attempts"`
	ClaimLabel       string        `toml:"claim_label"`
	LeaseMS          int           `toml:"lease_ms"`
	SkillTimeoutMS   int           `toml:"skill_timeout_ms"`
	LandCommand      string        `toml:"land_cmd"`
	BeadsDBPath      string        `toml:"beads_db"`
	Stages           StageCommands `toml:"stages"`
}

// Default returns the configuration with every field at its default.
func Default() Config {
	return Config{
		ConnectTimeoutMS: DefaultConnectTimeoutMS,
		MaxAgents:        DefaultMaxAgents,
		MaxAttempts:      DefaultMaxAttempts,
		ClaimLabel:       DefaultClaimLabel,
		LeaseMS:          DefaultLeaseMS,
		SkillTimeoutMS:   DefaultSkillTimeout,
		BeadsDBPath:      DefaultBeadsDBSuffix,
		LandCommand:      "jj git push",
		Stages: StageCommands{
			RustContract: "br show {bead_id}",
			Implement:    "jj status",
			QAEnforcer:   "moon run :quick",
			RedQueen:     "moon run :test",
		},
	}
}

// Load reads path (DefaultConfigPath when empty), merges it over the
// defaults, then applies environment overrides. A missing file is not
// an error; a malformed file is a Config error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults + env only
	case err != nil:
		return cfg, protocol.Wrap(protocol.KindConfig, err, "read config %s", path)
	default:
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return cfg, protocol.Wrap(protocol.KindConfig, err, "parse config %s", path)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if url := strings.TrimSpace(os.Getenv("DATABASE_URL")); url != "" {
		cfg.DatabaseURL = url
	}
	if raw := strings.TrimSpace(os.Getenv("SWARM_CONNECT_TIMEOUT_MS")); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil {
			cfg.ConnectTimeoutMS = ms
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SWARM_MAX_AGENTS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			cfg.MaxAgents = n
		}
	}
	if path := strings.TrimSpace(os.Getenv("SWARM_BEADS_DB")); path != "" {
		cfg.BeadsDBPath = path
	}
}

func normalize(cfg *Config) {
	cfg.ConnectTimeoutMS = ClampConnectTimeout(cfg.ConnectTimeoutMS)
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ClaimLabel == "" {
		cfg.ClaimLabel = DefaultClaimLabel
	}
	if cfg.LeaseMS < 1 {
		cfg.LeaseMS = DefaultLeaseMS
	}
	if cfg.SkillTimeoutMS < 1 {
		cfg.SkillTimeoutMS = DefaultSkillTimeout
	}
}

// ClampConnectTimeout bounds a connect timeout to
// [MinConnectTimeoutMS, MaxConnectTimeoutMS]; non-positive values
// take the default.
func ClampConnectTimeout(ms int) int {
	if ms <= 0 {
		return DefaultConnectTimeoutMS
	}
	if ms < MinConnectTimeoutMS {
		return MinConnectTimeoutMS
	}
	if ms > MaxConnectTimeoutMS {
		return MaxConnectTimeoutMS
	}
	return ms
}

// Command returns the configured shell command for an executable
// stage, or empty when the stage is terminal.
func (s StageCommands) Command(name string) string {
	switch name {
	case "rust-contract":
		return s.RustContract
	case "implement":
		return s.Implement
	case "qa-enforcer":
		return s.QAEnforcer
	case "red-queen":
		return s.RedQueen
	default:
		return ""
	}
}
