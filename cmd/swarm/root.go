package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"swarm/internal/version"
	"swarm/pkg/backlog"
	"swarm/pkg/config"
	"swarm/pkg/eventlog"
	"swarm/pkg/runtime"
	"swarm/pkg/skill"
	"swarm/pkg/store"
)

// newRootCmd creates the root swarm command. The returned int holds
// the exit code of the final protocol request once Execute returns.
func newRootCmd() (*cobra.Command, *int) {
	var configPath string
	exit := new(int)

	cmd := &cobra.Command{
		Use:   "swarm",
		Short: "Agent swarm coordinator",
		Long: "swarm coordinates a pool of coding agents over a shared Postgres store.\n" +
			"It reads one JSON request per line on stdin and writes one envelope per line on stdout.",
		Version:       fmt.Sprintf("swarm %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := runServe(cmd.Context(), configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
			*exit = code
			return err
		},
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default .swarm/config.toml)")

	return cmd, exit
}

func runServe(parent context.Context, configPath string, out, errOut io.Writer) (int, error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewJSONHandler(errOut, nil))

	if isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprintln(errOut, `swarm: reading JSON requests from stdin; try {"cmd":"help"} or pipe a request stream (Ctrl-D ends the session)`)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return 0, err
	}

	db, err := store.Open(cfg.DatabaseURL, cfg.ConnectTimeoutMS)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	coord := runtime.New(
		db,
		eventlog.NewReader(db),
		cfg,
		skill.NewExecRunner(cfg.SkillTimeoutMS),
		skill.NewLander(cfg.LandCommand),
		log,
	)

	startBacklogWatch(ctx, cfg, db, log)

	return coord.Serve(ctx, os.Stdin, out)
}

// startBacklogWatch syncs the external bead database into the backlog
// and keeps it synced while the session runs. A missing database is
// normal (backlog is seeded through the protocol instead); anything
// else is logged and the session continues without the watcher.
func startBacklogWatch(ctx context.Context, cfg config.Config, db *store.DB, log *slog.Logger) {
	source, err := backlog.OpenSource(cfg.BeadsDBPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("backlog source unavailable", "path", cfg.BeadsDBPath, "err", err)
		}
		return
	}

	sync := func(ctx context.Context) error {
		n, err := source.Sync(ctx, db)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("backlog synced", "beads", n)
		}
		return nil
	}
	if err := sync(ctx); err != nil {
		log.Warn("initial backlog sync failed", "err", err)
	}

	go func() {
		defer source.Close()
		if err := backlog.NewWatcher(source, 0, log).Run(ctx, sync); err != nil && ctx.Err() == nil {
			log.Warn("backlog watcher stopped", "err", err)
		}
	}()
}
