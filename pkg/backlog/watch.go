package backlog

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-syncs the backlog whenever the beads database file
// changes on disk. Events are debounced: SQLite touches the file
// several times per commit and one sync per burst is enough.
type Watcher struct {
	source   *SQLiteSource
	debounce time.Duration
	log      *slog.Logger
}

// NewWatcher builds a watcher over the source with the given
// debounce window (0 takes 500ms).
func NewWatcher(source *SQLiteSource, debounce time.Duration, log *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{source: source, debounce: debounce, log: log}
}

// Run watches until ctx is done, calling sync after each debounced
// change burst. The watch is on the parent directory because SQLite
// replaces the file on checkpoint, which drops inode-level watches.
func (w *Watcher) Run(ctx context.Context, sync func(context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.source.Path())
	if err := fw.Add(dir); err != nil {
		return err
	}
	target := filepath.Base(w.source.Path())

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("backlog watch error", "err", err)

		case <-fire:
			timer = nil
			fire = nil
			if err := sync(ctx); err != nil {
				w.log.Error("backlog sync failed", "err", err)
			} else {
				w.log.Info("backlog synced", "source", w.source.Path())
			}
		}
	}
}
