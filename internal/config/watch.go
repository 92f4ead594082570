package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file into a Holder when it changes on disk.
// A reload that fails to parse or validate keeps the previous in-memory
// config; a broken edit must never take down a running daemon.
type Watcher struct {
	holder *Holder
	env    EnvOverrides
	logger *slog.Logger
	fsw    *fsnotify.Watcher
}

// NewWatcher creates a watcher for the holder's config file. The watch is
// placed on the containing directory because editors typically replace the
// file via rename rather than writing it in place, which would orphan an
// inode-level watch.
func NewWatcher(holder *Holder, env EnvOverrides, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	dir := filepath.Dir(holder.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()

		return nil, fmt.Errorf("watching config directory %s: %w", dir, err)
	}

	return &Watcher{
		holder: holder,
		env:    env,
		logger: logger,
		fsw:    fsw,
	}, nil
}

// Run processes filesystem events until ctx is cancelled. It returns nil on
// cancellation; watcher errors are logged, not returned, because a degraded
// watcher only costs hot-reload, never sync correctness.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("Konfigurations-Überwachung meldet Fehler", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.holder.Path()) {
		return
	}

	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}

	cfg, err := Load(w.holder.Path())
	if err != nil {
		w.logger.Warn("Konfiguration ungültig, behalte aktuelle Einstellungen",
			slog.String("path", w.holder.Path()),
			slog.Any("error", err))

		return
	}

	w.env.Apply(cfg)
	w.holder.Update(cfg)
	w.logger.Info("Konfiguration neu geladen", slog.String("path", w.holder.Path()))
}
