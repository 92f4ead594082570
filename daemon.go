package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/config"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/sync"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Als Daemon laufen",
		Long: `Startet den Sync-Daemon: bidirektionaler Sync und Heartbeat in jedem
Intervall, bis SIGINT oder SIGTERM eintrifft. Konfigurationsänderungen
werden zur Laufzeit übernommen.`,
		RunE: runDaemon,
	}

	cmd.Flags().Int("interval", 0, "Sync-Intervall in Sekunden (Standard aus Konfiguration)")

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	a := newAgent(logger)
	cfg := a.holder.Config()

	cleanupPID, err := writePIDFile(pidFilePath(cfg.SyncDBPath))
	if err != nil {
		return err
	}
	defer cleanupPID()

	engine, cleanup, err := newSyncEngine(a)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	startConfigWatcher(ctx, a, logger)

	sched := sync.NewScheduler(engine, sync.ModeBidirectional, cfg.Interval(), legacyBootstrap(a), logger)

	return sched.Run(ctx)
}

// startConfigWatcher begins hot-reloading the config file. A watcher that
// cannot start only costs the reload feature, never the daemon.
func startConfigWatcher(ctx context.Context, a *agent, logger *slog.Logger) {
	watcher, err := config.NewWatcher(a.holder, a.env, logger)
	if err != nil {
		logger.Warn("Konfigurations-Watcher nicht verfügbar", slog.Any("error", err))

		return
	}

	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("Konfigurations-Watcher beendet", slog.Any("error", err))
		}
	}()
}

// legacyBootstrap returns the startup registration against the older
// endpoint when the device has no api_key yet. With a key present there
// is nothing to do and the scheduler skips the step.
func legacyBootstrap(a *agent) func(context.Context) error {
	if a.license.APIKey() != "" {
		return nil
	}

	return func(ctx context.Context) error {
		_, err := a.license.RegisterLegacy(ctx, a.client, a.env.LicenseKey)

		return err
	}
}
