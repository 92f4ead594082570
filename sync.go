package main

import (
	"github.com/spf13/cobra"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Einen Sync-Zyklus ausführen",
		Long: `Führt einen einzelnen Sync-Zyklus aus: lokale Änderungen werden zum
zentralen Server übertragen und Server-Änderungen angewendet.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, mode)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "bidirectional", "Sync-Richtung (push, pull, bidirectional)")

	return cmd
}

func runSync(cmd *cobra.Command, rawMode string) error {
	mode, err := sync.ParseMode(rawMode)
	if err != nil {
		return err
	}

	a := newAgent(buildLogger())

	engine, cleanup, err := newSyncEngine(a)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := engine.Sync(cmd.Context(), mode)
	if err != nil {
		return err
	}

	statusf("Sync abgeschlossen: %d gesendet, %d empfangen, %d Konflikte\n",
		report.RecordsSent, report.RecordsReceived, report.Conflicts)

	return nil
}
