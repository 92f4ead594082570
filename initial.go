package main

import (
	"github.com/spf13/cobra"
)

func newInitialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initial",
		Short: "Initialen Sync durchführen",
		Long: `Lädt den kompletten Datenbestand vom zentralen Server und importiert
ihn in die lokale Datenbank. Für die Erstinbetriebnahme eines Geräts.`,
		RunE: runInitial,
	}
}

func runInitial(cmd *cobra.Command, _ []string) error {
	a := newAgent(buildLogger())

	engine, cleanup, err := newSyncEngine(a)
	if err != nil {
		return err
	}
	defer cleanup()

	return engine.InitialSync(cmd.Context())
}
