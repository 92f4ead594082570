package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Gespeicherte Lizenz offline prüfen",
		Long: `Prüft die gespeicherte Lizenz ohne Serverkontakt und zeigt die
freigeschalteten Features an.`,
		RunE: runCheck,
	}
}

func runCheck(*cobra.Command, []string) error {
	a := newAgent(buildLogger())

	if !a.license.IsValid() {
		fmt.Println("ERROR: Lizenz ist ungültig oder abgelaufen")

		return errReported
	}

	fmt.Println("SUCCESS: Lizenz ist gültig")
	fmt.Println("Freigeschaltete Features:")

	features := a.license.Features()

	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	slices.Sort(names)

	on, off := featureSymbols()

	for _, name := range names {
		mark := off
		if features[name] {
			mark = on
		}

		fmt.Printf("  [%s] %s\n", mark, name)
	}

	return nil
}
