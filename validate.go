package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var licenseKey string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Lizenz online validieren",
		Long: `Validiert den Lizenzschlüssel gegen den zentralen Server und speichert
die Lizenz lokal. Ist der Server nicht erreichbar, wird die gespeicherte
Lizenz offline geprüft.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, licenseKey)
		},
	}

	cmd.Flags().StringVar(&licenseKey, "license-key", "", "Lizenzschlüssel (Fallback: LICENSE_KEY)")

	return cmd
}

func runValidate(cmd *cobra.Command, licenseKey string) error {
	a := newAgent(buildLogger())

	key := a.licenseKey(licenseKey)
	if key == "" {
		fmt.Println("ERROR: Lizenzschlüssel erforderlich")

		return errReported
	}

	rec, err := a.license.ValidateOnline(cmd.Context(), a.client, key)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)

		return errReported
	}

	fmt.Printf("SUCCESS: Lizenz validiert bis %s\n", rec.ValidUntil)
	fmt.Printf("Tier: %s\n", rec.Tier)
	fmt.Printf("Organisation: %s\n", rec.Organization)

	return nil
}
