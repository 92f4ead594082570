package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRegisterCmd() *cobra.Command {
	var (
		licenseKey string
		legacy     bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Gerät beim zentralen Server registrieren",
		Long: `Registriert dieses Gerät beim zentralen Server. Mit --legacy wird der
ältere Registrierungsendpunkt verwendet, der den api_key für den
Heartbeat ausstellt.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRegister(cmd, licenseKey, legacy)
		},
	}

	cmd.Flags().StringVar(&licenseKey, "license-key", "", "Lizenzschlüssel (Fallback: LICENSE_KEY)")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "älteren Registrierungsendpunkt verwenden")

	return cmd
}

func runRegister(cmd *cobra.Command, licenseKey string, legacy bool) error {
	a := newAgent(buildLogger())

	key := a.licenseKey(licenseKey)

	// The legacy endpoint can fall back to the stored license key; the
	// current one requires an explicit key like the original did.
	if key == "" && !legacy {
		fmt.Println("ERROR: Lizenzschlüssel erforderlich")

		return errReported
	}

	if legacy {
		if _, err := a.license.RegisterLegacy(cmd.Context(), a.client, key); err != nil {
			fmt.Printf("ERROR: %v\n", err)

			return errReported
		}
	} else {
		if _, err := a.license.RegisterDevice(cmd.Context(), a.client, key); err != nil {
			fmt.Printf("ERROR: %v\n", err)

			return errReported
		}
	}

	fmt.Println("SUCCESS: Gerät registriert")
	fmt.Printf("Device ID: %s\n", a.ident.DeviceID())

	return nil
}
