package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
)

func newHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Einzelnen Heartbeat an den Server senden",
		RunE:  runHeartbeat,
	}
}

func runHeartbeat(cmd *cobra.Command, _ []string) error {
	a := newAgent(buildLogger())

	req := central.HeartbeatRequest{
		DeviceID: a.ident.DeviceID(),
		APIKey:   a.license.APIKey(),
	}

	if err := a.client.Heartbeat(cmd.Context(), req); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	statusf("Heartbeat gesendet\n")

	return nil
}
