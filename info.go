package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "System-Informationen und Sync-Konfiguration anzeigen",
		RunE:  runInfo,
	}
}

func runInfo(cmd *cobra.Command, _ []string) error {
	a := newAgent(buildLogger())

	info := a.ident.SystemInfo(cmd.Context())

	fmt.Println("System-Informationen:")
	fmt.Printf("  hostname: %s\n", info.Hostname)
	fmt.Printf("  device_id: %s\n", info.DeviceID)
	fmt.Printf("  pi_version: %s\n", info.PiVersion)
	fmt.Printf("  platform: %s\n", info.OSLabel)
	fmt.Printf("  pi_model: %s\n", info.PiModel)

	if info.Hardware != "" {
		fmt.Printf("  hardware: %s\n", info.Hardware)
	}

	if info.MemoryMiB > 0 {
		fmt.Printf("  memory_mb: %d\n", info.MemoryMiB)
	}

	if info.Uptime != "" {
		fmt.Printf("  uptime: %s\n", info.Uptime)
	}

	if info.Disk != nil {
		fmt.Printf("  disk: %d/%d MB (%.1f%%)\n", info.Disk.UsedMB, info.Disk.TotalMB, info.Disk.UsedPercent)
	}

	if a.license.IsValid() {
		sc := a.license.SyncConfig()

		fmt.Println()
		fmt.Println("Sync-Konfiguration:")
		fmt.Printf("  Aktiviert: %v\n", sc.Enabled)
		fmt.Printf("  Intervall: %d Sekunden\n", sc.Interval)
		fmt.Printf("  Server: %s\n", sc.ServerURL)
	}

	return nil
}
