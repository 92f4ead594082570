package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerMiB = 1024 * 1024

// Info is the system inventory sent to the authority with validation and
// registration requests and persisted in device.json. Every field is
// best-effort: unreadable sources yield "unknown" or zero, never errors.
type Info struct {
	Hostname  string    `json:"hostname"`
	DeviceID  string    `json:"device_id"`
	PiVersion string    `json:"pi_version"`
	OSLabel   string    `json:"platform"`
	PiModel   string    `json:"pi_model"`
	Hardware  string    `json:"hardware,omitempty"`
	MemoryMiB uint64    `json:"memory_mb,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Disk      *DiskInfo `json:"disk,omitempty"`
}

// DiskInfo summarizes root filesystem usage.
type DiskInfo struct {
	TotalMB     uint64  `json:"total_mb"`
	UsedMB      uint64  `json:"used_mb"`
	FreeMB      uint64  `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// SystemInfo gathers the inventory. Individual probe failures are logged
// at debug level and reported as unknown values.
func (p *Provider) SystemInfo(ctx context.Context) Info {
	info := Info{
		Hostname:  p.hostname(),
		DeviceID:  p.DeviceID(),
		PiVersion: appVersion,
		OSLabel:   "unknown",
		PiModel:   p.piModel(),
		Hardware:  p.hardwareLabel(),
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.OSLabel = osLabel(hi)
		info.Uptime = formatUptime(hi.Uptime)
	} else {
		p.logger.Debug("host info unavailable", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryMiB = vm.Total / bytesPerMiB
	} else {
		p.logger.Debug("memory info unavailable", "error", err)
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		info.Disk = &DiskInfo{
			TotalMB:     du.Total / bytesPerMiB,
			UsedMB:      du.Used / bytesPerMiB,
			FreeMB:      du.Free / bytesPerMiB,
			UsedPercent: du.UsedPercent,
		}
	} else {
		p.logger.Debug("disk info unavailable", "error", err)
	}

	return info
}

// osLabel composes a platform string from host info, e.g.
// "raspbian 11 (5.15.84-v8+)".
func osLabel(hi *host.InfoStat) string {
	label := strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
	if label == "" {
		label = hi.OS
	}

	if hi.KernelVersion != "" {
		label = fmt.Sprintf("%s (%s)", label, hi.KernelVersion)
	}

	if label == "" {
		return "unknown"
	}

	return label
}

// formatUptime renders seconds as "3d 7h" like the fleet dashboards expect.
func formatUptime(seconds uint64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600

	return fmt.Sprintf("%dd %dh", days, hours)
}
