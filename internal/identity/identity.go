// Package identity derives the stable device ID that binds a license to an
// appliance and gathers best-effort system inventory for registration
// payloads. The ID is deterministic per host: same appliance, same ID
// across reboots. When hardware sources (Raspberry Pi CPU serial) are
// unreadable, hostname-derived material stands in: still deterministic,
// but unique per host rather than per board.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// appVersion is reported to the authority as pi_version in registration
// and validation payloads.
const appVersion = "1.0.0"

// Default paths for hardware identity sources (Raspberry Pi).
const (
	defaultCPUInfoPath = "/proc/cpuinfo"
	defaultModelPath   = "/proc/device-tree/model"
)

// Provider derives and caches the device identity. The zero value is not
// usable; construct with New.
type Provider struct {
	cpuinfoPath string
	modelPath   string
	hostnameFn  func() (string, error)
	logger      *slog.Logger

	once sync.Once
	id   string
}

// New creates a Provider reading the standard hardware source paths.
func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		cpuinfoPath: defaultCPUInfoPath,
		modelPath:   defaultModelPath,
		hostnameFn:  os.Hostname,
		logger:      logger,
	}
}

// DeviceID returns the 16-character lowercase hex device identifier.
// Computed once per process: SHA-256 over
// "<cpu-serial-or-hostname-hash>-<synthetic-mac>-<hostname>", first 16 hex
// characters. Never fails; every source has a deterministic fallback.
func (p *Provider) DeviceID() string {
	p.once.Do(func() {
		hostname := p.hostname()

		serial := p.cpuSerial()
		if serial == "" {
			// Unreadable hardware source: hostname hash stands in for
			// the board serial.
			serial = sha256Hex([]byte(hostname))
		}

		material := serial + "-" + syntheticMAC(hostname) + "-" + hostname
		p.id = sha256Hex([]byte(material))[:16]

		p.logger.Debug("device id derived",
			slog.String("device_id", p.id),
			slog.Bool("hardware_serial", serial != sha256Hex([]byte(hostname))),
		)
	})

	return p.id
}

// hostname returns the host name or "unknown" when it cannot be read.
func (p *Provider) hostname() string {
	name, err := p.hostnameFn()
	if err != nil || name == "" {
		return "unknown"
	}

	return name
}

// cpuSerial reads the board serial from /proc/cpuinfo ("Serial" line on
// Raspberry Pi). Returns "" when the file or the line is missing.
func (p *Provider) cpuSerial() string {
	return p.cpuinfoField("Serial")
}

// hardwareLabel reads the "Hardware" line from /proc/cpuinfo (SoC name on
// Raspberry Pi). Returns "" when unavailable.
func (p *Provider) hardwareLabel() string {
	return p.cpuinfoField("Hardware")
}

// cpuinfoField scans /proc/cpuinfo for a "<key>\t: value" line.
func (p *Provider) cpuinfoField(key string) string {
	data, err := os.ReadFile(p.cpuinfoPath)
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(data), "\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		if strings.TrimSpace(name) == key {
			return strings.TrimSpace(value)
		}
	}

	return ""
}

// piModel reads the device-tree model string ("Raspberry Pi 4 Model B").
// Returns "Unknown" when unavailable, matching the registration payload
// the authority has always received.
func (p *Provider) piModel() string {
	data, err := os.ReadFile(p.modelPath)
	if err != nil {
		return "Unknown"
	}

	model := strings.TrimRight(string(data), "\x00\n")
	if model == "" {
		return "Unknown"
	}

	return model
}

// syntheticMAC renders six bytes of SHA-256(hostname) as a MAC-like
// string ("aa:bb:cc:dd:ee:ff"). A weak but deterministic stand-in for the
// interface MAC, kept for device-ID compatibility with existing fleets.
func syntheticMAC(hostname string) string {
	sum := sha256.Sum256([]byte(hostname))
	parts := make([]string, 6)

	for i := range 6 {
		parts[i] = fmt.Sprintf("%02x", sum[i])
	}

	return strings.Join(parts, ":")
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
