// Package license manages the on-disk activation state of an appliance:
// the license record binding a device ID to feature flags and expiry, and
// the device record holding registration data. Both files live in the
// config directory with owner-only permissions and are replaced
// atomically. Online validation falls back to the stored record when the
// authority is unreachable, so a licensed appliance keeps working through
// network outages.
package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/identity"
)

// Identity is the subset of the identity provider the store consumes.
type Identity interface {
	DeviceID() string
	SystemInfo(ctx context.Context) identity.Info
}

// Sentinel errors for offline validation. The messages are the
// user-facing German strings shown verbatim by the CLI.
var (
	ErrNoLicense      = errors.New("Keine gespeicherte Lizenz gefunden")
	ErrKeyMismatch    = errors.New("Lizenzschlüssel stimmt nicht überein")
	ErrExpired        = errors.New("Lizenz abgelaufen")
	ErrDeviceMismatch = errors.New("Device-ID stimmt nicht überein")
)

// Record is the persisted license file (license.json). ValidatedAt and
// ValidUntil are kept as the strings the authority sent; the authority
// mixes date-only and datetime formats, so parsing happens at check time.
type Record struct {
	LicenseKey          string          `json:"license_key"`
	DeviceID            string          `json:"device_id"`
	ValidatedAt         string          `json:"validated_at"`
	ValidUntil          string          `json:"valid_until"`
	Tier                string          `json:"tier"`
	Organization        string          `json:"organization,omitempty"`
	MaxDevices          int             `json:"max_devices"`
	SyncIntervalSeconds int             `json:"sync_interval_seconds"`
	Features            map[string]bool `json:"features"`
	ServerURL           string          `json:"server_url"`
}

// DeviceRecord is the persisted device file (device.json): the system
// inventory plus registration state and the legacy api_key.
type DeviceRecord struct {
	identity.Info

	RegisteredAt      string          `json:"registered_at,omitempty"`
	RegistrationToken string          `json:"registration_token,omitempty"`
	SyncEndpoint      string          `json:"sync_endpoint,omitempty"`
	Features          map[string]bool `json:"features,omitempty"`
	APIKey            string          `json:"api_key,omitempty"`
}

// SyncConfig is the license-derived view the engine consults before each
// cycle.
type SyncConfig struct {
	Enabled    bool
	Interval   int
	ServerURL  string
	DeviceID   string
	LicenseKey string
}

// Fallback values applied when the authority omits optional license
// fields.
const (
	fallbackTier         = "basic"
	fallbackMaxDevices   = 1
	fallbackSyncInterval = 900
	noLicenseInterval    = 3600
)

// defaultFeatures is the feature set of an unlicensed appliance: local
// operation works, everything networked is off.
func defaultFeatures() map[string]bool {
	return map[string]bool{
		"core":       true,
		"offline":    true,
		"maps":       false,
		"sync":       false,
		"wiki":       false,
		"resources":  false,
		"scenarios":  false,
		"api_access": false,
	}
}

// timeLayouts are tried in order when parsing authority timestamps.
// Servers have sent zoned RFC3339, naive datetimes, and bare dates.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// parseTime parses an authority timestamp string.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
