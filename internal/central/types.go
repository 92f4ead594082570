package central

import "github.com/MLeprich/stabsstelle-pi-deploy/internal/identity"

// ValidateRequest is the body of POST /api/pi/licenses/validate.
type ValidateRequest struct {
	LicenseKey       string        `json:"license_key"`
	DeviceID         string        `json:"device_id"`
	Hostname         string        `json:"hostname"`
	PiVersion        string        `json:"pi_version"`
	SystemInfo       identity.Info `json:"system_info"`
	RegistrationType string        `json:"registration_type"`
}

// ValidateResponse carries the license terms granted by the authority.
// ValidUntil arrives as an ISO date or datetime string and is stored
// verbatim; the license store parses it when checking validity.
type ValidateResponse struct {
	ValidUntil   string          `json:"valid_until"`
	Features     map[string]bool `json:"features"`
	Tier         string          `json:"tier"`
	Organization string          `json:"organization"`
	MaxDevices   int             `json:"max_devices"`
	SyncInterval int             `json:"sync_interval"`
}

// RegisterRequest is the body of POST /api/pi/devices/register.
type RegisterRequest struct {
	LicenseKey       string        `json:"license_key"`
	DeviceID         string        `json:"device_id"`
	Hostname         string        `json:"hostname"`
	SystemInfo       identity.Info `json:"system_info"`
	RegistrationType string        `json:"registration_type"`
}

// RegisterResponse carries the registration token and sync endpoint.
type RegisterResponse struct {
	Token        string          `json:"token"`
	SyncEndpoint string          `json:"sync_endpoint"`
	Features     map[string]bool `json:"features"`
}

// LegacyRegisterRequest is the body of POST /api/pi/register, the older
// registration path that issues an api_key used by the heartbeat.
type LegacyRegisterRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	OSVersion  string `json:"os_version"`
	AppVersion string `json:"app_version"`
	LicenseKey string `json:"license_key"`
}

// LegacyRegisterResponse carries the issued api_key.
type LegacyRegisterResponse struct {
	APIKey string `json:"api_key"`
}

// Change is one row mutation on the wire, in both directions. Data is the
// dynamic row payload (column name to value); nil for DELETE. Seq and
// DataHash are set on pushed changes only.
type Change struct {
	Seq       int64          `json:"seq,omitempty"`
	TableName string         `json:"table_name"`
	RecordID  string         `json:"record_id"`
	Operation string         `json:"operation"`
	ChangedAt string         `json:"changed_at,omitempty"`
	DataHash  string         `json:"data_hash,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// PushRequest is the body of POST /api/pi/sync/push.
type PushRequest struct {
	DeviceID  string   `json:"device_id"`
	SyncID    string   `json:"sync_id"`
	Changes   []Change `json:"changes"`
	Timestamp string   `json:"timestamp"`
}

// PullResponse is the body of GET /api/pi/sync/pull.
type PullResponse struct {
	Changes []Change `json:"changes"`
}

// InitialSnapshot is the body of GET /api/pi/sync/initial: complete table
// contents keyed by table name.
type InitialSnapshot map[string][]map[string]any

// HeartbeatRequest is the body of POST /api/pi/heartbeat.
type HeartbeatRequest struct {
	DeviceID string `json:"device_id"`
	APIKey   string `json:"api_key"`
}
