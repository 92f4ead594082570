package config

import "os"

// Environment variable names for overrides.
const (
	EnvServerURL  = "SYNC_SERVER_URL"
	EnvLicenseKey = "LICENSE_KEY"
	EnvAPIKey     = "API_KEY"
	EnvLogLevel   = "LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
// ServerURL and LogLevel override Config fields; LicenseKey and APIKey are
// consumed directly by the CLI and the license store, since neither is a
// config file key.
type EnvOverrides struct {
	ServerURL  string // SYNC_SERVER_URL: central authority base URL
	LicenseKey string // LICENSE_KEY: fallback when --license-key is omitted
	APIKey     string // API_KEY: legacy key for heartbeat and registration
	LogLevel   string // LOG_LEVEL: baseline log level
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ServerURL:  os.Getenv(EnvServerURL),
		LicenseKey: os.Getenv(EnvLicenseKey),
		APIKey:     os.Getenv(EnvAPIKey),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}

// Apply writes the Config-relevant overrides onto cfg. Empty values mean
// "not set" and leave the config untouched.
func (e EnvOverrides) Apply(cfg *Config) {
	if e.ServerURL != "" {
		cfg.ServerURL = e.ServerURL
	}

	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
}
