package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and match what the appliance images ship
// with, so a missing config file behaves exactly like the stock install.
const (
	defaultDatabasePath       = "/var/lib/stabsstelle/stabsstelle.db"
	defaultSyncDBPath         = "/var/lib/stabsstelle/sync_meta.db"
	defaultServerURL          = "https://stab.digitmi.de"
	defaultSyncInterval       = 900 // seconds, 15 minutes
	defaultBatchSize          = 100
	defaultConflictResolution = ResolutionRemoteWins
	defaultLogFile            = "/var/log/stabsstelle/sync.log"
	defaultLogLevel           = "info"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for JSON decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:       defaultDatabasePath,
		SyncDBPath:         defaultSyncDBPath,
		ServerURL:          defaultServerURL,
		SyncInterval:       defaultSyncInterval,
		BatchSize:          defaultBatchSize,
		Compression:        true,
		Encryption:         false,
		ConflictResolution: defaultConflictResolution,
		LogFile:            defaultLogFile,
		LogLevel:           defaultLogLevel,
	}
}
