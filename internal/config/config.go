// Package config implements JSON configuration loading, validation, and
// environment overrides for the sync agent. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) and
// runtime reload through a filesystem watcher: edits to the config file are
// picked up by a running daemon without a restart, and an edit that breaks
// the file keeps the previous in-memory configuration.
package config

import "time"

// Config is the agent configuration parsed from the JSON config file.
// Unknown keys fail the load, so a mistyped key name is reported instead
// of silently ignored.
type Config struct {
	// DatabasePath locates the primary store shared with the web application.
	DatabasePath string `json:"database_path"`
	// SyncDBPath locates the metadata store owned exclusively by the agent.
	SyncDBPath string `json:"sync_db_path"`
	// ServerURL is the base URL of the central authority.
	ServerURL string `json:"server_url"`
	// SyncInterval is the daemon cycle interval in seconds.
	SyncInterval int `json:"sync_interval"`
	// BatchSize bounds the number of changes pushed or pulled per cycle.
	BatchSize int `json:"batch_size"`
	// Compression gzips push payloads.
	Compression bool `json:"compression"`
	// Encryption is accepted for compatibility with older config files.
	// Payloads are protected by TLS; no additional cipher is applied.
	Encryption bool `json:"encryption"`
	// ConflictResolution selects the conflict policy: remote_wins,
	// local_wins, or merge.
	ConflictResolution string `json:"conflict_resolution"`
	// LogFile receives structured logs in addition to stderr.
	LogFile string `json:"log_file"`
	// LogLevel is the baseline log level; --verbose and --quiet win over it.
	LogLevel string `json:"log_level"`
}

// Conflict resolution policy names.
const (
	ResolutionRemoteWins = "remote_wins"
	ResolutionLocalWins  = "local_wins"
	ResolutionMerge      = "merge"
)

// Interval returns the sync interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero": --interval 0 is a validation error, an
// omitted flag is not.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	ConfigDir  string // --config-dir flag (empty = use default)
	Interval   *int   // daemon --interval flag, seconds
}
