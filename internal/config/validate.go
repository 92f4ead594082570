package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validation range constants.
const (
	minSyncInterval = 10    // seconds
	maxSyncInterval = 86400 // one day
	minBatchSize    = 1
	maxBatchSize    = 10000
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.DatabasePath == "" {
		errs = append(errs, errors.New("database_path: must not be empty"))
	}

	if cfg.SyncDBPath == "" {
		errs = append(errs, errors.New("sync_db_path: must not be empty"))
	}

	errs = append(errs, validateServerURL(cfg.ServerURL)...)

	if cfg.SyncInterval < minSyncInterval || cfg.SyncInterval > maxSyncInterval {
		errs = append(errs, fmt.Errorf("sync_interval: must be between %d and %d seconds, got %d",
			minSyncInterval, maxSyncInterval, cfg.SyncInterval))
	}

	if cfg.BatchSize < minBatchSize || cfg.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, cfg.BatchSize))
	}

	errs = append(errs, validateConflictResolution(cfg.ConflictResolution)...)
	errs = append(errs, validateLogLevel(cfg.LogLevel)...)

	return errors.Join(errs...)
}

func validateServerURL(raw string) []error {
	if raw == "" {
		return []error{errors.New("server_url: must not be empty")}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("server_url: invalid URL %q: %w", raw, err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("server_url: must use http or https, got %q", raw)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("server_url: missing host in %q", raw)}
	}

	return nil
}

var validResolutions = map[string]bool{
	ResolutionRemoteWins: true,
	ResolutionLocalWins:  true,
	ResolutionMerge:      true,
}

func validateConflictResolution(policy string) []error {
	if !validResolutions[policy] {
		return []error{fmt.Errorf(
			"conflict_resolution: must be one of remote_wins, local_wins, merge; got %q", policy)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}
