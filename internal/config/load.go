package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Load reads and parses a JSON config file, validates it, and returns the
// resulting Config. Decoding starts from DefaultConfig so keys absent from
// the file keep their defaults. Unknown keys are fatal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a JSON config file if it exists, otherwise returns
// a Config populated with all default values. This supports the stock
// appliance image, which ships without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The precedence order ensures CLI flags always win, matching user
// expectations for one-off overrides without editing the config file.
// The returned path is the resolved config file location, which the
// runtime watcher observes for changes.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	// Config path: --config > --config-dir > default.
	path := DefaultConfigPath()
	if cli.ConfigDir != "" {
		path = ConfigPathIn(cli.ConfigDir)
	}

	if cli.ConfigPath != "" {
		path = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}

	env.Apply(cfg)

	if cli.Interval != nil {
		cfg.SyncInterval = *cli.Interval
	}

	if err := Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, path, nil
}
