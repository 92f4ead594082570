package config

import "path/filepath"

// Config file name inside the config directory.
const configFileName = "sync.json"

// DefaultConfigDir returns the directory holding the config file and the
// license and device records. The agent runs as a system service on
// appliance images, so this is a fixed FHS path rather than a per-user
// directory.
func DefaultConfigDir() string {
	return "/etc/stabsstelle"
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when --config is not specified.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), configFileName)
}

// ConfigPathIn returns the config file path inside a given config
// directory. Used when --config-dir is set without --config.
func ConfigPathIn(dir string) string {
	return filepath.Join(dir, configFileName)
}
