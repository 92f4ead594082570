package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// File permissions: records carry the license key, so owner-only.
const (
	filePerms = 0o600
	dirPerms  = 0o700
)

// Store reads and writes the license and device records of one appliance.
type Store struct {
	dir       string
	serverURL string
	ident     Identity
	logger    *slog.Logger

	// nowFunc returns the current time. Tests override this for
	// deterministic expiry checks and bearer tokens.
	nowFunc func() time.Time
}

// NewStore creates a store over the given config directory. serverURL is
// the resolved authority base URL, recorded into new license files and
// used as the fallback when no record exists.
func NewStore(dir, serverURL string, ident Identity, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		dir:       dir,
		serverURL: serverURL,
		ident:     ident,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// LicensePath returns the license file location.
func (s *Store) LicensePath() string {
	return filepath.Join(s.dir, "license.json")
}

// DevicePath returns the device file location.
func (s *Store) DevicePath() string {
	return filepath.Join(s.dir, "device.json")
}

// Load reads the persisted license record. Returns ErrNoLicense when no
// license file exists.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.LicensePath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoLicense
	}

	if err != nil {
		return nil, fmt.Errorf("Fehler beim Lesen der Lizenz: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("Fehler beim Lesen der Lizenz: %w", err)
	}

	return &rec, nil
}

// Device reads the persisted device record. Returns (nil, nil) when no
// device file exists.
func (s *Store) Device() (*DeviceRecord, error) {
	data, err := os.ReadFile(s.DevicePath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("license: reading %s: %w", s.DevicePath(), err)
	}

	var rec DeviceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("license: decoding %s: %w", s.DevicePath(), err)
	}

	return &rec, nil
}

// IsValid reports whether a usable license is on disk: the file exists,
// the device ID matches this appliance, and the expiry has not passed.
// Any read or parse failure reads as invalid, never as an error.
func (s *Store) IsValid() bool {
	rec, err := s.Load()
	if err != nil {
		return false
	}

	validUntil, err := parseTime(rec.ValidUntil)
	if err != nil {
		return false
	}

	if s.nowFunc().After(validUntil) {
		return false
	}

	return rec.DeviceID == s.ident.DeviceID()
}

// Features returns the licensed feature map. Without a license the
// default unlicensed set applies; a corrupt record yields an empty map.
func (s *Store) Features() map[string]bool {
	rec, err := s.Load()
	if errors.Is(err, ErrNoLicense) {
		return defaultFeatures()
	}

	if err != nil || rec.Features == nil {
		return map[string]bool{}
	}

	return rec.Features
}

// SyncConfig derives the engine's sync view from the license. Without a
// license sync is disabled with a conservative interval.
func (s *Store) SyncConfig() SyncConfig {
	rec, err := s.Load()
	if errors.Is(err, ErrNoLicense) {
		return SyncConfig{
			Enabled:   false,
			Interval:  noLicenseInterval,
			ServerURL: s.serverURL,
		}
	}

	if err != nil {
		return SyncConfig{Enabled: false}
	}

	interval := rec.SyncIntervalSeconds
	if interval == 0 {
		interval = fallbackSyncInterval
	}

	serverURL := rec.ServerURL
	if serverURL == "" {
		serverURL = s.serverURL
	}

	return SyncConfig{
		Enabled:    rec.Features["sync"],
		Interval:   interval,
		ServerURL:  serverURL,
		DeviceID:   rec.DeviceID,
		LicenseKey: rec.LicenseKey,
	}
}

// BearerToken derives the transport token:
// SHA-256("<license_key>:<device_id>:<unix_seconds>") as lowercase hex.
// Without a license the key material is empty; the token is still
// produced and the authority rejects it.
func (s *Store) BearerToken() string {
	var key string
	if rec, err := s.Load(); err == nil {
		key = rec.LicenseKey
	}

	material := fmt.Sprintf("%s:%s:%d", key, s.ident.DeviceID(), s.nowFunc().Unix())
	sum := sha256.Sum256([]byte(material))

	return hex.EncodeToString(sum[:])
}

// APIKey returns the legacy api_key from the device record, empty when
// none has been issued.
func (s *Store) APIKey() string {
	rec, err := s.Device()
	if err != nil || rec == nil {
		return ""
	}

	return rec.APIKey
}

// SaveAPIKey persists a legacy api_key into the device record, creating
// the record from the current inventory when none exists yet.
func (s *Store) SaveAPIKey(ctx context.Context, key string) error {
	rec, err := s.Device()
	if err != nil {
		return err
	}

	if rec == nil {
		rec = &DeviceRecord{Info: s.ident.SystemInfo(ctx)}
	}

	rec.APIKey = key

	return s.saveDevice(rec)
}

// saveLicense writes the license record atomically with 0600 permissions.
func (s *Store) saveLicense(rec *Record) error {
	return s.writeFile(s.LicensePath(), rec)
}

// saveDevice writes the device record atomically with 0600 permissions.
func (s *Store) saveDevice(rec *DeviceRecord) error {
	return s.writeFile(s.DevicePath(), rec)
}

// writeFile marshals v and writes it via temp-file-plus-rename in the
// config directory. The mode is applied before any bytes land, and the
// temp file is synced before rename so a power loss cannot leave a
// truncated record at the final path.
func (s *Store) writeFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("license: encoding %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(s.dir, dirPerms); err != nil {
		return fmt.Errorf("license: creating directory %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("license: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()

		return fmt.Errorf("license: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("license: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("license: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("license: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("license: renaming: %w", err)
	}

	success = true

	return nil
}
