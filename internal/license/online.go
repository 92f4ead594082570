package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/identity"
)

// Authority is the subset of the central client used for license
// operations.
type Authority interface {
	ValidateLicense(ctx context.Context, req central.ValidateRequest) (*central.ValidateResponse, error)
	RegisterDevice(ctx context.Context, req central.RegisterRequest) (*central.RegisterResponse, error)
	RegisterLegacy(ctx context.Context, req central.LegacyRegisterRequest) (*central.LegacyRegisterResponse, error)
}

// ValidateOnline validates the key against the authority and persists the
// granted license. When the authority is unreachable the stored record
// answers instead, so a licensed appliance survives network outages. HTTP
// rejections are returned as-is; their message carries the server's
// reason.
func (s *Store) ValidateOnline(ctx context.Context, auth Authority, key string) (*Record, error) {
	info := s.ident.SystemInfo(ctx)

	resp, err := auth.ValidateLicense(ctx, central.ValidateRequest{
		LicenseKey:       key,
		DeviceID:         info.DeviceID,
		Hostname:         info.Hostname,
		PiVersion:        info.PiVersion,
		SystemInfo:       info,
		RegistrationType: "validation",
	})

	if errors.Is(err, central.ErrUnreachable) {
		s.logger.Info("Server nicht erreichbar, verwende Offline-Validierung",
			slog.Any("error", err))

		return s.ValidateOffline(key)
	}

	if err != nil {
		return nil, err
	}

	rec := recordFromResponse(key, info.DeviceID, s.serverURL, s.nowFunc(), resp)

	if err := s.saveLicense(rec); err != nil {
		return nil, err
	}

	// Refresh the inventory half of the device record; registration state
	// and the api_key must survive revalidation.
	if err := s.updateInventory(info); err != nil {
		return nil, err
	}

	s.logger.Info("Lizenz validiert",
		slog.String("device_id", info.DeviceID),
		slog.String("valid_until", rec.ValidUntil),
		slog.String("tier", rec.Tier),
	)

	return rec, nil
}

// ValidateOffline checks the key against the stored record. Fails with
// ErrNoLicense, ErrKeyMismatch, ErrExpired, or ErrDeviceMismatch.
func (s *Store) ValidateOffline(key string) (*Record, error) {
	rec, err := s.Load()
	if err != nil {
		return nil, err
	}

	if rec.LicenseKey != key {
		return nil, ErrKeyMismatch
	}

	validUntil, err := parseTime(rec.ValidUntil)
	if err != nil {
		return nil, fmt.Errorf("Fehler beim Lesen der Lizenz: %w", err)
	}

	if s.nowFunc().After(validUntil) {
		return nil, ErrExpired
	}

	if rec.DeviceID != s.ident.DeviceID() {
		return nil, ErrDeviceMismatch
	}

	return rec, nil
}

// RegisterDevice performs first-time registration and persists the issued
// token and sync endpoint into the device record. No offline fallback:
// registration requires the authority.
func (s *Store) RegisterDevice(ctx context.Context, auth Authority, key string) (*DeviceRecord, error) {
	info := s.ident.SystemInfo(ctx)

	resp, err := auth.RegisterDevice(ctx, central.RegisterRequest{
		LicenseKey:       key,
		DeviceID:         info.DeviceID,
		Hostname:         info.Hostname,
		SystemInfo:       info,
		RegistrationType: "initial",
	})
	if err != nil {
		return nil, err
	}

	rec, err := s.Device()
	if err != nil {
		return nil, err
	}

	if rec == nil {
		rec = &DeviceRecord{}
	}

	rec.Info = info
	rec.RegisteredAt = s.nowFunc().UTC().Format(time.RFC3339)
	rec.RegistrationToken = resp.Token
	rec.SyncEndpoint = resp.SyncEndpoint
	rec.Features = resp.Features

	if err := s.saveDevice(rec); err != nil {
		return nil, err
	}

	s.logger.Info("Gerät registriert", slog.String("device_id", info.DeviceID))

	return rec, nil
}

// RegisterLegacy registers against the older endpoint and persists the
// issued api_key. An empty key falls back to the stored license key.
func (s *Store) RegisterLegacy(ctx context.Context, auth Authority, key string) (string, error) {
	if key == "" {
		if rec, err := s.Load(); err == nil {
			key = rec.LicenseKey
		}
	}

	info := s.ident.SystemInfo(ctx)

	resp, err := auth.RegisterLegacy(ctx, central.LegacyRegisterRequest{
		DeviceID:   info.DeviceID,
		DeviceName: info.Hostname,
		DeviceType: "raspberry_pi",
		OSVersion:  info.OSLabel,
		AppVersion: info.PiVersion,
		LicenseKey: key,
	})
	if err != nil {
		return "", err
	}

	if err := s.SaveAPIKey(ctx, resp.APIKey); err != nil {
		return "", err
	}

	s.logger.Info("Legacy-Registrierung erfolgreich", slog.String("device_id", info.DeviceID))

	return resp.APIKey, nil
}

// updateInventory replaces the inventory fields of the device record
// while keeping registration state intact.
func (s *Store) updateInventory(info identity.Info) error {
	rec, err := s.Device()
	if err != nil {
		return err
	}

	if rec == nil {
		rec = &DeviceRecord{}
	}

	rec.Info = info

	return s.saveDevice(rec)
}

// recordFromResponse builds the persisted record from a validation
// response, applying fallbacks for fields the authority may omit.
func recordFromResponse(key, deviceID, serverURL string, now time.Time, resp *central.ValidateResponse) *Record {
	rec := &Record{
		LicenseKey:          key,
		DeviceID:            deviceID,
		ValidatedAt:         now.UTC().Format(time.RFC3339),
		ValidUntil:          resp.ValidUntil,
		Tier:                resp.Tier,
		Organization:        resp.Organization,
		MaxDevices:          resp.MaxDevices,
		SyncIntervalSeconds: resp.SyncInterval,
		Features:            resp.Features,
		ServerURL:           serverURL,
	}

	if rec.Tier == "" {
		rec.Tier = fallbackTier
	}

	if rec.MaxDevices == 0 {
		rec.MaxDevices = fallbackMaxDevices
	}

	if rec.SyncIntervalSeconds == 0 {
		rec.SyncIntervalSeconds = fallbackSyncInterval
	}

	if rec.Features == nil {
		rec.Features = map[string]bool{}
	}

	return rec
}
