package main

import (
	"fmt"
	"log/slog"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/config"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/identity"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/license"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/meta"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/primary"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/sync"
)

// agent bundles the long-lived pieces every sync command needs: the
// resolved config behind a holder, device identity, the license store,
// and the authority client sharing one connection pool.
type agent struct {
	holder  *config.Holder
	logger  *slog.Logger
	ident   *identity.Provider
	license *license.Store
	client  *central.Client
	env     config.EnvOverrides
}

// newAgent wires the common dependencies from the resolved configuration.
func newAgent(logger *slog.Logger) *agent {
	cfg := resolvedCfg
	env := config.ReadEnvOverrides()
	ident := identity.New(logger)
	licStore := license.NewStore(configDir(), cfg.ServerURL, ident, logger)
	client := central.NewClient(cfg.ServerURL, ident.DeviceID(), nil,
		central.TokenFunc(licStore.BearerToken), logger)

	return &agent{
		holder:  config.NewHolder(cfg, resolvedCfgPath),
		logger:  logger,
		ident:   ident,
		license: licStore,
		client:  client,
		env:     env,
	}
}

// licenseKey returns the explicit key, falling back to the LICENSE_KEY
// environment variable.
func (a *agent) licenseKey(flagKey string) string {
	if flagKey != "" {
		return flagKey
	}

	return a.env.LicenseKey
}

// newSyncEngine opens both databases and builds the reconciler engine.
// The returned cleanup closes the stores and must run after the last
// engine call.
func newSyncEngine(a *agent) (*sync.Engine, func(), error) {
	cfg := a.holder.Config()

	metaStore, err := meta.Open(cfg.SyncDBPath, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sync metadata store: %w", err)
	}

	primaryStore, err := primary.Open(cfg.DatabasePath, a.logger)
	if err != nil {
		metaStore.Close()

		return nil, nil, fmt.Errorf("opening primary store: %w", err)
	}

	engine := sync.NewEngine(&sync.EngineConfig{
		Transport: a.client,
		License:   a.license,
		Meta:      metaStore,
		Primary:   primaryStore,
		Config:    a.holder,
		DeviceID:  a.ident.DeviceID(),
		Logger:    a.logger,
	})

	cleanup := func() {
		primaryStore.Close()
		metaStore.Close()
	}

	return engine, cleanup, nil
}
