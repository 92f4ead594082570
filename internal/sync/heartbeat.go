package sync

import (
	"context"
	"log/slog"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
)

// Heartbeat posts a liveness probe to the authority. Failures only feed
// the log; a dead heartbeat endpoint never blocks reconciliation.
func (e *Engine) Heartbeat(ctx context.Context) bool {
	req := central.HeartbeatRequest{
		DeviceID: e.deviceID,
		APIKey:   e.license.APIKey(),
	}

	if err := e.transport.Heartbeat(ctx, req); err != nil {
		e.logger.Debug("Heartbeat fehlgeschlagen", slog.Any("error", err))

		return false
	}

	e.logger.Debug("Heartbeat gesendet", slog.String("device_id", e.deviceID))

	return true
}
