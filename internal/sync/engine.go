// Package sync orchestrates reconciliation between the appliance and the
// central authority: pushing tracked local changes, pulling and applying
// remote batches, resolving conflicts by policy, the one-shot initial
// bootstrap, and the daemon loop driving it all on an interval.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/config"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/license"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/meta"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/primary"
)

// Cycle refusal errors. The CLI maps these to user-facing output; the
// daemon logs and keeps looping so a later revalidation can recover.
var (
	ErrLicenseInvalid = errors.New("sync: license invalid")
	ErrSyncDisabled   = errors.New("sync: sync not licensed")
)

// Transport is the authority surface the engine drives. Satisfied by
// *central.Client.
type Transport interface {
	Push(ctx context.Context, req central.PushRequest, compress bool) error
	Pull(ctx context.Context, syncID, since string, limit int) (*central.PullResponse, error)
	Initial(ctx context.Context) (central.InitialSnapshot, error)
	Heartbeat(ctx context.Context, req central.HeartbeatRequest) error
}

// License is the engine's view of the activation state. Satisfied by
// *license.Store.
type License interface {
	IsValid() bool
	SyncConfig() license.SyncConfig
	APIKey() string
}

// ConfigSource yields the current runtime configuration. Satisfied by
// *config.Holder, so a reloaded config applies from the next cycle on.
type ConfigSource interface {
	Config() *config.Config
}

// EngineConfig holds the dependencies for NewEngine.
type EngineConfig struct {
	Transport Transport
	License   License
	Meta      *meta.Store
	Primary   *primary.Store
	Config    ConfigSource
	DeviceID  string
	Logger    *slog.Logger
}

// Report summarizes one reconciliation cycle.
type Report struct {
	SyncID          string
	Mode            Mode
	Status          string
	RecordsSent     int
	RecordsReceived int
	Conflicts       int
}

// Engine runs reconciliation cycles. One cycle at a time per process;
// the scheduler serialises calls.
type Engine struct {
	transport Transport
	license   License
	meta      *meta.Store
	primary   *primary.Store
	config    ConfigSource
	deviceID  string
	logger    *slog.Logger

	// nowFunc returns the current time. Tests override this for
	// deterministic sync IDs.
	nowFunc func() time.Time
}

// NewEngine creates an Engine over the given stores and transport.
func NewEngine(cfg *EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		transport: cfg.Transport,
		license:   cfg.License,
		meta:      cfg.Meta,
		primary:   cfg.Primary,
		config:    cfg.Config,
		deviceID:  cfg.DeviceID,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Sync runs one reconciliation cycle:
//  1. Refuse without a valid license granting sync.
//  2. Open a session row before any network I/O.
//  3. Run the push and/or pull leg per mode.
//  4. Close the session exactly once: completed when every leg
//     succeeded, failed otherwise, error on panic.
//
// Cancellation aborts at the next suspension point; the session is then
// closed as failed with error "cancelled".
func (e *Engine) Sync(ctx context.Context, mode Mode) (report *Report, err error) {
	e.logger.Info(fmt.Sprintf("Starte Sync im Modus: %s", mode))

	if !e.license.IsValid() {
		e.logger.Error("Lizenz ungültig - Sync abgebrochen")

		return nil, ErrLicenseInvalid
	}

	if !e.license.SyncConfig().Enabled {
		e.logger.Warn("Sync in Lizenz nicht freigeschaltet")

		return nil, ErrSyncDisabled
	}

	syncID := fmt.Sprintf("%s-%d", e.deviceID, e.nowFunc().Unix())

	if err := e.meta.StartSession(ctx, syncID, string(mode)); err != nil {
		e.logger.Error(fmt.Sprintf("Sync-Fehler: %v", err))

		return nil, err
	}

	report = &Report{SyncID: syncID, Mode: mode}

	// A panic inside a leg still closes the session, as status=error.
	defer func() {
		if r := recover(); r != nil {
			report.Status = meta.StatusError
			err = fmt.Errorf("sync: panic in cycle %s: %v", syncID, r)

			e.logger.Error(fmt.Sprintf("Sync-Fehler: %v", r))
			e.completeSession(ctx, syncID, meta.Outcome{
				Status:          meta.StatusError,
				RecordsSent:     report.RecordsSent,
				RecordsReceived: report.RecordsReceived,
				Conflicts:       report.Conflicts,
				Error:           fmt.Sprintf("%v", r),
			})
		}
	}()

	var firstErr error

	if mode.pushes() {
		sent, pushErr := e.push(ctx, syncID)
		report.RecordsSent = sent

		if pushErr != nil {
			firstErr = pushErr
		}
	}

	if mode.pulls() {
		received, conflicts, pullErr := e.pull(ctx, syncID)
		report.RecordsReceived = received
		report.Conflicts = conflicts

		if pullErr != nil && firstErr == nil {
			firstErr = pullErr
		}
	}

	outcome := meta.Outcome{
		Status:          meta.StatusCompleted,
		RecordsSent:     report.RecordsSent,
		RecordsReceived: report.RecordsReceived,
		Conflicts:       report.Conflicts,
	}

	if firstErr != nil {
		outcome.Status = meta.StatusFailed
		outcome.Error = firstErr.Error()
	}

	if ctx.Err() != nil {
		outcome.Status = meta.StatusFailed
		outcome.Error = "cancelled"

		if firstErr == nil {
			firstErr = fmt.Errorf("sync: cycle %s cancelled: %w", syncID, ctx.Err())
		}
	}

	report.Status = outcome.Status
	e.completeSession(ctx, syncID, outcome)

	return report, firstErr
}

// completeSession writes the terminal session row. Detached from the
// cycle context so a cancelled cycle still records its outcome.
func (e *Engine) completeSession(ctx context.Context, syncID string, outcome meta.Outcome) {
	if err := e.meta.CompleteSession(context.WithoutCancel(ctx), syncID, outcome); err != nil {
		e.logger.Error("Sync-Session konnte nicht abgeschlossen werden",
			slog.String("sync_id", syncID),
			slog.Any("error", err),
		)
	}
}

// applyChange routes one remote change to the application database.
func (e *Engine) applyChange(ctx context.Context, change central.Change) error {
	switch change.Operation {
	case meta.OpInsert:
		return e.primary.ApplyInsert(ctx, change.TableName, change.Data)
	case meta.OpUpdate:
		return e.primary.ApplyUpdate(ctx, change.TableName, change.RecordID, change.Data)
	case meta.OpDelete:
		return e.primary.ApplyDelete(ctx, change.TableName, change.RecordID)
	default:
		return fmt.Errorf("sync: unknown operation %q for %s/%s",
			change.Operation, change.TableName, change.RecordID)
	}
}
