package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
)

// pull fetches remote changes since the last completed session and
// applies them. Changes touching a record with unsynced local edits are
// diverted to the conflict resolver. Returns the applied count and the
// conflict count.
func (e *Engine) pull(ctx context.Context, syncID string) (int, int, error) {
	e.logger.Info("Hole Server-Änderungen...")

	cfg := e.config.Config()

	since, err := e.meta.LastCompletedAt(ctx)
	if err != nil {
		e.logger.Error(fmt.Sprintf("Pull-Fehler: %v", err))

		return 0, 0, err
	}

	resp, err := e.transport.Pull(ctx, syncID, since, cfg.BatchSize)
	if err != nil {
		var apiErr *central.APIError
		if errors.As(err, &apiErr) {
			e.logger.Error(fmt.Sprintf("Pull fehlgeschlagen: %d", apiErr.StatusCode))
		} else {
			e.logger.Error(fmt.Sprintf("Pull-Fehler: %v", err))
		}

		return 0, 0, err
	}

	applied, conflicting := e.applyRemoteChanges(ctx, resp.Changes)

	e.logger.Info(fmt.Sprintf("Pull erfolgreich: %d Änderungen empfangen, %d Konflikte",
		len(resp.Changes), len(conflicting)))

	if len(conflicting) > 0 {
		e.resolveConflicts(ctx, syncID, conflicting)
	}

	return applied, len(conflicting), nil
}

// applyRemoteChanges applies non-conflicting changes in received order,
// each in its own short transaction. A change that cannot be applied is
// logged and skipped; it never poisons the rest of the batch.
func (e *Engine) applyRemoteChanges(ctx context.Context, changes []central.Change) (int, []central.Change) {
	applied := 0

	var conflicting []central.Change

	for _, change := range changes {
		if ctx.Err() != nil {
			break
		}

		conflict, err := e.meta.HasUnsynced(ctx, change.TableName, change.RecordID)
		if err != nil {
			e.logger.Error(fmt.Sprintf("Fehler beim Anwenden von Änderung: %v", err))
			continue
		}

		if conflict {
			conflicting = append(conflicting, change)
			continue
		}

		if err := e.applyChange(ctx, change); err != nil {
			e.logger.Error(fmt.Sprintf("Fehler beim Anwenden von Änderung: %v", err))
			continue
		}

		applied++
	}

	return applied, conflicting
}
