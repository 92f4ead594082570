package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/meta"
)

// push transmits one batch of pending local changes and flags it synced
// on acceptance. An empty queue is a successful no-op leg. Returns the
// number of changes the authority accepted.
func (e *Engine) push(ctx context.Context, syncID string) (int, error) {
	e.logger.Info("Sende lokale Änderungen...")

	cfg := e.config.Config()

	entries, err := e.meta.Pending(ctx, cfg.BatchSize)
	if err != nil {
		e.logger.Error(fmt.Sprintf("Push-Fehler: %v", err))

		return 0, err
	}

	if len(entries) == 0 {
		e.logger.Info("Keine ausstehenden Änderungen")

		return 0, nil
	}

	changes := make([]central.Change, 0, len(entries))
	for _, entry := range entries {
		change, err := changeFromEntry(entry)
		if err != nil {
			e.logger.Error(fmt.Sprintf("Push-Fehler: %v", err))

			return 0, err
		}

		changes = append(changes, change)
	}

	req := central.PushRequest{
		DeviceID:  e.deviceID,
		SyncID:    syncID,
		Changes:   changes,
		Timestamp: e.nowFunc().UTC().Format(time.RFC3339),
	}

	if err := e.transport.Push(ctx, req, cfg.Compression); err != nil {
		var apiErr *central.APIError
		if errors.As(err, &apiErr) {
			e.logger.Error(fmt.Sprintf("Push fehlgeschlagen: %d", apiErr.StatusCode))
		} else {
			e.logger.Error(fmt.Sprintf("Push-Fehler: %v", err))
		}

		return 0, err
	}

	// The batch stays unsynced if this fails: the next cycle retransmits
	// and the authority deduplicates on the data hash.
	if err := e.meta.MarkSynced(ctx, entries, syncID); err != nil {
		e.logger.Error(fmt.Sprintf("Push-Fehler: %v", err))

		return 0, err
	}

	e.logger.Info(fmt.Sprintf("Push erfolgreich: %d Änderungen gesendet", len(entries)))

	return len(entries), nil
}

// changeFromEntry converts a tracked change into its wire form, decoding
// the stored canonical payload.
func changeFromEntry(entry meta.ChangeEntry) (central.Change, error) {
	change := central.Change{
		Seq:       entry.Seq,
		TableName: entry.TableName,
		RecordID:  entry.RecordID,
		Operation: entry.Operation,
		ChangedAt: entry.ChangedAt,
		DataHash:  entry.DataHash,
	}

	if entry.Data != "" {
		if err := json.Unmarshal([]byte(entry.Data), &change.Data); err != nil {
			return central.Change{}, fmt.Errorf("sync: decoding payload of change %d: %w", entry.Seq, err)
		}
	}

	return change, nil
}
