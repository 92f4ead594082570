package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/config"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/meta"
	"github.com/MLeprich/stabsstelle-pi-deploy/pkg/canonjson"
)

// resolveConflicts applies the configured policy to each conflicting
// remote change and records every outcome in the conflict log.
func (e *Engine) resolveConflicts(ctx context.Context, syncID string, conflicting []central.Change) {
	e.logger.Info(fmt.Sprintf("Löse %d Konflikte...", len(conflicting)))

	policy := e.config.Config().ConflictResolution

	for _, change := range conflicting {
		localData := e.localSnapshot(ctx, change)
		resolution := e.resolveConflict(ctx, change, policy)
		e.recordConflict(ctx, syncID, change, localData, resolution, policy)
	}
}

// resolveConflict settles one conflicting change and reports which side
// won. By the time this returns the row reflects the winning side.
func (e *Engine) resolveConflict(ctx context.Context, change central.Change, policy string) string {
	switch policy {
	case config.ResolutionLocalWins:
		// The local row stays untouched; its unsynced entries go out on
		// the next push leg.
		return meta.ResolutionLocalWins

	case config.ResolutionMerge:
		if change.Operation == meta.OpDelete || len(change.Data) == 0 {
			// Nothing to merge field-wise.
			e.forceApply(ctx, change)

			return meta.ResolutionRemoteWins
		}

		merged := e.mergedPayload(ctx, change)
		if err := e.primary.ApplyUpdate(ctx, change.TableName, change.RecordID, merged); err != nil {
			e.logger.Error(fmt.Sprintf("Fehler beim Anwenden von Änderung: %v", err))
		}

		return meta.ResolutionMerged

	default:
		e.forceApply(ctx, change)

		return meta.ResolutionRemoteWins
	}
}

// forceApply applies a remote change regardless of local unsynced edits.
func (e *Engine) forceApply(ctx context.Context, change central.Change) {
	if err := e.applyChange(ctx, change); err != nil {
		e.logger.Error(fmt.Sprintf("Fehler beim Anwenden von Änderung: %v", err))
	}
}

// mergedPayload unions the latest unsynced local payload with the remote
// one. Overlapping fields take the side whose row carries the later
// updated_at; without comparable timestamps the remote value wins.
func (e *Engine) mergedPayload(ctx context.Context, change central.Change) map[string]any {
	localJSON, err := e.meta.LatestUnsyncedData(ctx, change.TableName, change.RecordID)
	if err != nil || localJSON == "" {
		return change.Data
	}

	var local map[string]any
	if err := json.Unmarshal([]byte(localJSON), &local); err != nil {
		return change.Data
	}

	return mergeFields(local, change.Data)
}

func mergeFields(local, remote map[string]any) map[string]any {
	merged := make(map[string]any, len(local)+len(remote))
	maps.Copy(merged, local)

	preferLocal := localIsNewer(local, remote)

	for key, value := range remote {
		if preferLocal {
			if _, exists := merged[key]; exists {
				continue
			}
		}

		merged[key] = value
	}

	return merged
}

// localIsNewer reports whether the local row carries a strictly later
// updated_at than the remote row.
func localIsNewer(local, remote map[string]any) bool {
	localAt, ok := rowUpdatedAt(local)
	if !ok {
		return false
	}

	remoteAt, ok := rowUpdatedAt(remote)
	if !ok {
		return false
	}

	return localAt.After(remoteAt)
}

var updatedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func rowUpdatedAt(row map[string]any) (time.Time, bool) {
	raw, ok := row["updated_at"].(string)
	if !ok {
		return time.Time{}, false
	}

	for _, layout := range updatedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// localSnapshot captures the local side of a conflict before resolution
// mutates the row. Best effort: an unreadable snapshot logs empty.
func (e *Engine) localSnapshot(ctx context.Context, change central.Change) string {
	localData, err := e.meta.LatestUnsyncedData(ctx, change.TableName, change.RecordID)
	if err != nil {
		return ""
	}

	return localData
}

func (e *Engine) recordConflict(ctx context.Context, syncID string, change central.Change, localData, resolution, policy string) {
	var remoteData string

	if len(change.Data) > 0 {
		if encoded, err := canonjson.Marshal(change.Data); err == nil {
			remoteData = string(encoded)
		}
	}

	rec := meta.ConflictRecord{
		SyncID:     syncID,
		TableName:  change.TableName,
		RecordID:   change.RecordID,
		LocalData:  localData,
		RemoteData: remoteData,
		Resolution: resolution,
		ResolvedBy: "policy:" + policy,
	}

	if err := e.meta.RecordConflict(ctx, rec); err != nil {
		e.logger.Error("Konflikt konnte nicht protokolliert werden",
			slog.String("table", change.TableName),
			slog.String("record_id", change.RecordID),
			slog.Any("error", err),
		)
	}
}
