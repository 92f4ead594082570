package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MLeprich/stabsstelle-pi-deploy/pkg/canonjson"
)

// Track appends a change log entry for a local mutation. The payload is
// stored as canonical JSON alongside its SHA-256 so the push leg can
// replay the exact row content. Deletes carry no payload and no hash.
func (s *Store) Track(ctx context.Context, table, recordID, op string, payload map[string]any) error {
	var (
		data sql.NullString
		hash sql.NullString
	)

	if op != OpDelete {
		encoded, err := canonjson.Marshal(payload)
		if err != nil {
			return fmt.Errorf("meta: encoding change payload for %s/%s: %w", table, recordID, err)
		}

		digest, err := canonjson.Hash(payload)
		if err != nil {
			return fmt.Errorf("meta: hashing change payload for %s/%s: %w", table, recordID, err)
		}

		data = sql.NullString{String: string(encoded), Valid: true}
		hash = sql.NullString{String: digest, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO change_tracking (table_name, record_id, operation, changed_at, data_hash, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		table, recordID, op, s.now(), hash, data)
	if err != nil {
		return fmt.Errorf("meta: tracking change %s %s/%s: %w", op, table, recordID, err)
	}

	return nil
}

// Pending returns the oldest limit unsynced entries in seq order. A
// non-positive limit returns nothing.
func (s *Store) Pending(ctx context.Context, limit int) ([]ChangeEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_name, record_id, operation, changed_at, synced, sync_id, data_hash, data
		 FROM change_tracking
		 WHERE synced = 0
		 ORDER BY id ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("meta: loading pending changes: %w", err)
	}
	defer rows.Close()

	var entries []ChangeEntry

	for rows.Next() {
		entry, scanErr := scanChangeEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meta: iterating pending changes: %w", err)
	}

	return entries, nil
}

// PendingCount returns the number of unsynced change log entries.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_tracking WHERE synced = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("meta: counting pending changes: %w", err)
	}

	return count, nil
}

// MarkSynced flags the given entries as transmitted under syncID in a
// single transaction. Either every entry is marked or none is.
func (s *Store) MarkSynced(ctx context.Context, entries []ChangeEntry, syncID string) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("meta: begin mark synced: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE change_tracking SET synced = 1, sync_id = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("meta: prepare mark synced: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, syncID, entry.Seq); err != nil {
			return fmt.Errorf("meta: marking change %d synced: %w", entry.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("meta: commit mark synced: %w", err)
	}

	return nil
}

// HasUnsynced reports whether the change log holds any unsynced entry
// for the given row. This is the conflict test applied to every pulled
// remote change.
func (s *Store) HasUnsynced(ctx context.Context, table, recordID string) (bool, error) {
	var exists bool

	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM change_tracking
			WHERE table_name = ? AND record_id = ? AND synced = 0
		)`, table, recordID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("meta: checking local changes for %s/%s: %w", table, recordID, err)
	}

	return exists, nil
}

// LatestUnsyncedData returns the payload of the newest unsynced entry
// for the given row, or "" when there is none (or the entry is a
// delete). Conflict resolution uses this as the local side.
func (s *Store) LatestUnsyncedData(ctx context.Context, table, recordID string) (string, error) {
	var data sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM change_tracking
		 WHERE table_name = ? AND record_id = ? AND synced = 0
		 ORDER BY id DESC
		 LIMIT 1`, table, recordID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("meta: loading local data for %s/%s: %w", table, recordID, err)
	}

	return data.String, nil
}

// scanChangeEntry scans a single change_tracking row.
func scanChangeEntry(rows *sql.Rows) (*ChangeEntry, error) {
	var (
		entry     ChangeEntry
		changedAt sql.NullString
		syncID    sql.NullString
		hash      sql.NullString
		data      sql.NullString
	)

	err := rows.Scan(&entry.Seq, &entry.TableName, &entry.RecordID, &entry.Operation,
		&changedAt, &entry.Synced, &syncID, &hash, &data)
	if err != nil {
		return nil, fmt.Errorf("meta: scanning change entry: %w", err)
	}

	entry.ChangedAt = changedAt.String
	entry.SyncID = syncID.String
	entry.DataHash = hash.String
	entry.Data = data.String

	return &entry, nil
}
