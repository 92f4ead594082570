package meta

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordConflict appends a resolved conflict to the conflict log.
// ResolvedAt is stamped by the store.
func (s *Store) RecordConflict(ctx context.Context, rec ConflictRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conflict_log
			(sync_id, table_name, record_id, local_data, remote_data, resolution, resolved_at, resolved_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SyncID, rec.TableName, rec.RecordID,
		nullIfEmpty(rec.LocalData), nullIfEmpty(rec.RemoteData),
		rec.Resolution, s.now(), rec.ResolvedBy)
	if err != nil {
		return fmt.Errorf("meta: recording conflict %s/%s: %w", rec.TableName, rec.RecordID, err)
	}

	return nil
}

// ConflictsForSession returns every conflict logged under syncID in
// resolution order.
func (s *Store) ConflictsForSession(ctx context.Context, syncID string) ([]ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sync_id, table_name, record_id, local_data, remote_data,
			resolution, resolved_at, resolved_by
		 FROM conflict_log
		 WHERE sync_id = ?
		 ORDER BY id ASC`, syncID)
	if err != nil {
		return nil, fmt.Errorf("meta: loading conflicts for %s: %w", syncID, err)
	}
	defer rows.Close()

	var records []ConflictRecord

	for rows.Next() {
		var (
			rec        ConflictRecord
			localData  sql.NullString
			remoteData sql.NullString
			resolvedAt sql.NullString
			resolvedBy sql.NullString
		)

		err := rows.Scan(&rec.ID, &rec.SyncID, &rec.TableName, &rec.RecordID,
			&localData, &remoteData, &rec.Resolution, &resolvedAt, &resolvedBy)
		if err != nil {
			return nil, fmt.Errorf("meta: scanning conflict: %w", err)
		}

		rec.LocalData = localData.String
		rec.RemoteData = remoteData.String
		rec.ResolvedAt = resolvedAt.String
		rec.ResolvedBy = resolvedBy.String

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meta: iterating conflicts: %w", err)
	}

	return records, nil
}

// nullIfEmpty maps "" to SQL NULL.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
