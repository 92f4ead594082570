package primary

import (
	"context"
	"fmt"
	"maps"
	"strings"
)

// ApplyInsert inserts a remote row using the payload's full column set.
// When the payload carries an id the insert upserts on it, so replaying
// the same remote insert is a no-op rather than a constraint violation.
func (s *Store) ApplyInsert(ctx context.Context, table string, data map[string]any) error {
	if err := checkIdent("table", table); err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("%w: INSERT into %s with empty payload", ErrSchemaMismatch, table)
	}

	cols, err := sortedColumns(data)
	if err != nil {
		return err
	}

	query := insertSQL(table, cols, false)
	if _, hasID := data["id"]; hasID {
		query += upsertClause(cols)
	}

	_, err = s.db.ExecContext(ctx, query, columnValues(data, cols)...)
	if err != nil {
		return fmt.Errorf("primary: inserting into %s: %w", table, err)
	}

	return nil
}

// upsertClause renders the ON CONFLICT arm updating every non-id column
// from the incoming row.
func upsertClause(cols []string) string {
	assignments := make([]string, 0, len(cols))

	for _, col := range cols {
		if col != "id" {
			assignments = append(assignments, col+" = excluded."+col)
		}
	}

	if len(assignments) == 0 {
		return " ON CONFLICT(id) DO NOTHING"
	}

	return " ON CONFLICT(id) DO UPDATE SET " + strings.Join(assignments, ", ")
}

// ApplyUpdate updates the row with the given id, falling back to an
// insert when no row matched. Update and fallback run in one transaction
// so the change lands exactly once.
func (s *Store) ApplyUpdate(ctx context.Context, table, recordID string, data map[string]any) error {
	if err := checkIdent("table", table); err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("%w: UPDATE of %s/%s with empty payload", ErrSchemaMismatch, table, recordID)
	}

	cols, err := sortedColumns(data)
	if err != nil {
		return err
	}

	setCols := make([]string, 0, len(cols))

	for _, col := range cols {
		if col != "id" {
			setCols = append(setCols, col)
		}
	}

	if len(setCols) == 0 {
		// Payload carries only the id. Ensure the row exists; an
		// existing row needs no change.
		_, err := s.db.ExecContext(ctx, insertSQL(table, cols, true), columnValues(data, cols)...)
		if err != nil {
			return fmt.Errorf("primary: updating %s/%s: %w", table, recordID, err)
		}

		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("primary: begin update %s/%s: %w", table, recordID, err)
	}
	defer tx.Rollback()

	assignments := make([]string, len(setCols))
	for i, col := range setCols {
		assignments[i] = col + " = ?"
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(assignments, ", "))

	args := make([]any, 0, len(setCols)+1)
	for _, col := range setCols {
		args = append(args, data[col])
	}

	args = append(args, recordID)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("primary: updating %s/%s: %w", table, recordID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("primary: update %s/%s rows affected: %w", table, recordID, err)
	}

	if affected == 0 {
		// Row does not exist yet: insert instead, carrying the id so
		// later updates find it.
		row := maps.Clone(data)
		if _, ok := row["id"]; !ok {
			row["id"] = recordID
		}

		insCols, err := sortedColumns(row)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, insertSQL(table, insCols, false), columnValues(row, insCols)...)
		if err != nil {
			return fmt.Errorf("primary: insert fallback for %s/%s: %w", table, recordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("primary: commit update %s/%s: %w", table, recordID, err)
	}

	return nil
}

// ApplyDelete deletes the row with the given id. A missing row is not an
// error; deletes are idempotent.
func (s *Store) ApplyDelete(ctx context.Context, table, recordID string) error {
	if err := checkIdent("table", table); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	if _, err := s.db.ExecContext(ctx, query, recordID); err != nil {
		return fmt.Errorf("primary: deleting %s/%s: %w", table, recordID, err)
	}

	return nil
}
