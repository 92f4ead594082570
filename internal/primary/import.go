package primary

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// ImportTable upserts a full table snapshot inside one transaction.
// Rows carrying an id are updated in place, inserting when the id is
// new; rows without an id are inserted. Any failing row aborts the
// whole table and the transaction rolls back. Returns the number of
// rows applied.
func (s *Store) ImportTable(ctx context.Context, table string, rows []map[string]any) (int, error) {
	if err := checkIdent("table", table); err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("primary: begin import %s: %w", table, err)
	}
	defer tx.Rollback()

	for i, row := range rows {
		if err := upsertRow(ctx, tx, table, row); err != nil {
			return 0, fmt.Errorf("primary: importing %s row %d: %w", table, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("primary: commit import %s: %w", table, err)
	}

	s.logger.Debug("table imported",
		slog.String("table", table),
		slog.Int("rows", len(rows)),
	)

	return len(rows), nil
}

// upsertRow writes one snapshot row: UPDATE by id first, INSERT when the
// update matched nothing or the row has no id.
func upsertRow(ctx context.Context, tx *sql.Tx, table string, row map[string]any) error {
	if len(row) == 0 {
		return fmt.Errorf("%w: empty row", ErrSchemaMismatch)
	}

	cols, err := sortedColumns(row)
	if err != nil {
		return err
	}

	id, hasID := row["id"]
	if hasID {
		setCols := make([]string, 0, len(cols))

		for _, col := range cols {
			if col != "id" {
				setCols = append(setCols, col)
			}
		}

		if len(setCols) > 0 {
			assignments := make([]string, len(setCols))
			for i, col := range setCols {
				assignments[i] = col + " = ?"
			}

			query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(assignments, ", "))

			args := make([]any, 0, len(setCols)+1)
			for _, col := range setCols {
				args = append(args, row[col])
			}

			args = append(args, id)

			result, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}

			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}

			if affected > 0 {
				return nil
			}
		} else {
			// id-only row: insert if new, otherwise nothing to change.
			_, err := tx.ExecContext(ctx, insertSQL(table, cols, true), columnValues(row, cols)...)

			return err
		}
	}

	_, err = tx.ExecContext(ctx, insertSQL(table, cols, false), columnValues(row, cols)...)

	return err
}
