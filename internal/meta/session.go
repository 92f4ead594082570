package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StartSession inserts a running session row for syncID. This happens
// before any network I/O so an interrupted cycle leaves a visible trace.
func (s *Store) StartSession(ctx context.Context, syncID, direction string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_history (sync_id, started_at, status, direction)
		 VALUES (?, ?, ?, ?)`,
		syncID, s.now(), StatusRunning, direction)
	if err != nil {
		return fmt.Errorf("meta: starting session %s: %w", syncID, err)
	}

	return nil
}

// CompleteSession writes the terminal state of a session in one update:
// status, counters, error message, completion time.
func (s *Store) CompleteSession(ctx context.Context, syncID string, outcome Outcome) error {
	var errMsg sql.NullString
	if outcome.Error != "" {
		errMsg = sql.NullString{String: outcome.Error, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_history
		 SET completed_at = ?, status = ?, records_sent = ?, records_received = ?,
		     conflicts = ?, error = ?
		 WHERE sync_id = ?`,
		s.now(), outcome.Status, outcome.RecordsSent, outcome.RecordsReceived,
		outcome.Conflicts, errMsg, syncID)
	if err != nil {
		return fmt.Errorf("meta: completing session %s: %w", syncID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("meta: completing session %s rows affected: %w", syncID, err)
	}

	if rows == 0 {
		return fmt.Errorf("meta: completing session %s: no such session", syncID)
	}

	return nil
}

// LastCompletedAt returns the completion time of the most recent
// completed session, or "" when no cycle has completed yet. The pull leg
// sends this as its since cursor.
func (s *Store) LastCompletedAt(ctx context.Context) (string, error) {
	var completedAt sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT completed_at FROM sync_history
		 WHERE status = ?
		 ORDER BY id DESC
		 LIMIT 1`, StatusCompleted).Scan(&completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("meta: loading last completed session: %w", err)
	}

	return completedAt.String, nil
}

// LastSession returns the most recently started session, or nil when the
// history is empty.
func (s *Store) LastSession(ctx context.Context) (*Session, error) {
	rows, err := s.querySessions(ctx, `ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	return &rows[0], nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		return nil, nil
	}

	return s.querySessions(ctx, `ORDER BY id DESC LIMIT ?`, limit)
}

// querySessions runs a sync_history query with the shared column list.
func (s *Store) querySessions(ctx context.Context, tail string, args ...any) ([]Session, error) {
	query := `SELECT id, sync_id, started_at, completed_at, status, direction,
		records_sent, records_received, conflicts, error
	 FROM sync_history ` + tail

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("meta: loading sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session

	for rows.Next() {
		var (
			sess        Session
			startedAt   sql.NullString
			completedAt sql.NullString
			errMsg      sql.NullString
		)

		err := rows.Scan(&sess.ID, &sess.SyncID, &startedAt, &completedAt,
			&sess.Status, &sess.Direction, &sess.RecordsSent,
			&sess.RecordsReceived, &sess.Conflicts, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("meta: scanning session: %w", err)
		}

		sess.StartedAt = startedAt.String
		sess.CompletedAt = completedAt.String
		sess.Error = errMsg.String

		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meta: iterating sessions: %w", err)
	}

	return sessions, nil
}
