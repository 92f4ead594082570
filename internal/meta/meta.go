// Package meta owns the sync metadata database: the change log feeding
// push cycles, the session history, and the conflict log. It is a
// separate SQLite file from the application database, opened in WAL mode
// with synchronous=FULL so every acknowledged write survives power loss.
// Single writer, concurrent readers.
package meta

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Operations recorded in the change log.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Session status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusError     = "error"
)

// Conflict resolution outcomes recorded in the conflict log.
const (
	ResolutionLocalWins  = "local_wins"
	ResolutionRemoteWins = "remote_wins"
	ResolutionMerged     = "merged"
)

// ChangeEntry is one row of the change log: a single local mutation of
// the application database. Data holds the canonical JSON of the row
// payload, empty for deletes.
type ChangeEntry struct {
	Seq       int64
	TableName string
	RecordID  string
	Operation string
	ChangedAt string
	Synced    bool
	SyncID    string
	DataHash  string
	Data      string
}

// Session is one row of the sync history: a single reconciliation
// attempt. CompletedAt and Error are empty while running.
type Session struct {
	ID              int64
	SyncID          string
	StartedAt       string
	CompletedAt     string
	Status          string
	Direction       string
	RecordsSent     int
	RecordsReceived int
	Conflicts       int
	Error           string
}

// Outcome is the terminal state written to a session in one update.
type Outcome struct {
	Status          string
	RecordsSent     int
	RecordsReceived int
	Conflicts       int
	Error           string
}

// ConflictRecord is one row of the conflict log. LocalData and
// RemoteData hold the JSON of both sides at resolution time.
type ConflictRecord struct {
	ID         int64
	SyncID     string
	TableName  string
	RecordID   string
	LocalData  string
	RemoteData string
	Resolution string
	ResolvedAt string
	ResolvedBy string
}

// Store is the sole owner of the sync metadata database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// nowFunc returns the current time. Tests override this for
	// deterministic timestamps.
	nowFunc func() time.Time
}

// Open opens (or creates) the metadata database at dbPath and applies
// pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("meta: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()

		return nil, err
	}

	logger.Debug("metadata store opened", slog.String("db_path", dbPath))

	return &Store{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("meta: closing database: %w", err)
	}

	return nil
}

// now returns the current UTC time serialised the way all metadata
// timestamps are stored.
func (s *Store) now() string {
	return s.nowFunc().UTC().Format(time.RFC3339)
}
