package testutil

import (
	"database/sql"
	"fmt"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/MLeprich/stabsstelle-pi-deploy/pkg/canonjson"
)

// appSchema is the subset of the web application's schema the sync agent
// touches. Column sets are trimmed to what sync payloads carry.
const appSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT,
    email TEXT,
    role_id TEXT,
    updated_at TEXT
);
CREATE TABLE IF NOT EXISTS roles (
    id TEXT PRIMARY KEY,
    name TEXT
);
CREATE TABLE IF NOT EXISTS permissions (
    id TEXT PRIMARY KEY,
    role_id TEXT,
    name TEXT
);
CREATE TABLE IF NOT EXISTS contacts (
    id TEXT PRIMARY KEY,
    name TEXT,
    phone TEXT,
    email TEXT,
    organization TEXT,
    updated_at TEXT
);
CREATE TABLE IF NOT EXISTS resources (
    id TEXT PRIMARY KEY,
    name TEXT,
    type TEXT,
    status TEXT,
    updated_at TEXT
);
CREATE TABLE IF NOT EXISTS logbook_entries (
    id TEXT PRIMARY KEY,
    title TEXT,
    message TEXT,
    created_by TEXT,
    created_at TEXT,
    updated_at TEXT
);
CREATE TABLE IF NOT EXISTS wiki_articles (
    id TEXT PRIMARY KEY,
    title TEXT,
    content TEXT,
    updated_at TEXT
);
CREATE TABLE IF NOT EXISTS scenarios (
    id TEXT PRIMARY KEY,
    name TEXT,
    description TEXT,
    updated_at TEXT
);
CREATE TABLE IF NOT EXISTS checklists (
    id TEXT PRIMARY KEY,
    name TEXT,
    items TEXT,
    updated_at TEXT
);
`

// OpenDB opens a SQLite database the way the web application does: WAL
// for concurrent readers and a busy timeout instead of lock errors.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("testutil: opening database %s: %w", path, err)
	}

	return db, nil
}

// CreateAppSchema creates the application tables in the database at path.
func CreateAppSchema(path string) error {
	db, err := OpenDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(appSchema); err != nil {
		return fmt.Errorf("testutil: creating application schema: %w", err)
	}

	return nil
}

// TrackChange appends a change log entry to the metadata database the way
// the web application does on every local mutation. The metadata schema
// must already exist, which it does after any agent run against the
// database.
func TrackChange(metaDBPath, table, recordID, op string, payload map[string]any) error {
	var (
		data sql.NullString
		hash sql.NullString
	)

	if payload != nil {
		encoded, err := canonjson.Marshal(payload)
		if err != nil {
			return fmt.Errorf("testutil: encoding change payload: %w", err)
		}

		digest, err := canonjson.Hash(payload)
		if err != nil {
			return fmt.Errorf("testutil: hashing change payload: %w", err)
		}

		data = sql.NullString{String: string(encoded), Valid: true}
		hash = sql.NullString{String: digest, Valid: true}
	}

	db, err := OpenDB(metaDBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec(
		`INSERT INTO change_tracking (table_name, record_id, operation, changed_at, data_hash, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		table, recordID, op, time.Now().UTC().Format(time.RFC3339), hash, data)
	if err != nil {
		return fmt.Errorf("testutil: tracking change %s %s/%s: %w", op, table, recordID, err)
	}

	return nil
}
