// Package primary is the engine's access layer to the application
// database. That database is owned by the web application; the engine
// only reads and writes rows of tables it is told about, inside short
// transactions, and never creates or alters schema. Column sets arrive
// at runtime from remote payloads, so all generated SQL goes through
// identifier validation first.
package primary

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// ErrSchemaMismatch marks a remote row that cannot be expressed against
// the local schema. Callers skip the row and continue.
var ErrSchemaMismatch = errors.New("primary: row does not fit local schema")

// identPattern is the only shape accepted for table and column names
// taken from remote payloads.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const maxIdentLen = 64

// Store wraps the application database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the application database at dbPath. The schema is the web
// application's; nothing is created here.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Short transactions against a DB shared with the web application:
	// WAL for concurrent readers, busy_timeout instead of failing on a
	// held write lock.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("primary: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("primary: closing database: %w", err)
	}

	return nil
}

// checkIdent validates a table or column name from a remote payload.
func checkIdent(kind, name string) error {
	if len(name) == 0 || len(name) > maxIdentLen || !identPattern.MatchString(name) {
		return fmt.Errorf("%w: bad %s name %q", ErrSchemaMismatch, kind, name)
	}

	return nil
}

// sortedColumns returns the payload's column names in deterministic
// order, each validated.
func sortedColumns(data map[string]any) ([]string, error) {
	cols := make([]string, 0, len(data))

	for col := range data {
		if err := checkIdent("column", col); err != nil {
			return nil, err
		}

		cols = append(cols, col)
	}

	slices.Sort(cols)

	return cols, nil
}

// insertSQL builds a parameterised INSERT for the given column set.
func insertSQL(table string, cols []string, orIgnore bool) string {
	verb := "INSERT"
	if orIgnore {
		verb = "INSERT OR IGNORE"
	}

	return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)",
		verb, table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
}

// columnValues returns the payload values in column order.
func columnValues(data map[string]any, cols []string) []any {
	values := make([]any, len(cols))
	for i, col := range cols {
		values[i] = data[col]
	}

	return values
}
