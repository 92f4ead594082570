package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
)

// initialTableOrder is the import order for the bootstrap snapshot.
// Referenced tables come before their referrers so foreign keys hold.
var initialTableOrder = []string{
	"users",
	"roles",
	"permissions",
	"contacts",
	"resources",
	"logbook_entries",
	"wiki_articles",
	"scenarios",
	"checklists",
}

// InitialSync replaces the local dataset with a full snapshot from the
// authority. Each table imports in its own transaction; a failing table
// is skipped whole and reported, the rest still import. The change log
// is never touched, so local edits made before bootstrap still push.
func (e *Engine) InitialSync(ctx context.Context) error {
	e.logger.Info("Führe initialen Sync durch...")

	snapshot, err := e.transport.Initial(ctx)
	if err != nil {
		var apiErr *central.APIError
		if errors.As(err, &apiErr) {
			e.logger.Error(fmt.Sprintf("Initialer Sync fehlgeschlagen: %d", apiErr.StatusCode))
		} else {
			e.logger.Error(fmt.Sprintf("Fehler beim initialen Sync: %v", err))
		}

		return err
	}

	var aborted []string

	known := make(map[string]bool, len(initialTableOrder))
	for _, table := range initialTableOrder {
		known[table] = true

		rows, ok := snapshot[table]
		if !ok {
			continue
		}

		if !e.importTable(ctx, table, rows) {
			aborted = append(aborted, table)
		}
	}

	// Tables the authority sent beyond the known set, in name order.
	extra := make([]string, 0, len(snapshot))
	for table := range snapshot {
		if !known[table] {
			extra = append(extra, table)
		}
	}
	slices.Sort(extra)

	for _, table := range extra {
		if !e.importTable(ctx, table, snapshot[table]) {
			aborted = append(aborted, table)
		}
	}

	if len(aborted) > 0 {
		err := fmt.Errorf("sync: initial import aborted for tables: %s", strings.Join(aborted, ", "))
		e.logger.Error(fmt.Sprintf("Fehler beim initialen Sync: %v", err))

		return err
	}

	e.logger.Info("Initialer Sync erfolgreich")

	return nil
}

func (e *Engine) importTable(ctx context.Context, table string, rows []map[string]any) bool {
	e.logger.Info(fmt.Sprintf("Importiere %d %s...", len(rows), table))

	if _, err := e.primary.ImportTable(ctx, table, rows); err != nil {
		e.logger.Error(fmt.Sprintf("Fehler beim initialen Sync: %v", err))

		return false
	}

	return true
}
