package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/meta"
)

func TestPull_AppliesRemoteChanges(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.seedContact(t, "c-9", "Altbestand")
	if _, err := fix.appDB.Exec(`INSERT INTO users (id, username) VALUES ('u-1', 'alt')`); err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	fix.transport.pullResp = &central.PullResponse{Changes: []central.Change{
		{TableName: "contacts", RecordID: "c-1", Operation: meta.OpInsert,
			Data: map[string]any{"id": "c-1", "name": "Leitstelle", "phone": "112"}},
		{TableName: "users", RecordID: "u-1", Operation: meta.OpUpdate,
			Data: map[string]any{"username": "einsatzleiter"}},
		{TableName: "contacts", RecordID: "c-9", Operation: meta.OpDelete},
	}}

	report, err := fix.engine.Sync(context.Background(), ModePull)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if report.RecordsReceived != 3 {
		t.Errorf("records received = %d, want 3", report.RecordsReceived)
	}
	if report.Conflicts != 0 {
		t.Errorf("conflicts = %d, want 0", report.Conflicts)
	}

	if name, ok := fix.contactName(t, "c-1"); !ok || name != "Leitstelle" {
		t.Errorf("inserted contact = %q, %v", name, ok)
	}
	if _, ok := fix.contactName(t, "c-9"); ok {
		t.Error("deleted contact still present")
	}

	var username string
	if err := fix.appDB.QueryRow(`SELECT username FROM users WHERE id = 'u-1'`).Scan(&username); err != nil {
		t.Fatalf("reading user: %v", err)
	}
	if username != "einsatzleiter" {
		t.Errorf("username = %q, want einsatzleiter", username)
	}

	sess := fix.lastSession(t)
	if sess.Status != meta.StatusCompleted || sess.RecordsReceived != 3 {
		t.Errorf("session = %+v, want completed with 3 received", sess)
	}
}

func TestPull_SinceComesFromLastCompletedSession(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	if _, err := fix.engine.Sync(ctx, ModePull); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	watermark, err := fix.metaStore.LastCompletedAt(ctx)
	if err != nil {
		t.Fatalf("LastCompletedAt: %v", err)
	}
	if watermark == "" {
		t.Fatal("no watermark after completed cycle")
	}

	// Each cycle needs its own sync id, so advance the clock.
	fix.engine.nowFunc = func() time.Time { return testNow.Add(1 * time.Hour) }
	fix.transport.pullErr = central.ErrUnreachable

	if _, err := fix.engine.Sync(ctx, ModePull); err == nil {
		t.Fatal("second Sync succeeded despite unreachable server")
	}

	fix.engine.nowFunc = func() time.Time { return testNow.Add(2 * time.Hour) }
	fix.transport.pullErr = nil

	if _, err := fix.engine.Sync(ctx, ModePull); err != nil {
		t.Fatalf("third Sync: %v", err)
	}

	// The failed cycle did not move the watermark.
	if fix.transport.pullSince != watermark {
		t.Errorf("since = %q, want %q", fix.transport.pullSince, watermark)
	}
}

func TestPull_SkipsUnknownOperation(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.transport.pullResp = &central.PullResponse{Changes: []central.Change{
		{TableName: "contacts", RecordID: "c-1", Operation: "UPSERT",
			Data: map[string]any{"id": "c-1", "name": "Kaputt"}},
		{TableName: "contacts", RecordID: "c-2", Operation: meta.OpInsert,
			Data: map[string]any{"id": "c-2", "name": "Intakt"}},
	}}

	report, err := fix.engine.Sync(context.Background(), ModePull)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// The bad change is skipped, the rest of the batch still lands.
	if report.RecordsReceived != 1 {
		t.Errorf("records received = %d, want 1", report.RecordsReceived)
	}
	if _, ok := fix.contactName(t, "c-1"); ok {
		t.Error("unknown operation was applied")
	}
	if name, ok := fix.contactName(t, "c-2"); !ok || name != "Intakt" {
		t.Errorf("good change not applied: %q, %v", name, ok)
	}

	if sess := fix.lastSession(t); sess.Status != meta.StatusCompleted {
		t.Errorf("session status = %q, want completed", sess.Status)
	}
}

func TestPull_SkipsUnknownTable(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.transport.pullResp = &central.PullResponse{Changes: []central.Change{
		{TableName: "missions", RecordID: "m-1", Operation: meta.OpInsert,
			Data: map[string]any{"id": "m-1"}},
		{TableName: "contacts", RecordID: "c-1", Operation: meta.OpInsert,
			Data: map[string]any{"id": "c-1", "name": "Leitstelle"}},
	}}

	report, err := fix.engine.Sync(context.Background(), ModePull)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if report.RecordsReceived != 1 {
		t.Errorf("records received = %d, want 1", report.RecordsReceived)
	}
	if name, ok := fix.contactName(t, "c-1"); !ok || name != "Leitstelle" {
		t.Errorf("good change not applied: %q, %v", name, ok)
	}
}

func TestPull_RejectionFailsSession(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.transport.pullErr = &central.APIError{
		StatusCode: 503,
		Message:    "wartung",
		Err:        central.ErrServerError,
	}

	_, err := fix.engine.Sync(context.Background(), ModePull)
	if !errors.Is(err, central.ErrServerError) {
		t.Fatalf("err = %v, want ErrServerError", err)
	}

	sess := fix.lastSession(t)
	if sess.Status != meta.StatusFailed {
		t.Errorf("session status = %q, want failed", sess.Status)
	}
}

func TestPull_DivertsConflictingChange(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.seedContact(t, "c-1", "Lokal")
	fix.track(t, "contacts", "c-1", meta.OpUpdate, map[string]any{"id": "c-1", "name": "Lokal"})

	fix.transport.pullResp = &central.PullResponse{Changes: []central.Change{
		{TableName: "contacts", RecordID: "c-1", Operation: meta.OpUpdate,
			Data: map[string]any{"name": "Zentral"}},
	}}

	report, err := fix.engine.Sync(context.Background(), ModePull)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if report.Conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", report.Conflicts)
	}
	if report.RecordsReceived != 0 {
		t.Errorf("records received = %d, want 0", report.RecordsReceived)
	}

	// Default policy remote_wins: the remote value lands anyway.
	if name, _ := fix.contactName(t, "c-1"); name != "Zentral" {
		t.Errorf("contact name = %q, want Zentral", name)
	}

	sess := fix.lastSession(t)
	if sess.Conflicts != 1 {
		t.Errorf("session conflicts = %d, want 1", sess.Conflicts)
	}

	conflicts, err := fix.metaStore.ConflictsForSession(context.Background(), sess.SyncID)
	if err != nil {
		t.Fatalf("ConflictsForSession: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}

	c := conflicts[0]
	if c.TableName != "contacts" || c.RecordID != "c-1" {
		t.Errorf("conflict row = %+v", c)
	}
	if c.Resolution != meta.ResolutionRemoteWins {
		t.Errorf("resolution = %q, want remote_wins", c.Resolution)
	}
	if c.ResolvedBy != "policy:remote_wins" {
		t.Errorf("resolved_by = %q", c.ResolvedBy)
	}
	if !strings.Contains(c.LocalData, "Lokal") {
		t.Errorf("local snapshot = %q, want tracked payload", c.LocalData)
	}
	if !strings.Contains(c.RemoteData, "Zentral") {
		t.Errorf("remote snapshot = %q, want pulled payload", c.RemoteData)
	}
}
