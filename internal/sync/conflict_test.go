package sync

import (
	"context"
	"testing"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/config"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/meta"
)

// conflictFixture seeds a contact with a pending local edit and a remote
// change for the same record, so every pull diverts into the resolver.
func conflictFixture(t *testing.T, policy string, remote map[string]any, localPayload map[string]any) *fixture {
	t.Helper()

	fix := newFixture(t)
	fix.cfg.ConflictResolution = policy
	fix.seedContact(t, "c-1", "Lokal")
	fix.track(t, "contacts", "c-1", meta.OpUpdate, localPayload)

	fix.transport.pullResp = &central.PullResponse{Changes: []central.Change{
		{TableName: "contacts", RecordID: "c-1", Operation: meta.OpUpdate, Data: remote},
	}}

	return fix
}

func runConflictCycle(t *testing.T, fix *fixture) meta.ConflictRecord {
	t.Helper()

	report, err := fix.engine.Sync(context.Background(), ModePull)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", report.Conflicts)
	}

	conflicts, err := fix.metaStore.ConflictsForSession(context.Background(), report.SyncID)
	if err != nil {
		t.Fatalf("ConflictsForSession: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}

	return conflicts[0]
}

func TestConflict_LocalWinsKeepsLocalRow(t *testing.T) {
	t.Parallel()

	fix := conflictFixture(t, config.ResolutionLocalWins,
		map[string]any{"name": "Zentral"},
		map[string]any{"id": "c-1", "name": "Lokal"},
	)

	c := runConflictCycle(t, fix)

	if name, _ := fix.contactName(t, "c-1"); name != "Lokal" {
		t.Errorf("contact name = %q, want Lokal untouched", name)
	}
	if c.Resolution != meta.ResolutionLocalWins {
		t.Errorf("resolution = %q, want local_wins", c.Resolution)
	}
	if c.ResolvedBy != "policy:local_wins" {
		t.Errorf("resolved_by = %q", c.ResolvedBy)
	}

	// The local edit stays queued and pushes on the next cycle.
	if n := fix.pendingCount(t); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestConflict_MergePrefersNewerLocalFields(t *testing.T) {
	t.Parallel()

	fix := conflictFixture(t, config.ResolutionMerge,
		map[string]any{"name": "Zentral", "phone": "112", "updated_at": "2025-06-15T10:00:00Z"},
		map[string]any{"id": "c-1", "name": "Lokal", "updated_at": "2025-06-15T12:00:00Z"},
	)

	c := runConflictCycle(t, fix)

	// Overlap goes to the newer local row, the remote-only field lands.
	if name, _ := fix.contactName(t, "c-1"); name != "Lokal" {
		t.Errorf("contact name = %q, want Lokal", name)
	}

	var phone string
	if err := fix.appDB.QueryRow(`SELECT phone FROM contacts WHERE id = 'c-1'`).Scan(&phone); err != nil {
		t.Fatalf("reading phone: %v", err)
	}
	if phone != "112" {
		t.Errorf("phone = %q, want 112", phone)
	}

	if c.Resolution != meta.ResolutionMerged {
		t.Errorf("resolution = %q, want merged", c.Resolution)
	}
}

func TestConflict_MergePrefersNewerRemoteFields(t *testing.T) {
	t.Parallel()

	fix := conflictFixture(t, config.ResolutionMerge,
		map[string]any{"name": "Zentral", "updated_at": "2025-06-15T12:00:00Z"},
		map[string]any{"id": "c-1", "name": "Lokal", "updated_at": "2025-06-15T10:00:00Z"},
	)

	runConflictCycle(t, fix)

	if name, _ := fix.contactName(t, "c-1"); name != "Zentral" {
		t.Errorf("contact name = %q, want Zentral", name)
	}
}

func TestConflict_MergeWithoutTimestampsPrefersRemote(t *testing.T) {
	t.Parallel()

	fix := conflictFixture(t, config.ResolutionMerge,
		map[string]any{"name": "Zentral"},
		map[string]any{"id": "c-1", "name": "Lokal"},
	)

	runConflictCycle(t, fix)

	if name, _ := fix.contactName(t, "c-1"); name != "Zentral" {
		t.Errorf("contact name = %q, want Zentral", name)
	}
}

func TestConflict_MergeRemoteDeleteWins(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.cfg.ConflictResolution = config.ResolutionMerge
	fix.seedContact(t, "c-1", "Lokal")
	fix.track(t, "contacts", "c-1", meta.OpUpdate, map[string]any{"id": "c-1", "name": "Lokal"})

	fix.transport.pullResp = &central.PullResponse{Changes: []central.Change{
		{TableName: "contacts", RecordID: "c-1", Operation: meta.OpDelete},
	}}

	c := runConflictCycle(t, fix)

	// A delete has no fields to merge; the remote side wins whole.
	if _, ok := fix.contactName(t, "c-1"); ok {
		t.Error("contact survived remote delete")
	}
	if c.Resolution != meta.ResolutionRemoteWins {
		t.Errorf("resolution = %q, want remote_wins", c.Resolution)
	}
	if c.ResolvedBy != "policy:merge" {
		t.Errorf("resolved_by = %q", c.ResolvedBy)
	}
}

func TestMergeFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		local  map[string]any
		remote map[string]any
		want   map[string]any
	}{
		{
			name:   "disjoint fields union",
			local:  map[string]any{"id": "c-1", "name": "Lokal"},
			remote: map[string]any{"phone": "112"},
			want:   map[string]any{"id": "c-1", "name": "Lokal", "phone": "112"},
		},
		{
			name:   "overlap without timestamps goes remote",
			local:  map[string]any{"name": "Lokal"},
			remote: map[string]any{"name": "Zentral"},
			want:   map[string]any{"name": "Zentral"},
		},
		{
			name:   "overlap with newer local stays local",
			local:  map[string]any{"name": "Lokal", "updated_at": "2025-06-15T12:00:00Z"},
			remote: map[string]any{"name": "Zentral", "updated_at": "2025-06-15T10:00:00Z"},
			want:   map[string]any{"name": "Lokal", "updated_at": "2025-06-15T12:00:00Z"},
		},
		{
			name:   "equal timestamps go remote",
			local:  map[string]any{"name": "Lokal", "updated_at": "2025-06-15T12:00:00Z"},
			remote: map[string]any{"name": "Zentral", "updated_at": "2025-06-15T12:00:00Z"},
			want:   map[string]any{"name": "Zentral", "updated_at": "2025-06-15T12:00:00Z"},
		},
		{
			name:   "naive local timestamp still compares",
			local:  map[string]any{"name": "Lokal", "updated_at": "2025-06-15 14:00:00"},
			remote: map[string]any{"name": "Zentral", "updated_at": "2025-06-15T10:00:00Z"},
			want:   map[string]any{"name": "Lokal", "updated_at": "2025-06-15 14:00:00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := mergeFields(tt.local, tt.remote)

			if len(got) != len(tt.want) {
				t.Fatalf("merged = %v, want %v", got, tt.want)
			}
			for key, want := range tt.want {
				if got[key] != want {
					t.Errorf("merged[%q] = %v, want %v", key, got[key], want)
				}
			}
		})
	}
}

func TestRowUpdatedAt(t *testing.T) {
	t.Parallel()

	if _, ok := rowUpdatedAt(map[string]any{}); ok {
		t.Error("missing updated_at parsed")
	}
	if _, ok := rowUpdatedAt(map[string]any{"updated_at": 42}); ok {
		t.Error("numeric updated_at parsed")
	}
	if _, ok := rowUpdatedAt(map[string]any{"updated_at": "gestern"}); ok {
		t.Error("prose updated_at parsed")
	}

	for _, raw := range []string{
		"2025-06-15T12:00:00Z",
		"2025-06-15T12:00:00.123456Z",
		"2025-06-15T12:00:00.123456",
		"2025-06-15 12:00:00",
	} {
		if _, ok := rowUpdatedAt(map[string]any{"updated_at": raw}); !ok {
			t.Errorf("updated_at %q did not parse", raw)
		}
	}
}
