package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/central"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/config"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/license"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/meta"
	"github.com/MLeprich/stabsstelle-pi-deploy/internal/primary"

	_ "modernc.org/sqlite"
)

const (
	testDeviceID = "abcdef0123456789"
	testSyncID   = "abcdef0123456789-1750000000"
)

var testNow = time.Unix(1750000000, 0).UTC()

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeTransport struct {
	mu sync.Mutex

	pushReq      *central.PushRequest
	pushCompress bool
	pushErr      error
	pushFunc     func(ctx context.Context, req central.PushRequest) error

	pullSyncID string
	pullSince  string
	pullLimit  int
	pullResp   *central.PullResponse
	pullErr    error

	snapshot   central.InitialSnapshot
	initialErr error

	heartbeats   []central.HeartbeatRequest
	heartbeatErr error
}

func (f *fakeTransport) Push(ctx context.Context, req central.PushRequest, compress bool) error {
	f.pushReq = &req
	f.pushCompress = compress

	if f.pushFunc != nil {
		return f.pushFunc(ctx, req)
	}

	return f.pushErr
}

func (f *fakeTransport) Pull(_ context.Context, syncID, since string, limit int) (*central.PullResponse, error) {
	f.pullSyncID = syncID
	f.pullSince = since
	f.pullLimit = limit

	if f.pullErr != nil {
		return nil, f.pullErr
	}

	if f.pullResp == nil {
		return &central.PullResponse{}, nil
	}

	return f.pullResp, nil
}

func (f *fakeTransport) Initial(_ context.Context) (central.InitialSnapshot, error) {
	if f.initialErr != nil {
		return nil, f.initialErr
	}

	return f.snapshot, nil
}

func (f *fakeTransport) Heartbeat(_ context.Context, req central.HeartbeatRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.heartbeats = append(f.heartbeats, req)

	return f.heartbeatErr
}

func (f *fakeTransport) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.heartbeats)
}

type fakeLicense struct {
	valid   bool
	enabled bool
	apiKey  string
}

func (f *fakeLicense) IsValid() bool { return f.valid }

func (f *fakeLicense) SyncConfig() license.SyncConfig {
	return license.SyncConfig{
		Enabled:    f.enabled,
		Interval:   300,
		ServerURL:  "https://stab.example.com",
		DeviceID:   testDeviceID,
		LicenseKey: "STAB-2024-TEST",
	}
}

func (f *fakeLicense) APIKey() string { return f.apiKey }

type staticConfig struct {
	cfg *config.Config
}

func (s *staticConfig) Config() *config.Config { return s.cfg }

// fixture wires an Engine over real stores in a temp dir and fakes for
// transport and license. appDB is a second handle on the application
// database for seeding and assertions.
type fixture struct {
	engine    *Engine
	transport *fakeTransport
	lic       *fakeLicense
	metaStore *meta.Store
	appDB     *sql.DB
	cfg       *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger(t)

	appPath := filepath.Join(dir, "stabsstelle.db")

	appDB, err := sql.Open("sqlite", "file:"+appPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("opening app db: %v", err)
	}
	t.Cleanup(func() { appDB.Close() })

	schema := []string{
		`CREATE TABLE contacts (id TEXT PRIMARY KEY, name TEXT, phone TEXT, updated_at TEXT)`,
		`CREATE TABLE users (id TEXT PRIMARY KEY, username TEXT)`,
	}
	for _, stmt := range schema {
		if _, err := appDB.Exec(stmt); err != nil {
			t.Fatalf("creating schema: %v", err)
		}
	}

	primaryStore, err := primary.Open(appPath, logger)
	if err != nil {
		t.Fatalf("opening primary store: %v", err)
	}
	t.Cleanup(func() { primaryStore.Close() })

	metaStore, err := meta.Open(filepath.Join(dir, "sync_meta.db"), logger)
	if err != nil {
		t.Fatalf("opening metadata store: %v", err)
	}
	t.Cleanup(func() { metaStore.Close() })

	transport := &fakeTransport{}
	lic := &fakeLicense{valid: true, enabled: true, apiKey: "key-1234"}
	cfg := config.DefaultConfig()

	engine := NewEngine(&EngineConfig{
		Transport: transport,
		License:   lic,
		Meta:      metaStore,
		Primary:   primaryStore,
		Config:    &staticConfig{cfg: cfg},
		DeviceID:  testDeviceID,
		Logger:    logger,
	})
	engine.nowFunc = func() time.Time { return testNow }

	return &fixture{
		engine:    engine,
		transport: transport,
		lic:       lic,
		metaStore: metaStore,
		appDB:     appDB,
		cfg:       cfg,
	}
}

func (f *fixture) track(t *testing.T, table, recordID, op string, payload map[string]any) {
	t.Helper()

	if err := f.metaStore.Track(context.Background(), table, recordID, op, payload); err != nil {
		t.Fatalf("tracking change: %v", err)
	}
}

func (f *fixture) lastSession(t *testing.T) *meta.Session {
	t.Helper()

	sess, err := f.metaStore.LastSession(context.Background())
	if err != nil {
		t.Fatalf("reading last session: %v", err)
	}

	return sess
}

func (f *fixture) pendingCount(t *testing.T) int {
	t.Helper()

	n, err := f.metaStore.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("counting pending changes: %v", err)
	}

	return n
}

func (f *fixture) seedContact(t *testing.T, id, name string) {
	t.Helper()

	if _, err := f.appDB.Exec(`INSERT INTO contacts (id, name) VALUES (?, ?)`, id, name); err != nil {
		t.Fatalf("seeding contact: %v", err)
	}
}

func (f *fixture) contactName(t *testing.T, id string) (string, bool) {
	t.Helper()

	var name sql.NullString

	err := f.appDB.QueryRow(`SELECT name FROM contacts WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		t.Fatalf("reading contact: %v", err)
	}

	return name.String, true
}

func TestSync_RefusesInvalidLicense(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.lic.valid = false

	_, err := fix.engine.Sync(context.Background(), ModeBidirectional)
	if !errors.Is(err, ErrLicenseInvalid) {
		t.Fatalf("err = %v, want ErrLicenseInvalid", err)
	}

	if sess := fix.lastSession(t); sess != nil {
		t.Errorf("refused cycle opened a session: %+v", sess)
	}
}

func TestSync_RefusesUnlicensedSync(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.lic.enabled = false

	_, err := fix.engine.Sync(context.Background(), ModePush)
	if !errors.Is(err, ErrSyncDisabled) {
		t.Fatalf("err = %v, want ErrSyncDisabled", err)
	}

	if sess := fix.lastSession(t); sess != nil {
		t.Errorf("refused cycle opened a session: %+v", sess)
	}
}

func TestSync_EmptyCycleCompletes(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	report, err := fix.engine.Sync(context.Background(), ModeBidirectional)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if report.SyncID != testSyncID {
		t.Errorf("sync id = %q, want %q", report.SyncID, testSyncID)
	}
	if report.Status != meta.StatusCompleted {
		t.Errorf("status = %q, want completed", report.Status)
	}
	if report.RecordsSent != 0 || report.RecordsReceived != 0 || report.Conflicts != 0 {
		t.Errorf("counters = %d/%d/%d, want all zero",
			report.RecordsSent, report.RecordsReceived, report.Conflicts)
	}

	// Empty queue means the push endpoint is never hit.
	if fix.transport.pushReq != nil {
		t.Error("push request sent despite empty queue")
	}

	if fix.transport.pullSyncID != testSyncID {
		t.Errorf("pull sync id = %q, want %q", fix.transport.pullSyncID, testSyncID)
	}
	if fix.transport.pullSince != "" {
		t.Errorf("since = %q, want empty on first cycle", fix.transport.pullSince)
	}
	if fix.transport.pullLimit != fix.cfg.BatchSize {
		t.Errorf("pull limit = %d, want %d", fix.transport.pullLimit, fix.cfg.BatchSize)
	}

	sess := fix.lastSession(t)
	if sess == nil {
		t.Fatal("no session recorded")
	}
	if sess.Status != meta.StatusCompleted {
		t.Errorf("session status = %q, want completed", sess.Status)
	}
	if sess.Direction != string(ModeBidirectional) {
		t.Errorf("session direction = %q, want bidirectional", sess.Direction)
	}
	if sess.CompletedAt == "" {
		t.Error("session has no completed_at")
	}
}

func TestSync_PanicClosesSessionAsError(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.track(t, "contacts", "c-1", meta.OpInsert, map[string]any{"id": "c-1", "name": "Lagezentrum"})
	fix.transport.pushFunc = func(context.Context, central.PushRequest) error {
		panic("kaputt")
	}

	report, err := fix.engine.Sync(context.Background(), ModePush)
	if err == nil {
		t.Fatal("Sync returned nil error after panic")
	}
	if !strings.Contains(err.Error(), "kaputt") {
		t.Errorf("err = %v, want panic value included", err)
	}
	if report == nil || report.Status != meta.StatusError {
		t.Fatalf("report = %+v, want status error", report)
	}

	sess := fix.lastSession(t)
	if sess == nil {
		t.Fatal("no session recorded")
	}
	if sess.Status != meta.StatusError {
		t.Errorf("session status = %q, want error", sess.Status)
	}
	if sess.Error != "kaputt" {
		t.Errorf("session error = %q, want %q", sess.Error, "kaputt")
	}
}

func TestSync_CancellationMarksSessionFailed(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.track(t, "contacts", "c-1", meta.OpInsert, map[string]any{"id": "c-1", "name": "Lagezentrum"})

	ctx, cancel := context.WithCancel(context.Background())
	fix.transport.pushFunc = func(ctx context.Context, _ central.PushRequest) error {
		cancel()

		return ctx.Err()
	}

	report, err := fix.engine.Sync(ctx, ModePush)
	if err == nil {
		t.Fatal("Sync returned nil error after cancellation")
	}
	if report.Status != meta.StatusFailed {
		t.Errorf("report status = %q, want failed", report.Status)
	}

	sess := fix.lastSession(t)
	if sess == nil {
		t.Fatal("cancelled cycle left no session row")
	}
	if sess.Status != meta.StatusFailed {
		t.Errorf("session status = %q, want failed", sess.Status)
	}
	if sess.Error != "cancelled" {
		t.Errorf("session error = %q, want %q", sess.Error, "cancelled")
	}
}

func TestSync_PushErrorDoesNotSkipPull(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.track(t, "contacts", "c-1", meta.OpInsert, map[string]any{"id": "c-1", "name": "Lagezentrum"})
	fix.transport.pushErr = fmt.Errorf("%w: POST /api/pi/sync/push: connection refused", central.ErrUnreachable)
	fix.transport.pullResp = &central.PullResponse{Changes: []central.Change{
		{TableName: "users", RecordID: "u-1", Operation: meta.OpInsert, Data: map[string]any{"id": "u-1", "username": "einsatzleiter"}},
	}}

	report, err := fix.engine.Sync(context.Background(), ModeBidirectional)
	if err == nil {
		t.Fatal("Sync returned nil error despite failed push leg")
	}

	// The pull leg still ran and applied its batch.
	if report.RecordsReceived != 1 {
		t.Errorf("records received = %d, want 1", report.RecordsReceived)
	}

	sess := fix.lastSession(t)
	if sess.Status != meta.StatusFailed {
		t.Errorf("session status = %q, want failed", sess.Status)
	}
	if sess.RecordsReceived != 1 {
		t.Errorf("session records_received = %d, want 1", sess.RecordsReceived)
	}
}

func TestSync_UnknownModeLegsDoNothing(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	report, err := fix.engine.Sync(context.Background(), ModePush)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Status != meta.StatusCompleted {
		t.Errorf("status = %q, want completed", report.Status)
	}

	// Push-only mode never touches the pull endpoint.
	if fix.transport.pullSyncID != "" {
		t.Error("push mode issued a pull request")
	}
}
