//go:build e2e

package e2e

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MLeprich/stabsstelle-pi-deploy/testutil"
)

// agentEnv is one isolated appliance: its own config directory, database
// pair, and central authority. The constructor licenses the appliance and
// runs the bootstrap import so the metadata schema exists before tests
// write change log rows.
type agentEnv struct {
	t          *testing.T
	authority  *testutil.Authority
	server     *httptest.Server
	configDir  string
	configPath string
	appDBPath  string
	metaDBPath string
	deviceID   string
}

func newAgentEnv(t *testing.T) *agentEnv {
	t.Helper()

	root := t.TempDir()
	configDir := filepath.Join(root, "etc")
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(configDir, 0o700))
	require.NoError(t, os.MkdirAll(dataDir, 0o700))

	authority := testutil.NewAuthority()
	server := httptest.NewServer(authority.Handler())
	t.Cleanup(server.Close)

	env := &agentEnv{
		t:          t,
		authority:  authority,
		server:     server,
		configDir:  configDir,
		configPath: filepath.Join(configDir, "sync.json"),
		appDBPath:  filepath.Join(dataDir, "stabsstelle.db"),
		metaDBPath: filepath.Join(dataDir, "sync_meta.db"),
	}

	env.writeConfig(100, true, "remote_wins")

	require.NoError(t, testutil.CreateAppSchema(env.appDBPath))

	stdout, _ := env.run("validate", "--license-key", testLicenseKey)
	require.Contains(t, stdout, "SUCCESS: Lizenz validiert")

	env.run("initial")

	env.deviceID = env.lookupDeviceID()

	return env
}

// writeConfig rewrites the agent's config file. A fresh process run picks
// it up; the daemon picks it up through the watcher.
func (e *agentEnv) writeConfig(batchSize int, compression bool, policy string) {
	e.t.Helper()

	cfg := map[string]any{
		"database_path":       e.appDBPath,
		"sync_db_path":        e.metaDBPath,
		"server_url":          e.server.URL,
		"sync_interval":       300,
		"batch_size":          batchSize,
		"compression":         compression,
		"conflict_resolution": policy,
		"log_file":            "",
		"log_level":           "debug",
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(e.t, err)
	require.NoError(e.t, os.WriteFile(e.configPath, data, 0o600))
}

// run executes the binary against this environment and fails the test on
// a non-zero exit.
func (e *agentEnv) run(args ...string) (string, string) {
	e.t.Helper()

	stdout, stderr, err := execCLI(e.cliArgs(args...)...)
	if err != nil {
		e.t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

// runExpectError executes the binary and requires a non-zero exit.
func (e *agentEnv) runExpectError(args ...string) (string, string) {
	e.t.Helper()

	stdout, stderr, err := execCLI(e.cliArgs(args...)...)
	if err == nil {
		e.t.Fatalf("CLI command %v unexpectedly succeeded\nstdout: %s\nstderr: %s", args, stdout, stderr)
	}

	return stdout, stderr
}

func (e *agentEnv) cliArgs(args ...string) []string {
	return append([]string{"--config", e.configPath, "--config-dir", e.configDir}, args...)
}

// pause waits long enough for the next sync cycle to get a distinct
// sync ID. IDs carry unix-second timestamps, so two cycles inside the
// same second would collide on the session history.
func (e *agentEnv) pause() {
	time.Sleep(1100 * time.Millisecond)
}

// lookupDeviceID reads the device ID the binary derives for this machine.
func (e *agentEnv) lookupDeviceID() string {
	e.t.Helper()

	stdout, _ := e.run("info")
	for _, line := range strings.Split(stdout, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "device_id: "); ok {
			return rest
		}
	}

	e.t.Fatalf("device_id not found in info output:\n%s", stdout)

	return ""
}

// trackChange plays the web application writing the change log.
func (e *agentEnv) trackChange(table, recordID, op string, payload map[string]any) {
	e.t.Helper()

	require.NoError(e.t, testutil.TrackChange(e.metaDBPath, table, recordID, op, payload))
}

// appDB opens the application database for seeding and assertions.
func (e *agentEnv) appDB() *sql.DB {
	e.t.Helper()

	db, err := testutil.OpenDB(e.appDBPath)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { db.Close() })

	return db
}

// metaDB opens the metadata database for assertions.
func (e *agentEnv) metaDB() *sql.DB {
	e.t.Helper()

	db, err := testutil.OpenDB(e.metaDBPath)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { db.Close() })

	return db
}

// pendingChanges counts unsynced change log entries.
func (e *agentEnv) pendingChanges() int {
	e.t.Helper()

	var n int
	err := e.metaDB().QueryRow(`SELECT COUNT(*) FROM change_tracking WHERE synced = 0`).Scan(&n)
	require.NoError(e.t, err)

	return n
}

// lastSession returns status and direction of the most recent sync
// session.
func (e *agentEnv) lastSession() (status, direction string) {
	e.t.Helper()

	err := e.metaDB().QueryRow(
		`SELECT status, direction FROM sync_history ORDER BY id DESC LIMIT 1`,
	).Scan(&status, &direction)
	require.NoError(e.t, err)

	return status, direction
}

// appCell reads one column of one row from the application database.
// ok is false when the row does not exist.
func (e *agentEnv) appCell(table, id, column string) (value string, ok bool) {
	e.t.Helper()

	err := e.appDB().QueryRow(
		`SELECT `+column+` FROM `+table+` WHERE id = ?`, id,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}

	require.NoError(e.t, err)

	return value, true
}
