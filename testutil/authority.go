// Package testutil provides shared helpers for end-to-end tests and the
// central-dev fixture server: an in-memory central authority speaking the
// agent's wire protocol, and builders for the application database the
// web application normally owns. It stays off internal/ packages so both
// test code and cmd/ binaries can use it.
package testutil

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// LicenseGrant is the license the authority issues on validation.
type LicenseGrant struct {
	ValidUntil   string
	Tier         string
	Organization string
	MaxDevices   int
	SyncInterval int
	Features     map[string]bool
}

// DefaultGrant returns a professional license with sync enabled, valid
// far in the future.
func DefaultGrant() LicenseGrant {
	return LicenseGrant{
		ValidUntil:   "2099-12-31",
		Tier:         "professional",
		Organization: "Teststab",
		MaxDevices:   3,
		SyncInterval: 300,
		Features: map[string]bool{
			"core":      true,
			"offline":   true,
			"sync":      true,
			"maps":      true,
			"wiki":      true,
			"resources": true,
		},
	}
}

// PushPayload is one recorded push request body.
type PushPayload struct {
	DeviceID  string           `json:"device_id"`
	SyncID    string           `json:"sync_id"`
	Changes   []map[string]any `json:"changes"`
	Timestamp string           `json:"timestamp"`

	// Compressed records whether the request arrived gzipped.
	Compressed bool `json:"-"`
}

// PullQuery is one recorded pull request.
type PullQuery struct {
	DeviceID string
	SyncID   string
	Since    string
	Limit    int
}

// Authority is an in-memory stand-in for the central server. All state
// sits behind one mutex; the handlers are safe for concurrent use, so a
// single instance can back a daemon plus assertions from the test
// goroutine.
type Authority struct {
	mu sync.Mutex

	grant      LicenseGrant
	apiKey     string
	validKeys  map[string]bool
	pushStatus int

	validations []string
	registered  map[string]string
	pushes      []PushPayload
	pulls       []PullQuery
	pullQueue   []map[string]any
	snapshot    map[string][]map[string]any
	heartbeats  int
}

// NewAuthority returns an authority that accepts every license key and
// grants DefaultGrant.
func NewAuthority() *Authority {
	return &Authority{
		grant:      DefaultGrant(),
		apiKey:     "dev-api-key",
		validKeys:  map[string]bool{},
		registered: map[string]string{},
		snapshot:   map[string][]map[string]any{},
	}
}

// SetGrant replaces the license issued on validation.
func (a *Authority) SetGrant(g LicenseGrant) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grant = g
}

// SetValidKeys restricts validation to the given keys. With no keys every
// key is accepted again.
func (a *Authority) SetValidKeys(keys ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.validKeys = map[string]bool{}
	for _, k := range keys {
		a.validKeys[k] = true
	}
}

// SetAPIKey sets the api_key issued by legacy registration.
func (a *Authority) SetAPIKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apiKey = key
}

// SetPushStatus makes the push endpoint answer with the given HTTP status
// instead of accepting. Zero restores acceptance.
func (a *Authority) SetPushStatus(code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushStatus = code
}

// QueuePull appends a change the next pull delivers. Changes drain in
// FIFO order, each delivered exactly once.
func (a *Authority) QueuePull(change map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pullQueue = append(a.pullQueue, change)
}

// SetSnapshotTable sets the rows the initial endpoint serves for a table.
func (a *Authority) SetSnapshotTable(table string, rows []map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot[table] = rows
}

// Pushes returns all recorded push payloads.
func (a *Authority) Pushes() []PushPayload {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PushPayload, len(a.pushes))
	copy(out, a.pushes)

	return out
}

// Pulls returns all recorded pull queries.
func (a *Authority) Pulls() []PullQuery {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PullQuery, len(a.pulls))
	copy(out, a.pulls)

	return out
}

// HeartbeatCount returns the number of heartbeats received.
func (a *Authority) HeartbeatCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.heartbeats
}

// Validations returns the license keys seen by the validate endpoint.
func (a *Authority) Validations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.validations))
	copy(out, a.validations)

	return out
}

// RegisteredDevices returns device IDs seen by the legacy register
// endpoint with the license key each sent.
func (a *Authority) RegisteredDevices() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]string, len(a.registered))
	for k, v := range a.registered {
		out[k] = v
	}

	return out
}

// Handler returns the HTTP surface of the authority.
func (a *Authority) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/pi/licenses/validate", a.handleValidate)
	mux.HandleFunc("POST /api/pi/devices/register", a.handleRegister)
	mux.HandleFunc("POST /api/pi/register", a.handleLegacyRegister)
	mux.HandleFunc("POST /api/pi/sync/push", a.handlePush)
	mux.HandleFunc("GET /api/pi/sync/pull", a.handlePull)
	mux.HandleFunc("GET /api/pi/sync/initial", a.handleInitial)
	mux.HandleFunc("POST /api/pi/heartbeat", a.handleHeartbeat)

	return mux
}

func (a *Authority) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LicenseKey string `json:"license_key"`
		DeviceID   string `json:"device_id"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "ungültiger Request-Body")

		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.validations = append(a.validations, req.LicenseKey)

	if len(a.validKeys) > 0 && !a.validKeys[req.LicenseKey] {
		writeError(w, http.StatusForbidden, "Lizenz ungültig oder abgelaufen")

		return
	}

	writeJSON(w, map[string]any{
		"valid_until":   a.grant.ValidUntil,
		"tier":          a.grant.Tier,
		"organization":  a.grant.Organization,
		"max_devices":   a.grant.MaxDevices,
		"sync_interval": a.grant.SyncInterval,
		"features":      a.grant.Features,
	})
}

func (a *Authority) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LicenseKey string `json:"license_key"`
		DeviceID   string `json:"device_id"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "ungültiger Request-Body")

		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.validKeys) > 0 && !a.validKeys[req.LicenseKey] {
		writeError(w, http.StatusForbidden, "Lizenz ungültig oder abgelaufen")

		return
	}

	writeJSON(w, map[string]any{
		"token":         "tok-" + req.DeviceID,
		"sync_endpoint": "/api/pi/sync",
		"features":      a.grant.Features,
	})
}

func (a *Authority) handleLegacyRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"device_id"`
		LicenseKey string `json:"license_key"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "ungültiger Request-Body")

		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.registered[req.DeviceID] = req.LicenseKey

	writeJSON(w, map[string]any{"api_key": a.apiKey})
}

func (a *Authority) handlePush(w http.ResponseWriter, r *http.Request) {
	compressed := r.Header.Get("Content-Encoding") == "gzip"

	var payload PushPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "ungültiger Request-Body")

		return
	}

	payload.Compressed = compressed

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pushStatus != 0 {
		writeError(w, a.pushStatus, "Push abgelehnt")

		return
	}

	a.pushes = append(a.pushes, payload)

	writeJSON(w, map[string]any{})
}

func (a *Authority) handlePull(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.pulls = append(a.pulls, PullQuery{
		DeviceID: q.Get("device_id"),
		SyncID:   r.Header.Get("X-Sync-ID"),
		Since:    q.Get("since"),
		Limit:    limit,
	})

	n := min(limit, len(a.pullQueue))
	changes := a.pullQueue[:n]
	a.pullQueue = a.pullQueue[n:]

	if changes == nil {
		changes = []map[string]any{}
	}

	writeJSON(w, map[string]any{"changes": changes})
}

func (a *Authority) handleInitial(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	writeJSON(w, a.snapshot)
}

func (a *Authority) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		APIKey   string `json:"api_key"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "ungültiger Request-Body")

		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.heartbeats++

	writeJSON(w, map[string]any{"status": "ok"})
}

// decodeBody decodes a JSON request body, transparently gunzipping when
// Content-Encoding says so.
func decodeBody(r *http.Request, v any) error {
	var reader io.Reader = r.Body

	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return fmt.Errorf("opening gzip reader: %w", err)
		}
		defer zr.Close()

		reader = zr
	}

	return json.NewDecoder(reader).Decode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
