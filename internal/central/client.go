package central

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Per-endpoint timeouts. Validation and registration are interactive,
// push and pull move bounded batches, the initial snapshot can be large,
// and the heartbeat must never hold up a cycle.
const (
	validateTimeout  = 10 * time.Second
	registerTimeout  = 10 * time.Second
	pushTimeout      = 30 * time.Second
	pullTimeout      = 30 * time.Second
	initialTimeout   = 60 * time.Second
	heartbeatTimeout = 5 * time.Second
)

// TokenSource provides the derived bearer token for authenticated
// endpoints. Defined at the consumer per Go convention "accept
// interfaces, return structs"; the license store provides the real
// implementation.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a plain function to the TokenSource interface.
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string { return f() }

// Client is the HTTP client for the authority's appliance API.
type Client struct {
	baseURL    string
	deviceID   string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates an authority client. baseURL is the server root,
// typically "https://stab.digitmi.de". The http.Client carries no global
// timeout; per-endpoint deadlines come from request contexts, so one
// client and its connection pool are shared across all sync cycles.
func NewClient(baseURL, deviceID string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		deviceID:   deviceID,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// ValidateLicense activates or refreshes a license. Sent without auth
// headers; the license key in the body is the credential.
func (c *Client) ValidateLicense(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	var resp ValidateResponse
	if err := c.postJSON(ctx, "/api/pi/licenses/validate", validateTimeout, req, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// RegisterDevice performs first-time device registration.
func (c *Client) RegisterDevice(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.postJSON(ctx, "/api/pi/devices/register", registerTimeout, req, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// RegisterLegacy registers against the older endpoint that issues the
// api_key consumed by the heartbeat.
func (c *Client) RegisterLegacy(ctx context.Context, req LegacyRegisterRequest) (*LegacyRegisterResponse, error) {
	var resp LegacyRegisterResponse
	if err := c.postJSON(ctx, "/api/pi/register", registerTimeout, req, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Push uploads a batch of local changes. When compress is true the body
// is gzipped and Content-Encoding set accordingly.
func (c *Client) Push(ctx context.Context, req PushRequest, compress bool) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("central: encoding push payload: %w", err)
	}

	header := http.Header{}
	header.Set("X-Device-ID", req.DeviceID)
	header.Set("X-Sync-ID", req.SyncID)
	header.Set("Authorization", "Bearer "+c.token.Token())

	_, err = c.do(ctx, http.MethodPost, "/api/pi/sync/push", pushTimeout, body, compress, header)

	return err
}

// Pull downloads remote changes recorded since the given timestamp.
// An empty since requests the full since-forever window.
func (c *Client) Pull(ctx context.Context, syncID, since string, limit int) (*PullResponse, error) {
	q := url.Values{}
	q.Set("device_id", c.deviceID)

	if since != "" {
		q.Set("since", since)
	}

	q.Set("limit", strconv.Itoa(limit))

	header := http.Header{}
	header.Set("X-Device-ID", c.deviceID)
	header.Set("X-Sync-ID", syncID)
	header.Set("Authorization", "Bearer "+c.token.Token())

	body, err := c.do(ctx, http.MethodGet, "/api/pi/sync/pull?"+q.Encode(), pullTimeout, nil, false, header)
	if err != nil {
		return nil, err
	}

	var resp PullResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("central: decoding pull response: %w", err)
	}

	return &resp, nil
}

// Initial fetches the complete bootstrap snapshot.
func (c *Client) Initial(ctx context.Context) (InitialSnapshot, error) {
	q := url.Values{}
	q.Set("device_id", c.deviceID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token.Token())

	body, err := c.do(ctx, http.MethodGet, "/api/pi/sync/initial?"+q.Encode(), initialTimeout, nil, false, header)
	if err != nil {
		return nil, err
	}

	var snapshot InitialSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("central: decoding initial snapshot: %w", err)
	}

	return snapshot, nil
}

// Heartbeat reports liveness. The api_key header is only sent when a key
// has been issued.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	var header http.Header
	if req.APIKey != "" {
		header = http.Header{}
		header.Set("X-API-Key", req.APIKey)
	}

	return c.postJSON(ctx, "/api/pi/heartbeat", heartbeatTimeout, req, header, nil)
}

// postJSON marshals payload, POSTs it uncompressed, and decodes the
// response into out when out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, payload any, header http.Header, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("central: encoding payload for %s: %w", path, err)
	}

	data, err := c.do(ctx, http.MethodPost, path, timeout, body, false, header)
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("central: decoding response from %s: %w", path, err)
	}

	return nil
}

// do executes a single request with a per-call deadline. Non-2xx responses
// become *APIError; transport failures wrap ErrUnreachable.
func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body []byte, compress bool, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader

	if body != nil {
		if compress {
			var buf bytes.Buffer

			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(body); err != nil {
				return nil, fmt.Errorf("central: compressing payload: %w", err)
			}

			if err := zw.Close(); err != nil {
				return nil, fmt.Errorf("central: compressing payload: %w", err)
			}

			reader = &buf
		} else {
			reader = bytes.NewReader(body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("central: creating request: %w", err)
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")

		if compress {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("central: reading response from %s: %w", path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, newAPIError(resp.StatusCode, data)
	}

	c.logger.Debug("Anfrage erfolgreich",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	return data, nil
}

// readBody returns the response body, transparently decompressing when
// the authority sets Content-Encoding: gzip.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body

	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip reader: %w", err)
		}
		defer zr.Close()

		r = zr
	}

	return io.ReadAll(r)
}
