// Package client talks to the attestbroker HTTP bridge.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aspect-build/attestbroker/internal/broker"
	"github.com/aspect-build/attestbroker/internal/logx"
	"github.com/aspect-build/attestbroker/internal/version"
)

var log = logx.For("client")

// APIError is a non-2xx answer from the bridge.
type APIError struct {
	Status        int
	Code          string
	Message       string
	IntegrityCode *int
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.Status)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.IntegrityCode != nil {
		msg += fmt.Sprintf(" (integrity code %d)", *e.IntegrityCode)
	}
	return msg
}

// Support is the answer of GET /v1/supported.
type Support struct {
	IsSupported bool   `json:"isSupported"`
	Platform    string `json:"platform"`
	Format      string `json:"format"`
}

// Prepared is the answer of POST /v1/prepare.
type Prepared struct {
	KeyID    string `json:"keyId"`
	Platform string `json:"platform"`
	Format   string `json:"format"`
}

// Token is an issued attestation or assertion. Challenge is set for
// attestations, Payload for assertions.
type Token struct {
	Token     string `json:"token"`
	KeyID     string `json:"keyId"`
	Challenge string `json:"challenge,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Platform  string `json:"platform"`
	Format    string `json:"format"`
}

// StoredKey is the answer of GET /v1/keys/stored.
type StoredKey struct {
	KeyID        *string `json:"keyId"`
	HasStoredKey bool    `json:"hasStoredKey"`
}

// Status is the answer of GET /v1/admin/status.
type Status struct {
	Keys        []string `json:"keys"`
	Count       int      `json:"count"`
	IsSupported bool     `json:"isSupported"`
	Platform    string   `json:"platform"`
	Format      string   `json:"format"`
}

// LedgerEntry is one row of GET /v1/admin/requests.
type LedgerEntry struct {
	ID            string    `json:"id"`
	Operation     string    `json:"operation"`
	KeyID         string    `json:"key_id"`
	RequestHash   string    `json:"request_hash,omitempty"`
	ProjectNumber *int64    `json:"project_number,omitempty"`
	Outcome       string    `json:"outcome"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorCode     *int      `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	HasToken      bool      `json:"has_token"`
	CreatedAt     time.Time `json:"created_at"`
}

// Client calls the bridge at a fixed base URL.
type Client struct {
	serverURL  string
	adminToken string
	http       *http.Client
}

func normalizeServerURL(serverURL string) string {
	return strings.TrimRight(serverURL, "/")
}

// New returns a client for serverURL. Plain HTTP is refused unless
// allowInsecure is set.
func New(serverURL string, allowInsecure bool) (*Client, error) {
	serverURL = normalizeServerURL(serverURL)
	if serverURL == "" {
		return nil, fmt.Errorf("server URL is empty")
	}
	if !strings.HasPrefix(serverURL, "https://") {
		if !allowInsecure {
			return nil, fmt.Errorf("server URL %q is not HTTPS; use --insecure to allow plaintext HTTP", serverURL)
		}
		log.Warnf("communicating over plaintext HTTP (%s)", serverURL)
	}
	return &Client{serverURL: serverURL, http: &http.Client{Timeout: 60 * time.Second}}, nil
}

// SetAdminToken sets the bearer token sent to admin routes.
func (c *Client) SetAdminToken(token string) { c.adminToken = token }

func projectNumber(v string) broker.ProjectNumberArg {
	if v == "" {
		return broker.ProjectNumberArg{}
	}
	return broker.ProjectNumberText(v)
}

type projectBody struct {
	CloudProjectNumber broker.ProjectNumberArg `json:"cloudProjectNumber"`
}

type tokenBody struct {
	KeyID              string                  `json:"keyId"`
	Challenge          string                  `json:"challenge,omitempty"`
	Payload            string                  `json:"payload,omitempty"`
	CloudProjectNumber broker.ProjectNumberArg `json:"cloudProjectNumber"`
}

// IsSupported reports whether the server's integrity backend is usable.
func (c *Client) IsSupported(ctx context.Context) (*Support, error) {
	var out Support
	if err := c.do(ctx, http.MethodGet, "/v1/supported", false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Prepare prepares the default key. An empty project number defers to the
// server's configured one.
func (c *Client) Prepare(ctx context.Context, pn string) (*Prepared, error) {
	var out Prepared
	if err := c.do(ctx, http.MethodPost, "/v1/prepare", false, projectBody{projectNumber(pn)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAttestation requests an attestation token bound to challenge.
func (c *Client) CreateAttestation(ctx context.Context, keyID, challenge, pn string) (*Token, error) {
	var out Token
	body := tokenBody{KeyID: keyID, Challenge: challenge, CloudProjectNumber: projectNumber(pn)}
	if err := c.do(ctx, http.MethodPost, "/v1/attestations", false, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAssertion requests an assertion token bound to payload.
func (c *Client) CreateAssertion(ctx context.Context, keyID, payload, pn string) (*Token, error) {
	var out Token
	body := tokenBody{KeyID: keyID, Payload: payload, CloudProjectNumber: projectNumber(pn)}
	if err := c.do(ctx, http.MethodPost, "/v1/assertions", false, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StoreKeyID prepares a session under a caller-chosen key handle.
func (c *Client) StoreKeyID(ctx context.Context, keyID, pn string) error {
	body := tokenBody{KeyID: keyID, CloudProjectNumber: projectNumber(pn)}
	return c.do(ctx, http.MethodPut, "/v1/keys/stored", false, body, nil)
}

// StoredKeyID returns the key the server would report as stored.
func (c *Client) StoredKeyID(ctx context.Context) (*StoredKey, error) {
	var out StoredKey
	if err := c.do(ctx, http.MethodGet, "/v1/keys/stored", false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearStoredKeyID drops every prepared session on the server.
func (c *Client) ClearStoredKeyID(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/keys/stored", false, nil, nil)
}

// Status returns the server's cache status. Requires the admin token.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/v1/admin/status", true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Requests lists ledger entries, newest first. Requires the admin token.
func (c *Client) Requests(ctx context.Context, keyID string, limit int) ([]LedgerEntry, error) {
	q := url.Values{}
	if keyID != "" {
		q.Set("key_id", keyID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/admin/requests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []LedgerEntry
	if err := c.do(ctx, http.MethodGet, path, true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, admin bool, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent("attestbroker"))
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		if c.adminToken == "" {
			return fmt.Errorf("admin token required: set ATTESTBROKER_ADMIN_TOKEN")
		}
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	log.Debugf("%s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error         string `json:"error"`
			Code          string `json:"code"`
			IntegrityCode *int   `json:"integrityCode"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != "" {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Error
			apiErr.IntegrityCode = envelope.IntegrityCode
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
