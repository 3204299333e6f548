package integrity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aspect-build/attestbroker/internal/logx"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
)

// FormatRemoteToken is the token format of the remote backend.
const FormatRemoteToken = "remote-integrity-token"

// DefaultRemoteScope is requested when OAuth2 credentials are configured
// without explicit scopes.
const DefaultRemoteScope = "https://www.googleapis.com/auth/playintegrity"

// RemoteConfig configures the HTTP integrity backend. At most one
// credential source is used, checked in this order: client credentials,
// Google application default credentials, static bearer token.
type RemoteConfig struct {
	BaseURL string

	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	GoogleADC bool

	BearerToken string

	// Timeout bounds each HTTP exchange. Zero means 20s.
	Timeout time.Duration
}

// RemoteManager talks to an integrity service over HTTP:
//
//	POST {base}/v1/projects/{n}/sessions           -> {"session": id}
//	POST {base}/v1/sessions/{id}:requestToken       {"requestHash": h} -> {"token": t}
//
// Failures use the Google API error envelope; its code is surfaced as
// Error.Code.
type RemoteManager struct {
	baseURL string
	client  *http.Client
	log     *logx.Logger
}

// NewRemoteManager builds the authenticated HTTP client for cfg.
func NewRemoteManager(ctx context.Context, cfg RemoteConfig) (*RemoteManager, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("remote integrity backend requires a base URL")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse remote base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	plain := &http.Client{Timeout: timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, plain)

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultRemoteScope}
	}

	var client *http.Client
	switch {
	case cfg.ClientID != "":
		if cfg.TokenURL == "" {
			return nil, errors.New("remote client credentials require a token URL")
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       scopes,
		}
		client = cc.Client(ctx)
	case cfg.GoogleADC:
		c, err := google.DefaultClient(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("google application default credentials: %w", err)
		}
		client = c
	case cfg.BearerToken != "":
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken}))
	default:
		client = plain
	}
	client.Timeout = timeout

	return &RemoteManager{baseURL: base, client: client, log: logx.For("integrity.remote")}, nil
}

func (m *RemoteManager) Format() string { return FormatRemoteToken }

// IsSupported is always true for a constructed manager since
// NewRemoteManager requires a base URL. An unreachable service surfaces as
// an integrity service error from PrepareSession, never as unsupported.
func (m *RemoteManager) IsSupported() bool { return true }

type prepareSessionResponse struct {
	Session string `json:"session"`
}

type requestTokenRequest struct {
	RequestHash string `json:"requestHash"`
}

type requestTokenResponse struct {
	Token string `json:"token"`
}

func (m *RemoteManager) PrepareSession(ctx context.Context, projectNumber int64) (Session, error) {
	endpoint := m.baseURL + "/v1/projects/" + strconv.FormatInt(projectNumber, 10) + "/sessions"
	var resp prepareSessionResponse
	if err := m.post(ctx, endpoint, struct{}{}, &resp); err != nil {
		return nil, err
	}
	if resp.Session == "" {
		return nil, errors.New("prepare session: response missing session")
	}
	m.log.Debugf("session prepared project=%d session=%s", projectNumber, resp.Session)
	return &remoteSession{m: m, id: resp.Session}, nil
}

type remoteSession struct {
	m  *RemoteManager
	id string
}

func (s *remoteSession) RequestToken(ctx context.Context, requestHash string) (string, error) {
	endpoint := s.m.baseURL + "/v1/sessions/" + url.PathEscape(s.id) + ":requestToken"
	var resp requestTokenResponse
	if err := s.m.post(ctx, endpoint, requestTokenRequest{RequestHash: requestHash}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("request token: response missing token")
	}
	return resp.Token, nil
}

func (m *RemoteManager) post(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("integrity service: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return vendorError(err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// vendorError converts a Google API error envelope into an *Error.
func vendorError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	msg := gerr.Message
	if msg == "" {
		msg = strings.TrimSpace(gerr.Body)
	}
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &Error{Code: gerr.Code, Message: msg}
}
