package integrity

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	dstacksdk "github.com/Dstack-TEE/dstack/sdk/go/dstack"
	"github.com/aspect-build/attestbroker/internal/logx"
)

// DefaultDstackSocket is where the dstack guest agent listens when no
// endpoint is configured.
const DefaultDstackSocket = "/var/run/dstack.sock"

// FormatDstackQuote is the token format of dstack sessions: a hex TDX quote
// whose report data binds the request hash and project number.
const FormatDstackQuote = "dstack-tdx-quote"

// quoter is the subset of the dstack guest agent used by the backend.
type quoter interface {
	identity(ctx context.Context) (appID, instanceID string, err error)
	quote(ctx context.Context, reportData []byte) ([]byte, error)
}

type sdkQuoter struct {
	client *dstacksdk.DstackClient
}

func (q sdkQuoter) identity(ctx context.Context) (string, string, error) {
	info, err := q.client.Info(ctx)
	if err != nil {
		return "", "", err
	}
	return info.AppID, info.InstanceID, nil
}

func (q sdkQuoter) quote(ctx context.Context, reportData []byte) ([]byte, error) {
	resp, err := q.client.GetQuote(ctx, reportData)
	if err != nil {
		return nil, err
	}
	// The agent returns the quote hex encoded.
	return resp.DecodeQuote()
}

// DstackManager issues tokens as TDX quotes from the local dstack guest
// agent.
type DstackManager struct {
	endpoint string
	q        quoter
	log      *logx.Logger
}

// NewDstackManager returns a manager talking to the guest agent at
// endpoint, or at the SDK default when endpoint is empty.
func NewDstackManager(endpoint string) *DstackManager {
	opts := []dstacksdk.DstackClientOption{}
	if endpoint != "" {
		opts = append(opts, dstacksdk.WithEndpoint(endpoint))
	}
	return &DstackManager{
		endpoint: endpoint,
		q:        sdkQuoter{client: dstacksdk.NewDstackClient(opts...)},
		log:      logx.For("integrity.dstack"),
	}
}

func (m *DstackManager) Format() string { return FormatDstackQuote }

// IsSupported reports whether the guest agent endpoint exists. HTTP
// endpoints (simulators) are assumed reachable.
func (m *DstackManager) IsSupported() bool {
	ep := m.endpoint
	if ep == "" {
		ep = DefaultDstackSocket
	}
	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		return true
	}
	return socketPresent(ep)
}

// PrepareSession confirms the guest agent answers and pins the session to
// projectNumber.
func (m *DstackManager) PrepareSession(ctx context.Context, projectNumber int64) (Session, error) {
	appID, instanceID, err := m.q.identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("dstack info: %w", err)
	}
	m.log.Debugf("session prepared project=%d app_id=%q instance_id=%q", projectNumber, appID, instanceID)
	return &dstackSession{q: m.q, projectNumber: projectNumber}, nil
}

type dstackSession struct {
	q             quoter
	projectNumber int64
}

func (s *dstackSession) RequestToken(ctx context.Context, requestHash string) (string, error) {
	digest, err := base64.RawURLEncoding.DecodeString(requestHash)
	if err != nil {
		return "", fmt.Errorf("decode request hash: %w", err)
	}
	quote, err := s.q.quote(ctx, ReportData(digest, s.projectNumber))
	if err != nil {
		return "", fmt.Errorf("dstack quote: %w", err)
	}
	if len(quote) == 0 {
		return "", fmt.Errorf("dstack quote: empty quote")
	}
	return hex.EncodeToString(quote), nil
}

// ReportData lays out quote report data as digest || big-endian project
// number. The result is at most 64 bytes for a SHA-256 digest.
func ReportData(digest []byte, projectNumber int64) []byte {
	out := make([]byte, len(digest)+8)
	copy(out, digest)
	binary.BigEndian.PutUint64(out[len(digest):], uint64(projectNumber))
	return out
}
