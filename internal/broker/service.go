// Package broker prepares and caches integrity sessions per key handle and
// exchanges caller challenges and payloads for integrity tokens.
//
// The package never logs and never retries: every failure is returned to the
// caller wrapped around one of the sentinel errors or as a *ServiceError, and
// Classify maps it back to a stable classification.
package broker

import (
	"context"
	"fmt"
)

// SupportDetector reports whether the integrity service is usable on this
// device. It must not fail.
type SupportDetector interface {
	IsSupported() bool
}

// RequestKind selects the token flavour. Both kinds issue the same request;
// only attestations echo the challenge back.
type RequestKind int

const (
	Attestation RequestKind = iota + 1
	Assertion
)

func (k RequestKind) String() string {
	switch k {
	case Attestation:
		return "attestation"
	case Assertion:
		return "assertion"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

// TokenRequest is the input of Service.RequestToken.
type TokenRequest struct {
	KeyID         string
	Payload       string
	Kind          RequestKind
	ProjectNumber ProjectNumberArg
}

// TokenResult is a successfully issued token. Challenge is set only for
// attestations.
type TokenResult struct {
	Token       string
	KeyID       string
	Challenge   string
	Kind        RequestKind
	RequestHash string
}

// Service validates token requests, resolves sessions through the cache and
// classifies the integrity service's answer.
type Service struct {
	cache               *Cache
	support             SupportDetector
	staticProjectNumber string
	hash                func([]byte) (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithStaticProjectNumber sets the configured project number string used
// when a call supplies none.
func WithStaticProjectNumber(v string) Option {
	return func(s *Service) { s.staticProjectNumber = v }
}

// WithHasher replaces the request hash function.
func WithHasher(fn func([]byte) (string, error)) Option {
	return func(s *Service) { s.hash = fn }
}

// NewService returns a Service backed by cache.
func NewService(cache *Cache, support SupportDetector, opts ...Option) *Service {
	s := &Service{
		cache:   cache,
		support: support,
		hash:    RequestHash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the provider cache the service uses.
func (s *Service) Cache() *Cache { return s.cache }

// Format names the token format of the configured integrity service.
func (s *Service) Format() string { return s.cache.manager.Format() }

// IsSupported reports whether the integrity service is usable.
func (s *Service) IsSupported() bool { return s.support.IsSupported() }

// ResolveProjectNumber resolves arg against the service's static project
// number.
func (s *Service) ResolveProjectNumber(arg ProjectNumberArg) (int64, error) {
	return ResolveProjectNumber(arg, s.staticProjectNumber)
}

// RequestToken issues exactly one token request for req.
func (s *Service) RequestToken(ctx context.Context, req TokenRequest) (TokenResult, error) {
	if req.Kind != Attestation && req.Kind != Assertion {
		return TokenResult{}, fmt.Errorf("%w: unknown request kind %d", ErrInvalidArgument, int(req.Kind))
	}
	if isBlank(req.KeyID) {
		return TokenResult{}, fmt.Errorf("%w: keyId is required", ErrInvalidArgument)
	}
	if isBlank(req.Payload) {
		return TokenResult{}, fmt.Errorf("%w: %s is required", ErrInvalidArgument, payloadField(req.Kind))
	}
	if !s.support.IsSupported() {
		return TokenResult{}, ErrUnsupportedPlatform
	}

	requestHash, err := s.hash([]byte(req.Payload))
	if err != nil {
		return TokenResult{}, err
	}

	projectNumber, err := ResolveProjectNumber(req.ProjectNumber, s.staticProjectNumber)
	if err != nil {
		return TokenResult{}, err
	}

	session, err := s.cache.LookupReadyOrPrepareDefault(ctx, req.KeyID, projectNumber)
	if err != nil {
		return TokenResult{}, err
	}

	token, err := session.RequestToken(ctx, requestHash)
	if err != nil {
		return TokenResult{}, classifyServiceError("integrity token request failed", err)
	}

	result := TokenResult{
		Token:       token,
		KeyID:       req.KeyID,
		Kind:        req.Kind,
		RequestHash: requestHash,
	}
	if req.Kind == Attestation {
		result.Challenge = req.Payload
	}
	return result, nil
}

func payloadField(k RequestKind) string {
	if k == Attestation {
		return "challenge"
	}
	return "payload"
}

// GenerateKey prepares the default key and returns its handle.
func (s *Service) GenerateKey(ctx context.Context, pn ProjectNumberArg) (string, error) {
	if !s.support.IsSupported() {
		return "", ErrUnsupportedPlatform
	}
	projectNumber, err := ResolveProjectNumber(pn, s.staticProjectNumber)
	if err != nil {
		return "", err
	}
	if _, err := s.cache.EnsureReady(ctx, DefaultKeyID, projectNumber); err != nil {
		return "", err
	}
	return DefaultKeyID, nil
}

// AttestKey issues an attestation token bound to challenge.
func (s *Service) AttestKey(ctx context.Context, keyID, challenge string, pn ProjectNumberArg) (TokenResult, error) {
	return s.RequestToken(ctx, TokenRequest{KeyID: keyID, Payload: challenge, Kind: Attestation, ProjectNumber: pn})
}

// GenerateAssertion issues an assertion token bound to payload.
func (s *Service) GenerateAssertion(ctx context.Context, keyID, payload string, pn ProjectNumberArg) (TokenResult, error) {
	return s.RequestToken(ctx, TokenRequest{KeyID: keyID, Payload: payload, Kind: Assertion, ProjectNumber: pn})
}

// StoreKeyID prepares a session for a caller-chosen key handle.
func (s *Service) StoreKeyID(ctx context.Context, keyID string, pn ProjectNumberArg) error {
	if isBlank(keyID) {
		return fmt.Errorf("%w: keyId is required", ErrInvalidArgument)
	}
	projectNumber, err := ResolveProjectNumber(pn, s.staticProjectNumber)
	if err != nil {
		return err
	}
	return s.cache.StoreKey(ctx, keyID, projectNumber)
}

// GetStoredKeyID returns the default key if ready, otherwise an arbitrary
// ready key.
func (s *Service) GetStoredKeyID() (string, bool) {
	return s.cache.DefaultOrAny()
}

// ClearStoredKeyID forgets every prepared session.
func (s *Service) ClearStoredKeyID() {
	s.cache.ClearAll()
}
