//go:build bdd

package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aspect-build/attestbroker/internal/integrity"
	"github.com/aspect-build/attestbroker/internal/server"
	"github.com/aspect-build/attestbroker/internal/server/db"
	"github.com/cucumber/godog"
)

// bddBackend is an in-process integrity service the scenarios steer.
type bddBackend struct {
	mu          sync.Mutex
	unsupported bool
	failCode    *int
	prepared    []int64
}

func (b *bddBackend) IsSupported() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.unsupported
}

func (b *bddBackend) Format() string { return "bdd-token" }

func (b *bddBackend) PrepareSession(_ context.Context, projectNumber int64) (integrity.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prepared = append(b.prepared, projectNumber)
	return bddSession{b: b, id: len(b.prepared)}, nil
}

type bddSession struct {
	b  *bddBackend
	id int
}

func (s bddSession) RequestToken(_ context.Context, requestHash string) (string, error) {
	s.b.mu.Lock()
	code := s.b.failCode
	s.b.mu.Unlock()
	if code != nil {
		return "", &integrity.Error{Code: *code, Message: "integrity service refused the request"}
	}
	return fmt.Sprintf("s%d:%s", s.id, requestHash), nil
}

// bddContext holds per-scenario state.
type bddContext struct {
	ts      *httptest.Server
	store   *db.Store
	backend *bddBackend

	// last HTTP response
	lastStatus int
	lastBody   []byte
}

func (b *bddContext) reset() {
	if b.ts != nil {
		b.ts.Close()
	}
	if b.store != nil {
		b.store.Close()
	}
	*b = bddContext{}
}

// ── Given steps ─────────────────────────────────────────────────────

func (b *bddContext) start(static string) error {
	if b.ts != nil {
		return nil // already running
	}

	store, err := db.NewStore(":memory:")
	if err != nil {
		return fmt.Errorf("NewStore: %w", err)
	}

	var masterKey [32]byte
	cfg := &server.Config{
		AdminToken:         testAdminToken,
		MasterKey:          &masterKey,
		CloudProjectNumber: static,
		Backend:            "bdd",
		RequestTimeout:     5 * time.Second,
	}
	b.backend = &bddBackend{}
	router := server.NewRouter(store, cfg, server.NewService(cfg, b.backend))

	b.ts = httptest.NewServer(router)
	b.store = store
	return nil
}

func (b *bddContext) theBrokerIsRunningWithProjectNumber(static string) error {
	return b.start(static)
}

func (b *bddContext) theBrokerIsRunningWithoutAProjectNumber() error {
	return b.start("")
}

func (b *bddContext) theIntegrityServiceIsUnavailable() error {
	b.backend.mu.Lock()
	defer b.backend.mu.Unlock()
	b.backend.unsupported = true
	return nil
}

func (b *bddContext) theIntegrityServiceRejectsTokenRequestsWithCode(code int) error {
	b.backend.mu.Lock()
	defer b.backend.mu.Unlock()
	b.backend.failCode = &code
	return nil
}

// ── When steps ──────────────────────────────────────────────────────

func (b *bddContext) send(method, path string, body []byte) error {
	req, err := http.NewRequest(method, b.ts.URL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	b.lastBody, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	b.lastStatus = resp.StatusCode
	return nil
}

func (b *bddContext) iSendTo(method, path string) error {
	return b.send(method, path, nil)
}

func (b *bddContext) iSendToWithJSON(method, path string, jsonDoc *godog.DocString) error {
	return b.send(method, path, []byte(jsonDoc.Content))
}

// ── Then steps ──────────────────────────────────────────────────────

func (b *bddContext) theResponseStatusShouldBe(expected int) error {
	if b.lastStatus != expected {
		return fmt.Errorf("expected status %d, got %d (body: %s)", expected, b.lastStatus, b.lastBody)
	}
	return nil
}

func (b *bddContext) theResponseJSONShouldBe(key, expected string) error {
	var m map[string]interface{}
	if err := json.Unmarshal(b.lastBody, &m); err != nil {
		return fmt.Errorf("parse response JSON: %w", err)
	}
	val, ok := m[key]
	if !ok {
		return fmt.Errorf("key %q not found in response", key)
	}
	if fmt.Sprint(val) != expected {
		return fmt.Errorf("expected %q = %q, got %q", key, expected, val)
	}
	return nil
}

func (b *bddContext) theResponseJSONShouldNotHave(key string) error {
	var m map[string]interface{}
	if err := json.Unmarshal(b.lastBody, &m); err != nil {
		return fmt.Errorf("parse response JSON: %w", err)
	}
	if v, ok := m[key]; ok {
		return fmt.Errorf("unexpected key %q = %v in response", key, v)
	}
	return nil
}

func (b *bddContext) sessionsShouldHaveBeenPrepared(n int) error {
	b.backend.mu.Lock()
	defer b.backend.mu.Unlock()
	if len(b.backend.prepared) != n {
		return fmt.Errorf("expected %d prepared sessions, got %d", n, len(b.backend.prepared))
	}
	return nil
}

func (b *bddContext) theLastSessionShouldUseProjectNumber(want string) error {
	b.backend.mu.Lock()
	defer b.backend.mu.Unlock()
	if len(b.backend.prepared) == 0 {
		return fmt.Errorf("no session prepared")
	}
	got := strconv.FormatInt(b.backend.prepared[len(b.backend.prepared)-1], 10)
	if got != want {
		return fmt.Errorf("expected project number %s, got %s", want, got)
	}
	return nil
}

func (b *bddContext) theLedgerShouldHoldEntriesFor(n int, op string) error {
	recs, err := b.store.ListRequests("", 0)
	if err != nil {
		return err
	}
	count := 0
	for _, r := range recs {
		if r.Operation == op {
			count++
		}
	}
	if count != n {
		return fmt.Errorf("expected %d %s ledger entries, got %d", n, op, count)
	}
	return nil
}

// ── Suite runner ────────────────────────────────────────────────────

func TestBDD(t *testing.T) {
	b := &bddContext{}

	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				b.reset()
				return ctx, nil
			})

			// Given
			sc.Step(`^the broker is running with project number "([^"]*)"$`, b.theBrokerIsRunningWithProjectNumber)
			sc.Step(`^the broker is running without a project number$`, b.theBrokerIsRunningWithoutAProjectNumber)
			sc.Step(`^the integrity service is unavailable on this host$`, b.theIntegrityServiceIsUnavailable)
			sc.Step(`^the integrity service rejects token requests with code (-?\d+)$`, b.theIntegrityServiceRejectsTokenRequestsWithCode)

			// When
			sc.Step(`^I (GET|POST|PUT|DELETE) "([^"]*)"$`, b.iSendTo)
			sc.Step(`^I (GET|POST|PUT|DELETE) "([^"]*)" with JSON:$`, b.iSendToWithJSON)

			// Then
			sc.Step(`^the response status should be (\d+)$`, b.theResponseStatusShouldBe)
			sc.Step(`^the response JSON "([^"]*)" should be "([^"]*)"$`, b.theResponseJSONShouldBe)
			sc.Step(`^the response JSON should not have "([^"]*)"$`, b.theResponseJSONShouldNotHave)
			sc.Step(`^(\d+) sessions? should have been prepared$`, b.sessionsShouldHaveBeenPrepared)
			sc.Step(`^the last session should use project number "([^"]*)"$`, b.theLastSessionShouldUseProjectNumber)
			sc.Step(`^the ledger should hold (\d+) "([^"]*)" entr(?:y|ies)$`, b.theLedgerShouldHoldEntriesFor)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("BDD tests failed")
	}

	// Final cleanup
	b.reset()
}

func init() {
	// Suppress Gin debug output during BDD tests
	os.Setenv("GIN_MODE", "release")
}
