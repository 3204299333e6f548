package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aspect-build/attestbroker/internal/broker"
	"github.com/aspect-build/attestbroker/internal/integrity"
	"github.com/aspect-build/attestbroker/internal/server/db"
)

func (e *testEnv) list(t *testing.T, query string) []map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/requests"+query, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list requests: %d %s", w.Code, w.Body.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return out
}

func TestLedgerRecordsAndUnsealsToken(t *testing.T) {
	env := setupBroker(t, "99")

	code, body := env.do(t, http.MethodPost, "/v1/keys/attest", `{"keyId":"android-standard-integrity","challenge":"abc"}`)
	if code != http.StatusOK {
		t.Fatalf("attestKey: %d %v", code, body)
	}
	token := body["token"]

	entries := env.list(t, "")
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry["operation"] != OpAttestKey || entry["outcome"] != db.OutcomeOK || entry["has_token"] != true {
		t.Errorf("entry = %v", entry)
	}
	if entry["project_number"] != float64(99) {
		t.Errorf("project_number = %v", entry["project_number"])
	}
	if _, ok := entry["token"]; ok {
		t.Error("list must not expose tokens")
	}

	id := entry["id"].(string)
	code, got := env.do(t, http.MethodGet, "/v1/admin/requests/"+id, "")
	if code != http.StatusOK {
		t.Fatalf("get request: %d %v", code, got)
	}
	if got["token"] != token {
		t.Errorf("unsealed token = %v, want %v", got["token"], token)
	}
	if got["request_hash"] != "ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0" {
		t.Errorf("request_hash = %v", got["request_hash"])
	}

	code, got = env.do(t, http.MethodGet, "/v1/admin/requests/nope", "")
	if code != http.StatusNotFound || got["code"] != "NOT_FOUND" {
		t.Fatalf("missing entry: %d %v", code, got)
	}
}

func TestLedgerRecordsFailures(t *testing.T) {
	env := setupBroker(t, "1")
	env.backend.tokenErr = &integrity.Error{Code: -8, Message: "too many requests"}

	env.do(t, http.MethodPost, "/v1/keys/assert", `{"keyId":"android-standard-integrity","payload":"p"}`)
	env.do(t, http.MethodPost, "/v1/keys/assert", `{"keyId":"custom","payload":"p"}`)

	entries := env.list(t, "?key_id=android-standard-integrity")
	if len(entries) != 1 {
		t.Fatalf("filtered entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e["outcome"] != db.OutcomeError || e["error_kind"] != "INTEGRITY_ERROR" || e["error_code"] != float64(-8) {
		t.Errorf("entry = %v", e)
	}
	if e["has_token"] != false {
		t.Error("failed request must not retain a token")
	}

	all := env.list(t, "?limit=1")
	if len(all) != 1 || all[0]["error_kind"] != "UNKNOWN_KEY" {
		t.Fatalf("newest entry = %v", all)
	}
}

func TestListRequestsBadLimit(t *testing.T) {
	env := setupBroker(t, "1")
	code, body := env.do(t, http.MethodGet, "/v1/admin/requests?limit=0", "")
	if code != http.StatusBadRequest || body["code"] != "INVALID_ARGUMENT" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestLedgerWithoutMasterKey(t *testing.T) {
	env := setupBroker(t, "1")
	ledger := NewLedger(env.store, nil)
	ledger.record(ledgerEntry{op: OpAttestKey, keyID: broker.DefaultKeyID, token: "secret"})

	entries := env.list(t, "")
	if len(entries) != 1 || entries[0]["has_token"] != false {
		t.Fatalf("entries = %v", entries)
	}
}

func TestStatus(t *testing.T) {
	env := setupBroker(t, "1")
	env.do(t, http.MethodPut, "/v1/keys/stored", `{"keyId":"b"}`)
	env.do(t, http.MethodPut, "/v1/keys/stored", `{"keyId":"a"}`)

	code, body := env.do(t, http.MethodGet, "/v1/admin/status", "")
	if code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}
	keys, _ := body["keys"].([]any)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v", body["keys"])
	}
}
