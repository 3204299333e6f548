package db

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetRequest(t *testing.T) {
	s := newTestStore(t)

	pn := int64(123456789012)
	rec := &TokenRequest{
		Operation:     "attestKey",
		KeyID:         "android-standard-integrity",
		RequestHash:   "ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0",
		ProjectNumber: &pn,
		Outcome:       OutcomeOK,
		TokenSealed:   []byte("sealed-token"),
	}
	if err := s.RecordRequest(rec); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("RecordRequest did not assign an id")
	}

	got, err := s.GetRequest(rec.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got == nil {
		t.Fatal("GetRequest returned nil")
	}
	if got.Operation != "attestKey" || got.KeyID != rec.KeyID || got.RequestHash != rec.RequestHash {
		t.Errorf("got request %+v", got)
	}
	if got.ProjectNumber == nil || *got.ProjectNumber != pn {
		t.Errorf("project number = %v", got.ProjectNumber)
	}
	if got.ErrorCode != nil {
		t.Errorf("error code = %v, want nil", *got.ErrorCode)
	}
	if string(got.TokenSealed) != "sealed-token" {
		t.Errorf("TokenSealed = %q", got.TokenSealed)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	// Not found
	got, err = s.GetRequest("nonexistent")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for nonexistent request")
	}
}

func TestRecordRequestErrorFields(t *testing.T) {
	s := newTestStore(t)

	code := -8
	rec := &TokenRequest{
		Operation:    "generateAssertion",
		KeyID:        "k",
		Outcome:      OutcomeError,
		ErrorKind:    "INTEGRITY_ERROR",
		ErrorCode:    &code,
		ErrorMessage: "too many requests",
	}
	if err := s.RecordRequest(rec); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	got, err := s.GetRequest(rec.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRequest: %v, %v", got, err)
	}
	if got.ErrorCode == nil || *got.ErrorCode != -8 || got.ErrorKind != "INTEGRITY_ERROR" {
		t.Errorf("got request %+v", got)
	}
	if got.ProjectNumber != nil || got.TokenSealed != nil {
		t.Errorf("unexpected optional fields %+v", got)
	}
}

func TestRecordRequestDuplicateID(t *testing.T) {
	s := newTestStore(t)

	rec := &TokenRequest{ID: "fixed", Operation: "storeKeyId", KeyID: "k", Outcome: OutcomeOK}
	if err := s.RecordRequest(rec); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	dup := *rec
	if err := s.RecordRequest(&dup); err != ErrDuplicateRequestID {
		t.Fatalf("expected ErrDuplicateRequestID, got: %v", err)
	}
}

func TestListRequests(t *testing.T) {
	s := newTestStore(t)

	for i, key := range []string{"a", "b", "a", "a"} {
		rec := &TokenRequest{Operation: "attestKey", KeyID: key, Outcome: OutcomeOK, RequestHash: string(rune('0' + i))}
		if err := s.RecordRequest(rec); err != nil {
			t.Fatalf("RecordRequest: %v", err)
		}
	}

	all, err := s.ListRequests("", 0)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ListRequests: got %d entries", len(all))
	}
	if all[0].RequestHash != "3" {
		t.Errorf("newest entry first: got hash %q", all[0].RequestHash)
	}

	onlyA, err := s.ListRequests("a", 2)
	if err != nil {
		t.Fatalf("ListRequests(a): %v", err)
	}
	if len(onlyA) != 2 {
		t.Fatalf("ListRequests(a, 2): got %d entries", len(onlyA))
	}
	for _, r := range onlyA {
		if r.KeyID != "a" {
			t.Errorf("filter leaked key %q", r.KeyID)
		}
	}
}

func TestPruneRequests(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.RecordRequest(&TokenRequest{Operation: "generateKey", Outcome: OutcomeOK}); err != nil {
			t.Fatalf("RecordRequest: %v", err)
		}
	}

	n, err := s.PruneRequests(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneRequests: %v", err)
	}
	if n != 0 {
		t.Fatalf("pruned %d fresh entries", n)
	}

	n, err = s.PruneRequests(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneRequests: %v", err)
	}
	if n != 3 {
		t.Fatalf("pruned %d entries, want 3", n)
	}
}
