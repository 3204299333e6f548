package handler

import (
	"github.com/aspect-build/attestbroker/internal/broker"
	"github.com/aspect-build/attestbroker/internal/crypto"
	"github.com/aspect-build/attestbroker/internal/logx"
	"github.com/aspect-build/attestbroker/internal/server/db"
	"github.com/google/uuid"
)

var log = logx.For("server")

// Operation names written to the ledger.
const (
	OpGenerateKey       = "generateKey"
	OpAttestKey         = "attestKey"
	OpGenerateAssertion = "generateAssertion"
	OpStoreKeyID        = "storeKeyId"
	OpClearStoredKeyID  = "clearStoredKeyId"
)

// Ledger records broker operations in the request store. Issued tokens are
// sealed under masterKey with the record id as associated data; without a
// master key only the outcome is kept. A nil Ledger records nothing.
type Ledger struct {
	store     *db.Store
	masterKey *[32]byte
}

// NewLedger returns a Ledger writing to store.
func NewLedger(store *db.Store, masterKey *[32]byte) *Ledger {
	return &Ledger{store: store, masterKey: masterKey}
}

type ledgerEntry struct {
	op            string
	keyID         string
	requestHash   string
	projectNumber *int64
	token         string
	err           error
}

// record stores e. Ledger failures are logged and never fail the request.
func (l *Ledger) record(e ledgerEntry) {
	if l == nil || l.store == nil {
		return
	}
	rec := &db.TokenRequest{
		ID:            uuid.NewString(),
		Operation:     e.op,
		KeyID:         e.keyID,
		RequestHash:   e.requestHash,
		ProjectNumber: e.projectNumber,
		Outcome:       db.OutcomeOK,
	}
	if e.err != nil {
		rec.Outcome = db.OutcomeError
		rec.ErrorKind = errorKind(e.err)
		rec.ErrorMessage = e.err.Error()
		if code, ok := integrityCode(e.err); ok {
			rec.ErrorCode = &code
		}
	} else if e.token != "" && l.masterKey != nil {
		sealed, err := crypto.Seal(*l.masterKey, []byte(e.token), []byte(rec.ID))
		if err != nil {
			log.Warnf("seal token for ledger entry %s: %v", rec.ID, err)
		} else {
			rec.TokenSealed = sealed
		}
	}
	if err := l.store.RecordRequest(rec); err != nil {
		log.Errorf("record %s ledger entry: %v", e.op, err)
		return
	}
	log.Debugf("ledger %s op=%s key=%q outcome=%s", rec.ID, rec.Operation, rec.KeyID, rec.Outcome)
}

// resolvedProjectNumber returns the project number svc would use for arg,
// or nil when it does not resolve.
func resolvedProjectNumber(svc *broker.Service, arg broker.ProjectNumberArg) *int64 {
	n, err := svc.ResolveProjectNumber(arg)
	if err != nil {
		return nil
	}
	return &n
}
