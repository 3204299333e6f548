package db

import "time"

// Outcome values for TokenRequest.Outcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// TokenRequest is one ledger entry: a broker operation and how it ended.
// TokenSealed holds the issued token sealed under the server master key,
// or nil when the request failed or no master key is configured.
type TokenRequest struct {
	ID            string    `json:"id"`
	Operation     string    `json:"operation"`
	KeyID         string    `json:"key_id"`
	RequestHash   string    `json:"request_hash,omitempty"`
	ProjectNumber *int64    `json:"project_number,omitempty"`
	Outcome       string    `json:"outcome"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorCode     *int      `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	TokenSealed   []byte    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}
