package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrDuplicateRequestID is returned by RecordRequest when the ID is taken.
var ErrDuplicateRequestID = errors.New("token request with this id already exists")

const requestColumns = `id, operation, key_id, request_hash, project_number, outcome,
	error_kind, error_code, error_message, token_sealed, created_at`

// RecordRequest inserts a ledger entry. An empty ID is replaced with a new
// UUID, written back to rec.
func (s *Store) RecordRequest(rec *TokenRequest) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO token_requests (id, operation, key_id, request_hash, project_number, outcome,
			error_kind, error_code, error_message, token_sealed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Operation, rec.KeyID, rec.RequestHash, nullInt64(rec.ProjectNumber), rec.Outcome,
		rec.ErrorKind, nullInt(rec.ErrorCode), rec.ErrorMessage, rec.TokenSealed,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return ErrDuplicateRequestID
		}
		return fmt.Errorf("record token request: %w", err)
	}
	return nil
}

// GetRequest retrieves a ledger entry by ID. It returns nil, nil when absent.
func (s *Store) GetRequest(id string) (*TokenRequest, error) {
	row := s.db.QueryRow(`SELECT `+requestColumns+` FROM token_requests WHERE id = ?`, id)
	rec, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token request: %w", err)
	}
	return rec, nil
}

// ListRequests returns the newest entries first. keyID filters when
// non-empty; limit <= 0 means 100.
func (s *Store) ListRequests(keyID string, limit int) ([]TokenRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + requestColumns + ` FROM token_requests`
	args := []any{}
	if keyID != "" {
		query += ` WHERE key_id = ?`
		args = append(args, keyID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list token requests: %w", err)
	}
	defer rows.Close()

	var out []TokenRequest
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token request: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// PruneRequests deletes entries created before cutoff and returns how many
// were removed.
func (s *Store) PruneRequests(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM token_requests WHERE created_at < datetime(?, 'unixepoch')`, cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune token requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*TokenRequest, error) {
	var (
		rec           TokenRequest
		projectNumber sql.NullInt64
		errorCode     sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.Operation, &rec.KeyID, &rec.RequestHash, &projectNumber, &rec.Outcome,
		&rec.ErrorKind, &errorCode, &rec.ErrorMessage, &rec.TokenSealed, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if projectNumber.Valid {
		v := projectNumber.Int64
		rec.ProjectNumber = &v
	}
	if errorCode.Valid {
		v := int(errorCode.Int64)
		rec.ErrorCode = &v
	}
	return &rec, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
