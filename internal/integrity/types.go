// Package integrity holds the clients for external integrity services that
// exchange a request hash for a signed token.
package integrity

import (
	"context"
	"fmt"
)

// Manager prepares token-issuing sessions for a service tenant.
type Manager interface {
	// PrepareSession performs the warm-up step for projectNumber and returns a
	// session that can issue tokens until the process exits.
	PrepareSession(ctx context.Context, projectNumber int64) (Session, error)

	// Format names the token format produced by sessions of this manager.
	Format() string
}

// Session issues integrity tokens bound to a request hash.
type Session interface {
	RequestToken(ctx context.Context, requestHash string) (string, error)
}

// Error is a failure reported by the integrity service with a
// vendor-specific numeric code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("integrity service error %d: %s", e.Code, e.Message)
}
