package broker

import (
	"errors"
	"fmt"

	"github.com/aspect-build/attestbroker/internal/integrity"
)

// Sentinel errors. Operations wrap them with call-specific detail, so test
// with errors.Is.
var (
	ErrUnsupportedPlatform = errors.New("integrity service is not supported on this device")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrConfig              = errors.New("invalid configuration")
	ErrHashing             = errors.New("request hash digest unavailable")
	ErrUnknownKey          = errors.New("unknown key id")
)

// ServiceError reports that the integrity service rejected session
// preparation or token issuance. Code is nil when the service did not supply
// a structured error code.
type ServiceError struct {
	Op      string
	Code    *int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%s with code %d: %s", e.Op, *e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// classifyServiceError wraps a failure from the integrity service.
func classifyServiceError(op string, err error) error {
	var vendor *integrity.Error
	if errors.As(err, &vendor) {
		code := vendor.Code
		return &ServiceError{Op: op, Code: &code, Message: vendor.Message, Err: err}
	}
	return &ServiceError{Op: op, Message: err.Error(), Err: err}
}

// Kind is the classification surfaced to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedPlatform
	KindInvalidArgument
	KindConfig
	KindHashing
	KindUnknownKey
	KindIntegrityService
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedPlatform:
		return "UNSUPPORTED_PLATFORM"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindConfig:
		return "CONFIG_ERROR"
	case KindHashing:
		return "HASHING_ERROR"
	case KindUnknownKey:
		return "UNKNOWN_KEY"
	case KindIntegrityService:
		return "INTEGRITY_ERROR"
	default:
		return "INTERNAL"
	}
}

// Classify returns the classification of an error produced by this package.
func Classify(err error) Kind {
	var svcErr *ServiceError
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrUnsupportedPlatform):
		return KindUnsupportedPlatform
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, ErrHashing):
		return KindHashing
	case errors.Is(err, ErrUnknownKey):
		return KindUnknownKey
	case errors.As(err, &svcErr):
		return KindIntegrityService
	default:
		return KindUnknown
	}
}
