package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aspect-build/attestbroker/internal/broker"
	"github.com/gin-gonic/gin"
)

const codeTimeout = "TIMEOUT"

// errorKind returns the wire code for err. Deadline expiry is reported
// separately from the broker classifications since it comes from the
// per-request timeout, not the broker.
func errorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return codeTimeout
	}
	return broker.Classify(err).String()
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch broker.Classify(err) {
	case broker.KindInvalidArgument:
		return http.StatusBadRequest
	case broker.KindUnsupportedPlatform:
		return http.StatusNotImplemented
	case broker.KindConfig:
		return http.StatusUnprocessableEntity
	case broker.KindUnknownKey:
		return http.StatusNotFound
	case broker.KindIntegrityService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// integrityCode returns the vendor code carried by err, if any.
func integrityCode(err error) (int, bool) {
	var svcErr *broker.ServiceError
	if errors.As(err, &svcErr) && svcErr.Code != nil {
		return *svcErr.Code, true
	}
	return 0, false
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error(), "code": errorKind(err)}
	if code, ok := integrityCode(err); ok {
		body["integrityCode"] = code
	}
	c.JSON(statusFor(err), body)
}
