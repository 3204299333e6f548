package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aspect-build/attestbroker/internal/broker"
	"github.com/gin-gonic/gin"
)

type projectRequest struct {
	CloudProjectNumber broker.ProjectNumberArg `json:"cloudProjectNumber"`
}

type tokenRequest struct {
	KeyID              string                  `json:"keyId"`
	Challenge          string                  `json:"challenge"`
	Payload            string                  `json:"payload"`
	CloudProjectNumber broker.ProjectNumberArg `json:"cloudProjectNumber"`
}

type storeKeyRequest struct {
	KeyID              string                  `json:"keyId"`
	CloudProjectNumber broker.ProjectNumberArg `json:"cloudProjectNumber"`
}

// bindBody decodes an optional JSON body into dst. An empty body leaves dst
// at its zero value; a malformed one is an invalid argument.
func bindBody(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body: %v", broker.ErrInvalidArgument, err)
	}
	return nil
}

// HandleIsSupported handles GET /v1/supported.
func HandleIsSupported(svc *broker.Service, platform string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"isSupported": svc.IsSupported(),
			"platform":    platform,
			"format":      svc.Format(),
		})
	}
}

// HandleGenerateKey handles POST /v1/keys and its alias POST /v1/prepare.
func HandleGenerateKey(svc *broker.Service, ledger *Ledger, platform string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req projectRequest
		if err := bindBody(c, &req); err != nil {
			writeError(c, err)
			return
		}

		keyID, err := svc.GenerateKey(c.Request.Context(), req.CloudProjectNumber)
		ledger.record(ledgerEntry{
			op:            OpGenerateKey,
			keyID:         broker.DefaultKeyID,
			projectNumber: resolvedProjectNumber(svc, req.CloudProjectNumber),
			err:           err,
		})
		if err != nil {
			log.Warnf("generateKey: %v", err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"keyId":    keyID,
			"platform": platform,
			"format":   svc.Format(),
		})
	}
}

// requestToken runs one token request and records it. ok is false when an
// error response has already been written.
func requestToken(c *gin.Context, svc *broker.Service, ledger *Ledger, kind broker.RequestKind) (broker.TokenResult, tokenRequest, bool) {
	var req tokenRequest
	if err := bindBody(c, &req); err != nil {
		writeError(c, err)
		return broker.TokenResult{}, req, false
	}

	var (
		res broker.TokenResult
		err error
		op  string
	)
	if kind == broker.Attestation {
		op = OpAttestKey
		res, err = svc.AttestKey(c.Request.Context(), req.KeyID, req.Challenge, req.CloudProjectNumber)
	} else {
		op = OpGenerateAssertion
		res, err = svc.GenerateAssertion(c.Request.Context(), req.KeyID, req.Payload, req.CloudProjectNumber)
	}
	ledger.record(ledgerEntry{
		op:            op,
		keyID:         req.KeyID,
		requestHash:   res.RequestHash,
		projectNumber: resolvedProjectNumber(svc, req.CloudProjectNumber),
		token:         res.Token,
		err:           err,
	})
	if err != nil {
		log.Warnf("%s key=%q: %v", op, req.KeyID, err)
		writeError(c, err)
		return res, req, false
	}
	return res, req, true
}

// HandleAttestKey handles POST /v1/keys/attest and, with legacy false, the
// unified POST /v1/attestations. The legacy shape adds "attestation", equal
// to "token".
func HandleAttestKey(svc *broker.Service, ledger *Ledger, platform string, legacy bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, _, ok := requestToken(c, svc, ledger, broker.Attestation)
		if !ok {
			return
		}
		body := gin.H{
			"token":     res.Token,
			"keyId":     res.KeyID,
			"challenge": res.Challenge,
			"platform":  platform,
			"format":    svc.Format(),
		}
		if legacy {
			body["attestation"] = res.Token
		}
		c.JSON(http.StatusOK, body)
	}
}

// HandleGenerateAssertion handles POST /v1/keys/assert and, with legacy
// false, the unified POST /v1/assertions. The legacy shape adds
// "assertion", equal to "token".
func HandleGenerateAssertion(svc *broker.Service, ledger *Ledger, platform string, legacy bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, req, ok := requestToken(c, svc, ledger, broker.Assertion)
		if !ok {
			return
		}
		body := gin.H{
			"token":    res.Token,
			"keyId":    res.KeyID,
			"payload":  req.Payload,
			"platform": platform,
			"format":   svc.Format(),
		}
		if legacy {
			body["assertion"] = res.Token
		}
		c.JSON(http.StatusOK, body)
	}
}

// HandleStoreKeyID handles PUT /v1/keys/stored.
func HandleStoreKeyID(svc *broker.Service, ledger *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req storeKeyRequest
		if err := bindBody(c, &req); err != nil {
			writeError(c, err)
			return
		}

		err := svc.StoreKeyID(c.Request.Context(), req.KeyID, req.CloudProjectNumber)
		ledger.record(ledgerEntry{
			op:            OpStoreKeyID,
			keyID:         req.KeyID,
			projectNumber: resolvedProjectNumber(svc, req.CloudProjectNumber),
			err:           err,
		})
		if err != nil {
			log.Warnf("storeKeyId key=%q: %v", req.KeyID, err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// HandleGetStoredKeyID handles GET /v1/keys/stored.
func HandleGetStoredKeyID(svc *broker.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID, ok := svc.GetStoredKeyID()
		if !ok {
			c.JSON(http.StatusOK, gin.H{"keyId": nil, "hasStoredKey": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"keyId": keyID, "hasStoredKey": true})
	}
}

// HandleClearStoredKeyID handles DELETE /v1/keys/stored.
func HandleClearStoredKeyID(svc *broker.Service, ledger *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc.ClearStoredKeyID()
		ledger.record(ledgerEntry{op: OpClearStoredKeyID})
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
