package handler

import (
	"net/http"
	"strconv"

	"github.com/aspect-build/attestbroker/internal/broker"
	"github.com/aspect-build/attestbroker/internal/crypto"
	"github.com/aspect-build/attestbroker/internal/server/db"
	"github.com/gin-gonic/gin"
)

const maxListLimit = 1000

// requestView serializes a ledger entry. Token is present only on the
// single-entry endpoint, once unsealed.
type requestView struct {
	db.TokenRequest
	HasToken bool    `json:"has_token"`
	Token    *string `json:"token,omitempty"`
}

func newRequestView(rec *db.TokenRequest) requestView {
	return requestView{TokenRequest: *rec, HasToken: len(rec.TokenSealed) > 0}
}

// HandleListRequests handles GET /v1/admin/requests.
func HandleListRequests(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxListLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 1000", "code": broker.KindInvalidArgument.String()})
				return
			}
			limit = n
		}

		recs, err := store.ListRequests(c.Query("key_id"), limit)
		if err != nil {
			log.Errorf("ListRequests: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list requests", "code": broker.KindUnknown.String()})
			return
		}
		out := make([]requestView, 0, len(recs))
		for i := range recs {
			out = append(out, newRequestView(&recs[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

// HandleGetRequest handles GET /v1/admin/requests/:id. When masterKey is
// set and the entry carries a sealed token, the token is returned unsealed.
func HandleGetRequest(store *db.Store, masterKey *[32]byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		rec, err := store.GetRequest(id)
		if err != nil {
			log.Errorf("GetRequest(%q): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve request", "code": broker.KindUnknown.String()})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "request not found", "code": "NOT_FOUND"})
			return
		}

		view := newRequestView(rec)
		if view.HasToken && masterKey != nil {
			plain, err := crypto.Open(*masterKey, rec.TokenSealed, []byte(rec.ID))
			if err != nil {
				log.Errorf("open sealed token for %s: %v", rec.ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unseal token", "code": broker.KindUnknown.String()})
				return
			}
			token := string(plain)
			view.Token = &token
		}
		c.JSON(http.StatusOK, view)
	}
}

// HandleStatus handles GET /v1/admin/status.
func HandleStatus(svc *broker.Service, platform string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cache := svc.Cache()
		c.JSON(http.StatusOK, gin.H{
			"keys":        cache.Keys(),
			"count":       cache.Len(),
			"isSupported": svc.IsSupported(),
			"platform":    platform,
			"format":      svc.Format(),
		})
	}
}
