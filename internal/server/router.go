package server

import (
	"github.com/aspect-build/attestbroker/internal/broker"
	"github.com/aspect-build/attestbroker/internal/server/db"
	"github.com/aspect-build/attestbroker/internal/server/handler"
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(store *db.Store, cfg *Config, svc *broker.Service) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})

	admin := AdminAuth(cfg.AdminToken)
	ledger := handler.NewLedger(store, cfg.MasterKey)
	platform := cfg.Backend

	v1 := r.Group("/v1", RequestTimeout(cfg.RequestTimeout))
	{
		v1.GET("/supported", handler.HandleIsSupported(svc, platform))

		// Key lifecycle
		v1.POST("/keys", handler.HandleGenerateKey(svc, ledger, platform))
		v1.POST("/keys/attest", handler.HandleAttestKey(svc, ledger, platform, true))
		v1.POST("/keys/assert", handler.HandleGenerateAssertion(svc, ledger, platform, true))
		v1.PUT("/keys/stored", handler.HandleStoreKeyID(svc, ledger))
		v1.GET("/keys/stored", handler.HandleGetStoredKeyID(svc))
		v1.DELETE("/keys/stored", handler.HandleClearStoredKeyID(svc, ledger))

		// Unified names
		v1.POST("/prepare", handler.HandleGenerateKey(svc, ledger, platform))
		v1.POST("/attestations", handler.HandleAttestKey(svc, ledger, platform, false))
		v1.POST("/assertions", handler.HandleGenerateAssertion(svc, ledger, platform, false))

		// Request ledger and cache status
		v1.GET("/admin/requests", admin, handler.HandleListRequests(store))
		v1.GET("/admin/requests/:id", admin, handler.HandleGetRequest(store, cfg.MasterKey))
		v1.GET("/admin/status", admin, handler.HandleStatus(svc, platform))
	}

	return r
}
