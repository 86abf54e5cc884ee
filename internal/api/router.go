package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"device-registry-backend/config"
	"device-registry-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, h *Handler, logger *logrus.Entry) *gin.Engine {
	r := gin.New()
	r.Use(mw.RequestID(), mw.UseLogger(logger), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSAllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowHeaders(cfg.ActorHeader, mw.HeaderRequestID)
	corsConfig.AddExposeHeaders(mw.HeaderRequestID)
	r.Use(cors.New(corsConfig))

	// Public and OTP endpoints share one bucket size; buckets idle for 10 minutes are dropped
	publicLimiter := mw.NewKeyedRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute)
	verifyLimiter := mw.NewKeyedRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute)

	// Stale public reads are allowed for at most the configured TTL
	statusCache := cache.New(cfg.StatusCacheTTL, time.Minute)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		// GET /api/status?identifier=<raw>
		api.GET("/status", mw.RateLimiter(publicLimiter, mw.ClientIP), mw.Cache(statusCache, cfg.StatusCacheTTL), h.GetStatus)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	private := api.Group("", mw.RequireActor(cfg.ActorHeader))
	{
		private.POST("/devices", h.RegisterDevice)
		private.GET("/devices", h.ListDevices)
		private.GET("/devices/:id", h.GetDevice)
		private.GET("/devices/:id/history", h.GetDeviceHistory)
		private.POST("/devices/:id/report", h.ReportDevice)

		private.POST("/transfers", h.InitiateTransfer)
		private.GET("/transfers/:id", h.GetTransfer)
		private.POST("/transfers/:id/verify", mw.RateLimiter(verifyLimiter, mw.ActorOrIP), h.VerifyTransfer)
		private.POST("/transfers/:id/resend", h.ResendChallenge)
		private.POST("/transfers/:id/reason", h.SubmitReason)
		private.POST("/transfers/:id/complete", h.CompleteTransfer)
		private.POST("/transfers/:id/cancel", h.CancelTransfer)

		private.GET("/contact", h.GetContact)
		private.PUT("/contact", h.PutContact)
		private.DELETE("/contact", h.DeleteContact)
	}

	return r
}
