package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"shopqueue-backend/internal/auth"
	"shopqueue-backend/internal/metrics"
	"shopqueue-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, verifier auth.Verifier) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.RequestLogger(), metrics.Handler())

	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Exposer())

	limited := r.Group("/")
	limited.Use(mw.RateLimiter(rate.Limit(h.opts.RateLimitPerSec), h.opts.RateLimitBurst))
	{
		limited.GET("/shops", h.SearchShops)
		limited.GET("/shops/:id", mw.Cache(h.cache, h.opts.CacheTTL), h.GetShop)
		limited.GET("/shops/:id/slots", h.AvailableSlots)
		limited.GET("/queue/:provider_id", h.QueueStatus)
		limited.GET("/vapid_public_key", h.GetVAPIDPublicKey)
		if h.watcher != nil {
			limited.GET("/queue/:provider_id/watch", h.WatchQueue)
		}
	}

	authed := limited.Group("/")
	authed.Use(mw.Authenticate(verifier))
	{
		authed.POST("/providers", h.RegisterProvider)
		authed.DELETE("/providers/:id", h.DisableProvider)
		authed.PATCH("/providers/:id/status", h.UpdateStatus)
		authed.POST("/providers/:id/availability", h.PublishAvailability)

		authed.POST("/queue/:provider_id/join", h.JoinQueue)
		authed.POST("/queue/:provider_id/leave", h.LeaveQueue)
		authed.POST("/queue/:provider_id/complete", h.CompleteCustomer)
		authed.GET("/queue/:provider_id/position", h.QueuePosition)
		authed.GET("/queue/:provider_id/entries", h.QueueEntries)

		authed.POST("/appointments", h.BookAppointment)
		authed.GET("/appointments", h.ListAppointments)
		authed.DELETE("/appointments/:id", h.CancelAppointment)

		authed.GET("/subscriptions", h.GetSubscription)
		authed.PUT("/subscriptions", h.PutSubscription)
		authed.DELETE("/subscriptions", h.DeleteSubscription)
	}

	return r
}
