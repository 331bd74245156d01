package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"inkediin-backend/internal/model"
	"inkediin-backend/internal/mw"
)

// RouterConfig carries the knobs of the HTTP surface.
type RouterConfig struct {
	JWTSecret       string
	RateLimitPerSec float64
	RateLimitBurst  int
	IdempotencyTTL  time.Duration
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	registerValidators()

	r := gin.Default()

	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 10 * time.Minute
	}
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Replayed create responses, cleaned up every 10 minutes
	replayStore := cache.New(cfg.IdempotencyTTL, 10*time.Minute)
	idempotent := mw.Idempotency(replayStore, cfg.IdempotencyTTL)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

	authed := api.Group("")
	authed.Use(mw.Auth(cfg.JWTSecret), rateLimiter)
	{
		authed.POST("/reservations", mw.RequireRole(model.RoleClient), idempotent, h.CreateReservation)
		authed.GET("/reservations/mine", h.ListMyReservations)
		authed.GET("/reservations/stats", h.GetStats)
		authed.GET("/reservations/:id", h.GetReservation)
		authed.GET("/reservations/:id/history", h.GetHistory)
		authed.PATCH("/reservations/:id", h.ModifyReservation)
		authed.PATCH("/reservations/:id/respond", h.RespondReservation)
		authed.PATCH("/reservations/:id/appointment", h.SetAppointment)
		authed.PATCH("/reservations/:id/cancel", h.CancelReservation)
		authed.PATCH("/reservations/:id/complete", h.CompleteReservation)
		authed.DELETE("/reservations/:id", mw.RequireRole(model.RoleAdmin), h.DeleteReservation)

		authed.GET("/notifications", h.ListNotifications)
		authed.GET("/notifications/unread-count", h.UnreadCount)
		authed.PATCH("/notifications/read-all", h.MarkAllRead)
		authed.PATCH("/notifications/:id/read", h.MarkRead)

		authed.PUT("/subscriptions", h.PutSubscription)
		authed.DELETE("/subscriptions", h.DeleteSubscription)
	}

	// The event stream is long lived and stays outside the rate limiter.
	api.GET("/events", mw.Auth(cfg.JWTSecret), h.Events)

	return r
}

// registerValidators adds the custom binding rules. It is safe to call more
// than once.
func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	}
}
