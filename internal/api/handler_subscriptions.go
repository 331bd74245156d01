package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"inkediin-backend/internal/model"
	"inkediin-backend/internal/mw"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	P256DH   string `json:"p256dh" binding:"required,notblank"`
	Auth     string `json:"auth" binding:"required,notblank"`
}

// PutSubscription registers or replaces a browser push subscription for the caller.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		UserID:   mw.Identity(c).ID,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.inbox.SaveSubscription(c.Request.Context(), &subscription); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes one of the caller's subscriptions.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.inbox.DeleteSubscription(c.Request.Context(), mw.Identity(c).ID, req.Endpoint); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetVAPIDPublicKey returns the application server key browsers need to
// subscribe. It answers 503 while browser push is not configured.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "browser push is not configured", "code": "push_disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.webpush.VAPIDPublicKey})
}
