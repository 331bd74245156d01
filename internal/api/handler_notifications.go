package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"inkediin-backend/internal/mw"
)

// ListNotifications returns one page of the caller's inbox, newest first.
func (h *Handler) ListNotifications(c *gin.Context) {
	page, limit, err := parsePaging(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	unreadOnly := c.Query("unread") == "true" || c.Query("unread") == "1"

	items, total, err := h.inbox.ListNotifications(c.Request.Context(), mw.Identity(c).ID, unreadOnly, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page": page, "limit": limit, "total": total})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.inbox.UnreadCount(c.Request.Context(), mw.Identity(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	if err := h.inbox.MarkRead(c.Request.Context(), mw.Identity(c).ID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	n, err := h.inbox.MarkAllRead(c.Request.Context(), mw.Identity(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
