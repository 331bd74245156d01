package api

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"inkediin-backend/internal/mw"
)

// Events streams the caller's real-time messages as Server-Sent Events. Each
// message is one event named after its type with the JSON payload as data.
// The stream ends when the client leaves or the handler shuts down.
func (h *Handler) Events(c *gin.Context) {
	actor := mw.Identity(c)
	ctx := c.Request.Context()

	msgs, unsubscribe, err := h.broker.Subscribe(ctx, actor.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ready, _ := json.Marshal(gin.H{"userId": actor.ID})
	c.SSEvent("ready", string(ready))
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			c.SSEvent(msg.Type, string(msg.Data))
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		case <-ctx.Done():
			return false
		case <-h.done:
			return false
		}
	})
}
