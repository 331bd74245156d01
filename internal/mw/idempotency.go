package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"
)

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// inFlight marks a key whose first request has not completed yet.
type inFlight struct{}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response of a request that carried the same
// Idempotency-Key for the same user. Only successful responses are kept, so a
// failed request may be retried with its key. Requests without the header pass
// through.
func Idempotency(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(IdempotencyHeader)
		if header == "" {
			c.Next()
			return
		}

		key := c.Request.Method + " " + c.FullPath() + " " + Identity(c).ID + " " + header
		if entry, found := store.Get(key); found {
			switch cached := entry.(type) {
			case cachedResponse:
				for k, v := range cached.headers {
					c.Writer.Header()[k] = v
				}
				c.Writer.Header().Set(ReplayedHeader, "true")
				c.Writer.WriteHeader(cached.status)
				_, _ = c.Writer.Write(cached.body)
				c.Abort()
				return
			case inFlight:
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"error": "a request with this idempotency key is still in progress",
					"code":  "conflict",
				})
				return
			}
		}
		if err := store.Add(key, inFlight{}, ttl); err != nil {
			// Lost the race against an identical request.
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "a request with this idempotency key is still in progress",
				"code":  "conflict",
			})
			return
		}

		blw := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		// Only cache successful responses
		if blw.Status() >= 200 && blw.Status() < 300 {
			store.Set(key, cachedResponse{
				status: blw.Status(),
				// Make a copy of the header map.
				headers: blw.Header().Clone(),
				body:    blw.body.Bytes(),
			}, ttl)
			return
		}
		store.Delete(key)
	}
}
