package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// KeyedRateLimiter stores a rate limiter per caller key. Keys unused for the
// idle period are dropped.
type KeyedRateLimiter struct {
	keys *cache.Cache
	r    rate.Limit
	b    int
}

// NewKeyedRateLimiter creates a new KeyedRateLimiter. idle is raised to at
// least the time an emptied bucket needs to refill.
func NewKeyedRateLimiter(r rate.Limit, b int, idle time.Duration) *KeyedRateLimiter {
	if r > 0 && r != rate.Inf {
		if refill := time.Duration(float64(b) / float64(r) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &KeyedRateLimiter{
		keys: cache.New(idle, idle),
		r:    r,
		b:    b,
	}
}

// GetLimiter returns the rate limiter for key and extends its lifetime.
func (k *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	if v, ok := k.keys.Get(key); ok {
		limiter := v.(*rate.Limiter)
		k.keys.SetDefault(key, limiter)
		return limiter
	}

	limiter := rate.NewLimiter(k.r, k.b)
	if err := k.keys.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// another request created it first
		if v, ok := k.keys.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// RateLimiter limits each authenticated user, or each client IP for anonymous
// requests.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b, limiterIdleTTL)
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := Identity(c).ID; id != "" {
			key = "user:" + id
		}
		if !limiter.GetLimiter(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
