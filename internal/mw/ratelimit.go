package mw

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"planter-backend/internal/model"
)

// KeyFunc picks the bucket a request is limited under.
type KeyFunc func(c *gin.Context) string

// ByClientIP limits per client address.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// ByDevicePlot limits per authenticated device. It must run after RequireDevice;
// without a resolved plot it falls back to the client address.
func ByDevicePlot(c *gin.Context) string {
	if v, ok := c.Get(DevicePlotKey); ok {
		if plot, ok := v.(*model.Plot); ok {
			return "plot:" + strconv.FormatInt(plot.ID, 10)
		}
	}
	return c.ClientIP()
}

// KeyedRateLimiter stores a rate limiter for each key.
type KeyedRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	r        rate.Limit
	b        int
}

// NewKeyedRateLimiter creates a new KeyedRateLimiter.
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

// GetLimiter returns the rate limiter for key, creating it on first use.
func (l *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists = l.limiters[key]; !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter
}

// RateLimiter is a middleware limiting requests per key.
func RateLimiter(r rate.Limit, b int, key KeyFunc) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.GetLimiter(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"kind":    "rate_limited",
				"message": "rate limit exceeded",
			}})
			return
		}
		c.Next()
	}
}
