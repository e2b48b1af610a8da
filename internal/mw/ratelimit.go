package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long a client's limiter survives without requests.
const idleLimiterTTL = 10 * time.Minute

// IPRateLimiter hands out one token bucket per client IP. Buckets of idle
// clients expire so the set does not grow without bound.
type IPRateLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewIPRateLimiter creates a new IPRateLimiter.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: cache.New(idleLimiterTTL, 2*idleLimiterTTL),
		r:        r,
		b:        b,
	}
}

// GetLimiter returns the rate limiter for an IP address, creating it on
// first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	if l, found := i.limiters.Get(ip); found {
		i.limiters.SetDefault(ip, l)
		return l.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(i.r, i.b)
	// Add fails when a concurrent request created the limiter first.
	if err := i.limiters.Add(ip, limiter, cache.DefaultExpiration); err != nil {
		if l, found := i.limiters.Get(ip); found {
			return l.(*rate.Limiter)
		}
	}
	return limiter
}

// RateLimiter is a middleware for IP-based rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewIPRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "RateLimited"})
			return
		}
		c.Next()
	}
}
