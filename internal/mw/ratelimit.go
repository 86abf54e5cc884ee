package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const pruneEvery = 1024

// KeyedRateLimiter stores one token bucket per caller key. Buckets idle longer than
// the idle window are dropped by Prune, which also runs every pruneEvery new keys.
type KeyedRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	r        rate.Limit
	b        int
	idle     time.Duration
}

// NewKeyedRateLimiter creates a new KeyedRateLimiter.
func NewKeyedRateLimiter(r rate.Limit, b int, idle time.Duration) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		visitors: make(map[string]*visitor),
		r:        r,
		b:        b,
		idle:     idle,
	}
}

// Allow takes one token from the bucket of key.
func (k *KeyedRateLimiter) Allow(key string) bool {
	k.mu.Lock()
	v, exists := k.visitors[key]
	if !exists {
		if len(k.visitors) > 0 && len(k.visitors)%pruneEvery == 0 {
			k.prune()
		}
		v = &visitor{limiter: rate.NewLimiter(k.r, k.b)}
		k.visitors[key] = v
	}
	v.lastSeen = time.Now()
	k.mu.Unlock()

	return v.limiter.Allow()
}

// Prune drops buckets not used within the idle window and returns how many are left.
func (k *KeyedRateLimiter) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.prune()
}

func (k *KeyedRateLimiter) prune() int {
	if k.idle > 0 {
		cutoff := time.Now().Add(-k.idle)
		for key, v := range k.visitors {
			if v.lastSeen.Before(cutoff) {
				delete(k.visitors, key)
			}
		}
	}
	return len(k.visitors)
}

// ClientIP keys requests by remote address.
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ActorOrIP keys requests by authenticated actor, falling back to the remote address.
func ActorOrIP(c *gin.Context) string {
	if actor := Actor(c); actor != "" {
		return "actor:" + actor
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter is a middleware for key-based rate limiting.
func RateLimiter(limiter *KeyedRateLimiter, key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
