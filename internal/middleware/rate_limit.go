package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const maxTrackedClients = 10000

// RateLimiter keeps a token bucket per client. The least recently seen
// clients are forgotten past maxTrackedClients.
type RateLimiter struct {
	perMinute    int
	tokensPerSec float64
	burst        float64

	mu      sync.Mutex
	clients *simplelru.LRU[string, *tokenBucket]
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute with bursts of burstSize
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	clients, _ := simplelru.NewLRU[string, *tokenBucket](maxTrackedClients, nil)
	return &RateLimiter{
		perMinute:    requestsPerMinute,
		tokensPerSec: float64(requestsPerMinute) / 60.0,
		burst:        float64(burstSize),
		clients:      clients,
		now:          time.Now,
	}
}

// Allow takes one token from the client's bucket
func (r *RateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket, ok := r.clients.Get(clientID)
	if !ok {
		bucket = &tokenBucket{tokens: r.burst, lastRefill: now}
		r.clients.Add(clientID, bucket)
	}

	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * r.tokensPerSec
	bucket.lastRefill = now
	if bucket.tokens > r.burst {
		bucket.tokens = r.burst
	}

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true
	}
	return false
}

// retryAfter is the wait until the next token, in whole seconds
func (r *RateLimiter) retryAfter() int {
	if r.perMinute <= 0 {
		return 60
	}
	return (60 + r.perMinute - 1) / r.perMinute
}

// RateLimit limits the routes it guards per authenticated user, or per client IP
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString(ContextUserID)
		if clientID == "" {
			clientID = c.ClientIP()
		}

		if !limiter.Allow(clientID) {
			c.Header("Retry-After", strconv.Itoa(limiter.retryAfter()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Try again later.",
			})
			return
		}

		c.Next()
	}
}
