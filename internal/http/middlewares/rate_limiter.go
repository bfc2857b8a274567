package middlewares

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/avoronova/accounthub/internal/redisclient"
	"github.com/gin-gonic/gin"
)

// Limiter counts hits per key within a fixed window.
type Limiter interface {
	Hit(ctx context.Context, key string) (count int64, retryAfter time.Duration, err error)
}

type RateLimiter struct {
	limiter Limiter
	limit   int
}

// NewRateLimiter picks the backend: redis when available (shared across
// instances), otherwise per-process in-memory buckets.
func NewRateLimiter(rdb *redisclient.Client, limit int, window time.Duration) *RateLimiter {
	var l Limiter

	if rdb != nil {
		l = &redisLimiter{rdb: rdb, window: window}
	} else {
		l = &memoryLimiter{
			window:  window,
			clients: make(map[string]*clientBucket),
		}
	}

	return &RateLimiter{limiter: l, limit: limit}
}

// Middleware enforces the limit for a derived key.
func (rl *RateLimiter) Middleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		count, retryAfter, err := rl.limiter.Hit(c.Request.Context(), "ratelimit:"+key)

		if err != nil {
			// a broken limiter backend must not take the endpoint down
			c.Next()
			return
		}

		if count > int64(rl.limit) {
			secs := int(retryAfter.Seconds())

			if secs < 0 {
				secs = 0
			}

			c.Header("Retry-After", strconv.Itoa(secs))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "rate_limited",
					"message": "Too many requests. Please try again shortly.",
				},
			})

			return
		}

		c.Next()
	}
}

type redisLimiter struct {
	rdb    *redisclient.Client
	window time.Duration
}

func (l *redisLimiter) Hit(ctx context.Context, key string) (int64, time.Duration, error) {
	return l.rdb.IncrWindow(ctx, key, l.window)
}

type memoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	clients map[string]*clientBucket
}

type clientBucket struct {
	count     int64
	windowEnd time.Time
}

func (l *memoryLimiter) Hit(_ context.Context, key string) (int64, time.Duration, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[key]

	if !ok || now.After(b.windowEnd) {
		l.clients[key] = &clientBucket{count: 1, windowEnd: now.Add(l.window)}
		return 1, l.window, nil
	}

	b.count++

	return b.count, time.Until(b.windowEnd), nil
}

// helper functions

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// For authenticated endpoints: rate limit by userID if available

func KeyByUserOrIP(c *gin.Context) string {
	id, ok := UserIDFromContext(c)

	if ok && id != 0 {
		return "user:" + strconv.FormatInt(id, 10)
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	// Strip a port if one is present

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
