// ratelimit.go provides Gin middleware that enforces per-client token-bucket
// rate limits, returning 429 responses when the configured requests-per-minute
// threshold is exceeded. Two limiter backends exist: an in-process bucket map
// for single-instance deployments and a Redis-backed variant (GCRA via
// redis_rate) that shares state across replicas.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the limits for the authenticated API surface
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// OAuthRateLimitConfig returns stricter limits for the account-linking
// endpoints, which hit the code hosts on every call
func OAuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// IngestRateLimitConfig returns limits for the webhook ingest endpoints. Code
// hosts batch deliveries, so the burst is generous relative to the rate.
func IngestRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 300,
		BurstSize:         100,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter is the backend contract for RateLimitMiddleware
type Limiter interface {
	// Allow reports whether a request under the key may proceed and how many
	// requests remain in the current window.
	Allow(ctx context.Context, key string) (ok bool, remaining int)
	// Limit returns the configured requests-per-minute ceiling
	Limit() int
	// Stop releases background resources
	Stop()
}

// rateLimitEntry tracks the token bucket for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter is the in-process token bucket backend
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewRateLimiter creates an in-process limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Limit returns the configured requests-per-minute ceiling
func (rl *RateLimiter) Limit() int { return rl.config.RequestsPerMinute }

// Allow refills the client's bucket for elapsed time and takes one token
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]
	if !exists {
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, rl.config.BurstSize - 1
	}

	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	entry.tokens = min(float64(rl.config.BurstSize), entry.tokens+elapsed.Seconds()*tokensPerSecond)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, int(entry.tokens)
	}
	return false, 0
}

// RedisRateLimiter shares rate limit state across replicas through Redis
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	config  RateLimitConfig
	prefix  string
}

// NewRedisRateLimiter creates a Redis-backed limiter. The prefix keeps limit
// groups (api, oauth, ingest) from sharing buckets on the same client key.
func NewRedisRateLimiter(client *redis.Client, prefix string, config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		config:  config,
		prefix:  prefix,
	}
}

// Limit returns the configured requests-per-minute ceiling
func (rl *RedisRateLimiter) Limit() int { return rl.config.RequestsPerMinute }

// Stop is a no-op; the Redis client is shared and closed by its owner
func (rl *RedisRateLimiter) Stop() {}

// Allow runs the GCRA check in Redis. Redis failures fail open: shedding all
// traffic because the limiter store is down hurts more than a brief window
// without limits.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, int) {
	limit := redis_rate.Limit{
		Rate:   rl.config.RequestsPerMinute,
		Burst:  rl.config.BurstSize,
		Period: time.Minute,
	}
	res, err := rl.limiter.Allow(ctx, rl.prefix+":"+key, limit)
	if err != nil {
		return true, rl.config.BurstSize
	}
	return res.Allowed > 0, res.Remaining
}

// RateLimitMiddleware creates a Gin middleware enforcing the limiter
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		ok, remaining := limiter.Allow(c.Request.Context(), key)
		if !ok {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}

// getRateLimitKey buckets by principal when authenticated, IP otherwise.
// Webhook ingest is unauthenticated, so each code host IP gets its own bucket.
func getRateLimitKey(c *gin.Context) string {
	if p, ok := PrincipalFrom(c); ok {
		return "user:" + p.UserID
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
