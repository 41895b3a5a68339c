package httpmiddleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit returns gin middleware enforcing per-IP limits. Limiter errors
// let the request through.
func RateLimit(l Limiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		ok, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

// TokenBucket is an in-memory per-key limiter.
type TokenBucket struct {
	capacity int
	rate     int
	mu       sync.Mutex
	state    map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens and rate per minute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		state:    make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow takes a token for key.
func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.state[key] = b
	}
	refill := int(now.Sub(b.last).Minutes() * float64(l.rate))
	if refill > 0 {
		b.tokens = min(b.tokens+refill, l.capacity)
		b.last = now
	}
	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// RedisWindow is a fixed one-minute window counter shared by every API replica.
type RedisWindow struct {
	client    *redis.Client
	perMinute int
	prefix    string
	now       func() time.Time
}

// NewRedisWindow creates a Redis-backed limiter.
func NewRedisWindow(client *redis.Client, perMinute int) *RedisWindow {
	return &RedisWindow{client: client, perMinute: perMinute, prefix: "ratelimit", now: time.Now}
}

// Allow increments key's counter for the current minute.
func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().Unix() / 60
	k := l.prefix + ":" + key + ":" + strconv.FormatInt(window, 10)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.perMinute), nil
}
