package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis holds the client shared by the summary counters, the queue and the rate limiter.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client with short timeouts and pings it within ctx.
// Like NewDB it returns a usable client even when the ping fails; go-redis
// reconnects on its own once the server is back.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	r := &Redis{Client: client}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return r, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return r, nil
}

// Healthy reports whether redis answers a ping.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
