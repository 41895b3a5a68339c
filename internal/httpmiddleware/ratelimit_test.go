package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "ip")
		assert.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i)
	}

	ok, _ := l.Allow(ctx, "other")
	assert.True(t, ok, "keys are independent")

	now = now.Add(2 * time.Second)
	ok, _ = l.Allow(ctx, "ip")
	assert.True(t, ok)
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serve := func(l Limiter) int {
		r := gin.New()
		r.Use(RateLimit(l, zap.NewNop()))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve(NewTokenBucket(1, 1)))
	assert.Equal(t, http.StatusTooManyRequests, serve(NewTokenBucket(-1, 0)))
	assert.Equal(t, http.StatusOK, serve(errLimiter{}), "limiter failures fail open")
}
