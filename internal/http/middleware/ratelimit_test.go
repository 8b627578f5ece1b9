package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/ratelimit"
)

func invokeWithUser(mw echo.MiddlewareFunc, userID int64) (*httptest.ResponseRecorder, bool) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID > 0 {
		c.Set("user_id", userID)
	}

	called := false
	_ = mw(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})(c)
	return rec, called
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.New(rdb, zap.NewNop(), "user-api", 2, time.Minute)
	mw := RateLimitMiddleware(limiter)

	rec, called := invokeWithUser(mw, 1)
	assert.True(t, called)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	_, called = invokeWithUser(mw, 1)
	assert.True(t, called)

	rec, called = invokeWithUser(mw, 1)
	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// other users keep their own window
	_, called = invokeWithUser(mw, 2)
	assert.True(t, called)
}

func TestRateLimitSkipsUnauthenticated(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.New(rdb, zap.NewNop(), "user-api", 1, time.Minute)
	mw := RateLimitMiddleware(limiter)

	// no user_id in context: middleware passes through untouched
	for i := 0; i < 3; i++ {
		_, called := invokeWithUser(mw, 0)
		assert.True(t, called)
	}
}
