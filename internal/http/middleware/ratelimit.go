package middleware

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v4"

	"github.com/zapvia/campaign-gateway/internal/ratelimit"
)

// RateLimitMiddleware applies the per-user API limiter to authenticated
// requests. The limiter fails open, so a Redis outage never blocks the
// control surface.
func RateLimitMiddleware(limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := UserIDFromCtx(c)
			if !ok || userID <= 0 {
				return next(c)
			}

			d := limiter.Check(c.Request().Context(), strconv.FormatInt(userID, 10))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int(d.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
