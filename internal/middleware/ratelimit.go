package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/pkg/response"
)

type RateLimiter struct {
	redis  redis.UniversalClient
	logger *zap.Logger
}

func NewRateLimiter(redisClient redis.UniversalClient, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, logger: logger}
}

// Limit creates a rate limiting middleware keyed by client IP
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, c.IP())
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Fail open: a Redis outage must not block submissions
			rl.logger.Warn("Rate limiter unavailable", zap.Error(err))
			return c.Next()
		}

		// Set expiration on first request
		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// SubmissionLimit limits job submissions per client per minute
func (rl *RateLimiter) SubmissionLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("submit", maxPerMin, time.Minute)
}
