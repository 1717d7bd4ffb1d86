package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// TransferRateLimit caps transfer submissions per authenticated user per
// minute using Redis if available. It fails open: without Redis, or on cache
// errors, requests pass through.
func TransferRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		userID, _ := c.Locals("user_id").(string)
		if userID == "" {
			userID = c.IP()
		}
		key := "rl:transfer:" + userID
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err == nil && cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if err != nil {
			return c.Next()
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many transfers, try again later")
		}
		return c.Next()
	}
}
