package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/crestfund/crestfund/internal/auth"
)

// JWTAuth validates a bearer token and stores the subject user id in request
// locals. Token issuance and revocation live in the platform's identity
// service; this layer only needs a verified user identity.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := auth.ParseAndVerifyHS256(tokenStr, []byte(secret))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			return fiber.NewError(http.StatusUnauthorized, "token missing subject")
		}

		c.Locals("user_id", sub)
		return c.Next()
	}
}
