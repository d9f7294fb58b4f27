package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// OriginGuard rejects cross-origin requests whose Origin is not listed.
// Requests without an Origin header always pass and an empty list accepts
// every origin.
func OriginGuard(allowed []string) fiber.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(o)] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" || len(set) == 0 {
			return c.Next()
		}
		if _, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Not allowed by CORS",
		})
	}
}
