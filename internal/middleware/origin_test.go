package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginGuard(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		origin   string
		expected int
	}{
		{"no origin header", []string{"http://localhost:5173"}, "", fiber.StatusOK},
		{"listed origin", []string{"http://localhost:5173"}, "http://localhost:5173", fiber.StatusOK},
		{"listed origin with trailing slash", []string{"http://localhost:5173"}, "http://localhost:5173/", fiber.StatusOK},
		{"unlisted origin", []string{"http://localhost:5173"}, "https://evil.example", fiber.StatusForbidden},
		{"empty list accepts all", nil, "https://anything.example", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(OriginGuard(tt.allowed))
			app.Get("/api/posts", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expected, resp.StatusCode)
			if tt.expected == fiber.StatusForbidden {
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "Not allowed by CORS", body["error"])
			}
		})
	}
}

func TestContextMiddleware_PropagatesLocals(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("requestid", "req-1")
		c.Locals("userID", "user-1")
		return c.Next()
	})
	app.Use(ContextMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		return c.JSON(fiber.Map{
			"rid": ctx.Value(RequestIDKey),
			"uid": ctx.Value(UserIDKey),
		})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "req-1", body["rid"])
	assert.Equal(t, "user-1", body["uid"])
}
