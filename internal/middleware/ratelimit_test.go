package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCheckRateLimit(t *testing.T) {
	tests := []struct {
		name          string
		env           string
		nilRedis      bool
		expectedAllow bool
		expectError   bool
	}{
		{name: "test environment bypass", env: "test", nilRedis: true, expectedAllow: true},
		{name: "development environment bypass", env: "development", nilRedis: true, expectedAllow: true},
		{name: "nil redis in production", env: "production", nilRedis: true, expectError: true},
		{name: "first request allowed", env: "production", expectedAllow: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_ENV", tt.env)

			var rdb *redis.Client
			if !tt.nilRedis {
				rdb = newTestRedis(t)
			}

			allowed, err := CheckRateLimit(context.Background(), rdb, "signup", "ip:1.2.3.4", 1, time.Minute)
			if tt.expectError {
				assert.Error(t, err)
				assert.False(t, allowed)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedAllow, allowed)
		})
	}
}

func TestCheckRateLimit_ExceedsLimit(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	rdb := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := CheckRateLimit(ctx, rdb, "login", "ip:5.6.7.8", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := CheckRateLimit(ctx, rdb, "login", "ip:5.6.7.8", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	ttl, err := rdb.TTL(ctx, "rl:login:ip:5.6.7.8").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRateLimit_Middleware(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	rdb := newTestRedis(t)

	app := fiber.New()
	app.Post("/signup", RateLimit(rdb, 1, time.Minute, "signup"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/signup", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/signup", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimitWithPolicy_FailClosed(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	app := fiber.New()
	app.Post("/login", RateLimitWithPolicy(nil, 1, time.Minute, FailClosed, "login"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/open", RateLimit(nil, 1, time.Minute, "open"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/login", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/open", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
