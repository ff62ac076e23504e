package middleware

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/auth"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "test-secret"

type profileMap map[uuid.UUID]*models.Profile

func (m profileMap) GetByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	if p, ok := m[id]; ok {
		return p, nil
	}
	return nil, repositories.ErrNotFound
}

func newAuthApp(cfg *config.Config, profiles ProfileLookup) *fiber.App {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Use(AuthMiddleware(cfg, zap.NewNop()))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c).String())
	})
	app.Get("/admin", AdminMiddleware(cfg, profiles, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func bearer(t *testing.T, userID uuid.UUID, ttl time.Duration) string {
	t.Helper()
	tok, err := auth.GenerateJWT(secret, userID, "u@example.com", ttl)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestAuthMiddleware(t *testing.T) {
	userID := uuid.New()
	app := newAuthApp(&config.Config{SupabaseJWTSecret: secret}, profileMap{})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"not bearer", "Token abc", fiber.StatusUnauthorized},
		{"expired", bearer(t, userID, -time.Minute), fiber.StatusUnauthorized},
		{"valid", bearer(t, userID, time.Hour), fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	listed, byRole, investor := uuid.New(), uuid.New(), uuid.New()
	cfg := &config.Config{SupabaseJWTSecret: secret, AdminUserIDs: []uuid.UUID{listed}}
	app := newAuthApp(cfg, profileMap{
		byRole:   {ID: byRole, Role: "admin"},
		investor: {ID: investor, Role: "investor"},
	})

	tests := []struct {
		name string
		user uuid.UUID
		want int
	}{
		{"listed in config", listed, fiber.StatusOK},
		{"admin profile", byRole, fiber.StatusOK},
		{"investor", investor, fiber.StatusForbidden},
		{"no profile", uuid.New(), fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin", nil)
			req.Header.Set("Authorization", bearer(t, tt.user, time.Hour))
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	app := fiber.New()
	app.Use(RateLimitMiddleware(rdb, 2, time.Minute))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	mr.FastForward(time.Minute + time.Second)
	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	app := fiber.New()
	app.Use(RateLimitMiddleware(rdb, 1, time.Minute))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetRequestID(c)) })

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"absent", "", false},
		{"kept", "trace-abc-123", true},
		{"too long", strings.Repeat("x", 65), false},
		{"whitespace", "bad id", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			got := resp.Header.Get("X-Request-ID")
			if tt.keep {
				assert.Equal(t, tt.header, got)
			} else {
				_, perr := uuid.Parse(got)
				assert.NoError(t, perr)
			}
		})
	}
}
