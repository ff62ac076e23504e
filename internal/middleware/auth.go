package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/auth"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/dto"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/rbac"
	"go.uber.org/zap"
)

const (
	CtxUserID = "user_id"
	CtxEmail  = "email"
)

// AuthMiddleware accepts Supabase access tokens from the Authorization
// header.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.SupabaseJWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}
		userID, _ := claims.UserID()

		c.Locals(CtxUserID, userID)
		c.Locals(CtxEmail, claims.Email)

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: msg, RequestID: GetRequestID(c)})
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

type ProfileLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// AdminMiddleware lets through users listed in ADMIN_USER_IDS or whose
// profile carries the admin role.
func AdminMiddleware(cfg *config.Config, profiles ProfileLookup, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if cfg.IsAdmin(userID) {
			return c.Next()
		}
		p, err := profiles.GetByID(c.UserContext(), userID)
		if err != nil {
			log.Debug("admin check: profile lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
		if err != nil || p.Role != rbac.RoleAdmin {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "admin access required", RequestID: GetRequestID(c)})
		}
		return c.Next()
	}
}
