package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/dto"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/middleware"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/rbac"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"go.uber.org/zap"
)

type UserHandler struct {
	profiles ProfileStore
	cfg      *config.Config
	log      *zap.Logger
}

func NewUserHandler(profiles ProfileStore, cfg *config.Config, log *zap.Logger) *UserHandler {
	return &UserHandler{profiles: profiles, cfg: cfg, log: log}
}

type meResponse struct {
	*models.Profile
	IsAdmin bool `json:"is_admin"`
}

// GET /me
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	p, err := h.profiles.GetByID(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "profile not found")
		}
		h.log.Error("profile lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: meResponse{
		Profile: p,
		IsAdmin: h.cfg.IsAdmin(userID) || p.Role == rbac.RoleAdmin,
	}})
}
