package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/dto"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/middleware"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/services"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/wallet"
	"go.uber.org/zap"
)

type MilestoneActions interface {
	ApproveMilestone(ctx context.Context, sess wallet.Session, dealID uuid.UUID, index int) error
	ReleaseMilestone(ctx context.Context, sess wallet.Session, dealID uuid.UUID, index int) (*models.Milestone, error)
	CancelDeal(ctx context.Context, actorID, dealID uuid.UUID, reason string) (*models.Deal, error)
	CompleteDeal(ctx context.Context, actorID, dealID uuid.UUID) (*models.Deal, error)
}

type BoardReader interface {
	Board(ctx context.Context) (*services.Board, error)
}

type DealReconciler interface {
	ReconcileDeal(ctx context.Context, dealID uuid.UUID) (*services.DealReport, error)
}

type TrailReader interface {
	AuditTrail(ctx context.Context, dealID uuid.UUID, limit int) ([]models.AuditLog, error)
}

// AdminHandler serves the milestone board and the admin-only escrow actions.
type AdminHandler struct {
	actions    MilestoneActions
	board      BoardReader
	reconciler DealReconciler
	trail      TrailReader
	sessions   SessionSource
	log        *zap.Logger
}

func NewAdminHandler(actions MilestoneActions, board BoardReader, reconciler DealReconciler, trail TrailReader, sessions SessionSource, log *zap.Logger) *AdminHandler {
	return &AdminHandler{actions: actions, board: board, reconciler: reconciler, trail: trail, sessions: sessions, log: log}
}

// GET /admin/milestones
func (h *AdminHandler) Board(c *fiber.Ctx) error {
	b, err := h.board.Board(c.UserContext())
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: b})
}

func (h *AdminHandler) milestoneTarget(c *fiber.Ctx) (uuid.UUID, int, error) {
	id, err := uuidParam(c, "id")
	if err != nil {
		return uuid.Nil, 0, err
	}
	idx, err := indexParam(c)
	if err != nil {
		return uuid.Nil, 0, err
	}
	return id, idx, nil
}

// POST /admin/deals/:id/milestones/:index/approve
func (h *AdminHandler) ApproveMilestone(c *fiber.Ctx) error {
	id, idx, err := h.milestoneTarget(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	sess, err := h.sessions.For(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondErr(c, h.log, err)
	}
	if err := h.actions.ApproveMilestone(c.UserContext(), sess, id, idx); err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"deal_id": id, "index": idx, "approved": true}})
}

// POST /admin/deals/:id/milestones/:index/release
func (h *AdminHandler) ReleaseMilestone(c *fiber.Ctx) error {
	id, idx, err := h.milestoneTarget(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	sess, err := h.sessions.For(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondErr(c, h.log, err)
	}
	ms, err := h.actions.ReleaseMilestone(c.UserContext(), sess, id, idx)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: ms})
}

// POST /admin/deals/:id/cancel
func (h *AdminHandler) CancelDeal(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.CancelDealRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
	}
	deal, err := h.actions.CancelDeal(c.UserContext(), middleware.GetUserID(c), id, req.Reason)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// POST /admin/deals/:id/complete
func (h *AdminHandler) CompleteDeal(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	deal, err := h.actions.CompleteDeal(c.UserContext(), middleware.GetUserID(c), id)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// ReconcileDeal repairs the deal's milestone rows from the mirror right away.
// POST /admin/deals/:id/reconcile
func (h *AdminHandler) ReconcileDeal(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	report, err := h.reconciler.ReconcileDeal(c.UserContext(), id)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}

// GET /admin/deals/:id/audit
func (h *AdminHandler) AuditTrail(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	limit := c.QueryInt("limit", 100)
	logs, err := h.trail.AuditTrail(c.UserContext(), id, limit)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}
