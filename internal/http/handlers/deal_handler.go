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

type DealActions interface {
	CreateDeal(ctx context.Context, sess wallet.Session, in services.CreateDealInput) (*models.DealWithMilestones, error)
	FundDeal(ctx context.Context, sess wallet.Session, dealID uuid.UUID) (*models.Deal, error)
	SubmitMilestoneProof(ctx context.Context, sess wallet.Session, dealID uuid.UUID, index int, proof services.ProofInput) (*models.Milestone, error)
}

type DealReader interface {
	ListDeals(ctx context.Context, viewerID uuid.UUID, category string, limit, offset int) ([]models.DealView, error)
	GetDeal(ctx context.Context, viewerID, dealID uuid.UUID) (*models.DealView, error)
}

type SessionSource interface {
	For(ctx context.Context, userID uuid.UUID) (wallet.Session, error)
}

type DealHandler struct {
	actions  DealActions
	reader   DealReader
	sessions SessionSource
	log      *zap.Logger
}

func NewDealHandler(actions DealActions, reader DealReader, sessions SessionSource, log *zap.Logger) *DealHandler {
	return &DealHandler{actions: actions, reader: reader, sessions: sessions, log: log}
}

func (h *DealHandler) session(c *fiber.Ctx) (wallet.Session, error) {
	return h.sessions.For(c.UserContext(), middleware.GetUserID(c))
}

// CreateDeal deploys the escrow and stores the deal.
// POST /deals
func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := bind(c, &req); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	in := services.CreateDealInput{
		SupplierID:   uuid.MustParse(req.SupplierID),
		ProductName:  req.ProductName,
		Description:  req.Description,
		Amount:       req.Amount,
		TermDays:     req.TermDays,
		InterestRate: req.InterestRate,
		Milestones:   make([]models.MilestoneDraft, 0, len(req.Milestones)),
	}
	for _, m := range req.Milestones {
		in.Milestones = append(in.Milestones, models.MilestoneDraft{Title: m.Title, Percentage: m.Percentage})
	}

	sess, err := h.session(c)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	deal, err := h.actions.CreateDeal(c.UserContext(), sess, in)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: models.ToView(*deal)})
}

// ListDeals returns the caller's dashboard, optionally narrowed by ?category=.
// GET /deals
func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	limit, offset := pageParams(c)
	deals, err := h.reader.ListDeals(c.UserContext(), middleware.GetUserID(c), c.Query("category"), limit, offset)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListResponse{Items: deals, Limit: limit, Offset: offset}})
}

// GET /deals/:id
func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	deal, err := h.reader.GetDeal(c.UserContext(), middleware.GetUserID(c), id)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// POST /deals/:id/fund
func (h *DealHandler) FundDeal(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	sess, err := h.session(c)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	deal, err := h.actions.FundDeal(c.UserContext(), sess, id)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// SubmitProof records delivery evidence for one milestone.
// POST /deals/:id/milestones/:index/proof
func (h *DealHandler) SubmitProof(c *fiber.Ctx) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	idx, err := indexParam(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.ProofRequest
	if err := bind(c, &req); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	sess, err := h.session(c)
	if err != nil {
		return respondErr(c, h.log, err)
	}
	ms, err := h.actions.SubmitMilestoneProof(c.UserContext(), sess, id, idx, services.ProofInput{Notes: req.Notes, URL: req.URL})
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: models.MilestoneView{Milestone: *ms, Category: models.MilestoneCategory(ms.Status)}})
}
