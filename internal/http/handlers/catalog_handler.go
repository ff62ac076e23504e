package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/dto"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"go.uber.org/zap"
)

type CatalogReader interface {
	Products(ctx context.Context, category string) ([]models.CatalogProduct, error)
}

type CatalogHandler struct {
	catalog CatalogReader
	log     *zap.Logger
}

func NewCatalogHandler(catalog CatalogReader, log *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, log: log}
}

type MetaCategory struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var dealCategories = []MetaCategory{
	{ID: models.DealCategoryAwaitingFunding, Label: "Awaiting funding"},
	{ID: models.DealCategoryFunded, Label: "Funded"},
	{ID: models.DealCategoryInProgress, Label: "In progress"},
	{ID: models.DealCategoryCompleted, Label: "Completed"},
}

// GET /api/v1/catalog/products?category=
func (h *CatalogHandler) Products(c *fiber.Ctx) error {
	products, err := h.catalog.Products(c.UserContext(), c.Query("category"))
	if err != nil {
		return respondErr(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: products})
}

// GET /api/v1/meta/deal-categories
func (h *CatalogHandler) DealCategories(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: dealCategories})
}
