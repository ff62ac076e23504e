package services

import (
	"context"
	"strings"

	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
)

// CatalogService serves the public supplier-product catalog. It reads with
// the service role and needs no viewer.
type CatalogService struct {
	suppliers SupplierStore
}

func NewCatalogService(suppliers SupplierStore) *CatalogService {
	return &CatalogService{suppliers: suppliers}
}

func (s *CatalogService) Products(ctx context.Context, category string) ([]models.CatalogProduct, error) {
	products, err := s.suppliers.ListCatalog(ctx, strings.TrimSpace(category))
	if err != nil {
		return nil, actionErr(KindPersistence, "catalog", err)
	}
	return products, nil
}
