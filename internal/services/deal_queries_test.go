package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueries(f *fixture) *DealQueries {
	return NewDealQueries(f.deals, f.profiles, f.suppliers, f.audit, f.cfg)
}

func TestListDealsVisibility(t *testing.T) {
	f := newFixture(t)
	q := newQueries(f)
	ctx := context.Background()

	// a second deal nobody in the fixture is party to
	other := uuid.New()
	f.deals.deals[other] = &models.Deal{ID: other, BuyerID: uuid.New(), SupplierID: uuid.New(), Status: models.DealStatusFunded}

	tests := []struct {
		name     string
		viewer   uuid.UUID
		category string
		want     int
	}{
		{"admin sees all", f.admin, "", 2},
		{"buyer sees own", f.buyer, "", 1},
		{"supplier sees own company", f.supplierOwner, "", 1},
		{"investor sees opportunities", f.investor, models.DealCategoryAwaitingFunding, 1},
		{"investor funded nothing yet", f.investor, "", 0},
		{"admin by category", f.admin, models.DealCategoryFunded, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.ListDeals(ctx, tt.viewer, tt.category, 0, 0)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	_, err := q.ListDeals(ctx, f.admin, "bogus", 0, 0)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = q.ListDeals(ctx, uuid.New(), "", 0, 0)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestGetDealVisibility(t *testing.T) {
	f := newFixture(t)
	q := newQueries(f)
	ctx := context.Background()

	v, err := q.GetDeal(ctx, f.buyer, f.deal)
	require.NoError(t, err)
	assert.Equal(t, models.DealCategoryAwaitingFunding, v.Category)
	assert.Len(t, v.Milestones, 2)

	_, err = q.GetDeal(ctx, f.supplierOwner, f.deal)
	assert.NoError(t, err)

	// open deals are visible to investors, funded ones only to their investor
	_, err = q.GetDeal(ctx, f.investor, f.deal)
	assert.NoError(t, err)

	stranger := uuid.New()
	f.profiles.profiles[stranger] = &models.Profile{ID: stranger, Role: "investor"}
	f.setDealStatus(models.DealStatusFunded)
	_, err = q.GetDeal(ctx, stranger, f.deal)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = q.GetDeal(ctx, f.admin, uuid.New())
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestCatalogProducts(t *testing.T) {
	f := newFixture(t)
	f.suppliers.catalog = []models.CatalogProduct{
		{Name: "Coffee", Category: "food"},
		{Name: "Steel", Category: "materials"},
	}
	s := NewCatalogService(f.suppliers)

	all, err := s.Products(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	food, err := s.Products(context.Background(), " food ")
	require.NoError(t, err)
	require.Len(t, food, 1)
	assert.Equal(t, "Coffee", food[0].Name)
}
