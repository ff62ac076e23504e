package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/rbac"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
)

type AuditTrail interface {
	DealTrail(ctx context.Context, dealID uuid.UUID, limit int) ([]models.AuditLog, error)
}

// DealQueries serves the dashboard reads. Visibility depends on the
// viewer's role: buyers see their deals, suppliers the deals placed with
// their company, investors what they funded plus open opportunities, admins
// everything.
type DealQueries struct {
	deals     DealStore
	profiles  ProfileStore
	suppliers SupplierStore
	trail     AuditTrail
	cfg       *config.Config
}

func NewDealQueries(deals DealStore, profiles ProfileStore, suppliers SupplierStore, trail AuditTrail, cfg *config.Config) *DealQueries {
	return &DealQueries{deals: deals, profiles: profiles, suppliers: suppliers, trail: trail, cfg: cfg}
}

const opReadDeals = "read_deals"

func (q *DealQueries) viewerRole(ctx context.Context, userID uuid.UUID) (string, error) {
	if q.cfg.IsAdmin(userID) {
		return rbac.RoleAdmin, nil
	}
	p, err := q.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", actionErr(KindForbidden, opReadDeals, errors.New("no profile"))
		}
		return "", lookupErr(opReadDeals, "profile", err)
	}
	return p.Role, nil
}

// ListDeals returns the viewer's deals, optionally narrowed to one display
// category (awaiting_funding, funded, in_progress, completed).
func (q *DealQueries) ListDeals(ctx context.Context, viewerID uuid.UUID, category string, limit, offset int) ([]models.DealView, error) {
	role, err := q.viewerRole(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	f := repositories.DealFilter{Limit: limit, Offset: offset}
	if category != "" {
		f.Statuses = models.DealStatusesForCategory(category)
		if len(f.Statuses) == 0 {
			return nil, actionErr(KindValidation, opReadDeals, fmt.Errorf("unknown category %q", category))
		}
	}

	switch role {
	case rbac.RoleAdmin:
	case rbac.RolePyme:
		f.BuyerID = &viewerID
	case rbac.RoleSupplier:
		f.SupplierOwnerID = &viewerID
	case rbac.RoleInvestor:
		// open opportunities are visible to every investor
		if category != models.DealCategoryAwaitingFunding {
			f.InvestorID = &viewerID
		}
	default:
		return nil, actionErr(KindForbidden, opReadDeals, fmt.Errorf("role %q", role))
	}

	rows, err := q.deals.List(ctx, f)
	if err != nil {
		return nil, actionErr(KindPersistence, opReadDeals, err)
	}
	out := make([]models.DealView, 0, len(rows))
	for _, d := range rows {
		out = append(out, models.ToView(d))
	}
	return out, nil
}

// GetDeal returns one deal if the viewer may see it.
func (q *DealQueries) GetDeal(ctx context.Context, viewerID, dealID uuid.UUID) (*models.DealView, error) {
	role, err := q.viewerRole(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	d, err := q.deals.GetWithMilestones(ctx, dealID)
	if err != nil {
		return nil, lookupErr(opReadDeals, "deal", err)
	}
	if !q.canView(ctx, role, viewerID, &d.Deal) {
		// indistinguishable from a missing deal
		return nil, actionErr(KindNotFound, opReadDeals, errors.New("deal not found"))
	}
	v := models.ToView(*d)
	return &v, nil
}

func (q *DealQueries) canView(ctx context.Context, role string, viewerID uuid.UUID, d *models.Deal) bool {
	switch role {
	case rbac.RoleAdmin:
		return true
	case rbac.RolePyme:
		return d.BuyerID == viewerID
	case rbac.RoleInvestor:
		return d.Status == models.DealStatusSeekingFunding || (d.InvestorID != nil && *d.InvestorID == viewerID)
	case rbac.RoleSupplier:
		c, err := q.suppliers.GetCompany(ctx, d.SupplierID)
		return err == nil && c.OwnerID == viewerID
	}
	return false
}

// AuditTrail returns the admin-visible history of a deal.
func (q *DealQueries) AuditTrail(ctx context.Context, dealID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if _, err := q.deals.GetByID(ctx, dealID); err != nil {
		return nil, lookupErr(opReadDeals, "deal", err)
	}
	logs, err := q.trail.DealTrail(ctx, dealID, limit)
	if err != nil {
		return nil, actionErr(KindPersistence, opReadDeals, err)
	}
	return logs, nil
}
