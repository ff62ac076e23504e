package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/events"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/rbac"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errDB = errors.New("connection reset by peer")

type fakeMilestones struct {
	byDeal map[uuid.UUID][]models.Milestone

	failSubmitProof   error
	failMarkCompleted error
	writes            int
}

func (f *fakeMilestones) find(id uuid.UUID) *models.Milestone {
	for dealID := range f.byDeal {
		for i := range f.byDeal[dealID] {
			if f.byDeal[dealID][i].ID == id {
				return &f.byDeal[dealID][i]
			}
		}
	}
	return nil
}

func (f *fakeMilestones) ListByDeal(_ context.Context, dealID uuid.UUID) ([]models.Milestone, error) {
	return append([]models.Milestone(nil), f.byDeal[dealID]...), nil
}

func (f *fakeMilestones) GetByIndex(_ context.Context, dealID uuid.UUID, index int) (*models.Milestone, error) {
	for _, m := range f.byDeal[dealID] {
		if m.Index == index {
			cp := m
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeMilestones) SubmitProof(_ context.Context, id uuid.UUID, notes, url *string) error {
	if f.failSubmitProof != nil {
		return f.failSubmitProof
	}
	m := f.find(id)
	if m == nil || m.Status == models.MilestoneStatusCompleted {
		return repositories.ErrStale
	}
	f.writes++
	m.Status = models.MilestoneStatusInProgress
	m.ProofNotes, m.ProofURL = notes, url
	return nil
}

func (f *fakeMilestones) MarkCompleted(_ context.Context, id uuid.UUID) error {
	if f.failMarkCompleted != nil {
		return f.failMarkCompleted
	}
	m := f.find(id)
	if m == nil {
		return repositories.ErrNotFound
	}
	f.writes++
	m.Status = models.MilestoneStatusCompleted
	return nil
}

func (f *fakeMilestones) SetStatus(_ context.Context, id uuid.UUID, from, to string) error {
	m := f.find(id)
	if m == nil || m.Status != from {
		return repositories.ErrStale
	}
	f.writes++
	m.Status = to
	return nil
}

type fakeDeals struct {
	deals      map[uuid.UUID]*models.Deal
	milestones *fakeMilestones
	suppliers  *fakeSuppliers

	failCreate     error
	failMarkFunded error
	writes         int
	lastFilter     repositories.DealFilter
}

func (f *fakeDeals) Create(_ context.Context, d *models.Deal, ms []models.Milestone) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	f.writes++
	cp := *d
	f.deals[d.ID] = &cp
	for i := range ms {
		ms[i].ID = uuid.New()
	}
	f.milestones.byDeal[d.ID] = append([]models.Milestone(nil), ms...)
	return nil
}

func (f *fakeDeals) GetByID(_ context.Context, id uuid.UUID) (*models.Deal, error) {
	d, ok := f.deals[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeals) GetWithMilestones(ctx context.Context, id uuid.UUID) (*models.DealWithMilestones, error) {
	d, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ms, _ := f.milestones.ListByDeal(ctx, id)
	return &models.DealWithMilestones{Deal: *d, Milestones: ms}, nil
}

func (f *fakeDeals) List(ctx context.Context, filter repositories.DealFilter) ([]models.DealWithMilestones, error) {
	f.lastFilter = filter
	var out []models.DealWithMilestones
	for _, d := range f.deals {
		if filter.BuyerID != nil && d.BuyerID != *filter.BuyerID {
			continue
		}
		if filter.InvestorID != nil && (d.InvestorID == nil || *d.InvestorID != *filter.InvestorID) {
			continue
		}
		if filter.SupplierOwnerID != nil {
			c := f.suppliers.companies[d.SupplierID]
			if c == nil || c.OwnerID != *filter.SupplierOwnerID {
				continue
			}
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, d.Status) {
			continue
		}
		if filter.WithEscrow && !d.HasEscrow() {
			continue
		}
		dw, _ := f.GetWithMilestones(ctx, d.ID)
		out = append(out, *dw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (f *fakeDeals) ListOpenWithEscrow(ctx context.Context, limit int) ([]models.DealWithMilestones, error) {
	return f.List(ctx, repositories.DealFilter{
		Statuses:   []string{models.DealStatusFunded, models.DealStatusInProgress},
		WithEscrow: true,
		Limit:      limit,
	})
}

func (f *fakeDeals) MarkFunded(_ context.Context, id, investorID uuid.UUID) error {
	if f.failMarkFunded != nil {
		return f.failMarkFunded
	}
	d := f.deals[id]
	if d == nil || d.Status != models.DealStatusSeekingFunding {
		return repositories.ErrStale
	}
	f.writes++
	d.Status = models.DealStatusFunded
	d.InvestorID = &investorID
	return nil
}

func (f *fakeDeals) UpdateStatus(_ context.Context, id uuid.UUID, from, to string) error {
	d := f.deals[id]
	if d == nil || d.Status != from {
		return repositories.ErrStale
	}
	f.writes++
	d.Status = to
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeProfiles struct {
	profiles map[uuid.UUID]*models.Profile
}

func (f *fakeProfiles) GetByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return p, nil
}

type fakeSuppliers struct {
	companies map[uuid.UUID]*models.SupplierCompany
	catalog   []models.CatalogProduct
}

func (f *fakeSuppliers) GetCompany(_ context.Context, id uuid.UUID) (*models.SupplierCompany, error) {
	c, ok := f.companies[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return c, nil
}

func (f *fakeSuppliers) ListCatalog(_ context.Context, category string) ([]models.CatalogProduct, error) {
	out := []models.CatalogProduct{}
	for _, p := range f.catalog {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeAudit struct {
	entries []models.AuditLog
}

func (f *fakeAudit) Log(_ context.Context, e models.AuditLog) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) DealTrail(_ context.Context, _ uuid.UUID, _ int) ([]models.AuditLog, error) {
	return f.entries, nil
}

func (f *fakeAudit) actions() []string {
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, _ string, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type enqueued struct {
	DealID   uuid.UUID
	Contract string
	Index    int
}

type fakeEnqueuer struct {
	tasks []enqueued
}

func (f *fakeEnqueuer) EnqueueReconcile(_ context.Context, dealID uuid.UUID, contract string, index int) error {
	f.tasks = append(f.tasks, enqueued{dealID, contract, index})
	return nil
}

// fakeGateway records every call by name. Build calls answer "xdr:<name>".
type fakeGateway struct {
	calls      []string
	buildErr   map[string]error
	sendErr    error
	contractID string
	mirrors    escrow.Mirrors
	mirrorErr  error

	lastChange  escrow.ChangeMilestoneStatusRequest
	lastDeploy  escrow.DeployRequest
	lastRelease escrow.ReleaseMilestoneRequest
}

func (g *fakeGateway) build(name string) (string, error) {
	g.calls = append(g.calls, name)
	if err := g.buildErr[name]; err != nil {
		return "", err
	}
	return "xdr:" + name, nil
}

func (g *fakeGateway) DeployEscrow(_ context.Context, req escrow.DeployRequest) (string, error) {
	g.lastDeploy = req
	return g.build("deploy")
}

func (g *fakeGateway) FundEscrow(_ context.Context, _ escrow.FundRequest) (string, error) {
	return g.build("fund")
}

func (g *fakeGateway) ApproveMilestone(_ context.Context, _ escrow.ApproveMilestoneRequest) (string, error) {
	return g.build("approve")
}

func (g *fakeGateway) ReleaseMilestoneFunds(_ context.Context, req escrow.ReleaseMilestoneRequest) (string, error) {
	g.lastRelease = req
	return g.build("release")
}

func (g *fakeGateway) ChangeMilestoneStatus(_ context.Context, req escrow.ChangeMilestoneStatusRequest) (string, error) {
	g.lastChange = req
	return g.build("change_status")
}

func (g *fakeGateway) SendTransaction(_ context.Context, signed string) (*escrow.SendResult, error) {
	g.calls = append(g.calls, "send")
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	return &escrow.SendResult{Status: "SUCCESS", ContractID: g.contractID}, nil
}

func (g *fakeGateway) GetEscrowsByContractIDs(_ context.Context, ids []string) (escrow.Mirrors, error) {
	g.calls = append(g.calls, "mirror")
	if g.mirrorErr != nil {
		return nil, g.mirrorErr
	}
	out := escrow.Mirrors{}
	for _, id := range ids {
		if m, ok := g.mirrors[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func boolPtr(b bool) *bool { return &b }

func mirrorOf(contract string, statuses ...string) *escrow.Mirror {
	m := &escrow.Mirror{ContractID: contract}
	for _, s := range statuses {
		m.Milestones = append(m.Milestones, escrow.MirrorMilestone{Status: s})
	}
	return m
}

// fixture is a marketplace with one deal seeking funding that has an
// escrow contract and two milestones (60/40).
type fixture struct {
	cfg        *config.Config
	deals      *fakeDeals
	milestones *fakeMilestones
	profiles   *fakeProfiles
	suppliers  *fakeSuppliers
	gateway    *fakeGateway
	audit      *fakeAudit
	publisher  *fakePublisher
	enqueuer   *fakeEnqueuer

	coordinator *Coordinator
	reconciler  *Reconciler

	buyer, investor, supplierOwner, admin uuid.UUID
	company                               uuid.UUID
	deal                                  uuid.UUID
	contract                              string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		cfg: &config.Config{
			EscrowPlatformAddress:   "GPLATFORM",
			EscrowTrustlineAddress:  "GUSDC",
			EscrowTrustlineDecimals: 10000000,
			EscrowPlatformFee:       "1.5",
			ReconcileEnabled:        true,
		},
		milestones:    &fakeMilestones{byDeal: map[uuid.UUID][]models.Milestone{}},
		profiles:      &fakeProfiles{profiles: map[uuid.UUID]*models.Profile{}},
		suppliers:     &fakeSuppliers{companies: map[uuid.UUID]*models.SupplierCompany{}},
		gateway:       &fakeGateway{contractID: "CNEWESCROW", mirrors: escrow.Mirrors{}},
		audit:         &fakeAudit{},
		publisher:     &fakePublisher{},
		enqueuer:      &fakeEnqueuer{},
		buyer:         uuid.New(),
		investor:      uuid.New(),
		supplierOwner: uuid.New(),
		admin:         uuid.New(),
		company:       uuid.New(),
		deal:          uuid.New(),
		contract:      "CESCROW1",
	}
	f.deals = &fakeDeals{deals: map[uuid.UUID]*models.Deal{}, milestones: f.milestones, suppliers: f.suppliers}

	for id, role := range map[uuid.UUID]string{
		f.buyer:         rbac.RolePyme,
		f.investor:      rbac.RoleInvestor,
		f.supplierOwner: rbac.RoleSupplier,
		f.admin:         rbac.RoleAdmin,
	} {
		f.profiles.profiles[id] = &models.Profile{ID: id, Role: role}
	}

	supplierWallet := "GSUPPLIER"
	f.suppliers.companies[f.company] = &models.SupplierCompany{
		ID: f.company, OwnerID: f.supplierOwner, Name: "Agro SA", WalletAddress: &supplierWallet,
	}

	contract := f.contract
	amount := decimal.NewFromInt(10000)
	f.deals.deals[f.deal] = &models.Deal{
		ID:             f.deal,
		BuyerID:        f.buyer,
		SupplierID:     f.company,
		ProductName:    "Coffee beans",
		Amount:         amount,
		TermDays:       90,
		Status:         models.DealStatusSeekingFunding,
		EscrowContract: &contract,
	}
	ms := models.BuildMilestones(f.deal, amount, []models.MilestoneDraft{
		{Title: "Shipment", Percentage: decimal.NewFromInt(60)},
		{Title: "Delivery", Percentage: decimal.NewFromInt(40)},
	})
	for i := range ms {
		ms[i].ID = uuid.New()
	}
	f.milestones.byDeal[f.deal] = ms

	f.coordinator = NewCoordinator(f.deals, f.milestones, f.profiles, f.suppliers, f.gateway, f.audit, f.publisher, f.enqueuer, f.cfg, zap.NewNop())
	f.reconciler = NewReconciler(f.deals, f.milestones, f.gateway, f.audit, f.publisher, zap.NewNop())
	return f
}

func (f *fixture) setDealStatus(status string) {
	f.deals.deals[f.deal].Status = status
	if status != models.DealStatusSeekingFunding {
		inv := f.investor
		f.deals.deals[f.deal].InvestorID = &inv
	}
}

func (f *fixture) milestone(index int) models.Milestone {
	return f.milestones.byDeal[f.deal][index]
}

func signingSession(userID uuid.UUID, address string) wallet.Session {
	return wallet.NewSession(userID, address, wallet.SignerFunc(func(_ context.Context, xdr, _ string) (string, error) {
		return "signed:" + xdr, nil
	}))
}

func rejectingSession(userID uuid.UUID) wallet.Session {
	return wallet.NewSession(userID, "GADDR", wallet.SignerFunc(func(_ context.Context, _, _ string) (string, error) {
		return "", wallet.ErrRejected
	}))
}
