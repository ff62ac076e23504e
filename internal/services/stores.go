package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
)

// The interfaces below are satisfied by the repositories, escrow.Client and
// tasks.Enqueuer; tests substitute in-memory fakes.

type DealStore interface {
	Create(ctx context.Context, d *models.Deal, ms []models.Milestone) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	GetWithMilestones(ctx context.Context, id uuid.UUID) (*models.DealWithMilestones, error)
	List(ctx context.Context, f repositories.DealFilter) ([]models.DealWithMilestones, error)
	ListOpenWithEscrow(ctx context.Context, limit int) ([]models.DealWithMilestones, error)
	MarkFunded(ctx context.Context, id, investorID uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

type MilestoneStore interface {
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Milestone, error)
	GetByIndex(ctx context.Context, dealID uuid.UUID, index int) (*models.Milestone, error)
	SubmitProof(ctx context.Context, id uuid.UUID, notes, url *string) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

type SupplierStore interface {
	GetCompany(ctx context.Context, id uuid.UUID) (*models.SupplierCompany, error)
	ListCatalog(ctx context.Context, category string) ([]models.CatalogProduct, error)
}

type Auditor interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// Gateway is the escrow service as the coordinator uses it.
type Gateway interface {
	DeployEscrow(ctx context.Context, req escrow.DeployRequest) (string, error)
	FundEscrow(ctx context.Context, req escrow.FundRequest) (string, error)
	ApproveMilestone(ctx context.Context, req escrow.ApproveMilestoneRequest) (string, error)
	ReleaseMilestoneFunds(ctx context.Context, req escrow.ReleaseMilestoneRequest) (string, error)
	ChangeMilestoneStatus(ctx context.Context, req escrow.ChangeMilestoneStatusRequest) (string, error)
	SendTransaction(ctx context.Context, signedXDR string) (*escrow.SendResult, error)
	GetEscrowsByContractIDs(ctx context.Context, contractIDs []string) (escrow.Mirrors, error)
}

// ReconcileEnqueuer schedules an asynchronous repair of one milestone.
type ReconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, dealID uuid.UUID, contractID string, index int) error
}
