package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"go.uber.org/zap"
)

type BoardMilestone struct {
	models.MilestoneView
	OnChainStatus string `json:"onchain_status,omitempty"`
	Released      bool   `json:"released"`
	Approved      bool   `json:"approved"`
	ProofUploaded bool   `json:"proof_uploaded"`
	Disputed      bool   `json:"disputed"`
	CanRelease    bool   `json:"can_release"`
	Divergent     bool   `json:"divergent"`
}

type BoardDeal struct {
	ID           uuid.UUID        `json:"id"`
	ProductName  string           `json:"product_name"`
	Status       string           `json:"status"`
	Category     string           `json:"category"`
	SupplierName *string          `json:"supplier_name,omitempty"`
	ContractID   string           `json:"escrow_contract_address"`
	MirrorLoaded bool             `json:"mirror_loaded"`
	Milestones   []BoardMilestone `json:"milestones"`
}

type Board struct {
	Deals       []BoardDeal `json:"deals"`
	MirrorError string      `json:"mirror_error,omitempty"`
}

// BoardService builds the admin milestone board: off-chain rows of every
// open deal merged with one live fetch of their escrow mirrors.
type BoardService struct {
	deals   DealStore
	gateway Gateway
	log     *zap.Logger
}

func NewBoardService(deals DealStore, gateway Gateway, log *zap.Logger) *BoardService {
	return &BoardService{deals: deals, gateway: gateway, log: log}
}

const boardLimit = 200

func (s *BoardService) Board(ctx context.Context) (*Board, error) {
	deals, err := s.deals.ListOpenWithEscrow(ctx, boardLimit)
	if err != nil {
		return nil, actionErr(KindPersistence, "board", err)
	}

	ids := make([]string, 0, len(deals))
	for _, d := range deals {
		ids = append(ids, *d.EscrowContract)
	}

	board := &Board{Deals: make([]BoardDeal, 0, len(deals))}
	if len(deals) == 0 {
		return board, nil
	}
	mirrors, err := s.gateway.GetEscrowsByContractIDs(ctx, escrow.ContractIDs(ids))
	if err != nil {
		// the board still renders; nothing past index 0 is releasable
		s.log.Warn("escrow mirror fetch failed", zap.Error(err))
		board.MirrorError = err.Error()
		mirrors = escrow.Mirrors{}
	}

	for _, d := range deals {
		board.Deals = append(board.Deals, MergeDeal(d, mirrors))
	}
	return board, nil
}

// MergeDeal combines a deal's off-chain rows with its mirror, if loaded.
func MergeDeal(d models.DealWithMilestones, mirrors escrow.Mirrors) BoardDeal {
	contract := ""
	if d.EscrowContract != nil {
		contract = *d.EscrowContract
	}
	mirror, loaded := mirrors[contract]

	bd := BoardDeal{
		ID:           d.ID,
		ProductName:  d.ProductName,
		Status:       d.Status,
		Category:     models.DealCategory(d.Status),
		SupplierName: d.SupplierName,
		ContractID:   contract,
		MirrorLoaded: loaded,
		Milestones:   make([]BoardMilestone, 0, len(d.Milestones)),
	}
	for _, m := range d.Milestones {
		mm := mirror.Milestone(m.Index)
		bm := BoardMilestone{
			MilestoneView: models.MilestoneView{Milestone: m, Category: models.MilestoneCategory(m.Status)},
			Released:      mm.IsReleased(),
			Approved:      mm.IsApproved(),
			ProofUploaded: mm.HasProof(),
			Disputed:      mm.IsDisputed(),
		}
		if mm != nil {
			bm.OnChainStatus = mm.Status
		}
		bm.CanRelease = !bm.Released && mirrors.CanRelease(contract, m.Index)
		bm.Divergent = loaded && mm != nil && Diverges(m, mm)
		bd.Milestones = append(bd.Milestones, bm)
	}
	return bd
}

// Diverges reports whether the off-chain milestone row disagrees with the
// on-chain mirror in a way reconciliation would repair.
func Diverges(m models.Milestone, mm *escrow.MirrorMilestone) bool {
	released := mm.IsReleased()
	switch {
	case released && m.Status != models.MilestoneStatusCompleted:
		return true
	case !released && m.Status == models.MilestoneStatusCompleted:
		return true
	case !released && mm.IsDisputed() != (m.Status == models.MilestoneStatusDisputed):
		return true
	case mm.HasProof() && m.Status == models.MilestoneStatusPending:
		return true
	}
	return false
}
