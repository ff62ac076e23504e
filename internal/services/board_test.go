package services

import (
	"context"
	"testing"

	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBoardMergesMirror(t *testing.T) {
	f := newFixture(t)
	f.setDealStatus(models.DealStatusInProgress)
	f.gateway.mirrors[f.contract] = mirrorOf(f.contract, "released", "proof_uploaded")

	board, err := NewBoardService(f.deals, f.gateway, zap.NewNop()).Board(context.Background())
	require.NoError(t, err)
	require.Len(t, board.Deals, 1)
	assert.Empty(t, board.MirrorError)

	bd := board.Deals[0]
	assert.True(t, bd.MirrorLoaded)
	assert.Equal(t, models.DealCategoryInProgress, bd.Category)
	require.Len(t, bd.Milestones, 2)

	m0, m1 := bd.Milestones[0], bd.Milestones[1]
	assert.True(t, m0.Released)
	assert.False(t, m0.CanRelease)
	assert.True(t, m0.Divergent, "released on-chain, pending off-chain")

	assert.False(t, m1.Released)
	assert.True(t, m1.ProofUploaded)
	assert.True(t, m1.CanRelease)
	assert.Equal(t, "proof_uploaded", m1.OnChainStatus)
	assert.Equal(t, models.MilestoneCategoryPending, m1.Category)
}

func TestBoardShowsDispute(t *testing.T) {
	f := newFixture(t)
	f.setDealStatus(models.DealStatusInProgress)
	f.milestones.byDeal[f.deal][0].Status = models.MilestoneStatusDisputed
	mirror := mirrorOf(f.contract, "proof_uploaded", "pending")
	mirror.Milestones[0].Flags = &escrow.MilestoneFlags{Disputed: true}
	f.gateway.mirrors[f.contract] = mirror

	board, err := NewBoardService(f.deals, f.gateway, zap.NewNop()).Board(context.Background())
	require.NoError(t, err)

	m0 := board.Deals[0].Milestones[0]
	assert.True(t, m0.Disputed)
	assert.False(t, m0.Divergent)
	assert.Equal(t, models.MilestoneCategoryDisputed, m0.Category)
	assert.False(t, board.Deals[0].Milestones[1].Disputed)
}

func TestBoardWithoutMirror(t *testing.T) {
	f := newFixture(t)
	f.setDealStatus(models.DealStatusFunded)
	f.gateway.mirrorErr = escrow.ErrUnavailable

	board, err := NewBoardService(f.deals, f.gateway, zap.NewNop()).Board(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, board.MirrorError)

	bd := board.Deals[0]
	assert.False(t, bd.MirrorLoaded)
	assert.True(t, bd.Milestones[0].CanRelease, "index 0 is always releasable")
	assert.False(t, bd.Milestones[1].CanRelease)
	assert.False(t, bd.Milestones[1].Divergent, "unknown is not divergent")
}

func TestBoardSkipsDealsWithoutOpenEscrow(t *testing.T) {
	f := newFixture(t)
	// seeking funding: not on the board yet

	board, err := NewBoardService(f.deals, f.gateway, zap.NewNop()).Board(context.Background())
	require.NoError(t, err)
	assert.Empty(t, board.Deals)
	assert.Empty(t, f.gateway.calls)
}

func TestDiverges(t *testing.T) {
	tests := []struct {
		offChain string
		onChain  escrow.MirrorMilestone
		want     bool
	}{
		{models.MilestoneStatusPending, escrow.MirrorMilestone{Status: "pending"}, false},
		{models.MilestoneStatusPending, escrow.MirrorMilestone{Status: "proof_uploaded"}, true},
		{models.MilestoneStatusInProgress, escrow.MirrorMilestone{Status: "proof_uploaded"}, false},
		{models.MilestoneStatusInProgress, escrow.MirrorMilestone{Status: "Released"}, true},
		{models.MilestoneStatusCompleted, escrow.MirrorMilestone{Status: "completed"}, false},
		{models.MilestoneStatusCompleted, escrow.MirrorMilestone{Status: "approved"}, true},
		{models.MilestoneStatusPending, escrow.MirrorMilestone{Status: "pending", Approved: boolPtr(true)}, false},
		{models.MilestoneStatusInProgress, escrow.MirrorMilestone{Status: "proof_uploaded", Flags: &escrow.MilestoneFlags{Disputed: true}}, true},
		{models.MilestoneStatusDisputed, escrow.MirrorMilestone{Status: "proof_uploaded", Flags: &escrow.MilestoneFlags{Disputed: true}}, false},
		{models.MilestoneStatusDisputed, escrow.MirrorMilestone{Status: "proof_uploaded"}, true},
	}
	for _, tt := range tests {
		mm := tt.onChain
		got := Diverges(models.Milestone{Status: tt.offChain}, &mm)
		if got != tt.want {
			t.Errorf("Diverges(%s, %s) = %v, want %v", tt.offChain, tt.onChain.Status, got, tt.want)
		}
	}
}
