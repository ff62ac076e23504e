package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Milestone statuses (off-chain ledger)
const (
	MilestoneStatusPending    = "pending"
	MilestoneStatusInProgress = "in_progress"
	MilestoneStatusCompleted  = "completed"
	MilestoneStatusDisputed   = "disputed"
)

var hundred = decimal.NewFromInt(100)

type Milestone struct {
	ID          uuid.UUID       `json:"id"`
	DealID      uuid.UUID       `json:"deal_id"`
	Index       int             `json:"index"` // creation sequence within the deal, 0-based
	Title       string          `json:"title"`
	Percentage  decimal.Decimal `json:"percentage"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	ProofNotes  *string         `json:"proof_notes,omitempty"`
	ProofURL    *string         `json:"proof_url,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MilestoneDraft is a milestone as entered by the buyer before the deal exists.
type MilestoneDraft struct {
	Title      string
	Percentage decimal.Decimal
}

// MilestoneAmount returns percentage × deal amount, rounded to the 7 decimal
// places Stellar assets carry.
func MilestoneAmount(dealAmount, percentage decimal.Decimal) decimal.Decimal {
	return dealAmount.Mul(percentage).Div(hundred).Round(7)
}

// ValidatePercentages checks that every tranche is positive and that the
// tranches of one deal sum to exactly 100.
func ValidatePercentages(drafts []MilestoneDraft) error {
	if len(drafts) == 0 {
		return fmt.Errorf("a deal needs at least one milestone")
	}
	total := decimal.Zero
	for i, d := range drafts {
		if d.Title == "" {
			return fmt.Errorf("milestone %d has no title", i)
		}
		if !d.Percentage.IsPositive() {
			return fmt.Errorf("milestone %d percentage must be positive", i)
		}
		total = total.Add(d.Percentage)
	}
	if !total.Equal(hundred) {
		return fmt.Errorf("milestone percentages must sum to 100, got %s", total.String())
	}
	return nil
}

// BuildMilestones turns validated drafts into milestone rows for a deal,
// assigning indices in the given order. The last milestone takes whatever
// rounding left over so the amounts always add up to the deal amount.
func BuildMilestones(dealID uuid.UUID, dealAmount decimal.Decimal, drafts []MilestoneDraft) []Milestone {
	out := make([]Milestone, 0, len(drafts))
	assigned := decimal.Zero
	for i, d := range drafts {
		amount := MilestoneAmount(dealAmount, d.Percentage)
		if i == len(drafts)-1 {
			amount = dealAmount.Sub(assigned)
		}
		assigned = assigned.Add(amount)
		out = append(out, Milestone{
			DealID:     dealID,
			Index:      i,
			Title:      d.Title,
			Percentage: d.Percentage,
			Amount:     amount,
			Status:     MilestoneStatusPending,
		})
	}
	return out
}

// AllMilestonesCompleted reports whether every off-chain milestone row is completed.
func AllMilestonesCompleted(ms []Milestone) bool {
	if len(ms) == 0 {
		return false
	}
	for _, m := range ms {
		if m.Status != MilestoneStatusCompleted {
			return false
		}
	}
	return true
}
