package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deal statuses
const (
	DealStatusSeekingFunding = "seeking_funding"
	DealStatusFunded         = "funded"
	DealStatusInProgress     = "in_progress"
	DealStatusCompleted      = "completed"
	DealStatusCancelled      = "cancelled"
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusSeekingFunding: {DealStatusFunded, DealStatusCancelled},
	DealStatusFunded:         {DealStatusInProgress, DealStatusCompleted, DealStatusCancelled},
	DealStatusInProgress:     {DealStatusCompleted, DealStatusCancelled},
	DealStatusCompleted:      {},
	DealStatusCancelled:      {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalDealStatus(status string) bool {
	return status == DealStatusCompleted || status == DealStatusCancelled
}

type Deal struct {
	ID             uuid.UUID       `json:"id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	SupplierID     uuid.UUID       `json:"supplier_id"` // supplier_companies.id
	InvestorID     *uuid.UUID      `json:"investor_id,omitempty"`
	ProductName    string          `json:"product_name"`
	Description    *string         `json:"description,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	TermDays       int             `json:"term_days"`
	InterestRate   decimal.Decimal `json:"interest_rate"` // percent
	Status         string          `json:"status"`
	EscrowContract *string         `json:"escrow_contract_address,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	FundedAt       *time.Time      `json:"funded_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasEscrow reports whether the escrow contract has been deployed for the deal.
func (d *Deal) HasEscrow() bool {
	return d.EscrowContract != nil && *d.EscrowContract != ""
}

// DealWithMilestones embeds Deal and adds its milestones in index order.
type DealWithMilestones struct {
	Deal
	SupplierName *string     `json:"supplier_name,omitempty"`
	Milestones   []Milestone `json:"milestones"`
}
