package dto

import "github.com/shopspring/decimal"

type MilestoneRequest struct {
	Title      string          `json:"title" validate:"required,max=200"`
	Percentage decimal.Decimal `json:"percentage"`
}

type CreateDealRequest struct {
	SupplierID   string             `json:"supplier_id" validate:"required,uuid"`
	ProductName  string             `json:"product_name" validate:"required,max=200"`
	Description  *string            `json:"description,omitempty" validate:"omitempty,max=2000"`
	Amount       decimal.Decimal    `json:"amount"`
	TermDays     int                `json:"term_days" validate:"gte=1,lte=3650"`
	InterestRate decimal.Decimal    `json:"interest_rate"`
	Milestones   []MilestoneRequest `json:"milestones" validate:"required,min=1,max=20,dive"`
}

type ProofRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=4000"`
	URL   *string `json:"url,omitempty" validate:"omitempty,url"`
}

type CancelDealRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type ConnectWalletRequest struct {
	Address string `json:"address" validate:"required,len=56,startswith=G,alphanum"`
}
