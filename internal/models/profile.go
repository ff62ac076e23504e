package models

import (
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	ID            uuid.UUID `json:"id"` // same id as the auth user
	Role          string    `json:"role"`
	FullName      *string   `json:"full_name,omitempty"`
	CompanyName   *string   `json:"company_name,omitempty"`
	Email         *string   `json:"email,omitempty"`
	WalletAddress *string   `json:"wallet_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
