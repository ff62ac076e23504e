package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActorTypeUser       = "user"
	ActorTypeAdmin      = "admin"
	ActorTypeReconciler = "reconciler"

	EntityDeal      = "deal"
	EntityMilestone = "milestone"
)

// AuditLog records every off-chain ledger write together with the on-chain
// transaction that justified it, when there was one.
type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"`
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
