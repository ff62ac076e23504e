package events

import "context"

// Streams
const (
	StreamDeal = "events:deal"
)

// Event types
const (
	EventDealStatusChanged      = "deal_status_changed"
	EventMilestoneStatusChanged = "milestone_status_changed"
	EventMilestoneApproved      = "milestone_approved"
	EventLedgerDivergence       = "ledger_divergence"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event. Used by binaries that have nobody to notify.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
