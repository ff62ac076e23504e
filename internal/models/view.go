package models

// Display categories shared by buyer, investor and supplier dashboards.
const (
	DealCategoryAwaitingFunding = "awaiting_funding"
	DealCategoryFunded          = "funded"
	DealCategoryInProgress      = "in_progress"
	DealCategoryCompleted       = "completed"

	MilestoneCategoryPending   = "pending"
	MilestoneCategoryInReview  = "in_review"
	MilestoneCategoryCompleted = "completed"
	MilestoneCategoryDisputed  = "disputed"
)

var dealCategories = map[string]string{
	DealStatusSeekingFunding: DealCategoryAwaitingFunding,
	DealStatusFunded:         DealCategoryFunded,
	DealStatusInProgress:     DealCategoryInProgress,
	DealStatusCompleted:      DealCategoryCompleted,
	DealStatusCancelled:      DealCategoryCompleted,
}

var milestoneCategories = map[string]string{
	MilestoneStatusPending:    MilestoneCategoryPending,
	MilestoneStatusInProgress: MilestoneCategoryInReview,
	MilestoneStatusCompleted:  MilestoneCategoryCompleted,
	MilestoneStatusDisputed:   MilestoneCategoryDisputed,
}

// DealCategory maps a stored deal status to its display category.
// Unknown statuses fall back to awaiting_funding.
func DealCategory(status string) string {
	if c, ok := dealCategories[status]; ok {
		return c
	}
	return DealCategoryAwaitingFunding
}

// DealStatusesForCategory is the reverse lookup, used to filter stored rows
// by a display category.
func DealStatusesForCategory(category string) []string {
	var out []string
	for _, s := range []string{DealStatusSeekingFunding, DealStatusFunded, DealStatusInProgress, DealStatusCompleted, DealStatusCancelled} {
		if dealCategories[s] == category {
			out = append(out, s)
		}
	}
	return out
}

// MilestoneCategory maps a stored milestone status to its display category.
func MilestoneCategory(status string) string {
	if c, ok := milestoneCategories[status]; ok {
		return c
	}
	return MilestoneCategoryPending
}

type MilestoneView struct {
	Milestone
	Category string `json:"category"`
}

type DealView struct {
	Deal
	Category     string          `json:"category"`
	SupplierName *string         `json:"supplier_name,omitempty"`
	Milestones   []MilestoneView `json:"milestones"`
}

// ToView maps a deal row and its milestone rows into the dashboard shape.
func ToView(d DealWithMilestones) DealView {
	v := DealView{
		Deal:         d.Deal,
		Category:     DealCategory(d.Status),
		SupplierName: d.SupplierName,
		Milestones:   make([]MilestoneView, 0, len(d.Milestones)),
	}
	for _, m := range d.Milestones {
		v.Milestones = append(v.Milestones, MilestoneView{Milestone: m, Category: MilestoneCategory(m.Status)})
	}
	return v
}
