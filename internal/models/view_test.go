package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestDealCategoryLookup(t *testing.T) {
	tests := []struct {
		status   string
		category string
	}{
		{DealStatusSeekingFunding, DealCategoryAwaitingFunding},
		{DealStatusFunded, DealCategoryFunded},
		{DealStatusInProgress, DealCategoryInProgress},
		{DealStatusCompleted, DealCategoryCompleted},
		{DealStatusCancelled, DealCategoryCompleted},
		{"garbage", DealCategoryAwaitingFunding},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := DealCategory(tt.status); got != tt.category {
				t.Errorf("DealCategory(%q) = %q, want %q", tt.status, got, tt.category)
			}
		})
	}
}

// Mapping a row to its view and looking the category back up must yield a
// status set that contains the original status.
func TestDealCategoryRoundTrip(t *testing.T) {
	for status := range ValidDealTransitions {
		category := DealCategory(status)
		found := false
		for _, s := range DealStatusesForCategory(category) {
			if s == status {
				found = true
			}
		}
		if !found {
			t.Errorf("status %q -> category %q does not map back", status, category)
		}
	}
}

func TestDealStatusesForCompletedCategory(t *testing.T) {
	got := DealStatusesForCategory(DealCategoryCompleted)
	if len(got) != 2 || got[0] != DealStatusCompleted || got[1] != DealStatusCancelled {
		t.Errorf("DealStatusesForCategory(completed) = %v", got)
	}
	if got := DealStatusesForCategory("unknown"); len(got) != 0 {
		t.Errorf("unknown category should map to nothing, got %v", got)
	}
}

func TestToViewPreservesMilestoneOrderAndCategories(t *testing.T) {
	d := DealWithMilestones{
		Deal: Deal{ID: uuid.New(), Status: DealStatusInProgress},
		Milestones: []Milestone{
			{Index: 0, Status: MilestoneStatusCompleted},
			{Index: 1, Status: MilestoneStatusInProgress},
			{Index: 2, Status: MilestoneStatusPending},
		},
	}

	v := ToView(d)
	if v.Category != DealCategoryInProgress {
		t.Fatalf("category = %q", v.Category)
	}
	want := []string{MilestoneCategoryCompleted, MilestoneCategoryInReview, MilestoneCategoryPending}
	for i, m := range v.Milestones {
		if m.Index != i || m.Category != want[i] {
			t.Errorf("milestone %d: index=%d category=%q, want %q", i, m.Index, m.Category, want[i])
		}
	}
}
