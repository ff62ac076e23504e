package escrow

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// On-chain milestone statuses written through ChangeMilestoneStatus.
const (
	MilestoneStatusProofUploaded = "proof_uploaded"
	MilestoneStatusReleased      = "released"
	MilestoneStatusCompleted     = "completed"
)

type MilestoneFlags struct {
	Approved bool `json:"approved"`
	Released bool `json:"released"`
	Disputed bool `json:"disputed"`
	Resolved bool `json:"resolved"`
}

// MirrorMilestone is one milestone as reported by the escrow indexer. Older
// indexer payloads carry approved/released at the top level, newer ones
// under flags; both are honoured.
type MirrorMilestone struct {
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Evidence    string          `json:"evidence,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Receiver    string          `json:"receiver,omitempty"`
	Approved    *bool           `json:"approved,omitempty"`
	Released    *bool           `json:"released,omitempty"`
	Flags       *MilestoneFlags `json:"flags,omitempty"`
}

// IsReleased reports whether the milestone's funds left the escrow: either
// the released flag is set or the status reads released/completed.
func (m *MirrorMilestone) IsReleased() bool {
	if m == nil {
		return false
	}
	if m.Released != nil && *m.Released {
		return true
	}
	if m.Flags != nil && m.Flags.Released {
		return true
	}
	s := strings.ToLower(strings.TrimSpace(m.Status))
	return s == MilestoneStatusReleased || s == MilestoneStatusCompleted
}

func (m *MirrorMilestone) IsApproved() bool {
	if m == nil {
		return false
	}
	if m.Approved != nil && *m.Approved {
		return true
	}
	return m.Flags != nil && m.Flags.Approved
}

// IsDisputed reports an open dispute; a resolved one no longer counts.
func (m *MirrorMilestone) IsDisputed() bool {
	return m != nil && m.Flags != nil && m.Flags.Disputed && !m.Flags.Resolved
}

// HasProof reports whether the supplier's proof reached the contract. The
// approved flag alone does not count: an approver may sign before any
// evidence exists.
func (m *MirrorMilestone) HasProof() bool {
	if m == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(m.Status), MilestoneStatusProofUploaded) || strings.TrimSpace(m.Evidence) != ""
}

// Mirror is the read-only projection of one escrow contract. It is fetched
// live and never persisted.
type Mirror struct {
	ContractID   string            `json:"contractId"`
	EngagementID string            `json:"engagementId"`
	Title        string            `json:"title"`
	Balance      decimal.Decimal   `json:"balance"`
	Milestones   []MirrorMilestone `json:"milestones"`
}

// Milestone returns the milestone at index, or nil when the mirror does not
// carry it.
func (m *Mirror) Milestone(index int) *MirrorMilestone {
	if m == nil || index < 0 || index >= len(m.Milestones) {
		return nil
	}
	return &m.Milestones[index]
}

// Mirrors indexes fetched escrows by contract id.
type Mirrors map[string]*Mirror

func NewMirrors(list []Mirror) Mirrors {
	out := make(Mirrors, len(list))
	for i := range list {
		if list[i].ContractID == "" {
			continue
		}
		out[list[i].ContractID] = &list[i]
	}
	return out
}

// ContractIDs returns the sorted, de-duplicated, non-empty contract ids.
func ContractIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
