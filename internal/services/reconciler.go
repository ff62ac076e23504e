package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/events"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/metrics"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"go.uber.org/zap"
)

// Reconcile results
const (
	ResultRepaired = "repaired"
	ResultInSync   = "in_sync"
	ResultSkipped  = "skipped"
)

var (
	// ErrMirrorBehind means the mirror does not yet show what the off-chain
	// row already records; the indexer is expected to catch up.
	ErrMirrorBehind  = errors.New("escrow mirror behind off-chain state")
	ErrMirrorMissing = errors.New("escrow mirror not available")

	// ErrReleasedOutOfOrder is an on-chain anomaly: a milestone shows as
	// released while an earlier one does not. The row is left alone.
	ErrReleasedOutOfOrder = errors.New("milestone released out of order on-chain")
)

// Reconciler repairs off-chain milestone rows from the on-chain mirror. Rows
// only move forward (pending → in_progress → completed) except that an open
// dispute parks a row in disputed until the contract resolves it. Running it
// any number of times is safe.
type Reconciler struct {
	deals      DealStore
	milestones MilestoneStore
	gateway    Gateway
	audit      Auditor
	publisher  events.Publisher
	log        *zap.Logger
}

func NewReconciler(deals DealStore, milestones MilestoneStore, gateway Gateway, audit Auditor, publisher events.Publisher, log *zap.Logger) *Reconciler {
	return &Reconciler{
		deals:      deals,
		milestones: milestones,
		gateway:    gateway,
		audit:      audit,
		publisher:  publisher,
		log:        log,
	}
}

type MilestoneResult struct {
	Index  int    `json:"index"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

type DealReport struct {
	DealID     uuid.UUID         `json:"deal_id"`
	Milestones []MilestoneResult `json:"milestones"`
}

type SweepReport struct {
	Deals    int `json:"deals"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// ReconcileMilestone re-reads the mirror for one milestone and repairs its
// row. Returned errors are worth retrying; permanent conditions (no deal, no
// escrow, no milestone) come back as ResultSkipped.
func (r *Reconciler) ReconcileMilestone(ctx context.Context, dealID uuid.UUID, index int) (string, error) {
	d, err := r.deals.GetByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return r.count(ResultSkipped, nil)
		}
		return r.count("", err)
	}
	if !d.HasEscrow() {
		return r.count(ResultSkipped, nil)
	}
	m, err := r.milestones.GetByIndex(ctx, dealID, index)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return r.count(ResultSkipped, nil)
		}
		return r.count("", err)
	}

	mirror, err := r.fetch(ctx, *d.EscrowContract)
	if err != nil {
		return r.count("", err)
	}
	return r.count(r.reconcileOne(ctx, d, *m, mirror))
}

// ReconcileDeal repairs every milestone of a deal against one mirror fetch.
func (r *Reconciler) ReconcileDeal(ctx context.Context, dealID uuid.UUID) (*DealReport, error) {
	d, err := r.deals.GetWithMilestones(ctx, dealID)
	if err != nil {
		return nil, lookupErr("reconcile", "deal", err)
	}
	if !d.HasEscrow() {
		return nil, actionErr(KindInvalidState, "reconcile", errNoEscrow)
	}
	mirror, err := r.fetch(ctx, *d.EscrowContract)
	if err != nil {
		return nil, actionErr(KindTransaction, "reconcile", err)
	}
	return r.reconcileDeal(ctx, d, mirror), nil
}

// Sweep reconciles every open deal with an escrow, fetching all mirrors in a
// single call.
func (r *Reconciler) Sweep(ctx context.Context, limit int) (*SweepReport, error) {
	deals, err := r.deals.ListOpenWithEscrow(ctx, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(deals))
	for _, d := range deals {
		ids = append(ids, *d.EscrowContract)
	}
	mirrors, err := r.gateway.GetEscrowsByContractIDs(ctx, escrow.ContractIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("fetch mirrors: %w", err)
	}

	report := &SweepReport{Deals: len(deals)}
	for i := range deals {
		mirror := mirrors[*deals[i].EscrowContract]
		if mirror == nil {
			report.Failed++
			continue
		}
		for _, res := range r.reconcileDeal(ctx, &deals[i], mirror).Milestones {
			switch {
			case res.Error != "":
				report.Failed++
			case res.Result == ResultRepaired:
				report.Repaired++
			}
		}
	}
	r.log.Info("reconcile sweep done",
		zap.Int("deals", report.Deals),
		zap.Int("repaired", report.Repaired),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (r *Reconciler) reconcileDeal(ctx context.Context, d *models.DealWithMilestones, mirror *escrow.Mirror) *DealReport {
	report := &DealReport{DealID: d.ID, Milestones: make([]MilestoneResult, 0, len(d.Milestones))}
	for _, m := range d.Milestones {
		res, err := r.count(r.reconcileOne(ctx, &d.Deal, m, mirror))
		mr := MilestoneResult{Index: m.Index, Result: res}
		if err != nil {
			mr.Error = err.Error()
		}
		report.Milestones = append(report.Milestones, mr)
	}
	return report
}

func (r *Reconciler) fetch(ctx context.Context, contract string) (*escrow.Mirror, error) {
	mirrors, err := r.gateway.GetEscrowsByContractIDs(ctx, []string{contract})
	if err != nil {
		return nil, err
	}
	mirror := mirrors[contract]
	if mirror == nil {
		return nil, fmt.Errorf("%w: %s", ErrMirrorMissing, contract)
	}
	return mirror, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, d *models.Deal, m models.Milestone, mirror *escrow.Mirror) (string, error) {
	mm := mirror.Milestone(m.Index)
	if mm == nil {
		return "", fmt.Errorf("%w: milestone %d missing", ErrMirrorBehind, m.Index)
	}

	var newStatus string
	switch {
	case mm.IsReleased() && m.Status != models.MilestoneStatusCompleted:
		if !escrow.CanReleaseMilestoneInOrder(mirror, m.Index) {
			r.log.Error("milestone released on-chain before earlier milestones",
				zap.String("deal_id", d.ID.String()),
				zap.Int("index", m.Index),
			)
			return "", fmt.Errorf("%w: milestone %d", ErrReleasedOutOfOrder, m.Index)
		}
		if err := r.milestones.MarkCompleted(ctx, m.ID); err != nil {
			return "", err
		}
		newStatus = models.MilestoneStatusCompleted

	case !mm.IsReleased() && m.Status == models.MilestoneStatusCompleted:
		return "", fmt.Errorf("%w: milestone %d completed off-chain only", ErrMirrorBehind, m.Index)

	case !mm.IsReleased() && mm.IsDisputed() && m.Status != models.MilestoneStatusDisputed:
		newStatus = models.MilestoneStatusDisputed
		if err := r.milestones.SetStatus(ctx, m.ID, m.Status, newStatus); err != nil {
			return r.staleInSync(err)
		}

	case !mm.IsReleased() && !mm.IsDisputed() && m.Status == models.MilestoneStatusDisputed:
		newStatus = models.MilestoneStatusPending
		if mm.HasProof() {
			newStatus = models.MilestoneStatusInProgress
		}
		if err := r.milestones.SetStatus(ctx, m.ID, m.Status, newStatus); err != nil {
			return r.staleInSync(err)
		}

	case mm.HasProof() && m.Status == models.MilestoneStatusPending:
		url := m.ProofURL
		if url == nil && mm.Evidence != "" {
			ev := mm.Evidence
			url = &ev
		}
		if err := r.milestones.SubmitProof(ctx, m.ID, m.ProofNotes, url); err != nil {
			return r.staleInSync(err)
		}
		newStatus = models.MilestoneStatusInProgress

	default:
		return ResultInSync, nil
	}
	r.repaired(ctx, d, m, newStatus)

	advanced := newStatus == models.MilestoneStatusInProgress || newStatus == models.MilestoneStatusCompleted
	if advanced && d.Status == models.DealStatusFunded {
		err := r.deals.UpdateStatus(ctx, d.ID, models.DealStatusFunded, models.DealStatusInProgress)
		switch {
		case err == nil:
			d.Status = models.DealStatusInProgress
			r.publish(ctx, events.EventDealStatusChanged, map[string]any{
				"deal_id":    d.ID.String(),
				"old_status": models.DealStatusFunded,
				"new_status": models.DealStatusInProgress,
			})
		case !errors.Is(err, repositories.ErrStale):
			r.log.Warn("deal in_progress repair failed", zap.String("deal_id", d.ID.String()), zap.Error(err))
		}
	}
	return ResultRepaired, nil
}

// staleInSync treats a lost conditional update as someone else having
// already written the row.
func (r *Reconciler) staleInSync(err error) (string, error) {
	if errors.Is(err, repositories.ErrStale) {
		return ResultInSync, nil
	}
	return "", err
}

func (r *Reconciler) repaired(ctx context.Context, d *models.Deal, m models.Milestone, newStatus string) {
	r.log.Info("milestone reconciled",
		zap.String("deal_id", d.ID.String()),
		zap.Int("index", m.Index),
		zap.String("old_status", m.Status),
		zap.String("new_status", newStatus),
	)
	if err := r.audit.Log(ctx, models.AuditLog{
		ActorType:  models.ActorTypeReconciler,
		Action:     "milestone_reconciled",
		EntityType: models.EntityMilestone,
		EntityID:   &m.ID,
		Meta:       map[string]any{"deal_id": d.ID.String(), "index": m.Index, "old_status": m.Status, "new_status": newStatus},
	}); err != nil {
		r.log.Warn("audit log failed", zap.Error(err))
	}
	r.publish(ctx, events.EventMilestoneStatusChanged, map[string]any{
		"deal_id":    d.ID.String(),
		"index":      m.Index,
		"old_status": m.Status,
		"new_status": newStatus,
	})
}

func (r *Reconciler) publish(ctx context.Context, eventType string, payload map[string]any) {
	_ = r.publisher.Publish(ctx, events.StreamDeal, events.Event{Type: eventType, Payload: payload})
}

func (r *Reconciler) count(result string, err error) (string, error) {
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.ReconcileTotal.WithLabelValues(result).Inc()
	return result, nil
}
