package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/escrow"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/events"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/metrics"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/rbac"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Coordinator runs the deal lifecycle. Every escrow action follows the same
// pipeline: build the unsigned transaction, have the session's wallet sign
// it, broadcast it, and only then write the off-chain row. A failure at any
// step stops the pipeline; nothing is retried here.
type Coordinator struct {
	deals      DealStore
	milestones MilestoneStore
	profiles   ProfileStore
	suppliers  SupplierStore
	gateway    Gateway
	audit      Auditor
	publisher  events.Publisher
	reconcile  ReconcileEnqueuer
	cfg        *config.Config
	log        *zap.Logger
}

func NewCoordinator(
	deals DealStore,
	milestones MilestoneStore,
	profiles ProfileStore,
	suppliers SupplierStore,
	gateway Gateway,
	audit Auditor,
	publisher events.Publisher,
	reconcile ReconcileEnqueuer,
	cfg *config.Config,
	log *zap.Logger,
) *Coordinator {
	return &Coordinator{
		deals:      deals,
		milestones: milestones,
		profiles:   profiles,
		suppliers:  suppliers,
		gateway:    gateway,
		audit:      audit,
		publisher:  publisher,
		reconcile:  reconcile,
		cfg:        cfg,
		log:        log,
	}
}

// Action names, used for metrics, audit entries and error ops.
const (
	OpCreateDeal       = "create_deal"
	OpFundDeal         = "fund_deal"
	OpSubmitProof      = "submit_proof"
	OpApproveMilestone = "approve_milestone"
	OpReleaseMilestone = "release_milestone"
	OpCancelDeal       = "cancel_deal"
	OpCompleteDeal     = "complete_deal"
)

type CreateDealInput struct {
	SupplierID   uuid.UUID
	ProductName  string
	Description  *string
	Amount       decimal.Decimal
	TermDays     int
	InterestRate decimal.Decimal
	Milestones   []models.MilestoneDraft
}

type ProofInput struct {
	Notes *string
	URL   *string
}

// Evidence is the string stored on-chain alongside proof_uploaded.
func (p ProofInput) Evidence() string {
	if p.URL != nil && *p.URL != "" {
		return *p.URL
	}
	if p.Notes != nil {
		return *p.Notes
	}
	return ""
}

func observe(action string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		if outcome = KindOf(err); outcome == "" {
			outcome = "error"
		}
	}
	metrics.ObserveAction(action, outcome, start)
}

// role resolves the acting user's effective role. ADMIN_USER_IDS promotes a
// profile to admin regardless of its stored role.
func (s *Coordinator) role(ctx context.Context, op string, userID uuid.UUID) (*models.Profile, string, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, "", actionErr(KindForbidden, op, fmt.Errorf("no profile for user %s", userID))
		}
		return nil, "", lookupErr(op, "profile", err)
	}
	if s.cfg.IsAdmin(userID) {
		return p, rbac.RoleAdmin, nil
	}
	return p, p.Role, nil
}

func (s *Coordinator) require(ctx context.Context, op string, userID uuid.UUID, perm string) (*models.Profile, error) {
	p, role, err := s.role(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if !rbac.HasPermission(role, perm) {
		return nil, actionErr(KindForbidden, op, fmt.Errorf("role %q may not %s", role, perm))
	}
	return p, nil
}

// submit runs build → sign → send. Configuration is checked before anything
// is built, the wallet before the escrow service is contacted.
func (s *Coordinator) submit(ctx context.Context, op string, sess wallet.Session, build func(context.Context) (string, error)) (*escrow.SendResult, error) {
	if !s.cfg.EscrowConfigured() {
		return nil, actionErr(KindConfig, op, errNotConfigured)
	}
	if !sess.Connected() {
		return nil, actionErr(KindWallet, op, wallet.ErrNotConnected)
	}

	unsigned, err := build(ctx)
	if err != nil {
		return nil, txErr(op, stageBuild, err)
	}
	signed, err := sess.Sign(ctx, unsigned)
	if err != nil {
		return nil, txErr(op, stageSign, err)
	}
	res, err := s.gateway.SendTransaction(ctx, signed)
	if err != nil {
		return nil, txErr(op, stageSend, err)
	}
	return res, nil
}

// diverged reports an off-chain write that failed after the on-chain
// transaction succeeded.
func (s *Coordinator) diverged(ctx context.Context, op string, deal *models.Deal, index int, err error) error {
	metrics.LedgerDivergence.WithLabelValues(op).Inc()
	s.log.Error("ledger divergence: on-chain succeeded, off-chain write failed",
		zap.String("action", op),
		zap.String("deal_id", deal.ID.String()),
		zap.Int("milestone_index", index),
		zap.Error(err),
	)
	s.publish(ctx, events.EventLedgerDivergence, map[string]any{
		"deal_id":         deal.ID.String(),
		"action":          op,
		"milestone_index": index,
	})
	return actionErr(KindPersistence, op, err)
}

func (s *Coordinator) enqueueReconcile(ctx context.Context, deal *models.Deal, index int) {
	if s.reconcile == nil || !s.cfg.ReconcileEnabled || !deal.HasEscrow() {
		return
	}
	if err := s.reconcile.EnqueueReconcile(ctx, deal.ID, *deal.EscrowContract, index); err != nil {
		s.log.Warn("enqueue reconcile failed",
			zap.String("deal_id", deal.ID.String()),
			zap.Int("milestone_index", index),
			zap.Error(err),
		)
	}
}

func (s *Coordinator) record(ctx context.Context, entry models.AuditLog) {
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit log failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *Coordinator) publish(ctx context.Context, eventType string, payload map[string]any) {
	_ = s.publisher.Publish(ctx, events.StreamDeal, events.Event{Type: eventType, Payload: payload})
}

// transition validates and performs a deal status change with audit logging.
func (s *Coordinator) transition(ctx context.Context, deal *models.Deal, newStatus string, actorID *uuid.UUID, actorType string) error {
	if !models.IsValidTransition(deal.Status, newStatus) {
		return fmt.Errorf("invalid transition from %s to %s", deal.Status, newStatus)
	}

	oldStatus := deal.Status
	if err := s.deals.UpdateStatus(ctx, deal.ID, oldStatus, newStatus); err != nil {
		return err
	}
	deal.Status = newStatus

	s.record(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("deal_status_%s_to_%s", oldStatus, newStatus),
		EntityType:  models.EntityDeal,
		EntityID:    &deal.ID,
		Meta:        map[string]any{"old_status": oldStatus, "new_status": newStatus},
	})
	s.publish(ctx, events.EventDealStatusChanged, map[string]any{
		"deal_id":    deal.ID.String(),
		"old_status": oldStatus,
		"new_status": newStatus,
	})
	return nil
}

// CreateDeal deploys the multi-release escrow for a new deal and stores the
// deal with its milestones. Only a PyME may create deals.
func (s *Coordinator) CreateDeal(ctx context.Context, sess wallet.Session, in CreateDealInput) (deal *models.DealWithMilestones, err error) {
	defer func(start time.Time) { observe(OpCreateDeal, start, err) }(time.Now())

	if _, err := s.require(ctx, OpCreateDeal, sess.UserID, rbac.PermCreateDeal); err != nil {
		return nil, err
	}

	in.ProductName = strings.TrimSpace(in.ProductName)
	if in.ProductName == "" {
		return nil, actionErr(KindValidation, OpCreateDeal, errors.New("product name is required"))
	}
	if !in.Amount.IsPositive() {
		return nil, actionErr(KindValidation, OpCreateDeal, errors.New("amount must be positive"))
	}
	if in.TermDays < 0 {
		return nil, actionErr(KindValidation, OpCreateDeal, errors.New("term must not be negative"))
	}
	if err := models.ValidatePercentages(in.Milestones); err != nil {
		return nil, actionErr(KindValidation, OpCreateDeal, err)
	}

	supplier, err := s.suppliers.GetCompany(ctx, in.SupplierID)
	if err != nil {
		return nil, lookupErr(OpCreateDeal, "supplier", err)
	}
	if supplier.WalletAddress == nil || *supplier.WalletAddress == "" {
		return nil, actionErr(KindValidation, OpCreateDeal, fmt.Errorf("supplier %s has no wallet address", supplier.Name))
	}
	fee, err := decimal.NewFromString(s.cfg.EscrowPlatformFee)
	if err != nil {
		return nil, actionErr(KindConfig, OpCreateDeal, fmt.Errorf("platform fee %q: %w", s.cfg.EscrowPlatformFee, err))
	}

	d := &models.Deal{
		ID:           uuid.New(),
		BuyerID:      sess.UserID,
		SupplierID:   supplier.ID,
		ProductName:  in.ProductName,
		Description:  in.Description,
		Amount:       in.Amount,
		TermDays:     in.TermDays,
		InterestRate: in.InterestRate,
		Status:       models.DealStatusSeekingFunding,
	}
	ms := models.BuildMilestones(d.ID, d.Amount, in.Milestones)

	receiver := *supplier.WalletAddress
	platform := s.cfg.EscrowPlatformAddress
	req := escrow.DeployRequest{
		Signer:       sess.Address,
		EngagementID: d.ID.String(),
		Title:        d.ProductName,
		Description:  d.ProductName,
		Roles: escrow.Roles{
			Approver:        platform,
			ServiceProvider: receiver,
			PlatformAddress: platform,
			ReleaseSigner:   platform,
			DisputeResolver: platform,
			Receiver:        receiver,
		},
		PlatformFee: fee,
		Trustline: escrow.Trustline{
			Address:  s.cfg.EscrowTrustlineAddress,
			Decimals: s.cfg.EscrowTrustlineDecimals,
		},
	}
	if d.Description != nil && *d.Description != "" {
		req.Description = *d.Description
	}
	for _, m := range ms {
		req.Milestones = append(req.Milestones, escrow.DeployMilestone{Description: m.Title, Amount: m.Amount, Receiver: receiver})
	}

	res, err := s.submit(ctx, OpCreateDeal, sess, func(ctx context.Context) (string, error) {
		return s.gateway.DeployEscrow(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if res.ContractID == "" {
		return nil, actionErr(KindTransaction, OpCreateDeal, fmt.Errorf("%w: deploy returned no contract id", escrow.ErrNotSuccess))
	}
	contract := res.ContractID
	d.EscrowContract = &contract

	if err := s.deals.Create(ctx, d, ms); err != nil {
		// the escrow exists without a deal row; nothing to reconcile against
		s.log.Error("deal insert failed after escrow deploy", zap.String("contract_id", contract), zap.Error(err))
		return nil, s.diverged(ctx, OpCreateDeal, d, -1, err)
	}

	actor := sess.UserID
	s.record(ctx, models.AuditLog{
		ActorUserID: &actor,
		ActorType:   models.ActorTypeUser,
		Action:      "deal_created",
		EntityType:  models.EntityDeal,
		EntityID:    &d.ID,
		Meta:        map[string]any{"contract_id": contract, "amount": d.Amount.String(), "milestones": len(ms)},
	})
	s.publish(ctx, events.EventDealStatusChanged, map[string]any{
		"deal_id":    d.ID.String(),
		"old_status": "",
		"new_status": d.Status,
	})

	s.log.Info("deal created", zap.String("deal_id", d.ID.String()), zap.String("contract_id", contract))
	return &models.DealWithMilestones{Deal: *d, SupplierName: &supplier.Name, Milestones: ms}, nil
}

// FundDeal has the investor fund the deal's escrow and, once the transaction
// is accepted, marks the deal funded with the investor recorded.
func (s *Coordinator) FundDeal(ctx context.Context, sess wallet.Session, dealID uuid.UUID) (deal *models.Deal, err error) {
	defer func(start time.Time) { observe(OpFundDeal, start, err) }(time.Now())

	if _, err := s.require(ctx, OpFundDeal, sess.UserID, rbac.PermFundDeal); err != nil {
		return nil, err
	}
	d, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, lookupErr(OpFundDeal, "deal", err)
	}
	if !d.HasEscrow() {
		return nil, actionErr(KindInvalidState, OpFundDeal, errNoEscrow)
	}
	if d.Status != models.DealStatusSeekingFunding {
		return nil, actionErr(KindInvalidState, OpFundDeal, fmt.Errorf("deal is %s, not seeking funding", d.Status))
	}

	_, err = s.submit(ctx, OpFundDeal, sess, func(ctx context.Context) (string, error) {
		return s.gateway.FundEscrow(ctx, escrow.FundRequest{
			ContractID: *d.EscrowContract,
			Signer:     sess.Address,
			Amount:     d.Amount,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.deals.MarkFunded(ctx, d.ID, sess.UserID); err != nil {
		return nil, s.diverged(ctx, OpFundDeal, d, -1, err)
	}
	now := time.Now()
	investor := sess.UserID
	oldStatus := d.Status
	d.Status = models.DealStatusFunded
	d.InvestorID = &investor
	d.FundedAt = &now

	s.record(ctx, models.AuditLog{
		ActorUserID: &investor,
		ActorType:   models.ActorTypeUser,
		Action:      fmt.Sprintf("deal_status_%s_to_%s", oldStatus, d.Status),
		EntityType:  models.EntityDeal,
		EntityID:    &d.ID,
		Meta:        map[string]any{"amount": d.Amount.String(), "contract_id": *d.EscrowContract},
	})
	s.publish(ctx, events.EventDealStatusChanged, map[string]any{
		"deal_id":    d.ID.String(),
		"old_status": oldStatus,
		"new_status": d.Status,
	})
	return d, nil
}

// milestoneFor loads a deal and one of its milestones, requiring the deal to
// have an escrow contract.
func (s *Coordinator) milestoneFor(ctx context.Context, op string, dealID uuid.UUID, index int) (*models.Deal, *models.Milestone, error) {
	d, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, nil, lookupErr(op, "deal", err)
	}
	if !d.HasEscrow() {
		return nil, nil, actionErr(KindInvalidState, op, errNoEscrow)
	}
	m, err := s.milestones.GetByIndex(ctx, dealID, index)
	if err != nil {
		return nil, nil, lookupErr(op, fmt.Sprintf("milestone %d", index), err)
	}
	return d, m, nil
}

// requireActive refuses milestone actions unless the deal is funded or in
// progress.
func requireActive(op string, d *models.Deal) error {
	if d.Status != models.DealStatusFunded && d.Status != models.DealStatusInProgress {
		return actionErr(KindInvalidState, op, fmt.Errorf("deal is %s", d.Status))
	}
	return nil
}

// SubmitMilestoneProof records the supplier's delivery evidence on-chain as
// proof_uploaded and then moves the milestone row to in_progress. The first
// accepted proof also moves a funded deal to in_progress.
func (s *Coordinator) SubmitMilestoneProof(ctx context.Context, sess wallet.Session, dealID uuid.UUID, index int, proof ProofInput) (ms *models.Milestone, err error) {
	defer func(start time.Time) { observe(OpSubmitProof, start, err) }(time.Now())

	if proof.Evidence() == "" {
		return nil, actionErr(KindValidation, OpSubmitProof, errors.New("proof notes or url required"))
	}
	d, m, err := s.milestoneFor(ctx, OpSubmitProof, dealID, index)
	if err != nil {
		return nil, err
	}

	supplier, err := s.suppliers.GetCompany(ctx, d.SupplierID)
	if err != nil {
		return nil, lookupErr(OpSubmitProof, "supplier", err)
	}
	if supplier.OwnerID != sess.UserID {
		return nil, actionErr(KindForbidden, OpSubmitProof, errors.New("only the deal's supplier may submit proof"))
	}
	if err := requireActive(OpSubmitProof, d); err != nil {
		return nil, err
	}
	if m.Status == models.MilestoneStatusCompleted {
		return nil, actionErr(KindInvalidState, OpSubmitProof, fmt.Errorf("milestone %d already completed", index))
	}

	_, err = s.submit(ctx, OpSubmitProof, sess, func(ctx context.Context) (string, error) {
		return s.gateway.ChangeMilestoneStatus(ctx, escrow.ChangeMilestoneStatusRequest{
			ContractID:      *d.EscrowContract,
			MilestoneIndex:  escrow.MilestoneIndex(index),
			NewStatus:       escrow.MilestoneStatusProofUploaded,
			NewEvidence:     proof.Evidence(),
			ServiceProvider: sess.Address,
		})
	})
	if err != nil {
		return nil, err
	}
	s.enqueueReconcile(ctx, d, index)

	if err := s.milestones.SubmitProof(ctx, m.ID, proof.Notes, proof.URL); err != nil {
		return nil, s.diverged(ctx, OpSubmitProof, d, index, err)
	}
	oldStatus := m.Status
	m.Status = models.MilestoneStatusInProgress
	m.ProofNotes = proof.Notes
	m.ProofURL = proof.URL

	actor := sess.UserID
	s.record(ctx, models.AuditLog{
		ActorUserID: &actor,
		ActorType:   models.ActorTypeUser,
		Action:      "milestone_proof_submitted",
		EntityType:  models.EntityMilestone,
		EntityID:    &m.ID,
		Meta:        map[string]any{"deal_id": d.ID.String(), "index": index, "evidence": proof.Evidence()},
	})
	s.publish(ctx, events.EventMilestoneStatusChanged, map[string]any{
		"deal_id":    d.ID.String(),
		"index":      index,
		"old_status": oldStatus,
		"new_status": m.Status,
	})

	if d.Status == models.DealStatusFunded {
		if err := s.transition(ctx, d, models.DealStatusInProgress, &actor, models.ActorTypeUser); err != nil && !errors.Is(err, repositories.ErrStale) {
			s.log.Warn("deal in_progress transition failed", zap.String("deal_id", d.ID.String()), zap.Error(err))
		}
	}
	return m, nil
}

// ApproveMilestone signs the on-chain approval. The off-chain milestone row
// is not touched; approval only exists on-chain.
func (s *Coordinator) ApproveMilestone(ctx context.Context, sess wallet.Session, dealID uuid.UUID, index int) (err error) {
	defer func(start time.Time) { observe(OpApproveMilestone, start, err) }(time.Now())

	if _, err := s.require(ctx, OpApproveMilestone, sess.UserID, rbac.PermApproveMilestone); err != nil {
		return err
	}
	d, m, err := s.milestoneFor(ctx, OpApproveMilestone, dealID, index)
	if err != nil {
		return err
	}
	if err := requireActive(OpApproveMilestone, d); err != nil {
		return err
	}

	_, err = s.submit(ctx, OpApproveMilestone, sess, func(ctx context.Context) (string, error) {
		return s.gateway.ApproveMilestone(ctx, escrow.ApproveMilestoneRequest{
			ContractID:     *d.EscrowContract,
			MilestoneIndex: escrow.MilestoneIndex(index),
			Approver:       sess.Address,
		})
	})
	if err != nil {
		return err
	}
	s.enqueueReconcile(ctx, d, index)

	actor := sess.UserID
	s.record(ctx, models.AuditLog{
		ActorUserID: &actor,
		ActorType:   models.ActorTypeAdmin,
		Action:      "milestone_approved",
		EntityType:  models.EntityMilestone,
		EntityID:    &m.ID,
		Meta:        map[string]any{"deal_id": d.ID.String(), "index": index},
	})
	s.publish(ctx, events.EventMilestoneApproved, map[string]any{
		"deal_id": d.ID.String(),
		"index":   index,
	})
	return nil
}

// ReleaseMilestone releases one milestone's funds to the supplier. The
// ordering policy is checked against a freshly fetched on-chain mirror,
// never against the off-chain rows; an unavailable mirror blocks every
// milestone past the first.
func (s *Coordinator) ReleaseMilestone(ctx context.Context, sess wallet.Session, dealID uuid.UUID, index int) (ms *models.Milestone, err error) {
	defer func(start time.Time) { observe(OpReleaseMilestone, start, err) }(time.Now())

	if _, err := s.require(ctx, OpReleaseMilestone, sess.UserID, rbac.PermReleaseMilestone); err != nil {
		return nil, err
	}
	d, m, err := s.milestoneFor(ctx, OpReleaseMilestone, dealID, index)
	if err != nil {
		return nil, err
	}
	if err := requireActive(OpReleaseMilestone, d); err != nil {
		return nil, err
	}
	contract := *d.EscrowContract

	mirrors, err := s.gateway.GetEscrowsByContractIDs(ctx, []string{contract})
	if err != nil {
		s.log.Warn("escrow mirror unavailable, ordering check fails closed",
			zap.String("deal_id", d.ID.String()), zap.Error(err))
		mirrors = escrow.Mirrors{}
	}
	if mirrors[contract].Milestone(index).IsReleased() {
		return nil, actionErr(KindInvalidState, OpReleaseMilestone, fmt.Errorf("milestone %d already released on-chain", index))
	}
	if !mirrors.CanRelease(contract, index) {
		return nil, actionErr(KindOrdering, OpReleaseMilestone, fmt.Errorf("milestones before %d are not all released on-chain", index))
	}

	_, err = s.submit(ctx, OpReleaseMilestone, sess, func(ctx context.Context) (string, error) {
		return s.gateway.ReleaseMilestoneFunds(ctx, escrow.ReleaseMilestoneRequest{
			ContractID:     contract,
			MilestoneIndex: escrow.MilestoneIndex(index),
			ReleaseSigner:  sess.Address,
		})
	})
	if err != nil {
		return nil, err
	}
	s.enqueueReconcile(ctx, d, index)

	if err := s.milestones.MarkCompleted(ctx, m.ID); err != nil {
		return nil, s.diverged(ctx, OpReleaseMilestone, d, index, err)
	}
	oldStatus := m.Status
	now := time.Now()
	m.Status = models.MilestoneStatusCompleted
	m.CompletedAt = &now

	actor := sess.UserID
	s.record(ctx, models.AuditLog{
		ActorUserID: &actor,
		ActorType:   models.ActorTypeAdmin,
		Action:      "milestone_released",
		EntityType:  models.EntityMilestone,
		EntityID:    &m.ID,
		Meta:        map[string]any{"deal_id": d.ID.String(), "index": index, "amount": m.Amount.String()},
	})
	s.publish(ctx, events.EventMilestoneStatusChanged, map[string]any{
		"deal_id":    d.ID.String(),
		"index":      index,
		"old_status": oldStatus,
		"new_status": m.Status,
	})
	return m, nil
}

// CancelDeal moves a non-terminal deal to cancelled. No chain call is made;
// funds still in escrow are handled through the escrow's dispute flow.
func (s *Coordinator) CancelDeal(ctx context.Context, actorID, dealID uuid.UUID, reason string) (deal *models.Deal, err error) {
	defer func(start time.Time) { observe(OpCancelDeal, start, err) }(time.Now())

	if _, err := s.require(ctx, OpCancelDeal, actorID, rbac.PermCancelDeal); err != nil {
		return nil, err
	}
	d, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, lookupErr(OpCancelDeal, "deal", err)
	}
	if models.IsTerminalDealStatus(d.Status) {
		return nil, actionErr(KindInvalidState, OpCancelDeal, fmt.Errorf("deal is already %s", d.Status))
	}
	if err := s.transition(ctx, d, models.DealStatusCancelled, &actorID, models.ActorTypeAdmin); err != nil {
		return nil, s.stateWriteErr(OpCancelDeal, err)
	}
	if reason != "" {
		s.log.Info("deal cancelled", zap.String("deal_id", d.ID.String()), zap.String("reason", reason))
	}
	return d, nil
}

// CompleteDeal closes a deal once every milestone is completed off-chain.
// Completion is never applied automatically on the last release.
func (s *Coordinator) CompleteDeal(ctx context.Context, actorID, dealID uuid.UUID) (deal *models.Deal, err error) {
	defer func(start time.Time) { observe(OpCompleteDeal, start, err) }(time.Now())

	if _, err := s.require(ctx, OpCompleteDeal, actorID, rbac.PermCompleteDeal); err != nil {
		return nil, err
	}
	d, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, lookupErr(OpCompleteDeal, "deal", err)
	}
	if !models.IsValidTransition(d.Status, models.DealStatusCompleted) {
		return nil, actionErr(KindInvalidState, OpCompleteDeal, fmt.Errorf("deal is %s", d.Status))
	}
	ms, err := s.milestones.ListByDeal(ctx, d.ID)
	if err != nil {
		return nil, lookupErr(OpCompleteDeal, "milestones", err)
	}
	if !models.AllMilestonesCompleted(ms) {
		return nil, actionErr(KindInvalidState, OpCompleteDeal, errors.New("not every milestone is completed"))
	}
	if err := s.transition(ctx, d, models.DealStatusCompleted, &actorID, models.ActorTypeAdmin); err != nil {
		return nil, s.stateWriteErr(OpCompleteDeal, err)
	}
	now := time.Now()
	d.CompletedAt = &now
	return d, nil
}

func (s *Coordinator) stateWriteErr(op string, err error) error {
	if errors.Is(err, repositories.ErrStale) {
		return actionErr(KindInvalidState, op, err)
	}
	return actionErr(KindPersistence, op, err)
}
