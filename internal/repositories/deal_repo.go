package repositories

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
)

const dealColumns = `d.id, d.buyer_id, d.supplier_id, d.investor_id, d.product_name, d.description,
	d.amount, d.term_days, d.interest_rate, d.status, d.escrow_contract_address,
	d.created_at, d.funded_at, d.completed_at, d.updated_at`

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

func scanDeal(row pgx.Row, d *models.Deal, extra ...any) error {
	dest := []any{&d.ID, &d.BuyerID, &d.SupplierID, &d.InvestorID, &d.ProductName, &d.Description,
		&d.Amount, &d.TermDays, &d.InterestRate, &d.Status, &d.EscrowContract,
		&d.CreatedAt, &d.FundedAt, &d.CompletedAt, &d.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

// Create inserts the deal and its milestones in one transaction. A zero
// d.ID is filled in; callers that already told the escrow about the id set it.
func (r *DealRepo) Create(ctx context.Context, d *models.Deal, ms []models.Milestone) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO deals (id, buyer_id, supplier_id, product_name, description, amount, term_days, interest_rate, status, escrow_contract_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, d.ID, d.BuyerID, d.SupplierID, d.ProductName, d.Description, d.Amount, d.TermDays, d.InterestRate, d.Status, d.EscrowContract,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}

	for i := range ms {
		m := &ms[i]
		m.DealID = d.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO milestones (deal_id, idx, title, percentage, amount, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`, m.DealID, m.Index, m.Title, m.Percentage, m.Amount, m.Status).Scan(&m.ID, &m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert milestone %d: %w", m.Index, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	var d models.Deal
	err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals d WHERE d.id = $1`, id), &d)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

// GetWithMilestones loads the deal, its supplier company name and its
// milestones in index order.
func (r *DealRepo) GetWithMilestones(ctx context.Context, id uuid.UUID) (*models.DealWithMilestones, error) {
	var d models.DealWithMilestones
	err := scanDeal(r.pool.QueryRow(ctx, `
		SELECT `+dealColumns+`, sc.name
		FROM deals d
		LEFT JOIN supplier_companies sc ON sc.id = d.supplier_id
		WHERE d.id = $1
	`, id), &d.Deal, &d.SupplierName)
	if err != nil {
		return nil, mapErr(err)
	}

	byDeal, err := r.milestonesFor(ctx, []uuid.UUID{d.ID})
	if err != nil {
		return nil, err
	}
	d.Milestones = byDeal[d.ID]
	return &d, nil
}

type DealFilter struct {
	BuyerID         *uuid.UUID
	InvestorID      *uuid.UUID
	SupplierOwnerID *uuid.UUID // through supplier_companies.owner_id
	Statuses        []string
	WithEscrow      bool
	Limit           int
	Offset          int
}

func (r *DealRepo) List(ctx context.Context, f DealFilter) ([]models.DealWithMilestones, error) {
	query := `
		SELECT ` + dealColumns + `, sc.name
		FROM deals d
		LEFT JOIN supplier_companies sc ON sc.id = d.supplier_id
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.BuyerID != nil {
		where = append(where, fmt.Sprintf("d.buyer_id = $%d", argIdx))
		args = append(args, *f.BuyerID)
		argIdx++
	}
	if f.InvestorID != nil {
		where = append(where, fmt.Sprintf("d.investor_id = $%d", argIdx))
		args = append(args, *f.InvestorID)
		argIdx++
	}
	if f.SupplierOwnerID != nil {
		where = append(where, fmt.Sprintf("sc.owner_id = $%d", argIdx))
		args = append(args, *f.SupplierOwnerID)
		argIdx++
	}
	if len(f.Statuses) > 0 {
		where = append(where, fmt.Sprintf("d.status = ANY($%d)", argIdx))
		args = append(args, f.Statuses)
		argIdx++
	}
	if f.WithEscrow {
		where = append(where, "d.escrow_contract_address IS NOT NULL AND d.escrow_contract_address <> ''")
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY d.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.DealWithMilestones
	var ids []uuid.UUID
	for rows.Next() {
		var d models.DealWithMilestones
		if err := scanDeal(rows, &d.Deal, &d.SupplierName); err != nil {
			return nil, err
		}
		deals = append(deals, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return deals, nil
	}

	byDeal, err := r.milestonesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range deals {
		deals[i].Milestones = byDeal[deals[i].ID]
	}
	return deals, nil
}

// ListOpenWithEscrow returns funded and in-progress deals that have an escrow
// contract, i.e. those whose milestones can still move on-chain.
func (r *DealRepo) ListOpenWithEscrow(ctx context.Context, limit int) ([]models.DealWithMilestones, error) {
	return r.List(ctx, DealFilter{
		Statuses:   []string{models.DealStatusFunded, models.DealStatusInProgress},
		WithEscrow: true,
		Limit:      limit,
	})
}

func (r *DealRepo) milestonesFor(ctx context.Context, dealIDs []uuid.UUID) (map[uuid.UUID][]models.Milestone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+milestoneColumns+`
		FROM milestones
		WHERE deal_id = ANY($1)
		ORDER BY deal_id, idx
	`, dealIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]models.Milestone, len(dealIDs))
	for rows.Next() {
		var m models.Milestone
		if err := scanMilestone(rows, &m); err != nil {
			return nil, err
		}
		out[m.DealID] = append(out[m.DealID], m)
	}
	return out, rows.Err()
}

// MarkFunded moves a deal from seeking_funding to funded and records the
// investor. The status guard makes a second funding attempt a no-op error.
func (r *DealRepo) MarkFunded(ctx context.Context, id, investorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = $1, investor_id = $2, funded_at = now(), updated_at = now()
		WHERE id = $3 AND status = $4
	`, models.DealStatusFunded, investorID, id, models.DealStatusSeekingFunding)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// UpdateStatus moves a deal from one status to another, stamping
// completed_at when it reaches completed.
func (r *DealRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = $1,
			completed_at = CASE WHEN $1::text = 'completed' THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// Parties returns the buyer, the investor once there is one, and the owner
// of the supplier company, without duplicates.
func (r *DealRepo) Parties(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	var buyer uuid.UUID
	var investor, owner *uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT d.buyer_id, d.investor_id, sc.owner_id
		FROM deals d
		LEFT JOIN supplier_companies sc ON sc.id = d.supplier_id
		WHERE d.id = $1
	`, id).Scan(&buyer, &investor, &owner)
	if err != nil {
		return nil, mapErr(err)
	}

	out := []uuid.UUID{buyer}
	for _, p := range []*uuid.UUID{investor, owner} {
		if p != nil && !slices.Contains(out, *p) {
			out = append(out, *p)
		}
	}
	return out, nil
}
