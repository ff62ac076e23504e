package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
)

const milestoneColumns = `id, deal_id, idx, title, percentage, amount, status, proof_notes, proof_url, completed_at, created_at`

type MilestoneRepo struct {
	pool *pgxpool.Pool
}

func NewMilestoneRepo(pool *pgxpool.Pool) *MilestoneRepo {
	return &MilestoneRepo{pool: pool}
}

func scanMilestone(row pgx.Row, m *models.Milestone) error {
	return row.Scan(&m.ID, &m.DealID, &m.Index, &m.Title, &m.Percentage, &m.Amount, &m.Status,
		&m.ProofNotes, &m.ProofURL, &m.CompletedAt, &m.CreatedAt)
}

func (r *MilestoneRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Milestone, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE deal_id = $1 ORDER BY idx`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ms []models.Milestone
	for rows.Next() {
		var m models.Milestone
		if err := scanMilestone(rows, &m); err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

func (r *MilestoneRepo) GetByIndex(ctx context.Context, dealID uuid.UUID, index int) (*models.Milestone, error) {
	var m models.Milestone
	err := scanMilestone(r.pool.QueryRow(ctx, `
		SELECT `+milestoneColumns+` FROM milestones WHERE deal_id = $1 AND idx = $2
	`, dealID, index), &m)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

// SubmitProof stores the supplier's evidence and moves the milestone to
// in_progress. Completed milestones are left untouched.
func (r *MilestoneRepo) SubmitProof(ctx context.Context, id uuid.UUID, notes, url *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE milestones SET status = $1, proof_notes = $2, proof_url = $3
		WHERE id = $4 AND status <> $5
	`, models.MilestoneStatusInProgress, notes, url, id, models.MilestoneStatusCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

// MarkCompleted is idempotent: an already completed milestone keeps its
// original completed_at.
func (r *MilestoneRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE milestones SET status = $1, completed_at = COALESCE(completed_at, now())
		WHERE id = $2
	`, models.MilestoneStatusCompleted, id)
	return err
}

// SetStatus moves a milestone from one status to another.
func (r *MilestoneRepo) SetStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE milestones SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}
