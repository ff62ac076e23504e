package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := r.pool.QueryRow(ctx, `
		SELECT id, role, full_name, company_name, email, wallet_address, created_at
		FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.Role, &p.FullName, &p.CompanyName, &p.Email, &p.WalletAddress, &p.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// UpdateWallet records the address of the user's connected wallet. An empty
// address clears it.
func (r *ProfileRepo) UpdateWallet(ctx context.Context, id uuid.UUID, address string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE profiles SET wallet_address = NULLIF($1, '') WHERE id = $2`, address, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
