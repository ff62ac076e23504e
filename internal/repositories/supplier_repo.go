package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
)

type SupplierRepo struct {
	pool *pgxpool.Pool
}

func NewSupplierRepo(pool *pgxpool.Pool) *SupplierRepo {
	return &SupplierRepo{pool: pool}
}

func (r *SupplierRepo) GetCompany(ctx context.Context, id uuid.UUID) (*models.SupplierCompany, error) {
	var c models.SupplierCompany
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, contact_email, contact_phone, wallet_address, created_at
		FROM supplier_companies WHERE id = $1
	`, id).Scan(&c.ID, &c.OwnerID, &c.Name, &c.ContactEmail, &c.ContactPhone, &c.WalletAddress, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ListCatalog returns supplier products joined with their company contact,
// optionally narrowed to one category.
func (r *SupplierRepo) ListCatalog(ctx context.Context, category string) ([]models.CatalogProduct, error) {
	query := `
		SELECT p.id, p.supplier_id, sc.name, p.name, p.category, p.price, p.description,
		       sc.contact_email, sc.contact_phone
		FROM supplier_products p
		JOIN supplier_companies sc ON sc.id = p.supplier_id
	`
	args := []any{}
	if category != "" {
		query += ` WHERE p.category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY sc.name, p.name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []models.CatalogProduct{}
	for rows.Next() {
		var p models.CatalogProduct
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Supplier, &p.Name, &p.Category, &p.Price, &p.Description,
			&p.ContactEmail, &p.ContactPhone); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
