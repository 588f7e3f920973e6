package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"loyalty-engine/internal/model"
)

// CatalogRepository reads products and scan codes.
type CatalogRepository struct {
	db DBTX
}

// NewCatalogRepository creates a new CatalogRepository instance.
func NewCatalogRepository(db DBTX) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProduct retrieves a product. Returns ErrProductNotFound if absent.
func (r *CatalogRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	const query = `
		SELECT id, name, points_award, points_cost, required_rank, strain_type, category
		FROM products
		WHERE id = $1
	`

	var p model.Product
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.PointsAward,
		&p.PointsCost,
		&p.RequiredRank,
		&p.StrainType,
		&p.Category,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// GetScanCode retrieves a scan code. Returns ErrCodeNotFound if absent.
func (r *CatalogRepository) GetScanCode(ctx context.Context, code string) (*model.ScanCode, error) {
	const query = `SELECT code, product_id, used_by, used_at FROM scan_codes WHERE code = $1`

	var c model.ScanCode
	err := r.db.QueryRow(ctx, query, code).Scan(&c.Code, &c.ProductID, &c.UsedBy, &c.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get scan code: %w", err)
	}
	return &c, nil
}

// ConsumeCode marks the code as used by userID. It returns false when the
// code was already consumed.
func (r *CatalogRepository) ConsumeCode(ctx context.Context, code string, userID int64) (bool, error) {
	const query = `
		UPDATE scan_codes
		SET used_by = $2, used_at = NOW()
		WHERE code = $1 AND used_by IS NULL
	`

	tag, err := r.db.Exec(ctx, query, code, userID)
	if err != nil {
		return false, fmt.Errorf("failed to consume scan code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertProduct creates or replaces a product.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p model.Product) error {
	const query = `
		INSERT INTO products (id, name, points_award, points_cost, required_rank, strain_type, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET name = $2, points_award = $3, points_cost = $4,
			required_rank = $5, strain_type = $6, category = $7
	`

	_, err := r.db.Exec(ctx, query, p.ID, p.Name, p.PointsAward, p.PointsCost, p.RequiredRank, p.StrainType, p.Category)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// CreateScanCode registers an unused code for a product.
func (r *CatalogRepository) CreateScanCode(ctx context.Context, code string, productID int64) error {
	const query = `INSERT INTO scan_codes (code, product_id) VALUES ($1, $2)`

	if _, err := r.db.Exec(ctx, query, code, productID); err != nil {
		return fmt.Errorf("failed to create scan code: %w", err)
	}
	return nil
}
