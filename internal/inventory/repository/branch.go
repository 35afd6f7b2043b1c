package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/freshmart/freshmart-backend/pkg/database"
	"github.com/freshmart/freshmart-backend/pkg/errors"
)

// Branch represents a retail branch
type Branch struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code"`
	Latitude  *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64  `db:"longitude" json:"longitude,omitempty"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Product represents a stocked product
type Product struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	SKU           string    `db:"sku" json:"sku"`
	Category      *string   `db:"category" json:"category,omitempty"`
	IsPerishable  bool      `db:"is_perishable" json:"is_perishable"`
	ShelfLifeDays *int      `db:"shelf_life_days" json:"shelf_life_days,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StockLevel is the configured min/max band for a product at a branch
type StockLevel struct {
	BranchID  string `db:"branch_id" json:"branch_id"`
	ProductID string `db:"product_id" json:"product_id"`
	MinStock  int    `db:"min_stock" json:"min_stock"`
	MaxStock  int    `db:"max_stock" json:"max_stock"`
}

// BranchRepository handles branch and product lookups
type BranchRepository struct {
	db *database.DB
}

// NewBranchRepository creates a new branch repository
func NewBranchRepository(db *database.DB) *BranchRepository {
	return &BranchRepository{db: db}
}

// GetByID gets a branch by ID
func (r *BranchRepository) GetByID(ctx context.Context, id string) (*Branch, error) {
	var branch Branch
	query := `SELECT * FROM branches WHERE id = $1`
	if err := r.db.GetContext(ctx, &branch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("branch")
		}
		return nil, err
	}
	return &branch, nil
}

// ListActive lists all active branches
func (r *BranchRepository) ListActive(ctx context.Context) ([]*Branch, error) {
	var branches []*Branch
	query := `SELECT * FROM branches WHERE is_active = true ORDER BY name`
	if err := r.db.SelectContext(ctx, &branches, query); err != nil {
		return nil, err
	}
	return branches, nil
}

// GetProduct gets a product by ID
func (r *BranchRepository) GetProduct(ctx context.Context, id string) (*Product, error) {
	var product Product
	query := `SELECT * FROM products WHERE id = $1`
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &product, nil
}

// GetStockLevel returns the configured band for a product at a branch, or
// a zero band if none is configured.
func (r *BranchRepository) GetStockLevel(ctx context.Context, branchID, productID string) (*StockLevel, error) {
	var level StockLevel
	query := `SELECT * FROM branch_stock_levels WHERE branch_id = $1 AND product_id = $2`
	if err := r.db.GetContext(ctx, &level, query, branchID, productID); err != nil {
		if err == sql.ErrNoRows {
			return &StockLevel{BranchID: branchID, ProductID: productID}, nil
		}
		return nil, err
	}
	return &level, nil
}

// GetStockLevels returns all configured bands for a product across branches
func (r *BranchRepository) GetStockLevels(ctx context.Context, productID string) ([]*StockLevel, error) {
	var levels []*StockLevel
	query := `SELECT * FROM branch_stock_levels WHERE product_id = $1`
	if err := r.db.SelectContext(ctx, &levels, query, productID); err != nil {
		return nil, err
	}
	return levels, nil
}
