// Package testutil provides testing utilities for FreshMart backend services.
// It includes testcontainers for PostgreSQL, mock factories, and common test
// fixtures.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "freshmart_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    // Run tests
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "freshmart_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// CreateInventorySchema creates the inventory service tables. This mirrors the
// production migrations closely enough for repository integration tests.
func (c *PostgresContainer) CreateInventorySchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS branches (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			code VARCHAR(50) UNIQUE NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			sku VARCHAR(100) UNIQUE NOT NULL,
			category VARCHAR(100),
			is_perishable BOOLEAN NOT NULL DEFAULT TRUE,
			shelf_life_days INT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS branch_stock_levels (
			branch_id UUID NOT NULL REFERENCES branches(id),
			product_id UUID NOT NULL REFERENCES products(id),
			min_stock INT NOT NULL DEFAULT 0,
			max_stock INT NOT NULL DEFAULT 0,
			PRIMARY KEY (branch_id, product_id)
		);

		CREATE TABLE IF NOT EXISTS inventory_batches (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			batch_number VARCHAR(100) NOT NULL,
			product_id UUID NOT NULL REFERENCES products(id),
			branch_id UUID NOT NULL REFERENCES branches(id),
			quantity_received INT NOT NULL,
			current_stock INT NOT NULL,
			unit_cost NUMERIC(12,4) NOT NULL DEFAULT 0,
			expiry_date DATE,
			received_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			source_type VARCHAR(20) NOT NULL DEFAULT 'direct',
			source_transfer_id UUID,
			version INT NOT NULL DEFAULT 1,
			disposed_quantity INT,
			disposed_at TIMESTAMPTZ,
			disposed_by VARCHAR(100),
			disposal_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT current_stock_range CHECK (current_stock >= 0 AND current_stock <= quantity_received),
			CONSTRAINT quantity_positive CHECK (quantity_received > 0),
			CONSTRAINT status_valid CHECK (status IN ('active', 'expired', 'disposed', 'depleted'))
		);

		CREATE INDEX IF NOT EXISTS idx_batches_fifo
			ON inventory_batches (product_id, branch_id, expiry_date ASC NULLS LAST, received_date ASC, batch_number ASC)
			WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS stock_movements (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			batch_id UUID NOT NULL REFERENCES inventory_batches(id),
			product_id UUID NOT NULL,
			branch_id UUID NOT NULL,
			movement_type VARCHAR(30) NOT NULL,
			quantity INT NOT NULL,
			reference VARCHAR(255),
			notes TEXT,
			performed_by VARCHAR(100) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE SEQUENCE IF NOT EXISTS transfer_number_seq;

		CREATE TABLE IF NOT EXISTS transfer_requests (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			transfer_number VARCHAR(50) UNIQUE NOT NULL,
			from_branch_id UUID NOT NULL REFERENCES branches(id),
			to_branch_id UUID NOT NULL REFERENCES branches(id),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			priority VARCHAR(20) NOT NULL DEFAULT 'normal',
			requested_by VARCHAR(100) NOT NULL,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT branches_differ CHECK (from_branch_id <> to_branch_id)
		);

		CREATE TABLE IF NOT EXISTS transfer_items (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			transfer_id UUID NOT NULL REFERENCES transfer_requests(id) ON DELETE CASCADE,
			product_id UUID NOT NULL REFERENCES products(id),
			requested_quantity INT NOT NULL CHECK (requested_quantity > 0)
		);

		CREATE TABLE IF NOT EXISTS transfer_batch_allocations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			transfer_item_id UUID NOT NULL REFERENCES transfer_items(id) ON DELETE CASCADE,
			batch_id UUID NOT NULL REFERENCES inventory_batches(id),
			quantity INT NOT NULL CHECK (quantity > 0)
		);

		CREATE TABLE IF NOT EXISTS transfer_status_history (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			transfer_id UUID NOT NULL REFERENCES transfer_requests(id) ON DELETE CASCADE,
			from_status VARCHAR(20),
			to_status VARCHAR(20) NOT NULL,
			changed_by VARCHAR(100) NOT NULL,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create inventory schema: %w", err)
	}

	return nil
}
