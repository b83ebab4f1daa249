package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"demper-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

const productColumns = `
	p.id, p.sku, p.external_id, p.name, p.current_price, p.cost,
	p.min_margin, p.max_price, p.price_step, p.check_interval_seconds,
	p.is_active, p.created_at, p.updated_at,
	(SELECT MAX(ph.created_at) FROM price_history ph WHERE ph.product_id = p.id) AS last_recorded_at`

// GetProductByID retrieves a tracked product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.TrackedProduct, error) {
	var product models.TrackedProduct
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products p WHERE p.id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductBySKU retrieves a tracked product by SKU
func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*models.TrackedProduct, error) {
	var product models.TrackedProduct
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products p WHERE p.sku = $1", sku)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %s", sku)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves all tracked products
func (s *Store) GetProducts(ctx context.Context) ([]models.TrackedProduct, error) {
	var products []models.TrackedProduct
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products p ORDER BY p.id")
	return products, err
}

// GetActiveProducts retrieves products with tracking enabled
func (s *Store) GetActiveProducts(ctx context.Context) ([]models.TrackedProduct, error) {
	var products []models.TrackedProduct
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products p WHERE p.is_active = TRUE ORDER BY p.id")
	return products, err
}

// CreateProduct creates a new tracked product
func (s *Store) CreateProduct(ctx context.Context, product *models.TrackedProduct) error {
	query := `
		INSERT INTO products (sku, external_id, name, current_price, cost,
			min_margin, max_price, price_step, check_interval_seconds, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, product, query,
		product.SKU, product.ExternalID, product.Name, product.CurrentPrice,
		product.Cost, product.MinMargin, product.MaxPrice, product.PriceStep,
		product.CheckIntervalSeconds, product.IsActive)
}

// UpdateProductConfig updates pricing guardrails for a product. The new
// bounds take effect on the next cycle, not retroactively.
func (s *Store) UpdateProductConfig(ctx context.Context, id int64, minMargin int64, maxPrice *int64, priceStep int64, checkIntervalSeconds int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET min_margin = $1, max_price = $2, price_step = $3,
			check_interval_seconds = $4, updated_at = NOW()
		WHERE id = $5`,
		minMargin, maxPrice, priceStep, checkIntervalSeconds, id)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("product not found: %d", id)
	}
	return nil
}

// SetProductActive toggles tracking for a product. Deactivation preserves
// the product and its price history.
func (s *Store) SetProductActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET is_active = $1, updated_at = NOW() WHERE id = $2",
		active, id)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("product not found: %d", id)
	}
	return nil
}

// SetProductsActiveBySKU toggles tracking for a batch of SKUs and returns
// how many rows changed
func (s *Store) SetProductsActiveBySKU(ctx context.Context, skus []string, active bool) (int64, error) {
	if len(skus) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		"UPDATE products SET is_active = ?, updated_at = NOW() WHERE sku IN (?)",
		active, skus)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
