package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"demper-service/internal/models"
)

// RecordPriceChange appends a ledger entry and moves the product's current
// price in one transaction. oldPrice is the externally confirmed price the
// caller observed before applying; the loss computation uses it rather than
// the stored row so a previously unrecorded apply still produces a correct
// decrease.
func (s *Store) RecordPriceChange(ctx context.Context, productID, oldPrice, newPrice int64, reason string) (*models.PriceHistoryEntry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Row lock serializes concurrent appends for the same product.
	var storedPrice int64
	err = tx.GetContext(ctx, &storedPrice,
		"SELECT current_price FROM products WHERE id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}

	var lastLoss int64
	err = tx.GetContext(ctx, &lastLoss, `
		SELECT cumulative_loss FROM price_history
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, productID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read last ledger entry: %w", err)
	}

	decrease := oldPrice - newPrice
	if decrease < 0 {
		decrease = 0
	}

	entry := &models.PriceHistoryEntry{
		ProductID:      productID,
		Price:          newPrice,
		PriceDecrease:  decrease,
		CumulativeLoss: lastLoss + decrease,
		ChangeReason:   reason,
	}

	err = tx.GetContext(ctx, entry, `
		INSERT INTO price_history (product_id, price, price_decrease, cumulative_loss, change_reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		entry.ProductID, entry.Price, entry.PriceDecrease, entry.CumulativeLoss, entry.ChangeReason)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE products SET current_price = $1, updated_at = NOW() WHERE id = $2",
		newPrice, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to update product price: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit price change: %w", err)
	}

	return entry, nil
}

// GetPriceHistory returns ledger entries for a product ordered by creation
// time, optionally bounded by a date range
func (s *Store) GetPriceHistory(ctx context.Context, productID int64, from, to *time.Time) ([]models.PriceHistoryEntry, error) {
	query := "SELECT * FROM price_history WHERE product_id = $1"
	args := []interface{}{productID}

	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"

	var entries []models.PriceHistoryEntry
	err := s.db.SelectContext(ctx, &entries, query, args...)
	return entries, err
}

// GetLastEntry returns the most recent ledger entry for a product, or nil
// if the product has no history yet
func (s *Store) GetLastEntry(ctx context.Context, productID int64) (*models.PriceHistoryEntry, error) {
	var entry models.PriceHistoryEntry
	err := s.db.GetContext(ctx, &entry, `
		SELECT * FROM price_history
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, productID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetLossSummary aggregates demping losses, optionally filtered by product
// and date range
func (s *Store) GetLossSummary(ctx context.Context, productID *int64, from, to *time.Time) (*models.LossSummary, error) {
	query := `
		SELECT
			COALESCE(SUM(price_decrease), 0) AS total_loss,
			COUNT(*) FILTER (WHERE price_decrease > 0) AS price_decreases,
			COALESCE(MAX(price_decrease), 0) AS max_single_decrease,
			COUNT(DISTINCT product_id) FILTER (WHERE price_decrease > 0) AS products_affected
		FROM price_history
		WHERE 1=1`
	var args []interface{}

	if productID != nil {
		args = append(args, *productID)
		query += fmt.Sprintf(" AND product_id = $%d", len(args))
	}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var row struct {
		TotalLoss         int64 `db:"total_loss"`
		PriceDecreases    int64 `db:"price_decreases"`
		MaxSingleDecrease int64 `db:"max_single_decrease"`
		ProductsAffected  int64 `db:"products_affected"`
	}
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, err
	}

	summary := &models.LossSummary{
		TotalLoss:         row.TotalLoss,
		PriceDecreases:    row.PriceDecreases,
		MaxSingleDecrease: row.MaxSingleDecrease,
		ProductsAffected:  row.ProductsAffected,
	}
	if summary.PriceDecreases > 0 {
		summary.AverageDecrease = summary.TotalLoss / summary.PriceDecreases
	}
	return summary, nil
}
