package store

import (
	"context"
	"fmt"

	"fridge-service/internal/models"

	"github.com/lib/pq"
)

// InsertStockLot creates a new stock lot
func (s *Store) InsertStockLot(ctx context.Context, lot *models.StockLot) error {
	query := `
		INSERT INTO stock_lots (supplier_id, product_id, amount_supplied, amount_left, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query,
		lot.SupplierID, lot.ProductID, lot.AmountSupplied, lot.AmountLeft, lot.Price,
	).Scan(&lot.ID, &lot.CreatedAt)
}

// GetStockLot retrieves a stock lot by ID
func (s *Store) GetStockLot(ctx context.Context, id int64) (*models.StockLot, error) {
	var lot models.StockLot
	err := s.db.GetContext(ctx, &lot, "SELECT * FROM stock_lots WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "stock lot", id)
	}
	return &lot, nil
}

// ListStockLotsBySupplier retrieves a supplier's lots, newest first
func (s *Store) ListStockLotsBySupplier(ctx context.Context, supplierID int64) ([]models.StockLot, error) {
	lots := []models.StockLot{}
	err := s.db.SelectContext(ctx, &lots,
		"SELECT * FROM stock_lots WHERE supplier_id = $1 ORDER BY created_at DESC, id DESC", supplierID)
	return lots, err
}

// LockStockLots reads the given lots FOR UPDATE. Rows are locked in ascending
// id order so that overlapping baskets cannot deadlock each other.
func (t *txStore) LockStockLots(ctx context.Context, ids []int64) ([]models.StockLot, error) {
	lots := []models.StockLot{}
	if len(ids) == 0 {
		return lots, nil
	}

	err := t.tx.SelectContext(ctx, &lots,
		"SELECT * FROM stock_lots WHERE id = ANY($1) ORDER BY id FOR UPDATE", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock lots: %w", err)
	}
	return lots, nil
}

// SetStockLotAmountLeft writes the remaining quantity of a locked lot
func (t *txStore) SetStockLotAmountLeft(ctx context.Context, lotID int64, amountLeft int) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE stock_lots SET amount_left = $1 WHERE id = $2", amountLeft, lotID)
	if err != nil {
		return fmt.Errorf("failed to update stock lot %d: %w", lotID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stock lot %d: %w", lotID, models.ErrNotFound)
	}
	return nil
}
