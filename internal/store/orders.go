package store

import (
	"context"
	"fmt"

	"fridge-service/internal/models"

	"github.com/lib/pq"
)

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// GetOrdersByIDs retrieves the orders that still exist among ids
func (s *Store) GetOrdersByIDs(ctx context.Context, ids []int64) ([]models.Order, error) {
	orders := []models.Order{}
	if len(ids) == 0 {
		return orders, nil
	}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	return orders, err
}

// ListOrdersByBuyer retrieves orders for a buyer
func (s *Store) ListOrdersByBuyer(ctx context.Context, buyerID int64, uninvoicedOnly bool) ([]models.Order, error) {
	query := "SELECT * FROM orders WHERE buyer_id = $1"
	if uninvoicedOnly {
		query += " AND invoice_id IS NULL"
	}
	query += " ORDER BY created_at DESC, id DESC"

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders, query, buyerID)
	return orders, err
}

// ListOrdersByInvoice retrieves the orders billed on an invoice
func (s *Store) ListOrdersByInvoice(ctx context.Context, invoiceID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE invoice_id = $1 ORDER BY id", invoiceID)
	return orders, err
}

// InsertOrder creates a new uninvoiced order
func (t *txStore) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (buyer_id, delivery_id, channel)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	if err := t.tx.QueryRowxContext(ctx, query, order.BuyerID, order.DeliveryID, order.Channel).
		Scan(&order.ID, &order.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	order.InvoiceID = nil
	return nil
}

// LockOrder reads an order FOR UPDATE
func (t *txStore) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, notFound(err, "order", orderID)
	}
	return &order, nil
}

// DeleteOrder removes an order that has not been invoiced
func (t *txStore) DeleteOrder(ctx context.Context, orderID int64) error {
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM orders WHERE id = $1 AND invoice_id IS NULL", orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order %d: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", orderID, models.ErrOrderAlreadyInvoiced)
	}
	return nil
}
