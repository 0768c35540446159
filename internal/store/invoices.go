package store

import (
	"context"
	"fmt"

	"fridge-service/internal/models"

	"github.com/lib/pq"
)

// GetInvoiceByID retrieves an invoice by ID
func (s *Store) GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.GetContext(ctx, &invoice, "SELECT * FROM invoices WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}
	return &invoice, nil
}

// ListInvoicesByBuyer retrieves invoices addressed to a buyer
func (s *Store) ListInvoicesByBuyer(ctx context.Context, buyerID int64) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := s.db.SelectContext(ctx, &invoices,
		"SELECT * FROM invoices WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC", buyerID)
	return invoices, err
}

// ListInvoicesBySupplier retrieves invoices issued by a supplier
func (s *Store) ListInvoicesBySupplier(ctx context.Context, supplierID int64) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := s.db.SelectContext(ctx, &invoices,
		"SELECT * FROM invoices WHERE supplier_id = $1 ORDER BY created_at DESC, id DESC", supplierID)
	return invoices, err
}

// GetUninvoicedBalances aggregates uninvoiced orders per buyer for a supplier
func (s *Store) GetUninvoicedBalances(ctx context.Context, supplierID int64) ([]models.BuyerBalance, error) {
	query := `
		SELECT o.buyer_id, COUNT(*) AS order_count, COALESCE(SUM(s.price), 0) AS total_cost
		FROM orders o
		JOIN stock_lots s ON s.id = o.delivery_id
		WHERE s.supplier_id = $1 AND o.invoice_id IS NULL
		GROUP BY o.buyer_id
		ORDER BY o.buyer_id`

	balances := []models.BuyerBalance{}
	err := s.db.SelectContext(ctx, &balances, query, supplierID)
	return balances, err
}

// LockSupplierInvoicing serializes invoice generation per supplier for the
// rest of the transaction
func (t *txStore) LockSupplierInvoicing(ctx context.Context, supplierID int64) error {
	if _, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", supplierID); err != nil {
		return fmt.Errorf("failed to acquire invoicing lock for supplier %d: %w", supplierID, err)
	}
	return nil
}

// LockUninvoicedOrders selects a supplier's uninvoiced orders FOR UPDATE,
// joined with their lot price
func (t *txStore) LockUninvoicedOrders(ctx context.Context, supplierID int64) ([]models.BillableOrder, error) {
	query := `
		SELECT o.id AS order_id, o.buyer_id, o.delivery_id, s.price
		FROM orders o
		JOIN stock_lots s ON s.id = o.delivery_id
		WHERE s.supplier_id = $1 AND o.invoice_id IS NULL
		ORDER BY o.buyer_id, o.id
		FOR UPDATE OF o`

	orders := []models.BillableOrder{}
	if err := t.tx.SelectContext(ctx, &orders, query, supplierID); err != nil {
		return nil, fmt.Errorf("failed to lock uninvoiced orders: %w", err)
	}
	return orders, nil
}

// InsertInvoice creates a new invoice
func (t *txStore) InsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	query := `
		INSERT INTO invoices (buyer_id, supplier_id, total_cost, is_paid, is_payment_requested)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	if err := t.tx.QueryRowxContext(ctx, query,
		invoice.BuyerID, invoice.SupplierID, invoice.TotalCost, invoice.IsPaid, invoice.IsPaymentRequested,
	).Scan(&invoice.ID, &invoice.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

// AssignOrdersToInvoice stamps invoice_id on still-uninvoiced orders and
// returns how many rows were stamped
func (t *txStore) AssignOrdersToInvoice(ctx context.Context, invoiceID int64, orderIDs []int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET invoice_id = $1 WHERE id = ANY($2) AND invoice_id IS NULL",
		invoiceID, pq.Array(orderIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to assign orders to invoice %d: %w", invoiceID, err)
	}
	return res.RowsAffected()
}

// LockInvoice reads an invoice FOR UPDATE
func (t *txStore) LockInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error) {
	var invoice models.Invoice
	err := t.tx.GetContext(ctx, &invoice, "SELECT * FROM invoices WHERE id = $1 FOR UPDATE", invoiceID)
	if err != nil {
		return nil, notFound(err, "invoice", invoiceID)
	}
	return &invoice, nil
}

// UpdateInvoicePayment writes both payment flags
func (t *txStore) UpdateInvoicePayment(ctx context.Context, invoiceID int64, isPaid, isPaymentRequested bool) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE invoices SET is_paid = $1, is_payment_requested = $2 WHERE id = $3",
		isPaid, isPaymentRequested, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to update invoice %d: %w", invoiceID, err)
	}
	return nil
}

// IncrementInvoiceReminder bumps the manual or automatic reminder counter
func (t *txStore) IncrementInvoiceReminder(ctx context.Context, invoiceID int64, manual bool) error {
	query := "UPDATE invoices SET auto_reminder_count = auto_reminder_count + 1 WHERE id = $1"
	if manual {
		query = "UPDATE invoices SET manual_reminder_count = manual_reminder_count + 1 WHERE id = $1"
	}
	if _, err := t.tx.ExecContext(ctx, query, invoiceID); err != nil {
		return fmt.Errorf("failed to record reminder on invoice %d: %w", invoiceID, err)
	}
	return nil
}
