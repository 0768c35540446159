package service

import (
	"context"
	"time"

	"fridge-service/internal/models"
	"fridge-service/internal/store"
)

// Repository is the persistence surface the ledger services run on.
// *store.Store implements it.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx store.Tx) error) error

	InsertStockLot(ctx context.Context, lot *models.StockLot) error
	GetStockLot(ctx context.Context, id int64) (*models.StockLot, error)
	ListStockLotsBySupplier(ctx context.Context, supplierID int64) ([]models.StockLot, error)

	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByIDs(ctx context.Context, ids []int64) ([]models.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID int64, uninvoicedOnly bool) ([]models.Order, error)
	ListOrdersByInvoice(ctx context.Context, invoiceID int64) ([]models.Order, error)

	GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error)
	ListInvoicesByBuyer(ctx context.Context, buyerID int64) ([]models.Invoice, error)
	ListInvoicesBySupplier(ctx context.Context, supplierID int64) ([]models.Invoice, error)
	GetUninvoicedBalances(ctx context.Context, supplierID int64) ([]models.BuyerBalance, error)
}

// AuditPublisher delivers audit facts to whoever stores them
type AuditPublisher interface {
	PublishAudit(ctx context.Context, event *models.AuditEvent) error
}

// IdempotencyStore remembers which orders a purchase request produced.
// GetRecord returns nil when the key is unknown.
type IdempotencyStore interface {
	GetRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	SaveRecord(ctx context.Context, key string, record *models.IdempotencyRecord, ttl time.Duration) error
	DeleteRecord(ctx context.Context, key string) error
}
