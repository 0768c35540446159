package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fridge-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Tx is the set of queries that only make sense inside a database transaction.
// Every Lock* method takes row locks that are held until commit or rollback.
type Tx interface {
	LockStockLots(ctx context.Context, ids []int64) ([]models.StockLot, error)
	SetStockLotAmountLeft(ctx context.Context, lotID int64, amountLeft int) error
	InsertOrder(ctx context.Context, order *models.Order) error
	LockOrder(ctx context.Context, orderID int64) (*models.Order, error)
	DeleteOrder(ctx context.Context, orderID int64) error
	LockSupplierInvoicing(ctx context.Context, supplierID int64) error
	LockUninvoicedOrders(ctx context.Context, supplierID int64) ([]models.BillableOrder, error)
	InsertInvoice(ctx context.Context, invoice *models.Invoice) error
	AssignOrdersToInvoice(ctx context.Context, invoiceID int64, orderIDs []int64) (int64, error)
	LockInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error)
	UpdateInvoicePayment(ctx context.Context, invoiceID int64, isPaid, isPaymentRequested bool) error
	IncrementInvoiceReminder(ctx context.Context, invoiceID int64, manual bool) error
}

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

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside one transaction. The transaction commits only if fn
// returns nil; errors and panics roll it back.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&txStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sqlx.Tx
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, models.ErrNotFound)
	}
	return err
}

// IsCommandProcessed checks if a broker command has been handled
func (s *Store) IsCommandProcessed(ctx context.Context, commandID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_commands WHERE command_id = $1)", commandID)
	return exists, err
}

// MarkCommandProcessed records a broker command as handled
func (s *Store) MarkCommandProcessed(ctx context.Context, commandID, commandType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_commands (command_id, command_type) VALUES ($1, $2) ON CONFLICT (command_id) DO NOTHING",
		commandID, commandType)
	return err
}
