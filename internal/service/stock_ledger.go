package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"fridge-service/internal/models"
	"fridge-service/internal/store"
	"fridge-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// StockLedger owns stock lots and the reserve/release primitives every other
// mutation is built on
type StockLedger struct {
	repo   Repository
	audit  *AuditSink
	logger *zap.Logger
}

// NewStockLedger creates a new stock ledger
func NewStockLedger(repo Repository, audit *AuditSink) *StockLedger {
	return &StockLedger{
		repo:   repo,
		audit:  audit,
		logger: util.GetLogger(),
	}
}

// prices are stored as NUMERIC(12,2)
var maxPrice = decimal.RequireFromString("9999999999.99")

// AddStockRequest represents a supplier stocking a product
type AddStockRequest struct {
	SupplierID int64           `json:"supplier_id" binding:"required"`
	ProductID  int64           `json:"product_id" binding:"required"`
	Amount     int             `json:"amount" binding:"required,min=1"`
	Price      decimal.Decimal `json:"price"`
}

// AddStock inserts a new lot with its whole amount still available
func (l *StockLedger) AddStock(ctx context.Context, req *AddStockRequest) (lot *models.StockLot, err error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.AddStock",
		attribute.Int64("supplier_id", req.SupplierID))
	defer func() { util.EndSpan(span, err) }()

	if req.SupplierID <= 0 || req.ProductID <= 0 {
		return nil, fmt.Errorf("supplier and product are required: %w", models.ErrInvalidInput)
	}
	if req.Amount <= 0 || req.Amount > math.MaxInt32 {
		return nil, fmt.Errorf("amount must be between 1 and %d, got %d: %w", math.MaxInt32, req.Amount, models.ErrInvalidInput)
	}
	if !req.Price.IsPositive() || req.Price.GreaterThan(maxPrice) {
		return nil, fmt.Errorf("price must be positive and at most %s, got %s: %w", maxPrice, req.Price, models.ErrInvalidInput)
	}
	if !req.Price.Equal(req.Price.Round(2)) {
		return nil, fmt.Errorf("price has more than two decimals, got %s: %w", req.Price, models.ErrInvalidInput)
	}

	lot = &models.StockLot{
		SupplierID:     req.SupplierID,
		ProductID:      req.ProductID,
		AmountSupplied: req.Amount,
		AmountLeft:     req.Amount,
		Price:          req.Price,
	}
	if err := l.repo.InsertStockLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("failed to add stock: %w", err)
	}

	util.StockLotsAddedTotal.Inc()
	l.logger.Info("Stock lot added",
		zap.Int64("lot_id", lot.ID),
		zap.Int64("supplier_id", lot.SupplierID),
		zap.Int("amount", lot.AmountSupplied))

	event := models.NewAuditEvent(models.EventTypeStockAdded, "stock_lot", lot.ID)
	event.ActorID = lot.SupplierID
	event.SupplierID = lot.SupplierID
	event.LotID = lot.ID
	price := lot.Price
	event.Amount = &price
	l.audit.Emit(event)

	return lot, nil
}

// GetStockLot retrieves a stock lot
func (l *StockLedger) GetStockLot(ctx context.Context, id int64) (*models.StockLot, error) {
	return l.repo.GetStockLot(ctx, id)
}

// ListStockLotsBySupplier retrieves a supplier's lots
func (l *StockLedger) ListStockLotsBySupplier(ctx context.Context, supplierID int64) ([]models.StockLot, error) {
	return l.repo.ListStockLotsBySupplier(ctx, supplierID)
}

// Reserve locks one lot inside the caller's transaction and takes quantity
// units from it
func (l *StockLedger) Reserve(ctx context.Context, tx store.Tx, lotID int64, quantity int) (*models.StockLot, error) {
	lots, err := l.ReserveMany(ctx, tx, []models.LotQuantity{{LotID: lotID, Quantity: quantity}})
	if err != nil {
		return nil, err
	}
	return &lots[0], nil
}

// ReserveMany reserves every line of a basket or nothing. All touched lots are
// locked in ascending id order before any check or write; lines are then
// checked in caller order so the error names the first line that cannot be
// covered. The returned lots are in ascending id order.
func (l *StockLedger) ReserveMany(ctx context.Context, tx store.Tx, items []models.LotQuantity) ([]models.StockLot, error) {
	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if len(items) == 0 {
		return nil, fmt.Errorf("nothing to reserve: %w", models.ErrInvalidInput)
	}

	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if item.LotID <= 0 || item.Quantity <= 0 {
			return nil, fmt.Errorf("invalid line lot=%d quantity=%d: %w", item.LotID, item.Quantity, models.ErrInvalidInput)
		}
		if !seen[item.LotID] {
			seen[item.LotID] = true
			ids = append(ids, item.LotID)
		}
	}
	slices.Sort(ids)

	locked, err := tx.LockStockLots(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]models.StockLot, len(locked))
	remaining := make(map[int64]int, len(locked))
	for _, lot := range locked {
		byID[lot.ID] = lot
		remaining[lot.ID] = lot.AmountLeft
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("stock lot %d: %w", id, models.ErrNotFound)
		}
	}

	for _, item := range items {
		if remaining[item.LotID] < item.Quantity {
			return nil, &models.OutOfStockError{
				LotID:     item.LotID,
				Requested: item.Quantity,
				Available: remaining[item.LotID],
			}
		}
		remaining[item.LotID] -= item.Quantity
	}

	updated := make([]models.StockLot, 0, len(ids))
	for _, id := range ids {
		lot := byID[id]
		lot.AmountLeft = remaining[id]
		if err := tx.SetStockLotAmountLeft(ctx, id, lot.AmountLeft); err != nil {
			return nil, err
		}
		updated = append(updated, lot)
	}

	return updated, nil
}

// Release puts quantity units back on a lot inside the caller's transaction.
// amount_left never exceeds amount_supplied; a release that would push it
// past is clamped and logged as a programming error.
func (l *StockLedger) Release(ctx context.Context, tx store.Tx, lotID int64, quantity int) (*models.StockLot, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("release quantity must be positive, got %d: %w", quantity, models.ErrInvalidInput)
	}

	locked, err := tx.LockStockLots(ctx, []int64{lotID})
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return nil, fmt.Errorf("stock lot %d: %w", lotID, models.ErrNotFound)
	}

	lot := locked[0]
	next := lot.AmountLeft + quantity
	if next > lot.AmountSupplied {
		util.StockReleaseClampedTotal.Inc()
		l.logger.Error("Stock release exceeds supplied amount, clamping",
			zap.Int64("lot_id", lot.ID),
			zap.Int("amount_left", lot.AmountLeft),
			zap.Int("amount_supplied", lot.AmountSupplied),
			zap.Int("quantity", quantity))
		next = lot.AmountSupplied
	}

	if err := tx.SetStockLotAmountLeft(ctx, lot.ID, next); err != nil {
		return nil, err
	}
	lot.AmountLeft = next
	return &lot, nil
}
