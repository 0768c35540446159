package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fridge-service/internal/models"
	"fridge-service/internal/store"
	"fridge-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService turns stock reservations into order rows
type OrderService struct {
	repo           Repository
	ledger         *StockLedger
	audit          *AuditSink
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewOrderService creates a new order service. idempotency may be nil.
func NewOrderService(
	repo Repository,
	ledger *StockLedger,
	audit *AuditSink,
	idempotency IdempotencyStore,
	idempotencyTTL time.Duration,
) *OrderService {
	return &OrderService{
		repo:           repo,
		ledger:         ledger,
		audit:          audit,
		idempotency:    idempotency,
		idempotencyTTL: idempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// PurchaseRequest represents a single-unit purchase
type PurchaseRequest struct {
	BuyerID        int64          `json:"buyer_id" binding:"required"`
	LotID          int64          `json:"lot_id" binding:"required"`
	Channel        models.Channel `json:"channel" binding:"required"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// BasketRequest represents an all-or-nothing multi-lot purchase
type BasketRequest struct {
	BuyerID        int64                `json:"buyer_id" binding:"required"`
	Channel        models.Channel       `json:"channel" binding:"required"`
	Items          []models.LotQuantity `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// Purchase buys one unit from one lot in a single transaction
func (s *OrderService) Purchase(ctx context.Context, req *PurchaseRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Purchase",
		attribute.Int64("buyer_id", req.BuyerID),
		attribute.Int64("lot_id", req.LotID))
	defer func() { util.EndSpan(span, err) }()

	if req.BuyerID <= 0 || req.LotID <= 0 || !req.Channel.IsValid() {
		util.PurchasesFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("buyer=%d lot=%d channel=%q: %w", req.BuyerID, req.LotID, req.Channel, models.ErrInvalidInput)
	}

	fingerprint := purchaseFingerprint(req)
	replayed, ok, err := s.replay(ctx, req.BuyerID, req.IdempotencyKey, fingerprint)
	if err != nil {
		util.PurchasesFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, err
	}
	if ok {
		return &replayed[0], nil
	}

	created := &models.Order{BuyerID: req.BuyerID, DeliveryID: req.LotID, Channel: req.Channel}
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := s.ledger.Reserve(ctx, tx, req.LotID, 1); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, created)
	})
	if err != nil {
		s.recordFailure(err, req.BuyerID)
		return nil, err
	}

	s.afterCommit(ctx, req.IdempotencyKey, fingerprint, []models.Order{*created})
	return created, nil
}

// PurchaseBasket buys every requested unit across all lots, or nothing.
// One order row is created per unit, in the order the items were given.
func (s *OrderService) PurchaseBasket(ctx context.Context, req *BasketRequest) (orders []models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PurchaseBasket",
		attribute.Int64("buyer_id", req.BuyerID),
		attribute.Int("lines", len(req.Items)))
	defer func() { util.EndSpan(span, err) }()

	if req.BuyerID <= 0 || !req.Channel.IsValid() || len(req.Items) == 0 {
		util.PurchasesFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, fmt.Errorf("buyer=%d channel=%q lines=%d: %w", req.BuyerID, req.Channel, len(req.Items), models.ErrInvalidInput)
	}

	fingerprint := basketFingerprint(req)
	replayed, ok, err := s.replay(ctx, req.BuyerID, req.IdempotencyKey, fingerprint)
	if err != nil {
		util.PurchasesFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, err
	}
	if ok {
		return replayed, nil
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := s.ledger.ReserveMany(ctx, tx, req.Items); err != nil {
			return err
		}

		orders = make([]models.Order, 0, totalUnits(req.Items))
		for _, item := range req.Items {
			for i := 0; i < item.Quantity; i++ {
				order := models.Order{BuyerID: req.BuyerID, DeliveryID: item.LotID, Channel: req.Channel}
				if err := tx.InsertOrder(ctx, &order); err != nil {
					return err
				}
				orders = append(orders, order)
			}
		}
		return nil
	})
	if err != nil {
		s.recordFailure(err, req.BuyerID)
		return nil, err
	}

	s.afterCommit(ctx, req.IdempotencyKey, fingerprint, orders)
	return orders, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

// ListOrdersByBuyer retrieves a buyer's orders, optionally only uninvoiced ones
func (s *OrderService) ListOrdersByBuyer(ctx context.Context, buyerID int64, uninvoicedOnly bool) ([]models.Order, error) {
	return s.repo.ListOrdersByBuyer(ctx, buyerID, uninvoicedOnly)
}

// replay returns the orders an earlier request with the same key produced.
// Keys are scoped per buyer. A key reused for a different request is
// rejected; a key whose orders were cancelled since is dropped and the
// request is processed again.
func (s *OrderService) replay(ctx context.Context, buyerID int64, key, fingerprint string) ([]models.Order, bool, error) {
	if key == "" || s.idempotency == nil {
		return nil, false, nil
	}
	scoped := scopedKey(buyerID, key)

	record, err := s.idempotency.GetRecord(ctx, scoped)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, processing request",
			zap.String("idempotency_key", scoped),
			zap.Error(err))
		return nil, false, nil
	}
	if record == nil {
		return nil, false, nil
	}
	if record.Fingerprint != fingerprint {
		return nil, false, fmt.Errorf("idempotency key %q was used for a different request: %w", key, models.ErrInvalidInput)
	}

	orders, err := s.repo.GetOrdersByIDs(ctx, record.OrderIDs)
	if err != nil {
		s.logger.Warn("Failed to load replayed orders, processing request",
			zap.String("idempotency_key", scoped),
			zap.Error(err))
		return nil, false, nil
	}
	if len(record.OrderIDs) == 0 || len(orders) != len(record.OrderIDs) {
		s.logger.Info("Idempotency key refers to cancelled orders, processing request",
			zap.String("idempotency_key", scoped),
			zap.Int64s("order_ids", record.OrderIDs),
			zap.Int("still_present", len(orders)))
		if err := s.idempotency.DeleteRecord(ctx, scoped); err != nil {
			s.logger.Warn("Failed to drop stale idempotency key",
				zap.String("idempotency_key", scoped),
				zap.Error(err))
		}
		return nil, false, nil
	}

	s.logger.Info("Duplicate purchase request detected",
		zap.String("idempotency_key", scoped),
		zap.Int64s("order_ids", record.OrderIDs))
	return orders, true, nil
}

func (s *OrderService) afterCommit(ctx context.Context, key, fingerprint string, orders []models.Order) {
	ids := make([]int64, len(orders))
	events := make([]*models.AuditEvent, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		events[i] = models.OrderCreatedEvent(&orders[i])
		util.OrdersCreatedTotal.WithLabelValues(string(orders[i].Channel)).Inc()
	}

	s.logger.Info("Orders created",
		zap.Int64("buyer_id", orders[0].BuyerID),
		zap.Int64s("order_ids", ids))

	if key != "" && s.idempotency != nil {
		scoped := scopedKey(orders[0].BuyerID, key)
		record := &models.IdempotencyRecord{Fingerprint: fingerprint, OrderIDs: ids}
		if err := s.idempotency.SaveRecord(ctx, scoped, record, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key",
				zap.String("idempotency_key", scoped),
				zap.Error(err))
		}
	}

	s.audit.Emit(events...)
}

func scopedKey(buyerID int64, key string) string {
	return fmt.Sprintf("%d:%s", buyerID, key)
}

func purchaseFingerprint(req *PurchaseRequest) string {
	return fmt.Sprintf("purchase|%s|%d", req.Channel, req.LotID)
}

func basketFingerprint(req *BasketRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "basket|%s", req.Channel)
	for _, item := range req.Items {
		fmt.Fprintf(&b, "|%dx%d", item.LotID, item.Quantity)
	}
	return b.String()
}

func (s *OrderService) recordFailure(err error, buyerID int64) {
	if oos, ok := models.AsOutOfStock(err); ok {
		util.PurchasesFailedTotal.WithLabelValues("out_of_stock").Inc()
		s.logger.Info("Purchase rejected, lot sold out",
			zap.Int64("buyer_id", buyerID),
			zap.Int64("lot_id", oos.LotID),
			zap.Int("requested", oos.Requested),
			zap.Int("available", oos.Available))
		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		util.PurchasesFailedTotal.WithLabelValues("not_found").Inc()
	case errors.Is(err, models.ErrInvalidInput):
		util.PurchasesFailedTotal.WithLabelValues("invalid_input").Inc()
	default:
		util.PurchasesFailedTotal.WithLabelValues("db_error").Inc()
		s.logger.Error("Purchase transaction failed",
			zap.Int64("buyer_id", buyerID),
			zap.Error(err))
	}
}

func totalUnits(items []models.LotQuantity) int {
	var total int
	for _, item := range items {
		total += item.Quantity
	}
	return total
}
