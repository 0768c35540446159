package service

import (
	"context"
	"fmt"

	"fridge-service/internal/models"
	"fridge-service/internal/store"
	"fridge-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CancellationService reverses orders that have not been invoiced yet
type CancellationService struct {
	repo   Repository
	ledger *StockLedger
	audit  *AuditSink
	logger *zap.Logger
}

// NewCancellationService creates a new cancellation service
func NewCancellationService(repo Repository, ledger *StockLedger, audit *AuditSink) *CancellationService {
	return &CancellationService{
		repo:   repo,
		ledger: ledger,
		audit:  audit,
		logger: util.GetLogger(),
	}
}

// StornoOrder puts the order's unit back on its lot and deletes the order.
// Invoiced orders are past the gate and cannot be cancelled.
func (s *CancellationService) StornoOrder(ctx context.Context, orderID int64) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "CancellationService.StornoOrder",
		attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if locked.IsInvoiced() {
			return fmt.Errorf("order %d on invoice %d: %w", locked.ID, *locked.InvoiceID, models.ErrOrderAlreadyInvoiced)
		}

		if _, err := s.ledger.Release(ctx, tx, locked.DeliveryID, 1); err != nil {
			return err
		}
		if err := tx.DeleteOrder(ctx, locked.ID); err != nil {
			return err
		}
		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.Int64("lot_id", order.DeliveryID),
		zap.Int64("buyer_id", order.BuyerID))

	event := models.NewAuditEvent(models.EventTypeOrderCancelled, "order", order.ID)
	event.BuyerID = order.BuyerID
	event.LotID = order.DeliveryID
	event.Channel = order.Channel
	s.audit.Emit(event)

	return order, nil
}
