package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"fridge-service/internal/models"
	"fridge-service/internal/store"
	"fridge-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InvoiceLedger batches uninvoiced orders into invoices and drives the
// invoice payment state machine
type InvoiceLedger struct {
	repo   Repository
	audit  *AuditSink
	logger *zap.Logger
}

// NewInvoiceLedger creates a new invoice ledger
func NewInvoiceLedger(repo Repository, audit *AuditSink) *InvoiceLedger {
	return &InvoiceLedger{
		repo:   repo,
		audit:  audit,
		logger: util.GetLogger(),
	}
}

var transitionEvents = map[models.PaymentAction]string{
	models.PaymentActionRequest: models.EventTypePaymentRequested,
	models.PaymentActionCancel:  models.EventTypePaymentRequestCancelled,
	models.PaymentActionApprove: models.EventTypePaymentApproved,
	models.PaymentActionReject:  models.EventTypePaymentRejected,
}

type buyerGroup struct {
	buyerID  int64
	orderIDs []int64
	total    decimal.Decimal
}

// GenerateInvoices sweeps every uninvoiced order of a supplier into one
// invoice per buyer. The run holds a supplier-scoped advisory lock and row
// locks on the selected orders, so concurrent runs cannot bill an order twice.
func (l *InvoiceLedger) GenerateInvoices(ctx context.Context, supplierID int64) (invoices []models.Invoice, err error) {
	ctx, span := util.StartSpan(ctx, "InvoiceLedger.GenerateInvoices",
		attribute.Int64("supplier_id", supplierID))
	defer func() { util.EndSpan(span, err) }()

	if supplierID <= 0 {
		return nil, fmt.Errorf("supplier=%d: %w", supplierID, models.ErrInvalidInput)
	}

	start := time.Now()
	defer func() {
		util.InvoiceGenerationLatency.Observe(time.Since(start).Seconds())
	}()

	err = l.repo.WithTx(ctx, func(tx store.Tx) error {
		invoices = []models.Invoice{}

		if err := tx.LockSupplierInvoicing(ctx, supplierID); err != nil {
			return err
		}

		billable, err := tx.LockUninvoicedOrders(ctx, supplierID)
		if err != nil {
			return err
		}

		for _, group := range groupByBuyer(billable) {
			invoice := models.Invoice{
				BuyerID:    group.buyerID,
				SupplierID: supplierID,
				TotalCost:  group.total,
			}
			if group.buyerID == supplierID {
				invoice.IsPaid = true
				invoice.IsPaymentRequested = true
			}

			if err := tx.InsertInvoice(ctx, &invoice); err != nil {
				return err
			}

			stamped, err := tx.AssignOrdersToInvoice(ctx, invoice.ID, group.orderIDs)
			if err != nil {
				return err
			}
			if stamped != int64(len(group.orderIDs)) {
				return fmt.Errorf("invoice %d for buyer %d: stamped %d of %d orders",
					invoice.ID, group.buyerID, stamped, len(group.orderIDs))
			}

			invoices = append(invoices, invoice)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("Invoice generation failed",
			zap.Int64("supplier_id", supplierID),
			zap.Error(err))
		return nil, err
	}

	events := make([]*models.AuditEvent, 0, len(invoices))
	for i := range invoices {
		kind := "regular"
		if invoices[i].BuyerID == supplierID {
			kind = "self"
		}
		util.InvoicesGeneratedTotal.WithLabelValues(kind).Inc()
		events = append(events, models.InvoiceEvent(models.EventTypeInvoiceCreated, &invoices[i], supplierID))
	}
	l.audit.Emit(events...)

	l.logger.Info("Invoices generated",
		zap.Int64("supplier_id", supplierID),
		zap.Int("count", len(invoices)))

	return invoices, nil
}

// groupByBuyer partitions billable orders per buyer, buyers in ascending id order
func groupByBuyer(billable []models.BillableOrder) []buyerGroup {
	byBuyer := make(map[int64]*buyerGroup)
	buyers := make([]int64, 0)
	for _, order := range billable {
		group, ok := byBuyer[order.BuyerID]
		if !ok {
			group = &buyerGroup{buyerID: order.BuyerID, total: decimal.Zero}
			byBuyer[order.BuyerID] = group
			buyers = append(buyers, order.BuyerID)
		}
		group.orderIDs = append(group.orderIDs, order.OrderID)
		group.total = group.total.Add(order.Price)
	}
	slices.Sort(buyers)

	groups := make([]buyerGroup, 0, len(buyers))
	for _, buyerID := range buyers {
		groups = append(groups, *byBuyer[buyerID])
	}
	return groups
}

// GetUninvoicedSummary aggregates what GenerateInvoices would bill right now
func (l *InvoiceLedger) GetUninvoicedSummary(ctx context.Context, supplierID int64) (*models.UninvoicedSummary, error) {
	balances, err := l.repo.GetUninvoicedBalances(ctx, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to load uninvoiced balances: %w", err)
	}

	summary := &models.UninvoicedSummary{
		SupplierID: supplierID,
		TotalCost:  decimal.Zero,
		Buyers:     balances,
	}
	for _, balance := range balances {
		summary.OrderCount += balance.OrderCount
		summary.TotalCost = summary.TotalCost.Add(balance.TotalCost)
	}
	return summary, nil
}

// RequestPayment marks an unpaid invoice as paid by its buyer, pending approval
func (l *InvoiceLedger) RequestPayment(ctx context.Context, invoiceID, buyerID int64) (*models.Invoice, error) {
	return l.ApplyPaymentAction(ctx, invoiceID, buyerID, models.PaymentActionRequest)
}

// CancelPaymentRequest lets the buyer retract a payment request
func (l *InvoiceLedger) CancelPaymentRequest(ctx context.Context, invoiceID, buyerID int64) (*models.Invoice, error) {
	return l.ApplyPaymentAction(ctx, invoiceID, buyerID, models.PaymentActionCancel)
}

// ApprovePayment lets the supplier confirm the money arrived
func (l *InvoiceLedger) ApprovePayment(ctx context.Context, invoiceID, supplierID int64) (*models.Invoice, error) {
	return l.ApplyPaymentAction(ctx, invoiceID, supplierID, models.PaymentActionApprove)
}

// RejectPayment lets the supplier reopen an invoice
func (l *InvoiceLedger) RejectPayment(ctx context.Context, invoiceID, supplierID int64) (*models.Invoice, error) {
	return l.ApplyPaymentAction(ctx, invoiceID, supplierID, models.PaymentActionReject)
}

// ApplyPaymentAction runs one payment transition under a row lock on the invoice
func (l *InvoiceLedger) ApplyPaymentAction(ctx context.Context, invoiceID, actorID int64, action models.PaymentAction) (invoice *models.Invoice, err error) {
	ctx, span := util.StartSpan(ctx, "InvoiceLedger.ApplyPaymentAction",
		attribute.Int64("invoice_id", invoiceID),
		attribute.String("action", string(action)))
	defer func() { util.EndSpan(span, err) }()

	if !action.IsValid() {
		return nil, fmt.Errorf("payment action %q: %w", action, models.ErrInvalidInput)
	}

	err = l.repo.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := applyPaymentAction(locked, actorID, action); err != nil {
			return err
		}
		if err := tx.UpdateInvoicePayment(ctx, locked.ID, locked.IsPaid, locked.IsPaymentRequested); err != nil {
			return err
		}
		invoice = locked
		return nil
	})

	util.InvoiceTransitionsTotal.WithLabelValues(string(action), transitionOutcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	l.logger.Info("Invoice payment state changed",
		zap.Int64("invoice_id", invoice.ID),
		zap.Int64("actor_id", actorID),
		zap.String("action", string(action)),
		zap.String("status", string(invoice.Status())))

	l.audit.Emit(models.InvoiceEvent(transitionEvents[action], invoice, actorID))
	return invoice, nil
}

// applyPaymentAction is the payment state machine. Ownership is checked before
// state. Approve and reject are accepted from any state.
func applyPaymentAction(invoice *models.Invoice, actorID int64, action models.PaymentAction) error {
	switch action {
	case models.PaymentActionRequest, models.PaymentActionCancel:
		if actorID != invoice.BuyerID {
			return fmt.Errorf("invoice %d belongs to buyer %d: %w", invoice.ID, invoice.BuyerID, models.ErrForbidden)
		}
		if invoice.IsPaid {
			return fmt.Errorf("invoice %d: %w", invoice.ID, models.ErrAlreadyPaid)
		}
		invoice.IsPaymentRequested = action == models.PaymentActionRequest

	case models.PaymentActionApprove, models.PaymentActionReject:
		if actorID != invoice.SupplierID {
			return fmt.Errorf("invoice %d belongs to supplier %d: %w", invoice.ID, invoice.SupplierID, models.ErrForbidden)
		}
		approved := action == models.PaymentActionApprove
		invoice.IsPaid = approved
		invoice.IsPaymentRequested = approved

	default:
		return fmt.Errorf("payment action %q: %w", action, models.ErrInvalidInput)
	}
	return nil
}

func transitionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// RecordReminder counts a payment reminder on an open invoice. Manual
// reminders come from the invoice's supplier; automatic ones come from the
// scheduler and carry no actor.
func (l *InvoiceLedger) RecordReminder(ctx context.Context, invoiceID, actorID int64, manual bool) (invoice *models.Invoice, err error) {
	ctx, span := util.StartSpan(ctx, "InvoiceLedger.RecordReminder",
		attribute.Int64("invoice_id", invoiceID),
		attribute.Bool("manual", manual))
	defer func() { util.EndSpan(span, err) }()

	err = l.repo.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if manual && actorID != locked.SupplierID {
			return fmt.Errorf("invoice %d belongs to supplier %d: %w", locked.ID, locked.SupplierID, models.ErrForbidden)
		}
		if locked.IsPaid {
			return fmt.Errorf("invoice %d: %w", locked.ID, models.ErrAlreadyPaid)
		}
		if err := tx.IncrementInvoiceReminder(ctx, locked.ID, manual); err != nil {
			return err
		}
		if manual {
			locked.ManualReminderCount++
		} else {
			locked.AutoReminderCount++
		}
		invoice = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := models.InvoiceEvent(models.EventTypeReminderSent, invoice, actorID)
	event.Manual = manual
	l.audit.Emit(event)

	return invoice, nil
}

// GetInvoice retrieves an invoice by ID
func (l *InvoiceLedger) GetInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error) {
	return l.repo.GetInvoiceByID(ctx, invoiceID)
}

// ListInvoiceOrders retrieves the orders billed on an invoice
func (l *InvoiceLedger) ListInvoiceOrders(ctx context.Context, invoiceID int64) ([]models.Order, error) {
	if _, err := l.repo.GetInvoiceByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return l.repo.ListOrdersByInvoice(ctx, invoiceID)
}

// ListInvoicesByBuyer retrieves a buyer's invoices
func (l *InvoiceLedger) ListInvoicesByBuyer(ctx context.Context, buyerID int64) ([]models.Invoice, error) {
	return l.repo.ListInvoicesByBuyer(ctx, buyerID)
}

// ListInvoicesBySupplier retrieves a supplier's invoices
func (l *InvoiceLedger) ListInvoicesBySupplier(ctx context.Context, supplierID int64) ([]models.Invoice, error) {
	return l.repo.ListInvoicesBySupplier(ctx, supplierID)
}
