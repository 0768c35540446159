package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fridge-service/internal/broker"
	"fridge-service/internal/models"
	"fridge-service/internal/util"

	"go.uber.org/zap"
)

// CommandLog remembers which commands were already applied
type CommandLog interface {
	IsCommandProcessed(ctx context.Context, commandID string) (bool, error)
	MarkCommandProcessed(ctx context.Context, commandID, commandType string) error
}

// Locker hands out short-lived distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Invoicer is the part of the invoice ledger the worker drives
type Invoicer interface {
	GenerateInvoices(ctx context.Context, supplierID int64) ([]models.Invoice, error)
	RecordReminder(ctx context.Context, invoiceID, actorID int64, manual bool) (*models.Invoice, error)
}

// InvoiceWorker applies invoice commands sent by an external scheduler
type InvoiceWorker struct {
	consumer *broker.Consumer
	handler  *broker.CommandHandler
	commands CommandLog
	locker   Locker
	invoicer Invoicer
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewInvoiceWorker creates a new invoice worker. locker may be nil.
func NewInvoiceWorker(
	consumer *broker.Consumer,
	commands CommandLog,
	locker Locker,
	invoicer Invoicer,
	lockTTL time.Duration,
) *InvoiceWorker {
	w := &InvoiceWorker{
		consumer: consumer,
		handler:  broker.NewCommandHandler(),
		commands: commands,
		locker:   locker,
		invoicer: invoicer,
		lockTTL:  lockTTL,
		logger:   util.GetLogger(),
	}

	w.handler.OnGenerateInvoices(w.HandleGenerateInvoices)
	w.handler.OnSendReminder(w.HandleSendReminder)
	return w
}

// Start starts the worker
func (w *InvoiceWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting invoice worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *InvoiceWorker) Stop() error {
	w.logger.Info("Stopping invoice worker")
	return w.consumer.Close()
}

// errInvoicingBusy is returned while another sweep for the supplier holds the
// lock, so the consumer redelivers the command once it is released
var errInvoicingBusy = errors.New("invoice generation already running")

// HandleGenerateInvoices runs one invoicing sweep
func (w *InvoiceWorker) HandleGenerateInvoices(ctx context.Context, cmd *models.GenerateInvoicesCommand) error {
	if done, err := w.alreadyProcessed(ctx, cmd.CommandID); err != nil || done {
		return err
	}

	lockKey := fmt.Sprintf("invoice-generation:%d", cmd.SupplierID)
	if w.locker != nil {
		token, err := w.locker.AcquireLock(ctx, lockKey, w.lockTTL)
		if err != nil {
			return err
		}
		if token == "" {
			w.logger.Info("Invoice generation already running, deferring command",
				zap.String("command_id", cmd.CommandID),
				zap.Int64("supplier_id", cmd.SupplierID))
			return fmt.Errorf("supplier %d: %w", cmd.SupplierID, errInvoicingBusy)
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
				w.logger.Warn("Failed to release invoice generation lock",
					zap.String("lock", lockKey),
					zap.Error(err))
			}
		}()
	}

	invoices, err := w.invoicer.GenerateInvoices(ctx, cmd.SupplierID)
	switch {
	case err == nil:
		w.logger.Info("Scheduled invoicing completed",
			zap.String("command_id", cmd.CommandID),
			zap.Int64("supplier_id", cmd.SupplierID),
			zap.Int("invoices", len(invoices)))
	case isTerminal(err):
		w.logger.Warn("Dropping invoice generation command",
			zap.String("command_id", cmd.CommandID),
			zap.Int64("supplier_id", cmd.SupplierID),
			zap.Error(err))
	default:
		return fmt.Errorf("generate invoices for supplier %d: %w", cmd.SupplierID, err)
	}

	return w.markProcessed(ctx, cmd.CommandID, cmd.CommandType)
}

// HandleSendReminder counts an automatic reminder. Paid invoices are skipped.
func (w *InvoiceWorker) HandleSendReminder(ctx context.Context, cmd *models.SendReminderCommand) error {
	if done, err := w.alreadyProcessed(ctx, cmd.CommandID); err != nil || done {
		return err
	}

	_, err := w.invoicer.RecordReminder(ctx, cmd.InvoiceID, 0, false)
	switch {
	case err == nil:
	case isTerminal(err):
		w.logger.Info("Skipping reminder",
			zap.String("command_id", cmd.CommandID),
			zap.Int64("invoice_id", cmd.InvoiceID),
			zap.Error(err))
	default:
		return fmt.Errorf("record reminder for invoice %d: %w", cmd.InvoiceID, err)
	}

	return w.markProcessed(ctx, cmd.CommandID, cmd.CommandType)
}

func (w *InvoiceWorker) alreadyProcessed(ctx context.Context, commandID string) (bool, error) {
	if commandID == "" {
		return false, nil
	}
	done, err := w.commands.IsCommandProcessed(ctx, commandID)
	if err != nil {
		return false, fmt.Errorf("check command %s: %w", commandID, err)
	}
	if done {
		w.logger.Info("Command already processed", zap.String("command_id", commandID))
	}
	return done, nil
}

func (w *InvoiceWorker) markProcessed(ctx context.Context, commandID, commandType string) error {
	if commandID == "" {
		return nil
	}
	return w.commands.MarkCommandProcessed(ctx, commandID, commandType)
}
