package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"fridge-service/internal/models"
	"fridge-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes audit facts
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishAudit publishes one audit fact keyed by its aggregate, so facts
// about the same order or invoice stay ordered
func (ep *EventPublisher) PublishAudit(ctx context.Context, event *models.AuditEvent) error {
	return ep.producer.PublishEvent(ctx, auditKey(event), event)
}

func auditKey(event *models.AuditEvent) string {
	return fmt.Sprintf("%s-%d", event.AggregateType, event.AggregateID)
}

// CommandHandler routes invoice commands
type CommandHandler struct {
	onGenerateInvoices func(context.Context, *models.GenerateInvoicesCommand) error
	onSendReminder     func(context.Context, *models.SendReminderCommand) error
	logger             *zap.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler() *CommandHandler {
	return &CommandHandler{logger: util.GetLogger()}
}

// OnGenerateInvoices registers a handler for GENERATE_INVOICES commands
func (ch *CommandHandler) OnGenerateInvoices(handler func(context.Context, *models.GenerateInvoicesCommand) error) {
	ch.onGenerateInvoices = handler
}

// OnSendReminder registers a handler for SEND_REMINDER commands
func (ch *CommandHandler) OnSendReminder(handler func(context.Context, *models.SendReminderCommand) error) {
	ch.onSendReminder = handler
}

// HandleMessage routes messages to appropriate handlers. Malformed and unknown
// commands are logged and dropped so they do not block the partition.
func (ch *CommandHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseCommand
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		ch.logger.Error("Dropping malformed command",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	ch.logger.Info("Handling command",
		zap.String("command_type", base.CommandType),
		zap.String("command_id", base.CommandID))

	switch base.CommandType {
	case models.CommandTypeGenerateInvoices:
		if ch.onGenerateInvoices != nil {
			var cmd models.GenerateInvoicesCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				ch.logger.Error("Dropping malformed GenerateInvoices command",
					zap.String("command_id", base.CommandID),
					zap.Error(err))
				return nil
			}
			return ch.onGenerateInvoices(ctx, &cmd)
		}

	case models.CommandTypeSendReminder:
		if ch.onSendReminder != nil {
			var cmd models.SendReminderCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				ch.logger.Error("Dropping malformed SendReminder command",
					zap.String("command_id", base.CommandID),
					zap.Error(err))
				return nil
			}
			return ch.onSendReminder(ctx, &cmd)
		}

	default:
		ch.logger.Warn("Unhandled command type", zap.String("command_type", base.CommandType))
	}

	return nil
}
