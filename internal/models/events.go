package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Audit event types
const (
	EventTypeStockAdded              = "stock.added"
	EventTypeOrderCreated            = "order.created"
	EventTypeOrderCancelled          = "order.cancelled"
	EventTypeInvoiceCreated          = "invoice.created"
	EventTypePaymentRequested        = "invoice.payment_requested"
	EventTypePaymentRequestCancelled = "invoice.payment_request_cancelled"
	EventTypePaymentApproved         = "invoice.payment_approved"
	EventTypePaymentRejected         = "invoice.payment_rejected"
	EventTypeReminderSent            = "invoice.reminder_sent"
)

// Command types consumed from the invoice command topic
const (
	CommandTypeGenerateInvoices = "GENERATE_INVOICES"
	CommandTypeSendReminder     = "SEND_REMINDER"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEvent is a fact emitted after a committed mutation
type AuditEvent struct {
	BaseEvent
	AggregateType string           `json:"aggregate_type"`
	AggregateID   int64            `json:"aggregate_id"`
	ActorID       int64            `json:"actor_id,omitempty"`
	BuyerID       int64            `json:"buyer_id,omitempty"`
	SupplierID    int64            `json:"supplier_id,omitempty"`
	LotID         int64            `json:"lot_id,omitempty"`
	Channel       Channel          `json:"channel,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Manual        bool             `json:"manual,omitempty"`
}

// NewAuditEvent stamps a fresh event id and timestamp
func NewAuditEvent(eventType, aggregateType string, aggregateID int64) *AuditEvent {
	return &AuditEvent{
		BaseEvent: BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
	}
}

// OrderCreatedEvent builds the order.created fact
func OrderCreatedEvent(order *Order) *AuditEvent {
	e := NewAuditEvent(EventTypeOrderCreated, "order", order.ID)
	e.ActorID = order.BuyerID
	e.BuyerID = order.BuyerID
	e.LotID = order.DeliveryID
	e.Channel = order.Channel
	return e
}

// InvoiceEvent builds an invoice.* fact
func InvoiceEvent(eventType string, invoice *Invoice, actorID int64) *AuditEvent {
	e := NewAuditEvent(eventType, "invoice", invoice.ID)
	total := invoice.TotalCost
	e.ActorID = actorID
	e.BuyerID = invoice.BuyerID
	e.SupplierID = invoice.SupplierID
	e.Amount = &total
	return e
}

// BaseCommand contains common fields for all commands
type BaseCommand struct {
	CommandID   string    `json:"command_id"`
	CommandType string    `json:"command_type"`
	Timestamp   time.Time `json:"timestamp"`
}

// GenerateInvoicesCommand asks for an invoicing sweep of one supplier
type GenerateInvoicesCommand struct {
	BaseCommand
	SupplierID int64 `json:"supplier_id"`
}

// SendReminderCommand asks for an automatic payment reminder on one invoice
type SendReminderCommand struct {
	BaseCommand
	InvoiceID int64 `json:"invoice_id"`
}
