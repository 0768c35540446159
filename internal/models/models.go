package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockLot is a supplier's delivery of one product at a fixed unit price
type StockLot struct {
	ID             int64           `db:"id" json:"id"`
	SupplierID     int64           `db:"supplier_id" json:"supplier_id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	AmountSupplied int             `db:"amount_supplied" json:"amount_supplied"`
	AmountLeft     int             `db:"amount_left" json:"amount_left"`
	Price          decimal.Decimal `db:"price" json:"price"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// Order is one purchased unit drawn from one stock lot
type Order struct {
	ID         int64     `db:"id" json:"id"`
	BuyerID    int64     `db:"buyer_id" json:"buyer_id"`
	DeliveryID int64     `db:"delivery_id" json:"delivery_id"`
	Channel    Channel   `db:"channel" json:"channel"`
	InvoiceID  *int64    `db:"invoice_id" json:"invoice_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// IsInvoiced reports whether the order has passed the invoicing gate
func (o *Order) IsInvoiced() bool {
	return o.InvoiceID != nil
}

// Invoice batches a buyer's orders against one supplier
type Invoice struct {
	ID                  int64           `db:"id" json:"id"`
	BuyerID             int64           `db:"buyer_id" json:"buyer_id"`
	SupplierID          int64           `db:"supplier_id" json:"supplier_id"`
	TotalCost           decimal.Decimal `db:"total_cost" json:"total_cost"`
	IsPaid              bool            `db:"is_paid" json:"is_paid"`
	IsPaymentRequested  bool            `db:"is_payment_requested" json:"is_payment_requested"`
	AutoReminderCount   int             `db:"auto_reminder_count" json:"auto_reminder_count"`
	ManualReminderCount int             `db:"manual_reminder_count" json:"manual_reminder_count"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// Status derives the payment state from the two flags
func (i *Invoice) Status() InvoiceStatus {
	switch {
	case i.IsPaid:
		return InvoiceStatusPaid
	case i.IsPaymentRequested:
		return InvoiceStatusPaymentRequested
	default:
		return InvoiceStatusUnpaid
	}
}

// BillableOrder is an uninvoiced order joined with the price of its lot
type BillableOrder struct {
	OrderID    int64           `db:"order_id"`
	BuyerID    int64           `db:"buyer_id"`
	DeliveryID int64           `db:"delivery_id"`
	Price      decimal.Decimal `db:"price"`
}

// BuyerBalance is one buyer's uninvoiced total against a supplier
type BuyerBalance struct {
	BuyerID    int64           `db:"buyer_id" json:"buyer_id"`
	OrderCount int             `db:"order_count" json:"order_count"`
	TotalCost  decimal.Decimal `db:"total_cost" json:"total_cost"`
}

// UninvoicedSummary aggregates everything a supplier could invoice right now
type UninvoicedSummary struct {
	SupplierID int64           `json:"supplier_id"`
	OrderCount int             `json:"order_count"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Buyers     []BuyerBalance  `json:"buyers"`
}

// LotQuantity is one line of a basket
type LotQuantity struct {
	LotID    int64 `json:"lot_id" binding:"required"`
	Quantity int   `json:"quantity" binding:"required,min=1"`
}

// Channel is the purchase surface an order came through
type Channel string

const (
	ChannelWeb     Channel = "web"
	ChannelKiosk   Channel = "kiosk"
	ChannelScanner Channel = "scanner"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelWeb, ChannelKiosk, ChannelScanner:
		return true
	}
	return false
}

// InvoiceStatus is the derived payment state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusUnpaid           InvoiceStatus = "UNPAID"
	InvoiceStatusPaymentRequested InvoiceStatus = "PAYMENT_REQUESTED"
	InvoiceStatusPaid             InvoiceStatus = "PAID"
)

// PaymentAction is a transition of the invoice payment state machine
type PaymentAction string

const (
	PaymentActionRequest PaymentAction = "request"
	PaymentActionCancel  PaymentAction = "cancel"
	PaymentActionApprove PaymentAction = "approve"
	PaymentActionReject  PaymentAction = "reject"
)

func (a PaymentAction) IsValid() bool {
	switch a {
	case PaymentActionRequest, PaymentActionCancel, PaymentActionApprove, PaymentActionReject:
		return true
	}
	return false
}

// IdempotencyRecord is what a purchase request left behind under its key
type IdempotencyRecord struct {
	Fingerprint string  `json:"fingerprint"`
	OrderIDs    []int64 `json:"order_ids"`
}

// ProcessedCommand for idempotency
type ProcessedCommand struct {
	CommandID   string    `db:"command_id"`
	CommandType string    `db:"command_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
