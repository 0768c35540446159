package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"fridge-service/internal/models"
	"fridge-service/internal/store"
)

// memStore is an in-memory Repository. Transactions are serialized by one
// mutex and run against a copy of the data, which replaces the committed
// state only when fn succeeds.
type memStore struct {
	mu       sync.Mutex
	data     memData
	faults   map[string]*fault
	lockLogs [][]int64
}

type memData struct {
	lots     map[int64]models.StockLot
	orders   map[int64]models.Order
	invoices map[int64]models.Invoice
	nextID   int64
}

type fault struct {
	after int
	calls int
	err   error
}

func newMemStore() *memStore {
	return &memStore{
		data: memData{
			lots:     map[int64]models.StockLot{},
			orders:   map[int64]models.Order{},
			invoices: map[int64]models.Invoice{},
		},
		faults: map[string]*fault{},
	}
}

func (d memData) clone() memData {
	c := memData{
		lots:     make(map[int64]models.StockLot, len(d.lots)),
		orders:   make(map[int64]models.Order, len(d.orders)),
		invoices: make(map[int64]models.Invoice, len(d.invoices)),
		nextID:   d.nextID,
	}
	for k, v := range d.lots {
		c.lots[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	return c
}

// failAfter makes method fail once it has succeeded after times
func (m *memStore) failAfter(method string, after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[method] = &fault{after: after, err: err}
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, data: m.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

func (m *memStore) InsertStockLot(ctx context.Context, lot *models.StockLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.nextID++
	lot.ID = m.data.nextID
	lot.CreatedAt = time.Now()
	m.data.lots[lot.ID] = *lot
	return nil
}

func (m *memStore) GetStockLot(ctx context.Context, id int64) (*models.StockLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lot, ok := m.data.lots[id]
	if !ok {
		return nil, fmt.Errorf("stock lot %d: %w", id, models.ErrNotFound)
	}
	return &lot, nil
}

func (m *memStore) ListStockLotsBySupplier(ctx context.Context, supplierID int64) ([]models.StockLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lots := []models.StockLot{}
	for _, lot := range m.data.lots {
		if lot.SupplierID == supplierID {
			lots = append(lots, lot)
		}
	}
	slices.SortFunc(lots, func(a, b models.StockLot) int { return int(b.ID - a.ID) })
	return lots, nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.data.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	return &order, nil
}

func (m *memStore) GetOrdersByIDs(ctx context.Context, ids []int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := []models.Order{}
	for _, id := range ids {
		if order, ok := m.data.orders[id]; ok {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (m *memStore) ListOrdersByBuyer(ctx context.Context, buyerID int64, uninvoicedOnly bool) ([]models.Order, error) {
	return m.filterOrders(func(o models.Order) bool {
		return o.BuyerID == buyerID && (!uninvoicedOnly || o.InvoiceID == nil)
	}), nil
}

func (m *memStore) ListOrdersByInvoice(ctx context.Context, invoiceID int64) ([]models.Order, error) {
	return m.filterOrders(func(o models.Order) bool {
		return o.InvoiceID != nil && *o.InvoiceID == invoiceID
	}), nil
}

func (m *memStore) filterOrders(keep func(models.Order) bool) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := []models.Order{}
	for _, order := range m.data.orders {
		if keep(order) {
			orders = append(orders, order)
		}
	}
	slices.SortFunc(orders, func(a, b models.Order) int { return int(a.ID - b.ID) })
	return orders
}

func (m *memStore) GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoice, ok := m.data.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, models.ErrNotFound)
	}
	return &invoice, nil
}

func (m *memStore) ListInvoicesByBuyer(ctx context.Context, buyerID int64) ([]models.Invoice, error) {
	return m.filterInvoices(func(i models.Invoice) bool { return i.BuyerID == buyerID }), nil
}

func (m *memStore) ListInvoicesBySupplier(ctx context.Context, supplierID int64) ([]models.Invoice, error) {
	return m.filterInvoices(func(i models.Invoice) bool { return i.SupplierID == supplierID }), nil
}

func (m *memStore) filterInvoices(keep func(models.Invoice) bool) []models.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoices := []models.Invoice{}
	for _, invoice := range m.data.invoices {
		if keep(invoice) {
			invoices = append(invoices, invoice)
		}
	}
	slices.SortFunc(invoices, func(a, b models.Invoice) int { return int(a.ID - b.ID) })
	return invoices
}

func (m *memStore) GetUninvoicedBalances(ctx context.Context, supplierID int64) ([]models.BuyerBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	billable := uninvoicedFor(m.data, supplierID)
	balances := []models.BuyerBalance{}
	for _, group := range groupByBuyer(billable) {
		balances = append(balances, models.BuyerBalance{
			BuyerID:    group.buyerID,
			OrderCount: len(group.orderIDs),
			TotalCost:  group.total,
		})
	}
	return balances, nil
}

func uninvoicedFor(d memData, supplierID int64) []models.BillableOrder {
	billable := []models.BillableOrder{}
	for _, order := range d.orders {
		lot := d.lots[order.DeliveryID]
		if lot.SupplierID == supplierID && order.InvoiceID == nil {
			billable = append(billable, models.BillableOrder{
				OrderID:    order.ID,
				BuyerID:    order.BuyerID,
				DeliveryID: order.DeliveryID,
				Price:      lot.Price,
			})
		}
	}
	slices.SortFunc(billable, func(a, b models.BillableOrder) int { return int(a.OrderID - b.OrderID) })
	return billable
}

type memTx struct {
	store *memStore
	data  memData
}

func (t *memTx) fault(method string) error {
	f, ok := t.store.faults[method]
	if !ok {
		return nil
	}
	f.calls++
	if f.calls > f.after {
		return f.err
	}
	return nil
}

func (t *memTx) LockStockLots(ctx context.Context, ids []int64) ([]models.StockLot, error) {
	if err := t.fault("LockStockLots"); err != nil {
		return nil, err
	}
	t.store.lockLogs = append(t.store.lockLogs, slices.Clone(ids))

	lots := []models.StockLot{}
	for _, id := range ids {
		if lot, ok := t.data.lots[id]; ok {
			lots = append(lots, lot)
		}
	}
	slices.SortFunc(lots, func(a, b models.StockLot) int { return int(a.ID - b.ID) })
	return lots, nil
}

func (t *memTx) SetStockLotAmountLeft(ctx context.Context, lotID int64, amountLeft int) error {
	if err := t.fault("SetStockLotAmountLeft"); err != nil {
		return err
	}
	lot, ok := t.data.lots[lotID]
	if !ok {
		return fmt.Errorf("stock lot %d: %w", lotID, models.ErrNotFound)
	}
	if amountLeft < 0 || amountLeft > lot.AmountSupplied {
		return fmt.Errorf("check constraint stock_lots_amount_left_range violated for lot %d", lotID)
	}
	lot.AmountLeft = amountLeft
	t.data.lots[lotID] = lot
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := t.fault("InsertOrder"); err != nil {
		return err
	}
	t.data.nextID++
	order.ID = t.data.nextID
	order.CreatedAt = time.Now()
	order.InvoiceID = nil
	t.data.orders[order.ID] = *order
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, ok := t.data.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	return &order, nil
}

func (t *memTx) DeleteOrder(ctx context.Context, orderID int64) error {
	if err := t.fault("DeleteOrder"); err != nil {
		return err
	}
	order, ok := t.data.orders[orderID]
	if !ok || order.InvoiceID != nil {
		return fmt.Errorf("order %d: %w", orderID, models.ErrOrderAlreadyInvoiced)
	}
	delete(t.data.orders, orderID)
	return nil
}

func (t *memTx) LockSupplierInvoicing(ctx context.Context, supplierID int64) error {
	return t.fault("LockSupplierInvoicing")
}

func (t *memTx) LockUninvoicedOrders(ctx context.Context, supplierID int64) ([]models.BillableOrder, error) {
	return uninvoicedFor(t.data, supplierID), nil
}

func (t *memTx) InsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	if err := t.fault("InsertInvoice"); err != nil {
		return err
	}
	t.data.nextID++
	invoice.ID = t.data.nextID
	invoice.CreatedAt = time.Now()
	t.data.invoices[invoice.ID] = *invoice
	return nil
}

func (t *memTx) AssignOrdersToInvoice(ctx context.Context, invoiceID int64, orderIDs []int64) (int64, error) {
	if err := t.fault("AssignOrdersToInvoice"); err != nil {
		return 0, err
	}
	var stamped int64
	for _, id := range orderIDs {
		order, ok := t.data.orders[id]
		if !ok || order.InvoiceID != nil {
			continue
		}
		invID := invoiceID
		order.InvoiceID = &invID
		t.data.orders[id] = order
		stamped++
	}
	return stamped, nil
}

func (t *memTx) LockInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error) {
	invoice, ok := t.data.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, models.ErrNotFound)
	}
	return &invoice, nil
}

func (t *memTx) UpdateInvoicePayment(ctx context.Context, invoiceID int64, isPaid, isPaymentRequested bool) error {
	if err := t.fault("UpdateInvoicePayment"); err != nil {
		return err
	}
	invoice := t.data.invoices[invoiceID]
	invoice.IsPaid = isPaid
	invoice.IsPaymentRequested = isPaymentRequested
	t.data.invoices[invoiceID] = invoice
	return nil
}

func (t *memTx) IncrementInvoiceReminder(ctx context.Context, invoiceID int64, manual bool) error {
	invoice := t.data.invoices[invoiceID]
	if manual {
		invoice.ManualReminderCount++
	} else {
		invoice.AutoReminderCount++
	}
	t.data.invoices[invoiceID] = invoice
	return nil
}

// auditRecorder collects published audit events
type auditRecorder struct {
	mu     sync.Mutex
	events []*models.AuditEvent
	err    error
}

func (r *auditRecorder) PublishAudit(ctx context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *auditRecorder) ofType(eventType string) []*models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memIdempotency is an in-memory IdempotencyStore
type memIdempotency struct {
	mu      sync.Mutex
	records map[string]models.IdempotencyRecord
}

func (m *memIdempotency) GetRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (m *memIdempotency) SaveRecord(ctx context.Context, key string, record *models.IdempotencyRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[string]models.IdempotencyRecord{}
	}
	if _, ok := m.records[key]; !ok {
		m.records[key] = *record
	}
	return nil
}

func (m *memIdempotency) DeleteRecord(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}
