package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fridge-service/internal/models"
	"fridge-service/internal/service"
	"fridge-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StockService is what the HTTP layer needs from the stock ledger
type StockService interface {
	AddStock(ctx context.Context, req *service.AddStockRequest) (*models.StockLot, error)
	GetStockLot(ctx context.Context, id int64) (*models.StockLot, error)
	ListStockLotsBySupplier(ctx context.Context, supplierID int64) ([]models.StockLot, error)
}

// OrderService is what the HTTP layer needs from order intake
type OrderService interface {
	Purchase(ctx context.Context, req *service.PurchaseRequest) (*models.Order, error)
	PurchaseBasket(ctx context.Context, req *service.BasketRequest) ([]models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID int64, uninvoicedOnly bool) ([]models.Order, error)
}

// CancellationService reverses orders
type CancellationService interface {
	StornoOrder(ctx context.Context, orderID int64) (*models.Order, error)
}

// InvoiceService is what the HTTP layer needs from the invoice ledger
type InvoiceService interface {
	GenerateInvoices(ctx context.Context, supplierID int64) ([]models.Invoice, error)
	GetUninvoicedSummary(ctx context.Context, supplierID int64) (*models.UninvoicedSummary, error)
	ApplyPaymentAction(ctx context.Context, invoiceID, actorID int64, action models.PaymentAction) (*models.Invoice, error)
	RecordReminder(ctx context.Context, invoiceID, actorID int64, manual bool) (*models.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int64) (*models.Invoice, error)
	ListInvoiceOrders(ctx context.Context, invoiceID int64) ([]models.Order, error)
	ListInvoicesByBuyer(ctx context.Context, buyerID int64) ([]models.Invoice, error)
	ListInvoicesBySupplier(ctx context.Context, supplierID int64) ([]models.Invoice, error)
}

// Pinger is a dependency the readiness probe checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	stock    StockService
	orders   OrderService
	storno   CancellationService
	invoices InvoiceService
	deps     map[string]Pinger
}

// NewHandler creates a new HTTP handler. deps are pinged by /ready.
func NewHandler(
	stock StockService,
	orders OrderService,
	storno CancellationService,
	invoices InvoiceService,
	deps map[string]Pinger,
) *Handler {
	return &Handler{
		stock:    stock,
		orders:   orders,
		storno:   storno,
		invoices: invoices,
		deps:     deps,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/stock-lots", h.addStock)
		v1.GET("/stock-lots/:id", h.getStockLot)

		v1.POST("/orders", h.purchase)
		v1.POST("/orders/basket", h.purchaseBasket)
		v1.GET("/orders/:id", h.getOrder)
		v1.DELETE("/orders/:id", h.stornoOrder)

		v1.GET("/buyers/:id/orders", h.listBuyerOrders)
		v1.GET("/buyers/:id/invoices", h.listBuyerInvoices)

		v1.GET("/suppliers/:id/stock-lots", h.listSupplierStockLots)
		v1.POST("/suppliers/:id/invoices", h.generateInvoices)
		v1.GET("/suppliers/:id/invoices", h.listSupplierInvoices)
		v1.GET("/suppliers/:id/uninvoiced", h.uninvoicedSummary)

		v1.GET("/invoices/:id", h.getInvoice)
		v1.GET("/invoices/:id/orders", h.listInvoiceOrders)
		v1.POST("/invoices/:id/payment", h.applyPaymentAction)
		v1.POST("/invoices/:id/reminders", h.sendReminder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) addStock(c *gin.Context) {
	var req service.AddStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	lot, err := h.stock.AddStock(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func (h *Handler) getStockLot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	lot, err := h.stock.GetStockLot(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

func (h *Handler) listSupplierStockLots(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	lots, err := h.stock.ListStockLotsBySupplier(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock_lots": lots})
}

// purchase handles a single-unit purchase
func (h *Handler) purchase(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.Purchase(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"order_id": order.ID,
		"order":    order,
	})
}

func (h *Handler) purchaseBasket(c *gin.Context) {
	var req service.BasketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	orders, err := h.orders.PurchaseBasket(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	c.JSON(http.StatusCreated, gin.H{
		"order_ids": ids,
		"orders":    orders,
	})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// stornoOrder cancels an uninvoiced order
func (h *Handler) stornoOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.storno.StornoOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": order})
}

func (h *Handler) listBuyerOrders(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	uninvoiced, err := queryBool(c, "uninvoiced")
	if err != nil {
		badRequest(c, err)
		return
	}
	orders, err := h.orders.ListOrdersByBuyer(c.Request.Context(), id, uninvoiced)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) generateInvoices(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	invoices, err := h.invoices.GenerateInvoices(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoices": invoices})
}

func (h *Handler) listSupplierInvoices(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	invoices, err := h.invoices.ListInvoicesBySupplier(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (h *Handler) listBuyerInvoices(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	invoices, err := h.invoices.ListInvoicesByBuyer(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (h *Handler) uninvoicedSummary(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	summary, err := h.invoices.GetUninvoicedSummary(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// invoiceView adds the derived status to an invoice
type invoiceView struct {
	*models.Invoice
	Status models.InvoiceStatus `json:"status"`
}

func (h *Handler) getInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	invoice, err := h.invoices.GetInvoice(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoiceView{Invoice: invoice, Status: invoice.Status()})
}

func (h *Handler) listInvoiceOrders(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	orders, err := h.invoices.ListInvoiceOrders(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type paymentActionRequest struct {
	ActorID int64                `json:"actor_id" binding:"required"`
	Action  models.PaymentAction `json:"action" binding:"required"`
}

// applyPaymentAction moves an invoice through the payment states
func (h *Handler) applyPaymentAction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req paymentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	invoice, err := h.invoices.ApplyPaymentAction(c.Request.Context(), id, req.ActorID, req.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoiceView{Invoice: invoice, Status: invoice.Status()})
}

type reminderRequest struct {
	ActorID int64 `json:"actor_id" binding:"required"`
}

// sendReminder records a manual reminder from the supplier
func (h *Handler) sendReminder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	invoice, err := h.invoices.RecordReminder(c.Request.Context(), id, req.ActorID, true)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoiceView{Invoice: invoice, Status: invoice.Status()})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, fmt.Errorf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func queryBool(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", name, err)
	}
	return v, nil
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
