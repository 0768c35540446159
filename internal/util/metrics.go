package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StockLotsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_lots_added_total",
		Help: "Total number of stock lots added by suppliers",
	})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of locking and decrementing stock lots",
		Buckets: prometheus.DefBuckets,
	})

	StockReleaseClampedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_release_clamped_total",
		Help: "Releases that would have pushed amount_left above amount_supplied",
	})

	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of order rows created",
	}, []string{"channel"})

	PurchasesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_failed_total",
		Help: "Total number of failed purchase transactions",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled (storno) orders",
	})

	InvoicesGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoices_generated_total",
		Help: "Total number of invoices generated",
	}, []string{"kind"})

	InvoiceGenerationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "invoice_generation_latency_seconds",
		Help:    "Latency of invoice generation runs",
		Buckets: prometheus.DefBuckets,
	})

	InvoiceTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_transitions_total",
		Help: "Invoice payment state transitions by action and outcome",
	}, []string{"action", "outcome"})

	AuditPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_publish_failed_total",
		Help: "Audit events that could not be delivered to the broker",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
