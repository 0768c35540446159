package service

import (
	"context"
	"time"

	"fridge-service/internal/models"
	"fridge-service/internal/util"

	"go.uber.org/zap"
)

const defaultAuditTimeout = 5 * time.Second

// AuditSink publishes audit facts off the request path. Delivery is best
// effort: failures are logged and counted and never reach the caller.
type AuditSink struct {
	publisher AuditPublisher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAuditSink creates an audit sink; a nil publisher makes Emit a no-op
func NewAuditSink(publisher AuditPublisher, timeout time.Duration) *AuditSink {
	if timeout <= 0 {
		timeout = defaultAuditTimeout
	}
	return &AuditSink{
		publisher: publisher,
		timeout:   timeout,
		logger:    util.GetLogger(),
	}
}

// Emit hands events to the publisher in a background goroutine
func (a *AuditSink) Emit(events ...*models.AuditEvent) {
	if a == nil || a.publisher == nil || len(events) == 0 {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				util.AuditPublishFailedTotal.Inc()
				a.logger.Error("Audit publisher panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		for _, event := range events {
			if err := a.publisher.PublishAudit(ctx, event); err != nil {
				util.AuditPublishFailedTotal.Inc()
				a.logger.Warn("Failed to publish audit event",
					zap.String("event_type", event.EventType),
					zap.String("event_id", event.EventID),
					zap.Int64("aggregate_id", event.AggregateID),
					zap.Error(err))
			}
		}
	}()
}
