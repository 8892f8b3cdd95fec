package worker

import (
	"context"

	"medprice-service/internal/broker"
	"medprice-service/internal/models"
	"medprice-service/internal/util"

	"go.uber.org/zap"
)

// AuditPersister stores audit entries delivered by the audit topic
type AuditPersister interface {
	HandleAuditRecorded(ctx context.Context, event *models.AuditRecordedEvent) error
}

// MessageSource delivers topic messages to a handler until ctx ends
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// AuditWorker drains the audit topic into the audit log table
type AuditWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(consumer MessageSource, audit AuditPersister) *AuditWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnAuditRecorded(audit.HandleAuditRecorded)

	return &AuditWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.ComponentLogger("audit-worker"),
	}
}

// Start consumes until ctx is cancelled
func (w *AuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the consumer
func (w *AuditWorker) Stop() error {
	w.logger.Info("Stopping audit worker")
	return w.consumer.Close()
}
