package service

import (
	"context"
	"fmt"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditStore persists audit entries
type AuditStore interface {
	InsertAuditLog(ctx context.Context, entry *models.AuditLog) (bool, error)
	ListAuditLogs(ctx context.Context, f store.AuditFilter) ([]models.AuditLog, int64, error)
}

// AuditPublisher puts audit entries on the audit topic
type AuditPublisher interface {
	PublishAudit(ctx context.Context, entry *models.AuditLog) error
}

// AuditLogger records admin changes. Entries go through Kafka to the audit worker;
// when publishing fails they are written straight to the store.
type AuditLogger struct {
	store     AuditStore
	publisher AuditPublisher
	logger    *zap.Logger
}

// NewAuditLogger creates an audit logger; publisher may be nil
func NewAuditLogger(store AuditStore, publisher AuditPublisher) *AuditLogger {
	return &AuditLogger{
		store:     store,
		publisher: publisher,
		logger:    util.ComponentLogger("audit"),
	}
}

// Record writes an audit entry. It never fails the calling operation.
func (a *AuditLogger) Record(ctx context.Context, user, entity, entityID string, changes models.AuditChanges, meta models.AuditMetadata) {
	entry := models.NewAuditLog(uuid.New().String(), user, entity, entityID, changes, meta, time.Now().UTC())
	if err := entry.EncodeChanges(); err != nil {
		a.logger.Error("Failed to encode audit entry", zap.String("action", string(entry.Action)), zap.Error(err))
		util.AuditEventsTotal.WithLabelValues("failed").Inc()
		return
	}

	if a.publisher != nil {
		err := a.publisher.PublishAudit(ctx, entry)
		if err == nil {
			util.AuditEventsTotal.WithLabelValues("kafka").Inc()
			return
		}
		a.logger.Warn("Failed to publish audit entry, writing directly",
			zap.String("event_id", entry.EventID),
			zap.Error(err))
	}

	if err := a.Persist(ctx, entry); err != nil {
		a.logger.Error("Failed to write audit entry",
			zap.String("event_id", entry.EventID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		util.AuditEventsTotal.WithLabelValues("failed").Inc()
		return
	}
	util.AuditEventsTotal.WithLabelValues("direct").Inc()
}

// RecordAs is Record with the actor's identity
func (a *AuditLogger) RecordAs(ctx context.Context, actor Actor, entity, entityID string, changes models.AuditChanges) {
	a.Record(ctx, actor.User, entity, entityID, changes, actor.Meta)
}

// Persist stores an entry. Redelivered entries are ignored.
func (a *AuditLogger) Persist(ctx context.Context, entry *models.AuditLog) error {
	inserted, err := a.store.InsertAuditLog(ctx, entry)
	if err != nil {
		return err
	}
	if !inserted {
		a.logger.Debug("Audit entry already stored", zap.String("event_id", entry.EventID))
	}
	return nil
}

// HandleAuditRecorded persists an entry received from the audit topic
func (a *AuditLogger) HandleAuditRecorded(ctx context.Context, event *models.AuditRecordedEvent) error {
	if event.Entry.EventID == "" {
		event.Entry.EventID = event.EventID
	}
	return a.Persist(ctx, &event.Entry)
}

// AuditPage is a page of audit entries, newest first
type AuditPage struct {
	Logs       []models.AuditLog `json:"logs"`
	Pagination models.Page       `json:"pagination"`
}

// List returns audit entries matching the filters
func (a *AuditLogger) List(ctx context.Context, action, user, entity string, page, limit int) (*AuditPage, error) {
	page, limit, offset := normalizePage(page, limit)
	logs, total, err := a.store.ListAuditLogs(ctx, store.AuditFilter{
		Action: action,
		User:   user,
		Entity: entity,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return &AuditPage{Logs: logs, Pagination: models.NewPage(page, limit, total)}, nil
}
