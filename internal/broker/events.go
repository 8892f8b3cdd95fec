package broker

import (
	"context"
	"fmt"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/util"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is anything that can put a keyed event on a topic
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	audit  Publisher
	events Publisher
}

// NewEventPublisher creates a publisher writing audit entries and domain events to separate topics
func NewEventPublisher(audit, events Publisher) *EventPublisher {
	return &EventPublisher{audit: audit, events: events}
}

// PublishAudit publishes an audit entry keyed by its entity
func (ep *EventPublisher) PublishAudit(ctx context.Context, entry *models.AuditLog) error {
	event := &models.AuditRecordedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   entry.EventID,
			EventType: models.EventTypeAuditRecorded,
			Timestamp: entry.Timestamp,
		},
		Entry: *entry,
	}
	return ep.audit.PublishEvent(ctx, fmt.Sprintf("%s-%s", entry.Entity, entry.EntityID), event)
}

// PublishAlertTriggered publishes AlertTriggered event
func (ep *EventPublisher) PublishAlertTriggered(ctx context.Context, event *models.AlertTriggeredEvent) error {
	return ep.events.PublishEvent(ctx, fmt.Sprintf("alert-%d", event.AlertID), event)
}

// PublishCampaignCompleted publishes CampaignCompleted event
func (ep *EventPublisher) PublishCampaignCompleted(ctx context.Context, event *models.CampaignCompletedEvent) error {
	return ep.events.PublishEvent(ctx, "campaign-"+event.CampaignID, event)
}

// PublishPricesImported publishes PricesImported event
func (ep *EventPublisher) PublishPricesImported(ctx context.Context, event *models.PricesImportedEvent) error {
	return ep.events.PublishEvent(ctx, "import", event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onAuditRecorded func(context.Context, *models.AuditRecordedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnAuditRecorded registers a handler for AuditRecorded events
func (eh *EventHandler) OnAuditRecorded(handler func(context.Context, *models.AuditRecordedEvent) error) {
	eh.onAuditRecorded = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeAuditRecorded:
		if eh.onAuditRecorded != nil {
			var event models.AuditRecordedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AuditRecorded event: %w", err)
			}
			return eh.onAuditRecorded(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
