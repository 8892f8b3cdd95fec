package broker

import (
	"context"
	"testing"
	"time"

	"medprice-service/internal/models"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	keys   []string
	values [][]byte
}

func (c *capturePublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.keys = append(c.keys, key)
	c.values = append(c.values, b)
	return nil
}

func TestAuditEventRoundTrip(t *testing.T) {
	audit := &capturePublisher{}
	ep := NewEventPublisher(audit, &capturePublisher{})

	entry := models.NewAuditLog("evt-42", "admin", "pharmacy", "boots",
		models.PharmacyDeleteChanges{ID: "boots", Name: "Boots", PricesRemoved: 12},
		models.AuditMetadata{IPAddress: "10.0.0.1", Source: models.AuditSourceAdmin}, time.Now().UTC())

	require.NoError(t, ep.PublishAudit(context.Background(), entry))
	require.Len(t, audit.values, 1)
	assert.Equal(t, "pharmacy-boots", audit.keys[0])

	var received *models.AuditRecordedEvent
	handler := NewEventHandler()
	handler.OnAuditRecorded(func(_ context.Context, e *models.AuditRecordedEvent) error {
		received = e
		return nil
	})

	require.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: audit.values[0]}))
	require.NotNil(t, received)
	assert.Equal(t, "evt-42", received.EventID)
	assert.Equal(t, models.ActionPharmacyDelete, received.Entry.Action)

	changes, ok := received.Entry.Changes.(*models.PharmacyDeleteChanges)
	require.True(t, ok)
	assert.Equal(t, int64(12), changes.PricesRemoved)
}

func TestHandleMessageIgnoresUnknownTypes(t *testing.T) {
	handler := NewEventHandler()
	called := false
	handler.OnAuditRecorded(func(context.Context, *models.AuditRecordedEvent) error {
		called = true
		return nil
	})

	payload, err := json.Marshal(models.CampaignCompletedEvent{BaseEvent: NewBaseEvent(models.EventTypeCampaignCompleted)})
	require.NoError(t, err)

	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	assert.False(t, called)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	assert.Error(t, NewEventHandler().HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}
