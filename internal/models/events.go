package models

import "time"

// Event types
const (
	EventTypeAuditRecorded     = "AUDIT_RECORDED"
	EventTypeAlertTriggered    = "PRICE_ALERT_TRIGGERED"
	EventTypeCampaignCompleted = "CAMPAIGN_COMPLETED"
	EventTypePricesImported    = "PRICES_IMPORTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditRecordedEvent carries an audit entry to the audit worker
type AuditRecordedEvent struct {
	BaseEvent
	Entry AuditLog `json:"entry"`
}

// AlertTriggeredEvent is published after a price-drop email went out
type AlertTriggeredEvent struct {
	BaseEvent
	AlertID      int64        `json:"alert_id"`
	MedicationID MedicationID `json:"medication_id"`
	Dosage       string       `json:"dosage,omitempty"`
	TargetPrice  float64      `json:"target_price"`
	Price        float64      `json:"price"`
	PharmacyName string       `json:"pharmacy_name"`
}

// CampaignCompletedEvent is published when a campaign finishes dispatching
type CampaignCompletedEvent struct {
	BaseEvent
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

// PricesImportedEvent is published after an ingestion run
type PricesImportedEvent struct {
	BaseEvent
	Medications int `json:"medications"`
	Pharmacies  int `json:"pharmacies"`
	Prices      int `json:"prices"`
}
