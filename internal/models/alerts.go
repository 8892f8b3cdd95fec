package models

import (
	"database/sql/driver"
	"strings"
	"time"
)

// Alert statuses. Only active alerts ever change state.
const (
	AlertStatusActive    = "active"
	AlertStatusTriggered = "triggered"
	AlertStatusCancelled = "cancelled"
	AlertStatusExpired   = "expired"
)

// AlertLifetime is how long an alert stays active without triggering
const AlertLifetime = 90 * 24 * time.Hour

// PharmacySnapshot is the cheapest pharmacy seen when an alert was last evaluated
type PharmacySnapshot struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func (s PharmacySnapshot) Value() (driver.Value, error) { return jsonValue(s) }

func (s *PharmacySnapshot) Scan(src interface{}) error { return jsonScan(src, s) }

// PriceAlert notifies an email address when a medication drops to a target price
type PriceAlert struct {
	ID             int64            `db:"id" json:"id"`
	Email          string           `db:"email" json:"email"`
	MedicationID   MedicationID     `db:"medication_id" json:"medication_id"`
	MedicationName string           `db:"medication_name" json:"medication_name"`
	Dosage         string           `db:"dosage" json:"dosage,omitempty"`
	CurrentPrice   float64          `db:"current_price" json:"current_price"`
	TargetPrice    float64          `db:"target_price" json:"target_price"`
	LowestPharmacy PharmacySnapshot `db:"lowest_pharmacy" json:"lowest_pharmacy"`
	Status         string           `db:"status" json:"status"`
	TriggeredAt    *time.Time       `db:"triggered_at" json:"triggered_at,omitempty"`
	ExpiresAt      time.Time        `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// NormalizeEmail lowercases and trims an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewPriceAlert builds an active alert expiring AlertLifetime after now
func NewPriceAlert(email string, medicationID MedicationID, medicationName, dosage string, currentPrice, targetPrice float64, now time.Time) *PriceAlert {
	return &PriceAlert{
		Email:          NormalizeEmail(email),
		MedicationID:   medicationID,
		MedicationName: medicationName,
		Dosage:         strings.TrimSpace(dosage),
		CurrentPrice:   currentPrice,
		TargetPrice:    targetPrice,
		Status:         AlertStatusActive,
		ExpiresAt:      now.Add(AlertLifetime),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal reports whether the alert can no longer change state
func (a *PriceAlert) IsTerminal() bool {
	return a.Status != AlertStatusActive
}

// ShouldTrigger is true when price is at or below the target
func (a *PriceAlert) ShouldTrigger(price float64) bool {
	return price <= a.TargetPrice
}

// Expired reports whether the alert is past its expiry at now
func (a *PriceAlert) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}
