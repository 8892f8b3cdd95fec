package models

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"time"
)

// Subscription statuses
const (
	SubscriptionActive       = "active"
	SubscriptionUnsubscribed = "unsubscribed"
	SubscriptionBounced      = "bounced"
)

// Subscription sources
const (
	SourcePopup    = "popup"
	SourceFooter   = "footer"
	SourceCheckout = "checkout"
	SourceManual   = "manual"
)

// Preferences selects which mailings a subscriber receives
type Preferences struct {
	PriceDrops     bool `json:"price_drops"`
	NewMedications bool `json:"new_medications"`
	Promotions     bool `json:"promotions"`
	WeeklyDigest   bool `json:"weekly_digest"`
}

// DefaultPreferences opts into everything but the weekly digest
func DefaultPreferences() Preferences {
	return Preferences{PriceDrops: true, NewMedications: true, Promotions: true}
}

func (p Preferences) Value() (driver.Value, error) { return jsonValue(p) }

func (p *Preferences) Scan(src interface{}) error { return jsonScan(src, p) }

// PreferencesPatch carries optional preference updates
type PreferencesPatch struct {
	PriceDrops     *bool `json:"price_drops"`
	NewMedications *bool `json:"new_medications"`
	Promotions     *bool `json:"promotions"`
	WeeklyDigest   *bool `json:"weekly_digest"`
}

// Apply merges the set fields of the patch into p
func (p Preferences) Apply(patch PreferencesPatch) Preferences {
	if patch.PriceDrops != nil {
		p.PriceDrops = *patch.PriceDrops
	}
	if patch.NewMedications != nil {
		p.NewMedications = *patch.NewMedications
	}
	if patch.Promotions != nil {
		p.Promotions = *patch.Promotions
	}
	if patch.WeeklyDigest != nil {
		p.WeeklyDigest = *patch.WeeklyDigest
	}
	return p
}

// EmailSubscription is unique per email. The unsubscribe token never changes once set.
type EmailSubscription struct {
	ID               int64       `db:"id" json:"id"`
	Email            string      `db:"email" json:"email"`
	Preferences      Preferences `db:"preferences" json:"preferences"`
	Status           string      `db:"status" json:"status"`
	Source           string      `db:"source" json:"source"`
	UnsubscribeToken string      `db:"unsubscribe_token" json:"-"`
	EmailsSentCount  int         `db:"emails_sent_count" json:"emails_sent_count"`
	LastEmailSent    *time.Time  `db:"last_email_sent" json:"last_email_sent,omitempty"`
	SubscribedAt     time.Time   `db:"subscribed_at" json:"subscribed_at"`
	UnsubscribedAt   *time.Time  `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
}

// NewSubscription builds an active subscription with a fresh unsubscribe token
func NewSubscription(email, source string, prefs Preferences, now time.Time) (*EmailSubscription, error) {
	token, err := NewUnsubscribeToken()
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = SourcePopup
	}
	return &EmailSubscription{
		Email:            NormalizeEmail(email),
		Preferences:      prefs,
		Status:           SubscriptionActive,
		Source:           source,
		UnsubscribeToken: token,
		SubscribedAt:     now,
	}, nil
}

// NewUnsubscribeToken returns 32 random bytes, hex encoded
func NewUnsubscribeToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate unsubscribe token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SubscriptionStats counts subscriptions by status and preference
type SubscriptionStats struct {
	Total          int64 `db:"total" json:"total"`
	Active         int64 `db:"active" json:"active"`
	Unsubscribed   int64 `db:"unsubscribed" json:"unsubscribed"`
	Bounced        int64 `db:"bounced" json:"bounced"`
	PriceDrops     int64 `db:"price_drops" json:"price_drops"`
	NewMedications int64 `db:"new_medications" json:"new_medications"`
	Promotions     int64 `db:"promotions" json:"promotions"`
	WeeklyDigest   int64 `db:"weekly_digest" json:"weekly_digest"`
}

// Campaign audiences
const (
	AudienceAll            = "all"
	AudiencePriceDrops     = "price_drops"
	AudienceNewMedications = "new_medications"
	AudiencePromotions     = "promotions"
	AudienceWeeklyDigest   = "weekly_digest"
	AudienceTest           = "test"
)

// ValidAudience reports whether a is a known audience
func ValidAudience(a string) bool {
	switch a {
	case AudienceAll, AudiencePriceDrops, AudienceNewMedications, AudiencePromotions, AudienceWeeklyDigest, AudienceTest:
		return true
	}
	return false
}

// Campaign statuses
const (
	CampaignDraft   = "draft"
	CampaignSending = "sending"
	CampaignSent    = "sent"
	CampaignFailed  = "failed"
)

// Recipient statuses
const (
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
	RecipientBounced = "bounced"
)

type PriceDropItem struct {
	MedicationName string  `json:"medication_name"`
	Dosage         string  `json:"dosage"`
	OldPrice       float64 `json:"old_price"`
	NewPrice       float64 `json:"new_price"`
	PharmacyName   string  `json:"pharmacy_name"`
	ChangeAmount   float64 `json:"change_amount"`
}

type NewMedicationItem struct {
	MedicationID   MedicationID `json:"medication_id"`
	MedicationName string       `json:"medication_name"`
	Dosage         []string     `json:"dosage"`
	Description    string       `json:"description"`
	LowestPrice    float64      `json:"lowest_price"`
	PharmacyName   string       `json:"pharmacy_name"`
}

type PromotionItem struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	MedicationName string `json:"medication_name"`
	PharmacyName   string `json:"pharmacy_name,omitempty"`
}

// CampaignContent is the structured body of a campaign
type CampaignContent struct {
	CustomText            string              `json:"custom_text"`
	IncludePriceDrops     bool                `json:"include_price_drops"`
	IncludeNewMedications bool                `json:"include_new_medications"`
	IncludePromotions     bool                `json:"include_promotions"`
	PriceDrops            []PriceDropItem     `json:"price_drops_data,omitempty"`
	NewMedications        []NewMedicationItem `json:"new_medications_data,omitempty"`
	Promotions            []PromotionItem     `json:"promotions_data,omitempty"`
}

func (c CampaignContent) Value() (driver.Value, error) { return jsonValue(c) }

func (c *CampaignContent) Scan(src interface{}) error { return jsonScan(src, c) }

// EmailCampaign is an admin mailing. Recipients are only ever appended.
type EmailCampaign struct {
	ID             string              `db:"id" json:"id"`
	Subject        string              `db:"subject" json:"subject"`
	Content        CampaignContent     `db:"content" json:"content"`
	TargetAudience string              `db:"target_audience" json:"target_audience"`
	RecipientCount int                 `db:"recipient_count" json:"recipient_count"`
	TestEmail      string              `db:"test_email" json:"test_email,omitempty"`
	SentBy         string              `db:"sent_by" json:"sent_by"`
	Status         string              `db:"status" json:"status"`
	TotalSent      int                 `db:"total_sent" json:"total_sent"`
	TotalFailed    int                 `db:"total_failed" json:"total_failed"`
	TotalBounced   int                 `db:"total_bounced" json:"total_bounced"`
	SentAt         time.Time           `db:"sent_at" json:"sent_at"`
	Recipients     []CampaignRecipient `db:"-" json:"recipients,omitempty"`
}

// CampaignRecipient records the delivery outcome for one address
type CampaignRecipient struct {
	CampaignID string    `db:"campaign_id" json:"-"`
	Email      string    `db:"email" json:"email"`
	SentAt     time.Time `db:"sent_at" json:"sent_at"`
	Status     string    `db:"status" json:"status"`
	Error      string    `db:"error" json:"error,omitempty"`
}
