package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// AuditAction enumerates what an audit entry records
type AuditAction string

const (
	ActionPriceUpdate      AuditAction = "price_update"
	ActionPriceBulkUpdate  AuditAction = "price_bulk_update"
	ActionPriceDelete      AuditAction = "price_delete"
	ActionMedicationCreate AuditAction = "medication_create"
	ActionMedicationUpdate AuditAction = "medication_update"
	ActionMedicationDelete AuditAction = "medication_delete"
	ActionPharmacyCreate   AuditAction = "pharmacy_create"
	ActionPharmacyUpdate   AuditAction = "pharmacy_update"
	ActionPharmacyDelete   AuditAction = "pharmacy_delete"
	ActionCategoryUpdate   AuditAction = "category_update"
	ActionUserLogin        AuditAction = "user_login"
	ActionDataImport       AuditAction = "data_import"
	ActionDataExport       AuditAction = "data_export"
	ActionBlogPostCreate   AuditAction = "create_blog_post"
	ActionBlogPostUpdate   AuditAction = "update_blog_post"
	ActionBlogPostDelete   AuditAction = "delete_blog_post"
	ActionBlogPublish      AuditAction = "toggle_blog_publish"
)

// Audit sources
const (
	AuditSourceAdmin        = "admin_dashboard"
	AuditSourceAPI          = "api"
	AuditSourceMigration    = "migration"
	AuditSourceGoogleSheets = "google_sheets"
)

// AuditChanges is the payload of an audit entry. Each action has its own variant.
type AuditChanges interface {
	Action() AuditAction
}

type PriceUpdateChanges struct {
	PriceID int64  `json:"price_id"`
	Before  *Price `json:"before,omitempty"`
	After   Price  `json:"after"`
}

func (PriceUpdateChanges) Action() AuditAction { return ActionPriceUpdate }

type PriceBulkUpdateChanges struct {
	Count         int            `json:"count"`
	Modified      int64          `json:"modified"`
	Upserted      int64          `json:"upserted"`
	MedicationIDs []MedicationID `json:"medication_ids"`
}

func (PriceBulkUpdateChanges) Action() AuditAction { return ActionPriceBulkUpdate }

type PriceDeleteChanges struct {
	Deleted Price `json:"deleted"`
}

func (PriceDeleteChanges) Action() AuditAction { return ActionPriceDelete }

type MedicationCreateChanges struct {
	Created Medication `json:"created"`
}

func (MedicationCreateChanges) Action() AuditAction { return ActionMedicationCreate }

type MedicationUpdateChanges struct {
	Before Medication `json:"before"`
	After  Medication `json:"after"`
}

func (MedicationUpdateChanges) Action() AuditAction { return ActionMedicationUpdate }

type MedicationDeleteChanges struct {
	ID   MedicationID `json:"id"`
	Name string       `json:"name"`
}

func (MedicationDeleteChanges) Action() AuditAction { return ActionMedicationDelete }

type PharmacyCreateChanges struct {
	Created Pharmacy `json:"created"`
}

func (PharmacyCreateChanges) Action() AuditAction { return ActionPharmacyCreate }

type PharmacyUpdateChanges struct {
	Before Pharmacy `json:"before"`
	After  Pharmacy `json:"after"`
}

func (PharmacyUpdateChanges) Action() AuditAction { return ActionPharmacyUpdate }

type PharmacyDeleteChanges struct {
	ID            PharmacyID `json:"id"`
	Name          string     `json:"name"`
	PricesRemoved int64      `json:"prices_removed"`
}

func (PharmacyDeleteChanges) Action() AuditAction { return ActionPharmacyDelete }

type CategoryUpdateChanges struct {
	CategoryID  string       `json:"category_id"`
	Name        string       `json:"name"`
	Subcategory *Subcategory `json:"subcategory,omitempty"`
}

func (CategoryUpdateChanges) Action() AuditAction { return ActionCategoryUpdate }

type UserLoginChanges struct {
	Username string `json:"username"`
	Success  bool   `json:"success"`
}

func (UserLoginChanges) Action() AuditAction { return ActionUserLogin }

type DataImportChanges struct {
	Source          string `json:"source"`
	Categories      int    `json:"categories"`
	Medications     int    `json:"medications"`
	Pharmacies      int    `json:"pharmacies"`
	Prices          int    `json:"prices"`
	SkippedSheets   int    `json:"skipped_sheets"`
	DuplicatePrices int    `json:"duplicate_prices"`
}

func (DataImportChanges) Action() AuditAction { return ActionDataImport }

type DataExportChanges struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

func (DataExportChanges) Action() AuditAction { return ActionDataExport }

type BlogPostCreateChanges struct {
	Created BlogPost `json:"created"`
}

func (BlogPostCreateChanges) Action() AuditAction { return ActionBlogPostCreate }

type BlogPostUpdateChanges struct {
	Before BlogPost `json:"before"`
	After  BlogPost `json:"after"`
}

func (BlogPostUpdateChanges) Action() AuditAction { return ActionBlogPostUpdate }

type BlogPostDeleteChanges struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

func (BlogPostDeleteChanges) Action() AuditAction { return ActionBlogPostDelete }

type BlogPublishChanges struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Published bool   `json:"published"`
}

func (BlogPublishChanges) Action() AuditAction { return ActionBlogPublish }

// DecodeAuditChanges decodes a payload into the variant registered for action
func DecodeAuditChanges(action AuditAction, raw []byte) (AuditChanges, error) {
	var changes AuditChanges
	switch action {
	case ActionPriceUpdate:
		changes = &PriceUpdateChanges{}
	case ActionPriceBulkUpdate:
		changes = &PriceBulkUpdateChanges{}
	case ActionPriceDelete:
		changes = &PriceDeleteChanges{}
	case ActionMedicationCreate:
		changes = &MedicationCreateChanges{}
	case ActionMedicationUpdate:
		changes = &MedicationUpdateChanges{}
	case ActionMedicationDelete:
		changes = &MedicationDeleteChanges{}
	case ActionPharmacyCreate:
		changes = &PharmacyCreateChanges{}
	case ActionPharmacyUpdate:
		changes = &PharmacyUpdateChanges{}
	case ActionPharmacyDelete:
		changes = &PharmacyDeleteChanges{}
	case ActionCategoryUpdate:
		changes = &CategoryUpdateChanges{}
	case ActionUserLogin:
		changes = &UserLoginChanges{}
	case ActionDataImport:
		changes = &DataImportChanges{}
	case ActionDataExport:
		changes = &DataExportChanges{}
	case ActionBlogPostCreate:
		changes = &BlogPostCreateChanges{}
	case ActionBlogPostUpdate:
		changes = &BlogPostUpdateChanges{}
	case ActionBlogPostDelete:
		changes = &BlogPostDeleteChanges{}
	case ActionBlogPublish:
		changes = &BlogPublishChanges{}
	default:
		return nil, fmt.Errorf("unknown audit action: %s", action)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return changes, nil
	}
	if err := json.Unmarshal(raw, changes); err != nil {
		return nil, fmt.Errorf("failed to decode %s changes: %w", action, err)
	}
	return changes, nil
}

// AuditMetadata describes where a change came from
type AuditMetadata struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Source    string `json:"source,omitempty"`
}

func (m AuditMetadata) Value() (driver.Value, error) { return jsonValue(m) }

func (m *AuditMetadata) Scan(src interface{}) error { return jsonScan(src, m) }

// AuditLog is append-only
type AuditLog struct {
	ID         int64         `db:"id" json:"id"`
	EventID    string        `db:"event_id" json:"event_id"`
	User       string        `db:"user_ref" json:"user"`
	Action     AuditAction   `db:"action" json:"action"`
	Entity     string        `db:"entity" json:"entity"`
	EntityID   string        `db:"entity_id" json:"entity_id,omitempty"`
	Changes    AuditChanges  `db:"-" json:"changes"`
	RawChanges []byte        `db:"changes" json:"-"`
	Metadata   AuditMetadata `db:"metadata" json:"metadata"`
	Timestamp  time.Time     `db:"timestamp" json:"timestamp"`
}

// NewAuditLog builds an entry whose action is taken from its changes
func NewAuditLog(eventID, user, entity, entityID string, changes AuditChanges, meta AuditMetadata, now time.Time) *AuditLog {
	return &AuditLog{
		EventID:   eventID,
		User:      user,
		Action:    changes.Action(),
		Entity:    entity,
		EntityID:  entityID,
		Changes:   changes,
		Metadata:  meta,
		Timestamp: now,
	}
}

// EncodeChanges fills RawChanges from Changes
func (a *AuditLog) EncodeChanges() error {
	if a.Changes == nil {
		a.RawChanges = []byte("null")
		return nil
	}
	if a.Changes.Action() != a.Action {
		return fmt.Errorf("changes for %s recorded under action %s", a.Changes.Action(), a.Action)
	}
	b, err := json.Marshal(a.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode audit changes: %w", err)
	}
	a.RawChanges = b
	return nil
}

// DecodeChanges fills Changes from RawChanges
func (a *AuditLog) DecodeChanges() error {
	changes, err := DecodeAuditChanges(a.Action, a.RawChanges)
	if err != nil {
		return err
	}
	a.Changes = changes
	return nil
}

// auditLogWire is the decoding shape of AuditLog with the changes left raw
type auditLogWire struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	User      string          `json:"user"`
	Action    AuditAction     `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Changes   json.RawMessage `json:"changes"`
	Metadata  AuditMetadata   `json:"metadata"`
	Timestamp time.Time       `json:"timestamp"`
}

// UnmarshalJSON restores the typed changes variant from the action field
func (a *AuditLog) UnmarshalJSON(data []byte) error {
	var w auditLogWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = AuditLog{
		ID:         w.ID,
		EventID:    w.EventID,
		User:       w.User,
		Action:     w.Action,
		Entity:     w.Entity,
		EntityID:   w.EntityID,
		RawChanges: []byte(w.Changes),
		Metadata:   w.Metadata,
		Timestamp:  w.Timestamp,
	}
	return a.DecodeChanges()
}
