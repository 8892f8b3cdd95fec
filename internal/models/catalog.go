package models

import (
	"math"
	"time"

	"github.com/lib/pq"
)

// MedicationID is the slug a medication is referenced by across tables
type MedicationID string

// PharmacyID is the slug a pharmacy is referenced by across tables
type PharmacyID string

// Medication represents a catalog entry
type Medication struct {
	ID          MedicationID   `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Category    string         `db:"category" json:"category"`
	Subcategory string         `db:"subcategory" json:"subcategory"`
	Description string         `db:"description" json:"description"`
	Dosage      pq.StringArray `db:"dosage" json:"dosage"`
	Form        string         `db:"form" json:"form"`
	Active      bool           `db:"active" json:"active"`
	SearchTerms pq.StringArray `db:"search_terms" json:"search_terms"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// NewMedication builds an active medication with an admin-derived slug
func NewMedication(name, category, subcategory, description, form string, dosage, searchTerms []string, now time.Time) *Medication {
	return &Medication{
		ID:          AdminMedicationSlug(name),
		Name:        name,
		Category:    category,
		Subcategory: subcategory,
		Description: description,
		Dosage:      pq.StringArray(dosage),
		Form:        form,
		Active:      true,
		SearchTerms: pq.StringArray(searchTerms),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasDosage reports whether the label is one of the medication's dosages
func (m *Medication) HasDosage(dosage string) bool {
	for _, d := range m.Dosage {
		if d == dosage {
			return true
		}
	}
	return false
}

// Pharmacy represents a retailer prices are collected from
type Pharmacy struct {
	ID                   PharmacyID `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name"`
	Website              string     `db:"website" json:"website"`
	Rating               float64    `db:"rating" json:"rating"`
	DeliveryTime         string     `db:"delivery_time" json:"delivery_time"`
	PrescriptionRequired bool       `db:"prescription_required" json:"prescription_required"`
	Logo                 string     `db:"logo" json:"logo,omitempty"`
	Active               bool       `db:"active" json:"active"`
	Verified             bool       `db:"verified" json:"verified"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	DefaultDeliveryTime = "1-3 days"
	MaxPharmacyRating   = 5
)

// NewPharmacy builds an active pharmacy with a slug derived from its name
func NewPharmacy(name, website string, rating float64, now time.Time) *Pharmacy {
	if website == "" {
		website = "#"
	}
	return &Pharmacy{
		ID:                   PharmacySlug(name),
		Name:                 name,
		Website:              website,
		Rating:               ClampRating(rating),
		DeliveryTime:         DefaultDeliveryTime,
		PrescriptionRequired: true,
		Active:               true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// ClampRating bounds a rating to [0, 5]
func ClampRating(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > MaxPharmacyRating {
		return MaxPharmacyRating
	}
	return r
}

// Price sources
const (
	PriceSourceManual       = "manual"
	PriceSourceGoogleSheets = "google_sheets"
	PriceSourceAPI          = "api"
	PriceSourceMigration    = "migration"
)

// Price is unique per (medication, pharmacy, dosage)
type Price struct {
	ID           int64        `db:"id" json:"id"`
	MedicationID MedicationID `db:"medication_id" json:"medication_id"`
	PharmacyID   PharmacyID   `db:"pharmacy_id" json:"pharmacy_id"`
	Dosage       string       `db:"dosage" json:"dosage"`
	Price        float64      `db:"price" json:"price"`
	Quantity     int          `db:"quantity" json:"quantity"`
	InStock      bool         `db:"in_stock" json:"in_stock"`
	Link         string       `db:"link" json:"link"`
	LastUpdated  time.Time    `db:"last_updated" json:"last_updated"`
	Source       string       `db:"source" json:"source"`
}

// RoundPrice rounds to whole cents, the precision prices are stored at
func RoundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}

// PriceKey identifies a price row by its natural key
type PriceKey struct {
	MedicationID MedicationID
	PharmacyID   PharmacyID
	Dosage       string
}

// Key returns the natural key of the price
func (p *Price) Key() PriceKey {
	return PriceKey{MedicationID: p.MedicationID, PharmacyID: p.PharmacyID, Dosage: p.Dosage}
}

// Category groups subcategories, which keep their insertion order
type Category struct {
	ID            string        `db:"id" json:"id"`
	Name          string        `db:"name" json:"name"`
	Description   string        `db:"description" json:"description"`
	SortOrder     int           `db:"sort_order" json:"order"`
	Active        bool          `db:"active" json:"active"`
	Subcategories []Subcategory `db:"-" json:"subcategories"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// Subcategory is keyed by (category_id, id)
type Subcategory struct {
	ID          string `db:"id" json:"id"`
	CategoryID  string `db:"category_id" json:"category_id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	SortOrder   int    `db:"sort_order" json:"order"`
	Active      bool   `db:"active" json:"active"`
}

// FindSubcategory returns the subcategory with the given id, if present
func (c *Category) FindSubcategory(id string) (*Subcategory, bool) {
	for i := range c.Subcategories {
		if c.Subcategories[i].ID == id {
			return &c.Subcategories[i], true
		}
	}
	return nil, false
}
